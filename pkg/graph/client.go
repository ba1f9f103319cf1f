package graph

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/OFFIS-RIT/ontograph/internal/util"
	"github.com/OFFIS-RIT/ontograph/pkg/ai"
	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/ontology"
	"github.com/OFFIS-RIT/ontograph/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"golang.org/x/sync/errgroup"
)

// ErrNoOntology is returned before any extraction work when the run has no
// usable ontology index.
var ErrNoOntology = errors.New("graph: no ontology loaded")

// GraphClient runs the extraction pipeline: chunking, the extraction
// stages, merging, grounding, entity resolution and publishing.
//
// A GraphClient should be created using NewGraphClient.
type GraphClient struct {
	gen        ai.StructuredGenerator
	embeddings Embeddings
	storage    store.GraphStorage
	scorer     Scorer

	chunk             ChunkConfig
	parallelChunks    int
	parallelDocuments int
	backoff           util.Backoff

	groundingThreshold *float64
	resolveThreshold   *float64
	typeVoteMinShare   float64

	now func() time.Time
}

// NewGraphClientParams defines the configuration of a GraphClient.
//
// Generator and Embeddings are required. Storage is only needed by
// ProcessGraph. ParallelChunks bounds concurrent chunk extractions per
// document and ParallelDocuments bounds concurrent documents. MaxRetries
// is the number of retries per extraction stage call and defaults to 3;
// Backoff, when set, replaces the default backoff entirely. Scorer
// defaults to an EmbeddingScorer over Embeddings. A nil GroundingThreshold
// or ResolveThreshold selects the package default.
type NewGraphClientParams struct {
	Generator  ai.StructuredGenerator
	Embeddings Embeddings
	Storage    store.GraphStorage
	Scorer     Scorer

	Chunk             ChunkConfig
	ParallelChunks    int
	ParallelDocuments int
	MaxRetries        int
	Backoff           *util.Backoff

	GroundingThreshold *float64
	ResolveThreshold   *float64
	TypeVoteMinShare   float64
}

// NewGraphClient creates and returns a new GraphClient configured with
// the provided parameters.
//
// Example:
//
//	client, err := graph.NewGraphClient(graph.NewGraphClientParams{
//		Generator:      aiClient,
//		Embeddings:     embeddingService,
//		Storage:        graphStorage,
//		Chunk:          graph.ChunkConfig{MaxSize: 500, PreserveSentenceBoundaries: true},
//		ParallelChunks: 8,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
func NewGraphClient(params NewGraphClientParams) (*GraphClient, error) {
	if params.Generator == nil {
		return nil, errors.New("graph: generator is required")
	}
	if params.Embeddings == nil {
		return nil, errors.New("graph: embeddings are required")
	}

	maxRetries := params.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoff := util.DefaultBackoff()
	backoff.MaxRetries = maxRetries
	if params.Backoff != nil {
		backoff = *params.Backoff
	}

	c := &GraphClient{
		gen:                params.Generator,
		embeddings:         params.Embeddings,
		storage:            params.Storage,
		scorer:             params.Scorer,
		chunk:              params.Chunk,
		parallelChunks:     max(params.ParallelChunks, 1),
		parallelDocuments:  max(params.ParallelDocuments, 1),
		backoff:            backoff,
		groundingThreshold: params.GroundingThreshold,
		resolveThreshold:   params.ResolveThreshold,
		typeVoteMinShare:   params.TypeVoteMinShare,
		now:                time.Now,
	}
	if c.typeVoteMinShare <= 0 {
		c.typeVoteMinShare = TypeVoteMinShare
	}
	return c, nil
}

func (c *GraphClient) newReport(tenantID string, index *ontology.KnowledgeIndex) *RunReport {
	runID, err := gonanoid.New()
	if err != nil {
		runID = fmt.Sprintf("run-%d", c.now().UnixNano())
	}
	return &RunReport{
		RunID:           runID,
		TenantID:        tenantID,
		OntologyVersion: index.Version(),
		StartedAt:       c.now(),
	}
}

func (c *GraphClient) checkRun(tenantID string, index *ontology.KnowledgeIndex) error {
	if index == nil || index.Len() == 0 {
		return ErrNoOntology
	}
	if tenantID == "" {
		return errors.New("graph: tenant id is required")
	}
	return nil
}

// ExtractDocuments extracts, merges and grounds the given documents without
// touching storage. Failed chunks and documents are recorded in the report
// and contribute nothing to the graph. The report is returned even when
// err is non-nil.
func (c *GraphClient) ExtractDocuments(
	ctx context.Context,
	tenantID string,
	index *ontology.KnowledgeIndex,
	docs []common.Document,
) (common.KnowledgeGraph, *RunReport, error) {
	report := c.newReport(tenantID, index)
	g, err := c.extractDocuments(ctx, report, tenantID, index, docs)
	report.FinishedAt = c.now()
	return g, report, err
}

func (c *GraphClient) extractDocuments(
	ctx context.Context,
	report *RunReport,
	tenantID string,
	index *ontology.KnowledgeIndex,
	docs []common.Document,
) (common.KnowledgeGraph, error) {
	if err := c.checkRun(tenantID, index); err != nil {
		return common.NewKnowledgeGraph(tenantID), err
	}

	x := &extractor{
		gen:      c.gen,
		index:    index,
		backoff:  c.backoff,
		tenantID: tenantID,
		now:      c.now,
	}
	grounder := NewGrounder(NewGrounderParams{
		Embeddings: c.embeddings,
		Index:      index,
		Threshold:  c.groundingThreshold,
	})

	graphs := make([]common.KnowledgeGraph, len(docs))
	reports := make([]DocumentReport, len(docs))

	var eg errgroup.Group
	eg.SetLimit(c.parallelDocuments)
	for i, doc := range docs {
		eg.Go(func() error {
			graphs[i], reports[i] = c.processDocument(ctx, x, grounder, doc)
			return nil
		})
	}
	_ = eg.Wait()

	report.Documents = reports
	if err := ctx.Err(); err != nil {
		return common.NewKnowledgeGraph(tenantID), err
	}

	out := MergeAll(graphs...)
	out.TenantID = tenantID
	return out, nil
}

// processDocument extracts every unit of doc concurrently and folds the
// fragments in unit order. Chunk failures never cancel sibling chunks.
func (c *GraphClient) processDocument(
	ctx context.Context,
	x *extractor,
	grounder *Grounder,
	doc common.Document,
) (common.KnowledgeGraph, DocumentReport) {
	empty := common.NewKnowledgeGraph(x.tenantID)
	if doc.ID == "" {
		id, err := gonanoid.New()
		if err != nil {
			return empty, DocumentReport{Err: err.Error()}
		}
		doc.ID = id
	}
	rep := DocumentReport{DocumentID: doc.ID}
	log := logger.Scope{Tag: "Graph"}.With("tenant_id", x.tenantID, "document_id", doc.ID)

	var units []common.Unit
	for u := range Chunk(doc.Text, c.chunk) {
		id, err := gonanoid.New()
		if err != nil {
			rep.Err = err.Error()
			return empty, rep
		}
		u.ID = id
		u.DocumentID = doc.ID
		units = append(units, u)
	}
	log.Debug("Chunked document", "units", len(units))

	fragments := make([]common.KnowledgeGraph, len(units))
	rep.Chunks = make([]ChunkResult, len(units))

	var eg errgroup.Group
	eg.SetLimit(c.parallelChunks)
	for i, u := range units {
		eg.Go(func() error {
			fragments[i], rep.Chunks[i] = x.extractUnit(ctx, doc, u)
			if !rep.Chunks[i].Succeeded {
				log.Warn("Chunk extraction failed", "chunk", u.Index, "stage", rep.Chunks[i].Stage, "err", rep.Chunks[i].Reason)
			}
			return nil
		})
	}
	_ = eg.Wait()

	merged := PruneTypes(MergeAll(fragments...), c.typeVoteMinShare)
	merged.TenantID = x.tenantID

	grounded, dropped, err := grounder.Ground(ctx, merged, doc.Text)
	if err != nil {
		log.Error("Grounding failed", "err", err)
		rep.Err = err.Error()
		return empty, rep
	}
	rep.GroundingDropped = len(dropped)

	log.Info("Extracted document",
		"units", len(units),
		"entities", len(grounded.Entities),
		"relations", len(grounded.Relations),
		"grounding_dropped", len(dropped),
	)
	return grounded, rep
}

// ProcessGraph extracts docs and merges the result into the tenant graph.
// While holding the tenant writer lease it loads the current snapshot,
// merges, removes records the ontology no longer defines, resolves
// duplicates of the newly extracted entities, drops dangling relations,
// embeds entity profiles and publishes a new version.
//
// A report is always returned. Chunk failures are only recorded in it;
// storage, resolution and publish failures are returned as err.
func (c *GraphClient) ProcessGraph(
	ctx context.Context,
	tenantID string,
	index *ontology.KnowledgeIndex,
	docs []common.Document,
) (*RunReport, error) {
	report := c.newReport(tenantID, index)
	defer func() {
		report.FinishedAt = c.now()
	}()

	if c.storage == nil {
		return report, errors.New("graph: storage is required to publish")
	}

	extracted, err := c.extractDocuments(ctx, report, tenantID, index, docs)
	if err != nil {
		return report, err
	}

	log := logger.Scope{Tag: "Graph"}.With("tenant_id", tenantID, "run_id", report.RunID)
	err = c.storage.WithTenantLease(ctx, tenantID, func(ctx context.Context) error {
		snap, err := c.storage.LoadGraph(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("loading graph: %w", err)
		}

		merged, err := MergeChecked(snap.Graph, extracted)
		if err != nil {
			return err
		}
		merged.TenantID = tenantID

		merged, reconciled := Reconcile(merged, index)
		report.Reconciled = reconciled
		if reconciled != (ReconcileStats{}) {
			log.Warn("Removed records outside the ontology",
				"previous_ontology", snap.OntologyVersion,
				"types", reconciled.TypesPruned,
				"entities", reconciled.EntitiesDropped,
				"relations", reconciled.RelationsDropped,
			)
		}

		resolved, stats, err := c.resolver(index).ResolveTouched(ctx, merged, extracted.EntityIDs())
		if err != nil {
			return fmt.Errorf("resolving entities: %w", err)
		}
		report.Resolved = stats

		final, dangling := DropDangling(resolved)
		report.DanglingDropped = dangling
		if dangling > 0 {
			log.Warn("Dropped dangling relations", "count", dangling)
		}
		for _, v := range Validate(final, index) {
			log.Debug("Graph violation", "record", v.RecordID, "problem", v.Problem)
		}

		vectors, err := c.entityVectors(ctx, final, index)
		if err != nil {
			return fmt.Errorf("embedding entities: %w", err)
		}

		version, err := c.storage.PublishGraph(ctx, tenantID, final, vectors, index.Version())
		if err != nil {
			return fmt.Errorf("publishing graph: %w", err)
		}
		report.GraphVersion = version
		report.Entities = len(final.Entities)
		report.Relations = len(final.Relations)
		return nil
	})
	if err != nil {
		log.Error("Run failed", "err", err)
		return report, err
	}

	log.Info("Run finished", "summary", report.Summary())
	return report, nil
}

func (c *GraphClient) resolver(index *ontology.KnowledgeIndex) *Resolver {
	scorer := c.scorer
	if scorer == nil {
		scorer = EmbeddingScorer{Embeddings: c.embeddings, Index: index}
	}
	return NewResolver(NewResolverParams{Scorer: scorer, Threshold: c.resolveThreshold})
}

// entityVectors embeds the profile of every entity for vector search.
func (c *GraphClient) entityVectors(
	ctx context.Context,
	g common.KnowledgeGraph,
	index *ontology.KnowledgeIndex,
) (map[string][]float32, error) {
	ids := g.EntityIDs()
	if len(ids) == 0 {
		return nil, nil
	}
	profiles := make([]string, len(ids))
	for i, id := range ids {
		profiles[i] = EntityProfile(g.Entities[id], index)
	}
	vecs, err := c.embeddings.EmbedBatch(ctx, profiles, ai.TaskDocument)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]float32, len(ids))
	for i, id := range ids {
		out[id] = slices.Clone(vecs[i])
	}
	return out, nil
}
