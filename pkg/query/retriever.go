package query

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/ontograph/pkg/ai"
	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/graph"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/ontology"
	"github.com/OFFIS-RIT/ontograph/pkg/store"
)

const (
	DefaultSeedCount   = 10
	DefaultMaxNodes    = 50
	DefaultMaxEvidence = 3
)

// ErrEmptyQuery is returned for a blank query text.
var ErrEmptyQuery = errors.New("query: empty query")

// Snapshots opens readers on published tenant graphs.
type Snapshots interface {
	Reader(ctx context.Context, tenantID string) (store.GraphReader, error)
}

// Retriever answers queries with a ranked, size-bounded subgraph of the
// tenant graph.
//
// A Retriever should be created using NewRetriever.
type Retriever struct {
	snapshots    Snapshots
	embeddings   graph.Embeddings
	index        *ontology.KnowledgeIndex
	seedCount    int
	vectorWeight float64
	graphWeight  float64
	budget       int
	size         graph.SizeFunc
	maxEvidence  int
}

// NewRetrieverParams configures a Retriever.
//
// SeedCount defaults to 10. VectorWeight and GraphWeight weigh the two
// reciprocal rank fusion components; nil selects 1 and zero turns a
// component off. Budget bounds
// the rendered payload as measured by Size (rune count by default); zero
// disables the bound. Index is only used for class and property labels and
// may be nil.
type NewRetrieverParams struct {
	Snapshots    Snapshots
	Embeddings   graph.Embeddings
	Index        *ontology.KnowledgeIndex
	SeedCount    int
	VectorWeight *float64
	GraphWeight  *float64
	Budget       int
	Size         graph.SizeFunc
	MaxEvidence  int
}

func NewRetriever(params NewRetrieverParams) (*Retriever, error) {
	if params.Snapshots == nil {
		return nil, errors.New("query: snapshots are required")
	}
	if params.Embeddings == nil {
		return nil, errors.New("query: embeddings are required")
	}
	r := &Retriever{
		snapshots:    params.Snapshots,
		embeddings:   params.Embeddings,
		index:        params.Index,
		seedCount:    params.SeedCount,
		vectorWeight: 1,
		graphWeight:  1,
		budget:       max(params.Budget, 0),
		size:         params.Size,
		maxEvidence:  params.MaxEvidence,
	}
	if r.seedCount <= 0 {
		r.seedCount = DefaultSeedCount
	}
	if params.VectorWeight != nil {
		r.vectorWeight = *params.VectorWeight
	}
	if params.GraphWeight != nil {
		r.graphWeight = *params.GraphWeight
	}
	if r.vectorWeight < 0 || r.graphWeight < 0 {
		return nil, errors.New("query: rank weights must not be negative")
	}
	if r.vectorWeight == 0 && r.graphWeight == 0 {
		return nil, errors.New("query: at least one rank weight must be positive")
	}
	if r.size == nil {
		r.size = graph.RuneCount
	}
	if r.maxEvidence <= 0 {
		r.maxEvidence = DefaultMaxEvidence
	}
	return r, nil
}

type retrieveOptions struct {
	typeFilter []string
	tracer     Tracer
	budget     *int
	index      *ontology.KnowledgeIndex
}

// RetrieveOption is a functional option for a single retrieval.
type RetrieveOption func(*retrieveOptions)

// WithTypeFilter restricts seed entities to the given classes. Expansion
// is not restricted.
func WithTypeFilter(classIDs ...string) RetrieveOption {
	return func(o *retrieveOptions) {
		o.typeFilter = append(o.typeFilter, classIDs...)
	}
}

// WithTracer records seeds, expansion and truncation to t.
func WithTracer(t Tracer) RetrieveOption {
	return func(o *retrieveOptions) {
		o.tracer = t
	}
}

// WithBudget overrides the payload budget of the Retriever.
func WithBudget(budget int) RetrieveOption {
	return func(o *retrieveOptions) {
		o.budget = &budget
	}
}

// WithIndex overrides the label index, e.g. with the ontology version the
// graph was published with.
func WithIndex(index *ontology.KnowledgeIndex) RetrieveOption {
	return func(o *retrieveOptions) {
		o.index = index
	}
}

// Retrieve embeds queryText, searches seed entities, expands them
// breadth-first up to hops relation levels and at most maxNodes entities,
// ranks the result and renders it into a bounded payload.
//
// All reads go to one published graph version.
func (r *Retriever) Retrieve(
	ctx context.Context,
	tenantID string,
	queryText string,
	hops int,
	maxNodes int,
	opts ...RetrieveOption,
) (*Context, error) {
	options := retrieveOptions{index: r.index}
	for _, opt := range opts {
		opt(&options)
	}
	budget := r.budget
	if options.budget != nil {
		budget = max(*options.budget, 0)
	}

	queryText = strings.TrimSpace(queryText)
	if queryText == "" {
		return nil, ErrEmptyQuery
	}
	if tenantID == "" {
		return nil, errors.New("query: tenant id is required")
	}
	hops = max(hops, 0)
	if maxNodes <= 0 {
		maxNodes = DefaultMaxNodes
	}

	log := logger.Scope{Tag: "Retrieve"}.With("tenant_id", tenantID)

	vecs, err := r.embeddings.EmbedBatch(ctx, []string{queryText}, ai.TaskQuery)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("embedding query: got %d vectors", len(vecs))
	}

	reader, sg, entities, err := r.read(ctx, tenantID, vecs[0], hops, maxNodes, options)
	if errors.Is(err, store.ErrVersionPruned) {
		log.Debug("Graph version pruned while reading, reopening", "err", err)
		reader, sg, entities, err = r.read(ctx, tenantID, vecs[0], hops, maxNodes, options)
	}
	if err != nil {
		return nil, err
	}

	out := r.assemble(queryText, reader.Version(), sg, entities, options.index)
	dropped := out.truncate(budget, r.size)
	if dropped > 0 {
		record(options.tracer, TraceEvent{Kind: TraceEventTruncated, Dropped: dropped})
	}
	out.render()
	record(options.tracer, TraceEvent{Kind: TraceEventSourceIDs, SourceIDs: out.SourceIDs()})

	log.Debug("Retrieved subgraph",
		"graph_version", out.GraphVersion,
		"seeds", sg.seeds,
		"entities", len(out.Entities),
		"relations", len(out.Relations),
		"dropped", dropped,
	)
	return out, nil
}

// read collects the subgraph around the query vector from the current
// head version.
func (r *Retriever) read(
	ctx context.Context,
	tenantID string,
	vector []float32,
	hops int,
	maxNodes int,
	options retrieveOptions,
) (store.GraphReader, *subgraph, []common.Entity, error) {
	reader, err := r.snapshots.Reader(ctx, tenantID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening graph: %w", err)
	}

	// Vector scores are also used to rank expanded entities, so search
	// further than the seeds.
	hits, err := reader.SearchEntities(ctx, vector, max(r.seedCount, maxNodes), options.typeFilter)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("searching seeds: %w", err)
	}
	record(options.tracer, TraceEvent{Kind: TraceEventTypeFilter, EntityTypes: options.typeFilter})

	sg, err := expand(ctx, reader, hits, min(r.seedCount, maxNodes), hops, maxNodes, options.tracer)
	if err != nil {
		return nil, nil, nil, err
	}

	entities, err := reader.GetEntities(ctx, sg.order)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading entities: %w", err)
	}
	return reader, sg, entities, nil
}

// subgraph is the result of the breadth-first expansion.
type subgraph struct {
	order      []string
	candidates map[string]*candidate
	relations  map[string]common.Relation
	seeds      int
	hops       int
}

// expand walks relations breadth-first from the seeds. Every entity is
// visited once; expansion stops after hops levels or once maxNodes entities
// are retained. Relations are only kept if their endpoints are retained.
func expand(
	ctx context.Context,
	reader store.GraphReader,
	hits []store.SearchHit,
	seedCount int,
	hops int,
	maxNodes int,
	tracer Tracer,
) (*subgraph, error) {
	sg := &subgraph{
		candidates: make(map[string]*candidate, maxNodes),
		relations:  map[string]common.Relation{},
	}
	similarity := make(map[string]float64, len(hits))
	for _, h := range hits {
		similarity[h.EntityID] = h.Score
	}

	visit := func(id string, distance int) bool {
		if _, ok := sg.candidates[id]; ok || len(sg.order) >= maxNodes {
			return false
		}
		c := &candidate{ID: id, Distance: distance}
		c.Similarity, c.Searched = similarity[id]
		sg.candidates[id] = c
		sg.order = append(sg.order, id)
		return true
	}

	var frontier []string
	for _, h := range hits[:min(seedCount, len(hits))] {
		if visit(h.EntityID, 0) {
			frontier = append(frontier, h.EntityID)
		}
	}
	sg.seeds = len(frontier)
	record(tracer, TraceEvent{Kind: TraceEventSeedEntityIDs, EntityIDs: frontier})

	for level := 1; level <= hops && len(frontier) > 0 && len(sg.order) < maxNodes; level++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rels, err := reader.Neighbours(ctx, frontier)
		if err != nil {
			return nil, fmt.Errorf("expanding hop %d: %w", level, err)
		}

		var next []string
		for _, rel := range rels {
			for _, id := range endpoints(rel) {
				if visit(id, level) {
					next = append(next, id)
				}
			}
		}
		sg.hops = level
		record(tracer, TraceEvent{Kind: TraceEventExpandedEntityIDs, EntityIDs: next, Hop: level})
		frontier = next
	}

	// Neighbours of the last frontier may connect retained entities.
	rels, err := reader.Neighbours(ctx, sg.order)
	if err != nil {
		return nil, fmt.Errorf("loading relations: %w", err)
	}
	var relIDs []string
	for _, rel := range rels {
		if !sg.retains(rel) {
			continue
		}
		sg.relations[rel.ID] = rel
		relIDs = append(relIDs, rel.ID)
	}
	record(tracer, TraceEvent{Kind: TraceEventRelationIDs, RelationIDs: relIDs})
	return sg, nil
}

func endpoints(rel common.Relation) []string {
	out := []string{rel.SubjectID}
	if id, ok := rel.Object.EntityID(); ok {
		out = append(out, id)
	}
	return out
}

func (sg *subgraph) retains(rel common.Relation) bool {
	for _, id := range endpoints(rel) {
		if _, ok := sg.candidates[id]; !ok {
			return false
		}
	}
	return true
}

// assemble ranks entities and relations and fills the payload. A relation
// scores the mean of its endpoint scores.
func (r *Retriever) assemble(
	queryText string,
	version int64,
	sg *subgraph,
	entities []common.Entity,
	index *ontology.KnowledgeIndex,
) *Context {
	candidates := make([]candidate, 0, len(sg.order))
	for _, id := range sg.order {
		candidates = append(candidates, *sg.candidates[id])
	}
	scores := fuse(candidates, r.vectorWeight, r.graphWeight)

	byID := make(map[string]common.Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	out := &Context{Query: queryText, GraphVersion: version, Hops: sg.hops}
	for _, id := range rankIDs(sg.order, scores) {
		e, ok := byID[id]
		if !ok {
			continue
		}
		c := sg.candidates[id]
		labels := make([]string, 0, len(e.Types))
		for _, t := range e.TypeIDs() {
			labels = append(labels, index.Label(t))
		}
		out.Entities = append(out.Entities, RankedEntity{
			ID:         e.ID,
			Name:       e.SurfaceForm,
			Types:      labels,
			Score:      scores[id],
			Distance:   c.Distance,
			Similarity: c.Similarity,
			Attributes: e.Attributes,
			SameAs:     e.SameAs,
			Evidence:   provenance(e.Evidence, r.maxEvidence),
		})
	}

	names := make(map[string]string, len(out.Entities))
	for _, e := range out.Entities {
		names[e.ID] = e.Name
	}

	relIDs := make([]string, 0, len(sg.relations))
	relScores := make(map[string]float64, len(sg.relations))
	for id, rel := range sg.relations {
		ends := endpoints(rel)
		if slices.ContainsFunc(ends, func(id string) bool { _, ok := names[id]; return !ok }) {
			continue
		}
		sum := 0.0
		for _, e := range ends {
			sum += scores[e]
		}
		relScores[id] = sum / float64(len(ends))
		relIDs = append(relIDs, id)
	}
	for _, id := range rankIDs(relIDs, relScores) {
		rel := sg.relations[id]
		rr := RankedRelation{
			ID:          rel.ID,
			SubjectID:   rel.SubjectID,
			Subject:     names[rel.SubjectID],
			PredicateID: rel.Predicate,
			Predicate:   index.Label(rel.Predicate),
			Score:       relScores[id],
			Confidence:  rel.Confidence,
			Evidence:    provenance(rel.Evidence, r.maxEvidence),
		}
		if objID, ok := rel.Object.EntityID(); ok {
			rr.ObjectID = objID
			rr.Object = names[objID]
		} else {
			rr.Object = rel.Object.Value()
		}
		out.Relations = append(out.Relations, rr)
	}
	return out
}

// provenance keeps up to n spans, most confident first.
func provenance(spans []common.EvidenceSpan, n int) []Provenance {
	sorted := slices.Clone(spans)
	slices.SortStableFunc(sorted, func(a, b common.EvidenceSpan) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return strings.Compare(a.Key(), b.Key())
	})
	out := make([]Provenance, 0, min(n, len(sorted)))
	for _, s := range sorted[:min(n, len(sorted))] {
		out = append(out, Provenance{
			DocumentID: s.DocumentID,
			SourceURI:  s.SourceURI,
			Start:      s.Start,
			End:        s.End,
			Text:       s.Text,
		})
	}
	return out
}
