package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/graph"
	"github.com/OFFIS-RIT/ontograph/pkg/loader"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/ontology"
	"github.com/OFFIS-RIT/ontograph/pkg/store"
)

// GraphProcessor runs an extraction and publishes the result.
type GraphProcessor interface {
	ProcessGraph(ctx context.Context, tenantID string, index *ontology.KnowledgeIndex, docs []common.Document) (*graph.RunReport, error)
}

// ExtractHandler processes extract_queue messages.
type ExtractHandler struct {
	graph     GraphProcessor
	storage   store.GraphStorage
	loader    loader.GraphFileLoader
	publisher Publisher

	indexes *ontology.Cache
}

type NewExtractHandlerParams struct {
	Graph     GraphProcessor
	Storage   store.GraphStorage
	Loader    loader.GraphFileLoader
	Publisher Publisher
}

func NewExtractHandler(params NewExtractHandlerParams) *ExtractHandler {
	return &ExtractHandler{
		graph:     params.Graph,
		storage:   params.Storage,
		loader:    params.Loader,
		publisher: params.Publisher,
		indexes:   ontology.NewCache(),
	}
}

// index returns the built index for the tenant's ontology.
func (h *ExtractHandler) index(ctx context.Context, tenantID, version string) (*ontology.KnowledgeIndex, error) {
	rec, err := h.storage.LoadOntology(ctx, tenantID, version)
	if err != nil {
		return nil, fmt.Errorf("load ontology: %w", err)
	}
	index, err := h.indexes.Load(rec.Version, rec.Document)
	if err != nil {
		return nil, fmt.Errorf("build ontology %s: %w", rec.Version, err)
	}
	return index, nil
}

func (h *ExtractHandler) documents(ctx context.Context, msg *ExtractJobMsg) ([]common.Document, error) {
	files := make([]loader.GraphFile, len(msg.Documents))
	for i, d := range msg.Documents {
		files[i] = loader.GraphFile{ID: d.ID, Path: d.Key, Text: d.Text, Loader: h.loader}
	}
	docs, err := loader.Documents(ctx, files)
	if err != nil {
		return nil, err
	}
	for i, d := range msg.Documents {
		if d.URI != "" {
			docs[i].URI = d.URI
		}
	}
	return docs, nil
}

// Process runs one extraction job. The update notification is published
// whenever the extraction ran, also when publishing the graph failed.
func (h *ExtractHandler) Process(ctx context.Context, body []byte) error {
	msg, err := ParseExtractJob(body)
	if err != nil {
		return err
	}
	log := logger.Scope{Tag: "Queue"}.With("tenant_id", msg.TenantID)

	index, err := h.index(ctx, msg.TenantID, msg.OntologyVersion)
	if err != nil {
		return err
	}
	docs, err := h.documents(ctx, msg)
	if err != nil {
		return err
	}

	log.Info("Processing extraction job", "documents", len(docs), "ontology_version", index.Version())
	report, runErr := h.graph.ProcessGraph(ctx, msg.TenantID, index, docs)
	if report == nil {
		return runErr
	}
	log.Info("Extraction finished", "run_id", report.RunID, "summary", report.Summary())
	for _, f := range report.Failures() {
		log.Warn("Chunk failed", "document_id", f.DocumentID, "index", f.Index, "stage", f.Stage, "attempts", f.Attempts, "reason", f.Reason)
	}

	event := GraphUpdatedMsg{
		TenantID:        msg.TenantID,
		RunID:           report.RunID,
		GraphVersion:    report.GraphVersion,
		OntologyVersion: report.OntologyVersion,
		Succeeded:       report.Succeeded(),
		Failed:          len(report.Failures()),
		Summary:         report.Summary(),
	}
	if runErr != nil {
		event.Error = runErr.Error()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if h.publisher != nil {
		if err := PublishTopic(h.publisher, GraphUpdatedTopic(msg.TenantID), data); err != nil {
			log.Warn("Failed to publish graph update", "err", err)
		}
	}
	return runErr
}
