package graph

import (
	"fmt"
	"time"
)

// Extraction stages as reported in ChunkResult.Stage.
const (
	StageMentions  = "detect_mentions"
	StageTyping    = "type_entities"
	StageRelations = "extract_relations"
)

// ChunkResult is the outcome of extracting one unit. A failed chunk
// contributes an empty fragment; Reason holds the error message.
type ChunkResult struct {
	DocumentID string `json:"document_id"`
	UnitID     string `json:"unit_id"`
	Index      int    `json:"index"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Succeeded  bool   `json:"succeeded"`
	Stage      string `json:"stage,omitempty"`
	Attempts   int    `json:"attempts"`
	Reason     string `json:"reason,omitempty"`
	Entities   int    `json:"entities"`
	Relations  int    `json:"relations"`

	Err error `json:"-"`
}

// DocumentReport collects the chunk outcomes of one document.
type DocumentReport struct {
	DocumentID       string        `json:"document_id"`
	Chunks           []ChunkResult `json:"chunks"`
	GroundingDropped int           `json:"grounding_dropped"`
	Err              string        `json:"error,omitempty"`
}

// RunReport summarizes an extraction run. It is produced even when chunks
// or documents fail.
type RunReport struct {
	RunID           string           `json:"run_id"`
	TenantID        string           `json:"tenant_id"`
	OntologyVersion string           `json:"ontology_version"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      time.Time        `json:"finished_at"`
	Documents       []DocumentReport `json:"documents"`
	DanglingDropped int              `json:"dangling_dropped"`
	Reconciled      ReconcileStats   `json:"reconciled"`
	Resolved        ResolveStats     `json:"resolved"`
	Entities        int              `json:"entities"`
	Relations       int              `json:"relations"`
	GraphVersion    int64            `json:"graph_version"`
}

// Succeeded returns the number of chunks extracted without error.
func (r *RunReport) Succeeded() int {
	n := 0
	for _, d := range r.Documents {
		for _, c := range d.Chunks {
			if c.Succeeded {
				n++
			}
		}
	}
	return n
}

// Failures returns every failed chunk.
func (r *RunReport) Failures() []ChunkResult {
	var out []ChunkResult
	for _, d := range r.Documents {
		for _, c := range d.Chunks {
			if !c.Succeeded {
				out = append(out, c)
			}
		}
	}
	return out
}

// GroundingDropped returns the number of relations dropped by grounding.
func (r *RunReport) GroundingDropped() int {
	n := 0
	for _, d := range r.Documents {
		n += d.GroundingDropped
	}
	return n
}

// Summary renders a one-line description of the run.
func (r *RunReport) Summary() string {
	return fmt.Sprintf(
		"%d chunks succeeded, %d failed; %d relations dropped by grounding, %d dangling; %d entities and %d relations outside the ontology; %d entities merged; graph version %d",
		r.Succeeded(), len(r.Failures()), r.GroundingDropped(), r.DanglingDropped,
		r.Reconciled.EntitiesDropped, r.Reconciled.RelationsDropped, r.Resolved.Merged, r.GraphVersion,
	)
}
