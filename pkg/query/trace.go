package query

import (
	"slices"
	"sync"
)

type TraceEventKind string

const (
	TraceEventSeedEntityIDs     TraceEventKind = "seed_entity_ids"
	TraceEventExpandedEntityIDs TraceEventKind = "expanded_entity_ids"
	TraceEventRelationIDs       TraceEventKind = "relation_ids"
	TraceEventSourceIDs         TraceEventKind = "source_ids"
	TraceEventTypeFilter        TraceEventKind = "type_filter"
	TraceEventTruncated         TraceEventKind = "truncated"
)

// TraceEvent is an extensible event envelope for retrieval tracing.
// Additive changes to this struct are backward compatible for implementers.
type TraceEvent struct {
	Kind TraceEventKind

	EntityIDs   []string
	RelationIDs []string
	SourceIDs   []string
	EntityTypes []string
	Hop         int
	Dropped     int
}

// Tracer is a sink for retrieval tracing events.
//
// Implementers can forward events to logs, telemetry, or custom post-processing
// pipelines.
type Tracer interface {
	Record(event TraceEvent)
}

// MultiTracer fan-outs trace events to multiple tracers.
type MultiTracer []Tracer

func (m MultiTracer) Record(event TraceEvent) {
	for _, t := range m {
		if t == nil {
			continue
		}
		t.Record(event)
	}
}

func record(t Tracer, event TraceEvent) {
	if t == nil {
		return
	}
	t.Record(event)
}

// RetrievalTrace collects trace events into sets.
//
// RetrievalTrace is safe for concurrent use.
type RetrievalTrace struct {
	mu sync.Mutex

	seeds     map[string]struct{}
	expanded  map[string]struct{}
	relations map[string]struct{}
	sources   map[string]struct{}
	types     map[string]struct{}
	maxHop    int
	dropped   int
}

type RetrievalTraceSnapshot struct {
	SeedEntityIDs     []string
	ExpandedEntityIDs []string
	RelationIDs       []string
	SourceIDs         []string
	EntityTypes       []string
	MaxHop            int
	Dropped           int
}

func NewRetrievalTrace() *RetrievalTrace {
	return &RetrievalTrace{
		seeds:     make(map[string]struct{}),
		expanded:  make(map[string]struct{}),
		relations: make(map[string]struct{}),
		sources:   make(map[string]struct{}),
		types:     make(map[string]struct{}),
	}
}

func addAll(set map[string]struct{}, ids []string) {
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}
}

func (t *RetrievalTrace) Record(event TraceEvent) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch event.Kind {
	case TraceEventSeedEntityIDs:
		addAll(t.seeds, event.EntityIDs)
	case TraceEventExpandedEntityIDs:
		addAll(t.expanded, event.EntityIDs)
		if len(event.EntityIDs) > 0 {
			t.maxHop = max(t.maxHop, event.Hop)
		}
	case TraceEventRelationIDs:
		addAll(t.relations, event.RelationIDs)
	case TraceEventSourceIDs:
		addAll(t.sources, event.SourceIDs)
	case TraceEventTypeFilter:
		addAll(t.types, event.EntityTypes)
	case TraceEventTruncated:
		t.dropped += event.Dropped
	}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (t *RetrievalTrace) Snapshot() RetrievalTraceSnapshot {
	if t == nil {
		return RetrievalTraceSnapshot{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	return RetrievalTraceSnapshot{
		SeedEntityIDs:     sortedKeys(t.seeds),
		ExpandedEntityIDs: sortedKeys(t.expanded),
		RelationIDs:       sortedKeys(t.relations),
		SourceIDs:         sortedKeys(t.sources),
		EntityTypes:       sortedKeys(t.types),
		MaxHop:            t.maxHop,
		Dropped:           t.dropped,
	}
}
