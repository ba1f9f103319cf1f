package graph

import (
	"fmt"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/ontology"
)

// Violation describes one broken graph invariant.
type Violation struct {
	RecordID string
	Problem  string
}

func (v Violation) String() string {
	return v.RecordID + ": " + v.Problem
}

// Validate checks that every relation references existing entities, that
// all records belong to the graph tenant, that confidences lie in [0,1]
// and that every entity has at least one type. With a non-nil index, types
// and predicates must also be known to it. Violations are returned in
// identifier order.
func Validate(g common.KnowledgeGraph, index *ontology.KnowledgeIndex) []Violation {
	var out []Violation
	add := func(id, format string, args ...any) {
		out = append(out, Violation{RecordID: id, Problem: fmt.Sprintf(format, args...)})
	}

	for _, id := range g.EntityIDs() {
		e := g.Entities[id]
		if e.ID != id {
			add(id, "keyed under a different id than %q", e.ID)
		}
		if g.TenantID != "" && e.TenantID != g.TenantID {
			add(id, "tenant %q differs from graph tenant %q", e.TenantID, g.TenantID)
		}
		if len(e.Types) == 0 {
			add(id, "entity has no type")
		}
		if index != nil {
			for _, t := range e.TypeIDs() {
				if !index.Has(t) {
					add(id, "unknown class %q", t)
				}
			}
		}
		if gv := e.GroundingValue(); gv < 0 || gv > 1 {
			add(id, "grounding %v out of range", gv)
		}
	}

	for _, id := range g.RelationIDs() {
		r := g.Relations[id]
		if r.ID != id {
			add(id, "keyed under a different id than %q", r.ID)
		}
		if g.TenantID != "" && r.TenantID != g.TenantID {
			add(id, "tenant %q differs from graph tenant %q", r.TenantID, g.TenantID)
		}
		if _, ok := g.Entities[r.SubjectID]; !ok {
			add(id, "dangling subject %q", r.SubjectID)
		}
		if obj, ok := r.Object.EntityID(); ok {
			if _, ok := g.Entities[obj]; !ok {
				add(id, "dangling object %q", obj)
			}
		}
		if !r.Object.Valid() {
			add(id, "relation has no object")
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			add(id, "confidence %v out of range", r.Confidence)
		}
		if index != nil {
			if _, ok := index.Property(r.Predicate); !ok {
				add(id, "unknown predicate %q", r.Predicate)
			}
		}
	}
	return out
}

// DropDangling removes relations whose subject or entity object is not in
// the graph and returns the number removed.
func DropDangling(g common.KnowledgeGraph) (common.KnowledgeGraph, int) {
	out := Normalize(g)
	dropped := 0
	for id, r := range out.Relations {
		_, subjectOK := out.Entities[r.SubjectID]
		objectOK := true
		if obj, ok := r.Object.EntityID(); ok {
			_, objectOK = out.Entities[obj]
		}
		if !subjectOK || !objectOK {
			delete(out.Relations, id)
			dropped++
		}
	}
	return out, dropped
}

// ReconcileStats counts what Reconcile removed.
type ReconcileStats struct {
	TypesPruned      int `json:"types_pruned"`
	EntitiesDropped  int `json:"entities_dropped"`
	RelationsDropped int `json:"relations_dropped"`
}

// Reconcile restricts g to the vocabulary of index. Unknown classes are
// removed from entity type sets, entities left without a type are dropped,
// and relations with an unknown predicate or a dropped endpoint go with
// them. A nil index leaves g unchanged.
func Reconcile(g common.KnowledgeGraph, index *ontology.KnowledgeIndex) (common.KnowledgeGraph, ReconcileStats) {
	var stats ReconcileStats
	out := Normalize(g)
	if index == nil {
		return out, stats
	}

	for id, e := range out.Entities {
		kept := make(map[string]int, len(e.Types))
		for t, n := range e.Types {
			if index.Has(t) {
				kept[t] = n
				continue
			}
			stats.TypesPruned++
		}
		if len(kept) == 0 {
			delete(out.Entities, id)
			stats.EntitiesDropped++
			continue
		}
		if len(kept) != len(e.Types) {
			e.Types = kept
			out.Entities[id] = e
		}
	}

	for id, r := range out.Relations {
		if _, ok := index.Property(r.Predicate); !ok {
			delete(out.Relations, id)
			stats.RelationsDropped++
		}
	}
	out, dangling := DropDangling(out)
	stats.RelationsDropped += dangling
	return out, stats
}
