package graph

import (
	"cmp"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"maps"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
)

// ErrTenantMismatch is returned by MergeChecked for graphs of different tenants.
var ErrTenantMismatch = errors.New("graph: cannot merge graphs of different tenants")

// TypeVoteMinShare is the default share of votes a type needs to survive PruneTypes.
const TypeVoteMinShare = 0.25

// Empty returns the identity element of Merge.
func Empty() common.KnowledgeGraph {
	return common.NewKnowledgeGraph("")
}

// NormalizeSurface folds case and whitespace so that "Acme  corp" and
// "ACME Corp" produce the same entity identifier.
func NormalizeSurface(s string) string {
	return strings.ToLower(strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " "))
}

func shortHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))[:24]
}

// EntityID derives the identifier of an entity from its tenant and surface form.
func EntityID(tenantID, surfaceForm string) string {
	return "ent_" + shortHash(tenantID, NormalizeSurface(surfaceForm))
}

// RelationID derives the identifier of a relation from its signature, so
// relations with equal signatures always collide in Merge.
func RelationID(tenantID string, sig common.RelationSignature) string {
	return "rel_" + shortHash(tenantID, sig.String())
}

// MergeChecked is Merge that refuses to combine data of two different tenants.
func MergeChecked(a, b common.KnowledgeGraph) (common.KnowledgeGraph, error) {
	if a.TenantID != "" && b.TenantID != "" && a.TenantID != b.TenantID {
		return common.KnowledgeGraph{}, ErrTenantMismatch
	}
	return Merge(a, b), nil
}

// Merge combines two graphs without modifying either of them.
//
// Entities with equal identifiers are combined field by field: type votes
// are summed, evidence spans unioned (a span seen twice keeps its highest
// confidence), attributes of a are only filled from b, grounding is the
// maximum and the earliest creation time wins. Relations with equal
// identifiers, and therefore equal signatures, union their evidence and
// keep the maximum confidence.
//
// Merge is associative and Empty() is its identity for normalized graphs.
// It is not commutative: surface forms and attributes prefer a.
func Merge(a, b common.KnowledgeGraph) common.KnowledgeGraph {
	out := common.KnowledgeGraph{
		TenantID:  firstNonEmpty(a.TenantID, b.TenantID),
		Entities:  make(map[string]common.Entity, len(a.Entities)+len(b.Entities)),
		Relations: make(map[string]common.Relation, len(a.Relations)+len(b.Relations)),
	}

	for id, e := range a.Entities {
		out.Entities[id] = normalizeEntity(e)
	}
	for id, e := range b.Entities {
		if prev, ok := out.Entities[id]; ok {
			out.Entities[id] = mergeEntity(prev, e)
			continue
		}
		out.Entities[id] = normalizeEntity(e)
	}

	for id, r := range a.Relations {
		out.Relations[id] = normalizeRelation(r)
	}
	for id, r := range b.Relations {
		if prev, ok := out.Relations[id]; ok {
			out.Relations[id] = mergeRelation(prev, r)
			continue
		}
		out.Relations[id] = normalizeRelation(r)
	}

	return out
}

// MergeAll folds graphs in order with a balanced reduction tree.
func MergeAll(graphs ...common.KnowledgeGraph) common.KnowledgeGraph {
	switch len(graphs) {
	case 0:
		return Empty()
	case 1:
		return Merge(Empty(), graphs[0])
	}
	mid := len(graphs) / 2
	return Merge(MergeAll(graphs[:mid]...), MergeAll(graphs[mid:]...))
}

// Normalize returns the canonical form of g that Merge produces.
func Normalize(g common.KnowledgeGraph) common.KnowledgeGraph {
	return Merge(Empty(), g)
}

func mergeEntity(x, y common.Entity) common.Entity {
	out := common.Entity{
		ID:          x.ID,
		TenantID:    firstNonEmpty(x.TenantID, y.TenantID),
		SurfaceForm: firstNonEmpty(x.SurfaceForm, y.SurfaceForm),
		Evidence:    mergeEvidence(x.Evidence, y.Evidence),
		Grounding:   maxGrounding(x.Grounding, y.Grounding),
		CreatedAt:   earliest(x.CreatedAt, y.CreatedAt),
		SameAs:      unionSorted(x.SameAs, y.SameAs),
	}

	if len(x.Types)+len(y.Types) > 0 {
		out.Types = make(map[string]int, len(x.Types)+len(y.Types))
		for t, n := range x.Types {
			out.Types[t] += n
		}
		for t, n := range y.Types {
			out.Types[t] += n
		}
	}

	if len(x.Attributes)+len(y.Attributes) > 0 {
		out.Attributes = maps.Clone(y.Attributes)
		if out.Attributes == nil {
			out.Attributes = make(map[string]string, len(x.Attributes))
		}
		maps.Copy(out.Attributes, x.Attributes)
	}

	return out
}

func normalizeEntity(e common.Entity) common.Entity {
	return mergeEntity(e, common.Entity{})
}

func mergeRelation(x, y common.Relation) common.Relation {
	return common.Relation{
		ID:         x.ID,
		TenantID:   firstNonEmpty(x.TenantID, y.TenantID),
		SubjectID:  x.SubjectID,
		Predicate:  x.Predicate,
		Object:     x.Object,
		Evidence:   mergeEvidence(x.Evidence, y.Evidence),
		Confidence: max(x.Confidence, y.Confidence),
	}
}

func normalizeRelation(r common.Relation) common.Relation {
	return mergeRelation(r, common.Relation{})
}

func compareSpans(a, b common.EvidenceSpan) int {
	return cmp.Or(
		cmp.Compare(a.DocumentID, b.DocumentID),
		cmp.Compare(a.Start, b.Start),
		cmp.Compare(a.End, b.End),
	)
}

// mergeEvidence returns the sorted union of both span lists. Spans with the
// same key collapse into one with the higher confidence; on equal
// confidence the first one seen is kept.
func mergeEvidence(x, y []common.EvidenceSpan) []common.EvidenceSpan {
	if len(x)+len(y) == 0 {
		return nil
	}
	byKey := make(map[string]common.EvidenceSpan, len(x)+len(y))
	for _, s := range slices.Concat(x, y) {
		k := s.Key()
		prev, ok := byKey[k]
		if !ok {
			byKey[k] = s
			continue
		}
		if s.Confidence > prev.Confidence {
			prev.Confidence = s.Confidence
		}
		if prev.Text == "" {
			prev.Text = s.Text
		}
		if prev.SourceURI == "" {
			prev.SourceURI = s.SourceURI
		}
		byKey[k] = prev
	}
	return slices.SortedFunc(maps.Values(byKey), compareSpans)
}

func unionSorted(x, y []string) []string {
	if len(x)+len(y) == 0 {
		return nil
	}
	out := slices.Concat(x, y)
	slices.Sort(out)
	return slices.Compact(out)
}

func maxGrounding(x, y *float64) *float64 {
	switch {
	case x == nil && y == nil:
		return nil
	case x == nil:
		v := *y
		return &v
	case y == nil || *x >= *y:
		v := *x
		return &v
	default:
		v := *y
		return &v
	}
}

func earliest(x, y time.Time) time.Time {
	switch {
	case x.IsZero():
		return y
	case y.IsZero():
		return x
	case y.Before(x):
		return y
	default:
		return x
	}
}

func firstNonEmpty(x, y string) string {
	if x != "" {
		return x
	}
	return y
}

// PruneTypes drops entity types that received less than minShare of an
// entity's votes. The most voted type is always kept.
func PruneTypes(g common.KnowledgeGraph, minShare float64) common.KnowledgeGraph {
	out := Normalize(g)
	for id, e := range out.Entities {
		if len(e.Types) < 2 {
			continue
		}
		total, best := 0, 0
		for _, n := range e.Types {
			total += n
			best = max(best, n)
		}
		if total == 0 {
			continue
		}
		kept := make(map[string]int, len(e.Types))
		for t, n := range e.Types {
			if n == best || float64(n)/float64(total) >= minShare {
				kept[t] = n
			}
		}
		e.Types = kept
		out.Entities[id] = e
	}
	return out
}
