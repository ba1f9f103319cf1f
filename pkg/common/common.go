package common

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// KnowledgeGraph is a set of entities plus a set of relations scoped to a
// single tenant. All records are owned by the graph; relations reference
// entities by identifier only.
//
// Entities are keyed by Entity.ID, relations by Relation.ID (which is derived
// from the relation signature, see RelationSignature).
type KnowledgeGraph struct {
	TenantID  string              `json:"tenant_id"`
	Entities  map[string]Entity   `json:"entities"`
	Relations map[string]Relation `json:"relations"`
}

// NewKnowledgeGraph returns an empty graph for the given tenant.
func NewKnowledgeGraph(tenantID string) KnowledgeGraph {
	return KnowledgeGraph{
		TenantID:  tenantID,
		Entities:  map[string]Entity{},
		Relations: map[string]Relation{},
	}
}

// IsEmpty reports whether the graph holds no records at all.
func (g KnowledgeGraph) IsEmpty() bool {
	return len(g.Entities) == 0 && len(g.Relations) == 0
}

// EntityIDs returns the entity identifiers in sorted order.
func (g KnowledgeGraph) EntityIDs() []string {
	return slices.Sorted(maps.Keys(g.Entities))
}

// RelationIDs returns the relation identifiers in sorted order.
func (g KnowledgeGraph) RelationIDs() []string {
	return slices.Sorted(maps.Keys(g.Relations))
}

// EvidenceSpan is a provenance pointer from an extracted fact back to the
// source text supporting it. Start and End are byte offsets into the source
// document (End exclusive).
type EvidenceSpan struct {
	Text       string  `json:"text"`
	Start      int     `json:"start"`
	End        int     `json:"end"`
	DocumentID string  `json:"document_id"`
	SourceURI  string  `json:"source_uri,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Key identifies a span independent of its confidence.
func (s EvidenceSpan) Key() string {
	return fmt.Sprintf("%s|%d|%d", s.DocumentID, s.Start, s.End)
}

// Entity represents a node in the knowledge graph.
//
// Types maps ontology class identifiers to the number of fragments that
// voted for that class. An entity always carries at least one type.
// SameAs lists identifiers of entities that were merged into this one by
// entity resolution.
type Entity struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	Types       map[string]int    `json:"types"`
	SurfaceForm string            `json:"surface_form"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Evidence    []EvidenceSpan    `json:"evidence,omitempty"`
	Grounding   *float64          `json:"grounding,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	SameAs      []string          `json:"same_as,omitempty"`
}

// TypeIDs returns the class identifiers of the entity in sorted order.
func (e Entity) TypeIDs() []string {
	return slices.Sorted(maps.Keys(e.Types))
}

// HasType reports whether the entity carries the given class.
func (e Entity) HasType(classID string) bool {
	_, ok := e.Types[classID]
	return ok
}

// SharesType reports whether both entities carry at least one common class.
func (e Entity) SharesType(other Entity) bool {
	for t := range e.Types {
		if other.HasType(t) {
			return true
		}
	}
	return false
}

// GroundingValue returns the grounding confidence or 0 if unset.
func (e Entity) GroundingValue() float64 {
	if e.Grounding == nil {
		return 0
	}
	return *e.Grounding
}

// Relation represents a directed edge from a subject entity to an object,
// which is either a literal value or another entity.
type Relation struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	SubjectID  string         `json:"subject_id"`
	Predicate  string         `json:"predicate"`
	Object     RelationObject `json:"object"`
	Evidence   []EvidenceSpan `json:"evidence,omitempty"`
	Confidence float64        `json:"confidence"`
}

// RelationSignature is the deduplication key of a relation.
type RelationSignature struct {
	SubjectID string
	Predicate string
	Object    string
}

// Signature returns the deduplication key of the relation.
func (r Relation) Signature() RelationSignature {
	return RelationSignature{
		SubjectID: r.SubjectID,
		Predicate: r.Predicate,
		Object:    r.Object.Repr(),
	}
}

func (s RelationSignature) String() string {
	return s.SubjectID + "\x1f" + s.Predicate + "\x1f" + s.Object
}

// ObjectKind discriminates the variants of RelationObject.
type ObjectKind int

const (
	ObjectLiteral ObjectKind = iota + 1
	ObjectEntity
)

func (k ObjectKind) String() string {
	switch k {
	case ObjectLiteral:
		return "literal"
	case ObjectEntity:
		return "entity"
	default:
		return "invalid"
	}
}

// RelationObject is the object of a relation: either a literal value or a
// reference to an entity identifier. Construct it with Literal or EntityRef.
type RelationObject struct {
	kind  ObjectKind
	value string
}

// Literal returns a literal relation object.
func Literal(value string) RelationObject {
	return RelationObject{kind: ObjectLiteral, value: value}
}

// EntityRef returns a relation object referencing an entity.
func EntityRef(entityID string) RelationObject {
	return RelationObject{kind: ObjectEntity, value: entityID}
}

// Kind returns the variant of the object.
func (o RelationObject) Kind() ObjectKind {
	return o.kind
}

// Value returns the literal value or the referenced entity identifier.
func (o RelationObject) Value() string {
	return o.value
}

// EntityID returns the referenced entity identifier if the object is an
// entity reference.
func (o RelationObject) EntityID() (string, bool) {
	if o.kind != ObjectEntity {
		return "", false
	}
	return o.value, true
}

// Repr returns a representation that distinguishes literals from entity
// references with the same value. The zero RelationObject is "invalid:".
func (o RelationObject) Repr() string {
	switch o.kind {
	case ObjectLiteral:
		return "lit:" + o.value
	case ObjectEntity:
		return "ent:" + o.value
	default:
		return "invalid:" + o.value
	}
}

// Valid reports whether o was built by Literal or EntityRef.
func (o RelationObject) Valid() bool {
	return o.kind == ObjectLiteral || o.kind == ObjectEntity
}

type relationObjectJSON struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

func (o RelationObject) MarshalJSON() ([]byte, error) {
	return json.Marshal(relationObjectJSON{Kind: o.kind.String(), Value: o.value})
}

func (o *RelationObject) UnmarshalJSON(data []byte) error {
	var raw relationObjectJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Kind {
	case "literal":
		*o = Literal(raw.Value)
	case "entity":
		*o = EntityRef(raw.Value)
	default:
		return fmt.Errorf("unknown relation object kind %q", raw.Kind)
	}
	return nil
}

// Document is a source text submitted for extraction.
type Document struct {
	ID   string `json:"id"`
	URI  string `json:"uri,omitempty"`
	Text string `json:"text"`
}

// Unit represents a contiguous segment of a document produced by the chunker.
//
// Start and End are byte offsets into the document. The first Overlap bytes
// of Text repeat the tail of the previous unit, so Text[Overlap:] of
// consecutive units concatenates back to the original document.
type Unit struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Index      int    `json:"index"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Overlap    int    `json:"overlap"`
	Text       string `json:"text"`
}

// Fresh returns the part of the unit not shared with the previous unit.
func (u Unit) Fresh() string {
	return u.Text[u.Overlap:]
}

// Embedding is a cached vector for a piece of text. Entries are write-once;
// a provider or model change produces a new key.
type Embedding struct {
	Key       string    `json:"key"`
	Vector    []float32 `json:"vector"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Task      string    `json:"task"`
	CreatedAt time.Time `json:"created_at"`
}
