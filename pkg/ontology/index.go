package ontology

import (
	"slices"
	"strings"
)

// ClassDefinition is a class declared by an ontology document.
type ClassDefinition struct {
	ID         string
	Label      string
	Comment    string
	PrefLabel  string
	AltLabels  []string
	Parents    []string
	Children   []string
	Properties []string
}

// PropertyDefinition is a property declared by an ontology document.
// Inherited is set on the copies carried by subclasses of the declaring
// class.
type PropertyDefinition struct {
	ID        string   `json:"id"`
	Label     string   `json:"label,omitempty"`
	Comment   string   `json:"comment,omitempty"`
	Domain    []string `json:"domain,omitempty"`
	Range     []string `json:"range,omitempty"`
	Datatype  bool     `json:"datatype,omitempty"`
	Inherited bool     `json:"inherited,omitempty"`
}

// RangeAccepts reports whether an entity carrying one of the given classes is
// a valid object for the property. Properties without a declared range
// accept anything.
func (p PropertyDefinition) RangeAccepts(classIDs []string) bool {
	if len(p.Range) == 0 {
		return true
	}
	for _, r := range p.Range {
		if slices.Contains(classIDs, r) {
			return true
		}
	}
	return false
}

// KnowledgeUnit is the folded view of one class: its labels, direct
// neighbours and every property valid on it, including inherited ones.
type KnowledgeUnit struct {
	ClassID    string               `json:"class_id"`
	Label      string               `json:"label"`
	Comment    string               `json:"comment,omitempty"`
	AltLabels  []string             `json:"alt_labels,omitempty"`
	Parents    []string             `json:"parents,omitempty"`
	Children   []string             `json:"children,omitempty"`
	Properties []PropertyDefinition `json:"properties"`
}

// KnowledgeIndex maps class identifiers to knowledge units. An index is
// immutable once built and safe for concurrent reads.
//
// Indexes form a monoid under Combine with EmptyIndex as identity.
type KnowledgeIndex struct {
	version    string
	order      []string
	units      map[string]KnowledgeUnit
	properties map[string]PropertyDefinition
}

// EmptyIndex returns the identity of Combine.
func EmptyIndex() *KnowledgeIndex {
	return newIndex("", nil, map[string]KnowledgeUnit{})
}

func newIndex(version string, order []string, units map[string]KnowledgeUnit) *KnowledgeIndex {
	idx := &KnowledgeIndex{
		version:    version,
		order:      order,
		units:      units,
		properties: map[string]PropertyDefinition{},
	}
	for _, id := range order {
		for _, p := range units[id].Properties {
			if _, ok := idx.properties[p.ID]; !ok {
				p.Inherited = false
				idx.properties[p.ID] = p
			}
		}
	}
	return idx
}

// Combine returns the key-wise union of a and b. Units present in both are
// merged: labels from a take precedence, neighbour lists and property sets
// are unioned with duplicates removed by identifier.
func Combine(a, b *KnowledgeIndex) *KnowledgeIndex {
	if a == nil {
		a = EmptyIndex()
	}
	if b == nil {
		b = EmptyIndex()
	}

	order := slices.Clone(a.order)
	units := make(map[string]KnowledgeUnit, len(a.units)+len(b.units))
	for id, u := range a.units {
		units[id] = u
	}
	combineInto(&order, units, b.order, b.units)

	var versions []string
	for _, v := range []string{a.version, b.version} {
		if v != "" {
			versions = append(versions, v)
		}
	}
	return newIndex(strings.Join(versions, "+"), order, units)
}

func combineInto(order *[]string, units map[string]KnowledgeUnit, srcOrder []string, src map[string]KnowledgeUnit) {
	for _, id := range srcOrder {
		u := src[id]
		existing, ok := units[id]
		if !ok {
			*order = append(*order, id)
			units[id] = u
			continue
		}
		units[id] = mergeUnits(existing, u)
	}
}

func mergeUnits(a, b KnowledgeUnit) KnowledgeUnit {
	out := KnowledgeUnit{
		ClassID:   a.ClassID,
		Label:     a.Label,
		Comment:   a.Comment,
		AltLabels: unionStrings(a.AltLabels, b.AltLabels),
		Parents:   unionStrings(a.Parents, b.Parents),
		Children:  unionStrings(a.Children, b.Children),
	}
	if out.Label == "" {
		out.Label = b.Label
	}
	if out.Comment == "" {
		out.Comment = b.Comment
	}

	seen := make(map[string]bool, len(a.Properties)+len(b.Properties))
	for _, props := range [][]PropertyDefinition{a.Properties, b.Properties} {
		for _, p := range props {
			if seen[p.ID] {
				continue
			}
			seen[p.ID] = true
			out.Properties = append(out.Properties, p)
		}
	}
	return out
}

func unionStrings(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}

// Version identifies the ontology content the index was built from.
func (k *KnowledgeIndex) Version() string {
	if k == nil {
		return ""
	}
	return k.version
}

// Len returns the number of classes in the index.
func (k *KnowledgeIndex) Len() int {
	if k == nil {
		return 0
	}
	return len(k.order)
}

// Has reports whether the class is known to the index.
func (k *KnowledgeIndex) Has(classID string) bool {
	if k == nil {
		return false
	}
	_, ok := k.units[classID]
	return ok
}

// Get returns the knowledge unit of a class.
func (k *KnowledgeIndex) Get(classID string) (KnowledgeUnit, bool) {
	if k == nil {
		return KnowledgeUnit{}, false
	}
	u, ok := k.units[classID]
	return u, ok
}

// ClassIDs returns all class identifiers in topological order.
func (k *KnowledgeIndex) ClassIDs() []string {
	if k == nil {
		return nil
	}
	return slices.Clone(k.order)
}

// Units returns all knowledge units in topological order.
func (k *KnowledgeIndex) Units() []KnowledgeUnit {
	if k == nil {
		return nil
	}
	out := make([]KnowledgeUnit, 0, len(k.order))
	for _, id := range k.order {
		out = append(out, k.units[id])
	}
	return out
}

// Property returns the declaration of a property.
func (k *KnowledgeIndex) Property(propertyID string) (PropertyDefinition, bool) {
	if k == nil {
		return PropertyDefinition{}, false
	}
	p, ok := k.properties[propertyID]
	return p, ok
}

// PropertiesFor returns the union of properties valid on any of the given
// classes, deduplicated by identifier. Unknown classes are ignored.
func (k *KnowledgeIndex) PropertiesFor(classIDs ...string) []PropertyDefinition {
	if k == nil {
		return nil
	}
	var out []PropertyDefinition
	seen := map[string]bool{}
	for _, id := range classIDs {
		for _, p := range k.units[id].Properties {
			if !seen[p.ID] {
				seen[p.ID] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// Ancestors returns all transitive parents of a class, nearest first.
func (k *KnowledgeIndex) Ancestors(classID string) []string {
	if k == nil {
		return nil
	}
	var out []string
	seen := map[string]bool{classID: true}
	queue := slices.Clone(k.units[classID].Parents)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
		queue = append(queue, k.units[id].Parents...)
	}
	return out
}

// Label returns the display label of a class or property, falling back to
// the local name of its identifier.
func (k *KnowledgeIndex) Label(id string) string {
	if k != nil {
		if u, ok := k.units[id]; ok && u.Label != "" {
			return u.Label
		}
		if p, ok := k.properties[id]; ok && p.Label != "" {
			return p.Label
		}
	}
	return LocalName(id)
}

// LocalName returns the fragment or last path segment of an IRI.
func LocalName(iri string) string {
	if i := strings.LastIndexAny(iri, "#/:"); i >= 0 && i < len(iri)-1 {
		return iri[i+1:]
	}
	return iri
}
