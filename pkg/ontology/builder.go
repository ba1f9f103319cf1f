package ontology

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
)

// Load parses an ontology document and builds its knowledge index.
func Load(document string) (*KnowledgeIndex, error) {
	store, err := Parse(document)
	if err != nil {
		return nil, err
	}
	return Build(store)
}

// Definitions holds the classes and properties extracted from a triple
// store, in order of first appearance.
type Definitions struct {
	Classes    []ClassDefinition
	Properties []PropertyDefinition
}

// Build folds the class hierarchy of store into a knowledge index.
//
// Classes are visited roots first. Each class inherits the properties of its
// parents in parent declaration order, so when two parents carry the same
// property the later parent's definition wins. Properties declared on the
// class itself always override inherited ones. Properties without a domain
// are attached to every root class.
func Build(store *TripleStore) (*KnowledgeIndex, error) {
	defs, err := Extract(store)
	if err != nil {
		return nil, err
	}

	order, err := topoSort(defs.Classes)
	if err != nil {
		return nil, err
	}

	classes := make(map[string]ClassDefinition, len(defs.Classes))
	for _, c := range defs.Classes {
		classes[c.ID] = c
	}
	props := make(map[string]PropertyDefinition, len(defs.Properties))
	for _, p := range defs.Properties {
		props[p.ID] = p
	}

	folded := make(map[string]KnowledgeUnit, len(order))
	idxOrder := make([]string, 0, len(order))
	idxUnits := make(map[string]KnowledgeUnit, len(order))
	for _, id := range order {
		c := classes[id]
		parents := make([]KnowledgeUnit, 0, len(c.Parents))
		for _, p := range c.Parents {
			parents = append(parents, folded[p])
		}
		unit := foldClass(c, parents, props)
		folded[id] = unit
		combineInto(&idxOrder, idxUnits, []string{id}, map[string]KnowledgeUnit{id: unit})
	}

	return newIndex(storeVersion(store), idxOrder, idxUnits), nil
}

// foldClass attaches the inherited properties of the already folded parents
// and then the class-local properties.
func foldClass(c ClassDefinition, parents []KnowledgeUnit, props map[string]PropertyDefinition) KnowledgeUnit {
	var list []PropertyDefinition
	pos := map[string]int{}
	put := func(p PropertyDefinition) {
		if i, ok := pos[p.ID]; ok {
			list[i] = p
			return
		}
		pos[p.ID] = len(list)
		list = append(list, p)
	}

	for _, parent := range parents {
		for _, p := range parent.Properties {
			p.Inherited = true
			put(p)
		}
	}
	for _, id := range c.Properties {
		p := props[id]
		p.Inherited = false
		put(p)
	}

	label := c.PrefLabel
	if label == "" {
		label = c.Label
	}
	if label == "" {
		label = LocalName(c.ID)
	}

	return KnowledgeUnit{
		ClassID:    c.ID,
		Label:      label,
		Comment:    c.Comment,
		AltLabels:  slices.Clone(c.AltLabels),
		Parents:    slices.Clone(c.Parents),
		Children:   slices.Clone(c.Children),
		Properties: list,
	}
}

func isClassType(iri string) bool {
	return iri == OWLClass || iri == RDFSClass
}

func isPropertyType(iri string) bool {
	return iri == OWLObjectProp || iri == OWLDatatypeProp || iri == RDFProperty
}

func isTopClass(iri string) bool {
	return iri == OWLThing || iri == RDFSResource
}

// Extract collects class and property definitions from subclass, domain,
// range and label axioms.
func Extract(store *TripleStore) (*Definitions, error) {
	var classOrder, propOrder []string
	classes := map[string]*ClassDefinition{}
	properties := map[string]*PropertyDefinition{}

	class := func(id string) *ClassDefinition {
		c, ok := classes[id]
		if !ok {
			c = &ClassDefinition{ID: id}
			classes[id] = c
			classOrder = append(classOrder, id)
		}
		return c
	}
	property := func(id string) *PropertyDefinition {
		p, ok := properties[id]
		if !ok {
			p = &PropertyDefinition{ID: id}
			properties[id] = p
			propOrder = append(propOrder, id)
		}
		return p
	}
	requireIRI := func(t Triple) error {
		if t.Object.Kind != TermIRI {
			return &MalformedDocumentError{
				Line:   t.Pos.Line,
				Column: t.Pos.Column,
				Offset: t.Pos.Offset,
				Msg:    fmt.Sprintf("%s expects an IRI object", LocalName(t.Predicate.Value)),
			}
		}
		return nil
	}

	for _, t := range store.Triples {
		subj := t.Subject.Value
		switch t.Predicate.Value {
		case RDFType:
			switch {
			case isClassType(t.Object.Value):
				class(subj)
			case isPropertyType(t.Object.Value):
				p := property(subj)
				if t.Object.Value == OWLDatatypeProp {
					p.Datatype = true
				}
			}
		case RDFSSubClassOf:
			if err := requireIRI(t); err != nil {
				return nil, err
			}
			c := class(subj)
			if isTopClass(t.Object.Value) {
				continue
			}
			parent := class(t.Object.Value)
			if !slices.Contains(c.Parents, parent.ID) {
				c.Parents = append(c.Parents, parent.ID)
				parent.Children = append(parent.Children, c.ID)
			}
		case RDFSDomain:
			if err := requireIRI(t); err != nil {
				return nil, err
			}
			p := property(subj)
			if !slices.Contains(p.Domain, t.Object.Value) && !isTopClass(t.Object.Value) {
				p.Domain = append(p.Domain, t.Object.Value)
				class(t.Object.Value)
			}
		case RDFSRange:
			if err := requireIRI(t); err != nil {
				return nil, err
			}
			p := property(subj)
			if !slices.Contains(p.Range, t.Object.Value) {
				p.Range = append(p.Range, t.Object.Value)
			}
		}
	}

	// Labels are applied in a second pass so they attach regardless of
	// whether they precede the declaration.
	for _, t := range store.Triples {
		if t.Object.Kind != TermLiteral || !preferredLang(t.Object.Lang) {
			continue
		}
		c, isClass := classes[t.Subject.Value]
		p, isProp := properties[t.Subject.Value]
		switch t.Predicate.Value {
		case RDFSLabel:
			if isClass && c.Label == "" {
				c.Label = t.Object.Value
			}
			if isProp && p.Label == "" {
				p.Label = t.Object.Value
			}
		case RDFSComment:
			if isClass && c.Comment == "" {
				c.Comment = t.Object.Value
			}
			if isProp && p.Comment == "" {
				p.Comment = t.Object.Value
			}
		case SKOSPrefLabel:
			if isClass && c.PrefLabel == "" {
				c.PrefLabel = t.Object.Value
			}
		case SKOSAltLabel:
			if isClass {
				c.AltLabels = append(c.AltLabels, t.Object.Value)
			}
		}
	}

	defs := &Definitions{}
	var roots []string
	for _, id := range classOrder {
		if len(classes[id].Parents) == 0 {
			roots = append(roots, id)
		}
	}
	for _, id := range propOrder {
		p := properties[id]
		if p.Label == "" {
			p.Label = LocalName(id)
		}
		owners := p.Domain
		if len(owners) == 0 {
			owners = roots
		}
		for _, owner := range owners {
			c := classes[owner]
			c.Properties = append(c.Properties, id)
		}
		defs.Properties = append(defs.Properties, *p)
	}
	for _, id := range classOrder {
		defs.Classes = append(defs.Classes, *classes[id])
	}
	return defs, nil
}

func preferredLang(lang string) bool {
	return lang == "" || lang == "en" || len(lang) > 2 && lang[:3] == "en-"
}

// topoSort orders classes so that every class follows all of its parents.
// Ties are broken by declaration order.
func topoSort(classes []ClassDefinition) ([]string, error) {
	indegree := make(map[string]int, len(classes))
	byID := make(map[string]ClassDefinition, len(classes))
	for _, c := range classes {
		byID[c.ID] = c
		indegree[c.ID] = len(c.Parents)
	}

	var queue, order []string
	for _, c := range classes {
		if indegree[c.ID] == 0 {
			queue = append(queue, c.ID)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, child := range byID[id].Children {
			indegree[child]--
			if indegree[child] == 0 {
				queue = append(queue, child)
			}
		}
	}

	if len(order) == len(classes) {
		return order, nil
	}
	return nil, &CycleDetectedError{Cycle: findCycle(classes, indegree)}
}

// findCycle walks parent edges among the classes left unsorted. Every such
// class has at least one unsorted parent, so the walk must revisit a class.
func findCycle(classes []ClassDefinition, indegree map[string]int) []string {
	byID := make(map[string]ClassDefinition, len(classes))
	var start string
	for _, c := range classes {
		byID[c.ID] = c
		if start == "" && indegree[c.ID] > 0 {
			start = c.ID
		}
	}

	visited := map[string]int{}
	var path []string
	for cur := start; ; {
		if i, ok := visited[cur]; ok {
			return append(slices.Clone(path[i:]), cur)
		}
		visited[cur] = len(path)
		path = append(path, cur)
		for _, p := range byID[cur].Parents {
			if indegree[p] > 0 {
				cur = p
				break
			}
		}
	}
}

func storeVersion(store *TripleStore) string {
	h := sha256.New()
	for _, t := range store.Triples {
		fmt.Fprintf(h, "%s\x1f%s\x1f%d\x1f%s\x1f%s\x1f%s\n",
			t.Subject.Value, t.Predicate.Value, t.Object.Kind, t.Object.Value, t.Object.Lang, t.Object.Datatype)
	}
	return hex.EncodeToString(h.Sum(nil))
}
