package ontology

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Agent -> {Person, Organization}; Person -> Employee; Employee and
// Contractor -> Consultant (diamond over Person).
const diamondOntology = `
@prefix ex: <http://example.org/onto#> .

ex:Agent a owl:Class ; rdfs:label "Agent" .
ex:Person a owl:Class ; rdfs:subClassOf ex:Agent .
ex:Organization a owl:Class ; rdfs:subClassOf ex:Agent .
ex:Employee a owl:Class ; rdfs:subClassOf ex:Person .
ex:Contractor a owl:Class ; rdfs:subClassOf ex:Person .
ex:Consultant a owl:Class ; rdfs:subClassOf ex:Employee , ex:Contractor ; skos:prefLabel "Consultant (external)" .

ex:name a owl:DatatypeProperty ; rdfs:domain ex:Agent ; rdfs:range xsd:string .
ex:birthDate a owl:DatatypeProperty ; rdfs:domain ex:Person ; rdfs:range xsd:date .
ex:worksFor a owl:ObjectProperty ; rdfs:domain ex:Employee ; rdfs:range ex:Organization .
ex:rate a owl:DatatypeProperty ; rdfs:domain ex:Contractor ; rdfs:range xsd:decimal .
ex:billedTo a owl:ObjectProperty ; rdfs:domain ex:Consultant ; rdfs:range ex:Organization .
ex:note a rdf:Property .
`

func propertyIDs(props []PropertyDefinition) []string {
	out := make([]string, 0, len(props))
	for _, p := range props {
		out = append(out, p.ID)
	}
	return out
}

func TestBuildDiamond(t *testing.T) {
	idx, err := Load(diamondOntology)
	require.NoError(t, err)

	assert.Equal(t, []string{
		ex + "Agent", ex + "Person", ex + "Organization",
		ex + "Employee", ex + "Contractor", ex + "Consultant",
	}, idx.ClassIDs())

	unit, ok := idx.Get(ex + "Consultant")
	require.True(t, ok)
	assert.Equal(t, "Consultant (external)", unit.Label)
	assert.Equal(t, []string{
		ex + "name", ex + "note", ex + "birthDate", ex + "worksFor", ex + "rate", ex + "billedTo",
	}, propertyIDs(unit.Properties))

	for _, p := range unit.Properties {
		assert.Equal(t, p.ID != ex+"billedTo", p.Inherited, p.ID)
	}

	agent, _ := idx.Get(ex + "Agent")
	assert.Equal(t, []string{ex + "name", ex + "note"}, propertyIDs(agent.Properties))
	assert.False(t, agent.Properties[0].Inherited)
	assert.Equal(t, []string{ex + "Person", ex + "Organization"}, agent.Children)

	assert.ElementsMatch(t, []string{ex + "Employee", ex + "Contractor", ex + "Person", ex + "Agent"}, idx.Ancestors(ex+"Consultant"))
	worksFor, ok := idx.Property(ex + "worksFor")
	require.True(t, ok)
	assert.Equal(t, []string{ex + "Organization"}, worksFor.Range)
	assert.False(t, worksFor.Inherited)
}

func TestBuildSharedPropertyDeduplicated(t *testing.T) {
	doc := `
@prefix ex: <http://example.org/onto#> .
ex:A a owl:Class .
ex:B a owl:Class .
ex:C a owl:Class ; rdfs:subClassOf ex:A , ex:B .
ex:D a owl:Class ; rdfs:subClassOf ex:A , ex:B .
ex:p rdfs:domain ex:A ; rdfs:range ex:X .
ex:p rdfs:domain ex:B .
ex:q rdfs:domain ex:A .
ex:D2 a owl:Class ; rdfs:subClassOf ex:D .
`
	idx, err := Load(doc)
	require.NoError(t, err)

	c, _ := idx.Get(ex + "C")
	assert.Equal(t, []string{ex + "p", ex + "q"}, propertyIDs(c.Properties))
	for _, p := range c.Properties {
		assert.True(t, p.Inherited)
	}
}

func TestBuildLaterParentWins(t *testing.T) {
	// Parent units differ only through the fold, so exercise foldClass
	// directly with divergent parent definitions.
	a := KnowledgeUnit{ClassID: "A", Properties: []PropertyDefinition{{ID: "p", Range: []string{"X"}}}}
	b := KnowledgeUnit{ClassID: "B", Properties: []PropertyDefinition{{ID: "p", Range: []string{"Y"}}}}
	own := map[string]PropertyDefinition{"q": {ID: "q"}}

	unit := foldClass(ClassDefinition{ID: "C", Parents: []string{"A", "B"}, Properties: []string{"q"}}, []KnowledgeUnit{a, b}, own)
	require.Len(t, unit.Properties, 2)
	assert.Equal(t, []string{"Y"}, unit.Properties[0].Range)

	unit = foldClass(ClassDefinition{ID: "C", Parents: []string{"B", "A"}}, []KnowledgeUnit{b, a}, own)
	assert.Equal(t, []string{"X"}, unit.Properties[0].Range)

	override := map[string]PropertyDefinition{"p": {ID: "p", Range: []string{"Z"}}}
	unit = foldClass(ClassDefinition{ID: "C", Parents: []string{"A", "B"}, Properties: []string{"p"}}, []KnowledgeUnit{a, b}, override)
	assert.Equal(t, []string{"Z"}, unit.Properties[0].Range)
	assert.False(t, unit.Properties[0].Inherited)
}

func TestBuildCycle(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		cycle []string
	}{
		{
			name: "three classes",
			doc: `@prefix ex: <http://example.org/onto#> .
ex:Root a owl:Class .
ex:A rdfs:subClassOf ex:Root , ex:C .
ex:B rdfs:subClassOf ex:A .
ex:C rdfs:subClassOf ex:B .`,
			cycle: []string{ex + "A", ex + "C", ex + "B", ex + "A"},
		},
		{
			name:  "self loop",
			doc:   `@prefix ex: <http://example.org/onto#> . ex:A rdfs:subClassOf ex:A .`,
			cycle: []string{ex + "A", ex + "A"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.doc)
			var cerr *CycleDetectedError
			require.True(t, errors.As(err, &cerr), "expected CycleDetectedError, got %v", err)
			assert.Equal(t, tt.cycle, cerr.Cycle)
		})
	}
}

func TestBuildLiteralSuperclass(t *testing.T) {
	_, err := Load(`@prefix ex: <http://example.org/onto#> .
ex:A rdfs:subClassOf "B" .`)
	var merr *MalformedDocumentError
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, 2, merr.Line)
}

func TestBuildVersion(t *testing.T) {
	a, err := Load(diamondOntology)
	require.NoError(t, err)
	b, err := Load(diamondOntology + "\n# trailing comment\n")
	require.NoError(t, err)
	c, err := Load(diamondOntology + "ex:Extra a owl:Class .\n")
	require.NoError(t, err)

	assert.NotEmpty(t, a.Version())
	assert.Equal(t, a.Version(), b.Version())
	assert.NotEqual(t, a.Version(), c.Version())
}

func TestCombineMonoid(t *testing.T) {
	x := newIndex("x", []string{"A", "B"}, map[string]KnowledgeUnit{
		"A": {ClassID: "A", Label: "A", Properties: []PropertyDefinition{{ID: "p"}}},
		"B": {ClassID: "B", Parents: []string{"A"}},
	})
	y := newIndex("y", []string{"B", "C"}, map[string]KnowledgeUnit{
		"B": {ClassID: "B", Label: "Bee", Properties: []PropertyDefinition{{ID: "q"}, {ID: "p"}}},
		"C": {ClassID: "C"},
	})
	z := newIndex("z", []string{"A"}, map[string]KnowledgeUnit{
		"A": {ClassID: "A", Label: "Other", Properties: []PropertyDefinition{{ID: "r"}, {ID: "p"}}},
	})

	assert.Equal(t, x, Combine(EmptyIndex(), x))
	assert.Equal(t, x, Combine(x, EmptyIndex()))
	assert.Equal(t, Combine(Combine(x, y), z), Combine(x, Combine(y, z)))

	xy := Combine(x, y)
	assert.Equal(t, "x+y", xy.Version())
	assert.Equal(t, []string{"A", "B", "C"}, xy.ClassIDs())
	b, _ := xy.Get("B")
	assert.Equal(t, "Bee", b.Label)
	assert.Equal(t, []string{"q", "p"}, propertyIDs(b.Properties))

	xz := Combine(x, z)
	a, _ := xz.Get("A")
	assert.Equal(t, "A", a.Label)
	assert.Equal(t, []string{"p", "r"}, propertyIDs(a.Properties))
}
