package ontology

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ex = "http://example.org/onto#"

func TestParse(t *testing.T) {
	doc := `
@prefix ex: <http://example.org/onto#> .
# a comment
ex:Person a owl:Class ;
    rdfs:label "Person"@en , "Personne"@fr ;
    rdfs:comment """A human
being.""" .

ex:age a owl:DatatypeProperty ;
    rdfs:domain ex:Person ;
    rdfs:range xsd:integer .

<http://example.org/onto#Agent> a owl:Class ; .
ex:Person ex:rank 3 ; ex:weight 1.5 ; ex:active true .
ex:Person ex:note "tab\tquote\" é"^^xsd:string .
`
	store, err := Parse(doc)
	require.NoError(t, err)

	assert.Equal(t, []Term{IRI(OWLClass)}, store.Objects(ex+"Person", RDFType))
	assert.Equal(t, []Term{
		{Kind: TermLiteral, Value: "Person", Lang: "en"},
		{Kind: TermLiteral, Value: "Personne", Lang: "fr"},
	}, store.Objects(ex+"Person", RDFSLabel))
	assert.Equal(t, "A human\nbeing.", store.Objects(ex+"Person", RDFSComment)[0].Value)
	assert.Equal(t, []string{ex + "Person", ex + "Agent"}, store.Subjects(RDFType, OWLClass))
	assert.Equal(t, XSDNS+"integer", store.Objects(ex+"Person", ex+"rank")[0].Datatype)
	assert.Equal(t, XSDNS+"decimal", store.Objects(ex+"Person", ex+"weight")[0].Datatype)
	assert.Equal(t, XSDNS+"boolean", store.Objects(ex+"Person", ex+"active")[0].Datatype)
	note := store.Objects(ex+"Person", ex+"note")[0]
	assert.Equal(t, "tab\tquote\" é", note.Value)
	assert.Equal(t, XSDNS+"string", note.Datatype)
}

func TestParseDirectives(t *testing.T) {
	doc := `
BASE <http://example.org/base/>
PREFIX : <http://example.org/default#>
<Thing> a owl:Class .
:Other rdfs:subClassOf <Thing> .
`
	store, err := Parse(doc)
	require.NoError(t, err)
	require.Len(t, store.Triples, 2)
	assert.Equal(t, "http://example.org/base/Thing", store.Triples[0].Subject.Value)
	assert.Equal(t, "http://example.org/default#Other", store.Triples[1].Subject.Value)
	assert.Equal(t, "http://example.org/base/Thing", store.Triples[1].Object.Value)
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		line   int
		column int
	}{
		{name: "missing dot", doc: "@prefix ex: <http://e/> .\nex:A a owl:Class\nex:B a owl:Class .", line: 3, column: 1},
		{name: "undefined prefix", doc: "foo:A a owl:Class .", line: 1, column: 1},
		{name: "unterminated iri", doc: "<http://e/A a owl:Class .", line: 1, column: 1},
		{name: "unterminated string", doc: "@prefix ex: <http://e/> .\nex:A rdfs:label \"abc .", line: 2, column: 17},
		{name: "stray word", doc: "@prefix ex: <http://e/> .\n  bogus", line: 2, column: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.doc)
			var merr *MalformedDocumentError
			require.True(t, errors.As(err, &merr), "expected MalformedDocumentError, got %v", err)
			assert.Equal(t, tt.line, merr.Line)
			assert.Equal(t, tt.column, merr.Column)
		})
	}
}

func TestParseUnsupported(t *testing.T) {
	tests := []struct {
		name      string
		doc       string
		construct string
	}{
		{name: "anonymous node", doc: "@prefix ex: <http://e/> .\nex:A rdfs:subClassOf [ a owl:Restriction ] .", construct: "anonymous blank node"},
		{name: "labelled blank node", doc: "_:b1 a owl:Class .", construct: "blank node _:b1"},
		{name: "collection", doc: "@prefix ex: <http://e/> .\nex:A ex:p ( ex:B ) .", construct: "collection"},
		{name: "union", doc: "@prefix ex: <http://e/> .\nex:A owl:unionOf ex:B .", construct: "owl:unionOf"},
		{name: "restriction type", doc: "@prefix ex: <http://e/> .\nex:A a owl:Restriction .", construct: "owl:Restriction"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.doc)
			var uerr *UnsupportedConstructError
			require.True(t, errors.As(err, &uerr), "expected UnsupportedConstructError, got %v", err)
			assert.Equal(t, tt.construct, uerr.Construct)
		})
	}
}
