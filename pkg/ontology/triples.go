package ontology

// Well-known vocabulary used by the index builder.
const (
	RDFNS  = "http://www.w3.org/1999/02/22-rdf-syntax-ns#"
	RDFSNS = "http://www.w3.org/2000/01/rdf-schema#"
	OWLNS  = "http://www.w3.org/2002/07/owl#"
	XSDNS  = "http://www.w3.org/2001/XMLSchema#"
	SKOSNS = "http://www.w3.org/2004/02/skos/core#"

	RDFType           = RDFNS + "type"
	RDFProperty       = RDFNS + "Property"
	RDFSClass         = RDFSNS + "Class"
	RDFSSubClassOf    = RDFSNS + "subClassOf"
	RDFSDomain        = RDFSNS + "domain"
	RDFSRange         = RDFSNS + "range"
	RDFSLabel         = RDFSNS + "label"
	RDFSComment       = RDFSNS + "comment"
	RDFSResource      = RDFSNS + "Resource"
	OWLClass          = OWLNS + "Class"
	OWLThing          = OWLNS + "Thing"
	OWLObjectProp     = OWLNS + "ObjectProperty"
	OWLDatatypeProp   = OWLNS + "DatatypeProperty"
	OWLAnnotationProp = OWLNS + "AnnotationProperty"
	SKOSPrefLabel     = SKOSNS + "prefLabel"
	SKOSAltLabel      = SKOSNS + "altLabel"
)

// unsupportedTerms are OWL constructs that build anonymous class expressions.
var unsupportedTerms = map[string]string{
	OWLNS + "unionOf":            "owl:unionOf",
	OWLNS + "intersectionOf":     "owl:intersectionOf",
	OWLNS + "complementOf":       "owl:complementOf",
	OWLNS + "oneOf":              "owl:oneOf",
	OWLNS + "Restriction":        "owl:Restriction",
	OWLNS + "onProperty":         "owl:onProperty",
	OWLNS + "someValuesFrom":     "owl:someValuesFrom",
	OWLNS + "allValuesFrom":      "owl:allValuesFrom",
	OWLNS + "hasValue":           "owl:hasValue",
	OWLNS + "disjointUnionOf":    "owl:disjointUnionOf",
	OWLNS + "propertyChainAxiom": "owl:propertyChainAxiom",
}

var defaultPrefixes = map[string]string{
	"rdf":  RDFNS,
	"rdfs": RDFSNS,
	"owl":  OWLNS,
	"xsd":  XSDNS,
	"skos": SKOSNS,
}

// TermKind discriminates IRIs from literals.
type TermKind int

const (
	TermIRI TermKind = iota + 1
	TermLiteral
)

// Term is a node of a triple.
type Term struct {
	Kind     TermKind
	Value    string
	Lang     string
	Datatype string
}

// IRI returns an IRI term.
func IRI(value string) Term {
	return Term{Kind: TermIRI, Value: value}
}

// Position locates a token in the source document.
type Position struct {
	Line   int
	Column int
	Offset int
}

// Triple is a single subject/predicate/object statement.
type Triple struct {
	Subject   Term
	Predicate Term
	Object    Term
	Pos       Position
}

// TripleStore holds the parsed statements of one ontology document in
// document order.
type TripleStore struct {
	Prefixes map[string]string
	Triples  []Triple
}

// Objects returns the objects of all triples with the given subject and
// predicate, in document order.
func (s *TripleStore) Objects(subject, predicate string) []Term {
	var out []Term
	for _, t := range s.Triples {
		if t.Subject.Value == subject && t.Predicate.Value == predicate {
			out = append(out, t.Object)
		}
	}
	return out
}

// Subjects returns the distinct subjects of triples with the given predicate
// and IRI object, in order of first appearance.
func (s *TripleStore) Subjects(predicate, object string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range s.Triples {
		if t.Predicate.Value != predicate || t.Object.Kind != TermIRI || t.Object.Value != object {
			continue
		}
		if !seen[t.Subject.Value] {
			seen[t.Subject.Value] = true
			out = append(out, t.Subject.Value)
		}
	}
	return out
}
