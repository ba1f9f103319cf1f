package query

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/ontograph/pkg/graph"
)

// Provenance points at the source text supporting an entity or relation.
type Provenance struct {
	DocumentID string `json:"document_id"`
	SourceURI  string `json:"source_uri,omitempty"`
	Start      int    `json:"start"`
	End        int    `json:"end"`
	Text       string `json:"text,omitempty"`
}

type RankedEntity struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Types      []string          `json:"types"`
	Score      float64           `json:"score"`
	Distance   int               `json:"distance"`
	Similarity float64           `json:"similarity"`
	Attributes map[string]string `json:"attributes,omitempty"`
	SameAs     []string          `json:"same_as,omitempty"`
	Evidence   []Provenance      `json:"evidence"`
}

type RankedRelation struct {
	ID          string       `json:"id"`
	SubjectID   string       `json:"subject_id"`
	Subject     string       `json:"subject"`
	PredicateID string       `json:"predicate_id"`
	Predicate   string       `json:"predicate"`
	ObjectID    string       `json:"object_id,omitempty"`
	Object      string       `json:"object"`
	Score       float64      `json:"score"`
	Confidence  float64      `json:"confidence"`
	Evidence    []Provenance `json:"evidence"`
}

// Context is the retrieval payload: the ranked subgraph, its provenance and
// a rendered text form for prompt assembly. Entities and Relations are
// ordered by score, highest first.
type Context struct {
	Query        string           `json:"query"`
	GraphVersion int64            `json:"graph_version"`
	Hops         int              `json:"hops"`
	Entities     []RankedEntity   `json:"entities"`
	Relations    []RankedRelation `json:"relations"`
	Truncated    bool             `json:"truncated"`
	Text         string           `json:"text"`
}

// SourceIDs returns the documents cited by the payload.
func (c *Context) SourceIDs() []string {
	seen := map[string]struct{}{}
	collect := func(ps []Provenance) {
		for _, p := range ps {
			if p.DocumentID != "" {
				seen[p.DocumentID] = struct{}{}
			}
		}
	}
	for _, e := range c.Entities {
		collect(e.Evidence)
	}
	for _, r := range c.Relations {
		collect(r.Evidence)
	}
	return sortedKeys(seen)
}

func (c *Context) header() string {
	return fmt.Sprintf("# Knowledge graph context\nQuery: %s\nGraph version: %d\n", c.Query, c.GraphVersion)
}

const (
	entitiesHeading  = "\n## Entities\n"
	relationsHeading = "\n## Relations\n"
)

func writeEvidence(b *strings.Builder, ps []Provenance) {
	for _, p := range ps {
		source := p.DocumentID
		if p.SourceURI != "" {
			source += ", " + p.SourceURI
		}
		fmt.Fprintf(b, "  evidence: %q (%s, %d-%d)\n", p.Text, source, p.Start, p.End)
	}
}

func (e RankedEntity) block() string {
	var b strings.Builder
	fmt.Fprintf(&b, "- %s [%s] (score %.4f, hop %d)\n", e.Name, strings.Join(e.Types, ", "), e.Score, e.Distance)
	if len(e.SameAs) > 0 {
		fmt.Fprintf(&b, "  same as: %s\n", strings.Join(e.SameAs, ", "))
	}
	keys := make([]string, 0, len(e.Attributes))
	for k := range e.Attributes {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %s\n", k, e.Attributes[k])
	}
	writeEvidence(&b, e.Evidence)
	return b.String()
}

func (r RankedRelation) block() string {
	var b strings.Builder
	object := r.Object
	if r.ObjectID == "" {
		object = fmt.Sprintf("%q", r.Object)
	}
	fmt.Fprintf(&b, "- %s -%s-> %s (confidence %.2f, score %.4f)\n", r.Subject, r.Predicate, object, r.Confidence, r.Score)
	writeEvidence(&b, r.Evidence)
	return b.String()
}

// render fills Text from the current entities and relations.
func (c *Context) render() {
	var b strings.Builder
	b.WriteString(c.header())
	if len(c.Entities) > 0 {
		b.WriteString(entitiesHeading)
		for _, e := range c.Entities {
			b.WriteString(e.block())
		}
	}
	if len(c.Relations) > 0 {
		b.WriteString(relationsHeading)
		for _, r := range c.Relations {
			b.WriteString(r.block())
		}
	}
	c.Text = b.String()
}

// item is an entry of the combined ranking used for truncation.
type item struct {
	relation bool
	id       string
	score    float64
	size     int
}

// ranking merges entities and relations into one list, highest score first.
// An entity precedes relations of equal score.
func (c *Context) ranking(size graph.SizeFunc) []item {
	items := make([]item, 0, len(c.Entities)+len(c.Relations))
	for _, e := range c.Entities {
		items = append(items, item{id: e.ID, score: e.Score, size: size(e.block())})
	}
	for _, r := range c.Relations {
		items = append(items, item{relation: true, id: r.ID, score: r.Score, size: size(r.block())})
	}
	slices.SortStableFunc(items, func(a, b item) int {
		if d := cmp.Compare(b.score, a.score); d != 0 {
			return d
		}
		if a.relation != b.relation {
			if a.relation {
				return 1
			}
			return -1
		}
		return cmp.Compare(a.id, b.id)
	})
	return items
}

// drop removes the item and, for an entity, every relation that refers to
// it. It returns the number of removed records.
func (c *Context) drop(it item) int {
	if it.relation {
		n := len(c.Relations)
		c.Relations = slices.DeleteFunc(c.Relations, func(r RankedRelation) bool { return r.ID == it.id })
		return n - len(c.Relations)
	}
	n := len(c.Entities) + len(c.Relations)
	c.Entities = slices.DeleteFunc(c.Entities, func(e RankedEntity) bool { return e.ID == it.id })
	c.Relations = slices.DeleteFunc(c.Relations, func(r RankedRelation) bool {
		return r.SubjectID == it.id || r.ObjectID == it.id
	})
	return n - len(c.Entities) - len(c.Relations)
}

// truncate drops the lowest-ranked items until the rendered payload fits
// budget. It returns the number of dropped entities and relations.
func (c *Context) truncate(budget int, size graph.SizeFunc) int {
	if budget <= 0 {
		return 0
	}

	dropped := 0
	items := c.ranking(size)
	total := size(c.header()) + size(entitiesHeading) + size(relationsHeading)
	for _, it := range items {
		total += it.size
	}
	for len(items) > 0 && total > budget {
		last := items[len(items)-1]
		items = items[:len(items)-1]
		if n := c.drop(last); n > 0 {
			dropped += n
			total -= last.size
		}
		if !last.relation {
			items = slices.DeleteFunc(items, func(i item) bool {
				if !i.relation || c.hasRelation(i.id) {
					return false
				}
				total -= i.size
				return true
			})
		}
	}

	// Sizes of the blocks need not add up exactly, e.g. for token counts.
	for {
		c.render()
		if size(c.Text) <= budget || len(items) == 0 {
			break
		}
		last := items[len(items)-1]
		items = items[:len(items)-1]
		dropped += c.drop(last)
		if !last.relation {
			items = slices.DeleteFunc(items, func(i item) bool { return i.relation && !c.hasRelation(i.id) })
		}
	}

	c.Truncated = dropped > 0
	return dropped
}

func (c *Context) hasRelation(id string) bool {
	return slices.ContainsFunc(c.Relations, func(r RankedRelation) bool { return r.ID == id })
}
