package graph

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/ontograph/pkg/ai"
	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/embedding"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/ontology"
)

// DefaultGroundingThreshold is the minimum similarity a relation needs to
// survive grounding.
const DefaultGroundingThreshold = 0.8

// Embeddings is the part of the embedding service used by the pipeline.
type Embeddings interface {
	EmbedBatch(ctx context.Context, texts []string, task ai.EmbeddingTask) ([][]float32, error)
}

// Grounder scores relations by the similarity between a rendered statement
// and the text supporting it.
type Grounder struct {
	embeddings Embeddings
	index      *ontology.KnowledgeIndex
	threshold  float64
}

// NewGrounderParams configures a Grounder. Index is only used for
// predicate labels and may be nil. A nil Threshold selects 0.8; zero keeps
// every relation.
type NewGrounderParams struct {
	Embeddings Embeddings
	Index      *ontology.KnowledgeIndex
	Threshold  *float64
}

func NewGrounder(params NewGrounderParams) *Grounder {
	threshold := DefaultGroundingThreshold
	if params.Threshold != nil {
		threshold = clamp01(*params.Threshold)
	}
	return &Grounder{
		embeddings: params.Embeddings,
		index:      params.Index,
		threshold:  threshold,
	}
}

// DroppedRelation is a relation removed by grounding.
type DroppedRelation struct {
	Relation   common.Relation
	Statement  string
	Similarity float64
}

// Render turns a relation into a short statement such as
// "Alice works for Acme Corp".
func (g *Grounder) Render(r common.Relation, entities map[string]common.Entity) string {
	subject := r.SubjectID
	if e, ok := entities[r.SubjectID]; ok && e.SurfaceForm != "" {
		subject = e.SurfaceForm
	}

	var object string
	switch r.Object.Kind() {
	case common.ObjectEntity:
		id, _ := r.Object.EntityID()
		object = id
		if e, ok := entities[id]; ok && e.SurfaceForm != "" {
			object = e.SurfaceForm
		}
	case common.ObjectLiteral:
		object = r.Object.Value()
	}

	return fmt.Sprintf("%s %s %s", subject, humanize(g.index.Label(r.Predicate)), object)
}

// supportText returns the shortest evidence span of the relation, or the
// source text if it has none.
func supportText(r common.Relation, source string) string {
	best := ""
	for _, s := range r.Evidence {
		if s.Text == "" {
			continue
		}
		if best == "" || len(s.Text) < len(best) {
			best = s.Text
		}
	}
	if best == "" {
		return source
	}
	return best
}

// GroundRelations keeps relations whose statement is at least threshold
// similar to their support text and sets their confidence to that
// similarity. Statements and support texts are embedded in one batch.
func (g *Grounder) GroundRelations(
	ctx context.Context,
	relations []common.Relation,
	entities map[string]common.Entity,
	source string,
) ([]common.Relation, []DroppedRelation, error) {
	if len(relations) == 0 {
		return nil, nil, nil
	}

	texts := make([]string, 0, 2*len(relations))
	statements := make([]string, len(relations))
	for i, r := range relations {
		statements[i] = g.Render(r, entities)
		texts = append(texts, statements[i], supportText(r, source))
	}

	vecs, err := g.embeddings.EmbedBatch(ctx, texts, ai.TaskSimilarity)
	if err != nil {
		return nil, nil, fmt.Errorf("grounding embeddings: %w", err)
	}

	var (
		kept    []common.Relation
		dropped []DroppedRelation
	)
	for i, r := range relations {
		sim := clamp01(embedding.Cosine(vecs[2*i], vecs[2*i+1]))
		if sim < g.threshold {
			dropped = append(dropped, DroppedRelation{Relation: r, Statement: statements[i], Similarity: sim})
			continue
		}
		r.Confidence = sim
		kept = append(kept, r)
	}
	return kept, dropped, nil
}

// Ground applies GroundRelations to every relation of a graph. Entities
// taking part in a kept relation get a grounding confidence of at least
// that relation's confidence.
func (g *Grounder) Ground(ctx context.Context, kg common.KnowledgeGraph, source string) (common.KnowledgeGraph, []DroppedRelation, error) {
	out := Normalize(kg)
	relations := make([]common.Relation, 0, len(out.Relations))
	for _, id := range out.RelationIDs() {
		relations = append(relations, out.Relations[id])
	}

	kept, dropped, err := g.GroundRelations(ctx, relations, out.Entities, source)
	if err != nil {
		return common.KnowledgeGraph{}, nil, err
	}

	out.Relations = make(map[string]common.Relation, len(kept))
	for _, r := range kept {
		out.Relations[r.ID] = r
		touch := []string{r.SubjectID}
		if id, ok := r.Object.EntityID(); ok {
			touch = append(touch, id)
		}
		for _, id := range touch {
			e, ok := out.Entities[id]
			if !ok {
				continue
			}
			conf := r.Confidence
			e.Grounding = maxGrounding(e.Grounding, &conf)
			out.Entities[id] = e
		}
	}

	for _, d := range dropped {
		logger.Debug("[Ground] Dropped relation", "statement", d.Statement, "similarity", d.Similarity)
	}
	return out, dropped, nil
}

// humanize turns "worksFor" or "works_for" into "works for".
func humanize(label string) string {
	var out []rune
	prevLower := false
	for _, r := range label {
		switch {
		case r == '_' || r == '-':
			out = append(out, ' ')
			prevLower = false
		case r >= 'A' && r <= 'Z':
			if prevLower {
				out = append(out, ' ')
			}
			out = append(out, r+('a'-'A'))
			prevLower = false
		default:
			out = append(out, r)
			prevLower = r >= 'a' && r <= 'z' || r >= '0' && r <= '9'
		}
	}
	return string(out)
}
