package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/OFFIS-RIT/ontograph/pkg/ai"
	"github.com/OFFIS-RIT/ontograph/pkg/common"
)

// scriptedGenerator answers structured calls with respond(stage, prompt).
// A non-empty string is decoded into the output value.
type scriptedGenerator struct {
	mu      sync.Mutex
	calls   map[string]int
	respond func(stage, prompt string, call int) (string, error)
}

func newScriptedGenerator(respond func(stage, prompt string, call int) (string, error)) *scriptedGenerator {
	return &scriptedGenerator{calls: map[string]int{}, respond: respond}
}

func (g *scriptedGenerator) GenerateCompletionWithFormat(
	_ context.Context,
	name string,
	_ string,
	prompt string,
	out any,
	_ ...ai.GenerateOption,
) error {
	g.mu.Lock()
	g.calls[name]++
	call := g.calls[name]
	g.mu.Unlock()

	raw, err := g.respond(name, prompt, call)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &ai.SchemaValidationError{Schema: name, Reason: err.Error(), Raw: raw}
	}
	return nil
}

func (g *scriptedGenerator) Calls(stage string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[stage]
}

// wordEmbedder embeds text as a normalized bag of lower-cased words hashed
// into 64 buckets, so texts with the same words are identical vectors.
type wordEmbedder struct{}

func (wordEmbedder) EmbedBatch(_ context.Context, texts []string, _ ai.EmbeddingTask) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, 64)
		for _, w := range strings.FieldsFunc(strings.ToLower(t), func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}) {
			h := fnv.New32a()
			h.Write([]byte(w))
			v[h.Sum32()%64]++
		}
		out[i] = v
	}
	return out, nil
}

// tableEmbeddings returns fixed vectors per text and fails for unknown texts.
type tableEmbeddings map[string][]float32

func (t tableEmbeddings) EmbedBatch(_ context.Context, texts []string, _ ai.EmbeddingTask) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, ok := t[text]
		if !ok {
			return nil, fmt.Errorf("no vector for %q", text)
		}
		out[i] = v
	}
	return out, nil
}

// unitVector returns a 2-d vector with cosine s against [1, 0].
func unitVector(s float64) []float32 {
	return []float32{float32(s), float32(math.Sqrt(1 - s*s))}
}

// tableScorer scores entity pairs by id from a fixed table and records
// every pair it was asked about.
type tableScorer struct {
	scores map[[2]string]float64
	asked  [][2]string
}

func (s *tableScorer) Score(_ context.Context, entities []common.Entity, pairs []Pair) ([]float64, error) {
	out := make([]float64, len(pairs))
	for k, p := range pairs {
		key := [2]string{entities[p.I].ID, entities[p.J].ID}
		s.asked = append(s.asked, key)
		if v, ok := s.scores[key]; ok {
			out[k] = v
			continue
		}
		out[k] = s.scores[[2]string{key[1], key[0]}]
	}
	return out, nil
}
