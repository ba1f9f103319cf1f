package query

import (
	"cmp"
	"slices"
)

const rrfK = 60.0

// candidate is an entity found during expansion.
type candidate struct {
	ID       string
	Distance int
	// Similarity is the vector search score, valid when Searched is set.
	Similarity float64
	Searched   bool
}

// buildRankPositions returns the 1-based rank of every candidate under
// less. Candidates for which include returns false get no rank.
func buildRankPositions(
	candidates []candidate,
	include func(c candidate) bool,
	less func(a, b candidate) int,
) map[string]int {
	order := make([]candidate, 0, len(candidates))
	for _, c := range candidates {
		if include == nil || include(c) {
			order = append(order, c)
		}
	}
	slices.SortStableFunc(order, less)

	positions := make(map[string]int, len(order))
	for rank, c := range order {
		positions[c.ID] = rank + 1
	}
	return positions
}

func rrfComponent(rank int, weight float64) float64 {
	if rank <= 0 {
		return 0
	}
	return weight / (rrfK + float64(rank))
}

// fuse scores candidates by weighted reciprocal rank fusion of their vector
// similarity rank and their graph distance rank. Candidates never returned
// by vector search only receive the graph component.
func fuse(candidates []candidate, vectorWeight, graphWeight float64) map[string]float64 {
	vectorRanks := buildRankPositions(candidates,
		func(c candidate) bool { return c.Searched },
		func(a, b candidate) int {
			if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
				return c
			}
			return cmp.Compare(a.ID, b.ID)
		},
	)
	graphRanks := buildRankPositions(candidates, nil, func(a, b candidate) int {
		if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
			return c
		}
		if a.Searched != b.Searched {
			if a.Searched {
				return -1
			}
			return 1
		}
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})

	scores := make(map[string]float64, len(candidates))
	for _, c := range candidates {
		scores[c.ID] = rrfComponent(vectorRanks[c.ID], vectorWeight) +
			rrfComponent(graphRanks[c.ID], graphWeight)
	}
	return scores
}

// rankIDs orders ids by score, highest first, breaking ties by id.
func rankIDs(ids []string, scores map[string]float64) []string {
	out := slices.Clone(ids)
	slices.SortFunc(out, func(a, b string) int {
		if c := cmp.Compare(scores[b], scores[a]); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return out
}
