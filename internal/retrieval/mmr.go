package retrieval

import (
	"math/rand"

	"studycoach-ai/internal/index"
)

// diversify re-orders evidence with a maximal-marginal-relevance pass:
// each position greedily picks the candidate maximizing
// lambda*score - (1-lambda)*maxSimilarityToSelected, trading some score
// purity for coverage. Similarity is token-set Jaccard overlap. Exact utility
// ties are broken by the seeded rng, so the result is deterministic for a
// fixed candidate set and seed.
func diversify(evidence []Evidence, lambda float64, seed int64) []Evidence {
	if len(evidence) <= 2 {
		return evidence
	}
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}

	rng := rand.New(rand.NewSource(seed))

	tokens := make([]map[string]struct{}, len(evidence))
	for i, ev := range evidence {
		tokens[i] = tokenSet(index.Tokenize(ev.Snippet))
	}

	remaining := make([]int, len(evidence))
	for i := range remaining {
		remaining[i] = i
	}

	ordered := make([]Evidence, 0, len(evidence))
	var selected []int
	for len(remaining) > 0 {
		bestPos := 0
		bestUtility := mmrUtility(evidence, tokens, selected, remaining[0], lambda)
		for pos := 1; pos < len(remaining); pos++ {
			utility := mmrUtility(evidence, tokens, selected, remaining[pos], lambda)
			if utility > bestUtility || (utility == bestUtility && rng.Intn(2) == 0) {
				bestPos = pos
				bestUtility = utility
			}
		}

		chosen := remaining[bestPos]
		selected = append(selected, chosen)
		ordered = append(ordered, evidence[chosen])
		remaining = append(remaining[:bestPos], remaining[bestPos+1:]...)
	}

	return ordered
}

func mmrUtility(evidence []Evidence, tokens []map[string]struct{}, selected []int, idx int, lambda float64) float64 {
	maxSim := 0.0
	for _, s := range selected {
		if sim := jaccard(tokens[idx], tokens[s]); sim > maxSim {
			maxSim = sim
		}
	}
	return lambda*evidence[idx].Score - (1-lambda)*maxSim
}

func tokenSet(tokens []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	overlap := 0
	for t := range small {
		if _, ok := large[t]; ok {
			overlap++
		}
	}
	union := len(a) + len(b) - overlap
	if union == 0 {
		return 0
	}
	return float64(overlap) / float64(union)
}
