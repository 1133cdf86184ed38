package retrieval

// normalize rescales a path's candidate scores to [0,1] with min-max
// normalization within that path's candidate set. A path with a single
// candidate, or with all scores equal, maps everything to 1 so the candidate
// still competes in fusion.
func normalize(candidates []candidate) {
	if len(candidates) == 0 {
		return
	}

	lo, hi := candidates[0].score, candidates[0].score
	for _, c := range candidates[1:] {
		if c.score < lo {
			lo = c.score
		}
		if c.score > hi {
			hi = c.score
		}
	}

	if hi == lo {
		for i := range candidates {
			candidates[i].score = 1
		}
		return
	}

	for i := range candidates {
		candidates[i].score = (candidates[i].score - lo) / (hi - lo)
	}
}

// fuse combines the normalized candidates of both paths into one score per
// chunk. Chunks present in both paths get a weighted sum; chunks present in
// only one path keep their normalized single-path score scaled by that path's
// weight. denseWeight applies to the dense path, 1-denseWeight to lexical.
// A path that contributed no candidates simply adds nothing.
func fuse(dense, lexical []candidate, denseWeight float64) map[string]float64 {
	if denseWeight < 0 {
		denseWeight = 0
	}
	if denseWeight > 1 {
		denseWeight = 1
	}
	lexicalWeight := 1 - denseWeight

	normalize(dense)
	normalize(lexical)

	fused := make(map[string]float64, len(dense)+len(lexical))
	for _, c := range dense {
		fused[c.chunkID] += denseWeight * c.score
	}
	for _, c := range lexical {
		fused[c.chunkID] += lexicalWeight * c.score
	}
	return fused
}
