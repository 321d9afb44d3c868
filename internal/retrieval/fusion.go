package retrieval

import (
	"sort"

	"github.com/dshills/querypipe/pkg/types"
)

// normalize min-max scales scores to [0,1] in place. A branch whose scores
// are all equal, including a single result, scales to 1.
func normalize(cands []types.RankedCandidate) {
	if len(cands) == 0 {
		return
	}
	lo, hi := cands[0].Score, cands[0].Score
	for _, c := range cands[1:] {
		if c.Score < lo {
			lo = c.Score
		}
		if c.Score > hi {
			hi = c.Score
		}
	}
	span := hi - lo
	for i := range cands {
		if span == 0 {
			cands[i].Score = 1
			continue
		}
		cands[i].Score = (cands[i].Score - lo) / span
	}
}

func fuseUnion(vector, text []types.RankedCandidate) []types.RankedCandidate {
	out := make([]types.RankedCandidate, 0, len(vector)+len(text))
	out = append(out, vector...)
	return append(out, text...)
}

// fuseMaxScore keeps one entry per product id. On equal scores the vector
// entry wins.
func fuseMaxScore(vector, text []types.RankedCandidate) []types.RankedCandidate {
	best := make(map[int64]int)
	out := make([]types.RankedCandidate, 0, len(vector)+len(text))
	for _, c := range fuseUnion(vector, text) {
		i, seen := best[c.Product.ID]
		if !seen {
			best[c.Product.ID] = len(out)
			out = append(out, c)
			continue
		}
		if c.Score > out[i].Score {
			out[i] = c
		}
	}
	return out
}

// fuseRRF scores each product by the sum of 1/(k + rank) over the branches it
// appears in. Source is the branch where it ranked best, vector on ties.
func fuseRRF(vector, text []types.RankedCandidate, k float64) []types.RankedCandidate {
	type acc struct {
		cand     types.RankedCandidate
		score    float64
		bestRank int
	}
	byID := make(map[int64]*acc)
	var order []int64

	add := func(cands []types.RankedCandidate) {
		for rank, c := range cands {
			contrib := 1.0 / (k + float64(rank+1))
			a, ok := byID[c.Product.ID]
			if !ok {
				byID[c.Product.ID] = &acc{cand: c, score: contrib, bestRank: rank + 1}
				order = append(order, c.Product.ID)
				continue
			}
			a.score += contrib
			if rank+1 < a.bestRank {
				a.cand = c
				a.bestRank = rank + 1
			}
		}
	}
	add(vector)
	add(text)

	out := make([]types.RankedCandidate, 0, len(order))
	for _, id := range order {
		a := byID[id]
		a.cand.Score = a.score
		out = append(out, a.cand)
	}
	return out
}

// sortCandidates orders by score desc, vector before text, then id asc, and
// assigns 1-based ranks.
func sortCandidates(cands []types.RankedCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Source != b.Source {
			return a.Source == types.SourceVector
		}
		return a.Product.ID < b.Product.ID
	})
	for i := range cands {
		cands[i].Rank = i + 1
	}
}
