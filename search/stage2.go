package search

import "sort"

// diagHit is one deduplicated (q_pos, s_pos) co-occurrence, annotated with
// its diagonal for the min-diag-hits filter.
type diagHit struct {
	qPos uint32
	sPos uint32
	diag int64
}

// dedupeHits removes duplicate (q_pos,s_pos) pairs that arise when several
// expanded ambiguous k-mers at the same query position land on the same
// subject position.
func dedupeHits(qpos, spos []uint32) []diagHit {
	seen := make(map[uint64]struct{}, len(qpos))
	out := make([]diagHit, 0, len(qpos))
	for i := range qpos {
		key := uint64(qpos[i])<<32 | uint64(spos[i])
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, diagHit{qPos: qpos[i], sPos: spos[i], diag: int64(spos[i]) - int64(qpos[i])})
	}
	return out
}

// filterDiagonals drops diagonals with fewer than minDiagHits hits, per
// §4.G's sparsity gate against spurious single-hit diagonals.
func filterDiagonals(hits []diagHit, minDiagHits int) []diagHit {
	if minDiagHits <= 1 {
		return hits
	}
	counts := make(map[int64]int, len(hits))
	for _, h := range hits {
		counts[h.diag]++
	}
	out := hits[:0:0]
	for _, h := range hits {
		if counts[h.diag] >= minDiagHits {
			out = append(out, h)
		}
	}
	return out
}

// ChainHits runs stage 2 (§4.G) for one stage-1 candidate: dedupe, diagonal
// filter, then an O(n^2) DP chain with bounded lookback under strict
// collinearity on both axes. Returns nil if no chain clears minScore.
func ChainHits(oid uint32, stage1Score int32, qpos, spos []uint32, maxGap, minDiagHits, maxLookback, minScore int, isReverse bool) *ChainResult {
	hits := dedupeHits(qpos, spos)
	hits = filterDiagonals(hits, minDiagHits)
	if len(hits) == 0 {
		return nil
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].qPos != hits[j].qPos {
			return hits[i].qPos < hits[j].qPos
		}
		return hits[i].sPos < hits[j].sPos
	})

	n := len(hits)
	dpScore := make([]int32, n)
	dpPrev := make([]int, n)
	for i := range dpPrev {
		dpPrev[i] = -1
	}

	best := 0
	for i := 0; i < n; i++ {
		dpScore[i] = 1
		lo := 0
		if maxLookback > 0 && i-maxLookback > lo {
			lo = i - maxLookback
		}
		for j := i - 1; j >= lo; j-- {
			if hits[j].qPos >= hits[i].qPos || hits[j].sPos >= hits[i].sPos {
				continue
			}
			gap := maxInt(int(hits[i].qPos)-int(hits[j].qPos), int(hits[i].sPos)-int(hits[j].sPos))
			if maxGap > 0 && gap > maxGap {
				continue
			}
			if dpScore[j]+1 > dpScore[i] {
				dpScore[i] = dpScore[j] + 1
				dpPrev[i] = j
			}
		}
		if dpScore[i] > dpScore[best] {
			best = i
		}
	}

	if int(dpScore[best]) < minScore {
		return nil
	}

	// Walk back from best to find the chain's extent.
	first := best
	for dpPrev[first] != -1 {
		first = dpPrev[first]
	}

	return &ChainResult{
		OID:         oid,
		ChainScore:  dpScore[best],
		Stage1Score: stage1Score,
		QStart:      hits[first].qPos,
		QEnd:        hits[best].qPos,
		SStart:      hits[first].sPos,
		SEnd:        hits[best].sPos,
		IsReverse:   isReverse,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
