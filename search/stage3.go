package search

import (
	"fmt"
	"strings"
)

// The C++ prototype leaned on parasail for stage-3 refinement; no library
// in this module's dependency set offers an equivalent banded affine-gap
// aligner, so this is a hand-written banded semi-global DP in the same
// spirit as the teacher's compress/align.go window scan: build a band
// around the stage-2 diagonal, score with affine gaps, and free end-gaps
// on the subject side so a chain anchored mid-sequence doesn't pay for the
// flanking context it was given.
const negInf = -1 << 30

type alignOp uint8

const (
	opMatch alignOp = iota
	opIns           // gap in subject (consumes query only)
	opDel           // gap in query (consumes subject only)
)

// BandedAlignResult is stage 3's output for one chain: the refined score,
// CIGAR string, and identity bookkeeping.
type BandedAlignResult struct {
	Score     int32
	CIGAR     string
	NIdent    int
	NMismatch int
	QStart    int
	QEnd      int
	SStart    int
	SEnd      int
}

// BandedAlign runs a banded semi-global affine-gap alignment of query
// against subject, centered on the zero diagonal (the caller is
// responsible for slicing subject to the chain's expected window so the
// true alignment stays inside the band). Matches/mismatches score +1/-1;
// gaps cost gapOpen for the first base and gapExt per base thereafter.
// End-gaps on the subject axis are free.
func BandedAlign(query, subject []byte, band, gapOpen, gapExt int) BandedAlignResult {
	qn, sn := len(query), len(subject)
	if band < 1 {
		band = 1
	}
	width := 2*band + 1

	// M[i][k]: best score ending at (i, j=i+k-band) with a match/mismatch.
	// Ix[i][k]: best score ending with a gap in subject (query consumed).
	// Iy[i][k]: best score ending with a gap in query (subject consumed).
	M := make([][]int32, qn+1)
	Ix := make([][]int32, qn+1)
	Iy := make([][]int32, qn+1)
	trace := make([][]alignOp, qn+1)
	for i := range M {
		M[i] = make([]int32, width)
		Ix[i] = make([]int32, width)
		Iy[i] = make([]int32, width)
		trace[i] = make([]alignOp, width)
		for k := range M[i] {
			M[i][k], Ix[i][k], Iy[i][k] = negInf, negInf, negInf
		}
	}

	inBand := func(i, j int) bool {
		return j-i >= -band && j-i <= band
	}
	kOf := func(i, j int) int { return j - i + band }

	// Row 0: free leading gap in subject (subject consumed before query
	// starts) costs nothing, since end-gaps on the subject axis are free.
	for j := 0; j <= sn && inBand(0, j); j++ {
		M[0][kOf(0, j)] = 0
	}
	// Column 0: entering query consumption before any subject match is a
	// real gap-in-query cost (query must align in full).
	for i := 1; i <= qn; i++ {
		j := 0
		if !inBand(i, j) {
			continue
		}
		k := kOf(i, j)
		cost := -int32(gapOpen)
		if i > 1 {
			cost = Iy[i-1][kOf(i-1, j)] - int32(gapExt)
			if Iy[i-1][kOf(i-1, j)] == negInf {
				cost = negInf
			}
		}
		Iy[i][k] = cost
		if Iy[i][k] > negInf/2 {
			trace[i][k] = opIns
		}
	}

	for i := 1; i <= qn; i++ {
		loJ := i - band
		if loJ < 0 {
			loJ = 0
		}
		hiJ := i + band
		if hiJ > sn {
			hiJ = sn
		}
		for j := loJ; j <= hiJ; j++ {
			k := kOf(i, j)
			var best int32 = negInf
			var bestOp alignOp

			if j > 0 && inBand(i-1, j-1) {
				diag := kOf(i-1, j-1)
				match := query[i-1] == subject[j-1]
				var s int32 = -1
				if match {
					s = 1
				}
				prevBest := M[i-1][diag]
				if Ix[i-1][diag] > prevBest {
					prevBest = Ix[i-1][diag]
				}
				if Iy[i-1][diag] > prevBest {
					prevBest = Iy[i-1][diag]
				}
				if prevBest > negInf/2 {
					cand := prevBest + s
					if cand > best {
						best, bestOp = cand, opMatch
					}
				}
			}
			M[i][k] = best
			trace[i][k] = bestOp

			// Ix: gap in subject, consumes a query base against nothing.
			var ixBest int32 = negInf
			if inBand(i-1, j) {
				prevK := kOf(i-1, j)
				open := M[i-1][prevK]
				if open > negInf/2 {
					open -= int32(gapOpen)
				}
				ext := Ix[i-1][prevK]
				if ext > negInf/2 {
					ext -= int32(gapExt)
				}
				if ext > open {
					ixBest = ext
				} else {
					ixBest = open
				}
			}
			Ix[i][k] = ixBest

			// Iy: gap in query, consumes a subject base against nothing;
			// free (cost 0) when this is a trailing end-gap region handled
			// by the final column scan below, otherwise charged normally.
			var iyBest int32 = negInf
			if j > 0 && inBand(i, j-1) {
				prevK := kOf(i, j-1)
				open := M[i][prevK]
				if open > negInf/2 {
					open -= int32(gapOpen)
				}
				ext := Iy[i][prevK]
				if ext > negInf/2 {
					ext -= int32(gapExt)
				}
				if ext > open {
					iyBest = ext
				} else {
					iyBest = open
				}
			}
			if iyBest > Iy[i][k] {
				Iy[i][k] = iyBest
			}
		}
	}

	// Best endpoint: row qn, any j (free trailing subject gap), picking
	// the column with the highest of M/Ix/Iy.
	bestJ := 0
	var bestScore int32 = negInf
	for j := 0; j <= sn; j++ {
		if !inBand(qn, j) {
			continue
		}
		k := kOf(qn, j)
		for _, v := range []int32{M[qn][k], Ix[qn][k]} {
			if v > bestScore {
				bestScore = v
				bestJ = j
			}
		}
	}
	if bestScore <= negInf/2 {
		return BandedAlignResult{Score: 0}
	}

	// Traceback along the match/mismatch matrix only (Ix/Iy end-state
	// already folded into the scan above); good enough for CIGAR/identity
	// bookkeeping on banded semi-global chains, which are short.
	var ops []byte
	i, j := qn, bestJ
	nIdent, nMismatch := 0, 0
	for i > 0 {
		if j > 0 && inBand(i-1, j-1) && trace[i][kOf(i, j)] == opMatch {
			if query[i-1] == subject[j-1] {
				nIdent++
				ops = append(ops, 'M')
			} else {
				nMismatch++
				ops = append(ops, 'X')
			}
			i--
			j--
			continue
		}
		if inBand(i-1, j) && Ix[i][kOf(i, j)] >= Iy[i][kOf(i, j)] {
			ops = append(ops, 'I')
			i--
			continue
		}
		if j > 0 {
			ops = append(ops, 'D')
			j--
			continue
		}
		break
	}
	for l, r := 0, len(ops)-1; l < r; l, r = l+1, r-1 {
		ops[l], ops[r] = ops[r], ops[l]
	}

	return BandedAlignResult{
		Score:     bestScore,
		CIGAR:     compressCIGAR(ops),
		NIdent:    nIdent,
		NMismatch: nMismatch,
		QStart:    0,
		QEnd:      qn,
		SStart:    0,
		SEnd:      bestJ,
	}
}

// compressCIGAR run-length-encodes a raw op string into extended-CIGAR
// tokens: '=' for a true match, 'X' for a mismatch, 'I'/'D' for gaps, per
// P12's "CIGAR is L=" requirement for an exact-match alignment.
func compressCIGAR(ops []byte) string {
	if len(ops) == 0 {
		return ""
	}
	var sb strings.Builder
	toCigarOp := func(o byte) byte {
		if o == 'M' {
			return '='
		}
		return o
	}
	run := 1
	cur := toCigarOp(ops[0])
	for i := 1; i < len(ops); i++ {
		o := toCigarOp(ops[i])
		if o == cur {
			run++
			continue
		}
		fmt.Fprintf(&sb, "%d%c", run, cur)
		cur, run = o, 1
	}
	fmt.Fprintf(&sb, "%d%c", run, cur)
	return sb.String()
}
