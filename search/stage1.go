package search

import (
	"sort"

	"github.com/astanabe/ikafssn-sub000/index"
)

// ScoreType selects how stage 1 scores a candidate oid.
type ScoreType int

const (
	// ScoreCoverage counts distinct query positions that touched the oid.
	ScoreCoverage ScoreType = iota
	// ScoreMatches counts total postings (including duplicate positions).
	ScoreMatches
)

func scoreTypeFromString(s string) ScoreType {
	if s == "matchscore" {
		return ScoreMatches
	}
	return ScoreCoverage
}

// Stage1Buffer is a reusable per-worker accumulator: coverscore and
// matchscore tables sized to one volume's oid space, plus a dirty list of
// touched oids so a new query only has to reset what the previous query
// actually touched, not the whole table.
type Stage1Buffer struct {
	coverScore  []int32
	matchScore  []int32
	lastSeenPos []int32 // last query position that hit this oid, -1 = unseen this query
	dirty       []uint32
}

// NewStage1Buffer allocates a buffer sized for numSeqs oids.
func NewStage1Buffer(numSeqs uint32) *Stage1Buffer {
	b := &Stage1Buffer{
		coverScore:  make([]int32, numSeqs),
		matchScore:  make([]int32, numSeqs),
		lastSeenPos: make([]int32, numSeqs),
	}
	for i := range b.lastSeenPos {
		b.lastSeenPos[i] = -1
	}
	return b
}

// Reset clears only the oids touched since the last Reset, via the dirty
// list built up during accumulate.
func (b *Stage1Buffer) Reset() {
	for _, oid := range b.dirty {
		b.coverScore[oid] = 0
		b.matchScore[oid] = 0
		b.lastSeenPos[oid] = -1
	}
	b.dirty = b.dirty[:0]
}

func (b *Stage1Buffer) touch(oid uint32) {
	if b.lastSeenPos[oid] == -1 && b.coverScore[oid] == 0 && b.matchScore[oid] == 0 {
		b.dirty = append(b.dirty, oid)
	}
}

// accumulate walks one k-mer's posting list from kix/kpx and updates the
// per-oid scores for every query position that produced this k-mer value.
func (b *Stage1Buffer) accumulate(kix *index.KixReader, kpx *index.KpxReader, m uint32, qpos uint32, filter *OidFilter) {
	count := kix.Count(m)
	if count == 0 {
		return
	}
	idDec := NewSeqIdDecoder(kix.PostingBytes(m))
	posDec := NewPosDecoder(kpx.PositionBytes(m))
	for i := uint32(0); i < count; i++ {
		oid, ok, err := idDec.Next()
		if err != nil || !ok {
			return
		}
		wasNewSeq := idDec.WasNewSeq()
		_, err = posDec.Next(wasNewSeq)
		if err != nil {
			return
		}
		if !filter.Pass(oid) {
			continue
		}
		b.touch(oid)
		b.matchScore[oid]++
		if b.lastSeenPos[oid] != int32(qpos) {
			b.lastSeenPos[oid] = int32(qpos)
			b.coverScore[oid]++
		}
	}
}

// RunStage1 scores every oid in one volume touched by qkmers, applies the
// OID filter, truncates to topN by the configured score type, and returns
// candidates sorted by descending score then ascending oid for
// determinism.
func RunStage1(buf *Stage1Buffer, kix *index.KixReader, kpx *index.KpxReader, qkmers []QKmer, scoreType ScoreType, minScore, topN int, filter *OidFilter) []Stage1Candidate {
	buf.Reset()
	for _, qk := range qkmers {
		buf.accumulate(kix, kpx, uint32(qk.Kmer), qk.QPos, filter)
	}

	cands := make([]Stage1Candidate, 0, len(buf.dirty))
	for _, oid := range buf.dirty {
		var score int32
		if scoreType == ScoreMatches {
			score = buf.matchScore[oid]
		} else {
			score = buf.coverScore[oid]
		}
		if int(score) < minScore {
			continue
		}
		cands = append(cands, Stage1Candidate{OID: oid, Score: score})
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].OID < cands[j].OID
	})
	if topN > 0 && len(cands) > topN {
		cands = cands[:topN]
	}
	return cands
}
