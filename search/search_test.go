package search

import (
	"io"
	"testing"

	"github.com/astanabe/ikafssn-sub000/config"
	"github.com/astanabe/ikafssn-sub000/kmer"
	"github.com/astanabe/ikafssn-sub000/logutil"
	"github.com/astanabe/ikafssn-sub000/seqsrc"
)

// fakeSource is a minimal seqsrc.SequenceSource over an in-memory set of
// bases, for stage-3 tests that don't need a real FASTA file.
type fakeSource struct {
	bases []byte
}

func (f fakeSource) NumSequences() int { return 1 }

func (f fakeSource) Sequence(oid int) (seqsrc.Record, error) {
	return seqsrc.Record{Bases: f.bases, Accession: "s0"}, nil
}

func TestExtractKmersNoAmbiguity(t *testing.T) {
	seq := []byte("ACGTACGTACGT")
	groups, multiDegen := extractKmers(seq, 4)
	if multiDegen != 0 {
		t.Fatalf("multiDegen = %d, want 0", multiDegen)
	}
	wantWindows := len(seq) - 4 + 1
	if len(groups) != wantWindows {
		t.Fatalf("got %d groups, want %d", len(groups), wantWindows)
	}
	for _, g := range groups {
		if len(g.kmers) != 1 {
			t.Fatalf("pos %d: got %d kmers, want 1 (unambiguous)", g.pos, len(g.kmers))
		}
	}
}

func TestExtractKmersSingleAmbiguity(t *testing.T) {
	seq := []byte("ACGTNCGTACGT") // N at index 4
	groups, multiDegen := extractKmers(seq, 4)
	if multiDegen != 0 {
		t.Fatalf("multiDegen = %d, want 0 (only single-ambiguity windows here)", multiDegen)
	}
	for _, g := range groups {
		if g.pos <= 4 && g.pos+4 > 4 {
			if len(g.kmers) != 4 {
				t.Fatalf("pos %d spanning the N: got %d expansions, want 4", g.pos, len(g.kmers))
			}
		}
	}
}

func TestExtractKmersMultiAmbiguitySkipped(t *testing.T) {
	seq := []byte("ACNNGTACGT") // two ambiguous bases adjacent
	_, multiDegen := extractKmers(seq, 4)
	if multiDegen == 0 {
		t.Fatalf("expected at least one multi-ambiguity window to be skipped")
	}
}

func TestRevcompGroupsPositionMapping(t *testing.T) {
	seq := []byte("ACGTACGT")
	k := 4
	fwd, _ := extractKmers(seq, k)
	rc := revcompGroups(fwd, len(seq), k)
	if len(rc) != len(fwd) {
		t.Fatalf("rc groups len = %d, want %d", len(rc), len(fwd))
	}
	for i := 0; i < len(rc)-1; i++ {
		if rc[i].pos > rc[i+1].pos {
			t.Fatalf("rc groups not sorted by position at index %d", i)
		}
	}
}

func TestResolveMaxFreqAutoClamp(t *testing.T) {
	cfg := config.Stage1Config{}
	got := resolveMaxFreq(cfg, nil)
	if got != minAutoFreq {
		t.Fatalf("resolveMaxFreq with no volumes = %d, want floor %d", got, minAutoFreq)
	}
}

func TestDedupeHits(t *testing.T) {
	qpos := []uint32{1, 1, 2}
	spos := []uint32{10, 10, 11}
	hits := dedupeHits(qpos, spos)
	if len(hits) != 2 {
		t.Fatalf("got %d deduped hits, want 2", len(hits))
	}
}

func TestFilterDiagonalsDropsSparse(t *testing.T) {
	hits := []diagHit{
		{qPos: 0, sPos: 100, diag: 100},
		{qPos: 5, sPos: 105, diag: 100},
		{qPos: 10, sPos: 300, diag: 290}, // lone hit on its own diagonal
	}
	filtered := filterDiagonals(hits, 2)
	if len(filtered) != 2 {
		t.Fatalf("got %d hits after diagonal filter, want 2", len(filtered))
	}
	for _, h := range filtered {
		if h.diag == 290 {
			t.Fatalf("lone-diagonal hit should have been dropped")
		}
	}
}

func TestChainHitsBuildsCollinearChain(t *testing.T) {
	qpos := []uint32{0, 10, 20, 30}
	spos := []uint32{100, 110, 120, 130}
	chain := ChainHits(5, 4, qpos, spos, 50, 1, 0, 2, false)
	if chain == nil {
		t.Fatal("expected a chain")
	}
	if chain.ChainScore != 4 {
		t.Fatalf("chain score = %d, want 4", chain.ChainScore)
	}
	if chain.QStart != 0 || chain.QEnd != 30 {
		t.Fatalf("chain span = [%d,%d], want [0,30]", chain.QStart, chain.QEnd)
	}
}

func TestChainHitsRejectsBelowMinScore(t *testing.T) {
	qpos := []uint32{0}
	spos := []uint32{100}
	chain := ChainHits(5, 1, qpos, spos, 50, 1, 0, 3, false)
	if chain != nil {
		t.Fatalf("expected nil chain below min score, got %+v", chain)
	}
}

func TestBandedAlignPerfectMatch(t *testing.T) {
	seq := []byte("ACGTACGTACGT")
	res := BandedAlign(seq, seq, 4, 10, 1)
	if res.NMismatch != 0 {
		t.Fatalf("NMismatch = %d, want 0 for identical sequences", res.NMismatch)
	}
	if res.NIdent != len(seq) {
		t.Fatalf("NIdent = %d, want %d", res.NIdent, len(seq))
	}
}

func TestBandedAlignDetectsMismatch(t *testing.T) {
	query := []byte("ACGTACGTACGT")
	subject := []byte("ACGTACCTACGT") // single substitution at index 6
	res := BandedAlign(query, subject, 4, 10, 1)
	if res.NMismatch != 1 {
		t.Fatalf("NMismatch = %d, want 1", res.NMismatch)
	}
}

func TestCompressCIGAR(t *testing.T) {
	cigar := compressCIGAR([]byte("MMMXXMII"))
	if cigar != "3=2X1=2I" {
		t.Fatalf("compressCIGAR = %q, want %q", cigar, "3=2X1=2I")
	}
}

func TestCompressCIGARExactMatchUsesEqualsOp(t *testing.T) {
	cigar := compressCIGAR([]byte("MMMM"))
	if cigar != "4=" {
		t.Fatalf("compressCIGAR = %q, want %q", cigar, "4=")
	}
}

func TestOidFilterModes(t *testing.T) {
	f := &OidFilter{mode: OidFilterInclude, bitset: []bool{true, false, true}, numSeqs: 3}
	if !f.Pass(0) || f.Pass(1) || !f.Pass(2) {
		t.Fatal("include-mode filter did not match expected bitset")
	}
	f2 := &OidFilter{mode: OidFilterExclude, bitset: []bool{true, false, true}, numSeqs: 3}
	if f2.Pass(0) || !f2.Pass(1) || f2.Pass(2) {
		t.Fatal("exclude-mode filter did not match expected bitset")
	}
	var nilFilter *OidFilter
	if !nilFilter.Pass(42) {
		t.Fatal("nil filter must always pass")
	}
}

func TestAlignStage3PIdentIsPercentage(t *testing.T) {
	seq := []byte("ACGTACGTACGT")
	hit := &OutputHit{ChainResult: ChainResult{SStart: 0, SEnd: uint32(len(seq))}}
	cfg := config.Stage3Config{GapOpen: 10, GapExt: 1, Traceback: true, ContextAbs: 8}
	keep := alignStage3(hit, seq, fakeSource{bases: seq}, cfg)
	if !keep {
		t.Fatal("exact match should not be dropped")
	}
	if hit.PIdent != 100.0 {
		t.Fatalf("PIdent = %v, want 100.0", hit.PIdent)
	}
	if hit.NIdent != len(seq) || hit.NMismatch != 0 {
		t.Fatalf("NIdent/NMismatch = %d/%d, want %d/0", hit.NIdent, hit.NMismatch, len(seq))
	}
	want := "12="
	if hit.CIGAR != want {
		t.Fatalf("CIGAR = %q, want %q", hit.CIGAR, want)
	}
}

func TestAlignStage3DropsBelowMinPident(t *testing.T) {
	query := []byte("ACGTACGTACGT")
	subject := []byte("ACGTACCTACGT") // one substitution
	hit := &OutputHit{ChainResult: ChainResult{SStart: 0, SEnd: uint32(len(subject))}}
	cfg := config.Stage3Config{GapOpen: 10, GapExt: 1, Traceback: true, ContextAbs: 8, MinPident: 95}
	if alignStage3(hit, query, fakeSource{bases: subject}, cfg) {
		t.Fatalf("expected hit below min_pident to be dropped, got PIdent=%v", hit.PIdent)
	}
}

func TestAlignStage3TracebackFalseSkipsIdentity(t *testing.T) {
	seq := []byte("ACGTACGTACGT")
	hit := &OutputHit{ChainResult: ChainResult{SStart: 0, SEnd: uint32(len(seq))}}
	cfg := config.Stage3Config{GapOpen: 10, GapExt: 1, Traceback: false, ContextAbs: 8, MinPident: 100}
	if !alignStage3(hit, seq, fakeSource{bases: seq}, cfg) {
		t.Fatal("with traceback off the min_pident filter must not drop the hit")
	}
	if hit.CIGAR != "" || hit.NIdent != 0 || hit.NMismatch != 0 || hit.PIdent != 0 {
		t.Fatalf("traceback off should leave identity fields unset, got %+v", hit)
	}
	if hit.AlignScore == 0 {
		t.Fatal("traceback off should still compute the alignment score")
	}
}

func TestReverseComplementBases(t *testing.T) {
	got := string(kmer.ReverseComplementBases([]byte("AACG")))
	if got != "CGTT" {
		t.Fatalf("ReverseComplementBases(AACG) = %q, want %q", got, "CGTT")
	}
	if got := string(kmer.ReverseComplementBases([]byte("N"))); got != "N" {
		t.Fatalf("ReverseComplementBases(N) = %q, want N", got)
	}
}

func TestPreprocessQuerySkipsAmbiguousQueryWhenNotAccepted(t *testing.T) {
	cfg := config.SearchConfig{K: 4, Strand: 2, AcceptQDegen: false}
	data := PreprocessQuery([]byte("ACGTNCGTACGT"), cfg.K, nil, nil, cfg, logutil.New(io.Discard, logutil.LevelWarn))
	if !data.Skipped {
		t.Fatal("query containing an ambiguity code should be skipped when accept_qdegen is false")
	}
}

func TestPreprocessQueryAcceptsAmbiguousQueryWhenConfigured(t *testing.T) {
	cfg := config.SearchConfig{K: 4, Strand: 2, AcceptQDegen: true}
	data := PreprocessQuery([]byte("ACGTNCGTACGT"), cfg.K, nil, nil, cfg, logutil.New(io.Discard, logutil.LevelWarn))
	if data.Skipped {
		t.Fatal("accept_qdegen=true should not skip a query with ambiguity codes")
	}
}

func TestStage1BufferResetOnlyTouchesDirty(t *testing.T) {
	buf := NewStage1Buffer(10)
	buf.touch(3)
	buf.coverScore[3] = 5
	buf.matchScore[3] = 7
	buf.Reset()
	if buf.coverScore[3] != 0 || buf.matchScore[3] != 0 || buf.lastSeenPos[3] != -1 {
		t.Fatal("Reset did not clear a touched oid")
	}
	if len(buf.dirty) != 0 {
		t.Fatalf("dirty list not cleared after Reset, len=%d", len(buf.dirty))
	}
}
