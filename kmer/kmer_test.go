package kmer

import "testing"

func TestEncodeBase(t *testing.T) {
	tests := []struct {
		c    byte
		want int
	}{
		{'A', 0}, {'a', 0},
		{'C', 1}, {'c', 1},
		{'G', 2}, {'g', 2},
		{'T', 3}, {'t', 3},
		{'N', Invalid},
		{'R', Invalid},
		{'-', Invalid},
	}
	for _, tt := range tests {
		if got := EncodeBase(tt.c); got != tt.want {
			t.Fatalf("EncodeBase(%q) = %d, want %d", tt.c, got, tt.want)
		}
	}
}

func TestRevcompInvolution(t *testing.T) {
	for k := 4; k <= MaxK; k++ {
		n := uint64(1) << uint(2*k)
		// Exhaustive for small k; for larger k sample a stride to keep
		// the test fast.
		step := uint64(1)
		if n > 20000 {
			step = n / 20000
		}
		for m := uint64(0); m < n; m += step {
			got := Revcomp(Revcomp(m, k), k)
			if got != m {
				t.Fatalf("k=%d kmer=%d: revcomp(revcomp(x))=%d, want %d", k, m, got, m)
			}
		}
	}
}

func TestRevcompKnown(t *testing.T) {
	// k=4, "ACGT" -> packed as A=0,C=1,G=2,T=3 -> 0b00_01_10_11 = 0x1B.
	// revcomp("ACGT") = "ACGT" is NOT generally true; compute by hand:
	// complement of ACGT is TGCA, reversed is ACGT... wait: complement
	// A<->T, C<->G, so ACGT -> TGCA, then reverse -> ACGT. So ACGT is
	// a revcomp palindrome.
	k := 4
	var kmer uint64
	for _, c := range []byte("ACGT") {
		kmer = (kmer << 2) | uint64(EncodeBase(c))
	}
	got := Revcomp(kmer, k)
	if got != kmer {
		t.Fatalf("revcomp(ACGT) = %d, want %d (palindrome)", got, kmer)
	}
}

func TestScannerBasic(t *testing.T) {
	seq := []byte("ACGTACGT")
	sc, err := NewScanner(seq, 4)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	var positions []int
	sc.Scan(func(pos int, kmer uint64) {
		positions = append(positions, pos)
	})
	want := []int{0, 1, 2, 3, 4}
	if len(positions) != len(want) {
		t.Fatalf("got %d positions, want %d", len(positions), len(want))
	}
	for i := range want {
		if positions[i] != want[i] {
			t.Fatalf("position[%d] = %d, want %d", i, positions[i], want[i])
		}
	}
}

func TestScannerResetsOnInvalid(t *testing.T) {
	seq := []byte("ACNGTACGT")
	sc, err := NewScanner(seq, 4)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	var n int
	sc.Scan(func(pos int, kmer uint64) { n++ })
	// Valid runs: "GTACGT" (len 6) -> 3 windows of k=4; "AC" too short.
	if n != 3 {
		t.Fatalf("got %d windows, want 3", n)
	}
}

func TestPackedScannerNoAmbiguity(t *testing.T) {
	seq := []byte("ACGTACGT")
	ps, err := NewPackedScanner(seq, 4, nil)
	if err != nil {
		t.Fatalf("NewPackedScanner: %v", err)
	}
	var normalCount, degenCount int
	multi := ps.Scan(
		func(pos int, kmer uint64) { normalCount++ },
		func(pos int, baseKmer uint64, mask uint8, bitOffset uint) { degenCount++ },
	)
	if normalCount != 5 || degenCount != 0 || multi != 0 {
		t.Fatalf("normal=%d degen=%d multi=%d, want 5,0,0", normalCount, degenCount, multi)
	}
}

func TestPackedScannerSingleAmbiguity(t *testing.T) {
	// "ACNTACGT": N at position 2 is a single ambiguity (mask = all 4
	// bases) inside every window that covers it.
	seq := []byte("ACNTACGT")
	runs := []AmbiguityRun{{StartPos: 2, RunLen: 1, Mask: IUPACMask('N')}}
	ps, err := NewPackedScanner(seq, 4, runs)
	if err != nil {
		t.Fatalf("NewPackedScanner: %v", err)
	}
	var normalCount, degenCount, expansions int
	multi := ps.Scan(
		func(pos int, kmer uint64) { normalCount++ },
		func(pos int, baseKmer uint64, mask uint8, bitOffset uint) {
			degenCount++
			ExpandDegenerate(baseKmer, mask, bitOffset, func(kmer uint64) { expansions++ })
		},
	)
	if multi != 0 {
		t.Fatalf("multi = %d, want 0", multi)
	}
	// Windows covering position 2 with k=4: starts at max(0,2-3)=0 through 2.
	// windows: [0,3], [1,4], [2,5] all contain pos 2 -> 3 degenerate windows.
	if degenCount != 3 {
		t.Fatalf("degenCount = %d, want 3", degenCount)
	}
	if expansions != 3*4 {
		t.Fatalf("expansions = %d, want %d", expansions, 3*4)
	}
	if normalCount != 5-3 {
		t.Fatalf("normalCount = %d, want %d", normalCount, 5-3)
	}
}

func TestPackedScannerMultiAmbiguity(t *testing.T) {
	seq := []byte("ANNTACGT")
	runs := []AmbiguityRun{{StartPos: 1, RunLen: 2, Mask: IUPACMask('N')}}
	ps, err := NewPackedScanner(seq, 4, runs)
	if err != nil {
		t.Fatalf("NewPackedScanner: %v", err)
	}
	multi := ps.Scan(func(pos int, kmer uint64) {}, func(pos int, baseKmer uint64, mask uint8, bitOffset uint) {})
	if multi == 0 {
		t.Fatalf("expected at least one multi-degenerate window")
	}
}

func TestTypeForK(t *testing.T) {
	tests := []struct {
		k    int
		want Type
	}{
		{4, TypeNarrow}, {8, TypeNarrow}, {9, TypeWide}, {13, TypeWide},
	}
	for _, tt := range tests {
		if got := TypeForK(tt.k); got != tt.want {
			t.Fatalf("TypeForK(%d) = %v, want %v", tt.k, got, tt.want)
		}
	}
}
