package build

import (
	"os"
	"testing"
)

func TestPostingEntriesLessOrdersByKmerThenOidThenPos(t *testing.T) {
	a := postingEntry{kmer: 1, oid: 0, pos: 5}
	b := postingEntry{kmer: 1, oid: 0, pos: 6}
	c := postingEntry{kmer: 1, oid: 1, pos: 0}
	d := postingEntry{kmer: 2, oid: 0, pos: 0}
	p := postingEntries{d, c, b, a}
	if !p.Less(3, 2) {
		t.Fatal("a should sort before b (same kmer/oid, lower pos)")
	}
	if !entryLess(b, c) {
		t.Fatal("b should sort before c (same kmer, lower oid)")
	}
	if !entryLess(c, d) {
		t.Fatal("c should sort before d (lower kmer)")
	}
}

func TestSortEntriesOrdersInPlace(t *testing.T) {
	p := postingEntries{
		{kmer: 3, oid: 0, pos: 0},
		{kmer: 1, oid: 2, pos: 0},
		{kmer: 1, oid: 0, pos: 9},
		{kmer: 1, oid: 0, pos: 1},
	}
	sortEntries(p)
	for i := 0; i < len(p)-1; i++ {
		if p.Less(i+1, i) {
			t.Fatalf("not sorted at index %d: %+v then %+v", i, p[i], p[i+1])
		}
	}
}

func TestPartitionSpillerFlushAndMerge(t *testing.T) {
	dir := t.TempDir()
	// budget of 2 forces a flush every other add.
	s := newPartitionSpiller(dir, 0, 2)
	entries := []postingEntry{
		{kmer: 5, oid: 0, pos: 0},
		{kmer: 1, oid: 0, pos: 0},
		{kmer: 3, oid: 1, pos: 2},
		{kmer: 2, oid: 0, pos: 1},
		{kmer: 4, oid: 2, pos: 0},
	}
	for _, e := range entries {
		if err := s.add(e); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if len(s.runPaths) == 0 {
		t.Fatal("expected at least one spilled run given budget=2 and 5 entries")
	}

	merged, err := mergePartition(s)
	if err != nil {
		t.Fatalf("mergePartition: %v", err)
	}
	if len(merged) != len(entries) {
		t.Fatalf("merged len = %d, want %d", len(merged), len(entries))
	}
	for i := 0; i < len(merged)-1; i++ {
		if entryLess(merged[i+1], merged[i]) {
			t.Fatalf("merged output not sorted at %d: %+v then %+v", i, merged[i], merged[i+1])
		}
	}
	s.cleanup()
	for _, p := range s.runPaths {
		if _, err := os.Stat(p); err == nil {
			t.Fatalf("expected spill run %s to be removed after cleanup", p)
		}
	}
}
