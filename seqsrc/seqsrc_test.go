package seqsrc

import (
	"strings"
	"testing"
)

func TestReadFasta(t *testing.T) {
	text := ">seq1 description\nACGTACGT\n>seq2\nACGTNNACGT\n"
	fs, err := readFasta(strings.NewReader(text))
	if err != nil {
		t.Fatalf("readFasta: %v", err)
	}
	if fs.NumSequences() != 2 {
		t.Fatalf("NumSequences() = %d, want 2", fs.NumSequences())
	}
	r0, err := fs.Sequence(0)
	if err != nil {
		t.Fatalf("Sequence(0): %v", err)
	}
	if r0.Accession != "seq1" {
		t.Fatalf("Accession = %q, want seq1", r0.Accession)
	}
	if len(r0.Ambiguity) != 0 {
		t.Fatalf("expected no ambiguity runs in seq1, got %v", r0.Ambiguity)
	}

	r1, err := fs.Sequence(1)
	if err != nil {
		t.Fatalf("Sequence(1): %v", err)
	}
	if len(r1.Ambiguity) != 1 {
		t.Fatalf("expected one ambiguity run in seq2, got %v", r1.Ambiguity)
	}
	if r1.Ambiguity[0].StartPos != 4 || r1.Ambiguity[0].RunLen != 2 {
		t.Fatalf("unexpected ambiguity run: %+v", r1.Ambiguity[0])
	}
}

func TestSequenceOutOfRange(t *testing.T) {
	fs, err := readFasta(strings.NewReader(">s\nACGT\n"))
	if err != nil {
		t.Fatalf("readFasta: %v", err)
	}
	if _, err := fs.Sequence(5); err == nil {
		t.Fatalf("expected error for out-of-range oid")
	}
}
