// Package search implements the three-stage similarity search pipeline:
// query preprocessing, stage-1 candidate filtering, stage-2 chaining, and
// stage-3 banded alignment, plus the OID filter and the (query, volume)
// concurrency harness that drives them.
package search

// QKmer is one query k-mer occurrence: the query position it starts at and
// its packed integer value.
type QKmer struct {
	QPos uint32
	Kmer uint64
}

// Stage1Candidate is a reference sequence that passed stage 1 for a given
// query and strand.
type Stage1Candidate struct {
	OID   uint32
	Score int32
}

// ChainResult is the outcome of stage-2 chaining for one stage-1
// candidate.
type ChainResult struct {
	OID         uint32
	ChainScore  int32
	Stage1Score int32
	QStart      uint32
	QEnd        uint32
	SStart      uint32
	SEnd        uint32
	IsReverse   bool
}

// OutputHit augments a ChainResult with the fields only resolvable once
// the candidate's volume and (optionally) stage-3 alignment are known.
type OutputHit struct {
	ChainResult
	Accession string
	Volume    int
	QLen      uint32
	SLen      uint32

	// Populated only when stage 3 ran.
	AlignScore int32
	CIGAR      string
	NIdent     int
	NMismatch  int
	PIdent     float64
}
