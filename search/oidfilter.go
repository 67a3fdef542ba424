package search

import (
	farm "github.com/dgryski/go-farm"

	"github.com/astanabe/ikafssn-sub000/index"
	"github.com/astanabe/ikafssn-sub000/logutil"
)

// OidFilterMode selects how OidFilter.Pass treats the accession bitset.
type OidFilterMode int

const (
	OidFilterNone OidFilterMode = iota
	OidFilterInclude
	OidFilterExclude
)

type accEntry struct {
	acc string
	oid uint32
}

// accessionIndex is a farmhash-bucketed accession->oid lookup built once
// per volume's ksx, used instead of a plain Go map so the hash function
// driving the bucket choice is the same one the rest of the domain stack
// uses for content-addressed lookups.
type accessionIndex struct {
	buckets map[uint64][]accEntry
}

func newAccessionIndex(ksx *index.KsxReader) *accessionIndex {
	n := ksx.NumSequences()
	idx := &accessionIndex{buckets: make(map[uint64][]accEntry, n)}
	for oid := uint32(0); oid < n; oid++ {
		acc := ksx.Accession(oid)
		h := farm.Hash64([]byte(acc))
		idx.buckets[h] = append(idx.buckets[h], accEntry{acc: acc, oid: oid})
	}
	return idx
}

func (idx *accessionIndex) lookup(acc string) (uint32, bool) {
	h := farm.Hash64([]byte(acc))
	for _, e := range idx.buckets[h] {
		if e.acc == acc {
			return e.oid, true
		}
	}
	return 0, false
}

// OidFilter is a per-volume accession allow/deny bitset, applied inside
// stage 1.
type OidFilter struct {
	mode    OidFilterMode
	bitset  []bool
	numSeqs uint32
}

// BuildOidFilter resolves accessions against ksx and constructs the
// bitset; unresolved accessions are warned about and skipped, never
// failing the build.
func BuildOidFilter(ksx *index.KsxReader, accessions []string, mode OidFilterMode, logger *logutil.Logger) *OidFilter {
	n := ksx.NumSequences()
	f := &OidFilter{mode: mode, bitset: make([]bool, n), numSeqs: n}
	if mode == OidFilterNone || len(accessions) == 0 {
		return f
	}
	idx := newAccessionIndex(ksx)
	for _, acc := range accessions {
		oid, ok := idx.lookup(acc)
		if !ok {
			if logger != nil {
				logger.Warnf("oid filter: unresolved accession %q", acc)
			}
			continue
		}
		f.bitset[oid] = true
	}
	return f
}

// Pass reports whether oid is admitted by the filter. A nil filter or
// OidFilterNone always passes.
func (f *OidFilter) Pass(oid uint32) bool {
	if f == nil || f.mode == OidFilterNone {
		return true
	}
	if oid >= f.numSeqs {
		return f.mode == OidFilterExclude
	}
	if f.mode == OidFilterInclude {
		return f.bitset[oid]
	}
	return !f.bitset[oid]
}
