package build

import (
	"math"

	"github.com/astanabe/ikafssn-sub000/index"
)

// ComputeHighFreq builds a shared .khx bitset over a set of already-built
// volumes: bit m is set when the aggregate postings count for k-mer m
// across every volume meets or exceeds maxFreq. maxFreq<=0 auto-resolves
// from the mean postings-per-kmer the same way the query-time fallback in
// search/preprocess.go does, clamped to [1000,100000], so an index built
// without an explicit threshold still gets a sane default mask.
func ComputeHighFreq(vols []*index.Volume, maxFreq int) []byte {
	if len(vols) == 0 {
		return nil
	}
	k := vols[0].Kix.K()
	numKmers := index.NumKmers(k)

	if maxFreq <= 0 {
		var totalPostings, totalSlots uint64
		for _, v := range vols {
			totalPostings += v.Kix.TotalPostings()
			totalSlots += uint64(v.Kix.NumKmers())
		}
		maxFreq = minAutoFreqBuild
		if totalSlots > 0 {
			mean := float64(totalPostings) / float64(totalSlots)
			maxFreq = int(math.Ceil(10 * mean))
		}
		if maxFreq < minAutoFreqBuild {
			maxFreq = minAutoFreqBuild
		}
		if maxFreq > maxAutoFreqBuild {
			maxFreq = maxAutoFreqBuild
		}
	}

	bits := make([]byte, (numKmers+7)/8)
	for m := 0; m < numKmers; m++ {
		var total uint64
		for _, v := range vols {
			total += uint64(v.Kix.Count(uint32(m)))
		}
		if total >= uint64(maxFreq) {
			bits[m/8] |= 1 << uint(m%8)
		}
	}
	return bits
}

const (
	minAutoFreqBuild = 1000
	maxAutoFreqBuild = 100000
)

// WriteHighFreq computes and writes the shared .khx for vols to path.
func WriteHighFreq(path string, vols []*index.Volume, maxFreq int) error {
	if len(vols) == 0 {
		return nil
	}
	k := vols[0].Kix.K()
	bits := ComputeHighFreq(vols, maxFreq)
	return index.WriteKhx(path, k, bits)
}
