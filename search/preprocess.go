package search

import (
	"math"
	"sort"

	"github.com/astanabe/ikafssn-sub000/config"
	"github.com/astanabe/ikafssn-sub000/index"
	"github.com/astanabe/ikafssn-sub000/kmer"
	"github.com/astanabe/ikafssn-sub000/logutil"
)

// QueryKmerData is the per-query, per-strand output of PreprocessQuery: the
// grouped k-mer occurrences each strand will drive through stage 1, plus
// the resolved stage-1 and stage-2 thresholds for that strand.
type QueryKmerData struct {
	FwdKmers []QKmer
	RCKmers  []QKmer

	ResolvedThresholdFwd int
	ResolvedThresholdRC  int

	// EffectiveMinScoreFwd/RC mirror ResolvedThreshold*, kept distinct
	// because a strand can be cleared (threshold meaningless) while the
	// other strand still carries a real floor.
	EffectiveMinScoreFwd int
	EffectiveMinScoreRC  int

	HasMultiDegen bool

	// Skipped is set when accept_qdegen is false and the query carries any
	// IUPAC ambiguity code; the query is reported back to the caller as
	// skipped rather than searched, per §6's accept_qdegen option.
	Skipped bool
}

// minAutoFreq/maxAutoFreq clamp the auto-resolved max_freq per §4.E.
const (
	minAutoFreq = 1000
	maxAutoFreq = 100000
)

type posKmers struct {
	pos   int
	kmers []uint64
}

// extractKmers runs a PackedScanner over seq and groups every window's
// k-mer value(s) by query position: unambiguous windows contribute one
// value, single-ambiguity windows contribute every expansion, and
// multi-ambiguity windows are dropped (counted into multiDegen).
func extractKmers(seq []byte, k int) (groups []posKmers, multiDegen int) {
	runs := kmer.FindAmbiguityRuns(seq)
	scanner, err := kmer.NewPackedScanner(seq, k, runs)
	if err != nil {
		return nil, 0
	}
	byPos := make(map[int][]uint64)
	var order []int
	normal := func(pos int, km uint64) {
		if _, seen := byPos[pos]; !seen {
			order = append(order, pos)
		}
		byPos[pos] = append(byPos[pos], km)
	}
	degenerate := func(pos int, baseKmer uint64, mask uint8, bitOffset uint) {
		if _, seen := byPos[pos]; !seen {
			order = append(order, pos)
		}
		kmer.ExpandDegenerate(baseKmer, mask, bitOffset, func(km uint64) {
			byPos[pos] = append(byPos[pos], km)
		})
	}
	multiDegen = scanner.Scan(normal, degenerate)

	groups = make([]posKmers, 0, len(order))
	for _, p := range order {
		groups = append(groups, posKmers{pos: p, kmers: byPos[p]})
	}
	return groups, multiDegen
}

// revcompGroups builds the reverse-complement strand's position groups from
// the forward strand's, per §4.E: RC position = qlen-k-fwdPos, and the
// groups must be re-sorted since that mapping reverses scan order.
func revcompGroups(fwd []posKmers, qlen, k int) []posKmers {
	rc := make([]posKmers, len(fwd))
	for i, g := range fwd {
		rcPos := qlen - k - g.pos
		rcKmers := make([]uint64, len(g.kmers))
		for j, km := range g.kmers {
			rcKmers[j] = kmer.Revcomp(km, k)
		}
		rc[i] = posKmers{pos: rcPos, kmers: rcKmers}
	}
	sort.Slice(rc, func(i, j int) bool { return rc[i].pos < rc[j].pos })
	return rc
}

func flattenGroups(groups []posKmers) []QKmer {
	var out []QKmer
	for _, g := range groups {
		for _, km := range g.kmers {
			out = append(out, QKmer{QPos: uint32(g.pos), Kmer: km})
		}
	}
	return out
}

// resolveMaxFreq picks the high-frequency exclusion threshold per §4.E's
// priority: explicit absolute, then fractional over total sequences across
// open volumes, then an auto estimate from mean postings-per-kmer.
func resolveMaxFreq(cfg config.Stage1Config, vols []*index.Volume) int {
	if cfg.MaxFreq > 0 {
		return cfg.MaxFreq
	}
	var totalSeqs uint64
	for _, v := range vols {
		totalSeqs += uint64(v.Kix.NumSequences())
	}
	if cfg.MaxFreqFrac > 0 {
		return int(math.Ceil(cfg.MaxFreqFrac * float64(totalSeqs)))
	}
	var totalPostings uint64
	var totalSlots uint64
	for _, v := range vols {
		totalPostings += v.Kix.TotalPostings()
		totalSlots += uint64(v.Kix.NumKmers())
	}
	auto := minAutoFreq
	if totalSlots > 0 {
		mean := float64(totalPostings) / float64(totalSlots)
		auto = int(math.Ceil(10 * mean))
	}
	if auto < minAutoFreq {
		auto = minAutoFreq
	}
	if auto > maxAutoFreq {
		auto = maxAutoFreq
	}
	return auto
}

// isHighFreq reports whether k-mer m's aggregate count across vols meets or
// exceeds maxFreq, or m is marked excluded in khx.
func isHighFreq(m uint64, vols []*index.Volume, khx *index.KhxReader, maxFreq int) bool {
	if khx != nil && khx.IsExcluded(uint32(m)) {
		return true
	}
	var total uint64
	for _, v := range vols {
		total += uint64(v.Kix.Count(uint32(m)))
	}
	return total >= uint64(maxFreq)
}

// resolveThreshold implements §4.E's per-strand floor: Nqkmer counts
// distinct position groups (pre-filter); Nhighfreq counts groups where
// every associated k-mer value is high-frequency. When min_score_frac is
// configured and the resolved value is <= 0, the caller must treat the
// strand as unsearchable (clear its k-mer list) rather than use 0 as a
// literal floor, since an absolute floor of 0 means "no floor" elsewhere.
func resolveThreshold(cfg config.Stage1Config, groups []posKmers, vols []*index.Volume, khx *index.KhxReader, maxFreq int) (threshold int, unsearchable bool) {
	if cfg.MinScoreFrac <= 0 {
		return cfg.MinScore, false
	}
	nQKmer := len(groups)
	nHighFreq := 0
	for _, g := range groups {
		allHigh := len(g.kmers) > 0
		for _, km := range g.kmers {
			if !isHighFreq(km, vols, khx, maxFreq) {
				allHigh = false
				break
			}
		}
		if allHigh {
			nHighFreq++
		}
	}
	resolved := int(math.Ceil(cfg.MinScoreFrac*float64(nQKmer))) - nHighFreq
	if resolved <= 0 {
		return 0, true
	}
	return resolved, false
}

// PreprocessQuery implements §4.E: extracting forward and reverse-
// complement k-mer groups from query, resolving the global high-frequency
// exclusion set, and resolving each requested strand's stage-1 floor.
func PreprocessQuery(query []byte, k int, vols []*index.Volume, khx *index.KhxReader, cfg config.SearchConfig, logger *logutil.Logger) *QueryKmerData {
	if !cfg.AcceptQDegen && len(kmer.FindAmbiguityRuns(query)) > 0 {
		if logger != nil {
			logger.Warnf("search: skipping query with ambiguity code (accept_qdegen=false)")
		}
		return &QueryKmerData{Skipped: true}
	}

	fwdGroups, multiDegen := extractKmers(query, k)
	rcGroups := revcompGroups(fwdGroups, len(query), k)

	maxFreq := resolveMaxFreq(cfg.Stage1, vols)

	data := &QueryKmerData{HasMultiDegen: multiDegen > 0}

	dropHighFreq := func(qks []QKmer) []QKmer {
		out := qks[:0]
		for _, qk := range qks {
			if !isHighFreq(qk.Kmer, vols, khx, maxFreq) {
				out = append(out, qk)
			}
		}
		return out
	}

	wantFwd := cfg.Strand == 1 || cfg.Strand == 2
	wantRC := cfg.Strand == -1 || cfg.Strand == 2

	if wantFwd {
		th, unsearchable := resolveThreshold(cfg.Stage1, fwdGroups, vols, khx, maxFreq)
		if unsearchable {
			if logger != nil {
				logger.Warnf("search: forward strand unsearchable after high-frequency resolution, skipping")
			}
			data.FwdKmers = nil
		} else {
			data.FwdKmers = dropHighFreq(flattenGroups(fwdGroups))
		}
		data.ResolvedThresholdFwd = th
		data.EffectiveMinScoreFwd = th
	}
	if wantRC {
		th, unsearchable := resolveThreshold(cfg.Stage1, rcGroups, vols, khx, maxFreq)
		if unsearchable {
			if logger != nil {
				logger.Warnf("search: reverse-complement strand unsearchable after high-frequency resolution, skipping")
			}
			data.RCKmers = nil
		} else {
			data.RCKmers = dropHighFreq(flattenGroups(rcGroups))
		}
		data.ResolvedThresholdRC = th
		data.EffectiveMinScoreRC = th
	}

	return data
}
