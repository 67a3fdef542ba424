package search

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/astanabe/ikafssn-sub000/config"
	"github.com/astanabe/ikafssn-sub000/index"
	"github.com/astanabe/ikafssn-sub000/kmer"
	"github.com/astanabe/ikafssn-sub000/logutil"
	"github.com/astanabe/ikafssn-sub000/seqsrc"
)

// Scheduling selects the concurrency grain the harness fans work out at:
// one goroutine per query (volumes scanned serially within it), or one
// goroutine per (query, volume) pair.
type Scheduling int

const (
	// ScheduleByQuery parallelizes across queries only.
	ScheduleByQuery Scheduling = iota
	// ScheduleByQueryVolume parallelizes across both queries and volumes.
	ScheduleByQueryVolume
)

// Query is one input sequence to search.
type Query struct {
	ID       string
	Sequence []byte
}

// Database bundles the open volumes and optional shared khx a search runs
// against.
type Database struct {
	Volumes []*index.Volume
	Khx     *index.KhxReader

	// Sequences provides subject bases for stage 3, one source per volume
	// in the same order as Volumes. Nil entries (or a nil slice) skip
	// stage 3 for that volume, downgrading its hits to chain-only.
	Sequences []seqsrc.SequenceSource
}

// Result is one query's complete pipeline output across all volumes.
type Result struct {
	QueryID string
	Hits    []OutputHit
	Skipped bool
}

// Run drives the full pipeline (preprocess -> stage1 -> stage2 -> stage3)
// for every query against every volume in db, per §4.I's concurrency
// model. threads<=0 resolves to runtime.GOMAXPROCS(0), which defaults to
// the number of CPUs.
func Run(ctx context.Context, queries []Query, db *Database, cfg config.SearchConfig, filter *OidFilter, sched Scheduling, logger *logutil.Logger) ([]Result, error) {
	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}

	results := make([]Result, len(queries))
	scoreType := scoreTypeFromString(cfg.Stage1.ScoreType)

	switch sched {
	case ScheduleByQueryVolume:
		return runByQueryVolume(ctx, queries, db, cfg, filter, scoreType, threads, logger, results)
	default:
		return runByQuery(ctx, queries, db, cfg, filter, scoreType, threads, logger, results)
	}
}

// perVolumeBuffers holds one Stage1Buffer per volume, reused across
// queries handled by the same goroutine (thread-local buffer reuse per
// §4.I, avoiding a fresh allocation of the full oid-space arrays for every
// query).
type perVolumeBuffers struct {
	bufs []*Stage1Buffer
}

func newPerVolumeBuffers(vols []*index.Volume) *perVolumeBuffers {
	b := &perVolumeBuffers{bufs: make([]*Stage1Buffer, len(vols))}
	for i, v := range vols {
		b.bufs[i] = NewStage1Buffer(v.Kix.NumSequences())
	}
	return b
}

func runByQuery(ctx context.Context, queries []Query, db *Database, cfg config.SearchConfig, filter *OidFilter, scoreType ScoreType, threads int, logger *logutil.Logger, results []Result) ([]Result, error) {
	sem := semaphore.NewWeighted(int64(threads))
	g, gctx := errgroup.WithContext(ctx)

	var bufPool sync.Pool
	bufPool.New = func() interface{} { return newPerVolumeBuffers(db.Volumes) }

	for qi := range queries {
		qi := qi
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if err := gctx.Err(); err != nil {
				return err
			}
			bufs := bufPool.Get().(*perVolumeBuffers)
			defer bufPool.Put(bufs)
			q := queries[qi]
			hits, skipped := searchOneQuery(gctx, q, db, cfg, filter, scoreType, bufs, logger)
			results[qi] = Result{QueryID: q.ID, Hits: hits, Skipped: skipped}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func runByQueryVolume(ctx context.Context, queries []Query, db *Database, cfg config.SearchConfig, filter *OidFilter, scoreType ScoreType, threads int, logger *logutil.Logger, results []Result) ([]Result, error) {
	sem := semaphore.NewWeighted(int64(threads))
	g, gctx := errgroup.WithContext(ctx)

	type partial struct {
		hits []OutputHit
	}
	perQuery := make([][]partial, len(queries))
	skipped := make([]bool, len(queries))
	var mu sync.Mutex

	bufsByVol := make([]sync.Pool, len(db.Volumes))
	for vi, v := range db.Volumes {
		vi := vi
		numSeqs := v.Kix.NumSequences()
		bufsByVol[vi].New = func() interface{} { return NewStage1Buffer(numSeqs) }
	}

	for qi := range queries {
		qi := qi
		q := queries[qi]
		pre := PreprocessQuery(q.Sequence, cfg.K, db.Volumes, db.Khx, cfg, logger)
		if pre.Skipped {
			skipped[qi] = true
			continue
		}
		for vi := range db.Volumes {
			vi := vi
			if err := sem.Acquire(gctx, 1); err != nil {
				break
			}
			g.Go(func() error {
				defer sem.Release(1)
				if err := gctx.Err(); err != nil {
					return err
				}
				buf := bufsByVol[vi].Get().(*Stage1Buffer)
				defer bufsByVol[vi].Put(buf)
				v := db.Volumes[vi]
				var src seqsrc.SequenceSource
				if vi < len(db.Sequences) {
					src = db.Sequences[vi]
				}
				hits := searchOneVolume(q, v, vi, src, cfg, filter, scoreType, pre, buf)
				mu.Lock()
				perQuery[qi] = append(perQuery[qi], partial{hits: hits})
				mu.Unlock()
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for qi, q := range queries {
		if skipped[qi] {
			results[qi] = Result{QueryID: q.ID, Skipped: true}
			continue
		}
		var all []OutputHit
		for _, p := range perQuery[qi] {
			all = append(all, p.hits...)
		}
		all = rankAndTruncate(all, cfg)
		results[qi] = Result{QueryID: q.ID, Hits: all}
	}
	return results, nil
}

func searchOneQuery(ctx context.Context, q Query, db *Database, cfg config.SearchConfig, filter *OidFilter, scoreType ScoreType, bufs *perVolumeBuffers, logger *logutil.Logger) ([]OutputHit, bool) {
	pre := PreprocessQuery(q.Sequence, cfg.K, db.Volumes, db.Khx, cfg, logger)
	if pre.Skipped {
		return nil, true
	}
	var all []OutputHit
	for vi, v := range db.Volumes {
		if ctx.Err() != nil {
			return all, false
		}
		var src seqsrc.SequenceSource
		if vi < len(db.Sequences) {
			src = db.Sequences[vi]
		}
		all = append(all, searchOneVolume(q, v, vi, src, cfg, filter, scoreType, pre, bufs.bufs[vi])...)
	}
	return rankAndTruncate(all, cfg), false
}

func searchOneVolume(q Query, v *index.Volume, volIdx int, src seqsrc.SequenceSource, cfg config.SearchConfig, filter *OidFilter, scoreType ScoreType, pre *QueryKmerData, buf *Stage1Buffer) []OutputHit {
	var out []OutputHit

	type strandWork struct {
		kmers     []QKmer
		threshold int
		isReverse bool
	}
	strands := []strandWork{}
	if cfg.Strand == 1 || cfg.Strand == 2 {
		strands = append(strands, strandWork{pre.FwdKmers, pre.EffectiveMinScoreFwd, false})
	}
	if cfg.Strand == -1 || cfg.Strand == 2 {
		strands = append(strands, strandWork{pre.RCKmers, pre.EffectiveMinScoreRC, true})
	}

	// stage2MinScore resolves §9's adaptive stage-2 threshold: 0 means "use
	// whatever floor stage 1 resolved for this strand" rather than a literal
	// zero floor.
	stage2MinScore := func(sw strandWork) int {
		if cfg.Stage2.MinScore > 0 {
			return cfg.Stage2.MinScore
		}
		return sw.threshold
	}

	for _, sw := range strands {
		if len(sw.kmers) == 0 {
			continue
		}
		cands := RunStage1(buf, v.Kix, v.Kpx, sw.kmers, scoreType, sw.threshold, cfg.Stage1.TopN, filter)
		if cfg.Mode == 1 {
			for _, c := range cands {
				out = append(out, OutputHit{
					ChainResult: ChainResult{OID: c.OID, Stage1Score: c.Score, IsReverse: sw.isReverse},
					Accession:   v.Ksx.Accession(c.OID),
					Volume:      volIdx,
					SLen:        v.Ksx.SeqLength(c.OID),
					QLen:        uint32(len(q.Sequence)),
				})
			}
			continue
		}

		// §4.H step 2: reverse-complement the query once per (query, strand)
		// and reuse it across every chain aligned on this strand.
		var alignQuery []byte
		if cfg.Mode == 3 && src != nil {
			if sw.isReverse {
				alignQuery = kmer.ReverseComplementBases(q.Sequence)
			} else {
				alignQuery = q.Sequence
			}
		}

		minScore := stage2MinScore(sw)
		for _, c := range cands {
			qpos, spos := collectHitPositions(v.Kix, v.Kpx, sw.kmers, c.OID)
			chain := ChainHits(c.OID, c.Score, qpos, spos, cfg.Stage2.MaxGap, cfg.Stage2.MinDiagHits, cfg.Stage2.MaxLookback, minScore, sw.isReverse)
			if chain == nil {
				continue
			}
			hit := OutputHit{
				ChainResult: *chain,
				Accession:   v.Ksx.Accession(c.OID),
				Volume:      volIdx,
				SLen:        v.Ksx.SeqLength(c.OID),
				QLen:        uint32(len(q.Sequence)),
			}
			if cfg.Mode == 3 && src != nil {
				if !alignStage3(&hit, alignQuery, src, cfg.Stage3) {
					continue
				}
			}
			out = append(out, hit)
		}
	}
	return out
}

// collectHitPositions re-walks the postings for every kmer at every query
// position, retaining only occurrences belonging to oid, to hand stage 2
// the (qpos,spos) pairs it needs.
func collectHitPositions(kix *index.KixReader, kpx *index.KpxReader, qkmers []QKmer, oid uint32) (qpos, spos []uint32) {
	for _, qk := range qkmers {
		m := uint32(qk.Kmer)
		count := kix.Count(m)
		if count == 0 {
			continue
		}
		idDec := NewSeqIdDecoder(kix.PostingBytes(m))
		posDec := NewPosDecoder(kpx.PositionBytes(m))
		for i := uint32(0); i < count; i++ {
			id, ok, err := idDec.Next()
			if err != nil || !ok {
				break
			}
			wasNewSeq := idDec.WasNewSeq()
			pos, err := posDec.Next(wasNewSeq)
			if err != nil {
				break
			}
			if id == oid {
				qpos = append(qpos, qk.QPos)
				spos = append(spos, pos)
			}
		}
	}
	return qpos, spos
}

// alignStage3 fetches the chain's subject window (padded by the
// configured context) from src, runs the banded aligner over it, and fills
// in hit's alignment fields. query has already been reverse-complemented by
// the caller for a minus-strand hit. Reports whether the hit survives
// stage 3's min_pident/min_nident filter (§4.H step 6); a hit that could not
// be fetched or aligned is kept as-is, matching the stage-1/2 behavior of
// never dropping a candidate stage 3 couldn't evaluate.
func alignStage3(hit *OutputHit, query []byte, src seqsrc.SequenceSource, cfg config.Stage3Config) bool {
	band := cfg.ContextAbs
	if cfg.ContextIsRatio {
		band = int(float64(len(query)) * cfg.ContextRatio)
	}
	if band < 8 {
		band = 8
	}

	rec, err := src.Sequence(int(hit.OID))
	if err != nil {
		return true
	}
	lo := int(hit.SStart) - band
	if lo < 0 {
		lo = 0
	}
	hi := int(hit.SEnd) + band
	if hi > len(rec.Bases) {
		hi = len(rec.Bases)
	}
	if lo >= hi {
		return true
	}
	subject := rec.Bases[lo:hi]

	res := BandedAlign(query, subject, band, cfg.GapOpen, cfg.GapExt)
	hit.AlignScore = res.Score

	if !cfg.Traceback {
		// §4.H step 5: traceback off keeps only the score and endpoints.
		return true
	}

	hit.CIGAR = res.CIGAR
	hit.NIdent = res.NIdent
	hit.NMismatch = res.NMismatch
	total := res.NIdent + res.NMismatch
	if total > 0 {
		hit.PIdent = 100.0 * float64(res.NIdent) / float64(total)
	}

	// §4.H step 6: filters only meaningful with traceback.
	if hit.PIdent < cfg.MinPident || hit.NIdent < cfg.MinNident {
		return false
	}
	return true
}

func rankAndTruncate(hits []OutputHit, cfg config.SearchConfig) []OutputHit {
	sort.Slice(hits, func(i, j int) bool {
		switch cfg.SortScore {
		case 1:
			return hits[i].Stage1Score > hits[j].Stage1Score
		case 3:
			return hits[i].AlignScore > hits[j].AlignScore
		default:
			return hits[i].ChainScore > hits[j].ChainScore
		}
	})
	if cfg.NumResults > 0 && len(hits) > cfg.NumResults {
		hits = hits[:cfg.NumResults]
	}
	return hits
}
