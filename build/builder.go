// Package build implements the partitioned, external-memory index
// construction pipeline (§4.D): a scan-and-partition pass over a
// SequenceSource that spills sorted runs once a partition's memory budget
// is exceeded, a per-partition merge, and a finalization pass that
// assembles the dense .kix/.kpx/.ksx tables. A follow-on pass computes the
// cross-volume high-frequency .khx bitset once every requested volume has
// been built.
package build

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"

	"github.com/astanabe/ikafssn-sub000/config"
	"github.com/astanabe/ikafssn-sub000/index"
	"github.com/astanabe/ikafssn-sub000/kmer"
	"github.com/astanabe/ikafssn-sub000/logutil"
	"github.com/astanabe/ikafssn-sub000/seqsrc"
	"github.com/astanabe/ikafssn-sub000/varint"
)

// IndexBuilder drives the partitioned construction of one volume's
// .kix/.kpx/.ksx triple from a SequenceSource.
type IndexBuilder struct {
	cfg    config.IndexBuilderConfig
	logger *logutil.Logger
}

// NewIndexBuilder constructs a builder for cfg, logging progress through
// logger (nil falls back to logutil.Default()).
func NewIndexBuilder(cfg config.IndexBuilderConfig, logger *logutil.Logger) *IndexBuilder {
	if logger == nil {
		logger = logutil.Default()
	}
	return &IndexBuilder{cfg: cfg, logger: logger}
}

// Build scans every sequence in src, partitions its k-mers by value range,
// spills and merges per partition, and writes outDir/volName.{kix,kpx,ksx}.
func (b *IndexBuilder) Build(src seqsrc.SequenceSource, outDir, volName string) error {
	if err := b.cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return errors.Wrapf(err, "build: mkdir %s", outDir)
	}

	numKmers := index.NumKmers(b.cfg.K)
	partitions := b.cfg.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	partRange := (numKmers + partitions - 1) / partitions
	perPartitionBudget := int(b.cfg.BufferSize) / partitions / entryByteSize
	if perPartitionBudget < 1024 {
		perPartitionBudget = 1024
	}

	spillDir, err := os.MkdirTemp(outDir, ".build-spill-"+volName+"-")
	if err != nil {
		return errors.Wrap(err, "build: create spill dir")
	}
	defer os.RemoveAll(spillDir)

	spillers := make([]*partitionSpiller, partitions)
	for i := range spillers {
		spillers[i] = newPartitionSpiller(spillDir, i, perPartitionBudget)
	}

	numSeqs := src.NumSequences()
	var ksxEntries []index.KsxSeqEntry

	var bars *mpb.Progress
	var scanBar *mpb.Bar
	if b.cfg.Verbose {
		bars = mpb.New(mpb.WithWidth(40))
		scanBar = bars.AddBar(int64(numSeqs),
			mpb.PrependDecorators(decor.Name("scanning sequences")),
			mpb.AppendDecorators(decor.CountersNoUnit("%d / %d")),
		)
	}

	for oid := 0; oid < numSeqs; oid++ {
		rec, err := src.Sequence(oid)
		if err != nil {
			return errors.Wrapf(err, "build: read sequence %d", oid)
		}
		ksxEntries = append(ksxEntries, index.KsxSeqEntry{
			Length:    uint32(len(rec.Bases)),
			Accession: rec.Accession,
		})

		if err := b.scanSequence(rec, uint32(oid), partRange, spillers); err != nil {
			return err
		}
		if scanBar != nil {
			scanBar.Increment()
		}
	}
	if bars != nil {
		bars.Wait()
	}

	offset := make([]uint64, numKmers)
	posOffset := make([]uint64, numKmers)
	count := make([]uint32, numKmers)
	var idBlob, posBlob []byte
	var totalPostings uint64

	var mergeBars *mpb.Progress
	var mergeBar *mpb.Bar
	if b.cfg.Verbose {
		mergeBars = mpb.New(mpb.WithWidth(40))
		mergeBar = mergeBars.AddBar(int64(partitions),
			mpb.PrependDecorators(decor.Name("merging partitions")),
			mpb.AppendDecorators(decor.CountersNoUnit("%d / %d")),
		)
	}

	for p := 0; p < partitions; p++ {
		merged, err := mergePartition(spillers[p])
		if err != nil {
			return errors.Wrapf(err, "build: merge partition %d", p)
		}
		spillers[p].cleanup()

		i := 0
		for i < len(merged) {
			m := merged[i].kmer
			j := i
			for j < len(merged) && merged[j].kmer == m {
				j++
			}
			group := merged[i:j]

			offset[m] = uint64(len(idBlob))
			posOffset[m] = uint64(len(posBlob))
			count[m] = uint32(len(group))

			var prevID uint32
			var prevPos uint32
			first := true
			for _, e := range group {
				wasNewSeq := first || e.oid != prevID
				if first {
					idBlob = varint.AppendEncode(idBlob, uint64(e.oid))
				} else if e.oid == prevID {
					idBlob = varint.AppendEncode(idBlob, 0)
				} else {
					idBlob = varint.AppendEncode(idBlob, uint64(e.oid-prevID))
				}
				if wasNewSeq {
					posBlob = varint.AppendEncode(posBlob, uint64(e.pos))
				} else {
					posBlob = varint.AppendEncode(posBlob, uint64(e.pos-prevPos))
				}
				prevID, prevPos, first = e.oid, e.pos, false
			}
			totalPostings += uint64(len(group))
			i = j
		}
		if mergeBar != nil {
			mergeBar.Increment()
		}
	}
	if mergeBars != nil {
		mergeBars.Wait()
	}

	kixPath := filepath.Join(outDir, volName+".kix")
	if err := index.WriteKix(kixPath, index.KixWriteParams{
		K:             b.cfg.K,
		KmerType:      uint8(kmer.TypeForK(b.cfg.K)),
		NumSequences:  uint32(numSeqs),
		TotalPostings: totalPostings,
		DBName:        b.cfg.DBName,
		Offset:        offset,
		Count:         count,
		Blob:          idBlob,
	}); err != nil {
		return err
	}

	kpxPath := filepath.Join(outDir, volName+".kpx")
	if err := index.WriteKpx(kpxPath, index.KpxWriteParams{
		K:             b.cfg.K,
		TotalPostings: totalPostings,
		PosOffset:     posOffset,
		Blob:          posBlob,
	}); err != nil {
		return err
	}

	ksxPath := filepath.Join(outDir, volName+".ksx")
	if err := index.WriteKsx(ksxPath, ksxEntries); err != nil {
		return err
	}

	return nil
}

// BuildVolumes builds one volume per (source, name) pair via Build, then
// opens every resulting volume and computes the shared cross-volume
// high-frequency .khx bitset written to outDir/khxName. This is the
// multi-volume construction mode described in §4.D: stage-1 high-frequency
// exclusion needs visibility across every volume in a database, not just
// the one being built, so the bitset is always a post-pass over the whole
// set rather than something Build computes per-volume.
func (b *IndexBuilder) BuildVolumes(sources []seqsrc.SequenceSource, names []string, outDir, khxName string) error {
	if len(sources) != len(names) {
		return errors.Errorf("build: %d sources but %d volume names", len(sources), len(names))
	}
	for i, src := range sources {
		if err := b.Build(src, outDir, names[i]); err != nil {
			return errors.Wrapf(err, "build: volume %s", names[i])
		}
	}

	vols := make([]*index.Volume, 0, len(names))
	defer func() {
		// Volume.Close also closes Kpx/Ksx, but those are left nil here
		// (only the freshly written kix is reopened for the count pass),
		// so close the kix readers directly rather than through Volume.
		for _, v := range vols {
			v.Kix.Close()
		}
	}()
	for _, name := range names {
		kix, err := index.OpenKix(filepath.Join(outDir, name+".kix"))
		if err != nil {
			return errors.Wrapf(err, "build: reopen kix for khx pass: %s", name)
		}
		vols = append(vols, &index.Volume{Name: name, Kix: kix})
	}

	if err := WriteHighFreq(filepath.Join(outDir, khxName), vols, b.cfg.MaxFreqBuild); err != nil {
		return errors.Wrap(err, "build: write shared khx")
	}
	return nil
}

// scanSequence extracts every k-mer occurrence from one reference
// sequence (including single-ambiguity expansion, skipping
// multi-ambiguity windows) and routes each to its partition by k-mer
// value range.
func (b *IndexBuilder) scanSequence(rec seqsrc.Record, oid uint32, partRange int, spillers []*partitionSpiller) error {
	k := b.cfg.K
	scanner, err := kmer.NewPackedScanner(rec.Bases, k, rec.Ambiguity)
	if err != nil {
		return errors.Wrap(err, "build: new packed scanner")
	}

	route := func(pos int, km uint64) error {
		partIdx := int(km) / partRange
		if partIdx >= len(spillers) {
			partIdx = len(spillers) - 1
		}
		return spillers[partIdx].add(postingEntry{kmer: uint32(km), oid: oid, pos: uint32(pos)})
	}

	var routeErr error
	normal := func(pos int, km uint64) {
		if routeErr != nil {
			return
		}
		routeErr = route(pos, km)
	}
	degenerate := func(pos int, baseKmer uint64, mask uint8, bitOffset uint) {
		if routeErr != nil {
			return
		}
		kmer.ExpandDegenerate(baseKmer, mask, bitOffset, func(km uint64) {
			if routeErr != nil {
				return
			}
			routeErr = route(pos, km)
		})
	}
	scanner.Scan(normal, degenerate)
	return routeErr
}
