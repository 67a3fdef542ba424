package build

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"github.com/twotwotwo/sorts"
)

// postingEntry is one (kmer, oid, pos) occurrence, the builder's working
// unit before it is delta-varint encoded into a volume's final blobs.
type postingEntry struct {
	kmer uint32
	oid  uint32
	pos  uint32
}

// postingEntries implements sort.Interface (and sorts.Interface, which
// embeds it) ordered by kmer, then oid, then pos -- the order the final
// kix/kpx blobs are written in.
type postingEntries []postingEntry

func (p postingEntries) Len() int      { return len(p) }
func (p postingEntries) Swap(i, j int) { p[i], p[j] = p[j], p[i] }
func (p postingEntries) Less(i, j int) bool {
	if p[i].kmer != p[j].kmer {
		return p[i].kmer < p[j].kmer
	}
	if p[i].oid != p[j].oid {
		return p[i].oid < p[j].oid
	}
	return p[i].pos < p[j].pos
}

// sortEntries sorts in place, using the parallel quicksort the teacher's
// seed tables were grounded on (coarse.go orders seeds for the plain-text
// dump the same way) instead of stdlib's sort.Sort.
func sortEntries(p postingEntries) {
	sorts.Quicksort(p)
}

const entryByteSize = 12 // kmer(4) + oid(4) + pos(4), little-endian

func writeEntry(w io.Writer, e postingEntry, buf []byte) error {
	binary.LittleEndian.PutUint32(buf[0:4], e.kmer)
	binary.LittleEndian.PutUint32(buf[4:8], e.oid)
	binary.LittleEndian.PutUint32(buf[8:12], e.pos)
	_, err := w.Write(buf)
	return err
}

func readEntry(r io.Reader, buf []byte) (postingEntry, error) {
	if _, err := io.ReadFull(r, buf); err != nil {
		return postingEntry{}, err
	}
	return postingEntry{
		kmer: binary.LittleEndian.Uint32(buf[0:4]),
		oid:  binary.LittleEndian.Uint32(buf[4:8]),
		pos:  binary.LittleEndian.Uint32(buf[8:12]),
	}, nil
}

// partitionSpiller accumulates postings for one partition in memory and
// spills sorted, zstd-compressed runs to disk once the in-memory budget is
// exceeded -- the same "buffer then flush" shape as the teacher's
// saveSeeds gzip spill, swapping gzip for zstd per the domain stack.
type partitionSpiller struct {
	dir        string
	idx        int
	budget     int
	buf        postingEntries
	runPaths   []string
	runCounter int
}

func newPartitionSpiller(dir string, idx, budget int) *partitionSpiller {
	return &partitionSpiller{dir: dir, idx: idx, budget: budget}
}

func (s *partitionSpiller) add(e postingEntry) error {
	s.buf = append(s.buf, e)
	if len(s.buf) >= s.budget {
		return s.flush()
	}
	return nil
}

func (s *partitionSpiller) flush() error {
	if len(s.buf) == 0 {
		return nil
	}
	sortEntries(s.buf)

	path := filepath.Join(s.dir, runFileName(s.idx, s.runCounter))
	s.runCounter++
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "build: create spill run %s", path)
	}
	zw, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return errors.Wrap(err, "build: zstd writer")
	}
	entryBuf := make([]byte, entryByteSize)
	bw := bufio.NewWriter(zw)
	for _, e := range s.buf {
		if err := writeEntry(bw, e, entryBuf); err != nil {
			zw.Close()
			f.Close()
			return errors.Wrapf(err, "build: write spill run %s", path)
		}
	}
	if err := bw.Flush(); err != nil {
		zw.Close()
		f.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		f.Close()
		return errors.Wrap(err, "build: close zstd writer")
	}
	if err := f.Close(); err != nil {
		return err
	}

	s.runPaths = append(s.runPaths, path)
	s.buf = s.buf[:0]
	return nil
}

func runFileName(partition, run int) string {
	return "partition-" + strconv.Itoa(partition) + "-run-" + strconv.Itoa(run) + ".spill"
}

// runReader wraps one spilled run file for the k-way merge.
type runReader struct {
	f   *os.File
	zr  *zstd.Decoder
	buf []byte
}

func openRunReader(path string) (*runReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "build: open spill run %s", path)
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "build: zstd reader")
	}
	return &runReader{f: f, zr: zr, buf: make([]byte, entryByteSize)}, nil
}

func (r *runReader) next() (postingEntry, bool, error) {
	e, err := readEntry(r.zr, r.buf)
	if err == io.EOF {
		return postingEntry{}, false, nil
	}
	if err != nil {
		return postingEntry{}, false, err
	}
	return e, true, nil
}

func (r *runReader) close() {
	r.zr.Close()
	r.f.Close()
}

// entryLess orders two postings the same way postingEntries.Less does.
func entryLess(a, b postingEntry) bool {
	if a.kmer != b.kmer {
		return a.kmer < b.kmer
	}
	if a.oid != b.oid {
		return a.oid < b.oid
	}
	return a.pos < b.pos
}

// mergePartition performs a straightforward k-way merge of a partition's
// spilled runs (each internally sorted) plus its unspilled in-memory tail,
// returning one fully sorted slice. For the partition sizes this builder
// targets (bounded by bufferSize/partitions) this comfortably fits in
// memory once merged; only the *spilling*, not the final merge output,
// needs to be out-of-core.
func mergePartition(s *partitionSpiller) (postingEntries, error) {
	sortEntries(s.buf)
	tail := append(postingEntries(nil), s.buf...)

	if len(s.runPaths) == 0 {
		return tail, nil
	}

	readers := make([]*runReader, 0, len(s.runPaths))
	defer func() {
		for _, r := range readers {
			r.close()
		}
	}()
	for _, p := range s.runPaths {
		r, err := openRunReader(p)
		if err != nil {
			return nil, err
		}
		readers = append(readers, r)
	}

	type cursor struct {
		reader  *runReader
		current postingEntry
		valid   bool
	}
	cursors := make([]cursor, len(readers))
	for i, r := range readers {
		e, ok, err := r.next()
		if err != nil {
			return nil, err
		}
		cursors[i] = cursor{reader: r, current: e, valid: ok}
	}

	merged := make(postingEntries, 0, len(tail)+len(s.runPaths)*1024)
	tailIdx := 0
	for {
		bestIdx := -1
		for i := range cursors {
			if !cursors[i].valid {
				continue
			}
			if bestIdx == -1 || entryLess(cursors[i].current, cursors[bestIdx].current) {
				bestIdx = i
			}
		}
		var tailEntry postingEntry
		tailValid := tailIdx < len(tail)
		if tailValid {
			tailEntry = tail[tailIdx]
		}

		switch {
		case bestIdx == -1 && !tailValid:
			return merged, nil
		case bestIdx == -1:
			merged = append(merged, tailEntry)
			tailIdx++
		case !tailValid:
			merged = append(merged, cursors[bestIdx].current)
			e, ok, err := cursors[bestIdx].reader.next()
			if err != nil {
				return nil, err
			}
			cursors[bestIdx].current, cursors[bestIdx].valid = e, ok
		default:
			if entryLess(cursors[bestIdx].current, tailEntry) {
				merged = append(merged, cursors[bestIdx].current)
				e, ok, err := cursors[bestIdx].reader.next()
				if err != nil {
					return nil, err
				}
				cursors[bestIdx].current, cursors[bestIdx].valid = e, ok
			} else {
				merged = append(merged, tailEntry)
				tailIdx++
			}
		}
	}
}

func (s *partitionSpiller) cleanup() {
	for _, p := range s.runPaths {
		os.Remove(p)
	}
}
