package index

import (
	"encoding/binary"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// KixReader is a memory-mapped reader over a .kix file: for every k-mer
// value m in [0, 4^k), offset[m] points into the delta-varint id blob and
// count[m] is the number of postings for m.
type KixReader struct {
	f   *os.File
	mm  mmap.MMap
	hdr *kixHeader

	offset []uint64 // length 4^k, little-endian decoded view
	count  []uint32 // length 4^k
	blob   []byte   // delta-varint id postings

	numKmers int
}

// OpenKix memory-maps path read-only and validates its header.
func OpenKix(path string) (*KixReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "index: open kix %s", path)
	}
	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "index: mmap kix %s", path)
	}
	hdr, err := unmarshalKixHeader(mm)
	if err != nil {
		mm.Unmap()
		f.Close()
		return nil, errors.Wrapf(err, "index: kix %s", path)
	}
	numKmers := NumKmers(int(hdr.K))

	offTableSize := numKmers * 8
	cntTableSize := numKmers * 4
	need := kixHeaderSize + offTableSize + cntTableSize
	if len(mm) < need {
		mm.Unmap()
		f.Close()
		return nil, errors.Wrapf(ErrCorruptIndex, "kix %s: file too short for k=%d tables", path, hdr.K)
	}

	r := &KixReader{
		f:        f,
		mm:       mm,
		hdr:      hdr,
		numKmers: numKmers,
		offset:   make([]uint64, numKmers),
		count:    make([]uint32, numKmers),
	}

	base := kixHeaderSize
	var total uint64
	for i := 0; i < numKmers; i++ {
		r.offset[i] = binary.LittleEndian.Uint64(mm[base+i*8 : base+i*8+8])
	}
	base += offTableSize
	for i := 0; i < numKmers; i++ {
		r.count[i] = binary.LittleEndian.Uint32(mm[base+i*4 : base+i*4+4])
		total += uint64(r.count[i])
	}
	base += cntTableSize
	if total != hdr.TotalPostings {
		mm.Unmap()
		f.Close()
		return nil, errors.Wrapf(ErrCorruptIndex, "kix %s: sum(count)=%d != total_postings=%d", path, total, hdr.TotalPostings)
	}
	r.blob = mm[base:]

	return r, nil
}

// K returns the index's k-mer length.
func (r *KixReader) K() int { return int(r.hdr.K) }

// KmerType returns the storage-width tag (0 narrow, 1 wide) recorded at
// build time.
func (r *KixReader) KmerType() uint8 { return r.hdr.KmerType }

// NumSequences returns the volume's dense oid space size.
func (r *KixReader) NumSequences() uint32 { return r.hdr.NumSequences }

// TotalPostings returns the sum of all per-kmer counts.
func (r *KixReader) TotalPostings() uint64 { return r.hdr.TotalPostings }

// DBName returns the fixed-width database name recorded at build time.
func (r *KixReader) DBName() string { return dbNameString(r.hdr.DBName) }

// NumKmers returns 4^k, the dense table size.
func (r *KixReader) NumKmers() int { return r.numKmers }

// Offset returns the byte offset into the id blob for k-mer m.
func (r *KixReader) Offset(m uint32) uint64 { return r.offset[m] }

// Count returns the posting count for k-mer m.
func (r *KixReader) Count(m uint32) uint32 { return r.count[m] }

// PostingBytes returns the raw delta-varint id blob starting at k-mer m's
// offset; the caller must decode exactly Count(m) varints from it.
func (r *KixReader) PostingBytes(m uint32) []byte {
	return r.blob[r.offset[m]:]
}

// Close unmaps the file.
func (r *KixReader) Close() error {
	if err := r.mm.Unmap(); err != nil {
		return errors.Wrap(err, "index: unmap kix")
	}
	return r.f.Close()
}
