package index

import (
	"encoding/binary"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// KpxReader is a memory-mapped reader over a .kpx file: for every k-mer
// value m, posOffset[m] points into the delta-varint position blob, read
// in lockstep with the corresponding KixReader's id blob.
type KpxReader struct {
	f   *os.File
	mm  mmap.MMap
	hdr *kpxHeader

	posOffset []uint64
	blob      []byte

	numKmers int
}

// OpenKpx memory-maps path read-only and validates its header.
func OpenKpx(path string, k int) (*KpxReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "index: open kpx %s", path)
	}
	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "index: mmap kpx %s", path)
	}
	hdr, err := unmarshalKpxHeader(mm)
	if err != nil {
		mm.Unmap()
		f.Close()
		return nil, errors.Wrapf(err, "index: kpx %s", path)
	}
	if int(hdr.K) != k {
		mm.Unmap()
		f.Close()
		return nil, errors.Wrapf(ErrCorruptIndex, "kpx %s: k=%d does not match expected %d", path, hdr.K, k)
	}
	numKmers := NumKmers(k)
	offTableSize := numKmers * 8
	need := kpxHeaderSize + offTableSize
	if len(mm) < need {
		mm.Unmap()
		f.Close()
		return nil, errors.Wrapf(ErrCorruptIndex, "kpx %s: file too short for k=%d table", path, k)
	}

	r := &KpxReader{
		f:         f,
		mm:        mm,
		hdr:       hdr,
		numKmers:  numKmers,
		posOffset: make([]uint64, numKmers),
	}
	base := kpxHeaderSize
	for i := 0; i < numKmers; i++ {
		r.posOffset[i] = binary.LittleEndian.Uint64(mm[base+i*8 : base+i*8+8])
	}
	base += offTableSize
	r.blob = mm[base:]

	return r, nil
}

// TotalPostings returns the sum of all per-kmer counts (must match the
// paired KixReader's value under invariant I3).
func (r *KpxReader) TotalPostings() uint64 { return r.hdr.TotalPostings }

// PosOffset returns the byte offset into the position blob for k-mer m.
func (r *KpxReader) PosOffset(m uint32) uint64 { return r.posOffset[m] }

// PositionBytes returns the raw delta-varint position blob starting at
// k-mer m's offset.
func (r *KpxReader) PositionBytes(m uint32) []byte {
	return r.blob[r.posOffset[m]:]
}

// Close unmaps the file.
func (r *KpxReader) Close() error {
	if err := r.mm.Unmap(); err != nil {
		return errors.Wrap(err, "index: unmap kpx")
	}
	return r.f.Close()
}
