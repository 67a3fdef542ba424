package index

import (
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// KhxReader is a memory-mapped reader over an optional shared .khx file: a
// bitset of size 4^k bits, bit m set iff k-mer m is globally excluded for
// exceeding the build-time high-frequency threshold.
type KhxReader struct {
	f      *os.File
	mm     mmap.MMap
	hdr    *khxHeader
	bitset []byte
}

// OpenKhx memory-maps path read-only and validates its header.
func OpenKhx(path string) (*KhxReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "index: open khx %s", path)
	}
	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "index: mmap khx %s", path)
	}
	hdr, err := unmarshalKhxHeader(mm)
	if err != nil {
		mm.Unmap()
		f.Close()
		return nil, errors.Wrapf(err, "index: khx %s", path)
	}
	numKmers := NumKmers(int(hdr.K))
	need := khxHeaderSize + (numKmers+7)/8
	if len(mm) < need {
		mm.Unmap()
		f.Close()
		return nil, errors.Wrapf(ErrCorruptIndex, "khx %s: file too short for k=%d bitset", path, hdr.K)
	}

	return &KhxReader{
		f:      f,
		mm:     mm,
		hdr:    hdr,
		bitset: mm[khxHeaderSize:need],
	}, nil
}

// IsExcluded reports whether k-mer value m is globally excluded.
func (r *KhxReader) IsExcluded(m uint32) bool {
	byteIdx := m / 8
	bit := m % 8
	return r.bitset[byteIdx]&(1<<bit) != 0
}

// CountExcluded returns the number of set bits in the bitset.
func (r *KhxReader) CountExcluded() int {
	n := 0
	for _, b := range r.bitset {
		for b != 0 {
			n += int(b & 1)
			b >>= 1
		}
	}
	return n
}

// Close unmaps the file.
func (r *KhxReader) Close() error {
	if err := r.mm.Unmap(); err != nil {
		return errors.Wrap(err, "index: unmap khx")
	}
	return r.f.Close()
}

// WriteKhx writes a shared khx bitset file for the given k; bits is
// expected to already be sized to (4^k+7)/8 bytes.
func WriteKhx(path string, k int, bits []byte) error {
	want := (NumKmers(k) + 7) / 8
	if len(bits) != want {
		return errors.Errorf("index: WriteKhx: bitset has %d bytes, want %d for k=%d", len(bits), want, k)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "index: create khx %s", path)
	}
	defer f.Close()

	hdr := &khxHeader{Version: FormatVersion, K: uint8(k)}
	if _, err := f.Write(hdr.marshal()); err != nil {
		return errors.Wrapf(err, "index: write khx header %s", path)
	}
	if _, err := f.Write(bits); err != nil {
		return errors.Wrapf(err, "index: write khx bitset %s", path)
	}
	return nil
}
