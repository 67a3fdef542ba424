// Package index implements the on-disk inverted-index file formats: memory
// mapped readers for kix (k-mer -> oid postings), kpx (k-mer -> position
// postings), ksx (oid -> length + accession), khx (high-frequency k-mer
// exclusion bitset), and a plain-text kvx manifest.
package index

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Format version written into every index file header. Bumped whenever the
// on-disk layout changes incompatibly.
const FormatVersion uint16 = 1

// Fixed magic tags, 4 bytes each, matching the original prototype's naming.
var (
	kixMagic = [4]byte{'K', 'M', 'I', 'X'}
	kpxMagic = [4]byte{'K', 'M', 'P', 'X'}
	ksxMagic = [4]byte{'K', 'M', 'S', 'X'}
	khxMagic = [4]byte{'K', 'M', 'H', 'X'}
)

// ErrCorruptIndex is wrapped around any failure caused by a magic
// mismatch, version mismatch, or an on-disk invariant violation (e.g. the
// count prefix sum disagreeing with blob size). It is never recovered
// in-process.
var ErrCorruptIndex = errors.New("index: corrupt file")

// ErrMissingVolume is returned when a manifest-listed volume has no
// corresponding kix file on disk.
var ErrMissingVolume = errors.New("index: missing volume file")

const (
	kixHeaderSize = 56
	kpxHeaderSize = 24
	ksxHeaderSize = 32
	khxHeaderSize = 8

	dbNameSize = 32
)

type kixHeader struct {
	Version       uint16
	K             uint8
	KmerType      uint8
	NumSequences  uint32
	TotalPostings uint64
	DBName        [dbNameSize]byte
}

func (h *kixHeader) marshal() []byte {
	buf := make([]byte, kixHeaderSize)
	copy(buf[0:4], kixMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	// buf[6:8] reserved, zero.
	buf[8] = h.K
	buf[9] = h.KmerType
	// buf[10:12] reserved, zero.
	binary.LittleEndian.PutUint32(buf[12:16], h.NumSequences)
	binary.LittleEndian.PutUint64(buf[16:24], h.TotalPostings)
	copy(buf[24:24+dbNameSize], h.DBName[:])
	return buf
}

func unmarshalKixHeader(buf []byte) (*kixHeader, error) {
	if len(buf) < kixHeaderSize {
		return nil, errors.Wrap(ErrCorruptIndex, "kix header truncated")
	}
	if [4]byte{buf[0], buf[1], buf[2], buf[3]} != kixMagic {
		return nil, errors.Wrap(ErrCorruptIndex, "kix magic mismatch")
	}
	h := &kixHeader{
		Version:       binary.LittleEndian.Uint16(buf[4:6]),
		K:             buf[8],
		KmerType:      buf[9],
		NumSequences:  binary.LittleEndian.Uint32(buf[12:16]),
		TotalPostings: binary.LittleEndian.Uint64(buf[16:24]),
	}
	copy(h.DBName[:], buf[24:24+dbNameSize])
	if h.Version != FormatVersion {
		return nil, errors.Wrapf(ErrCorruptIndex, "kix version mismatch: got %d want %d", h.Version, FormatVersion)
	}
	return h, nil
}

type kpxHeader struct {
	Version       uint16
	K             uint8
	TotalPostings uint64
}

func (h *kpxHeader) marshal() []byte {
	buf := make([]byte, kpxHeaderSize)
	copy(buf[0:4], kpxMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	buf[8] = h.K
	binary.LittleEndian.PutUint64(buf[16:24], h.TotalPostings)
	return buf
}

func unmarshalKpxHeader(buf []byte) (*kpxHeader, error) {
	if len(buf) < kpxHeaderSize {
		return nil, errors.Wrap(ErrCorruptIndex, "kpx header truncated")
	}
	if [4]byte{buf[0], buf[1], buf[2], buf[3]} != kpxMagic {
		return nil, errors.Wrap(ErrCorruptIndex, "kpx magic mismatch")
	}
	h := &kpxHeader{
		Version:       binary.LittleEndian.Uint16(buf[4:6]),
		K:             buf[8],
		TotalPostings: binary.LittleEndian.Uint64(buf[16:24]),
	}
	if h.Version != FormatVersion {
		return nil, errors.Wrapf(ErrCorruptIndex, "kpx version mismatch: got %d want %d", h.Version, FormatVersion)
	}
	return h, nil
}

type ksxHeader struct {
	FormatVersion uint16
	NumSequences  uint32
}

func (h *ksxHeader) marshal() []byte {
	buf := make([]byte, ksxHeaderSize)
	copy(buf[0:4], ksxMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.FormatVersion)
	binary.LittleEndian.PutUint32(buf[8:12], h.NumSequences)
	return buf
}

func unmarshalKsxHeader(buf []byte) (*ksxHeader, error) {
	if len(buf) < ksxHeaderSize {
		return nil, errors.Wrap(ErrCorruptIndex, "ksx header truncated")
	}
	if [4]byte{buf[0], buf[1], buf[2], buf[3]} != ksxMagic {
		return nil, errors.Wrap(ErrCorruptIndex, "ksx magic mismatch")
	}
	h := &ksxHeader{
		FormatVersion: binary.LittleEndian.Uint16(buf[4:6]),
		NumSequences:  binary.LittleEndian.Uint32(buf[8:12]),
	}
	if h.FormatVersion != FormatVersion {
		return nil, errors.Wrapf(ErrCorruptIndex, "ksx version mismatch: got %d want %d", h.FormatVersion, FormatVersion)
	}
	return h, nil
}

type khxHeader struct {
	Version uint16
	K       uint8
}

func (h *khxHeader) marshal() []byte {
	buf := make([]byte, khxHeaderSize)
	copy(buf[0:4], khxMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	buf[6] = h.K
	return buf
}

func unmarshalKhxHeader(buf []byte) (*khxHeader, error) {
	if len(buf) < khxHeaderSize {
		return nil, errors.Wrap(ErrCorruptIndex, "khx header truncated")
	}
	if [4]byte{buf[0], buf[1], buf[2], buf[3]} != khxMagic {
		return nil, errors.Wrap(ErrCorruptIndex, "khx magic mismatch")
	}
	h := &khxHeader{
		Version: binary.LittleEndian.Uint16(buf[4:6]),
		K:       buf[6],
	}
	if h.Version != FormatVersion {
		return nil, errors.Wrapf(ErrCorruptIndex, "khx version mismatch: got %d want %d", h.Version, FormatVersion)
	}
	return h, nil
}

// NumKmers returns 4^k, the size of the dense per-kmer tables.
func NumKmers(k int) int {
	return 1 << uint(2*k)
}

// setDBName copies name into a fixed-width, NUL-padded field, truncating if
// necessary.
func setDBName(name string) [dbNameSize]byte {
	var out [dbNameSize]byte
	n := copy(out[:], name)
	_ = n
	return out
}

func dbNameString(raw [dbNameSize]byte) string {
	n := 0
	for n < len(raw) && raw[n] != 0 {
		n++
	}
	return string(raw[:n])
}
