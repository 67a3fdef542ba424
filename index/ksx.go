package index

import (
	"encoding/binary"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
)

// KsxReader is a memory-mapped reader over a .ksx file: per-oid sequence
// length and accession string, resolved by slicing into the accession blob
// on demand.
type KsxReader struct {
	f   *os.File
	mm  mmap.MMap
	hdr *ksxHeader

	seqLength []uint32 // length num_sequences
	accOffset []uint32 // length num_sequences+1
	accBlob   []byte
}

// OpenKsx memory-maps path read-only, validates its header, and eagerly
// parses the offset tables (accession strings are read from the mapping
// on demand). The mapping requests random-access advice since accession
// lookup by oid is effectively random.
func OpenKsx(path string) (*KsxReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "index: open ksx %s", path)
	}
	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "index: mmap ksx %s", path)
	}
	adviseRandom(mm)

	hdr, err := unmarshalKsxHeader(mm)
	if err != nil {
		mm.Unmap()
		f.Close()
		return nil, errors.Wrapf(err, "index: ksx %s", path)
	}
	n := int(hdr.NumSequences)
	lenTableSize := n * 4
	offTableSize := (n + 1) * 4
	need := ksxHeaderSize + lenTableSize + offTableSize
	if len(mm) < need {
		mm.Unmap()
		f.Close()
		return nil, errors.Wrapf(ErrCorruptIndex, "ksx %s: file too short for num_sequences=%d", path, n)
	}

	r := &KsxReader{
		f:         f,
		mm:        mm,
		hdr:       hdr,
		seqLength: make([]uint32, n),
		accOffset: make([]uint32, n+1),
	}
	base := ksxHeaderSize
	for i := 0; i < n; i++ {
		r.seqLength[i] = binary.LittleEndian.Uint32(mm[base+i*4 : base+i*4+4])
	}
	base += lenTableSize
	for i := 0; i <= n; i++ {
		r.accOffset[i] = binary.LittleEndian.Uint32(mm[base+i*4 : base+i*4+4])
	}
	base += offTableSize
	r.accBlob = mm[base:]

	if len(r.accOffset) > 0 {
		last := r.accOffset[n]
		if int(last) != len(r.accBlob) {
			mm.Unmap()
			f.Close()
			return nil, errors.Wrapf(ErrCorruptIndex,
				"ksx %s: acc_offset[num_sequences]=%d != accession blob length %d", path, last, len(r.accBlob))
		}
		for i := 1; i <= n; i++ {
			if r.accOffset[i] < r.accOffset[i-1] {
				mm.Unmap()
				f.Close()
				return nil, errors.Wrapf(ErrCorruptIndex, "ksx %s: acc_offset not non-decreasing at %d", path, i)
			}
		}
	}

	return r, nil
}

// NumSequences returns the volume's dense oid space size.
func (r *KsxReader) NumSequences() uint32 { return r.hdr.NumSequences }

// SeqLength returns the length of the sequence at oid.
func (r *KsxReader) SeqLength(oid uint32) uint32 { return r.seqLength[oid] }

// Accession returns the accession string for oid, copied out of the
// memory-mapped blob.
func (r *KsxReader) Accession(oid uint32) string {
	start, end := r.accOffset[oid], r.accOffset[oid+1]
	return string(r.accBlob[start:end])
}

// Close unmaps the file.
func (r *KsxReader) Close() error {
	if err := r.mm.Unmap(); err != nil {
		return errors.Wrap(err, "index: unmap ksx")
	}
	return r.f.Close()
}
