package index

import (
	"bufio"
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
)

// KixWriteParams bundles everything needed to finalize a .kix file; the
// offset/count tables are already fully known by the time the builder
// calls this (the merge assigned each k-mer's offset as it appended that
// k-mer's postings to the blob).
type KixWriteParams struct {
	K             int
	KmerType      uint8
	NumSequences  uint32
	TotalPostings uint64
	DBName        string
	Offset        []uint64 // length 4^k
	Count         []uint32 // length 4^k
	Blob          []byte   // delta-varint id postings, already laid out by offset
}

// WriteKix writes a complete .kix file to path.
func WriteKix(path string, p KixWriteParams) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "index: create kix %s", path)
	}
	defer func() {
		cerr := f.Close()
		if err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriterSize(f, 1<<20)
	hdr := &kixHeader{
		Version:       FormatVersion,
		K:             uint8(p.K),
		KmerType:      p.KmerType,
		NumSequences:  p.NumSequences,
		TotalPostings: p.TotalPostings,
		DBName:        setDBName(p.DBName),
	}
	if _, err := bw.Write(hdr.marshal()); err != nil {
		return errors.Wrapf(err, "index: write kix header %s", path)
	}

	var u64buf [8]byte
	for _, v := range p.Offset {
		binary.LittleEndian.PutUint64(u64buf[:], v)
		if _, err := bw.Write(u64buf[:]); err != nil {
			return errors.Wrapf(err, "index: write kix offset table %s", path)
		}
	}
	var u32buf [4]byte
	for _, v := range p.Count {
		binary.LittleEndian.PutUint32(u32buf[:], v)
		if _, err := bw.Write(u32buf[:]); err != nil {
			return errors.Wrapf(err, "index: write kix count table %s", path)
		}
	}
	if _, err := bw.Write(p.Blob); err != nil {
		return errors.Wrapf(err, "index: write kix blob %s", path)
	}
	return bw.Flush()
}

// KpxWriteParams mirrors KixWriteParams for the position file.
type KpxWriteParams struct {
	K             int
	TotalPostings uint64
	PosOffset     []uint64
	Blob          []byte
}

// WriteKpx writes a complete .kpx file to path.
func WriteKpx(path string, p KpxWriteParams) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "index: create kpx %s", path)
	}
	defer func() {
		cerr := f.Close()
		if err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriterSize(f, 1<<20)
	hdr := &kpxHeader{Version: FormatVersion, K: uint8(p.K), TotalPostings: p.TotalPostings}
	if _, err := bw.Write(hdr.marshal()); err != nil {
		return errors.Wrapf(err, "index: write kpx header %s", path)
	}
	var u64buf [8]byte
	for _, v := range p.PosOffset {
		binary.LittleEndian.PutUint64(u64buf[:], v)
		if _, err := bw.Write(u64buf[:]); err != nil {
			return errors.Wrapf(err, "index: write kpx offset table %s", path)
		}
	}
	if _, err := bw.Write(p.Blob); err != nil {
		return errors.Wrapf(err, "index: write kpx blob %s", path)
	}
	return bw.Flush()
}

// KsxSeqEntry is one reference sequence's metadata, as presented to the
// writer in oid order.
type KsxSeqEntry struct {
	Length    uint32
	Accession string
}

// WriteKsx writes a complete .ksx file to path from a dense oid-ordered
// list of sequence entries.
func WriteKsx(path string, entries []KsxSeqEntry) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "index: create ksx %s", path)
	}
	defer func() {
		cerr := f.Close()
		if err == nil {
			err = cerr
		}
	}()

	bw := bufio.NewWriterSize(f, 1<<20)
	hdr := &ksxHeader{FormatVersion: FormatVersion, NumSequences: uint32(len(entries))}
	if _, err := bw.Write(hdr.marshal()); err != nil {
		return errors.Wrapf(err, "index: write ksx header %s", path)
	}

	var u32buf [4]byte
	for _, e := range entries {
		binary.LittleEndian.PutUint32(u32buf[:], e.Length)
		if _, err := bw.Write(u32buf[:]); err != nil {
			return errors.Wrapf(err, "index: write ksx seq_length %s", path)
		}
	}

	offsets := make([]uint32, len(entries)+1)
	var cum uint32
	for i, e := range entries {
		offsets[i] = cum
		cum += uint32(len(e.Accession))
	}
	offsets[len(entries)] = cum
	for _, off := range offsets {
		binary.LittleEndian.PutUint32(u32buf[:], off)
		if _, err := bw.Write(u32buf[:]); err != nil {
			return errors.Wrapf(err, "index: write ksx acc_offset %s", path)
		}
	}

	for _, e := range entries {
		if _, err := bw.WriteString(e.Accession); err != nil {
			return errors.Wrapf(err, "index: write ksx accession %s", path)
		}
	}

	return bw.Flush()
}
