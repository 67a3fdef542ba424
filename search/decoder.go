package search

import (
	"github.com/pkg/errors"

	"github.com/astanabe/ikafssn-sub000/varint"
)

// SeqIdDecoder walks a delta-varint id blob: the first value is absolute,
// every subsequent value is a delta from the previous decoded id, with a
// zero delta signaling "same oid, another position" rather than advancing.
type SeqIdDecoder struct {
	buf       []byte
	pos       int
	prevID    uint32
	first     bool
	wasNewSeq bool
}

// NewSeqIdDecoder builds a decoder over buf, which must hold at least
// count varints.
func NewSeqIdDecoder(buf []byte) *SeqIdDecoder {
	return &SeqIdDecoder{buf: buf, first: true}
}

// Next decodes the next oid. ok is false only if buf is exhausted, which
// should not happen before the caller has consumed exactly count entries.
func (d *SeqIdDecoder) Next() (oid uint32, ok bool, err error) {
	if d.pos >= len(d.buf) {
		return 0, false, nil
	}
	delta, n, err := varint.Decode(d.buf[d.pos:])
	if err != nil {
		return 0, false, errors.Wrap(err, "search: decode oid delta")
	}
	d.pos += n
	if d.first {
		d.prevID = uint32(delta)
		d.wasNewSeq = true
		d.first = false
	} else {
		d.wasNewSeq = delta != 0
		d.prevID += uint32(delta)
	}
	return d.prevID, true, nil
}

// WasNewSeq reports whether the most recently decoded id began a new oid
// run (as opposed to another position within the same oid).
func (d *SeqIdDecoder) WasNewSeq() bool { return d.wasNewSeq }

// PosDecoder walks a delta-varint position blob in lockstep with a
// SeqIdDecoder: when the paired id decode started a new oid run, the
// position is absolute; otherwise it is a delta from the previous
// position.
type PosDecoder struct {
	buf     []byte
	pos     int
	prevPos uint32
}

// NewPosDecoder builds a decoder over buf.
func NewPosDecoder(buf []byte) *PosDecoder {
	return &PosDecoder{buf: buf}
}

// Next decodes the next position given whether the paired id decode was a
// new-oid run.
func (d *PosDecoder) Next(wasNewSeq bool) (pos uint32, err error) {
	val, n, err := varint.Decode(d.buf[d.pos:])
	if err != nil {
		return 0, errors.Wrap(err, "search: decode position delta")
	}
	d.pos += n
	if wasNewSeq {
		d.prevPos = uint32(val)
	} else {
		d.prevPos += uint32(val)
	}
	return d.prevPos, nil
}
