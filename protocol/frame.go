// Package protocol implements the length-prefixed binary frame envelope
// and the search/info/health message payloads that sit at the boundary of
// the search core, when a socket transport is present.
package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// FrameMagic is the 4-byte magic "IKSV", read as a little-endian u32.
const FrameMagic uint32 = 0x56534B49

// MaxPayloadSize caps a single frame's payload.
const MaxPayloadSize = 64 * 1024 * 1024

// FrameHeaderSize is the fixed 12-byte frame header length.
const FrameHeaderSize = 12

// CurrentMsgVersion is the message-format version written into every frame.
const CurrentMsgVersion uint8 = 3

// MsgType tags the payload that follows a frame header.
type MsgType uint8

const (
	MsgSearchRequest MsgType = 0x01
	MsgInfoRequest   MsgType = 0x02
	MsgHealthRequest MsgType = 0x03

	MsgSearchResponse MsgType = 0x81
	MsgInfoResponse   MsgType = 0x82
	MsgHealthResponse MsgType = 0x83
	MsgErrorResponse  MsgType = 0xFF
)

// ErrFrame wraps any frame-level protocol violation: bad magic, bad
// version, or an oversized payload.
var ErrFrame = errors.New("protocol: invalid frame")

// Frame is a decoded header plus its payload bytes.
type Frame struct {
	Type    MsgType
	Version uint8
	Payload []byte
}

// WriteFrame writes a length-prefixed frame for msgType/payload to w.
func WriteFrame(w io.Writer, msgType MsgType, payload []byte) error {
	if len(payload) > MaxPayloadSize {
		return errors.Wrapf(ErrFrame, "payload of %d bytes exceeds max %d", len(payload), MaxPayloadSize)
	}
	var hdr [FrameHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], FrameMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(payload)))
	hdr[8] = byte(msgType)
	hdr[9] = CurrentMsgVersion
	// hdr[10:12] reserved, zero.
	if err := writeAll(w, hdr[:]); err != nil {
		return errors.Wrap(err, "protocol: write frame header")
	}
	if err := writeAll(w, payload); err != nil {
		return errors.Wrap(err, "protocol: write frame payload")
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r, validating magic,
// version, and payload size.
func ReadFrame(r io.Reader) (*Frame, error) {
	var hdr [FrameHeaderSize]byte
	if err := readAll(r, hdr[:]); err != nil {
		return nil, errors.Wrap(err, "protocol: read frame header")
	}
	magic := binary.LittleEndian.Uint32(hdr[0:4])
	if magic != FrameMagic {
		return nil, errors.Wrapf(ErrFrame, "bad magic %#x", magic)
	}
	payloadLen := binary.LittleEndian.Uint32(hdr[4:8])
	if payloadLen > MaxPayloadSize {
		return nil, errors.Wrapf(ErrFrame, "payload_length %d exceeds max %d", payloadLen, MaxPayloadSize)
	}
	msgType := MsgType(hdr[8])
	version := hdr[9]
	if version != CurrentMsgVersion {
		return nil, errors.Wrapf(ErrFrame, "unsupported msg_version %d", version)
	}

	payload := make([]byte, payloadLen)
	if err := readAll(r, payload); err != nil {
		return nil, errors.Wrap(err, "protocol: read frame payload")
	}
	return &Frame{Type: msgType, Version: version, Payload: payload}, nil
}

// writeAll loops until buf is fully written, the way the original
// prototype's write_all helper tolerates short writes.
func writeAll(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}

// readAll loops until buf is completely filled or an error occurs.
func readAll(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}
