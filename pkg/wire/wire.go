// Package wire implements the length-delimited frame format shared by every
// stream transport: a fixed 16-byte big-endian header followed by up to 64KiB
// of payload.
package wire

import (
	"encoding/binary"
	"errors"
	"io"
	"net"

	"github.com/duct-ipc/duct-go/pkg/message"
	"github.com/duct-ipc/duct-go/pkg/status"
)

const (
	// Magic identifies a duct frame ("DUCT").
	Magic uint32 = 0x44554354

	// Version is the only frame version currently spoken.
	Version uint16 = 1

	// HeaderLen is the fixed encoded header size.
	HeaderLen = 16

	// MaxFramePayload bounds a single frame's payload.
	MaxFramePayload = message.MaxPayload
)

// Frame flag bits. Both are reserved: they are carried on the wire but have
// no semantics yet.
const (
	FlagReliable uint32 = 1 << 0
	FlagFrag     uint32 = 1 << 4
)

// FrameHeader is the decoded form of the 16-byte frame header.
type FrameHeader struct {
	Magic      uint32
	Version    uint16
	HeaderLen  uint16
	PayloadLen uint32
	Flags      uint32
}

// NewFrameHeader returns a header for a payload of the given length.
func NewFrameHeader(payloadLen int, flags uint32) FrameHeader {
	return FrameHeader{
		Magic:      Magic,
		Version:    Version,
		HeaderLen:  HeaderLen,
		PayloadLen: uint32(payloadLen),
		Flags:      flags,
	}
}

// EncodeHeader encodes h into out, which must be at least HeaderLen bytes.
// All integer fields are big-endian.
func EncodeHeader(h FrameHeader, out []byte) {
	binary.BigEndian.PutUint32(out[0:4], h.Magic)
	binary.BigEndian.PutUint16(out[4:6], h.Version)
	binary.BigEndian.PutUint16(out[6:8], h.HeaderLen)
	binary.BigEndian.PutUint32(out[8:12], h.PayloadLen)
	binary.BigEndian.PutUint32(out[12:16], h.Flags)
}

// DecodeHeader decodes and validates a 16-byte header. Any constraint
// violation is a ProtocolError.
func DecodeHeader(in []byte) (FrameHeader, error) {
	if len(in) < HeaderLen {
		return FrameHeader{}, status.ProtocolErrorf("short header: %d bytes", len(in))
	}
	h := FrameHeader{
		Magic:      binary.BigEndian.Uint32(in[0:4]),
		Version:    binary.BigEndian.Uint16(in[4:6]),
		HeaderLen:  binary.BigEndian.Uint16(in[6:8]),
		PayloadLen: binary.BigEndian.Uint32(in[8:12]),
		Flags:      binary.BigEndian.Uint32(in[12:16]),
	}
	if h.Magic != Magic {
		return FrameHeader{}, status.ProtocolErrorf("bad magic 0x%08x", h.Magic)
	}
	if h.Version != Version {
		return FrameHeader{}, status.ProtocolErrorf("unsupported version %d", h.Version)
	}
	if h.HeaderLen != HeaderLen {
		return FrameHeader{}, status.ProtocolErrorf("bad header_len %d", h.HeaderLen)
	}
	if h.PayloadLen > MaxFramePayload {
		return FrameHeader{}, status.ProtocolErrorf("payload_len %d exceeds frame maximum", h.PayloadLen)
	}
	return h, nil
}

// WriteFrame writes one frame carrying msg to w. Payloads over the frame
// maximum are rejected with InvalidArgument before any bytes are written.
func WriteFrame(w io.Writer, msg message.Message, flags uint32) error {
	if msg.Size() > MaxFramePayload {
		return status.InvalidArgumentf("payload %d bytes exceeds frame maximum %d", msg.Size(), MaxFramePayload)
	}

	buf := make([]byte, HeaderLen+msg.Size())
	EncodeHeader(NewFrameHeader(msg.Size(), flags), buf)
	copy(buf[HeaderLen:], msg.Bytes())

	if err := writeAll(w, buf); err != nil {
		return err
	}
	return nil
}

// ReadFrame reads one complete frame from r and returns its payload.
func ReadFrame(r io.Reader) (message.Message, error) {
	var hdr [HeaderLen]byte
	if err := readExact(r, hdr[:]); err != nil {
		return message.Message{}, err
	}
	h, err := DecodeHeader(hdr[:])
	if err != nil {
		return message.Message{}, err
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen != 0 {
		if err := readExact(r, payload); err != nil {
			return message.Message{}, err
		}
	}
	return message.FromOwnedBytes(payload)
}

// writeAll writes the whole of buf, translating low-level failures into the
// status taxonomy. The Go runtime restarts interrupted syscalls, so unlike a
// raw send loop there is no EINTR handling here.
func writeAll(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return classifyIOError(err, "write")
		}
		buf = buf[n:]
	}
	return nil
}

// readExact fills buf completely or fails. A clean end-of-stream (either at
// a frame boundary or mid-frame) is Closed; anything else is IoError or
// Timeout.
func readExact(r io.Reader, buf []byte) error {
	if _, err := io.ReadFull(r, buf); err != nil {
		return classifyIOError(err, "read")
	}
	return nil
}

// classifyIOError maps a net/io error onto the status taxonomy.
func classifyIOError(err error, op string) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return status.Wrap(err, status.Closed, "peer closed")
	case errors.Is(err, net.ErrClosed):
		return status.Wrap(err, status.Closed, "connection closed")
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return status.Wrapf(err, status.Timeout, "%s deadline expired", op)
	}
	var serr *status.Status
	if errors.As(err, &serr) {
		return err
	}
	return status.Wrapf(err, status.IoError, "%s failed", op)
}
