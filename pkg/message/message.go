// Package message defines the immutable byte payload passed through pipes.
package message

import "github.com/duct-ipc/duct-go/pkg/status"

// MaxPayload is the largest payload a single message may carry. It matches
// the wire-frame and shared-memory slot limits; larger payloads would need
// fragmentation, which is deliberately not implemented.
const MaxPayload = 64 * 1024

// Message is an immutable view over a byte payload. Copies are cheap: they
// share the backing array, which stays reachable while any view exists.
// The zero value is an empty message.
type Message struct {
	data []byte
}

// FromBytes builds a message by copying b. The message does not alias the
// caller's slice.
func FromBytes(b []byte) (Message, error) {
	if len(b) > MaxPayload {
		return Message{}, status.InvalidArgumentf("payload %d bytes exceeds %d byte maximum", len(b), MaxPayload)
	}
	data := make([]byte, len(b))
	copy(data, b)
	return Message{data: data}, nil
}

// FromString builds a message from the bytes of s.
func FromString(s string) (Message, error) {
	return FromBytes([]byte(s))
}

// fromOwned wraps a slice the caller promises never to mutate again. Used by
// transports that have just produced a fresh buffer.
func fromOwned(b []byte) Message { return Message{data: b} }

// FromOwnedBytes wraps b without copying. The caller must not mutate b after
// the call; every transport in this module hands over freshly allocated
// buffers.
func FromOwnedBytes(b []byte) (Message, error) {
	if len(b) > MaxPayload {
		return Message{}, status.InvalidArgumentf("payload %d bytes exceeds %d byte maximum", len(b), MaxPayload)
	}
	return fromOwned(b), nil
}

// Bytes returns the payload. The returned slice is shared with the message
// backing and must be treated as read-only.
func (m Message) Bytes() []byte { return m.data }

// Size returns the payload length in bytes.
func (m Message) Size() int { return len(m.data) }

// String returns the payload interpreted as a string (copying).
func (m Message) String() string { return string(m.data) }
