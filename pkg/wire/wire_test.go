package wire

import (
	"bytes"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duct-ipc/duct-go/pkg/message"
	"github.com/duct-ipc/duct-go/pkg/status"
)

func TestHeaderRoundTrip(t *testing.T) {
	headers := []FrameHeader{
		NewFrameHeader(0, 0),
		NewFrameHeader(5, FlagReliable),
		NewFrameHeader(MaxFramePayload, FlagFrag),
		NewFrameHeader(1, FlagReliable|FlagFrag),
	}
	for _, h := range headers {
		var buf [HeaderLen]byte
		EncodeHeader(h, buf[:])
		got, err := DecodeHeader(buf[:])
		require.NoError(t, err)
		assert.Equal(t, h, got)
	}
}

func TestHeaderWireLayout(t *testing.T) {
	var buf [HeaderLen]byte
	EncodeHeader(NewFrameHeader(5, 0), buf[:])

	// magic "DUCT" big-endian at offset 0
	assert.Equal(t, []byte{0x44, 0x55, 0x43, 0x54}, buf[0:4])
	// version 1, header_len 16
	assert.Equal(t, []byte{0x00, 0x01}, buf[4:6])
	assert.Equal(t, []byte{0x00, 0x10}, buf[6:8])
	// payload_len 5
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x05}, buf[8:12])
}

func TestDecodeHeaderRejections(t *testing.T) {
	mk := func(mutate func([]byte)) []byte {
		var buf [HeaderLen]byte
		EncodeHeader(NewFrameHeader(5, 0), buf[:])
		mutate(buf[:])
		return buf[:]
	}

	tests := []struct {
		name string
		in   []byte
	}{
		{"all zeros (bad magic)", make([]byte, HeaderLen)},
		{"bad magic", mk(func(b []byte) { b[0] = 0xFF })},
		{"bad version", mk(func(b []byte) { b[5] = 9 })},
		{"bad header_len", mk(func(b []byte) { b[7] = 17 })},
		{"oversize payload_len", mk(func(b []byte) { b[8] = 0xFF })},
		{"truncated", []byte{0x44, 0x55}},
	}
	for _, tt := range tests {
		_, err := DecodeHeader(tt.in)
		require.Error(t, err, tt.name)
		assert.Equal(t, status.ProtocolError, status.CodeOf(err), tt.name)
	}
}

func TestFrameRoundTrip(t *testing.T) {
	payloads := [][]byte{
		nil,
		[]byte("hello"),
		bytes.Repeat([]byte{0xAB}, MaxFramePayload),
	}
	for _, p := range payloads {
		var buf bytes.Buffer
		msg, err := message.FromBytes(p)
		require.NoError(t, err)
		require.NoError(t, WriteFrame(&buf, msg, 0))

		got, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, len(p), got.Size())
		assert.Equal(t, p, append([]byte(nil), got.Bytes()...))
	}
}

func TestFrameRoundTripOverConn(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	msg, err := message.FromString("ping over a real conn")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- WriteFrame(client, msg, FlagReliable)
	}()

	got, err := ReadFrame(server)
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, "ping over a real conn", got.String())
}

func TestReadFrameOnEOFIsClosed(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	assert.Equal(t, status.Closed, status.CodeOf(err))
}

func TestReadFrameTruncatedBodyIsClosed(t *testing.T) {
	var buf bytes.Buffer
	msg, err := message.FromString("hello")
	require.NoError(t, err)
	require.NoError(t, WriteFrame(&buf, msg, 0))

	// Drop the last two payload bytes: the peer went away mid-frame.
	truncated := buf.Bytes()[:buf.Len()-2]
	_, err = ReadFrame(bytes.NewReader(truncated))
	assert.Equal(t, status.Closed, status.CodeOf(err))
}

func TestReadFrameGarbageIsProtocolError(t *testing.T) {
	garbage := bytes.Repeat([]byte{0x00}, HeaderLen)
	_, err := ReadFrame(bytes.NewReader(garbage))
	assert.Equal(t, status.ProtocolError, status.CodeOf(err))
}

func TestClassifyTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	require.NoError(t, server.SetReadDeadline(timeNowPlus(10)))
	_, err := ReadFrame(server)
	assert.Equal(t, status.Timeout, status.CodeOf(err))
}
