package message

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duct-ipc/duct-go/pkg/status"
)

func TestFromBytesCopies(t *testing.T) {
	src := []byte("hello")
	m, err := FromBytes(src)
	require.NoError(t, err)

	src[0] = 'X'
	assert.Equal(t, "hello", m.String())
	assert.Equal(t, 5, m.Size())
}

func TestFromString(t *testing.T) {
	m, err := FromString("")
	require.NoError(t, err)
	assert.Equal(t, 0, m.Size())
	assert.True(t, bytes.Equal(nil, m.Bytes()) || len(m.Bytes()) == 0)
}

func TestZeroValueIsEmpty(t *testing.T) {
	var m Message
	assert.Equal(t, 0, m.Size())
	assert.Equal(t, "", m.String())
}

func TestOversizePayloadRejected(t *testing.T) {
	big := make([]byte, MaxPayload+1)
	_, err := FromBytes(big)
	require.Error(t, err)
	assert.Equal(t, status.InvalidArgument, status.CodeOf(err))

	_, err = FromOwnedBytes(big)
	assert.Equal(t, status.InvalidArgument, status.CodeOf(err))
}

func TestMaxPayloadAccepted(t *testing.T) {
	big := make([]byte, MaxPayload)
	m, err := FromBytes(big)
	require.NoError(t, err)
	assert.Equal(t, MaxPayload, m.Size())
}

func TestCopiesShareBacking(t *testing.T) {
	m, err := FromString("shared")
	require.NoError(t, err)
	n := m
	assert.Equal(t, &m.Bytes()[0], &n.Bytes()[0])
}
