package queue

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duct-ipc/duct-go/pkg/message"
	"github.com/duct-ipc/duct-go/pkg/status"
)

func mustMsg(t *testing.T, s string) message.Message {
	t.Helper()
	m, err := message.FromString(s)
	require.NoError(t, err)
	return m
}

// mustPush pushes with no timeout, asserting success and no drops.
func mustPush(t *testing.T, q *MessageQueue, s string) {
	t.Helper()
	dropped, err := q.Push(mustMsg(t, s), 0)
	require.NoError(t, err)
	require.Zero(t, dropped)
}

func TestFIFOOrder(t *testing.T) {
	q := New(0, Block, 0)
	defer q.Close()

	for i := 0; i < 10; i++ {
		mustPush(t, q, fmt.Sprintf("msg-%d", i))
	}
	for i := 0; i < 10; i++ {
		m, err := q.Pop(time.Second)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("msg-%d", i), m.String())
	}
	assert.Equal(t, 0, q.SizeMsgs())
	assert.Equal(t, 0, q.SizeBytes())
}

func TestBlockPolicyWaitsForSpace(t *testing.T) {
	q := New(4, Block, 0)
	defer q.Close()

	mustPush(t, q, "aaaa")
	require.True(t, q.AtHWM())

	done := make(chan error, 1)
	go func() {
		_, err := q.Push(mustMsg(t, "bbbb"), 0)
		done <- err
	}()

	select {
	case <-done:
		t.Fatal("push should have blocked at HWM")
	case <-time.After(50 * time.Millisecond):
	}

	_, err := q.Pop(time.Second)
	require.NoError(t, err)
	require.NoError(t, <-done)
}

func TestBlockPolicyTimeout(t *testing.T) {
	q := New(4, Block, 0)
	defer q.Close()

	mustPush(t, q, "aaaa")
	_, err := q.Push(mustMsg(t, "bbbb"), 30*time.Millisecond)
	assert.Equal(t, status.Timeout, status.CodeOf(err))
}

func TestDropNewPolicy(t *testing.T) {
	q := New(4, DropNew, 0)
	defer q.Close()

	mustPush(t, q, "kept")

	dropped, err := q.Push(mustMsg(t, "dropped"), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, dropped, "DropNew at HWM must report the discarded message")

	assert.Equal(t, 1, q.SizeMsgs())
	m, err := q.Pop(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "kept", m.String())
}

func TestDropOldPolicy(t *testing.T) {
	q := New(8, DropOld, 0)
	defer q.Close()

	mustPush(t, q, "old_old__") // 9 bytes, at HWM now

	dropped, err := q.Push(mustMsg(t, "newest"), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, dropped, "DropOld must report the evicted message")

	assert.LessOrEqual(t, q.SizeBytes(), 8)
	m, err := q.Pop(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "newest", m.String())
}

func TestFailFastPolicy(t *testing.T) {
	q := New(4, FailFast, 0)
	defer q.Close()

	mustPush(t, q, "aaaa")
	_, err := q.Push(mustMsg(t, "bbbb"), 0)
	assert.Equal(t, status.IoError, status.CodeOf(err))
}

func TestPopTimeout(t *testing.T) {
	q := New(0, Block, 0)
	defer q.Close()

	start := time.Now()
	_, err := q.Pop(30 * time.Millisecond)
	assert.Equal(t, status.Timeout, status.CodeOf(err))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestTTLExpiredMessagesSkipped(t *testing.T) {
	q := New(0, Block, 20*time.Millisecond)
	defer q.Close()

	mustPush(t, q, "stale")
	time.Sleep(40 * time.Millisecond)
	mustPush(t, q, "fresh")

	m, err := q.Pop(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "fresh", m.String())
	assert.Equal(t, 0, q.SizeMsgs())
}

func TestPurgeExpired(t *testing.T) {
	q := New(0, Block, 20*time.Millisecond)
	defer q.Close()

	for i := 0; i < 3; i++ {
		mustPush(t, q, "x")
	}
	time.Sleep(40 * time.Millisecond)
	mustPush(t, q, "alive")

	assert.Equal(t, 3, q.PurgeExpired())
	assert.Equal(t, 1, q.SizeMsgs())
}

func TestPurgeExpiredNoTTL(t *testing.T) {
	q := New(0, Block, 0)
	defer q.Close()
	mustPush(t, q, "x")
	assert.Equal(t, 0, q.PurgeExpired())
}

func TestCloseWakesWaiters(t *testing.T) {
	q := New(0, Block, 0)

	popDone := make(chan error, 1)
	go func() {
		_, err := q.Pop(0)
		popDone <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-popDone:
		assert.Equal(t, status.Closed, status.CodeOf(err))
	case <-time.After(time.Second):
		t.Fatal("pop was not woken by close")
	}

	// Close is idempotent; push after close reports Closed.
	q.Close()
	_, err := q.Push(mustMsg(t, "late"), 0)
	assert.Equal(t, status.Closed, status.CodeOf(err))
}

func TestTryPop(t *testing.T) {
	q := New(0, Block, 0)
	defer q.Close()

	_, ok := q.TryPop()
	assert.False(t, ok)

	mustPush(t, q, "x")
	m, ok := q.TryPop()
	assert.True(t, ok)
	assert.Equal(t, "x", m.String())
}
