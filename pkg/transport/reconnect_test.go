package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duct-ipc/duct-go/pkg/status"
	"github.com/duct-ipc/duct-go/pkg/utils"
)

// stateRecorder collects callback transitions in order.
type stateRecorder struct {
	mu     sync.Mutex
	states []ConnectionState
}

func (r *stateRecorder) callback() ConnectionCallback {
	return func(s ConnectionState, reason string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.states = append(r.states, s)
	}
}

func (r *stateRecorder) snapshot() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ConnectionState, len(r.states))
	copy(out, r.states)
	return out
}

func (r *stateRecorder) waitSequence(t *testing.T, want []ConnectionState) {
	t.Helper()
	waitFor(t, 3*time.Second, func() bool {
		got := r.snapshot()
		if len(got) != len(want) {
			return false
		}
		for i := range want {
			if got[i] != want[i] {
				return false
			}
		}
		return true
	}, "callback sequence never matched")
}

// flakyDialer produces stub pipes, optionally failing the first n dials.
type flakyDialer struct {
	mu        sync.Mutex
	failFirst int
	dials     int
	current   *stubPipe
}

func (d *flakyDialer) dialOnce() (Pipe, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.dials <= d.failFirst {
		return nil, status.IoErrorf("synthetic dial failure %d", d.dials)
	}
	d.current = newStubPipe()
	return d.current, nil
}

func (d *flakyDialer) currentPipe() *stubPipe {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

func (d *flakyDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func fastPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Enabled:           true,
		InitialDelay:      5 * time.Millisecond,
		MaxDelay:          50 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestReconnectColdStartToClose(t *testing.T) {
	rec := &stateRecorder{}
	d := &flakyDialer{}

	p := NewReconnectPipe(d.dialOnce, fastPolicy(), rec.callback(), nil)

	require.NoError(t, p.Send(mustMsg(t, "a"), SendOptions{Timeout: time.Second}))
	require.NoError(t, p.Close())

	rec.waitSequence(t, []ConnectionState{Connecting, Connected, StateClosed})
}

func TestReconnectTransparentRetryAcrossDisconnect(t *testing.T) {
	rec := &stateRecorder{}
	d := &flakyDialer{}

	p := NewReconnectPipe(d.dialOnce, fastPolicy(), rec.callback(), nil)
	defer p.Close()

	require.NoError(t, p.Send(mustMsg(t, "a"), SendOptions{Timeout: time.Second}))

	// Break the current connection: the next send observes a disconnect
	// error, recovers transparently, and lands on the new connection.
	first := d.currentPipe()
	first.setSendErr(status.Closedf("peer went away"))

	require.NoError(t, p.Send(mustMsg(t, "b"), SendOptions{Timeout: 2 * time.Second}))

	second := d.currentPipe()
	require.NotSame(t, first, second)
	sent := second.sentMessages()
	require.Len(t, sent, 1)
	assert.Equal(t, "b", sent[0].String())

	p.Close()
	rec.waitSequence(t, []ConnectionState{
		Connecting, Connected, Disconnected, Reconnecting, Connected, StateClosed,
	})
}

func TestReconnectInitialDialFailuresRetry(t *testing.T) {
	d := &flakyDialer{failFirst: 3}

	p := NewReconnectPipe(d.dialOnce, fastPolicy(), nil, nil)
	defer p.Close()

	require.NoError(t, p.Send(mustMsg(t, "eventually"), SendOptions{Timeout: 3 * time.Second}))
	assert.Equal(t, 4, d.dialCount())
}

func TestReconnectMaxAttemptsPermanentFailure(t *testing.T) {
	d := &flakyDialer{failFirst: 1 << 30}
	policy := fastPolicy()
	policy.MaxAttempts = 3

	p := NewReconnectPipe(d.dialOnce, policy, nil, nil)
	defer p.Close()

	err := p.Send(mustMsg(t, "never"), SendOptions{Timeout: 3 * time.Second})
	require.Error(t, err)
	assert.Equal(t, status.IoError, status.CodeOf(err))
	assert.Contains(t, err.Error(), "exhausted")
	assert.Equal(t, 3, d.dialCount())
}

func TestReconnectWaitTimeout(t *testing.T) {
	d := &flakyDialer{failFirst: 1 << 30}

	p := NewReconnectPipe(d.dialOnce, fastPolicy(), nil, nil)
	defer p.Close()

	start := time.Now()
	err := p.Send(mustMsg(t, "x"), SendOptions{Timeout: 50 * time.Millisecond})
	assert.Equal(t, status.Timeout, status.CodeOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestReconnectInnerTimeoutSurfacedVerbatim(t *testing.T) {
	d := &flakyDialer{}
	p := NewReconnectPipe(d.dialOnce, fastPolicy(), nil, nil)
	defer p.Close()

	// Connect, then Recv with a short timeout against an empty stub.
	require.NoError(t, p.Send(mustMsg(t, "connect"), SendOptions{Timeout: time.Second}))
	_, err := p.Recv(RecvOptions{Timeout: 30 * time.Millisecond})
	assert.Equal(t, status.Timeout, status.CodeOf(err))
	// A timeout is not a disconnect: the connection survives.
	assert.Equal(t, Connected, p.State())
}

func TestReconnectCloseIdempotentAndJoinsWorker(t *testing.T) {
	detector := utils.NewGoroutineLeakDetector(t)
	detector.Start()

	rec := &stateRecorder{}
	d := &flakyDialer{}
	p := NewReconnectPipe(d.dialOnce, fastPolicy(), rec.callback(), nil)

	require.NoError(t, p.Send(mustMsg(t, "a"), SendOptions{Timeout: time.Second}))
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err := p.Recv(RecvOptions{})
	assert.Equal(t, status.Closed, status.CodeOf(err))

	// Exactly one Closed callback despite the double close.
	rec.waitSequence(t, []ConnectionState{Connecting, Connected, StateClosed})
	detector.Check()
}

func TestReconnectCloseUnblocksWaiters(t *testing.T) {
	d := &flakyDialer{failFirst: 1 << 30}
	p := NewReconnectPipe(d.dialOnce, fastPolicy(), nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := p.Recv(RecvOptions{})
		done <- err
	}()

	time.Sleep(30 * time.Millisecond)
	require.NoError(t, p.Close())

	select {
	case err := <-done:
		assert.Equal(t, status.Closed, status.CodeOf(err))
	case <-time.After(time.Second):
		t.Fatal("blocked recv not woken by close")
	}
}
