package transport

import (
	"sync"
	"testing"
	"time"

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

// stubPipe is a scriptable in-memory pipe for overlay tests.
type stubPipe struct {
	mu      sync.Mutex
	sent    []message.Message
	sendErr error // returned by Send while set
	closed  bool

	recvCh chan message.Message
}

func newStubPipe() *stubPipe {
	return &stubPipe{recvCh: make(chan message.Message, 16)}
}

func (p *stubPipe) Send(msg message.Message, opt SendOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return status.Closedf("pipe closed")
	}
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, msg)
	return nil
}

func (p *stubPipe) Recv(opt RecvOptions) (message.Message, error) {
	var timer <-chan time.Time
	if opt.Timeout > 0 {
		t := time.NewTimer(opt.Timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case m, ok := <-p.recvCh:
		if !ok {
			return message.Message{}, status.Closedf("pipe closed")
		}
		return m, nil
	case <-timer:
		return message.Message{}, status.Timeoutf("recv timed out")
	}
}

func (p *stubPipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *stubPipe) setSendErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sendErr = err
}

func (p *stubPipe) sentMessages() []message.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]message.Message, len(p.sent))
	copy(out, p.sent)
	return out
}

func (p *stubPipe) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}
