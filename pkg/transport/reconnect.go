package transport

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/duct-ipc/duct-go/pkg/logging"
	"github.com/duct-ipc/duct-go/pkg/message"
	"github.com/duct-ipc/duct-go/pkg/status"
)

// DialOnceFunc performs one synchronous connection attempt. The entry-point
// layer builds it by capturing the URI and the non-reconnect dial options.
type DialOnceFunc func() (Pipe, error)

type stateEvent struct {
	state  ConnectionState
	reason string
}

// ReconnectPipe virtualises a connection as an always-present pipe. A
// background worker dials with exponential backoff; Send and Recv block
// until connected and transparently retry across disconnects. Timeout,
// InvalidArgument, and ProtocolError from the inner pipe surface verbatim.
type ReconnectPipe struct {
	dialOnce DialOnceFunc
	policy   ReconnectPolicy
	onState  ConnectionCallback
	logger   logging.Logger

	mu            sync.Mutex
	inner         Pipe // nil while disconnected
	state         ConnectionState
	closed        bool
	permFailed    bool
	everConnected bool
	lastErr       string
	// changed is closed and replaced on every wakeup-worthy event: state
	// transitions, close, and disconnects. Operations select on it against
	// their per-call deadline.
	changed chan struct{}

	// Callback dispatch is serialized through a queue drained by a single
	// goroutine, so observers see transitions in order, exactly once, and
	// never under the mutex.
	cbQueue   []stateEvent
	cbRunning bool

	workerDone chan struct{}
}

// NewReconnectPipe starts the connection state machine in the Connecting
// state and returns immediately; the first dial happens on the worker.
func NewReconnectPipe(dialOnce DialOnceFunc, policy ReconnectPolicy, onState ConnectionCallback, logger logging.Logger) *ReconnectPipe {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &ReconnectPipe{
		dialOnce:   dialOnce,
		policy:     policy.withDefaults(),
		onState:    onState,
		logger:     logger,
		state:      Disconnected,
		changed:    make(chan struct{}),
		workerDone: make(chan struct{}),
	}
	p.mu.Lock()
	p.setStateLocked(Connecting, "initial connect")
	p.mu.Unlock()
	go p.workerLoop()
	return p
}

// Send delivers msg on the current connection, blocking while disconnected.
// A disconnect during the call is recovered transparently: the send retries
// on the next connection without surfacing an error.
func (p *ReconnectPipe) Send(msg message.Message, opt SendOptions) error {
	for {
		inner, err := p.waitConnected(opt.Timeout)
		if err != nil {
			return err
		}
		err = inner.Send(msg, opt)
		if err == nil || status.IsTimeout(err) {
			return err
		}
		if status.IsDisconnect(err) {
			p.markDisconnected(inner, "send: "+err.Error())
			continue
		}
		return err
	}
}

// Recv receives the next message, blocking while disconnected, with the
// same transparent retry semantics as Send.
func (p *ReconnectPipe) Recv(opt RecvOptions) (message.Message, error) {
	for {
		inner, err := p.waitConnected(opt.Timeout)
		if err != nil {
			return message.Message{}, err
		}
		msg, err := inner.Recv(opt)
		if err == nil || status.IsTimeout(err) {
			return msg, err
		}
		if status.IsDisconnect(err) {
			p.markDisconnected(inner, "recv: "+err.Error())
			continue
		}
		return message.Message{}, err
	}
}

// State returns the current connection state.
func (p *ReconnectPipe) State() ConnectionState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Close tears the pipe down: it wakes every blocked operation, stops the
// dial worker, closes any live inner pipe, and fires the Closed callback
// exactly once. Idempotent and safe to call from a state callback.
func (p *ReconnectPipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	innerToClose := p.inner
	p.inner = nil
	p.setStateLocked(StateClosed, "closed")
	p.mu.Unlock()

	if innerToClose != nil {
		_ = innerToClose.Close()
	}
	<-p.workerDone
	return nil
}

// broadcastLocked wakes every waiter. Callers hold p.mu.
func (p *ReconnectPipe) broadcastLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// setStateLocked applies a transition under p.mu, queues the callback, and
// wakes waiters. Re-entering the current state is a no-op, which gives the
// exactly-once callback guarantee.
func (p *ReconnectPipe) setStateLocked(next ConnectionState, reason string) {
	if p.state == next {
		return
	}
	p.state = next
	if p.onState != nil {
		p.cbQueue = append(p.cbQueue, stateEvent{next, reason})
		if !p.cbRunning {
			p.cbRunning = true
			go p.drainCallbacks()
		}
	}
	p.broadcastLocked()
}

// drainCallbacks delivers queued state events in order on a dedicated
// goroutine, with no internal lock held across an invocation.
func (p *ReconnectPipe) drainCallbacks() {
	for {
		p.mu.Lock()
		if len(p.cbQueue) == 0 {
			p.cbRunning = false
			p.mu.Unlock()
			return
		}
		ev := p.cbQueue[0]
		p.cbQueue = p.cbQueue[1:]
		p.mu.Unlock()

		p.logger.Debug("connection state changed",
			logging.String("state", ev.state.String()),
			logging.String("reason", ev.reason))
		p.onState(ev.state, ev.reason)
	}
}

// waitConnected blocks until the pipe is connected, closed, or permanently
// failed. A non-zero timeout bounds the wait.
func (p *ReconnectPipe) waitConnected(timeout time.Duration) (Pipe, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.closed {
			return nil, status.Closedf("pipe closed")
		}
		if p.inner != nil {
			return p.inner, nil
		}
		if p.permFailed {
			return nil, status.IoErrorf("reconnect attempts exhausted: %s", p.lastErr)
		}

		ch := p.changed
		p.mu.Unlock()
		err := waitEvent(ch, deadline)
		p.mu.Lock()
		if err != nil {
			return nil, status.Timeoutf("connect timed out")
		}
	}
}

// markDisconnected records the loss of a specific inner pipe. The identity
// check discards stale errors from a connection that has already been
// replaced, so a single failure causes exactly one Disconnected transition.
func (p *ReconnectPipe) markDisconnected(which Pipe, reason string) {
	p.mu.Lock()
	if p.closed || p.inner == nil || p.inner != which {
		p.mu.Unlock()
		return
	}
	p.inner = nil
	p.lastErr = reason
	p.setStateLocked(Disconnected, reason)
	p.mu.Unlock()

	_ = which.Close()
}

func (p *ReconnectPipe) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// newBackoffSchedule builds the dial retry schedule from the policy. The
// randomization keeps simultaneous reconnecting clients from thundering in
// lockstep.
func (p *ReconnectPipe) newBackoffSchedule() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.policy.InitialDelay
	b.MaxInterval = p.policy.MaxDelay
	b.Multiplier = p.policy.BackoffMultiplier
	b.RandomizationFactor = 0.25
	b.MaxElapsedTime = 0 // attempts are bounded by MaxAttempts, not time
	b.Reset()
	return b
}

// workerLoop owns dialing. It sleeps while connected and runs the backoff
// schedule while disconnected.
func (p *ReconnectPipe) workerLoop() {
	defer close(p.workerDone)

	for {
		p.mu.Lock()
		for !p.closed && p.inner != nil {
			ch := p.changed
			p.mu.Unlock()
			<-ch
			p.mu.Lock()
		}
		if p.closed || p.permFailed {
			p.mu.Unlock()
			return
		}
		if p.everConnected {
			p.setStateLocked(Reconnecting, p.lastErr)
		} else {
			p.setStateLocked(Connecting, "connecting")
		}
		p.mu.Unlock()

		if !p.dialUntilConnected() {
			return
		}
	}
}

// dialUntilConnected runs dial attempts until one succeeds. Returns false
// when the pipe closed or the attempt budget ran out.
func (p *ReconnectPipe) dialUntilConnected() bool {
	schedule := p.newBackoffSchedule()
	attempts := 0

	for {
		if p.isClosed() {
			return false
		}
		if p.policy.MaxAttempts != 0 && attempts >= p.policy.MaxAttempts {
			p.mu.Lock()
			p.permFailed = true
			reason := p.lastErr
			p.setStateLocked(Disconnected, "reconnect attempts exhausted: "+reason)
			p.broadcastLocked()
			p.mu.Unlock()

			p.logger.Warn("reconnect attempts exhausted", logging.String("last_error", reason))
			return false
		}

		pipe, err := p.dialOnce()
		if err == nil {
			p.mu.Lock()
			if p.closed {
				p.mu.Unlock()
				_ = pipe.Close()
				return false
			}
			p.inner = pipe
			p.everConnected = true
			p.lastErr = ""
			p.setStateLocked(Connected, "connected")
			p.mu.Unlock()
			return true
		}

		attempts++
		p.mu.Lock()
		p.lastErr = err.Error()
		ch := p.changed
		p.mu.Unlock()

		p.logger.Debug("dial attempt failed",
			logging.Int("attempt", attempts),
			logging.ErrorField(err))

		// Sleep out the backoff delay, waking early on close.
		delay := schedule.NextBackOff()
		if delay == backoff.Stop {
			delay = p.policy.MaxDelay
		}
		_ = waitEvent(ch, time.Now().Add(delay))
	}
}

// waitEvent blocks until ch closes or the deadline passes; zero deadline
// waits forever. Non-nil error means the deadline expired.
func waitEvent(ch <-chan struct{}, deadline time.Time) error {
	if deadline.IsZero() {
		<-ch
		return nil
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		return status.Timeoutf("deadline expired")
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-ch:
		return nil
	case <-timer.C:
		return status.Timeoutf("deadline expired")
	}
}
