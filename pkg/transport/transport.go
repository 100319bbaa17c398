// Package transport defines the Pipe and Listener contracts shared by every
// duct transport, the option types that configure them, and the overlay
// pipes (QoS, reconnect, observability) that compose on top of a raw
// transport connection.
package transport

import (
	"time"

	"github.com/duct-ipc/duct-go/pkg/logging"
	"github.com/duct-ipc/duct-go/pkg/message"
	"github.com/duct-ipc/duct-go/pkg/observability"
	"github.com/duct-ipc/duct-go/pkg/queue"
	"github.com/duct-ipc/duct-go/pkg/status"
)

// Pipe is a point-to-point full-duplex message transport. Framing is
// preserved: one Send corresponds to exactly one Recv on the peer.
//
// Close is idempotent and safe to call concurrently with in-flight Send and
// Recv calls; it wakes every blocked operation, which then returns Closed.
type Pipe interface {
	Send(msg message.Message, opt SendOptions) error
	Recv(opt RecvOptions) (message.Message, error)
	Close() error
}

// Listener yields one Pipe per accepted connection.
type Listener interface {
	Accept() (Pipe, error)
	// LocalAddress returns the effective local URI. Useful when binding to
	// an ephemeral port; transports that cannot report it return
	// NotSupported.
	LocalAddress() (string, error)
	Close() error
}

// SendOptions carries per-call send parameters. A zero Timeout blocks
// indefinitely.
type SendOptions struct {
	Timeout time.Duration
}

// RecvOptions carries per-call receive parameters. A zero Timeout blocks
// indefinitely.
type RecvOptions struct {
	Timeout time.Duration
}

// Reliability is reserved for future acknowledged delivery. Only AtMostOnce
// has semantics today; configuring anything else is rejected at dial time
// rather than silently accepted.
type Reliability int

const (
	AtMostOnce Reliability = iota
	AtLeastOnce
)

// QosOptions configures the outbound queueing overlay. The zero value means
// "no QoS overlay"; use DefaultQosOptions for the standard 4MiB bounded
// queue.
type QosOptions struct {
	// SndHwmBytes bounds the outbound queue in payload bytes. 0 with any
	// other field set means unlimited.
	SndHwmBytes int
	// RcvHwmBytes is reserved; this design has no read-side queue.
	RcvHwmBytes int
	// Backpressure selects the reaction to a full outbound queue.
	Backpressure queue.Policy
	// TTL expires queued messages; 0 disables expiry.
	TTL time.Duration
	// Linger is reserved for drain-on-close and must be 0.
	Linger time.Duration
	// Reliability is reserved and must be AtMostOnce.
	Reliability Reliability
}

// DefaultQosOptions returns the standard QoS configuration: a 4MiB blocking
// outbound queue with no TTL.
func DefaultQosOptions() QosOptions {
	return QosOptions{
		SndHwmBytes:  4 * 1024 * 1024,
		RcvHwmBytes:  4 * 1024 * 1024,
		Backpressure: queue.Block,
	}
}

// Enabled reports whether the options request a QoS overlay at all; the
// zero value means "no overlay".
func (q QosOptions) Enabled() bool {
	return q != QosOptions{}
}

// Validate rejects configurations of reserved fields.
func (q QosOptions) Validate() error {
	if q.Reliability != AtMostOnce {
		return status.InvalidArgumentf("reliability levels beyond at-most-once are reserved")
	}
	if q.Linger != 0 {
		return status.InvalidArgumentf("linger is reserved and must be zero")
	}
	return nil
}

// ReconnectPolicy configures the auto-reconnect overlay.
type ReconnectPolicy struct {
	// Enabled turns dialing into a virtual always-present pipe that
	// reconnects in the background.
	Enabled bool
	// InitialDelay is the first backoff delay after a failed dial.
	InitialDelay time.Duration
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration
	// BackoffMultiplier grows the delay after each failed dial.
	BackoffMultiplier float64
	// MaxAttempts bounds consecutive failed dials; 0 retries forever.
	MaxAttempts int
	// HeartbeatInterval maps to OS keepalive on transports that support it
	// (TCP). 0 disables.
	HeartbeatInterval time.Duration
}

// DefaultReconnectPolicy returns the standard enabled policy: 100ms initial
// delay doubling up to 30s, retrying forever.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		Enabled:           true,
		InitialDelay:      100 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		HeartbeatInterval: 5 * time.Second,
	}
}

// withDefaults fills zero fields so a caller can set Enabled alone.
func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	if p.InitialDelay == 0 {
		p.InitialDelay = 100 * time.Millisecond
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.BackoffMultiplier == 0 {
		p.BackoffMultiplier = 2.0
	}
	return p
}

// ConnectionState is the observable lifecycle of a reconnecting pipe.
type ConnectionState int

const (
	Connecting ConnectionState = iota
	Connected
	Disconnected
	Reconnecting
	StateClosed
)

// String returns the state name.
func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Reconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectionCallback observes state transitions of a reconnecting pipe. It
// fires exactly once per transition and is never invoked while internal
// locks are held, so it may call back into the pipe.
type ConnectionCallback func(state ConnectionState, reason string)

// DialOptions is the unified dial-side configuration.
type DialOptions struct {
	// Timeout bounds a single connection attempt. 0 blocks indefinitely on
	// plain dials; reconnect-enabled dials substitute an internal default so
	// Close always makes progress.
	Timeout time.Duration

	Qos       QosOptions
	Reconnect ReconnectPolicy

	// OnStateChange observes the reconnect state machine. Ignored unless
	// Reconnect.Enabled.
	OnStateChange ConnectionCallback

	// Logger receives structured diagnostics. Nil means silent.
	Logger logging.Logger

	// Metrics records per-pipe counters and histograms. Nil disables
	// recording.
	Metrics *observability.PipeMetrics
}

// DefaultDialOptions returns dial options with the standard QoS overlay and
// reconnect disabled.
func DefaultDialOptions() DialOptions {
	return DialOptions{
		Timeout: 30 * time.Second,
		Qos:     DefaultQosOptions(),
	}
}

func (o DialOptions) logger() logging.Logger {
	if o.Logger == nil {
		return logging.NewNop()
	}
	return o.Logger
}

// ListenOptions is the listen-side configuration.
type ListenOptions struct {
	// Logger receives structured diagnostics. Nil means silent.
	Logger logging.Logger
}

func (o ListenOptions) logger() logging.Logger {
	if o.Logger == nil {
		return logging.NewNop()
	}
	return o.Logger
}
