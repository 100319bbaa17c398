// Package duct is a transport-agnostic messaging library. Applications
// address peers by URI — tcp://host:port, uds:///path, shm://name,
// pipe://name — and the library selects a transport that preserves message
// framing, flow control, and optional auto-reconnect.
//
// The two entry points are Listen and Dial:
//
//	ln, err := duct.Listen("tcp://127.0.0.1:0", duct.ListenOptions{})
//	...
//	pipe, err := duct.Dial("tcp://127.0.0.1:5555", duct.DefaultDialOptions())
//	err = pipe.Send(msg, duct.SendOptions{})
//
// Dial composes overlays onto the raw transport connection: a QoS overlay
// (bounded outbound queue with backpressure and TTL) when QosOptions are
// set, and an auto-reconnect overlay (connection state machine with
// exponential-backoff redial) when ReconnectPolicy.Enabled is set.
package duct

import (
	"context"
	"time"

	"github.com/duct-ipc/duct-go/pkg/address"
	"github.com/duct-ipc/duct-go/pkg/message"
	"github.com/duct-ipc/duct-go/pkg/observability"
	"github.com/duct-ipc/duct-go/pkg/shm"
	"github.com/duct-ipc/duct-go/pkg/status"
	"github.com/duct-ipc/duct-go/pkg/transport"
)

// Re-exported core types, so most applications only import this package.
type (
	Message = message.Message

	Pipe     = transport.Pipe
	Listener = transport.Listener

	SendOptions   = transport.SendOptions
	RecvOptions   = transport.RecvOptions
	DialOptions   = transport.DialOptions
	ListenOptions = transport.ListenOptions

	QosOptions      = transport.QosOptions
	ReconnectPolicy = transport.ReconnectPolicy
	ConnectionState = transport.ConnectionState
)

// Connection states, re-exported for callback consumers.
const (
	Connecting   = transport.Connecting
	Connected    = transport.Connected
	Disconnected = transport.Disconnected
	Reconnecting = transport.Reconnecting
	StateClosed  = transport.StateClosed
)

// FromBytes builds a message by copying b.
func FromBytes(b []byte) (Message, error) { return message.FromBytes(b) }

// FromString builds a message from the bytes of s.
func FromString(s string) (Message, error) { return message.FromString(s) }

// DefaultDialOptions returns dial options with the standard QoS overlay and
// reconnect disabled.
func DefaultDialOptions() DialOptions { return transport.DefaultDialOptions() }

// DefaultQosOptions returns the standard 4MiB blocking QoS configuration.
func DefaultQosOptions() QosOptions { return transport.DefaultQosOptions() }

// DefaultReconnectPolicy returns the standard enabled reconnect policy.
func DefaultReconnectPolicy() ReconnectPolicy { return transport.DefaultReconnectPolicy() }

// defaultReconnectDialTimeout bounds a single reconnect-worker attempt when
// the caller left Timeout at 0, so that Close always makes progress.
const defaultReconnectDialTimeout = 5 * time.Second

// Listen binds a listener for the given URI. Reconnect has no meaning on
// the listener side.
func Listen(uri string, opt ListenOptions) (Listener, error) {
	_, span := observability.StartListenSpan(context.Background(), uri)
	ln, err := listen(uri, opt)
	observability.EndSpan(span, err)
	return ln, err
}

func listen(uri string, opt ListenOptions) (Listener, error) {
	addr, err := address.Parse(uri)
	if err != nil {
		return nil, err
	}

	switch addr.Scheme {
	case address.Tcp:
		return transport.ListenTCP(addr, opt)
	case address.Uds:
		return transport.ListenUDS(addr, opt)
	case address.Pipe:
		return transport.ListenNamedPipe(addr, opt)
	case address.Shm:
		return shm.Listen(addr.Name, opt)
	default:
		return nil, status.NotSupportedf("listen scheme not supported: %q", addr.SchemeText)
	}
}

// Dial connects to the given URI and composes the configured overlays on
// top of the raw transport pipe.
func Dial(uri string, opt DialOptions) (Pipe, error) {
	_, span := observability.StartDialSpan(context.Background(), uri)
	p, err := dial(uri, opt)
	observability.EndSpan(span, err)
	return p, err
}

func dial(uri string, opt DialOptions) (Pipe, error) {
	addr, err := address.Parse(uri)
	if err != nil {
		return nil, err
	}
	if addr.Scheme == address.Unknown {
		return nil, status.NotSupportedf("dial scheme not supported: %q", addr.SchemeText)
	}
	if err := opt.Qos.Validate(); err != nil {
		return nil, err
	}

	// The raw dialer sees the options minus the overlay configuration; the
	// heartbeat interval stays because tcp maps it to OS keepalive.
	rawOpt := opt
	rawOpt.Qos = QosOptions{}
	rawOpt.Reconnect = ReconnectPolicy{HeartbeatInterval: opt.Reconnect.HeartbeatInterval}
	rawOpt.OnStateChange = nil
	rawOpt.Metrics = nil
	if opt.Reconnect.Enabled && rawOpt.Timeout == 0 {
		rawOpt.Timeout = defaultReconnectDialTimeout
	}

	dialOnce := func() (Pipe, error) { return rawDial(addr, rawOpt) }
	if opt.Metrics != nil {
		inner := dialOnce
		metrics := opt.Metrics
		dialOnce = func() (Pipe, error) {
			metrics.RecordReconnectAttempt()
			return inner()
		}
	}

	var p Pipe
	if opt.Reconnect.Enabled {
		p = transport.NewReconnectPipe(dialOnce, opt.Reconnect, stateCallback(opt), opt.Logger)
	} else {
		p, err = rawDial(addr, rawOpt)
		if err != nil {
			return nil, err
		}
	}

	if opt.Qos.Enabled() {
		qp, err := transport.NewQosPipe(p, opt.Qos, opt.Logger, opt.Metrics, addr.Scheme.String())
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p = qp
	}

	if opt.Metrics != nil {
		p = transport.NewObservedPipe(p, addr.Scheme.String(), opt.Metrics)
	}
	return p, nil
}

// stateCallback chains the user's callback with connection-state metric
// recording.
func stateCallback(opt DialOptions) transport.ConnectionCallback {
	user := opt.OnStateChange
	metrics := opt.Metrics
	if metrics == nil {
		return user
	}
	return func(state ConnectionState, reason string) {
		metrics.RecordConnectionState(state.String())
		if user != nil {
			user(state, reason)
		}
	}
}

func rawDial(addr address.Address, opt DialOptions) (Pipe, error) {
	switch addr.Scheme {
	case address.Tcp:
		return transport.DialTCP(addr, opt)
	case address.Uds:
		return transport.DialUDS(addr, opt)
	case address.Pipe:
		return transport.DialNamedPipe(addr, opt)
	case address.Shm:
		return shm.Dial(addr.Name, opt)
	default:
		return nil, status.NotSupportedf("dial scheme not supported: %q", addr.SchemeText)
	}
}
