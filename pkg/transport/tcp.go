package transport

import (
	"context"
	"errors"
	"net"
	"strconv"

	"github.com/duct-ipc/duct-go/pkg/address"
	"github.com/duct-ipc/duct-go/pkg/logging"
	"github.com/duct-ipc/duct-go/pkg/status"
)

// DialTCP connects to a tcp:// peer and returns a raw framed pipe.
func DialTCP(addr address.Address, opt DialOptions) (Pipe, error) {
	if addr.Scheme != address.Tcp {
		return nil, status.InvalidArgumentf("not a tcp address: %s", addr.Raw)
	}

	d := net.Dialer{Timeout: opt.Timeout}
	if opt.Reconnect.HeartbeatInterval > 0 {
		d.KeepAlive = opt.Reconnect.HeartbeatInterval
	}

	endpoint := net.JoinHostPort(addr.Host, strconv.Itoa(int(addr.Port)))
	conn, err := d.DialContext(context.Background(), "tcp", endpoint)
	if err != nil {
		return nil, classifyDialError(err, endpoint)
	}
	tuneTCPConn(conn)

	opt.logger().Debug("tcp dial established", logging.Uri(addr.Raw))
	return newStreamPipe(conn), nil
}

// ListenTCP binds a tcp:// listener. Binding to port 0 picks an ephemeral
// port, reported through LocalAddress.
func ListenTCP(addr address.Address, opt ListenOptions) (Listener, error) {
	if addr.Scheme != address.Tcp {
		return nil, status.InvalidArgumentf("not a tcp address: %s", addr.Raw)
	}

	endpoint := net.JoinHostPort(addr.Host, strconv.Itoa(int(addr.Port)))
	ln, err := net.Listen("tcp", endpoint)
	if err != nil {
		return nil, status.Wrapf(err, status.IoError, "listen on %s failed", endpoint)
	}

	opt.logger().Debug("tcp listener bound", logging.String("address", ln.Addr().String()))
	l := newStreamListener(ln, "tcp")
	l.onAccept = tuneTCPConn
	return l, nil
}

// tuneTCPConn disables Nagle batching: the framing layer already writes one
// buffer per frame, and latency matters more than throughput for messaging.
func tuneTCPConn(conn net.Conn) {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
}

func classifyDialError(err error, endpoint string) error {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return status.Wrapf(err, status.Timeout, "dial %s timed out", endpoint)
	}
	return status.Wrapf(err, status.IoError, "dial %s failed", endpoint)
}
