//go:build !windows

package transport

import (
	"net"
	"os"

	"github.com/duct-ipc/duct-go/pkg/address"
	"github.com/duct-ipc/duct-go/pkg/logging"
	"github.com/duct-ipc/duct-go/pkg/status"
)

// DialUDS connects to a uds:// peer by filesystem path.
func DialUDS(addr address.Address, opt DialOptions) (Pipe, error) {
	if addr.Scheme != address.Uds {
		return nil, status.InvalidArgumentf("not a uds address: %s", addr.Raw)
	}

	d := net.Dialer{Timeout: opt.Timeout}
	conn, err := d.Dial("unix", addr.Path)
	if err != nil {
		return nil, classifyDialError(err, addr.Path)
	}

	opt.logger().Debug("uds dial established", logging.Uri(addr.Raw))
	return newStreamPipe(conn), nil
}

// ListenUDS binds a uds:// listener at a filesystem path. A stale socket
// file from a crashed listener is unlinked before binding, and the path is
// removed again on close.
func ListenUDS(addr address.Address, opt ListenOptions) (Listener, error) {
	if addr.Scheme != address.Uds {
		return nil, status.InvalidArgumentf("not a uds address: %s", addr.Raw)
	}

	_ = os.Remove(addr.Path)

	ln, err := net.Listen("unix", addr.Path)
	if err != nil {
		return nil, status.Wrapf(err, status.IoError, "listen on %s failed", addr.Path)
	}

	opt.logger().Debug("uds listener bound", logging.String("path", addr.Path))
	l := newStreamListener(ln, "uds")
	path := addr.Path
	l.onClose = func() { _ = os.Remove(path) }
	return l, nil
}
