//go:build windows

package transport

import (
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/windows"

	"github.com/duct-ipc/duct-go/pkg/address"
	"github.com/duct-ipc/duct-go/pkg/logging"
	"github.com/duct-ipc/duct-go/pkg/status"
)

const pipeBufferSize = 64 * 1024

func pipePath(name string) string {
	return `\\.\pipe\` + address.SanitizeName(name)
}

// DialNamedPipe connects to a pipe:// peer. A busy pipe instance is retried
// until the dial timeout expires.
func DialNamedPipe(addr address.Address, opt DialOptions) (Pipe, error) {
	if addr.Scheme != address.Pipe {
		return nil, status.InvalidArgumentf("not a pipe address: %s", addr.Raw)
	}

	path := pipePath(addr.Name)
	deadline := time.Time{}
	if opt.Timeout > 0 {
		deadline = time.Now().Add(opt.Timeout)
	}

	for {
		h, err := openPipeClient(path)
		if err == nil {
			opt.logger().Debug("pipe dial established", logging.Uri(addr.Raw))
			return newStreamPipe(newFileConn(h, path)), nil
		}
		if err != windows.ERROR_PIPE_BUSY {
			return nil, status.Wrapf(err, status.IoError, "open %s failed", path)
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, status.Timeoutf("dial %s timed out", path)
		}
		// All instances busy; wait for the server to create a fresh one.
		time.Sleep(time.Millisecond)
	}
}

func openPipeClient(path string) (windows.Handle, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return windows.InvalidHandle, err
	}
	h, err := windows.CreateFile(p,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0, nil, windows.OPEN_EXISTING, 0, 0)
	if err != nil {
		return windows.InvalidHandle, err
	}
	// Message framing is done by the wire layer; byte mode keeps the pipe a
	// plain stream.
	mode := uint32(windows.PIPE_READMODE_BYTE)
	_ = windows.SetNamedPipeHandleState(h, &mode, nil, nil)
	return h, nil
}

// ListenNamedPipe serves a pipe:// endpoint. Each accept creates the next
// pipe instance so multiple clients can connect over the lifetime of the
// listener.
func ListenNamedPipe(addr address.Address, opt ListenOptions) (Listener, error) {
	if addr.Scheme != address.Pipe {
		return nil, status.InvalidArgumentf("not a pipe address: %s", addr.Raw)
	}
	opt.logger().Debug("pipe listener ready", logging.String("path", pipePath(addr.Name)))
	return &pipeListener{path: pipePath(addr.Name), closed: make(chan struct{})}, nil
}

type pipeListener struct {
	path      string
	closeOnce sync.Once
	closed    chan struct{}

	mu      sync.Mutex
	pending windows.Handle // instance currently waiting in ConnectNamedPipe
}

func (l *pipeListener) Accept() (Pipe, error) {
	select {
	case <-l.closed:
		return nil, status.Closedf("listener closed")
	default:
	}

	p, err := windows.UTF16PtrFromString(l.path)
	if err != nil {
		return nil, status.Wrap(err, status.IoError, "bad pipe path")
	}
	h, err := windows.CreateNamedPipe(p,
		windows.PIPE_ACCESS_DUPLEX,
		windows.PIPE_TYPE_BYTE|windows.PIPE_READMODE_BYTE|windows.PIPE_WAIT,
		windows.PIPE_UNLIMITED_INSTANCES,
		pipeBufferSize, pipeBufferSize, 0, nil)
	if err != nil {
		return nil, status.Wrapf(err, status.IoError, "create pipe instance %s failed", l.path)
	}

	l.mu.Lock()
	l.pending = h
	l.mu.Unlock()

	err = windows.ConnectNamedPipe(h, nil)

	l.mu.Lock()
	l.pending = windows.InvalidHandle
	l.mu.Unlock()

	if err != nil && err != windows.ERROR_PIPE_CONNECTED {
		windows.CloseHandle(h)
		select {
		case <-l.closed:
			return nil, status.Closedf("listener closed")
		default:
		}
		return nil, status.Wrap(err, status.IoError, "pipe connect failed")
	}
	return newStreamPipe(newFileConn(h, l.path)), nil
}

func (l *pipeListener) LocalAddress() (string, error) {
	return "", status.NotSupportedf("named pipes have no reportable local address")
}

func (l *pipeListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.mu.Lock()
		if l.pending != windows.InvalidHandle && l.pending != 0 {
			// Abort a blocked ConnectNamedPipe.
			windows.CloseHandle(l.pending)
			l.pending = windows.InvalidHandle
		}
		l.mu.Unlock()
	})
	return nil
}

// fileConn adapts a pipe handle to net.Conn. Named pipes have no deadline
// support here; per-call timeouts are ignored on this transport.
type fileConn struct {
	f    *os.File
	path string
}

func newFileConn(h windows.Handle, path string) *fileConn {
	return &fileConn{f: os.NewFile(uintptr(h), path), path: path}
}

func (c *fileConn) Read(b []byte) (int, error)  { return c.f.Read(b) }
func (c *fileConn) Write(b []byte) (int, error) { return c.f.Write(b) }
func (c *fileConn) Close() error                { return c.f.Close() }

func (c *fileConn) LocalAddr() net.Addr                { return pipeAddr(c.path) }
func (c *fileConn) RemoteAddr() net.Addr               { return pipeAddr(c.path) }
func (c *fileConn) SetDeadline(t time.Time) error      { return nil }
func (c *fileConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fileConn) SetWriteDeadline(t time.Time) error { return nil }

type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }
