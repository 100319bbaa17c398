package transport

import (
	"net"
	"sync"
	"time"

	"github.com/duct-ipc/duct-go/pkg/message"
	"github.com/duct-ipc/duct-go/pkg/status"
	"github.com/duct-ipc/duct-go/pkg/wire"
)

// streamPipe frames messages over any net.Conn. It backs the tcp, uds, and
// named-pipe transports; all three differ only in how the conn is produced.
type streamPipe struct {
	conn net.Conn

	// Frame writes and reads are serialized independently so that one
	// Send and one Recv may be in flight concurrently without interleaving
	// partial frames.
	wmu sync.Mutex
	rmu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

func newStreamPipe(conn net.Conn) *streamPipe {
	return &streamPipe{conn: conn, closed: make(chan struct{})}
}

func (p *streamPipe) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

func (p *streamPipe) Send(msg message.Message, opt SendOptions) error {
	if p.isClosed() {
		return status.Closedf("pipe closed")
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()

	if opt.Timeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(opt.Timeout)); err != nil {
			return status.Wrap(err, status.IoError, "set write deadline")
		}
		defer p.conn.SetWriteDeadline(time.Time{})
	}

	if err := wire.WriteFrame(p.conn, msg, 0); err != nil {
		if p.isClosed() {
			return status.Closedf("pipe closed")
		}
		return err
	}
	return nil
}

func (p *streamPipe) Recv(opt RecvOptions) (message.Message, error) {
	if p.isClosed() {
		return message.Message{}, status.Closedf("pipe closed")
	}

	p.rmu.Lock()
	defer p.rmu.Unlock()

	if opt.Timeout > 0 {
		if err := p.conn.SetReadDeadline(time.Now().Add(opt.Timeout)); err != nil {
			return message.Message{}, status.Wrap(err, status.IoError, "set read deadline")
		}
		defer p.conn.SetReadDeadline(time.Time{})
	}

	msg, err := wire.ReadFrame(p.conn)
	if err != nil {
		if p.isClosed() && !status.IsTimeout(err) {
			return message.Message{}, status.Closedf("pipe closed")
		}
		return message.Message{}, err
	}
	return msg, nil
}

func (p *streamPipe) Close() error {
	p.closeOnce.Do(func() {
		close(p.closed)
		_ = p.conn.Close()
	})
	return nil
}

// streamListener adapts a net.Listener to the Listener contract.
type streamListener struct {
	ln     net.Listener
	scheme string

	closeOnce sync.Once
	closed    chan struct{}

	// onAccept customizes the accepted conn (socket options); may be nil.
	onAccept func(net.Conn)
	// onClose runs extra cleanup after the listener closes; may be nil.
	onClose func()
}

func newStreamListener(ln net.Listener, scheme string) *streamListener {
	return &streamListener{ln: ln, scheme: scheme, closed: make(chan struct{})}
}

func (l *streamListener) Accept() (Pipe, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		select {
		case <-l.closed:
			return nil, status.Closedf("listener closed")
		default:
		}
		return nil, status.Wrap(err, status.IoError, "accept failed")
	}
	if l.onAccept != nil {
		l.onAccept(conn)
	}
	return newStreamPipe(conn), nil
}

func (l *streamListener) LocalAddress() (string, error) {
	return l.scheme + "://" + l.ln.Addr().String(), nil
}

func (l *streamListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		_ = l.ln.Close()
		if l.onClose != nil {
			l.onClose()
		}
	})
	return nil
}
