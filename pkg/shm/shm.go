//go:build !windows

package shm

import (
	"encoding/hex"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/duct-ipc/duct-go/pkg/logging"
	"github.com/duct-ipc/duct-go/pkg/message"
	"github.com/duct-ipc/duct-go/pkg/status"
	"github.com/duct-ipc/duct-go/pkg/transport"
)

// ring is one direction of the duplex channel: a window into the segment
// holding the head/tail words and the slot array.
type ring struct {
	seg *segment
	off int
}

func (r ring) headWord() *uint32 { return r.seg.word(r.off + ringHeadOff) }
func (r ring) tailWord() *uint32 { return r.seg.word(r.off + ringTailOff) }

func (r ring) slotOff(idx uint32) int {
	return r.off + ringSlotsOff + int(idx)*slotSize
}

func (r ring) slotLenWord(idx uint32) *uint32 {
	return r.seg.word(r.slotOff(idx))
}

func (r ring) slotData(idx uint32) []byte {
	off := r.slotOff(idx) + slotHeaderSize
	return r.seg.mem[off : off+slotPayloadMax]
}

// produce writes payload into the next slot and publishes it. The caller
// has already acquired a space token.
func (r ring) produce(payload []byte) {
	head := atomic.LoadUint32(r.headWord())
	idx := head % slotCount
	atomic.StoreUint32(r.slotLenWord(idx), uint32(len(payload)))
	copy(r.slotData(idx), payload)
	// Publishing head releases the slot body written above; the consumer's
	// atomic load of head acquires it.
	atomic.StoreUint32(r.headWord(), head+1)
}

// consume copies the next slot out and releases it. The caller has already
// acquired an item token.
func (r ring) consume() ([]byte, error) {
	tail := atomic.LoadUint32(r.tailWord())
	idx := tail % slotCount
	n := atomic.LoadUint32(r.slotLenWord(idx))
	if n > slotPayloadMax {
		return nil, status.ProtocolErrorf("shm slot length %d exceeds slot capacity", n)
	}
	payload := make([]byte, n)
	copy(payload, r.slotData(idx))
	atomic.StoreUint32(r.tailWord(), tail+1)
	return payload, nil
}

// pipe is one endpoint of an established shared-memory connection. The
// client sends on the c2s ring and receives on s2c; the acceptor the
// reverse. The dialer is the owner and unlinks the segment on close.
type pipe struct {
	seg    *segment
	n      names
	owner  bool
	logger logging.Logger

	tx, rx            ring
	txItems, txSpaces semaphore
	rxItems, rxSpaces semaphore

	mu     sync.Mutex
	closed bool
	active sync.WaitGroup
}

func newPipe(seg *segment, n names, owner, isClient bool, logger logging.Logger) *pipe {
	p := &pipe{seg: seg, n: n, owner: owner, logger: logger}
	if isClient {
		p.tx = ring{seg, c2sRingOff}
		p.rx = ring{seg, s2cRingOff}
		p.txItems = semaphore{seg.word(c2sItemsOff)}
		p.txSpaces = semaphore{seg.word(c2sSpacesOff)}
		p.rxItems = semaphore{seg.word(s2cItemsOff)}
		p.rxSpaces = semaphore{seg.word(s2cSpacesOff)}
	} else {
		p.tx = ring{seg, s2cRingOff}
		p.rx = ring{seg, c2sRingOff}
		p.txItems = semaphore{seg.word(s2cItemsOff)}
		p.txSpaces = semaphore{seg.word(s2cSpacesOff)}
		p.rxItems = semaphore{seg.word(c2sItemsOff)}
		p.rxSpaces = semaphore{seg.word(c2sSpacesOff)}
	}
	return p
}

// enter registers an in-flight operation so Close can wait for the segment
// to be quiescent before unmapping.
func (p *pipe) enter() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return status.Closedf("pipe closed")
	}
	p.active.Add(1)
	return nil
}

func (p *pipe) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *pipe) Send(msg message.Message, opt transport.SendOptions) error {
	if msg.Size() > slotPayloadMax {
		return status.InvalidArgumentf("payload %d bytes exceeds %d byte slot", msg.Size(), slotPayloadMax)
	}
	if err := p.enter(); err != nil {
		return err
	}
	defer p.active.Done()

	if err := p.txSpaces.wait(opt.Timeout, p.isClosed); err != nil {
		return err
	}
	p.tx.produce(msg.Bytes())
	p.txItems.post()
	return nil
}

func (p *pipe) Recv(opt transport.RecvOptions) (message.Message, error) {
	if err := p.enter(); err != nil {
		return message.Message{}, err
	}
	defer p.active.Done()

	if err := p.rxItems.wait(opt.Timeout, p.isClosed); err != nil {
		return message.Message{}, err
	}
	payload, err := p.rx.consume()
	if err != nil {
		return message.Message{}, err
	}
	p.rxSpaces.post()
	return message.FromOwnedBytes(payload)
}

// Close wakes every blocked local operation, waits for them to drain, and
// releases the mapping. The owning side also unlinks the segment so no
// named resource outlives the connection. Idempotent.
func (p *pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	// Wake local waiters. Only the semaphores this side waits on are
	// posted: a phantom token on txItems or rxSpaces would be consumed by
	// the peer and make it read a slot that was never produced. Local
	// waiters observe the closed flag before consuming the extra token.
	p.txSpaces.post()
	p.rxItems.post()

	p.active.Wait()
	p.seg.unmap()
	if p.owner {
		p.seg.unlink()
		p.logger.Debug("shm segment unlinked", logging.String("path", p.n.segmentPath))
	}
	return nil
}

// Dial establishes a shared-memory connection to the listener on busName.
// It creates the segment and semaphores, then announces the connection id
// over the rendezvous socket.
func Dial(busName string, opt transport.DialOptions) (transport.Pipe, error) {
	logger := dialLogger(opt)
	n := makeNames(busName, newConnID())

	seg, err := createSegment(n.segmentPath)
	if err != nil {
		return nil, err
	}

	conn, err := net.Dial("unix", n.bootstrapPath)
	if err != nil {
		seg.unmap()
		seg.unlink()
		return nil, status.Wrapf(err, status.IoError, "connect rendezvous %s failed", n.bootstrapPath)
	}
	_, werr := conn.Write([]byte(n.connID))
	conn.Close()
	if werr != nil {
		seg.unmap()
		seg.unlink()
		return nil, status.Wrap(werr, status.IoError, "rendezvous handshake failed")
	}

	logger.Debug("shm dial established",
		logging.String("bus", n.base),
		logging.String("conn_id", n.connID))
	return newPipe(seg, n, true /*owner*/, true /*isClient*/, logger), nil
}

// listener accepts one shared-memory connection per rendezvous contact.
type listener struct {
	n      names
	ln     net.Listener
	logger logging.Logger

	closeOnce sync.Once
	closedFlg atomic.Bool
}

// Listen binds the rendezvous endpoint for busName.
func Listen(busName string, opt transport.ListenOptions) (transport.Listener, error) {
	logger := listenLogger(opt)
	n := makeNames(busName, "0000000000000000")

	// A previous listener that crashed leaves a stale socket file behind.
	_ = os.Remove(n.bootstrapPath)

	ln, err := net.Listen("unix", n.bootstrapPath)
	if err != nil {
		return nil, status.Wrapf(err, status.IoError, "bind rendezvous %s failed", n.bootstrapPath)
	}

	logger.Debug("shm listener ready",
		logging.String("bus", n.base),
		logging.String("rendezvous", n.bootstrapPath))
	return &listener{n: n, ln: ln, logger: logger}, nil
}

func (l *listener) Accept() (transport.Pipe, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		if l.closedFlg.Load() {
			return nil, status.Closedf("listener closed")
		}
		return nil, status.Wrap(err, status.IoError, "rendezvous accept failed")
	}

	id := make([]byte, connIDLen)
	_, err = io.ReadFull(conn, id)
	conn.Close()
	if err != nil {
		return nil, status.Wrap(err, status.IoError, "rendezvous handshake read failed")
	}
	if _, err := hex.DecodeString(string(id)); err != nil {
		return nil, status.ProtocolErrorf("rendezvous handshake is not a hex connection id")
	}

	n := makeNames(l.n.base, string(id))
	seg, err := openSegment(n.segmentPath)
	if err != nil {
		return nil, err
	}

	l.logger.Debug("shm connection accepted", logging.String("conn_id", n.connID))
	return newPipe(seg, n, false /*owner*/, false /*isClient*/, l.logger), nil
}

func (l *listener) LocalAddress() (string, error) {
	return "shm://" + l.n.base, nil
}

func (l *listener) Close() error {
	l.closeOnce.Do(func() {
		l.closedFlg.Store(true)
		_ = l.ln.Close()
		_ = os.Remove(l.n.bootstrapPath)
	})
	return nil
}
