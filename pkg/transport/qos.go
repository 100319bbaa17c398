package transport

import (
	"time"

	"github.com/duct-ipc/duct-go/pkg/logging"
	"github.com/duct-ipc/duct-go/pkg/message"
	"github.com/duct-ipc/duct-go/pkg/observability"
	"github.com/duct-ipc/duct-go/pkg/queue"
	"github.com/duct-ipc/duct-go/pkg/status"
)

// QosPipe overlays a raw pipe with a bounded outbound queue drained by a
// single worker goroutine. Send enqueues under the configured backpressure
// policy; Recv delegates straight to the underlying pipe.
//
// Delivery is at-most-once: messages still queued when the pipe closes or
// the connection dies are dropped.
type QosPipe struct {
	inner     Pipe
	opts      QosOptions
	logger    logging.Logger
	metrics   *observability.PipeMetrics // nil disables recording
	transport string                     // metric label

	sendq      *queue.MessageQueue
	workerDone chan struct{}
}

// NewQosPipe wraps inner with the QoS overlay and starts its drain worker.
// metrics may be nil; transport labels the drop counter when it is not.
func NewQosPipe(inner Pipe, opts QosOptions, logger logging.Logger, metrics *observability.PipeMetrics, transport string) (*QosPipe, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &QosPipe{
		inner:     inner,
		opts:      opts,
		logger:    logger,
		metrics:   metrics,
		transport: transport,

		sendq:      queue.New(opts.SndHwmBytes, opts.Backpressure, opts.TTL),
		workerDone: make(chan struct{}),
	}
	go p.sendWorker()
	return p, nil
}

// recordDrops logs and counts messages discarded by the queue.
func (p *QosPipe) recordDrops(n int, reason string) {
	if n == 0 {
		return
	}
	p.logger.Debug("dropped outbound messages",
		logging.Int("count", n),
		logging.String("reason", reason),
		logging.String("policy", p.opts.Backpressure.String()))
	if p.metrics != nil {
		for i := 0; i < n; i++ {
			p.metrics.RecordDrop(p.transport)
		}
	}
}

// Send enqueues msg for background delivery. A message larger than the send
// high water mark can never fit and is rejected with InvalidArgument. Under
// the DropNew policy a full queue discards msg but still returns nil; the
// drop is logged at debug level and counted in the pipe metrics. The other
// policies follow the queue's backpressure table.
func (p *QosPipe) Send(msg message.Message, opt SendOptions) error {
	if p.opts.SndHwmBytes > 0 && msg.Size() > p.opts.SndHwmBytes {
		return status.InvalidArgumentf("message of %d bytes exceeds send high water mark %d", msg.Size(), p.opts.SndHwmBytes)
	}

	dropped, err := p.sendq.Push(msg, opt.Timeout)
	if err != nil {
		return err
	}
	p.recordDrops(dropped, "high water mark")
	return nil
}

// Recv delegates to the underlying pipe; this design has no read-side queue.
func (p *QosPipe) Recv(opt RecvOptions) (message.Message, error) {
	return p.inner.Recv(opt)
}

// Close stops the drain worker, discards anything still queued, and closes
// the underlying pipe. The inner close happens before the worker join so a
// worker blocked mid-send is unblocked rather than waited on. Idempotent.
func (p *QosPipe) Close() error {
	p.sendq.Close()
	err := p.inner.Close()
	<-p.workerDone
	return err
}

// sendWorker drains the outbound queue until the queue closes or the
// connection dies. Expired messages are discarded by the queue on Pop.
func (p *QosPipe) sendWorker() {
	defer close(p.workerDone)

	for {
		msg, expiry, err := p.sendq.PopWithDeadline(0)
		if err != nil {
			return // queue closed
		}

		for {
			if !expiry.IsZero() && time.Now().After(expiry) {
				p.recordDrops(1, "ttl expired")
				break
			}
			err := p.inner.Send(msg, SendOptions{})
			if err == nil {
				break
			}
			if status.IsDisconnect(err) {
				// The connection is gone; stop permanently. Subsequent
				// application sends observe the closed queue.
				p.logger.Warn("qos worker stopping, connection lost", logging.ErrorField(err))
				p.sendq.Close()
				return
			}
			if c := status.CodeOf(err); c == status.InvalidArgument || c == status.ProtocolError {
				// Never retried; drop this message and move on.
				p.logger.Error("dropping unsendable message", logging.ErrorField(err))
				p.recordDrops(1, "unsendable")
				break
			}
			// Transient (e.g. Timeout): back off briefly and retry.
			if p.sendq.IsClosed() {
				return
			}
			time.Sleep(time.Millisecond)
		}
	}
}
