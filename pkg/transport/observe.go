package transport

import (
	"time"

	"github.com/duct-ipc/duct-go/pkg/message"
	"github.com/duct-ipc/duct-go/pkg/observability"
	"github.com/duct-ipc/duct-go/pkg/status"
)

// observedPipe mirrors every Send/Recv outcome into a PipeMetrics set.
type observedPipe struct {
	inner     Pipe
	transport string
	metrics   *observability.PipeMetrics
}

// NewObservedPipe wraps inner so that message counts, byte counts, send
// latency, and status codes are recorded under the given transport label.
func NewObservedPipe(inner Pipe, transport string, metrics *observability.PipeMetrics) Pipe {
	if metrics == nil {
		return inner
	}
	return &observedPipe{inner: inner, transport: transport, metrics: metrics}
}

func (p *observedPipe) Send(msg message.Message, opt SendOptions) error {
	start := time.Now()
	err := p.inner.Send(msg, opt)
	p.metrics.RecordSend(p.transport, msg.Size(), time.Since(start), status.CodeOf(err).String())
	return err
}

func (p *observedPipe) Recv(opt RecvOptions) (message.Message, error) {
	msg, err := p.inner.Recv(opt)
	p.metrics.RecordRecv(p.transport, msg.Size(), status.CodeOf(err).String())
	return msg, err
}

func (p *observedPipe) Close() error {
	return p.inner.Close()
}
