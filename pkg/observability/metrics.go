// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for duct pipes. Metrics register on the registerer the caller
// supplies in MetricsConfig; when none is given they register on
// prometheus.DefaultRegisterer.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsConfig configures the pipe metric set.
type MetricsConfig struct {
	// Namespace defaults to "duct".
	Namespace string
	// Subsystem defaults to "pipe".
	Subsystem string
	// ConstLabels are added to every metric.
	ConstLabels prometheus.Labels
	// Registerer defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// DurationBuckets overrides the latency histogram buckets.
	DurationBuckets []float64
}

// PipeMetrics is the metric set recorded by observed pipes: message and byte
// counters per direction, send latency, queue drops, connection state, and
// reconnect attempts.
type PipeMetrics struct {
	sendTotal    *prometheus.CounterVec
	recvTotal    *prometheus.CounterVec
	sendBytes    *prometheus.CounterVec
	recvBytes    *prometheus.CounterVec
	sendDuration *prometheus.HistogramVec
	dropsTotal   *prometheus.CounterVec

	connectionState *prometheus.GaugeVec
	reconnectsTotal prometheus.Counter
}

// NewPipeMetrics builds and registers the pipe metric set.
func NewPipeMetrics(cfg MetricsConfig) (*PipeMetrics, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = "duct"
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = "pipe"
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	buckets := cfg.DurationBuckets
	if buckets == nil {
		buckets = []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 5}
	}

	m := &PipeMetrics{
		sendTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, ConstLabels: cfg.ConstLabels,
			Name: "send_total", Help: "Messages sent, by transport and status code.",
		}, []string{"transport", "status"}),
		recvTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, ConstLabels: cfg.ConstLabels,
			Name: "recv_total", Help: "Messages received, by transport and status code.",
		}, []string{"transport", "status"}),
		sendBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, ConstLabels: cfg.ConstLabels,
			Name: "send_bytes_total", Help: "Payload bytes sent, by transport.",
		}, []string{"transport"}),
		recvBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, ConstLabels: cfg.ConstLabels,
			Name: "recv_bytes_total", Help: "Payload bytes received, by transport.",
		}, []string{"transport"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, ConstLabels: cfg.ConstLabels,
			Name: "send_duration_seconds", Help: "Send call latency, by transport.",
			Buckets: buckets,
		}, []string{"transport"}),
		dropsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, ConstLabels: cfg.ConstLabels,
			Name: "drops_total", Help: "Messages dropped by the QoS queue, by transport.",
		}, []string{"transport"}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, ConstLabels: cfg.ConstLabels,
			Name: "connection_state", Help: "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
		reconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace, Subsystem: cfg.Subsystem, ConstLabels: cfg.ConstLabels,
			Name: "reconnect_attempts_total", Help: "Reconnect dial attempts.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.sendTotal, m.recvTotal, m.sendBytes, m.recvBytes,
		m.sendDuration, m.dropsTotal, m.connectionState, m.reconnectsTotal,
	} {
		if err := cfg.Registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordSend records one send call.
func (m *PipeMetrics) RecordSend(transport string, bytes int, duration time.Duration, statusName string) {
	m.sendTotal.WithLabelValues(transport, statusName).Inc()
	if statusName == "Ok" {
		m.sendBytes.WithLabelValues(transport).Add(float64(bytes))
	}
	m.sendDuration.WithLabelValues(transport).Observe(duration.Seconds())
}

// RecordRecv records one receive call.
func (m *PipeMetrics) RecordRecv(transport string, bytes int, statusName string) {
	m.recvTotal.WithLabelValues(transport, statusName).Inc()
	if statusName == "Ok" {
		m.recvBytes.WithLabelValues(transport).Add(float64(bytes))
	}
}

// RecordDrop records a message discarded by the QoS queue.
func (m *PipeMetrics) RecordDrop(transport string) {
	m.dropsTotal.WithLabelValues(transport).Inc()
}

// RecordConnectionState marks state as current and clears the others.
func (m *PipeMetrics) RecordConnectionState(state string) {
	for _, s := range []string{"connecting", "connected", "disconnected", "reconnecting", "closed"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.connectionState.WithLabelValues(s).Set(v)
	}
}

// RecordReconnectAttempt counts one reconnect dial attempt.
func (m *PipeMetrics) RecordReconnectAttempt() {
	m.reconnectsTotal.Inc()
}
