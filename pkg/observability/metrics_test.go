package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) (*PipeMetrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := NewPipeMetrics(MetricsConfig{Registerer: reg})
	require.NoError(t, err)
	return m, reg
}

func TestRecordSendAndRecv(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordSend("tcp", 100, time.Millisecond, "Ok")
	m.RecordSend("tcp", 50, time.Millisecond, "Timeout")
	m.RecordRecv("tcp", 100, "Ok")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.sendTotal.WithLabelValues("tcp", "Ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sendTotal.WithLabelValues("tcp", "Timeout")))
	// Failed sends do not count bytes.
	assert.Equal(t, 100.0, testutil.ToFloat64(m.sendBytes.WithLabelValues("tcp")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.recvBytes.WithLabelValues("tcp")))
}

func TestRecordConnectionState(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordConnectionState("connected")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionState.WithLabelValues("connected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connectionState.WithLabelValues("connecting")))

	m.RecordConnectionState("reconnecting")
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connectionState.WithLabelValues("connected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionState.WithLabelValues("reconnecting")))
}

func TestRecordDropAndReconnect(t *testing.T) {
	m, _ := newTestMetrics(t)

	m.RecordDrop("shm")
	m.RecordDrop("shm")
	m.RecordReconnectAttempt()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.dropsTotal.WithLabelValues("shm")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reconnectsTotal))
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPipeMetrics(MetricsConfig{Registerer: reg})
	require.NoError(t, err)
	_, err = NewPipeMetrics(MetricsConfig{Registerer: reg})
	assert.Error(t, err)
}
