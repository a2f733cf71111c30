package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngineMetrics(t *testing.T) (*EngineMetrics, *prometheus.Registry) {
	t.Helper()
	registry := prometheus.NewRegistry()
	m, err := NewEngineMetrics(registry)
	require.NoError(t, err)
	return m, registry
}

func TestNewEngineMetricsRejectsDoubleRegistration(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	_, err := NewEngineMetrics(registry)
	require.NoError(t, err)

	_, err = NewEngineMetrics(registry)
	require.Error(t, err)
}

func TestNilEngineMetricsIsSafe(t *testing.T) {
	t.Parallel()

	var m *EngineMetrics
	assert.NotPanics(t, func() {
		m.FrameReceived("notification")
		m.FrameDropped("malformed")
		m.ConnectionStateChanged("connected")
		m.ReconnectScheduled(1, time.Second)
		m.RecordDecision(true, "")
		m.ToastAdmitted("payment", "medium")
		m.ToastRemoved("expired")
		m.VisibleToasts(1)
		m.SetUnread(1)
		m.BackendCall("mark_read", "ok", time.Millisecond)
		m.BreakerStateChanged("backend", 2)
		m.RecordAlert("desktop", "shown")
	})
}

func TestFrameCounters(t *testing.T) {
	t.Parallel()

	m, _ := newTestEngineMetrics(t)
	m.FrameReceived("notification")
	m.FrameReceived("notification")
	m.FrameReceived("notification_read")
	m.FrameDropped("unknown_type")

	assert.InDelta(t, 2, testutil.ToFloat64(m.FramesReceived.WithLabelValues("notification")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FramesReceived.WithLabelValues("notification_read")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FramesDropped.WithLabelValues("unknown_type")), 0)
}

func TestConnectionStateGaugeIsOneHot(t *testing.T) {
	t.Parallel()

	m, _ := newTestEngineMetrics(t)
	m.ReconnectScheduled(3, 4*time.Second)
	assert.InDelta(t, 3, testutil.ToFloat64(m.ReconnectAttempt), 0)

	m.ConnectionStateChanged("reconnecting")
	m.ConnectionStateChanged("connected")

	for _, s := range connectionStates {
		want := 0.0
		if s == "connected" {
			want = 1
		}
		assert.InDelta(t, want, testutil.ToFloat64(m.ConnectionState.WithLabelValues(s)), 0, s)
	}
	assert.InDelta(t, 0, testutil.ToFloat64(m.ReconnectAttempt), 0, "attempt resets on connect")
	assert.InDelta(t, 1, testutil.ToFloat64(m.ReconnectsTotal), 0)
}

func TestReconnectDelayHistogram(t *testing.T) {
	t.Parallel()

	m, _ := newTestEngineMetrics(t)
	for _, d := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		m.ReconnectScheduled(1, d)
	}

	var metric dto.Metric
	require.NoError(t, m.ReconnectDelay.Write(&metric))
	assert.Equal(t, uint64(3), metric.GetHistogram().GetSampleCount())
	assert.InDelta(t, 7.0, metric.GetHistogram().GetSampleSum(), 0.0001)
}

func TestRecordDecision(t *testing.T) {
	t.Parallel()

	m, _ := newTestEngineMetrics(t)
	m.RecordDecision(true, "")
	m.RecordDecision(false, "quiet_hours")
	m.RecordDecision(false, "quiet_hours")

	assert.InDelta(t, 1, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("surfaced", "none")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("suppressed", "quiet_hours")), 0)
}

func TestBackendAndBreakerMetrics(t *testing.T) {
	t.Parallel()

	m, registry := newTestEngineMetrics(t)
	m.BackendCall("mark_read", "ok", 20*time.Millisecond)
	m.BackendCall("mark_read", "http_500", 30*time.Millisecond)
	m.BreakerStateChanged("backend", 2)

	assert.InDelta(t, 1, testutil.ToFloat64(m.BackendCalls.WithLabelValues("mark_read", "http_500")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("backend")), 0)

	families, err := registry.Gather()
	require.NoError(t, err)

	var histogram *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "notifyengine_backend_call_duration_seconds" {
			histogram = f
		}
	}
	require.NotNil(t, histogram)
	require.Len(t, histogram.GetMetric(), 1)
	assert.Equal(t, uint64(2), histogram.GetMetric()[0].GetHistogram().GetSampleCount())
}

func TestToastAndUnreadGauges(t *testing.T) {
	t.Parallel()

	m, _ := newTestEngineMetrics(t)
	m.ToastAdmitted("payment", "medium")
	m.ToastRemoved("evicted")
	m.VisibleToasts(4)
	m.SetUnread(7)
	m.RecordAlert("sound", "played")

	assert.InDelta(t, 1, testutil.ToFloat64(m.ToastsAdmitted.WithLabelValues("payment", "medium")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.ToastsRemoved.WithLabelValues("evicted")), 0)
	assert.InDelta(t, 4, testutil.ToFloat64(m.ToastsVisible), 0)
	assert.InDelta(t, 7, testutil.ToFloat64(m.UnreadCount), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.AlertsTotal.WithLabelValues("sound", "played")), 0)
}
