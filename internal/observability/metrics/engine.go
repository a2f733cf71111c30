// Package metrics provides Prometheus metrics for the notification engine.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Connection states tracked by the connection state gauge.
var connectionStates = []string{"disconnected", "connecting", "connected", "reconnecting", "failed"}

// EngineMetrics contains all Prometheus metrics for the notification engine.
// Every method is safe to call on a nil receiver so components can run
// without metrics wired.
type EngineMetrics struct {
	// Channel metrics
	FramesReceived   *prometheus.CounterVec // Decoded frames by type
	FramesDropped    *prometheus.CounterVec // Dropped frames by reason
	ConnectionState  *prometheus.GaugeVec   // 1 for the current state, 0 otherwise
	ReconnectsTotal  prometheus.Counter     // Scheduled reconnects
	ReconnectDelay   prometheus.Histogram   // Backoff delay of scheduled reconnects
	ReconnectAttempt prometheus.Gauge       // Current attempt counter

	// Evaluation metrics
	DecisionsTotal *prometheus.CounterVec // Surfacing decisions by outcome and reason

	// Presentation metrics
	ToastsAdmitted *prometheus.CounterVec // Admitted toasts by type and priority
	ToastsRemoved  *prometheus.CounterVec // Removed toasts by reason
	ToastsVisible  prometheus.Gauge       // Currently visible toasts
	UnreadCount    prometheus.Gauge       // Unread notifications in the store

	// Backend metrics
	BackendCalls        *prometheus.CounterVec   // Mirror and load calls by operation and status
	BackendCallDuration *prometheus.HistogramVec // Latency by operation
	CircuitBreakerState *prometheus.GaugeVec     // 0=closed, 1=half-open, 2=open by breaker name

	// Alert metrics
	AlertsTotal *prometheus.CounterVec // Desktop and sound alerts by kind and outcome
}

// NewEngineMetrics creates the engine metrics and registers them on registry.
func NewEngineMetrics(registry prometheus.Registerer) (*EngineMetrics, error) {
	m := &EngineMetrics{}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register engine metrics: %w", err)
	}
	return m, nil
}

func (m *EngineMetrics) initMetrics() {
	m.FramesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyengine_frames_received_total",
			Help: "Total number of decoded inbound frames by frame type",
		},
		[]string{"frame_type"},
	)

	m.FramesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyengine_frames_dropped_total",
			Help: "Total number of inbound frames dropped by reason",
		},
		[]string{"reason"}, // reason: unknown_type, malformed, error
	)

	m.ConnectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notifyengine_connection_state",
			Help: "Current connection state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	m.ReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "notifyengine_reconnects_scheduled_total",
			Help: "Total number of scheduled reconnect attempts",
		},
	)

	m.ReconnectDelay = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "notifyengine_reconnect_delay_seconds",
			Help:    "Backoff delay of scheduled reconnect attempts",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s to 64s
		},
	)

	m.ReconnectAttempt = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifyengine_reconnect_attempt",
			Help: "Current reconnect attempt counter",
		},
	)

	m.DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyengine_decisions_total",
			Help: "Total number of surfacing decisions by outcome and suppression reason",
		},
		[]string{"outcome", "reason"},
	)

	m.ToastsAdmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyengine_toasts_admitted_total",
			Help: "Total number of admitted toasts by type and priority",
		},
		[]string{"type", "priority"},
	)

	m.ToastsRemoved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyengine_toasts_removed_total",
			Help: "Total number of removed toasts by reason",
		},
		[]string{"reason"}, // reason: expired, dismissed, evicted
	)

	m.ToastsVisible = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifyengine_toasts_visible",
			Help: "Number of currently visible toasts",
		},
	)

	m.UnreadCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifyengine_unread_notifications",
			Help: "Number of unread notifications in the local store",
		},
	)

	m.BackendCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyengine_backend_calls_total",
			Help: "Total number of backend calls by operation and status",
		},
		[]string{"operation", "status"},
	)

	m.BackendCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notifyengine_backend_call_duration_seconds",
			Help:    "Backend call latency by operation",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 15.0},
		},
		[]string{"operation"},
	)

	m.CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "notifyengine_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	m.AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifyengine_alerts_total",
			Help: "Total number of desktop and sound alerts by kind and outcome",
		},
		[]string{"kind", "outcome"}, // kind: desktop, sound
	)
}

// FrameReceived counts a decoded frame.
func (m *EngineMetrics) FrameReceived(frameType string) {
	if m == nil {
		return
	}
	m.FramesReceived.WithLabelValues(frameType).Inc()
}

// FrameDropped counts a dropped frame.
func (m *EngineMetrics) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// ConnectionStateChanged moves the connection state gauge to state.
func (m *EngineMetrics) ConnectionStateChanged(state string) {
	if m == nil {
		return
	}
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		m.ConnectionState.WithLabelValues(s).Set(v)
	}
	if state == "connected" {
		m.ReconnectAttempt.Set(0)
	}
}

// ReconnectScheduled records a scheduled reconnect.
func (m *EngineMetrics) ReconnectScheduled(attempt int, delay time.Duration) {
	if m == nil {
		return
	}
	m.ReconnectsTotal.Inc()
	m.ReconnectDelay.Observe(delay.Seconds())
	m.ReconnectAttempt.Set(float64(attempt))
}

// RecordDecision counts a surfacing decision. reason is empty for surfaced
// notifications.
func (m *EngineMetrics) RecordDecision(surfaced bool, reason string) {
	if m == nil {
		return
	}
	outcome := "suppressed"
	if surfaced {
		outcome = "surfaced"
		reason = "none"
	}
	m.DecisionsTotal.WithLabelValues(outcome, reason).Inc()
}

// ToastAdmitted counts an admitted toast.
func (m *EngineMetrics) ToastAdmitted(toastType, priority string) {
	if m == nil {
		return
	}
	m.ToastsAdmitted.WithLabelValues(toastType, priority).Inc()
}

// ToastRemoved counts a removed toast.
func (m *EngineMetrics) ToastRemoved(reason string) {
	if m == nil {
		return
	}
	m.ToastsRemoved.WithLabelValues(reason).Inc()
}

// VisibleToasts sets the visible toast gauge.
func (m *EngineMetrics) VisibleToasts(count int) {
	if m == nil {
		return
	}
	m.ToastsVisible.Set(float64(count))
}

// SetUnread sets the unread notification gauge.
func (m *EngineMetrics) SetUnread(count int) {
	if m == nil {
		return
	}
	m.UnreadCount.Set(float64(count))
}

// BackendCall records a backend call.
func (m *EngineMetrics) BackendCall(operation, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.BackendCalls.WithLabelValues(operation, status).Inc()
	m.BackendCallDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// BreakerStateChanged sets the circuit breaker gauge.
func (m *EngineMetrics) BreakerStateChanged(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// RecordAlert counts a desktop or sound alert outcome.
func (m *EngineMetrics) RecordAlert(kind, outcome string) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(kind, outcome).Inc()
}

// Describe implements the prometheus.Collector interface.
func (m *EngineMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.FramesReceived.Describe(ch)
	m.FramesDropped.Describe(ch)
	m.ConnectionState.Describe(ch)
	m.ReconnectsTotal.Describe(ch)
	m.ReconnectDelay.Describe(ch)
	m.ReconnectAttempt.Describe(ch)
	m.DecisionsTotal.Describe(ch)
	m.ToastsAdmitted.Describe(ch)
	m.ToastsRemoved.Describe(ch)
	m.ToastsVisible.Describe(ch)
	m.UnreadCount.Describe(ch)
	m.BackendCalls.Describe(ch)
	m.BackendCallDuration.Describe(ch)
	m.CircuitBreakerState.Describe(ch)
	m.AlertsTotal.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *EngineMetrics) Collect(ch chan<- prometheus.Metric) {
	m.FramesReceived.Collect(ch)
	m.FramesDropped.Collect(ch)
	m.ConnectionState.Collect(ch)
	m.ReconnectsTotal.Collect(ch)
	m.ReconnectDelay.Collect(ch)
	m.ReconnectAttempt.Collect(ch)
	m.DecisionsTotal.Collect(ch)
	m.ToastsAdmitted.Collect(ch)
	m.ToastsRemoved.Collect(ch)
	m.ToastsVisible.Collect(ch)
	m.UnreadCount.Collect(ch)
	m.BackendCalls.Collect(ch)
	m.BackendCallDuration.Collect(ch)
	m.CircuitBreakerState.Collect(ch)
	m.AlertsTotal.Collect(ch)
}
