package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the notifier.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Broadcast runs
	BroadcastsTotal    *prometheus.CounterVec
	BroadcastsActive   prometheus.Gauge
	BroadcastsByStatus *prometheus.GaugeVec
	RecipientsTotal    *prometheus.CounterVec
	RunDurationSeconds prometheus.Histogram

	// Channel deliveries
	DeliveriesTotal     *prometheus.CounterVec
	SendDurationSeconds *prometheus.HistogramVec
	RenderErrorsTotal   prometheus.Counter

	// API metrics
	APIRequestsTotal          *prometheus.CounterVec
	APIRequestDurationSeconds *prometheus.HistogramVec
	APIErrorsTotal            *prometheus.CounterVec

	// System metrics
	UptimeSeconds     prometheus.Gauge
	Goroutines        prometheus.Gauge
	DatabaseSizeBytes prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		BroadcastsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_broadcasts_total",
				Help: "Total number of broadcast executions by outcome",
			},
			[]string{"outcome"},
		),
		BroadcastsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "notifier_broadcasts_active",
				Help: "Number of broadcast runs currently in progress",
			},
		),
		BroadcastsByStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "notifier_broadcasts_by_status",
				Help: "Number of stored broadcasts per status",
			},
			[]string{"status"},
		),
		RecipientsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_recipients_processed_total",
				Help: "Total number of recipients processed by result",
			},
			[]string{"result"},
		),
		RunDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "notifier_broadcast_duration_seconds",
				Help:    "Wall-clock duration of broadcast runs",
				Buckets: []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
			},
		),

		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_deliveries_total",
				Help: "Total number of channel deliveries by status",
			},
			[]string{"channel", "status"},
		),
		SendDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notifier_send_duration_seconds",
				Help:    "Channel send duration in seconds, including pacing",
				Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"channel"},
		),
		RenderErrorsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "notifier_render_errors_total",
				Help: "Total number of per-recipient template render failures",
			},
		),

		APIRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "path", "status"},
		),
		APIRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notifier_api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		APIErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifier_api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"error_type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "notifier_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "notifier_goroutines",
				Help: "Number of active goroutines",
			},
		),
		DatabaseSizeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "notifier_database_size_bytes",
				Help: "SQLite database file size in bytes",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.BroadcastsTotal,
		m.BroadcastsActive,
		m.BroadcastsByStatus,
		m.RecipientsTotal,
		m.RunDurationSeconds,
		m.DeliveriesTotal,
		m.SendDurationSeconds,
		m.RenderErrorsTotal,
		m.APIRequestsTotal,
		m.APIRequestDurationSeconds,
		m.APIErrorsTotal,
		m.UptimeSeconds,
		m.Goroutines,
		m.DatabaseSizeBytes,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RunStarted increments the active runs gauge
func (m *Metrics) RunStarted() {
	if m != nil {
		m.BroadcastsActive.Inc()
	}
}

// RunFinished records the outcome and duration of a run
func (m *Metrics) RunFinished(outcome string, d time.Duration) {
	if m != nil {
		m.BroadcastsActive.Dec()
		m.BroadcastsTotal.WithLabelValues(outcome).Inc()
		m.RunDurationSeconds.Observe(d.Seconds())
	}
}

// ObserveDelivery records one channel send
func (m *Metrics) ObserveDelivery(channel, status string, d time.Duration) {
	if m != nil {
		m.DeliveriesTotal.WithLabelValues(channel, status).Inc()
		m.SendDurationSeconds.WithLabelValues(channel).Observe(d.Seconds())
	}
}

// IncRecipients counts one processed recipient
func (m *Metrics) IncRecipients(success bool) {
	if m == nil {
		return
	}
	result := "failed"
	if success {
		result = "sent"
	}
	m.RecipientsTotal.WithLabelValues(result).Inc()
}

// IncRenderErrors counts a per-recipient render failure
func (m *Metrics) IncRenderErrors() {
	if m != nil {
		m.RenderErrorsTotal.Inc()
	}
}
