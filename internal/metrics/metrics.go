package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for the A/B testing engine
type Metrics struct {
	// Lifecycle counters
	TestsCreatedTotal       *prometheus.CounterVec
	TestsSentTotal          prometheus.Counter
	RecipientsAssignedTotal *prometheus.CounterVec
	WinnersSelectedTotal    *prometheus.CounterVec
	ConflictsTotal          *prometheus.CounterVec
	TestsDeletedTotal       prometheus.Counter
	TrackingEventsTotal     *prometheus.CounterVec

	// Sweep
	SweepRunsTotal       prometheus.Counter
	SweepCampaignsTotal  *prometheus.CounterVec
	SweepDurationSeconds prometheus.Histogram

	// Outbox gauges
	OutboxPending prometheus.Gauge
	OutboxClaimed prometheus.Gauge

	// HTTP endpoint
	HTTPRequestsTotal *prometheus.CounterVec

	// System metrics
	UptimeSeconds prometheus.Gauge
	Goroutines    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TestsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sendryab_tests_created_total",
				Help: "Total number of A/B tests configured",
			},
			[]string{"test_type"},
		),
		TestsSentTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sendryab_tests_sent_total",
				Help: "Total number of A/B tests sent to their recipients",
			},
		),
		RecipientsAssignedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sendryab_recipients_assigned_total",
				Help: "Total number of recipients assigned to a variant",
			},
			[]string{"label"},
		),
		WinnersSelectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sendryab_winners_selected_total",
				Help: "Total number of winners selected",
			},
			[]string{"source"},
		),
		ConflictsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sendryab_conflicts_total",
				Help: "Total number of operations rejected by a concurrent modification",
			},
			[]string{"op"},
		),
		TestsDeletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sendryab_tests_deleted_total",
				Help: "Total number of draft A/B tests deleted",
			},
		),
		TrackingEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sendryab_tracking_events_total",
				Help: "Total number of tracked counter increments",
			},
			[]string{"event"},
		),

		SweepRunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "sendryab_sweep_runs_total",
				Help: "Total number of auto-winner sweep passes",
			},
		),
		SweepCampaignsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sendryab_sweep_campaigns_total",
				Help: "Campaigns evaluated by the auto-winner sweep by outcome",
			},
			[]string{"outcome"},
		),
		SweepDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sendryab_sweep_duration_seconds",
				Help:    "Auto-winner sweep pass duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),

		OutboxPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sendryab_outbox_pending",
				Help: "Number of dispatched batches awaiting the delivery pipeline",
			},
		),
		OutboxClaimed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sendryab_outbox_claimed",
				Help: "Number of batches claimed by the delivery pipeline",
			},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sendryab_http_requests_total",
				Help: "Total number of requests to the metrics endpoint",
			},
			[]string{"method", "path", "status"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sendryab_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sendryab_goroutines",
				Help: "Number of active goroutines",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.TestsCreatedTotal,
		m.TestsSentTotal,
		m.RecipientsAssignedTotal,
		m.WinnersSelectedTotal,
		m.ConflictsTotal,
		m.TestsDeletedTotal,
		m.TrackingEventsTotal,
		m.SweepRunsTotal,
		m.SweepCampaignsTotal,
		m.SweepDurationSeconds,
		m.OutboxPending,
		m.OutboxClaimed,
		m.HTTPRequestsTotal,
		m.UptimeSeconds,
		m.Goroutines,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

// IncTestsCreated increments the created test counter
func IncTestsCreated(testType string) {
	m := Global()
	if m != nil {
		m.TestsCreatedTotal.WithLabelValues(testType).Inc()
	}
}

// IncTestsSent increments the sent test counter
func IncTestsSent() {
	m := Global()
	if m != nil {
		m.TestsSentTotal.Inc()
	}
}

// AddRecipientsAssigned adds n recipients to a variant label's counter
func AddRecipientsAssigned(label string, n int) {
	m := Global()
	if m != nil {
		m.RecipientsAssignedTotal.WithLabelValues(label).Add(float64(n))
	}
}

// IncWinnersSelected increments the winner counter for source manual or auto
func IncWinnersSelected(source string) {
	m := Global()
	if m != nil {
		m.WinnersSelectedTotal.WithLabelValues(source).Inc()
	}
}

// IncConflicts increments the conflict counter for an operation
func IncConflicts(op string) {
	m := Global()
	if m != nil {
		m.ConflictsTotal.WithLabelValues(op).Inc()
	}
}

// IncTestsDeleted increments the deleted test counter
func IncTestsDeleted() {
	m := Global()
	if m != nil {
		m.TestsDeletedTotal.Inc()
	}
}

// AddTrackingEvents adds n tracked events of a kind
func AddTrackingEvents(event string, n int) {
	m := Global()
	if m != nil && n > 0 {
		m.TrackingEventsTotal.WithLabelValues(event).Add(float64(n))
	}
}

// IncSweepRuns increments the sweep pass counter
func IncSweepRuns() {
	m := Global()
	if m != nil {
		m.SweepRunsTotal.Inc()
	}
}

// IncSweepCampaigns increments the sweep outcome counter
func IncSweepCampaigns(outcome string) {
	m := Global()
	if m != nil {
		m.SweepCampaignsTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveSweepDuration records the duration of a sweep pass
func ObserveSweepDuration(seconds float64) {
	m := Global()
	if m != nil {
		m.SweepDurationSeconds.Observe(seconds)
	}
}
