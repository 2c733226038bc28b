package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics of a batch run. There is no
// long-running process to scrape, so they are written to a node-exporter
// textfile when the run ends.
type Metrics struct {
	// TokenStates counts token check outcomes by state
	TokenStates *prometheus.CounterVec
	// UserRuns counts processed users by mode and outcome
	UserRuns *prometheus.CounterVec
	// RecordsFetched counts sleep records fetched by mode
	RecordsFetched *prometheus.CounterVec
	// UserDuration tracks per-user processing time
	UserDuration *prometheus.HistogramVec
	// RunUsers holds the user counts of the last run by mode and result
	RunUsers *prometheus.GaugeVec
	// RunDuration holds the wall time of the last run by mode
	RunDuration *prometheus.GaugeVec
	// LastRunTimestamp holds the finish time of the last run by mode
	LastRunTimestamp *prometheus.GaugeVec
	// RateLimitWaits counts 429 backoff waits
	RateLimitWaits prometheus.Counter
	// RateLimitWaitSeconds sums time spent in 429 backoff
	RateLimitWaitSeconds prometheus.Counter
	// registry is the custom registry for this metrics instance
	registry *prometheus.Registry
	now      func() time.Time
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		now:      time.Now,
		TokenStates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "token_checks_total",
				Help:      "Total number of token checks by resulting state",
			},
			[]string{"state"},
		),
		UserRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "user_runs_total",
				Help:      "Total number of processed users",
			},
			[]string{"mode", "outcome"},
		),
		RecordsFetched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_fetched_total",
				Help:      "Total number of sleep records fetched",
			},
			[]string{"mode"},
		),
		UserDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "user_duration_seconds",
				Help:      "Time spent processing one user",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"mode", "outcome"},
		),
		RunUsers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_users",
				Help:      "Users in the last run by result",
			},
			[]string{"mode", "result"},
		),
		RunDuration: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_duration_seconds",
				Help:      "Wall time of the last run",
			},
			[]string{"mode"},
		),
		LastRunTimestamp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last run finished",
			},
			[]string{"mode"},
		),
		RateLimitWaits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_waits_total",
				Help:      "Total number of rate limit backoff waits",
			},
		),
		RateLimitWaitSeconds: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_wait_seconds_total",
				Help:      "Total time spent waiting on rate limits",
			},
		),
	}

	// Register metrics with custom registry
	registry.MustRegister(
		m.TokenStates,
		m.UserRuns,
		m.RecordsFetched,
		m.UserDuration,
		m.RunUsers,
		m.RunDuration,
		m.LastRunTimestamp,
		m.RateLimitWaits,
		m.RateLimitWaitSeconds,
	)

	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics in the text exposition format. The file
// is replaced atomically so node-exporter never reads a partial file.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.registry)
}

// ObserveTokenState records a token check outcome
func (m *Metrics) ObserveTokenState(state string) {
	m.TokenStates.WithLabelValues(state).Inc()
}

// ObserveUser records one processed user
func (m *Metrics) ObserveUser(mode, outcome string, records int, elapsed time.Duration) {
	m.UserRuns.WithLabelValues(mode, outcome).Inc()
	m.RecordsFetched.WithLabelValues(mode).Add(float64(records))
	m.UserDuration.WithLabelValues(mode, outcome).Observe(elapsed.Seconds())
}

// ObserveRun records the totals of a finished run
func (m *Metrics) ObserveRun(mode string, succeeded, failed int, elapsed time.Duration) {
	m.RunUsers.WithLabelValues(mode, "succeeded").Set(float64(succeeded))
	m.RunUsers.WithLabelValues(mode, "failed").Set(float64(failed))
	m.RunDuration.WithLabelValues(mode).Set(elapsed.Seconds())
	m.LastRunTimestamp.WithLabelValues(mode).Set(float64(m.now().Unix()))
}

// ObserveRateLimit records one backoff wait
func (m *Metrics) ObserveRateLimit(delay time.Duration) {
	m.RateLimitWaits.Inc()
	m.RateLimitWaitSeconds.Add(delay.Seconds())
}
