// Package metrics holds the Prometheus instruments for ingestion runs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "sitemap_ingestor"

// Outcome labels for PagesTotal.
const (
	OutcomeIngested    = "ingested"
	OutcomeDuplicate   = "duplicate"
	OutcomeFetchFailed = "fetch_failed"
	OutcomeFailed      = "failed"
)

type Metrics struct {
	PagesTotal        *prometheus.CounterVec
	FetchDuration     prometheus.Histogram
	TokensCharged     prometheus.Counter
	RateLimitWaits    prometheus.Counter
	RateLimitWaitTime prometheus.Counter
	ThrottleRetries   prometheus.Counter
	RunsTotal         *prometheus.CounterVec
	RunsInFlight      prometheus.Gauge
}

// New registers the instruments on reg, or on the default registerer when reg is nil.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		PagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pages_total",
			Help:      "Pages processed, by outcome.",
		}, []string{"outcome"}),
		FetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching one page.",
			Buckets:   prometheus.DefBuckets,
		}),
		TokensCharged: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tokens_charged_total",
			Help:      "Tokens charged against the rate budget.",
		}),
		RateLimitWaits: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rate_limit_waits_total",
			Help:      "Times a writer waited for the rate window to reset.",
		}),
		RateLimitWaitTime: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "rate_limit_wait_seconds_total",
			Help:      "Time spent waiting for the rate window to reset.",
		}),
		ThrottleRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "throttle_retries_total",
			Help:      "Store writes retried after a throttling error.",
		}),
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Ingestion runs, by result.",
		}, []string{"result"}),
		RunsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "runs_in_flight",
			Help:      "Ingestion runs currently executing.",
		}),
	}
}

// NewNop returns instruments registered on a private registry.
func NewNop() *Metrics { return New(prometheus.NewRegistry()) }

func (m *Metrics) Page(outcome string) { m.PagesTotal.WithLabelValues(outcome).Inc() }

func (m *Metrics) Fetch(d time.Duration) { m.FetchDuration.Observe(d.Seconds()) }

func (m *Metrics) Waited(d time.Duration) {
	m.RateLimitWaits.Inc()
	m.RateLimitWaitTime.Add(d.Seconds())
}
