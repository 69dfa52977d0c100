package web

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"rssss/internal/feeds"
)

// Metrics holds the Prometheus collectors for feed resolution
type Metrics struct {
	OutcomesTotal    *prometheus.CounterVec
	RedirectsTotal   prometheus.Counter
	ResolveDuration  *prometheus.HistogramVec
	BodyBytes        prometheus.Histogram
	MissingURLsTotal prometheus.Counter
}

// NewMetrics registers the collectors with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OutcomesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rssss_fetch_outcomes_total",
			Help: "The total number of feed resolutions by outcome",
		}, []string{"outcome"}), // e.g., 'success', 'transport_failure'
		RedirectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rssss_redirects_followed_total",
			Help: "The total number of redirect hops followed",
		}),
		ResolveDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rssss_resolve_duration_seconds",
			Help:    "Duration of feed resolutions including redirect hops",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		BodyBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rssss_body_bytes",
			Help:    "Size of upstream bodies that were read successfully",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 6), // 1KB .. 1MB
		}),
		MissingURLsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "rssss_missing_url_total",
			Help: "The total number of /feed requests without a url parameter",
		}),
	}
}

// Observe records one terminal outcome
func (m *Metrics) Observe(out feeds.Outcome, elapsed time.Duration) {
	outcome := out.Kind.String()
	m.OutcomesTotal.WithLabelValues(outcome).Inc()
	m.ResolveDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	m.RedirectsTotal.Add(float64(out.Hops))
	if out.BodyBytes > 0 {
		m.BodyBytes.Observe(float64(out.BodyBytes))
	}
}
