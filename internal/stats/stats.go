// Package stats exposes session counters as Prometheus metrics. The
// Collector satisfies the session's Observer interface.
package stats

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ifebuche/twifesh/internal/records"
)

type Collector struct {
	registry *prometheus.Registry

	delivered      prometheus.Counter
	duplicates     prometheus.Counter
	reconnects     *prometheus.CounterVec
	rateLimits     prometheus.Counter
	enrichFailures prometheus.Counter
	waitSeconds    prometheus.Summary
}

func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "twifesh_records_delivered_total",
			Help: "Records successfully enriched and delivered.",
		}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "twifesh_records_duplicate_total",
			Help: "Deliveries detected as provider-side replays.",
		}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "twifesh_session_reconnects_total",
			Help: "Stream reconnect attempts by reason.",
		}, []string{"reason"}),
		rateLimits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "twifesh_session_rate_limits_total",
			Help: "Rate-limit cooldowns entered by the session.",
		}),
		enrichFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "twifesh_enrich_failures_total",
			Help: "Detail fetches that failed and were skipped.",
		}),
		waitSeconds: prometheus.NewSummary(prometheus.SummaryOpts{
			Name: "twifesh_session_wait_seconds",
			Help: "Durations the session slept for backoff and cooldown.",
		}),
	}

	reg.MustRegister(
		c.delivered, c.duplicates, c.reconnects,
		c.rateLimits, c.enrichFailures, c.waitSeconds,
	)
	return c
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Delivered(records.Record) {
	c.delivered.Inc()
}

func (c *Collector) Duplicate(string) {
	c.duplicates.Inc()
}

func (c *Collector) Reconnect(reason string, wait time.Duration) {
	c.reconnects.WithLabelValues(reason).Inc()
	c.waitSeconds.Observe(wait.Seconds())
}

func (c *Collector) RateLimited(wait time.Duration) {
	c.rateLimits.Inc()
	c.waitSeconds.Observe(wait.Seconds())
}

func (c *Collector) EnrichFailed(string, string) {
	c.enrichFailures.Inc()
}
