// Package metrics exposes prometheus counters for the gateway, the sync loop
// and the cache worker.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is the metrics surface used by the sync core and the cache worker.
type Recorder interface {
	RecordRequest(method string, statusCode int)
	RecordRefresh(outcome string)
	RecordQueued(path string)
	RecordReplay(outcome string)
	RecordSnapshotFallback(collection string)
	RecordCacheLookup(strategy string, hit bool)
}

// Refresh and replay outcomes
const (
	OutcomeSkipped = "skipped"
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Noop discards everything.
type Noop struct{}

var _ Recorder = Noop{}

func (Noop) RecordRequest(string, int)      {}
func (Noop) RecordRefresh(string)           {}
func (Noop) RecordQueued(string)            {}
func (Noop) RecordReplay(string)            {}
func (Noop) RecordSnapshotFallback(string)  {}
func (Noop) RecordCacheLookup(string, bool) {}

// Collector records into prometheus metrics.
type Collector struct {
	requests  *prometheus.CounterVec
	refreshes *prometheus.CounterVec
	queued    prometheus.Counter
	replays   *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
	lookups   *prometheus.CounterVec
}

var _ Recorder = (*Collector)(nil)

// NewCollector creates a Collector and registers it on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartstudy_gateway_requests_total",
			Help: "API requests issued by the gateway by method and status code (0 = transport failure)",
		}, []string{"method", "status_code"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartstudy_gateway_refresh_total",
			Help: "Token refresh attempts by outcome",
		}, []string{"outcome"}),
		queued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "smartstudy_queue_pushed_total",
			Help: "Mutations accepted into the pending-write queue",
		}),
		replays: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartstudy_queue_replay_total",
			Help: "Queued mutations replayed by outcome",
		}, []string{"outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartstudy_snapshot_fallback_total",
			Help: "Collection reads served from the local snapshot",
		}, []string{"collection"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "smartstudy_cache_lookup_total",
			Help: "Cache worker lookups by strategy and result",
		}, []string{"strategy", "result"}),
	}

	reg.MustRegister(c.requests, c.refreshes, c.queued, c.replays, c.fallbacks, c.lookups)
	return c
}

func (c *Collector) RecordRequest(method string, statusCode int) {
	c.requests.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
}

func (c *Collector) RecordRefresh(outcome string) {
	c.refreshes.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordQueued(string) {
	c.queued.Inc()
}

func (c *Collector) RecordReplay(outcome string) {
	c.replays.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordSnapshotFallback(collection string) {
	c.fallbacks.WithLabelValues(collection).Inc()
}

func (c *Collector) RecordCacheLookup(strategy string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.lookups.WithLabelValues(strategy, result).Inc()
}

// Handler returns the prometheus scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
