// Package telemetry exposes the explorer's Prometheus metrics and exports
// provider exhaustion events to an external collector.
package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yourorg/chain-explorer/internal/types"
)

// Metrics holds the explorer's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	exhausted       *prometheus.CounterVec
	emptyResponses  *prometheus.CounterVec
	failures        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	backoffs        *prometheus.CounterVec
	latestBlock     *prometheus.GaugeVec
	minBlock        *prometheus.GaugeVec

	mu       sync.Mutex
	minSeen  map[string]int64
	gatherer prometheus.Gatherer
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// uses a fresh registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := &Metrics{
		exhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "explorer_provider_exhausted_total",
				Help: "Calls for which every candidate provider failed",
			},
			[]string{"network", "operation"},
		),
		emptyResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "explorer_provider_empty_response_total",
				Help: "Successful calls that returned an empty result",
			},
			[]string{"network", "operation", "provider"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "explorer_provider_failures_total",
				Help: "Failed provider attempts by kind",
			},
			[]string{"network", "operation", "provider", "kind"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "explorer_provider_request_duration_seconds",
				Help:    "Provider request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"network", "operation", "provider"},
		),
		backoffs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "explorer_provider_backoff_total",
				Help: "Times a provider entered rate limit backoff",
			},
			[]string{"network", "provider"},
		),
		latestBlock: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "explorer_latest_block_height",
				Help: "Latest block height reported by a provider",
			},
			[]string{"network", "provider"},
		),
		minBlock: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "explorer_min_available_block_height",
				Help: "Lowest block height a provider has served",
			},
			[]string{"network", "provider"},
		),
		minSeen:  make(map[string]int64),
		gatherer: reg,
	}

	reg.MustRegister(
		m.exhausted,
		m.emptyResponses,
		m.failures,
		m.requestDuration,
		m.backoffs,
		m.latestBlock,
		m.minBlock,
	)
	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Exhausted counts a call that no provider could answer
func (m *Metrics) Exhausted(net types.Network, op types.Operation) {
	if m == nil {
		return
	}
	m.exhausted.WithLabelValues(string(net), op.String()).Inc()
}

// EmptyResponse counts a successful but empty answer
func (m *Metrics) EmptyResponse(net types.Network, op types.Operation, provider string) {
	if m == nil {
		return
	}
	m.emptyResponses.WithLabelValues(string(net), op.String(), provider).Inc()
}

// Failure counts one failed attempt
func (m *Metrics) Failure(net types.Network, op types.Operation, provider, kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(string(net), op.String(), provider, kind).Inc()
}

// ObserveRequest records how long one attempt took
func (m *Metrics) ObserveRequest(net types.Network, op types.Operation, provider string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(string(net), op.String(), provider).Observe(d.Seconds())
}

// Backoff counts a provider entering backoff
func (m *Metrics) Backoff(net types.Network, provider string) {
	if m == nil {
		return
	}
	m.backoffs.WithLabelValues(string(net), provider).Inc()
}

// LatestBlock sets the latest block height a provider reported
func (m *Metrics) LatestBlock(net types.Network, provider string, height int64) {
	if m == nil {
		return
	}
	m.latestBlock.WithLabelValues(string(net), provider).Set(float64(height))
}

// MinAvailableBlock lowers the min available height gauge when height is
// below every height seen before for the pair
func (m *Metrics) MinAvailableBlock(net types.Network, provider string, height int64) {
	if m == nil {
		return
	}
	key := string(net) + "/" + provider
	m.mu.Lock()
	defer m.mu.Unlock()
	if seen, ok := m.minSeen[key]; ok && seen <= height {
		return
	}
	m.minSeen[key] = height
	m.minBlock.WithLabelValues(string(net), provider).Set(float64(height))
}
