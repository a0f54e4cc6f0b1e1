package mirror

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the mirror's Prometheus collectors. Each Mirror registers
// its own set on its own registry, so several can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	fragmentsTotal     *prometheus.CounterVec
	transfersCompleted prometheus.Counter
	transferBytes      prometheus.Histogram
	appliesTotal       *prometheus.CounterVec
	applyDuration      *prometheus.HistogramVec
	indexNodes         prometheus.Gauge
	storeVersion       prometheus.Gauge
	desynced           prometheus.Gauge
	journalErrors      prometheus.Counter
	wsConnections      prometheus.Gauge
	toolCalls          *prometheus.CounterVec
	httpRequestsTotal  *prometheus.CounterVec
	httpDuration       *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg. A nil reg gets a fresh
// registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		fragmentsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treemirror_fragments_total",
				Help: "Fragments received, by transport and result",
			},
			[]string{"transport", "result"},
		),
		transfersCompleted: f.NewCounter(
			prometheus.CounterOpts{
				Name: "treemirror_transfers_completed_total",
				Help: "Chunked transfers reassembled",
			},
		),
		transferBytes: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "treemirror_transfer_bytes",
				Help:    "Size of reassembled payloads in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
			},
		),
		appliesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treemirror_applies_total",
				Help: "Payload applications, by kind and result",
			},
			[]string{"kind", "result"},
		),
		applyDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "treemirror_apply_duration_seconds",
				Help:    "Time to decode and apply a payload",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		indexNodes: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "treemirror_index_nodes",
				Help: "Nodes in the path index",
			},
		),
		storeVersion: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "treemirror_store_version",
				Help: "Successful applies since the store was created",
			},
		),
		desynced: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "treemirror_desynced",
				Help: "1 while the mirror waits for a fresh snapshot after a failed diff",
			},
		),
		journalErrors: f.NewCounter(
			prometheus.CounterOpts{
				Name: "treemirror_journal_errors_total",
				Help: "Journal appends that failed",
			},
		),
		wsConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "treemirror_ws_connections_active",
				Help: "Open websocket fragment feeds",
			},
		),
		toolCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treemirror_mcp_tool_calls_total",
				Help: "MCP tool calls, by tool and result",
			},
			[]string{"tool", "result"},
		),
		httpRequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "treemirror_http_requests_total",
				Help: "HTTP requests, by method, route and status",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "treemirror_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) recordFragment(transport, result string) {
	m.fragmentsTotal.WithLabelValues(transport, result).Inc()
}

func (m *Metrics) recordTransfer(bytes int) {
	m.transfersCompleted.Inc()
	m.transferBytes.Observe(float64(bytes))
}

func (m *Metrics) recordApply(kind, result string, d time.Duration) {
	m.appliesTotal.WithLabelValues(kind, result).Inc()
	m.applyDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) setStore(nodes int, version uint64, desynced bool) {
	m.indexNodes.Set(float64(nodes))
	m.storeVersion.Set(float64(version))
	if desynced {
		m.desynced.Set(1)
	} else {
		m.desynced.Set(0)
	}
}

func (m *Metrics) recordToolCall(tool, result string) {
	m.toolCalls.WithLabelValues(tool, result).Inc()
}

func (m *Metrics) recordHTTP(method, route string, status int, d time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
