// Package metrics holds the Prometheus collectors for tool calls, statements
// and the connection pool.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickchristie/postgres-crud-mcp/internal/gateway"
)

const namespace = "pgcrudmcp"

// StatsSource reports pool bookkeeping. *gateway.Gateway implements it.
type StatsSource interface {
	Stats() gateway.Stats
}

// Metrics owns its registry so several servers can live in one process.
type Metrics struct {
	registry *prometheus.Registry

	toolCalls         *prometheus.CounterVec
	toolDuration      *prometheus.HistogramVec
	statements        *prometheus.CounterVec
	statementDuration *prometheus.HistogramVec
}

// New registers all collectors. pool may be nil when no pool gauges are
// wanted.
func New(pool StatsSource) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total number of MCP tool calls",
			},
			[]string{"tool", "status"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_duration_milliseconds",
				Help:      "MCP tool call duration in milliseconds",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 10000},
			},
			[]string{"tool"},
		),
		statements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "statements_total",
				Help:      "Total number of statements and transactions run",
			},
			[]string{"op", "status"},
		),
		statementDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "statement_duration_milliseconds",
				Help:      "Statement or transaction duration in milliseconds, including the pool wait",
				Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 10000, 30000},
			},
			[]string{"op"},
		),
	}

	m.registry.MustRegister(m.toolCalls, m.toolDuration, m.statements, m.statementDuration)
	m.registry.MustRegister(collectors.NewGoCollector())
	if pool != nil {
		m.registerPool(pool)
	}
	return m
}

func (m *Metrics) registerPool(pool StatsSource) {
	gauge := func(name, help string, value func(gateway.Stats) float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: namespace, Subsystem: "pool", Name: name, Help: help},
			func() float64 { return value(pool.Stats()) },
		)
	}
	counter := func(name, help string, value func(gateway.Stats) float64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(
			prometheus.CounterOpts{Namespace: namespace, Subsystem: "pool", Name: name, Help: help},
			func() float64 { return value(pool.Stats()) },
		)
	}
	m.registry.MustRegister(
		gauge("borrowed_connections", "Connections currently checked out", func(s gateway.Stats) float64 { return float64(s.Borrowed) }),
		gauge("max_connections", "Upper bound of checked-out connections", func(s gateway.Stats) float64 { return float64(s.MaxConns) }),
		gauge("total_connections", "Open connections, idle or in use", func(s gateway.Stats) float64 { return float64(s.TotalConns) }),
		gauge("idle_connections", "Open idle connections", func(s gateway.Stats) float64 { return float64(s.IdleConns) }),
		counter("discarded_connections_total", "Connections closed after a protocol error", func(s gateway.Stats) float64 { return float64(s.Discarded) }),
		counter("exhausted_total", "Borrow attempts that timed out waiting for a connection", func(s gateway.Stats) float64 { return float64(s.Exhausted) }),
	)
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObserveTool records one tool call. failed is true when the call returned
// an error result.
func (m *Metrics) ObserveTool(tool string, d time.Duration, failed bool) {
	s := "success"
	if failed {
		s = "error"
	}
	m.toolCalls.WithLabelValues(tool, s).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(float64(d.Microseconds()) / 1000)
}

// ObserveStatement matches executor.Observer.
func (m *Metrics) ObserveStatement(op string, d time.Duration, err error) {
	m.statements.WithLabelValues(op, status(err)).Inc()
	m.statementDuration.WithLabelValues(op).Observe(float64(d.Microseconds()) / 1000)
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
