// Package metrics holds the Prometheus collectors for the receiver, layout
// passes and scroll-sync sessions. A nil *Metrics is valid and records
// nothing, so components take it as an optional dependency.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tobert/otlp-waterfall/internal/waterfall"
)

const namespace = "otlp_waterfall"

// Metrics is a private registry plus the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	spansReceived  prometheus.Counter
	exportErrors   prometheus.Counter
	layoutDuration prometheus.Histogram
	rowsRendered   *prometheus.CounterVec
	scrollSessions prometheus.Gauge
	scrollEvents   *prometheus.CounterVec
}

// StatsFunc reports the current buffer occupancy.
type StatsFunc func() (spans, traces int)

// New creates the collectors on a fresh registry, including the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		spansReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spans_received_total",
			Help:      "Spans accepted by the OTLP receiver and file sources.",
		}),
		exportErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_errors_total",
			Help:      "OTLP export requests that failed to store.",
		}),
		layoutDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "layout_duration_seconds",
			Help:      "Time to compute one waterfall layout.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		rowsRendered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Waterfall rows produced, by row type.",
		}, []string{"type"}),
		scrollSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scroll_sessions",
			Help:      "Open websocket scroll-sync sessions.",
		}),
		scrollEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scroll_events_total",
			Help:      "Scroll-sync events handled, by kind.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.spansReceived,
		m.exportErrors,
		m.layoutDuration,
		m.rowsRendered,
		m.scrollSessions,
		m.scrollEvents,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterStorage exports buffer occupancy as gauges read at scrape time.
func (m *Metrics) RegisterStorage(stats StatsFunc) {
	if m == nil || stats == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffered_spans",
			Help:      "Spans currently held in the ring buffer.",
		}, func() float64 {
			spans, _ := stats()
			return float64(spans)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffered_traces",
			Help:      "Distinct traces currently held in the ring buffer.",
		}, func() float64 {
			_, traces := stats()
			return float64(traces)
		}),
	)
}

// RecordExport counts one receiver export of n spans.
func (m *Metrics) RecordExport(n int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.exportErrors.Inc()
		return
	}
	m.spansReceived.Add(float64(n))
}

// ObserveLayout records one layout pass and the row types it produced.
func (m *Metrics) ObserveLayout(elapsed time.Duration, rows []waterfall.Row) {
	if m == nil {
		return
	}
	m.layoutDuration.Observe(elapsed.Seconds())

	counts := make(map[waterfall.RowType]int)
	for _, r := range rows {
		counts[r.Type]++
	}
	for t, n := range counts {
		m.rowsRendered.WithLabelValues(string(t)).Add(float64(n))
	}
}

// SessionOpened and SessionClosed track live scroll-sync sessions.
func (m *Metrics) SessionOpened() {
	if m != nil {
		m.scrollSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.scrollSessions.Dec()
	}
}

// ScrollEvent counts one handled scroll-sync message.
func (m *Metrics) ScrollEvent(kind string) {
	if m != nil {
		m.scrollEvents.WithLabelValues(kind).Inc()
	}
}
