// Package telemetry exposes Prometheus metrics for the reconciliation loop.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sawpanic/driftguard/internal/domain"
)

// Metrics holds all driftguard Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	TicksTotal      prometheus.Counter
	DegradedTicks   prometheus.Counter
	TickDuration    prometheus.Histogram
	Discrepancies   *prometheus.CounterVec
	AutoCorrections prometheus.Counter
	CriticalAlerts  prometheus.Counter
	SymbolsChecked  prometheus.Gauge
	Running         prometheus.Gauge
}

// NewMetrics creates and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		TicksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "driftguard_reconciliations_total",
			Help: "Total number of reconciliation ticks executed",
		}),
		DegradedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "driftguard_degraded_ticks_total",
			Help: "Ticks where a snapshot fetch failed and no comparison ran",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "driftguard_tick_duration_seconds",
			Help:    "Wall-clock duration of each reconciliation tick",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}),
		Discrepancies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "driftguard_discrepancies_total",
			Help: "Discrepancies detected, by type and severity",
		}, []string{"type", "severity"}),
		AutoCorrections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "driftguard_auto_corrections_total",
			Help: "Discrepancies corrected automatically against the ledger",
		}),
		CriticalAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "driftguard_critical_alerts_total",
			Help: "Discrepancies escalated for manual intervention",
		}),
		SymbolsChecked: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "driftguard_symbols_checked",
			Help: "Union of exchange and internal symbols in the last tick",
		}),
		Running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "driftguard_loop_running",
			Help: "1 while the reconciliation loop is running",
		}),
	}

	registry.MustRegister(
		m.TicksTotal, m.DegradedTicks, m.TickDuration, m.Discrepancies,
		m.AutoCorrections, m.CriticalAlerts, m.SymbolsChecked, m.Running,
	)
	return m
}

// ObserveTick records one reconciliation result.
func (m *Metrics) ObserveTick(result domain.ReconciliationResult) {
	m.TicksTotal.Inc()
	m.TickDuration.Observe(float64(result.DurationMs) / 1000.0)
	m.SymbolsChecked.Set(float64(result.SymbolsChecked))
	if result.Degraded {
		m.DegradedTicks.Inc()
		return
	}
	for _, d := range result.Discrepancies {
		m.Discrepancies.WithLabelValues(d.Type.String(), d.Severity.String()).Inc()
	}
	m.AutoCorrections.Add(float64(result.AutoCorrections))
	m.CriticalAlerts.Add(float64(result.CriticalAlerts))
}

// SetRunning reflects loop state on the running gauge.
func (m *Metrics) SetRunning(running bool) {
	if running {
		m.Running.Set(1)
	} else {
		m.Running.Set(0)
	}
}

// Gatherer exposes the underlying registry for scraping and tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
