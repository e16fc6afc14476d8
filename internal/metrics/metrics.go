// Package metrics exposes scan telemetry to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stage2-screener/internal/model"
)

// Registry holds the screener collectors on a private registry.
type Registry struct {
	reg *prometheus.Registry

	CycleDuration *prometheus.HistogramVec
	Cycles        *prometheus.CounterVec
	Tickers       *prometheus.CounterVec
	Statuses      *prometheus.GaugeVec
	Alerts        *prometheus.CounterVec
	RankedTickers prometheus.Gauge
	LastCycle     prometheus.Gauge
}

// New registers every collector plus the Go runtime collectors.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		CycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "screener_cycle_duration_seconds",
				Help:    "Duration of a full scan cycle in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
			},
			[]string{"result"},
		),
		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "screener_cycles_total",
				Help: "Scan cycles by result",
			},
			[]string{"result"},
		),
		Tickers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "screener_tickers_total",
				Help: "Per-ticker evaluations by outcome",
			},
			[]string{"outcome"},
		),
		Statuses: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "screener_status_tickers",
				Help: "Tickers per status in the latest cycle",
			},
			[]string{"status"},
		),
		Alerts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "screener_alerts_total",
				Help: "Buy-signal alerts by delivery result",
			},
			[]string{"result"},
		),
		RankedTickers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screener_rs_ranked_tickers",
			Help: "Tickers with a relative strength score in the latest cycle",
		}),
		LastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "screener_last_cycle_timestamp_seconds",
			Help: "Unix time the latest cycle finished",
		}),
	}

	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.CycleDuration, r.Cycles, r.Tickers, r.Statuses, r.Alerts, r.RankedTickers, r.LastCycle,
	)
	return r
}

// ObserveCycle records a finished cycle.
func (r *Registry) ObserveCycle(result string, elapsed time.Duration, finished time.Time) {
	if r == nil {
		return
	}
	r.Cycles.WithLabelValues(result).Inc()
	r.CycleDuration.WithLabelValues(result).Observe(elapsed.Seconds())
	r.LastCycle.Set(float64(finished.Unix()))
}

// TickerOutcome counts one per-ticker evaluation.
func (r *Registry) TickerOutcome(outcome string) {
	if r == nil {
		return
	}
	r.Tickers.WithLabelValues(outcome).Inc()
}

// SetStatuses replaces the per-status gauges with the counts of results.
func (r *Registry) SetStatuses(results []model.ScreenResult) {
	if r == nil {
		return
	}
	counts := map[model.Status]int{
		model.StatusNoTrend:           0,
		model.StatusTooVolatile:       0,
		model.StatusWatching:          0,
		model.StatusReadyNotConfirmed: 0,
		model.StatusBuySignal:         0,
	}
	for _, res := range results {
		counts[res.Status]++
	}
	for status, n := range counts {
		r.Statuses.WithLabelValues(string(status)).Set(float64(n))
	}
}

// AlertResult counts an alert delivery outcome.
func (r *Registry) AlertResult(result string) {
	if r == nil {
		return
	}
	r.Alerts.WithLabelValues(result).Inc()
}

// SetRanked records the ranking size.
func (r *Registry) SetRanked(n int) {
	if r == nil {
		return
	}
	r.RankedTickers.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer exposes the underlying registry.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
