package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkerMetrics tracks the background keeper and pricer loops.
type WorkerMetrics struct {
	keeperScans        prometheus.Counter
	keeperCandidates   prometheus.Gauge
	keeperLiquidations *prometheus.CounterVec
	pricerRefreshes    *prometheus.CounterVec
	pricerLastSuccess  *prometheus.GaugeVec
}

var (
	workerOnce     sync.Once
	workerRegistry *WorkerMetrics
)

func Workers() *WorkerMetrics {
	workerOnce.Do(func() {
		workerRegistry = &WorkerMetrics{
			keeperScans: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "synthvault_keeper_scans_total",
				Help: "Completed liquidation candidate scans.",
			}),
			keeperCandidates: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "synthvault_keeper_candidates",
				Help: "Liquidatable positions found by the most recent scan.",
			}),
			keeperLiquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "synthvault_keeper_liquidations_total",
				Help: "Liquidations attempted by the keeper segmented by outcome.",
			}, []string{"outcome"}),
			pricerRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "synthvault_pricer_refreshes_total",
				Help: "Price refresh attempts segmented by asset symbol and outcome.",
			}, []string{"symbol", "outcome"}),
			pricerLastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "synthvault_pricer_last_success_timestamp",
				Help: "Unix time of the last successful price push per asset symbol.",
			}, []string{"symbol"}),
		}
		prometheus.MustRegister(
			workerRegistry.keeperScans,
			workerRegistry.keeperCandidates,
			workerRegistry.keeperLiquidations,
			workerRegistry.pricerRefreshes,
			workerRegistry.pricerLastSuccess,
		)
	})
	return workerRegistry
}

// RecordScan stores the candidate count of a finished scan.
func (m *WorkerMetrics) RecordScan(candidates int) {
	if m == nil {
		return
	}
	m.keeperScans.Inc()
	m.keeperCandidates.Set(float64(candidates))
}

func (m *WorkerMetrics) RecordLiquidation(outcome string) {
	if m == nil {
		return
	}
	m.keeperLiquidations.WithLabelValues(outcome).Inc()
}

// RecordRefresh counts a pricer attempt; unix is the push time on success.
func (m *WorkerMetrics) RecordRefresh(symbol, outcome string, unix int64) {
	if m == nil {
		return
	}
	m.pricerRefreshes.WithLabelValues(symbol, outcome).Inc()
	if outcome == "success" {
		m.pricerLastSuccess.WithLabelValues(symbol).Set(float64(unix))
	}
}
