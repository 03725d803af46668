package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetrics groups the counters and gauges the lending service exports.
type LendingMetrics struct {
	operations      *prometheus.CounterVec
	alertsFired     prometheus.Counter
	liquidations    prometheus.Counter
	badDebtFlagged  prometheus.Counter
	poolUtilization *prometheus.GaugeVec
	poolDeposits    *prometheus.GaugeVec
	poolBorrowed    *prometheus.GaugeVec
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

// Lending returns the process-wide lending metric registry, registering the
// collectors on first use.
func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "lending_operations_total",
				Help: "Count of engine operations by name and result.",
			}, []string{"op", "result"}),
			alertsFired: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "lending_health_alerts_total",
				Help: "Number of health alerts fired.",
			}),
			liquidations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "lending_liquidations_total",
				Help: "Number of settled liquidations.",
			}),
			badDebtFlagged: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "lending_bad_debt_positions_total",
				Help: "Number of positions flagged with uncollateralized residual debt.",
			}),
			poolUtilization: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_pool_utilization_bps",
				Help: "Current pool utilization per mint, in basis points.",
			}, []string{"mint"}),
			poolDeposits: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_pool_deposits",
				Help: "Aggregate deposits per mint in smallest units.",
			}, []string{"mint"}),
			poolBorrowed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "lending_pool_borrowed",
				Help: "Aggregate outstanding debt per mint in smallest units.",
			}, []string{"mint"}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.alertsFired,
			lendingRegistry.liquidations,
			lendingRegistry.badDebtFlagged,
			lendingRegistry.poolUtilization,
			lendingRegistry.poolDeposits,
			lendingRegistry.poolBorrowed,
		)
	})
	return lendingRegistry
}

// ObserveOperation records an engine call and whether it succeeded.
func (m *LendingMetrics) ObserveOperation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.operations.WithLabelValues(op, result).Inc()
}

// IncAlertFired records one health alert.
func (m *LendingMetrics) IncAlertFired() {
	if m == nil {
		return
	}
	m.alertsFired.Inc()
}

// IncLiquidation records one settled liquidation, counting the bad-debt
// outcome separately.
func (m *LendingMetrics) IncLiquidation(badDebt bool) {
	if m == nil {
		return
	}
	m.liquidations.Inc()
	if badDebt {
		m.badDebtFlagged.Inc()
	}
}

// SetPoolGauges publishes the pool aggregates for one mint.
func (m *LendingMetrics) SetPoolGauges(mint string, utilizationBps uint64, deposits, borrowed float64) {
	if m == nil {
		return
	}
	m.poolUtilization.WithLabelValues(mint).Set(float64(utilizationBps))
	m.poolDeposits.WithLabelValues(mint).Set(deposits)
	m.poolBorrowed.WithLabelValues(mint).Set(borrowed)
}
