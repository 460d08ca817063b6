package metrics

import (
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetrics captures pool activity and the accounting totals after each
// committed mutation.
type LendingMetrics struct {
	operations   *prometheus.CounterVec
	latency      *prometheus.HistogramVec
	totalAssets  *prometheus.GaugeVec
	totalDebt    *prometheus.GaugeVec
	idle         *prometheus.GaugeVec
	utilisation  *prometheus.GaugeVec
	interestRate *prometheus.GaugeVec
	interest     *prometheus.CounterVec
	losses       *prometheus.CounterVec
	liquidations *prometheus.CounterVec
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

// Lending returns the lazily-initialised lending metrics registry.
func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tranchelend",
				Subsystem: "pool",
				Name:      "operations_total",
				Help:      "Pool entry point invocations segmented by operation and outcome.",
			}, []string{"pool", "operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tranchelend",
				Subsystem: "pool",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for pool entry points.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"pool", "operation"}),
			totalAssets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "tranchelend",
				Subsystem: "pool",
				Name:      "total_assets",
				Help:      "Idle liquidity plus outstanding debt.",
			}, []string{"pool"}),
			totalDebt: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "tranchelend",
				Subsystem: "pool",
				Name:      "total_debt",
				Help:      "Outstanding debt including accrued interest.",
			}, []string{"pool"}),
			idle: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "tranchelend",
				Subsystem: "pool",
				Name:      "idle_liquidity",
				Help:      "Assets held by the pool and available to borrow or withdraw.",
			}, []string{"pool"}),
			utilisation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "tranchelend",
				Subsystem: "pool",
				Name:      "utilisation_percent",
				Help:      "Share of total assets currently lent out.",
			}, []string{"pool"}),
			interestRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "tranchelend",
				Subsystem: "pool",
				Name:      "interest_rate",
				Help:      "Annual interest rate in force, scaled by 1e18.",
			}, []string{"pool"}),
			interest: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tranchelend",
				Subsystem: "pool",
				Name:      "interest_accrued_total",
				Help:      "Interest added to outstanding debt.",
			}, []string{"pool"}),
			losses: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tranchelend",
				Subsystem: "pool",
				Name:      "losses_total",
				Help:      "Liquidation shortfalls absorbed by the waterfall.",
			}, []string{"pool"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tranchelend",
				Subsystem: "pool",
				Name:      "liquidations_total",
				Help:      "Liquidation lifecycle events segmented by stage.",
			}, []string{"pool", "stage"}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.latency,
			lendingRegistry.totalAssets,
			lendingRegistry.totalDebt,
			lendingRegistry.idle,
			lendingRegistry.utilisation,
			lendingRegistry.interestRate,
			lendingRegistry.interest,
			lendingRegistry.losses,
			lendingRegistry.liquidations,
		)
	})
	return lendingRegistry
}

// ObserveOperation records the outcome and latency of a pool entry point.
func (m *LendingMetrics) ObserveOperation(pool, operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	pool, operation = label(pool), label(operation)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	m.operations.WithLabelValues(pool, operation, outcome).Inc()
	m.latency.WithLabelValues(pool, operation).Observe(duration.Seconds())
}

// ObservePool publishes the accounting totals of a pool.
func (m *LendingMetrics) ObservePool(pool string, totalAssets, totalDebt, idle *uint256.Int, utilisation uint64, rate *uint256.Int) {
	if m == nil {
		return
	}
	pool = label(pool)
	m.totalAssets.WithLabelValues(pool).Set(toFloat(totalAssets))
	m.totalDebt.WithLabelValues(pool).Set(toFloat(totalDebt))
	m.idle.WithLabelValues(pool).Set(toFloat(idle))
	m.utilisation.WithLabelValues(pool).Set(float64(utilisation))
	m.interestRate.WithLabelValues(pool).Set(toFloat(rate))
}

func (m *LendingMetrics) AddInterest(pool string, amount *uint256.Int) {
	if m == nil || amount == nil || amount.IsZero() {
		return
	}
	m.interest.WithLabelValues(label(pool)).Add(toFloat(amount))
}

func (m *LendingMetrics) AddLoss(pool string, amount *uint256.Int) {
	if m == nil || amount == nil || amount.IsZero() {
		return
	}
	m.losses.WithLabelValues(label(pool)).Add(toFloat(amount))
}

// IncLiquidation counts a liquidation stage such as "started" or "settled".
func (m *LendingMetrics) IncLiquidation(pool, stage string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(label(pool), label(stage)).Inc()
}

func label(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}

func toFloat(value *uint256.Int) float64 {
	if value == nil {
		return 0
	}
	floatVal, acc := new(big.Float).SetInt(value.ToBig()).Float64()
	if acc != big.Exact {
		if math.IsNaN(floatVal) || math.IsInf(floatVal, 0) {
			return 0
		}
	}
	return floatVal
}
