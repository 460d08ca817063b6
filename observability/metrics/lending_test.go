package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestLendingMetricsRecordsOperations(t *testing.T) {
	m := Lending()
	require.Same(t, m, Lending())

	m.ObserveOperation("metrics-test", "deposit", nil, time.Millisecond)
	m.ObserveOperation("metrics-test", "deposit", errors.New("boom"), time.Millisecond)
	m.ObserveOperation("metrics-test", "deposit", nil, time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(m.operations.WithLabelValues("metrics-test", "deposit", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("metrics-test", "deposit", "error")))
}

func TestLendingMetricsObservePool(t *testing.T) {
	m := Lending()
	m.ObservePool("metrics-pool", uint256.NewInt(1000), uint256.NewInt(400), uint256.NewInt(600), 40, uint256.NewInt(7))
	require.Equal(t, 1000.0, testutil.ToFloat64(m.totalAssets.WithLabelValues("metrics-pool")))
	require.Equal(t, 40.0, testutil.ToFloat64(m.utilisation.WithLabelValues("metrics-pool")))

	m.AddLoss("metrics-pool", uint256.NewInt(5))
	m.AddLoss("metrics-pool", nil)
	require.Equal(t, 5.0, testutil.ToFloat64(m.losses.WithLabelValues("metrics-pool")))
}

func TestNilLendingMetricsIsSafe(t *testing.T) {
	var m *LendingMetrics
	m.ObserveOperation("p", "op", nil, 0)
	m.ObservePool("p", nil, nil, nil, 0, nil)
	m.AddInterest("p", uint256.NewInt(1))
	m.IncLiquidation("p", "started")
}
