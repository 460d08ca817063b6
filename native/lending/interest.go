package lending

import (
	"fmt"

	"github.com/holiman/uint256"
)

// SecondsPerYear converts annual rates into per-second accrual.
const SecondsPerYear = 31_536_000

// RateScale is the fixed-point unit of interest rates: a rate equal to
// RateScale is 100% per year.
var RateScale = uint256.NewInt(1_000_000_000_000_000_000)

var (
	hundred       = uint256.NewInt(100)
	accrualPeriod = new(uint256.Int).Mul(RateScale, uint256.NewInt(SecondsPerYear))
)

// CalculateInterestRate evaluates the interest curve at utilisation:
//
//	utilisation <= threshold: base + lowSlope*utilisation
//	utilisation >  threshold: base + lowSlope*threshold + highSlope*(utilisation-threshold)
func CalculateInterestRate(cfg InterestRateConfig, utilisation uint64) (*uint256.Int, error) {
	if utilisation > 100 {
		return nil, fmt.Errorf("%w: %d", ErrUtilisationRange, utilisation)
	}
	rate := cloneOrZero(cfg.BaseRate)
	low := cloneOrZero(cfg.LowSlope)
	if utilisation <= cfg.UtilisationThreshold {
		return addProduct(rate, low, utilisation)
	}
	rate, err := addProduct(rate, low, cfg.UtilisationThreshold)
	if err != nil {
		return nil, err
	}
	return addProduct(rate, cloneOrZero(cfg.HighSlope), utilisation-cfg.UtilisationThreshold)
}

// addProduct returns acc + slope*points with every step overflow checked.
func addProduct(acc, slope *uint256.Int, points uint64) (*uint256.Int, error) {
	product, overflow := new(uint256.Int).MulOverflow(slope, uint256.NewInt(points))
	if overflow {
		return nil, ErrRateOverflow
	}
	sum, overflow := new(uint256.Int).AddOverflow(acc, product)
	if overflow {
		return nil, ErrRateOverflow
	}
	return sum, nil
}

// ValidateInterestConfig rejects curves that fall as utilisation rises, a
// threshold outside [0,100], and any curve overflowing at full utilisation.
// The slope check is stricter than the rate formula needs: a flat curve
// (HighSlope == LowSlope) passes, a descending one does not.
func ValidateInterestConfig(cfg InterestRateConfig) error {
	if cfg.UtilisationThreshold > 100 {
		return fmt.Errorf("%w: threshold %d above 100", ErrInvalidInterestConfig, cfg.UtilisationThreshold)
	}
	if cloneOrZero(cfg.HighSlope).Lt(cloneOrZero(cfg.LowSlope)) {
		return fmt.Errorf("%w: high slope below low slope", ErrInvalidInterestConfig)
	}
	if _, err := CalculateInterestRate(cfg, 100); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInterestConfig, err)
	}
	return nil
}

// Utilisation returns floor(100*debt/totalAssets) clamped to 100. An empty
// pool has zero utilisation.
func Utilisation(debt, totalAssets *uint256.Int) uint64 {
	if debt == nil || totalAssets == nil || debt.IsZero() || totalAssets.IsZero() {
		return 0
	}
	if debt.Cmp(totalAssets) >= 0 {
		return 100
	}
	ratio, _ := new(uint256.Int).MulDivOverflow(debt, hundred, totalAssets)
	return ratio.Uint64()
}

// ComputeInterest returns the interest owed on debt after elapsed seconds at
// the annual rate: debt*rate*elapsed / (SecondsPerYear*RateScale), rounded
// down.
func ComputeInterest(debt, rate *uint256.Int, elapsed uint64) (*uint256.Int, error) {
	if debt == nil || rate == nil || debt.IsZero() || rate.IsZero() || elapsed == 0 {
		return new(uint256.Int), nil
	}
	scaled, overflow := new(uint256.Int).MulOverflow(rate, uint256.NewInt(elapsed))
	if overflow {
		return nil, ErrRateOverflow
	}
	interest, overflow := new(uint256.Int).MulDivOverflow(debt, scaled, accrualPeriod)
	if overflow {
		return nil, ErrRateOverflow
	}
	return interest, nil
}
