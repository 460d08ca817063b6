package lending

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TotalAssets returns idle liquidity plus debt, including interest accrued up
// to the engine clock.
func (e *Engine) TotalAssets() (*uint256.Int, error) {
	pool, _, err := e.project()
	if err != nil {
		return nil, err
	}
	return pool.TotalAssets(), nil
}

// TotalDebt returns outstanding debt including pending interest.
func (e *Engine) TotalDebt() (*uint256.Int, error) {
	pool, _, err := e.project()
	if err != nil {
		return nil, err
	}
	return pool.TotalDebt.Clone(), nil
}

func (e *Engine) IdleLiquidity() (*uint256.Int, error) {
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	return pool.IdleLiquidity.Clone(), nil
}

// InterestRate returns the annual rate in force since the last sync.
func (e *Engine) InterestRate() (*uint256.Int, error) {
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	return pool.InterestRate.Clone(), nil
}

// Utilisation returns the percentage of total assets lent out.
func (e *Engine) Utilisation() (uint64, error) {
	pool, _, err := e.project()
	if err != nil {
		return 0, err
	}
	return Utilisation(pool.TotalDebt, pool.TotalAssets()), nil
}

// Tranches returns the registry in seniority order.
func (e *Engine) Tranches() ([]Tranche, error) {
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	return append([]Tranche(nil), pool.Tranches...), nil
}

func (e *Engine) TotalWeight() (uint64, error) {
	pool, err := e.loadPool()
	if err != nil {
		return 0, err
	}
	return pool.TotalWeight(), nil
}

func (e *Engine) FeeWeight() (uint64, error) {
	pool, err := e.loadPool()
	if err != nil {
		return 0, err
	}
	return pool.FeeWeight, nil
}

func (e *Engine) Treasury() (common.Address, error) {
	pool, err := e.loadPool()
	if err != nil {
		return common.Address{}, err
	}
	return pool.Treasury, nil
}

func (e *Engine) Owner() (common.Address, error) {
	pool, err := e.loadPool()
	if err != nil {
		return common.Address{}, err
	}
	return pool.Owner, nil
}

// InterestConfig returns the interest curve.
func (e *Engine) InterestConfig() (InterestRateConfig, error) {
	pool, err := e.loadPool()
	if err != nil {
		return InterestRateConfig{}, err
	}
	return pool.Interest.Clone(), nil
}

// PoolRecord returns a copy of the stored pool record, without pending
// interest.
func (e *Engine) PoolRecord() (*Pool, error) {
	return e.loadPool()
}

// Sync accrues pending interest and persists the result. Entry points do
// this themselves; Sync exists for keepers that want totals to reflect the
// clock without trading.
func (e *Engine) Sync() error {
	return e.atomic("sync", func() error {
		pool, err := e.sync()
		if err != nil {
			return err
		}
		e.report(pool)
		return nil
	})
}
