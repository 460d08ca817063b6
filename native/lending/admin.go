package lending

import (
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
)

// Owner-gated configuration. Each operation syncs first so interest accrued
// under the old configuration is distributed under the old configuration.

// SetInterestConfig replaces the interest curve. The rate in force is
// recomputed immediately from the current utilisation.
func (e *Engine) SetInterestConfig(caller common.Address, cfg InterestRateConfig) error {
	return e.atomic("set_interest_config", func() error {
		pool, err := e.sync()
		if err != nil {
			return err
		}
		if err := e.requireOwner(pool, caller); err != nil {
			return err
		}
		if err := ValidateInterestConfig(cfg); err != nil {
			return err
		}
		pool.Interest = cfg.Clone()
		if pool, err = e.store(pool); err != nil {
			return err
		}
		e.logger.Info("lending interest config updated",
			slog.String("pool", e.poolID),
			slog.String("baseRate", pool.Interest.BaseRate.Dec()),
			slog.String("lowSlope", pool.Interest.LowSlope.Dec()),
			slog.String("highSlope", pool.Interest.HighSlope.Dec()),
			slog.Uint64("threshold", pool.Interest.UtilisationThreshold),
			slog.String("rate", pool.InterestRate.Dec()))
		e.report(pool)
		return nil
	})
}

// AddTranche appends addr as the most junior tranche.
func (e *Engine) AddTranche(caller, addr common.Address, weight uint64) error {
	return e.atomic("add_tranche", func() error {
		pool, err := e.sync()
		if err != nil {
			return err
		}
		if err := e.requireOwner(pool, caller); err != nil {
			return err
		}
		if addr == (common.Address{}) || addr == pool.Treasury {
			return ErrInvalidAddress
		}
		if pool.isTranche(addr) {
			return fmt.Errorf("%w: tranche %s", ErrAlreadyExists, addr.Hex())
		}
		next := append(append([]Tranche(nil), pool.Tranches...), Tranche{Address: addr, Weight: weight})
		if _, err := totalWeight(next, pool.FeeWeight); err != nil {
			return err
		}
		pool.Tranches = next
		if _, err := e.store(pool); err != nil {
			return err
		}
		e.logger.Info("lending tranche added",
			slog.String("pool", e.poolID),
			slog.String("tranche", addr.Hex()),
			slog.Int("index", len(next)-1),
			slog.Uint64("weight", weight))
		return nil
	})
}

// SetWeight changes the interest weight of the tranche at index.
func (e *Engine) SetWeight(caller common.Address, index int, weight uint64) error {
	return e.atomic("set_weight", func() error {
		pool, err := e.sync()
		if err != nil {
			return err
		}
		if err := e.requireOwner(pool, caller); err != nil {
			return err
		}
		if index < 0 || index >= len(pool.Tranches) {
			return fmt.Errorf("%w: index %d", ErrNonexistentTranche, index)
		}
		next := append([]Tranche(nil), pool.Tranches...)
		next[index].Weight = weight
		if _, err := totalWeight(next, pool.FeeWeight); err != nil {
			return err
		}
		pool.Tranches = next
		if _, err := e.store(pool); err != nil {
			return err
		}
		e.logger.Info("lending tranche weight updated",
			slog.String("pool", e.poolID),
			slog.Int("index", index),
			slog.Uint64("weight", weight))
		return nil
	})
}

// RemoveLastTranche unregisters the most junior tranche. index and addr must
// both name it, so a caller acting on a stale registry read fails instead of
// removing the wrong tranche. The tranche must have redeemed every share:
// losses are only routed to registered holders.
func (e *Engine) RemoveLastTranche(caller common.Address, index int, addr common.Address) error {
	return e.atomic("remove_tranche", func() error {
		pool, err := e.sync()
		if err != nil {
			return err
		}
		if err := e.requireOwner(pool, caller); err != nil {
			return err
		}
		last := len(pool.Tranches) - 1
		if last < 0 || index != last || pool.Tranches[index].Address != addr {
			return fmt.Errorf("%w: index %d address %s", ErrNonexistentTranche, index, addr.Hex())
		}
		balance, err := e.shareBalance(addr)
		if err != nil {
			return err
		}
		if !balance.IsZero() {
			return fmt.Errorf("%w: %s holds %s", ErrTrancheNotEmpty, addr.Hex(), balance.Dec())
		}
		pool.Tranches = append([]Tranche(nil), pool.Tranches[:last]...)
		if _, err := e.store(pool); err != nil {
			return err
		}
		e.logger.Info("lending tranche removed",
			slog.String("pool", e.poolID),
			slog.String("tranche", addr.Hex()))
		return nil
	})
}

// SetFeeWeight sets the treasury's interest weight.
func (e *Engine) SetFeeWeight(caller common.Address, weight uint64) error {
	return e.atomic("set_fee_weight", func() error {
		pool, err := e.sync()
		if err != nil {
			return err
		}
		if err := e.requireOwner(pool, caller); err != nil {
			return err
		}
		if _, err := totalWeight(pool.Tranches, weight); err != nil {
			return err
		}
		pool.FeeWeight = weight
		if _, err := e.store(pool); err != nil {
			return err
		}
		e.logger.Info("lending fee weight updated", slog.String("pool", e.poolID), slog.Uint64("feeWeight", weight))
		return nil
	})
}

// SetTreasury redirects the fee share of interest. The treasury takes the
// first loss, so it cannot double as a tranche.
func (e *Engine) SetTreasury(caller, treasury common.Address) error {
	return e.atomic("set_treasury", func() error {
		pool, err := e.sync()
		if err != nil {
			return err
		}
		if err := e.requireOwner(pool, caller); err != nil {
			return err
		}
		if treasury == (common.Address{}) || pool.isTranche(treasury) {
			return ErrInvalidAddress
		}
		pool.Treasury = treasury
		if _, err := e.store(pool); err != nil {
			return err
		}
		e.logger.Info("lending treasury updated", slog.String("pool", e.poolID), slog.String("treasury", treasury.Hex()))
		return nil
	})
}

// SetDebtToken installs the debt share ledger. It can be set once.
func (e *Engine) SetDebtToken(caller common.Address, token ShareToken) error {
	return e.atomic("set_debt_token", func() error {
		pool, err := e.loadPool()
		if err != nil {
			return err
		}
		if err := e.requireOwner(pool, caller); err != nil {
			return err
		}
		if token == nil {
			return ErrDebtTokenNotSet
		}
		if e.debt != nil {
			return fmt.Errorf("%w: debt token", ErrAlreadyExists)
		}
		e.debt = token
		return nil
	})
}

// SetLiquidator installs the auction contract and the address it settles
// from.
func (e *Engine) SetLiquidator(caller, addr common.Address, liquidator Liquidator) error {
	return e.atomic("set_liquidator", func() error {
		pool, err := e.loadPool()
		if err != nil {
			return err
		}
		if err := e.requireOwner(pool, caller); err != nil {
			return err
		}
		if liquidator == nil || addr == (common.Address{}) {
			return ErrLiquidatorNotSet
		}
		e.liquidator = liquidator
		e.liquidatorAddr = addr
		e.logger.Info("lending liquidator updated", slog.String("pool", e.poolID), slog.String("liquidator", addr.Hex()))
		return nil
	})
}

// TransferOwnership hands the configuration role to newOwner.
func (e *Engine) TransferOwnership(caller, newOwner common.Address) error {
	return e.atomic("transfer_ownership", func() error {
		pool, err := e.loadPool()
		if err != nil {
			return err
		}
		if err := e.requireOwner(pool, caller); err != nil {
			return err
		}
		if newOwner == (common.Address{}) {
			return ErrInvalidAddress
		}
		pool.Owner = newOwner
		if err := e.state.PutPool(e.poolID, pool); err != nil {
			return err
		}
		e.logger.Info("lending ownership transferred",
			slog.String("pool", e.poolID),
			slog.String("from", caller.Hex()),
			slog.String("to", newOwner.Hex()))
		return nil
	})
}
