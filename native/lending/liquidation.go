package lending

import (
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// LiquidateVault hands an undercollateralised vault to the liquidator. Anyone
// may call it; the vault must owe more than its collateral is worth.
func (e *Engine) LiquidateVault(caller, vault common.Address) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.guard("liquidate"); err != nil {
		return nil, err
	}
	if _, err := e.vaultOwner(vault); err != nil {
		return nil, err
	}
	collateral, err := e.collateralOf(vault)
	if err != nil {
		return nil, err
	}
	var openDebt *uint256.Int
	err = e.atomic("liquidate", func() error {
		if e.liquidator == nil {
			return ErrLiquidatorNotSet
		}
		if e.debt == nil {
			return ErrDebtTokenNotSet
		}
		pool, err := e.sync()
		if err != nil {
			return err
		}
		liquidating, err := e.state.IsLiquidating(e.poolID, vault)
		if err != nil {
			return err
		}
		if liquidating {
			return ErrVaultInLiquidation
		}
		owed, err := e.debtOf(pool, vault)
		if err != nil {
			return err
		}
		if owed.IsZero() || !owed.Gt(collateral) {
			return fmt.Errorf("%w: debt %s, collateral %s", ErrVaultHealthy, owed.Dec(), collateral.Dec())
		}
		if err := e.state.SetLiquidating(e.poolID, vault, true); err != nil {
			return err
		}
		if err := e.liquidator.StartAuction(vault, owed); err != nil {
			return fmt.Errorf("lending engine: start auction: %w", err)
		}
		openDebt = owed
		e.metrics.IncLiquidation(e.poolID, "started")
		e.logger.Info("lending liquidation started",
			slog.String("pool", e.poolID),
			slog.String("vault", vault.Hex()),
			slog.String("caller", caller.Hex()),
			slog.String("openDebt", owed.Dec()),
			slog.String("collateral", collateral.Dec()))
		e.report(pool)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return openDebt, nil
}

// SettleLiquidation closes the auction of vault. The vault's debt is written
// off, up to the open debt of recovered proceeds are pulled from the
// liquidator, and any shortfall is absorbed by share holders in first-loss
// order: treasury, then tranches from most junior to most senior.
func (e *Engine) SettleLiquidation(caller, vault common.Address, recovered *uint256.Int) (*LossSplit, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var result *LossSplit
	err := e.atomic("settle", func() error {
		if e.liquidator == nil {
			return ErrLiquidatorNotSet
		}
		if caller != e.liquidatorAddr {
			return ErrUnauthorized
		}
		pool, err := e.sync()
		if err != nil {
			return err
		}
		liquidating, err := e.state.IsLiquidating(e.poolID, vault)
		if err != nil {
			return err
		}
		if !liquidating {
			return ErrVaultNotInLiquidation
		}
		balance, supply, err := e.debtBalance(vault)
		if err != nil {
			return err
		}
		owed, err := debtFor(balance, supply, pool.TotalDebt)
		if err != nil {
			return err
		}
		before := pool.TotalAssets()
		pulled := minInt(cloneOrZero(recovered), owed)
		loss := new(uint256.Int).Sub(owed, pulled)

		if err := e.debt.Burn(vault, balance); err != nil {
			return err
		}
		pool.TotalDebt = subFloor(pool.TotalDebt, owed)
		if new(uint256.Int).Sub(supply, balance).IsZero() {
			pool.TotalDebt = new(uint256.Int)
		}
		pool.IdleLiquidity = new(uint256.Int).Add(pool.IdleLiquidity, pulled)

		split, err := e.absorbLoss(pool, loss, before)
		if err != nil {
			e.logger.Error("lending pool insolvent",
				slog.String("pool", e.poolID),
				slog.String("vault", vault.Hex()),
				slog.String("loss", loss.Dec()),
				slog.Any("error", err))
			return err
		}
		if err := e.state.SetLiquidating(e.poolID, vault, false); err != nil {
			return err
		}
		if pool, err = e.store(pool); err != nil {
			return err
		}
		if !pulled.IsZero() {
			if err := e.asset.TransferFrom(e.address, caller, e.address, pulled); err != nil {
				return fmt.Errorf("lending engine: pull auction proceeds: %w", err)
			}
		}
		result = split
		e.metrics.IncLiquidation(e.poolID, "settled")
		e.metrics.AddLoss(e.poolID, loss)
		e.logger.Info("lending liquidation settled",
			slog.String("pool", e.poolID),
			slog.String("vault", vault.Hex()),
			slog.String("openDebt", owed.Dec()),
			slog.String("recovered", pulled.Dec()),
			slog.String("loss", loss.Dec()))
		e.report(pool)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// absorbLoss burns shares worth loss at the pre-loss share price, walking
// holders in first-loss order. Burning at the pre-loss price keeps the price
// of the surviving shares unchanged.
func (e *Engine) absorbLoss(pool *Pool, loss, before *uint256.Int) (*LossSplit, error) {
	if loss.IsZero() {
		return &LossSplit{Unabsorbed: new(uint256.Int)}, nil
	}
	supply, err := e.shares.TotalSupply()
	if err != nil {
		return nil, err
	}
	holders := make([]common.Address, 0, len(pool.Tranches)+1)
	holders = append(holders, pool.Treasury)
	for i := len(pool.Tranches) - 1; i >= 0; i-- {
		holders = append(holders, pool.Tranches[i].Address)
	}
	balances := make(map[common.Address]*uint256.Int, len(holders))
	claims := make([]Claim, 0, len(holders))
	for _, holder := range holders {
		balance, err := e.shareBalance(holder)
		if err != nil {
			return nil, err
		}
		claim, err := assetsForShares(balance, supply, before)
		if err != nil {
			return nil, err
		}
		balances[holder] = balance
		claims = append(claims, Claim{Holder: holder, Amount: claim})
	}
	split, err := DistributeLoss(loss, claims, before)
	if err != nil {
		return nil, err
	}
	for _, alloc := range split.Allocations {
		burn := balances[alloc.Recipient]
		if !supply.IsZero() {
			if burn, err = mulDivUp(alloc.Amount, supply, before); err != nil {
				return nil, err
			}
			burn = minInt(burn, balances[alloc.Recipient])
		}
		if err := e.shares.Burn(alloc.Recipient, burn); err != nil {
			return nil, err
		}
		e.logger.Info("lending loss absorbed",
			slog.String("pool", e.poolID),
			slog.String("holder", alloc.Recipient.Hex()),
			slog.String("loss", alloc.Amount.Dec()),
			slog.String("sharesBurned", burn.Dec()))
	}
	if !split.Unabsorbed.IsZero() {
		// Each claim floors by less than one asset unit; anything beyond that
		// belongs to holders outside the first-loss list.
		if split.Unabsorbed.Gt(uint256.NewInt(uint64(len(claims)))) {
			return nil, fmt.Errorf("%w: %s of loss %s not covered by holder claims", ErrInsolvent, split.Unabsorbed.Dec(), loss.Dec())
		}
		e.logger.Warn("lending loss rounding left unabsorbed",
			slog.String("pool", e.poolID),
			slog.String("unabsorbed", split.Unabsorbed.Dec()))
	}
	return split, nil
}

// IsLiquidating reports whether vault has an open auction.
func (e *Engine) IsLiquidating(vault common.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return e.state.IsLiquidating(e.poolID, vault)
}
