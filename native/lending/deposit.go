package lending

import (
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Deposit pulls assets from caller and mints pool shares to receiver. Both
// must be registered tranches: LP positions are held by tranches, which in
// turn account for their own depositors.
func (e *Engine) Deposit(caller common.Address, assets *uint256.Int, receiver common.Address) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.guard("deposit"); err != nil {
		return nil, err
	}
	var minted *uint256.Int
	err := e.atomic("deposit", func() error {
		pool, err := e.sync()
		if err != nil {
			return err
		}
		if !pool.isTranche(caller) || !pool.isTranche(receiver) {
			return ErrUnauthorized
		}
		amount := cloneOrZero(assets)
		supply, err := e.shares.TotalSupply()
		if err != nil {
			return err
		}
		total := pool.TotalAssets()
		if !supply.IsZero() && total.IsZero() {
			return fmt.Errorf("%w: shares outstanding against zero assets", ErrInsolvent)
		}
		shares, err := sharesForAssets(amount, supply, total, false)
		if err != nil {
			return err
		}
		if shares.IsZero() {
			return ErrZeroShares
		}

		if err := e.shares.Mint(receiver, shares); err != nil {
			return err
		}
		pool.IdleLiquidity = new(uint256.Int).Add(pool.IdleLiquidity, amount)
		if pool, err = e.store(pool); err != nil {
			return err
		}
		if err := e.asset.TransferFrom(e.address, caller, e.address, amount); err != nil {
			return fmt.Errorf("lending engine: pull deposit: %w", err)
		}
		minted = shares
		e.logger.Debug("lending deposit",
			slog.String("pool", e.poolID),
			slog.String("tranche", caller.Hex()),
			slog.String("assets", amount.Dec()),
			slog.String("shares", shares.Dec()))
		e.report(pool)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return minted, nil
}

// Mint is not supported; deposits are denominated in assets only.
func (e *Engine) Mint(caller common.Address, shares *uint256.Int, receiver common.Address) (*uint256.Int, error) {
	return nil, ErrMintUnsupported
}

// Withdraw sends assets to receiver, burning caller's shares rounded up.
func (e *Engine) Withdraw(caller common.Address, assets *uint256.Int, receiver common.Address) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.guard("withdraw"); err != nil {
		return nil, err
	}
	amount := cloneOrZero(assets)
	if amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	var burned *uint256.Int
	err := e.atomic("withdraw", func() error {
		pool, err := e.sync()
		if err != nil {
			return err
		}
		balance, supply, err := e.shareSnapshot(caller)
		if err != nil {
			return err
		}
		maxAssets, err := maxWithdraw(pool, balance, supply)
		if err != nil {
			return err
		}
		if amount.Gt(maxAssets) {
			return fmt.Errorf("%w: requested %s, max %s", ErrExceedsMaxWithdraw, amount.Dec(), maxAssets.Dec())
		}
		shares, err := sharesForAssets(amount, supply, pool.TotalAssets(), true)
		if err != nil {
			return err
		}
		if pool, err = e.payOut(pool, caller, receiver, amount, shares); err != nil {
			return err
		}
		burned = shares
		e.report(pool)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return burned, nil
}

// Redeem burns shares from caller and sends the assets they claim, rounded
// down, to receiver.
func (e *Engine) Redeem(caller common.Address, shares *uint256.Int, receiver common.Address) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if err := e.guard("withdraw"); err != nil {
		return nil, err
	}
	amount := cloneOrZero(shares)
	if amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	var paid *uint256.Int
	err := e.atomic("redeem", func() error {
		pool, err := e.sync()
		if err != nil {
			return err
		}
		balance, supply, err := e.shareSnapshot(caller)
		if err != nil {
			return err
		}
		maxShares, err := maxRedeem(pool, balance, supply)
		if err != nil {
			return err
		}
		if amount.Gt(maxShares) {
			return fmt.Errorf("%w: requested %s, max %s", ErrExceedsMaxRedeem, amount.Dec(), maxShares.Dec())
		}
		assets, err := assetsForShares(amount, supply, pool.TotalAssets())
		if err != nil {
			return err
		}
		if assets.IsZero() {
			return ErrInvalidAmount
		}
		if pool, err = e.payOut(pool, caller, receiver, assets, amount); err != nil {
			return err
		}
		paid = assets
		e.report(pool)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}

// payOut burns shares from owner, books the outflow, then transfers assets.
func (e *Engine) payOut(pool *Pool, owner, receiver common.Address, assets, shares *uint256.Int) (*Pool, error) {
	if err := e.shares.Burn(owner, shares); err != nil {
		return nil, err
	}
	pool.IdleLiquidity = subFloor(pool.IdleLiquidity, assets)
	pool, err := e.store(pool)
	if err != nil {
		return nil, err
	}
	if err := e.asset.Transfer(e.address, receiver, assets); err != nil {
		return nil, fmt.Errorf("lending engine: pay out: %w", err)
	}
	e.logger.Debug("lending withdrawal",
		slog.String("pool", e.poolID),
		slog.String("owner", owner.Hex()),
		slog.String("receiver", receiver.Hex()),
		slog.String("assets", assets.Dec()),
		slog.String("shares", shares.Dec()))
	return pool, nil
}

func (e *Engine) shareSnapshot(owner common.Address) (*uint256.Int, *uint256.Int, error) {
	balance, err := e.shareBalance(owner)
	if err != nil {
		return nil, nil, err
	}
	supply, err := e.shares.TotalSupply()
	if err != nil {
		return nil, nil, err
	}
	return balance, supply, nil
}

// maxWithdraw is min(claim, idle liquidity).
func maxWithdraw(pool *Pool, balance, supply *uint256.Int) (*uint256.Int, error) {
	total := pool.TotalAssets()
	if balance.IsZero() || total.IsZero() {
		return new(uint256.Int), nil
	}
	claim, err := assetsForShares(balance, supply, total)
	if err != nil {
		return nil, err
	}
	return minInt(claim, pool.IdleLiquidity), nil
}

// maxRedeem is min(balance, shares worth the idle liquidity).
func maxRedeem(pool *Pool, balance, supply *uint256.Int) (*uint256.Int, error) {
	total := pool.TotalAssets()
	if balance.IsZero() || total.IsZero() {
		return new(uint256.Int), nil
	}
	liquid, err := sharesForAssets(pool.IdleLiquidity, supply, total, false)
	if err != nil {
		return nil, err
	}
	return minInt(balance, liquid), nil
}

// MaxWithdraw returns the assets owner can withdraw right now, including
// interest accrued up to the engine clock.
func (e *Engine) MaxWithdraw(owner common.Address) (*uint256.Int, error) {
	pool, balance, supply, err := e.projectedShares(owner)
	if err != nil {
		return nil, err
	}
	return maxWithdraw(pool, balance, supply)
}

// MaxRedeem returns the shares owner can redeem right now.
func (e *Engine) MaxRedeem(owner common.Address) (*uint256.Int, error) {
	pool, balance, supply, err := e.projectedShares(owner)
	if err != nil {
		return nil, err
	}
	return maxRedeem(pool, balance, supply)
}

// SharesOf returns owner's pool shares including pending interest mints.
func (e *Engine) SharesOf(owner common.Address) (*uint256.Int, error) {
	_, balance, _, err := e.projectedShares(owner)
	return balance, err
}

// ClaimOf returns the assets owner's shares are worth, ignoring liquidity.
func (e *Engine) ClaimOf(owner common.Address) (*uint256.Int, error) {
	pool, balance, supply, err := e.projectedShares(owner)
	if err != nil {
		return nil, err
	}
	if balance.IsZero() {
		return new(uint256.Int), nil
	}
	return assetsForShares(balance, supply, pool.TotalAssets())
}

func (e *Engine) projectedShares(owner common.Address) (*Pool, *uint256.Int, *uint256.Int, error) {
	pool, acc, err := e.project()
	if err != nil {
		return nil, nil, nil, err
	}
	balance, err := e.shareBalance(owner)
	if err != nil {
		return nil, nil, nil, err
	}
	balance = new(uint256.Int).Add(balance, acc.minted(owner))
	return pool, balance, acc.supply, nil
}

// ConvertToShares quotes the shares a deposit of assets would mint.
func (e *Engine) ConvertToShares(assets *uint256.Int) (*uint256.Int, error) {
	pool, acc, err := e.project()
	if err != nil {
		return nil, err
	}
	return sharesForAssets(cloneOrZero(assets), acc.supply, pool.TotalAssets(), false)
}

// ConvertToAssets quotes the assets shares are worth.
func (e *Engine) ConvertToAssets(shares *uint256.Int) (*uint256.Int, error) {
	pool, acc, err := e.project()
	if err != nil {
		return nil, err
	}
	return assetsForShares(cloneOrZero(shares), acc.supply, pool.TotalAssets())
}
