package lending

import (
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tranchelend/native/token"
)

// UnlimitedAllowance is the credit allowance sentinel that borrowing never
// decrements.
var UnlimitedAllowance = token.Unlimited

// ApproveBeneficiary lets beneficiary borrow up to amount against vault. Only
// the vault's current owner may grant credit; the grant is void once the
// vault changes hands.
func (e *Engine) ApproveBeneficiary(caller, beneficiary common.Address, amount *uint256.Int, vault common.Address) error {
	owner, err := e.vaultOwner(vault)
	if err != nil {
		return err
	}
	return e.atomic("approve", func() error {
		if _, err := e.loadPool(); err != nil {
			return err
		}
		if caller != owner {
			return ErrUnauthorized
		}
		granted := cloneOrZero(amount)
		if err := e.state.PutCreditAllowance(e.poolID, vault, owner, beneficiary, granted); err != nil {
			return err
		}
		e.logger.Debug("lending credit allowance set",
			slog.String("pool", e.poolID),
			slog.String("vault", vault.Hex()),
			slog.String("beneficiary", beneficiary.Hex()),
			slog.String("amount", granted.Dec()))
		return nil
	})
}

// CreditAllowance returns what beneficiary may still borrow against vault
// under its current owner.
func (e *Engine) CreditAllowance(vault, beneficiary common.Address) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	owner, err := e.vaultOwner(vault)
	if err != nil {
		return nil, err
	}
	return e.state.GetCreditAllowance(e.poolID, vault, owner, beneficiary)
}

// TakeLoan borrows amount against vault and sends it to to. The vault owner
// borrows freely; anyone else spends a credit allowance.
func (e *Engine) TakeLoan(caller common.Address, amount *uint256.Int, vault, to common.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.guard("borrow"); err != nil {
		return err
	}
	borrowed := cloneOrZero(amount)
	if borrowed.IsZero() {
		return ErrInvalidAmount
	}
	owner, err := e.vaultOwner(vault)
	if err != nil {
		return err
	}
	collateral, err := e.collateralOf(vault)
	if err != nil {
		return err
	}
	return e.atomic("borrow", func() error {
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
		if caller != owner {
			if err := e.spendAllowance(vault, owner, caller, borrowed); err != nil {
				return err
			}
		}
		balance, supply, err := e.debtBalance(vault)
		if err != nil {
			return err
		}
		owed, err := debtFor(balance, supply, pool.TotalDebt)
		if err != nil {
			return err
		}
		exposure, overflow := new(uint256.Int).AddOverflow(owed, borrowed)
		if overflow || exposure.Gt(collateral) {
			return fmt.Errorf("%w: debt %s plus %s exceeds collateral %s", ErrInsufficientCollateral, owed.Dec(), borrowed.Dec(), collateral.Dec())
		}
		if borrowed.Gt(pool.IdleLiquidity) {
			return fmt.Errorf("%w: requested %s, idle %s", ErrInsufficientLiquidity, borrowed.Dec(), pool.IdleLiquidity.Dec())
		}

		shares, err := debtSharesFor(borrowed, supply, pool.TotalDebt)
		if err != nil {
			return err
		}
		if shares.IsZero() {
			// A positive loan always carries debt.
			shares = uint256.NewInt(1)
		}
		if err := e.debt.Mint(vault, shares); err != nil {
			return err
		}
		pool.TotalDebt = new(uint256.Int).Add(pool.TotalDebt, borrowed)
		pool.IdleLiquidity = new(uint256.Int).Sub(pool.IdleLiquidity, borrowed)
		if pool, err = e.store(pool); err != nil {
			return err
		}
		if err := e.asset.Transfer(e.address, to, borrowed); err != nil {
			return fmt.Errorf("lending engine: disburse loan: %w", err)
		}
		e.logger.Debug("lending loan taken",
			slog.String("pool", e.poolID),
			slog.String("vault", vault.Hex()),
			slog.String("caller", caller.Hex()),
			slog.String("amount", borrowed.Dec()),
			slog.String("debtShares", shares.Dec()))
		e.report(pool)
		return nil
	})
}

func (e *Engine) spendAllowance(vault, owner, beneficiary common.Address, amount *uint256.Int) error {
	allowance, err := e.state.GetCreditAllowance(e.poolID, vault, owner, beneficiary)
	if err != nil {
		return err
	}
	if allowance.Eq(UnlimitedAllowance) {
		return nil
	}
	if allowance.Lt(amount) {
		return fmt.Errorf("%w: allowance %s, requested %s", ErrInsufficientAllowance, allowance.Dec(), amount.Dec())
	}
	return e.state.PutCreditAllowance(e.poolID, vault, owner, beneficiary, new(uint256.Int).Sub(allowance, amount))
}

// Repay pulls amount from caller and burns the matching debt shares of vault.
// Repaying the full debt burns every share the vault holds.
func (e *Engine) Repay(caller common.Address, amount *uint256.Int, vault common.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := e.guard("repay"); err != nil {
		return err
	}
	repaid := cloneOrZero(amount)
	if repaid.IsZero() {
		return ErrInvalidAmount
	}
	if _, err := e.vaultOwner(vault); err != nil {
		return err
	}
	return e.atomic("repay", func() error {
		pool, err := e.sync()
		if err != nil {
			return err
		}
		balance, supply, err := e.debtBalance(vault)
		if err != nil {
			return err
		}
		owed, err := debtFor(balance, supply, pool.TotalDebt)
		if err != nil {
			return err
		}
		if repaid.Gt(owed) {
			return fmt.Errorf("%w: repaying %s, owed %s", ErrInsufficientDebt, repaid.Dec(), owed.Dec())
		}
		burn := balance
		if repaid.Lt(owed) {
			if burn, err = mulDiv(repaid, supply, pool.TotalDebt); err != nil {
				return err
			}
		}
		if err := e.debt.Burn(vault, burn); err != nil {
			return err
		}
		pool.TotalDebt = subFloor(pool.TotalDebt, repaid)
		if new(uint256.Int).Sub(supply, burn).IsZero() {
			pool.TotalDebt = new(uint256.Int)
		}
		pool.IdleLiquidity = new(uint256.Int).Add(pool.IdleLiquidity, repaid)
		if pool, err = e.store(pool); err != nil {
			return err
		}
		if err := e.asset.TransferFrom(e.address, caller, e.address, repaid); err != nil {
			return fmt.Errorf("lending engine: pull repayment: %w", err)
		}
		e.logger.Debug("lending loan repaid",
			slog.String("pool", e.poolID),
			slog.String("vault", vault.Hex()),
			slog.String("amount", repaid.Dec()),
			slog.String("debtShares", burn.Dec()))
		e.report(pool)
		return nil
	})
}

// DebtOf returns what vault owes including interest accrued up to the
// engine clock, rounded up.
func (e *Engine) DebtOf(vault common.Address) (*uint256.Int, error) {
	pool, _, err := e.project()
	if err != nil {
		return nil, err
	}
	return e.debtOf(pool, vault)
}
