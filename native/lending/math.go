package lending

import (
	"github.com/holiman/uint256"
)

// mulDiv returns floor(x*y/d) using a 512-bit intermediate.
func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrInsolvent
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrRateOverflow
	}
	return z, nil
}

// mulDivUp returns ceil(x*y/d).
func mulDivUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	z, err := mulDiv(x, y, d)
	if err != nil {
		return nil, err
	}
	if new(uint256.Int).MulMod(x, y, d).IsZero() {
		return z, nil
	}
	z, overflow := z.AddOverflow(z, uint256.NewInt(1))
	if overflow {
		return nil, ErrRateOverflow
	}
	return z, nil
}

func minInt(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

// subFloor returns a-b, or zero when b exceeds a.
func subFloor(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}

// Pool shares. The share price is pool-wide; a pool without shares converts
// 1:1.

func sharesForAssets(assets, supply, totalAssets *uint256.Int, roundUp bool) (*uint256.Int, error) {
	if supply.IsZero() {
		return assets.Clone(), nil
	}
	if roundUp {
		return mulDivUp(assets, supply, totalAssets)
	}
	return mulDiv(assets, supply, totalAssets)
}

func assetsForShares(shares, supply, totalAssets *uint256.Int) (*uint256.Int, error) {
	if supply.IsZero() {
		return shares.Clone(), nil
	}
	return mulDiv(shares, totalAssets, supply)
}

// Debt shares. Interest raises assets per debt share; the first borrow mints
// 1:1.

func debtSharesFor(amount, supply, totalDebt *uint256.Int) (*uint256.Int, error) {
	if supply.IsZero() || totalDebt.IsZero() {
		return amount.Clone(), nil
	}
	return mulDiv(amount, supply, totalDebt)
}

// debtFor rounds up so a vault never owes less than its share of total debt.
func debtFor(shares, supply, totalDebt *uint256.Int) (*uint256.Int, error) {
	if shares.IsZero() || supply.IsZero() {
		return new(uint256.Int), nil
	}
	return mulDivUp(shares, totalDebt, supply)
}
