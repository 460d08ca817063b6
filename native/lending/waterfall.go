package lending

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Allocation is an amount assigned to a single recipient.
type Allocation struct {
	Recipient common.Address
	Amount    *uint256.Int
}

// InterestSplit is the result of routing accrued interest through the
// waterfall. Tranches holds one entry per tranche in seniority order.
type InterestSplit struct {
	Tranches []Allocation
	Treasury *uint256.Int
}

// Claim is a holder's stake in total assets, offered up to absorb losses.
type Claim struct {
	Holder common.Address
	Amount *uint256.Int
}

// LossSplit records how a loss was absorbed. Unabsorbed is non-zero only when
// the claims offered sum to less than the loss (rounding dust).
type LossSplit struct {
	Allocations []Allocation
	Unabsorbed  *uint256.Int
}

func totalWeight(tranches []Tranche, feeWeight uint64) (uint64, error) {
	total := feeWeight
	for _, tr := range tranches {
		if tr.Weight > math.MaxUint64-total {
			return 0, ErrWeightOverflow
		}
		total += tr.Weight
	}
	return total, nil
}

// DistributeInterest splits amount across tranches most senior first, each
// receiving floor(amount*weight/totalWeight). Whatever is left, the fee weight
// share plus rounding dust, goes to the treasury. With no weight at all the
// treasury receives everything.
func DistributeInterest(amount *uint256.Int, tranches []Tranche, feeWeight uint64) (*InterestSplit, error) {
	split := &InterestSplit{
		Tranches: make([]Allocation, len(tranches)),
		Treasury: cloneOrZero(amount),
	}
	for i, tr := range tranches {
		split.Tranches[i] = Allocation{Recipient: tr.Address, Amount: new(uint256.Int)}
	}
	total, err := totalWeight(tranches, feeWeight)
	if err != nil {
		return nil, err
	}
	if amount == nil || amount.IsZero() || total == 0 {
		return split, nil
	}
	denominator := uint256.NewInt(total)
	for i, tr := range tranches {
		if tr.Weight == 0 {
			continue
		}
		share, err := mulDiv(amount, uint256.NewInt(tr.Weight), denominator)
		if err != nil {
			return nil, err
		}
		split.Tranches[i].Amount = share
		split.Treasury.Sub(split.Treasury, share)
	}
	return split, nil
}

// DistributeLoss walks claims in first-loss order and exhausts each one
// before touching the next. A loss larger than totalAssets is insolvency and
// is returned as an error rather than clamped.
func DistributeLoss(amount *uint256.Int, claims []Claim, totalAssets *uint256.Int) (*LossSplit, error) {
	remaining := cloneOrZero(amount)
	assets := cloneOrZero(totalAssets)
	if remaining.Gt(assets) {
		shortfall := new(uint256.Int).Sub(remaining, assets)
		return nil, fmt.Errorf("%w: loss %s, total assets %s, shortfall %s", ErrInsolvent, remaining.Dec(), assets.Dec(), shortfall.Dec())
	}
	split := &LossSplit{}
	for _, claim := range claims {
		if remaining.IsZero() {
			break
		}
		if claim.Amount == nil || claim.Amount.IsZero() {
			continue
		}
		taken := minInt(remaining, claim.Amount)
		remaining.Sub(remaining, taken)
		split.Allocations = append(split.Allocations, Allocation{Recipient: claim.Holder, Amount: taken})
	}
	split.Unabsorbed = remaining
	return split, nil
}
