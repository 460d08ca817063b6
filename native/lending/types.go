package lending

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Tranche is a registered liquidity tier. Registry order is seniority order:
// index 0 is the most senior tranche.
type Tranche struct {
	Address common.Address
	Weight  uint64
}

// InterestRateConfig shapes the piecewise-linear interest curve. Rates are
// annual values scaled by RateScale; slopes apply per percentage point of
// utilisation.
type InterestRateConfig struct {
	// BaseRate applies at zero utilisation.
	BaseRate *uint256.Int
	// LowSlope applies up to and including UtilisationThreshold.
	LowSlope *uint256.Int
	// HighSlope applies to every point above UtilisationThreshold.
	HighSlope *uint256.Int
	// UtilisationThreshold is the kink, a percentage in [0,100].
	UtilisationThreshold uint64
}

// Clone returns a deep copy of the configuration.
func (c InterestRateConfig) Clone() InterestRateConfig {
	return InterestRateConfig{
		BaseRate:             cloneOrZero(c.BaseRate),
		LowSlope:             cloneOrZero(c.LowSlope),
		HighSlope:            cloneOrZero(c.HighSlope),
		UtilisationThreshold: c.UtilisationThreshold,
	}
}

// Pool captures the accounting state of a tranche lending pool.
type Pool struct {
	Owner     common.Address
	Treasury  common.Address
	FeeWeight uint64
	Tranches  []Tranche
	Interest  InterestRateConfig
	// TotalDebt is outstanding principal plus accrued interest.
	TotalDebt *uint256.Int
	// IdleLiquidity counts assets the pool accounted for receiving. Tokens
	// sent to the pool outside of its entry points are not included.
	IdleLiquidity *uint256.Int
	// InterestRate is the annual rate in force until the next sync.
	InterestRate *uint256.Int
	LastSyncedAt uint64
}

// TotalAssets is idle liquidity plus outstanding debt.
func (p *Pool) TotalAssets() *uint256.Int {
	return new(uint256.Int).Add(p.IdleLiquidity, p.TotalDebt)
}

// TotalWeight is the sum of every tranche weight plus the fee weight.
func (p *Pool) TotalWeight() uint64 {
	total, _ := totalWeight(p.Tranches, p.FeeWeight)
	return total
}

func (p *Pool) trancheIndex(addr common.Address) int {
	for i, tr := range p.Tranches {
		if tr.Address == addr {
			return i
		}
	}
	return -1
}

func (p *Pool) isTranche(addr common.Address) bool {
	return p.trancheIndex(addr) >= 0
}

// Clone returns a deep copy of the pool.
func (p *Pool) Clone() *Pool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Tranches = append([]Tranche(nil), p.Tranches...)
	clone.Interest = p.Interest.Clone()
	clone.TotalDebt = cloneOrZero(p.TotalDebt)
	clone.IdleLiquidity = cloneOrZero(p.IdleLiquidity)
	clone.InterestRate = cloneOrZero(p.InterestRate)
	return &clone
}

func (p *Pool) ensureDefaults() {
	p.Interest = p.Interest.Clone()
	p.TotalDebt = cloneOrZero(p.TotalDebt)
	p.IdleLiquidity = cloneOrZero(p.IdleLiquidity)
	p.InterestRate = cloneOrZero(p.InterestRate)
}

// storedPool is the RLP layout of a Pool. Amounts are kept as big integers.
type storedPool struct {
	Owner                common.Address
	Treasury             common.Address
	FeeWeight            uint64
	Tranches             []Tranche
	BaseRate             *big.Int
	LowSlope             *big.Int
	HighSlope            *big.Int
	UtilisationThreshold uint64
	TotalDebt            *big.Int
	IdleLiquidity        *big.Int
	InterestRate         *big.Int
	LastSyncedAt         uint64
}

func newStoredPool(p *Pool) *storedPool {
	return &storedPool{
		Owner:                p.Owner,
		Treasury:             p.Treasury,
		FeeWeight:            p.FeeWeight,
		Tranches:             append([]Tranche(nil), p.Tranches...),
		BaseRate:             toBig(p.Interest.BaseRate),
		LowSlope:             toBig(p.Interest.LowSlope),
		HighSlope:            toBig(p.Interest.HighSlope),
		UtilisationThreshold: p.Interest.UtilisationThreshold,
		TotalDebt:            toBig(p.TotalDebt),
		IdleLiquidity:        toBig(p.IdleLiquidity),
		InterestRate:         toBig(p.InterestRate),
		LastSyncedAt:         p.LastSyncedAt,
	}
}

func (s *storedPool) toPool() (*Pool, error) {
	fields := []*big.Int{s.BaseRate, s.LowSlope, s.HighSlope, s.TotalDebt, s.IdleLiquidity, s.InterestRate}
	values := make([]*uint256.Int, len(fields))
	for i, f := range fields {
		v, err := fromBig(f)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}
	return &Pool{
		Owner:     s.Owner,
		Treasury:  s.Treasury,
		FeeWeight: s.FeeWeight,
		Tranches:  append([]Tranche(nil), s.Tranches...),
		Interest: InterestRateConfig{
			BaseRate:             values[0],
			LowSlope:             values[1],
			HighSlope:            values[2],
			UtilisationThreshold: s.UtilisationThreshold,
		},
		TotalDebt:     values[3],
		IdleLiquidity: values[4],
		InterestRate:  values[5],
		LastSyncedAt:  s.LastSyncedAt,
	}, nil
}

func cloneOrZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v.ToBig()
}

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow || v.Sign() < 0 {
		return nil, fmt.Errorf("lending engine: stored amount %s out of range", v)
	}
	return out, nil
}
