package lending

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "tranchelend/native/common"
	"tranchelend/observability/metrics"
)

const moduleName = "lending"

// AssetToken is the single asset the pool lends out.
type AssetToken interface {
	Transfer(from, to common.Address, amount *uint256.Int) error
	TransferFrom(spender, from, to common.Address, amount *uint256.Int) error
	BalanceOf(addr common.Address) (*uint256.Int, error)
}

// ShareToken is a fungible share ledger the pool mints and burns.
type ShareToken interface {
	Mint(to common.Address, amount *uint256.Int) error
	Burn(from common.Address, amount *uint256.Int) error
	BalanceOf(addr common.Address) (*uint256.Int, error)
	TotalSupply() (*uint256.Int, error)
}

// Vault reports the value of the collateral it holds.
type Vault interface {
	CollateralValue() (*uint256.Int, error)
}

// VaultFactory identifies vaults and their owners.
type VaultFactory interface {
	IsVault(addr common.Address) bool
	OwnerOf(vault common.Address) (common.Address, error)
}

// VaultLookup resolves a vault address to its collateral view.
type VaultLookup interface {
	LookupVault(vault common.Address) (Vault, error)
}

// Liquidator sells the collateral of undercollateralised vaults.
type Liquidator interface {
	StartAuction(vault common.Address, openDebt *uint256.Int) error
}

// Collaborators groups the external contracts a pool is deployed against.
// Asset and Factory are fixed for the life of the pool.
type Collaborators struct {
	Asset   AssetToken
	Shares  ShareToken
	Factory VaultFactory
	Vaults  VaultLookup
}

// Params describes a pool at initialisation.
type Params struct {
	Owner     common.Address
	Treasury  common.Address
	FeeWeight uint64
	Interest  InterestRateConfig
}

// Engine orchestrates the state transitions of a single tranche lending pool.
// It is not safe for concurrent use; callers serialise access. No lock is
// held, so collaborators may re-enter the engine from the same goroutine and
// observe the state persisted before the external call.
type Engine struct {
	poolID         string
	address        common.Address
	state          engineState
	asset          AssetToken
	shares         ShareToken
	debt           ShareToken
	factory        VaultFactory
	vaults         VaultLookup
	liquidator     Liquidator
	liquidatorAddr common.Address
	pauses         nativecommon.PauseView
	now            uint64
	logger         *slog.Logger
	metrics        *metrics.LendingMetrics
}

// NewEngine constructs the engine for poolID. address is the account that
// holds the pool's assets in the asset token.
func NewEngine(poolID string, address common.Address, c Collaborators) *Engine {
	return &Engine{
		poolID:  strings.TrimSpace(poolID),
		address: address,
		asset:   c.Asset,
		shares:  c.Shares,
		factory: c.Factory,
		vaults:  c.Vaults,
		logger:  slog.Default(),
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetLogger replaces the default slog logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger
}

// SetMetrics enables metric reporting. A nil registry disables it.
func (e *Engine) SetMetrics(m *metrics.LendingMetrics) {
	if e == nil {
		return
	}
	e.metrics = m
}

// SetBlockTime records the unix timestamp used when computing accrual deltas.
func (e *Engine) SetBlockTime(ts uint64) {
	if e == nil {
		return
	}
	e.now = ts
}

// BlockTime returns the clock the engine accrues against.
func (e *Engine) BlockTime() uint64 {
	if e == nil {
		return 0
	}
	return e.now
}

// PoolID returns the pool identifier.
func (e *Engine) PoolID() string {
	if e == nil {
		return ""
	}
	return e.poolID
}

// Address returns the account holding the pool's assets.
func (e *Engine) Address() common.Address {
	if e == nil {
		return common.Address{}
	}
	return e.address
}

// Initialize creates the pool record. It fails with ErrAlreadyExists when the
// pool has already been set up.
func (e *Engine) Initialize(p Params) error {
	return e.atomic("initialize", func() error {
		if e.poolID == "" {
			return fmt.Errorf("lending engine: pool identifier not configured")
		}
		existing, err := e.state.GetPool(e.poolID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyExists
		}
		if p.Owner == (common.Address{}) || p.Treasury == (common.Address{}) {
			return ErrInvalidAddress
		}
		if err := ValidateInterestConfig(p.Interest); err != nil {
			return err
		}
		pool := &Pool{
			Owner:        p.Owner,
			Treasury:     p.Treasury,
			FeeWeight:    p.FeeWeight,
			Interest:     p.Interest.Clone(),
			LastSyncedAt: e.now,
		}
		pool.ensureDefaults()
		pool, err = e.store(pool)
		if err != nil {
			return err
		}
		e.logger.Info("lending pool initialised",
			slog.String("pool", e.poolID),
			slog.String("owner", pool.Owner.Hex()),
			slog.String("treasury", pool.Treasury.Hex()),
			slog.Uint64("feeWeight", pool.FeeWeight))
		return nil
	})
}

// atomic runs fn inside a state snapshot that is reverted when fn fails, and
// reports the outcome.
func (e *Engine) atomic(operation string, fn func() error) (err error) {
	if e == nil || e.state == nil {
		return errNilState
	}
	started := time.Now()
	snapshot := e.state.Snapshot()
	defer func() {
		if err != nil {
			e.state.RevertToSnapshot(snapshot)
		}
		e.metrics.ObserveOperation(e.poolID, operation, err, time.Since(started))
	}()
	return fn()
}

func (e *Engine) guard(action string) error {
	return nativecommon.Guard(e.pauses, moduleName, action)
}

func (e *Engine) loadPool() (*Pool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, err := e.state.GetPool(e.poolID)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrPoolNotInitialised
	}
	pool.ensureDefaults()
	return pool, nil
}

// accrual is the pending interest of a pool and the tranche shares that
// distribute it.
type accrual struct {
	interest *uint256.Int
	mints    []Allocation
	supply   *uint256.Int
}

func (a *accrual) minted(addr common.Address) *uint256.Int {
	out := new(uint256.Int)
	for _, m := range a.mints {
		if m.Recipient == addr {
			out.Add(out, m.Amount)
		}
	}
	return out
}

// accrue brings pool up to the engine clock in memory: interest at the stored
// rate is added to the debt and converted into share mints at the pre-accrual
// share price, which leaves the price unchanged once minted.
func (e *Engine) accrue(pool *Pool) (*accrual, error) {
	supply, err := e.shares.TotalSupply()
	if err != nil {
		return nil, err
	}
	acc := &accrual{interest: new(uint256.Int), supply: supply.Clone()}
	if e.now <= pool.LastSyncedAt {
		return acc, nil
	}
	elapsed := e.now - pool.LastSyncedAt
	pool.LastSyncedAt = e.now

	interest, err := ComputeInterest(pool.TotalDebt, pool.InterestRate, elapsed)
	if err != nil {
		return nil, err
	}
	if interest.IsZero() {
		return acc, nil
	}
	before := pool.TotalAssets()
	debt, overflow := new(uint256.Int).AddOverflow(pool.TotalDebt, interest)
	if overflow {
		return nil, ErrRateOverflow
	}
	pool.TotalDebt = debt
	acc.interest = interest

	split, err := DistributeInterest(interest, pool.Tranches, pool.FeeWeight)
	if err != nil {
		return nil, err
	}
	allocations := append(append([]Allocation(nil), split.Tranches...), Allocation{Recipient: pool.Treasury, Amount: split.Treasury})
	for _, alloc := range allocations {
		if alloc.Amount.IsZero() {
			continue
		}
		shares := alloc.Amount.Clone()
		if !supply.IsZero() && !before.IsZero() {
			if shares, err = mulDiv(alloc.Amount, supply, before); err != nil {
				return nil, err
			}
		}
		if shares.IsZero() {
			continue
		}
		acc.mints = append(acc.mints, Allocation{Recipient: alloc.Recipient, Amount: shares})
		acc.supply.Add(acc.supply, shares)
	}
	return acc, nil
}

// sync loads the pool, accrues pending interest and mints the waterfall
// shares. Every mutating entry point runs it first.
func (e *Engine) sync() (*Pool, error) {
	pool, err := e.loadPool()
	if err != nil {
		return nil, err
	}
	acc, err := e.accrue(pool)
	if err != nil {
		return nil, err
	}
	for _, m := range acc.mints {
		if err := e.shares.Mint(m.Recipient, m.Amount); err != nil {
			return nil, fmt.Errorf("lending engine: mint interest shares: %w", err)
		}
	}
	if !acc.interest.IsZero() {
		e.metrics.AddInterest(e.poolID, acc.interest)
	}
	return e.store(pool)
}

// project returns the pool as a sync at the current clock would leave it,
// without writing anything.
func (e *Engine) project() (*Pool, *accrual, error) {
	pool, err := e.loadPool()
	if err != nil {
		return nil, nil, err
	}
	acc, err := e.accrue(pool)
	if err != nil {
		return nil, nil, err
	}
	return pool, acc, nil
}

// store refreshes the interest rate for the next period from the current
// utilisation and persists the pool.
func (e *Engine) store(pool *Pool) (*Pool, error) {
	rate, err := CalculateInterestRate(pool.Interest, Utilisation(pool.TotalDebt, pool.TotalAssets()))
	if err != nil {
		return nil, err
	}
	pool.InterestRate = rate
	if err := e.state.PutPool(e.poolID, pool); err != nil {
		return nil, err
	}
	return pool, nil
}

func (e *Engine) report(pool *Pool) {
	if e.metrics == nil || pool == nil {
		return
	}
	total := pool.TotalAssets()
	e.metrics.ObservePool(e.poolID, total, pool.TotalDebt, pool.IdleLiquidity, Utilisation(pool.TotalDebt, total), pool.InterestRate)
}

func (e *Engine) requireOwner(pool *Pool, caller common.Address) error {
	if caller != pool.Owner {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) shareBalance(addr common.Address) (*uint256.Int, error) {
	return e.shares.BalanceOf(addr)
}

func (e *Engine) debtBalance(vault common.Address) (*uint256.Int, *uint256.Int, error) {
	if e.debt == nil {
		return nil, nil, ErrDebtTokenNotSet
	}
	balance, err := e.debt.BalanceOf(vault)
	if err != nil {
		return nil, nil, err
	}
	supply, err := e.debt.TotalSupply()
	if err != nil {
		return nil, nil, err
	}
	return balance, supply, nil
}

func (e *Engine) debtOf(pool *Pool, vault common.Address) (*uint256.Int, error) {
	if e.debt == nil {
		return new(uint256.Int), nil
	}
	balance, supply, err := e.debtBalance(vault)
	if err != nil {
		return nil, err
	}
	return debtFor(balance, supply, pool.TotalDebt)
}

func (e *Engine) collateralOf(vault common.Address) (*uint256.Int, error) {
	if e.vaults == nil {
		return nil, ErrNotAVault
	}
	v, err := e.vaults.LookupVault(vault)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotAVault, err)
	}
	value, err := v.CollateralValue()
	if err != nil {
		return nil, err
	}
	return cloneOrZero(value), nil
}

// vaultOwner checks the factory recognises vault and returns its owner.
func (e *Engine) vaultOwner(vault common.Address) (common.Address, error) {
	if e.factory == nil || !e.factory.IsVault(vault) {
		return common.Address{}, ErrNotAVault
	}
	owner, err := e.factory.OwnerOf(vault)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", ErrNotAVault, err)
	}
	return owner, nil
}
