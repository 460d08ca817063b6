package lending

import (
	"errors"
	"testing"

	nativecommon "tranchelend/native/common"
)

func TestInitializeRejectsSecondCall(t *testing.T) {
	f := newFixture(t, 0, zeroInterest())
	err := f.engine.Initialize(Params{Owner: f.owner, Treasury: f.treasury, Interest: zeroInterest()})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected already exists, got %v", err)
	}
}

func TestInitializeValidatesParams(t *testing.T) {
	f := newFixture(t, 0, zeroInterest())
	other := NewEngine("other", f.pool, Collaborators{Asset: f.asset, Shares: f.shares, Factory: f.vaults, Vaults: f.vaults})
	other.SetState(NewStateStore(f.manager))
	if err := other.Initialize(Params{Owner: f.owner, Interest: zeroInterest()}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected invalid treasury, got %v", err)
	}
	bad := InterestRateConfig{LowSlope: u(2), HighSlope: u(1), UtilisationThreshold: 10}
	if err := other.Initialize(Params{Owner: f.owner, Treasury: f.treasury, Interest: bad}); !errors.Is(err, ErrInvalidInterestConfig) {
		t.Fatalf("expected invalid interest config, got %v", err)
	}
	if _, err := other.TotalAssets(); !errors.Is(err, ErrPoolNotInitialised) {
		t.Fatalf("failed initialisation must leave no pool, got %v", err)
	}
}

func TestTrancheRegistry(t *testing.T) {
	f := newFixture(t, 2, zeroInterest())
	f.addTranches(3, 1)

	if err := f.engine.AddTranche(f.owner, f.senior, 5); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected duplicate tranche rejection, got %v", err)
	}
	if err := f.engine.AddTranche(f.owner, f.treasury, 5); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("treasury cannot be a tranche, got %v", err)
	}
	if err := f.engine.AddTranche(f.senior, makeAddress(0x23), 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	total, err := f.engine.TotalWeight()
	if err != nil || total != 6 {
		t.Fatalf("expected total weight 6, got %d (%v)", total, err)
	}

	if err := f.engine.SetWeight(f.owner, 2, 1); !errors.Is(err, ErrNonexistentTranche) {
		t.Fatalf("expected nonexistent tranche, got %v", err)
	}
	if err := f.engine.SetWeight(f.owner, 0, 7); err != nil {
		t.Fatalf("set weight: %v", err)
	}
	tranches, err := f.engine.Tranches()
	if err != nil {
		t.Fatalf("tranches: %v", err)
	}
	if len(tranches) != 2 || tranches[0].Address != f.senior || tranches[0].Weight != 7 || tranches[1].Address != f.junior {
		t.Fatalf("unexpected registry %+v", tranches)
	}

	if err := f.engine.RemoveLastTranche(f.owner, 0, f.senior); !errors.Is(err, ErrNonexistentTranche) {
		t.Fatalf("only the last tranche can be removed, got %v", err)
	}
	if err := f.engine.RemoveLastTranche(f.owner, 1, f.senior); !errors.Is(err, ErrNonexistentTranche) {
		t.Fatalf("index and address must agree, got %v", err)
	}
	if err := f.engine.RemoveLastTranche(f.owner, 1, f.junior); err != nil {
		t.Fatalf("remove last: %v", err)
	}
	if tranches, _ = f.engine.Tranches(); len(tranches) != 1 {
		t.Fatalf("expected one tranche left, got %d", len(tranches))
	}
}

func TestOwnerConfiguration(t *testing.T) {
	f := newFixture(t, 1, zeroInterest())
	f.addTranches(1, 1)

	if err := f.engine.SetTreasury(f.owner, f.junior); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected tranche treasury rejection, got %v", err)
	}
	newTreasury := makeAddress(0x05)
	if err := f.engine.SetTreasury(f.owner, newTreasury); err != nil {
		t.Fatalf("set treasury: %v", err)
	}
	if got, _ := f.engine.Treasury(); got != newTreasury {
		t.Fatalf("treasury not updated")
	}
	if err := f.engine.SetFeeWeight(f.owner, 4); err != nil {
		t.Fatalf("set fee weight: %v", err)
	}
	if got, _ := f.engine.FeeWeight(); got != 4 {
		t.Fatalf("fee weight not updated, got %d", got)
	}
	if err := f.engine.SetDebtToken(f.owner, f.debt); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("debt token is set once, got %v", err)
	}

	newOwner := makeAddress(0x06)
	if err := f.engine.TransferOwnership(f.owner, newOwner); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}
	if err := f.engine.SetFeeWeight(f.owner, 1); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("previous owner must lose access, got %v", err)
	}
	if err := f.engine.SetFeeWeight(newOwner, 1); err != nil {
		t.Fatalf("new owner: %v", err)
	}
}

func TestSetInterestConfigRefreshesRate(t *testing.T) {
	f := newFixture(t, 0, zeroInterest())
	f.addTranches(1, 1)
	f.deposit(f.senior, 1000)
	if err := f.engine.TakeLoan(f.vaultOwner, u(500), f.vault, f.vaultOwner); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	util, err := f.engine.Utilisation()
	if err != nil || util != 50 {
		t.Fatalf("expected utilisation 50, got %d (%v)", util, err)
	}

	cfg := InterestRateConfig{BaseRate: u(0), LowSlope: u(10), HighSlope: u(10), UtilisationThreshold: 80}
	if err := f.engine.SetInterestConfig(f.vaultOwner, cfg); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := f.engine.SetInterestConfig(f.owner, InterestRateConfig{LowSlope: u(10), HighSlope: u(1)}); !errors.Is(err, ErrInvalidInterestConfig) {
		t.Fatalf("expected invalid config, got %v", err)
	}
	if err := f.engine.SetInterestConfig(f.owner, cfg); err != nil {
		t.Fatalf("set interest config: %v", err)
	}
	rate, err := f.engine.InterestRate()
	f.expectUint("rate", rate, err, 500)
}

func TestFirstDepositMintsOneToOne(t *testing.T) {
	f := newFixture(t, 0, zeroInterest())
	f.addTranches(1, 1)

	shares := f.deposit(f.senior, 1000)
	if shares.Uint64() != 1000 {
		t.Fatalf("expected 1000 shares, got %s", shares.Dec())
	}
	total, err := f.engine.TotalAssets()
	f.expectUint("total assets", total, err, 1000)
	maxWithdraw, err := f.engine.MaxWithdraw(f.senior)
	f.expectUint("max withdraw", maxWithdraw, err, 1000)
	maxRedeem, err := f.engine.MaxRedeem(f.senior)
	f.expectUint("max redeem", maxRedeem, err, 1000)
	if f.assetBalance(f.pool) != 1000 || f.assetBalance(f.senior) != 0 {
		t.Fatalf("assets not pulled into the pool")
	}
}

func TestDepositsAreTrackedPerTranche(t *testing.T) {
	f := newFixture(t, 0, zeroInterest())
	f.addTranches(1, 1)
	f.deposit(f.senior, 600)
	f.deposit(f.junior, 400)

	seniorClaim, err := f.engine.ClaimOf(f.senior)
	f.expectUint("senior claim", seniorClaim, err, 600)
	juniorClaim, err := f.engine.ClaimOf(f.junior)
	f.expectUint("junior claim", juniorClaim, err, 400)
	total, err := f.engine.TotalAssets()
	f.expectUint("total assets", total, err, 1000)
	idle, err := f.engine.IdleLiquidity()
	f.expectUint("idle", idle, err, 1000)
}

func TestWithdrawAndRedeem(t *testing.T) {
	f := newFixture(t, 0, zeroInterest())
	f.addTranches(1, 1)
	f.deposit(f.senior, 1000)

	burned, err := f.engine.Withdraw(f.senior, u(300), f.senior)
	f.expectUint("burned", burned, err, 300)
	maxWithdraw, err := f.engine.MaxWithdraw(f.senior)
	f.expectUint("max withdraw", maxWithdraw, err, 700)

	paid, err := f.engine.Redeem(f.senior, u(200), f.junior)
	f.expectUint("redeemed", paid, err, 200)
	if f.assetBalance(f.senior) != 300 || f.assetBalance(f.junior) != 200 {
		t.Fatalf("unexpected balances senior=%d junior=%d", f.assetBalance(f.senior), f.assetBalance(f.junior))
	}
	total, err := f.engine.TotalAssets()
	f.expectUint("total assets", total, err, 500)
}

func TestWithdrawLimitedByIdleLiquidity(t *testing.T) {
	f := newFixture(t, 0, zeroInterest())
	f.addTranches(1, 1)
	f.deposit(f.senior, 1000)
	if err := f.engine.TakeLoan(f.vaultOwner, u(600), f.vault, f.vaultOwner); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	maxWithdraw, err := f.engine.MaxWithdraw(f.senior)
	f.expectUint("max withdraw", maxWithdraw, err, 400)
	maxRedeem, err := f.engine.MaxRedeem(f.senior)
	f.expectUint("max redeem", maxRedeem, err, 400)

	if _, err := f.engine.Withdraw(f.senior, u(401), f.senior); !errors.Is(err, ErrExceedsMaxWithdraw) {
		t.Fatalf("expected exceeds max withdraw, got %v", err)
	}
	if _, err := f.engine.Redeem(f.senior, u(401), f.senior); !errors.Is(err, ErrExceedsMaxRedeem) {
		t.Fatalf("expected exceeds max redeem, got %v", err)
	}
	claim, err := f.engine.ClaimOf(f.senior)
	f.expectUint("claim", claim, err, 1000)
}

func TestDepositRejections(t *testing.T) {
	f := newFixture(t, 0, zeroInterest())
	f.addTranches(1, 1)
	stranger := makeAddress(0x99)
	f.fund(stranger, 100)

	if _, err := f.engine.Deposit(stranger, u(100), stranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized depositor, got %v", err)
	}
	f.fund(f.senior, 100)
	if _, err := f.engine.Deposit(f.senior, u(100), stranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized receiver, got %v", err)
	}
	if _, err := f.engine.Deposit(f.senior, u(0), f.senior); !errors.Is(err, ErrZeroShares) {
		t.Fatalf("expected zero shares, got %v", err)
	}
	if _, err := f.engine.Mint(f.senior, u(10), f.senior); !errors.Is(err, ErrMintUnsupported) {
		t.Fatalf("expected mint unsupported, got %v", err)
	}
	if _, err := f.engine.Withdraw(f.senior, u(0), f.senior); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if f.assetBalance(f.senior) != 100 {
		t.Fatalf("rejected deposits must not move assets")
	}
}

func TestDepositWithoutFundsRollsBack(t *testing.T) {
	f := newFixture(t, 0, zeroInterest())
	f.addTranches(1, 1)
	if _, err := f.engine.Deposit(f.senior, u(100), f.senior); err == nil {
		t.Fatalf("expected failed pull")
	}
	supply, err := f.shares.TotalSupply()
	f.expectUint("share supply", supply, err, 0)
	idle, err := f.engine.IdleLiquidity()
	f.expectUint("idle", idle, err, 0)
}

func TestPausedActions(t *testing.T) {
	f := newFixture(t, 0, zeroInterest())
	f.addTranches(1, 1)
	f.deposit(f.senior, 1000)

	pauses := nativecommon.NewPauses(nativecommon.Action(moduleName, "withdraw"))
	f.engine.SetPauses(pauses)
	if _, err := f.engine.Withdraw(f.senior, u(1), f.senior); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused withdraw, got %v", err)
	}
	if _, err := f.engine.Redeem(f.senior, u(1), f.senior); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused redeem, got %v", err)
	}
	f.fund(f.senior, 10)
	if _, err := f.engine.Deposit(f.senior, u(10), f.senior); err != nil {
		t.Fatalf("deposit must stay open: %v", err)
	}

	pauses.Set(moduleName, true)
	if err := f.engine.TakeLoan(f.vaultOwner, u(1), f.vault, f.vaultOwner); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected module pause to block borrowing, got %v", err)
	}
}

func TestInterestSharesFollowWeights(t *testing.T) {
	f := newFixture(t, 1, fullRate())
	f.addTranches(3, 1)
	f.deposit(f.senior, 600)
	f.deposit(f.junior, 400)
	if err := f.engine.TakeLoan(f.vaultOwner, u(500), f.vault, f.vaultOwner); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	f.advance(SecondsPerYear)

	total, err := f.engine.TotalAssets()
	f.expectUint("projected total", total, err, 1500)
	seniorClaim, err := f.engine.ClaimOf(f.senior)
	f.expectUint("senior claim", seniorClaim, err, 900)
	juniorClaim, err := f.engine.ClaimOf(f.junior)
	f.expectUint("junior claim", juniorClaim, err, 500)
	treasuryClaim, err := f.engine.ClaimOf(f.treasury)
	f.expectUint("treasury claim", treasuryClaim, err, 100)

	// Views do not write; the shares are minted on the next sync.
	minted, err := f.shares.BalanceOf(f.treasury)
	f.expectUint("treasury shares before sync", minted, err, 0)
	if err := f.engine.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
	minted, err = f.shares.BalanceOf(f.treasury)
	f.expectUint("treasury shares after sync", minted, err, 100)
	pool, err := f.engine.PoolRecord()
	if err != nil {
		t.Fatalf("pool record: %v", err)
	}
	if pool.LastSyncedAt != startTime+SecondsPerYear || pool.TotalDebt.Uint64() != 1000 {
		t.Fatalf("unexpected pool after sync: synced=%d debt=%s", pool.LastSyncedAt, pool.TotalDebt.Dec())
	}
}

func TestInterestWithoutWeightGoesToTreasury(t *testing.T) {
	f := newFixture(t, 0, fullRate())
	f.addTranches(0, 0)
	f.deposit(f.senior, 1000)
	if err := f.engine.TakeLoan(f.vaultOwner, u(100), f.vault, f.vaultOwner); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	f.advance(SecondsPerYear)
	treasuryClaim, err := f.engine.ClaimOf(f.treasury)
	f.expectUint("treasury claim", treasuryClaim, err, 100)
	seniorClaim, err := f.engine.ClaimOf(f.senior)
	f.expectUint("senior claim", seniorClaim, err, 1000)
}

func TestConversionsIncludePendingInterest(t *testing.T) {
	f := newFixture(t, 0, fullRate())
	f.addTranches(1, 1)

	shares, err := f.engine.ConvertToShares(u(400))
	f.expectUint("empty pool shares", shares, err, 400)

	f.deposit(f.senior, 1000)
	if err := f.engine.TakeLoan(f.vaultOwner, u(500), f.vault, f.vaultOwner); err != nil {
		t.Fatalf("take loan: %v", err)
	}
	f.advance(SecondsPerYear)

	// A year at 100% on 500 mints 500 shares at the unchanged price.
	assets, err := f.engine.ConvertToAssets(u(1500))
	f.expectUint("assets for projected supply", assets, err, 1500)
	shares, err = f.engine.ConvertToShares(u(300))
	f.expectUint("shares for 300", shares, err, 300)
	total, err := f.engine.TotalAssets()
	f.expectUint("total assets", total, err, 1500)
}
