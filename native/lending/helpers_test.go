package lending

import (
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tranchelend/core/state"
	"tranchelend/native/token"
	"tranchelend/storage"
)

const startTime = 1_700_000_000

func makeAddress(suffix byte) common.Address {
	var addr common.Address
	addr[len(addr)-1] = suffix
	return addr
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

type mockVaults struct {
	owners  map[common.Address]common.Address
	values  map[common.Address]*uint256.Int
	onValue func(vault common.Address)
}

func newMockVaults() *mockVaults {
	return &mockVaults{
		owners: make(map[common.Address]common.Address),
		values: make(map[common.Address]*uint256.Int),
	}
}

func (m *mockVaults) add(vault, owner common.Address, collateral uint64) {
	m.owners[vault] = owner
	m.values[vault] = u(collateral)
}

func (m *mockVaults) IsVault(addr common.Address) bool {
	_, ok := m.owners[addr]
	return ok
}

func (m *mockVaults) OwnerOf(vault common.Address) (common.Address, error) {
	owner, ok := m.owners[vault]
	if !ok {
		return common.Address{}, fmt.Errorf("unknown vault %s", vault.Hex())
	}
	return owner, nil
}

func (m *mockVaults) LookupVault(vault common.Address) (Vault, error) {
	if !m.IsVault(vault) {
		return nil, fmt.Errorf("unknown vault %s", vault.Hex())
	}
	return mockVault{parent: m, addr: vault}, nil
}

type mockVault struct {
	parent *mockVaults
	addr   common.Address
}

func (v mockVault) CollateralValue() (*uint256.Int, error) {
	if v.parent.onValue != nil {
		v.parent.onValue(v.addr)
	}
	return v.parent.values[v.addr].Clone(), nil
}

type auctionCall struct {
	vault    common.Address
	openDebt *uint256.Int
}

type mockLiquidator struct {
	calls []auctionCall
	err   error
}

func (m *mockLiquidator) StartAuction(vault common.Address, openDebt *uint256.Int) error {
	if m.err != nil {
		return m.err
	}
	m.calls = append(m.calls, auctionCall{vault: vault, openDebt: openDebt.Clone()})
	return nil
}

// hookedAsset lets tests observe or fail outbound asset transfers.
type hookedAsset struct {
	*token.Ledger
	onTransfer func(to common.Address, amount *uint256.Int) error
}

func (h *hookedAsset) Transfer(from, to common.Address, amount *uint256.Int) error {
	if h.onTransfer != nil {
		if err := h.onTransfer(to, amount); err != nil {
			return err
		}
	}
	return h.Ledger.Transfer(from, to, amount)
}

type fixture struct {
	t          *testing.T
	manager    *state.Manager
	engine     *Engine
	asset      *hookedAsset
	shares     *token.Ledger
	debt       *token.Ledger
	vaults     *mockVaults
	liquidator *mockLiquidator

	pool, owner, treasury, liquidatorAddr common.Address
	senior, junior                        common.Address
	vault, vaultOwner, beneficiary        common.Address
}

func zeroInterest() InterestRateConfig {
	return InterestRateConfig{BaseRate: u(0), LowSlope: u(0), HighSlope: u(0)}
}

// fullRate charges 100% a year regardless of utilisation.
func fullRate() InterestRateConfig {
	return InterestRateConfig{BaseRate: RateScale.Clone(), LowSlope: u(0), HighSlope: u(0)}
}

func newFixture(t *testing.T, feeWeight uint64, interest InterestRateConfig) *fixture {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	mustLedger := func(symbol string) *token.Ledger {
		l, err := token.NewLedger(symbol, mgr)
		if err != nil {
			t.Fatalf("ledger %s: %v", symbol, err)
		}
		return l
	}
	f := &fixture{
		t:              t,
		manager:        mgr,
		asset:          &hookedAsset{Ledger: mustLedger("USDC")},
		shares:         mustLedger("TLP"),
		debt:           mustLedger("DEBT"),
		vaults:         newMockVaults(),
		liquidator:     &mockLiquidator{},
		pool:           makeAddress(0x01),
		owner:          makeAddress(0x02),
		treasury:       makeAddress(0x03),
		liquidatorAddr: makeAddress(0x04),
		senior:         makeAddress(0x21),
		junior:         makeAddress(0x22),
		vault:          makeAddress(0x31),
		vaultOwner:     makeAddress(0x41),
		beneficiary:    makeAddress(0x42),
	}
	f.vaults.add(f.vault, f.vaultOwner, 1_000_000)

	f.engine = NewEngine("main", f.pool, Collaborators{
		Asset:   f.asset,
		Shares:  f.shares,
		Factory: f.vaults,
		Vaults:  f.vaults,
	})
	f.engine.SetState(NewStateStore(mgr))
	f.engine.SetBlockTime(startTime)
	if err := f.engine.Initialize(Params{Owner: f.owner, Treasury: f.treasury, FeeWeight: feeWeight, Interest: interest}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := f.engine.SetDebtToken(f.owner, f.debt); err != nil {
		t.Fatalf("set debt token: %v", err)
	}
	if err := f.engine.SetLiquidator(f.owner, f.liquidatorAddr, f.liquidator); err != nil {
		t.Fatalf("set liquidator: %v", err)
	}
	return f
}

func (f *fixture) addTranches(seniorWeight, juniorWeight uint64) {
	f.t.Helper()
	if err := f.engine.AddTranche(f.owner, f.senior, seniorWeight); err != nil {
		f.t.Fatalf("add senior: %v", err)
	}
	if err := f.engine.AddTranche(f.owner, f.junior, juniorWeight); err != nil {
		f.t.Fatalf("add junior: %v", err)
	}
}

// fund gives addr assets and lets the pool pull them.
func (f *fixture) fund(addr common.Address, amount uint64) {
	f.t.Helper()
	if err := f.asset.Mint(addr, u(amount)); err != nil {
		f.t.Fatalf("mint asset: %v", err)
	}
	if err := f.asset.Approve(addr, f.pool, token.Unlimited); err != nil {
		f.t.Fatalf("approve pool: %v", err)
	}
}

func (f *fixture) deposit(tranche common.Address, amount uint64) *uint256.Int {
	f.t.Helper()
	f.fund(tranche, amount)
	shares, err := f.engine.Deposit(tranche, u(amount), tranche)
	if err != nil {
		f.t.Fatalf("deposit %d: %v", amount, err)
	}
	return shares
}

func (f *fixture) advance(seconds uint64) {
	f.engine.SetBlockTime(f.engine.BlockTime() + seconds)
}

func (f *fixture) expectUint(label string, got *uint256.Int, err error, want uint64) {
	f.t.Helper()
	if err != nil {
		f.t.Fatalf("%s: %v", label, err)
	}
	if !got.Eq(u(want)) {
		f.t.Fatalf("%s: got %s want %d", label, got.Dec(), want)
	}
}

func (f *fixture) assetBalance(addr common.Address) uint64 {
	f.t.Helper()
	bal, err := f.asset.BalanceOf(addr)
	if err != nil {
		f.t.Fatalf("asset balance: %v", err)
	}
	return bal.Uint64()
}
