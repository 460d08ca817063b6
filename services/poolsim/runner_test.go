package poolsim

import (
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"tranchelend/config"
	"tranchelend/crypto"
	"tranchelend/native/lending"
	"tranchelend/storage"
)

const liquidationScenario = `
name: junior-first-loss
start: 1700000000
balances:
  tranche:0: "600"
  tranche:1: "400"
  liquidator: "200"
vaults:
  - name: alice-vault
    owner: alice
    collateral: "600"
steps:
  - action: deposit
    actor: tranche:0
    amount: "600"
  - action: deposit
    actor: tranche:1
    amount: "400"
    expect:
      tranche:0: "600"
      tranche:1: "400"
  - action: borrow
    actor: alice
    vault: alice-vault
    amount: "500"
  - action: liquidate
    vault: alice-vault
    expectError: not eligible
  - action: collateral
    vault: alice-vault
    amount: "400"
  - action: borrow
    actor: alice
    vault: alice-vault
    amount: "1"
    expectError: insufficient collateral
  - action: liquidate
    vault: alice-vault
  - action: borrow
    actor: alice
    vault: alice-vault
    amount: "1"
    expectError: in liquidation
  - action: settle
    vault: alice-vault
    amount: "200"
    expect:
      tranche:0: "600"
      tranche:1: "100"
report:
  - tranche:0
  - tranche:1
  - alice
`

func testConfig(backend, dir string) *config.Config {
	cfg := config.Default()
	cfg.Backend = backend
	cfg.DataDir = dir
	cfg.Pool.FeeWeight = 0
	cfg.Pool.Interest = lending.InterestConfig{BaseRate: "0", LowSlope: "0", HighSlope: "0"}
	cfg.Pool.Tranches = []config.Tranche{
		{Address: "0x00000000000000000000000000000000000000b1", Weight: 3},
		{Address: "0x00000000000000000000000000000000000000b2", Weight: 1},
	}
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestRunnerLiquidationScenario(t *testing.T) {
	node, err := NewNode(testConfig(storage.BackendMemory, ""), Options{Logger: quietLogger()})
	require.NoError(t, err)
	defer node.Close()

	sc, err := ParseScenario([]byte(liquidationScenario))
	require.NoError(t, err)

	summary, err := NewRunner(node, quietLogger()).Run(context.Background(), sc)
	require.NoError(t, err)
	require.NotEmpty(t, summary.RunID)
	require.Len(t, summary.Steps, len(sc.Steps))
	require.Equal(t, "openDebt=500", summary.Steps[6].Result)
	require.Equal(t, "loss=300", summary.Steps[8].Result)
	require.Equal(t, "700", summary.Final.TotalAssets)
	require.Equal(t, "0", summary.Final.TotalDebt)
	require.Equal(t, map[string]string{"tranche:0": "600", "tranche:1": "100", "alice": "0"}, summary.Claims)
	require.Len(t, summary.Digest, 64)

	_, open := node.Auctions.Open(crypto.DeriveAddress("vault/alice-vault"))
	require.False(t, open)
	require.Equal(t, uint64(1), node.Auctions.Started())
}

func TestRunnerStopsOnUnexpectedOutcome(t *testing.T) {
	node, err := NewNode(testConfig(storage.BackendMemory, ""), Options{Logger: quietLogger()})
	require.NoError(t, err)
	defer node.Close()

	sc, err := ParseScenario([]byte(`
name: unfunded
steps:
  - action: deposit
    actor: tranche:0
    amount: "100"
  - action: advance
    seconds: 10
`))
	require.NoError(t, err)
	summary, err := NewRunner(node, quietLogger()).Run(context.Background(), sc)
	require.ErrorContains(t, err, "step 0 (deposit)")
	require.Len(t, summary.Steps, 1)
	require.NotEmpty(t, summary.Steps[0].Error)

	sc, err = ParseScenario([]byte(`
name: wrong-expectation
steps:
  - action: advance
    seconds: 10
    expectError: anything
`))
	require.NoError(t, err)
	_, err = NewRunner(node, quietLogger()).Run(context.Background(), sc)
	require.ErrorContains(t, err, "expected error")
}

func TestRunnerHonoursPauses(t *testing.T) {
	node, err := NewNode(testConfig(storage.BackendMemory, ""), Options{Logger: quietLogger()})
	require.NoError(t, err)
	defer node.Close()

	sc, err := ParseScenario([]byte(`
balances:
  tranche:0: "100"
steps:
  - action: pause
    key: lending.deposit
  - action: deposit
    actor: tranche:0
    amount: "100"
    expectError: paused
  - action: unpause
    key: lending.deposit
  - action: deposit
    actor: tranche:0
    amount: "100"
    expect:
      tranche:0: "100"
`))
	require.NoError(t, err)
	_, err = NewRunner(node, quietLogger()).Run(context.Background(), sc)
	require.NoError(t, err)
}

func TestNodeReloadsPersistedPool(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig(storage.BackendBolt, dir)

	node, err := NewNode(cfg, Options{Logger: quietLogger(), Start: 1_700_000_000})
	require.NoError(t, err)
	sc, err := ParseScenario([]byte(`
balances:
  tranche:1: "250"
steps:
  - action: deposit
    actor: tranche:1
    amount: "250"
`))
	require.NoError(t, err)
	first, err := NewRunner(node, quietLogger()).Run(context.Background(), sc)
	require.NoError(t, err)
	node.Close()

	reopened, err := NewNode(cfg, Options{Logger: quietLogger()})
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, uint64(1_700_000_000), reopened.Engine.BlockTime())

	total, err := reopened.Engine.TotalAssets()
	require.NoError(t, err)
	require.Equal(t, "250", total.Dec())
	tranches, err := reopened.Engine.Tranches()
	require.NoError(t, err)
	require.Len(t, tranches, 2)

	digest, err := reopened.State.Digest()
	require.NoError(t, err)
	require.Equal(t, first.Digest, hex.EncodeToString(digest))
}

func TestParseScenarioRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown field":  "steps:\n  - action: sync\n    colour: red\n",
		"unknown action": "steps:\n  - action: teleport\n",
		"unknown vault":  "steps:\n  - action: borrow\n    vault: nope\n    amount: \"1\"\n",
		"bad amount":     "steps:\n  - action: deposit\n    amount: \"-5\"\n",
		"no seconds":     "steps:\n  - action: advance\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseScenario([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestRunnerRejectsUnvalidatedAmounts(t *testing.T) {
	node, err := NewNode(testConfig(storage.BackendMemory, ""), Options{Logger: quietLogger()})
	require.NoError(t, err)
	defer node.Close()

	runner := NewRunner(node, quietLogger())
	_, err = runner.Run(context.Background(), &Scenario{
		Vaults: []VaultSpec{{Name: "v", Owner: "alice", Collateral: "lots"}},
	})
	require.ErrorContains(t, err, "vault v")

	_, err = runner.Run(context.Background(), &Scenario{
		Balances: map[string]string{"tranche:0": "-1"},
	})
	require.ErrorContains(t, err, "fund tranche:0")

	_, err = runner.Run(context.Background(), &Scenario{
		Steps: []Step{{Action: ActionSync, Expect: map[string]string{"tranche:0": "many"}}},
	})
	require.ErrorContains(t, err, "expect tranche:0")
}
