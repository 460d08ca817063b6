package poolsim

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"tranchelend/crypto"
	"tranchelend/native/token"
)

// Summary is the JSON report of a run.
type Summary struct {
	RunID    string            `json:"runId"`
	Scenario string            `json:"scenario"`
	Pool     string            `json:"pool"`
	Steps    []StepResult      `json:"steps"`
	Final    PoolTotals        `json:"final"`
	Claims   map[string]string `json:"claims"`
	Digest   string            `json:"stateDigest"`
}

type StepResult struct {
	Index     int    `json:"index"`
	Action    string `json:"action"`
	BlockTime uint64 `json:"blockTime"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

type PoolTotals struct {
	TotalAssets   string `json:"totalAssets"`
	TotalDebt     string `json:"totalDebt"`
	IdleLiquidity string `json:"idleLiquidity"`
	InterestRate  string `json:"interestRate"`
	Utilisation   uint64 `json:"utilisation"`
}

// Runner drives a node through scenarios. Each successful step is committed
// to storage before the next one runs.
type Runner struct {
	node   *Node
	logger *slog.Logger
}

func NewRunner(node *Node, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{node: node, logger: logger}
}

// Run executes sc. A step that fails when no error was expected, or succeeds
// when one was, stops the run; the partial summary is returned alongside the
// error.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Summary, error) {
	if sc == nil {
		return nil, fmt.Errorf("poolsim: scenario required")
	}
	runID := uuid.NewString()
	logger := r.logger.With(slog.String("runId", runID), slog.String("scenario", sc.Name))
	summary := &Summary{RunID: runID, Scenario: sc.Name, Pool: r.node.Pool.ID, Claims: map[string]string{}}

	engine := r.node.Engine
	if sc.Start > engine.BlockTime() {
		engine.SetBlockTime(sc.Start)
	}
	people, err := r.setup(sc)
	if err != nil {
		return summary, err
	}
	logger.Info("scenario started", slog.Int("steps", len(sc.Steps)))

	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		result, stepErr := r.apply(step, people)
		if stepErr == nil {
			stepErr = r.check(step, people)
		}
		entry := StepResult{Index: i, Action: step.Action, BlockTime: engine.BlockTime(), Result: result}
		if stepErr != nil {
			entry.Error = stepErr.Error()
		}
		summary.Steps = append(summary.Steps, entry)

		if err := expectOutcome(step, stepErr); err != nil {
			logger.Error("scenario step failed", slog.Int("step", i), slog.String("action", step.Action), slog.Any("error", err))
			return summary, fmt.Errorf("step %d (%s): %w", i, step.Action, err)
		}
		if err := r.node.Commit(); err != nil {
			return summary, fmt.Errorf("step %d (%s): commit: %w", i, step.Action, err)
		}
		logger.Debug("scenario step", slog.Int("step", i), slog.String("action", step.Action), slog.String("result", result), slog.String("error", entry.Error))
	}

	if err := r.finish(summary, sc, people); err != nil {
		return summary, err
	}
	logger.Info("scenario finished",
		slog.String("totalAssets", summary.Final.TotalAssets),
		slog.String("totalDebt", summary.Final.TotalDebt),
		slog.String("digest", summary.Digest))
	return summary, nil
}

func expectOutcome(step Step, err error) error {
	want := strings.TrimSpace(step.ExpectError)
	switch {
	case want == "" && err != nil:
		return err
	case want != "" && err == nil:
		return fmt.Errorf("expected error containing %q", want)
	case want != "" && !strings.Contains(strings.ToLower(err.Error()), strings.ToLower(want)):
		return fmt.Errorf("expected error containing %q, got %w", want, err)
	}
	return nil
}

func (r *Runner) setup(sc *Scenario) (*participants, error) {
	pool := r.node.Pool
	roles := &nodeRoles{
		owner:      pool.Params.Owner,
		treasury:   pool.Params.Treasury,
		liquidator: pool.Liquidator,
		pool:       pool.Address,
	}
	for _, tr := range pool.Tranches {
		roles.tranches = append(roles.tranches, tr.Address)
	}
	people := &participants{pool: roles, vaults: map[string]common.Address{}, seen: map[string]common.Address{}}

	for _, spec := range sc.Vaults {
		owner, err := people.resolve(spec.Owner)
		if err != nil {
			return nil, fmt.Errorf("vault %s: %w", spec.Name, err)
		}
		collateral, err := parseAmount(spec.Collateral)
		if err != nil {
			return nil, fmt.Errorf("vault %s: %w", spec.Name, err)
		}
		addr := crypto.DeriveAddress("vault/" + spec.Name)
		if _, err := r.node.Vaults.Create(addr, owner, collateral); err != nil {
			return nil, err
		}
		people.vaults[spec.Name] = addr
	}

	holders := make([]string, 0, len(sc.Balances))
	for who := range sc.Balances {
		holders = append(holders, who)
	}
	sort.Strings(holders)
	for _, who := range holders {
		addr, err := people.resolve(who)
		if err != nil {
			return nil, err
		}
		amount, err := parseAmount(sc.Balances[who])
		if err != nil {
			return nil, fmt.Errorf("fund %s: %w", who, err)
		}
		if err := r.node.Asset.Mint(addr, amount); err != nil {
			return nil, fmt.Errorf("fund %s: %w", who, err)
		}
		if err := r.node.Asset.Approve(addr, pool.Address, token.Unlimited); err != nil {
			return nil, fmt.Errorf("approve %s: %w", who, err)
		}
	}
	return people, r.node.Commit()
}

func (r *Runner) apply(step Step, people *participants) (string, error) {
	engine := r.node.Engine
	actor := func(fallback string) (common.Address, error) {
		if strings.TrimSpace(step.Actor) == "" {
			return people.resolve(fallback)
		}
		return people.resolve(step.Actor)
	}
	recipient := func(self common.Address) (common.Address, error) {
		if strings.TrimSpace(step.To) == "" {
			return self, nil
		}
		return people.resolve(step.To)
	}
	// Empty for actions that take no amount; validate covers the rest.
	amount, _ := parseAmount(step.Amount)
	vaultAddr := people.vaults[step.Vault]

	switch step.Action {
	case ActionAdvance:
		engine.SetBlockTime(engine.BlockTime() + step.Seconds)
		return fmt.Sprintf("time=%d", engine.BlockTime()), nil
	case ActionSync:
		return "", engine.Sync()
	case ActionPause, ActionUnpause:
		r.node.Pauses.Set(step.Key, step.Action == ActionPause)
		return step.Key, nil
	case ActionCollateral:
		v, err := r.node.Vaults.Get(vaultAddr)
		if err != nil {
			return "", err
		}
		v.SetCollateralValue(amount)
		return "collateral=" + amount.Dec(), nil
	case ActionSetInterest:
		caller, err := actor("owner")
		if err != nil {
			return "", err
		}
		cfg, err := step.Interest.Parse()
		if err != nil {
			return "", err
		}
		if err := engine.SetInterestConfig(caller, cfg); err != nil {
			return "", err
		}
		rate, err := engine.InterestRate()
		if err != nil {
			return "", err
		}
		return "rate=" + rate.Dec(), nil
	case ActionSettle:
		return r.settle(vaultAddr, amount)
	}

	caller, err := actor("keeper")
	if err != nil {
		return "", err
	}
	to, err := recipient(caller)
	if err != nil {
		return "", err
	}
	switch step.Action {
	case ActionDeposit:
		shares, err := engine.Deposit(caller, amount, to)
		return amountResult("shares", shares), err
	case ActionWithdraw:
		shares, err := engine.Withdraw(caller, amount, to)
		return amountResult("sharesBurned", shares), err
	case ActionRedeem:
		assets, err := engine.Redeem(caller, amount, to)
		return amountResult("assets", assets), err
	case ActionApprove:
		return "", engine.ApproveBeneficiary(caller, to, amount, vaultAddr)
	case ActionBorrow:
		if err := engine.TakeLoan(caller, amount, vaultAddr, to); err != nil {
			return "", err
		}
		debt, err := engine.DebtOf(vaultAddr)
		return amountResult("debt", debt), err
	case ActionRepay:
		if err := engine.Repay(caller, amount, vaultAddr); err != nil {
			return "", err
		}
		debt, err := engine.DebtOf(vaultAddr)
		return amountResult("debt", debt), err
	case ActionTransfer:
		return "", r.node.Vaults.TransferOwnership(caller, vaultAddr, to)
	case ActionLiquidate:
		openDebt, err := engine.LiquidateVault(caller, vaultAddr)
		return amountResult("openDebt", openDebt), err
	}
	return "", fmt.Errorf("unknown action %q", step.Action)
}

// settle closes the open auction of vault with the recovered proceeds, which
// the auction house must already hold.
func (r *Runner) settle(vault common.Address, recovered *uint256.Int) (string, error) {
	house := r.node.Auctions
	if _, ok := house.Open(vault); !ok {
		return "", fmt.Errorf("vault %s: no open auction", vault.Hex())
	}
	split, err := r.node.Engine.SettleLiquidation(house.Address(), vault, recovered)
	if err != nil {
		return "", err
	}
	if _, err := house.Close(vault); err != nil {
		return "", err
	}
	loss := new(uint256.Int)
	for _, alloc := range split.Allocations {
		loss.Add(loss, alloc.Amount)
	}
	return "loss=" + loss.Dec(), nil
}

func (r *Runner) check(step Step, people *participants) error {
	names := make([]string, 0, len(step.Expect))
	for who := range step.Expect {
		names = append(names, who)
	}
	sort.Strings(names)
	for _, who := range names {
		addr, err := people.resolve(who)
		if err != nil {
			return err
		}
		claim, err := r.node.Engine.ClaimOf(addr)
		if err != nil {
			return err
		}
		want, err := parseAmount(step.Expect[who])
		if err != nil {
			return fmt.Errorf("expect %s: %w", who, err)
		}
		if !claim.Eq(want) {
			return fmt.Errorf("claim of %s is %s, expected %s", who, claim.Dec(), want.Dec())
		}
	}
	return nil
}

func (r *Runner) finish(summary *Summary, sc *Scenario, people *participants) error {
	engine := r.node.Engine
	if err := engine.Sync(); err != nil {
		return err
	}
	if err := r.node.Commit(); err != nil {
		return err
	}
	record, err := engine.PoolRecord()
	if err != nil {
		return err
	}
	summary.Final = PoolTotals{
		TotalAssets:   record.TotalAssets().Dec(),
		TotalDebt:     record.TotalDebt.Dec(),
		IdleLiquidity: record.IdleLiquidity.Dec(),
		InterestRate:  record.InterestRate.Dec(),
	}
	if summary.Final.Utilisation, err = engine.Utilisation(); err != nil {
		return err
	}

	report := sc.Report
	if len(report) == 0 {
		report = people.names()
	}
	for _, who := range report {
		addr, err := people.resolve(who)
		if err != nil {
			return err
		}
		claim, err := engine.ClaimOf(addr)
		if err != nil {
			return err
		}
		summary.Claims[who] = claim.Dec()
	}
	digest, err := r.node.State.Digest()
	if err != nil {
		return err
	}
	summary.Digest = hex.EncodeToString(digest)
	return nil
}

func amountResult(label string, v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return label + "=" + v.Dec()
}
