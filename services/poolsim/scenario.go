package poolsim

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"tranchelend/crypto"
	"tranchelend/native/lending"
)

// Step actions.
const (
	ActionAdvance     = "advance"
	ActionSync        = "sync"
	ActionDeposit     = "deposit"
	ActionWithdraw    = "withdraw"
	ActionRedeem      = "redeem"
	ActionApprove     = "approve"
	ActionBorrow      = "borrow"
	ActionRepay       = "repay"
	ActionCollateral  = "collateral"
	ActionTransfer    = "transfer_vault"
	ActionLiquidate   = "liquidate"
	ActionSettle      = "settle"
	ActionSetInterest = "set_interest"
	ActionPause       = "pause"
	ActionUnpause     = "unpause"
)

// Scenario is a scripted run against a single pool.
type Scenario struct {
	Name string `yaml:"name"`
	// Start overrides the engine clock at the beginning of the run.
	Start uint64 `yaml:"start"`
	// Balances mints the pool asset to participants and approves the pool
	// to pull it.
	Balances map[string]string `yaml:"balances"`
	Vaults   []VaultSpec       `yaml:"vaults"`
	Steps    []Step            `yaml:"steps"`
	// Report lists participants whose pool claims appear in the summary.
	Report []string `yaml:"report"`
}

type VaultSpec struct {
	Name       string `yaml:"name"`
	Owner      string `yaml:"owner"`
	Collateral string `yaml:"collateral"`
}

// Step is one scripted call. Participants are role names (owner, treasury,
// liquidator, pool), tranche:<index>, hex or bech32 addresses, or free labels
// mapped to deterministic addresses.
type Step struct {
	Action      string                  `yaml:"action"`
	Actor       string                  `yaml:"actor"`
	Vault       string                  `yaml:"vault"`
	To          string                  `yaml:"to"`
	Amount      string                  `yaml:"amount"`
	Seconds     uint64                  `yaml:"seconds"`
	Interest    *lending.InterestConfig `yaml:"interest"`
	Key         string                  `yaml:"key"`
	ExpectError string                  `yaml:"expectError"`
	// Expect maps participants to the pool claim they must hold after the
	// step.
	Expect map[string]string `yaml:"expect"`
}

// LoadScenario reads a YAML scenario from path.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a YAML scenario. Unknown fields are
// rejected.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if err := sc.validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

func (sc *Scenario) validate() error {
	names := map[string]bool{}
	for i, v := range sc.Vaults {
		if strings.TrimSpace(v.Name) == "" || strings.TrimSpace(v.Owner) == "" {
			return fmt.Errorf("vaults[%d]: name and owner required", i)
		}
		if names[v.Name] {
			return fmt.Errorf("vaults[%d]: duplicate vault %q", i, v.Name)
		}
		names[v.Name] = true
		if _, err := parseAmount(v.Collateral); err != nil {
			return fmt.Errorf("vaults[%d]: %w", i, err)
		}
	}
	for who, amount := range sc.Balances {
		if _, err := parseAmount(amount); err != nil {
			return fmt.Errorf("balances[%s]: %w", who, err)
		}
	}
	for i, step := range sc.Steps {
		if err := step.validate(names); err != nil {
			return fmt.Errorf("steps[%d] %s: %w", i, step.Action, err)
		}
	}
	return nil
}

func (s Step) validate(vaults map[string]bool) error {
	needsVault := false
	needsAmount := false
	switch s.Action {
	case ActionAdvance:
		if s.Seconds == 0 {
			return fmt.Errorf("seconds required")
		}
	case ActionSync:
	case ActionDeposit, ActionWithdraw, ActionRedeem:
		needsAmount = true
	case ActionApprove, ActionBorrow, ActionRepay, ActionCollateral, ActionSettle:
		needsVault, needsAmount = true, true
	case ActionTransfer, ActionLiquidate:
		needsVault = true
	case ActionSetInterest:
		if s.Interest == nil {
			return fmt.Errorf("interest required")
		}
	case ActionPause, ActionUnpause:
		if strings.TrimSpace(s.Key) == "" {
			return fmt.Errorf("key required")
		}
	default:
		return fmt.Errorf("unknown action")
	}
	if needsVault && !vaults[s.Vault] {
		return fmt.Errorf("unknown vault %q", s.Vault)
	}
	if needsAmount {
		if _, err := parseAmount(s.Amount); err != nil {
			return err
		}
	}
	for who, want := range s.Expect {
		if _, err := parseAmount(want); err != nil {
			return fmt.Errorf("expect[%s]: %w", who, err)
		}
	}
	return nil
}

// parseAmount accepts decimal integers, optionally with _ separators, and
// "unlimited".
func parseAmount(value string) (*uint256.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if strings.EqualFold(trimmed, "unlimited") {
		return lending.UnlimitedAllowance.Clone(), nil
	}
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	return amount, nil
}

// participants maps scenario names onto addresses.
type participants struct {
	pool   *nodeRoles
	vaults map[string]common.Address
	seen   map[string]common.Address
}

type nodeRoles struct {
	owner, treasury, liquidator, pool common.Address
	tranches                          []common.Address
}

func (p *participants) resolve(name string) (common.Address, error) {
	key := strings.TrimSpace(name)
	if key == "" {
		return common.Address{}, fmt.Errorf("participant required")
	}
	addr, err := p.lookup(key)
	if err != nil {
		return common.Address{}, err
	}
	p.seen[key] = addr
	return addr, nil
}

func (p *participants) lookup(key string) (common.Address, error) {
	switch strings.ToLower(key) {
	case "owner":
		return p.pool.owner, nil
	case "treasury":
		return p.pool.treasury, nil
	case "liquidator":
		return p.pool.liquidator, nil
	case "pool":
		return p.pool.pool, nil
	}
	if idx, ok := strings.CutPrefix(strings.ToLower(key), "tranche:"); ok {
		i, err := strconv.Atoi(idx)
		if err != nil || i < 0 || i >= len(p.pool.tranches) {
			return common.Address{}, fmt.Errorf("unknown tranche %q", key)
		}
		return p.pool.tranches[i], nil
	}
	if addr, ok := p.vaults[key]; ok {
		return addr, nil
	}
	if addr, err := crypto.ParseAddress(key); err == nil {
		return addr, nil
	}
	return crypto.DeriveAddress(key), nil
}

func (p *participants) names() []string {
	out := make([]string, 0, len(p.seen))
	for name := range p.seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
