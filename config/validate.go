package config

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"tranchelend/crypto"
	"tranchelend/native/lending"
	"tranchelend/storage"
)

// ResolvedPool is the parsed form of Pool.
type ResolvedPool struct {
	ID          string
	Address     common.Address
	Liquidator  common.Address
	AssetSymbol string
	ShareSymbol string
	DebtSymbol  string
	Params      lending.Params
	Tranches    []lending.Tranche
	Pauses      []string
}

func (c *Config) Validate() error {
	switch c.Backend {
	case storage.BackendMemory, storage.BackendLevelDB, storage.BackendBolt:
	default:
		return fmt.Errorf("unknown storage backend %q", c.Backend)
	}
	if c.Backend != storage.BackendMemory && strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("DataDir required for %s backend", c.Backend)
	}
	_, err := c.Pool.Resolve()
	return err
}

// Resolve parses addresses and rates and checks the tranche registry.
func (p Pool) Resolve() (*ResolvedPool, error) {
	if strings.TrimSpace(p.ID) == "" {
		return nil, fmt.Errorf("pool: ID required")
	}
	out := &ResolvedPool{
		ID:          strings.TrimSpace(p.ID),
		AssetSymbol: symbolOr(p.AssetSymbol, "USDC"),
		ShareSymbol: symbolOr(p.ShareSymbol, "TLP"),
		DebtSymbol:  symbolOr(p.DebtSymbol, "TDEBT"),
		Pauses:      p.Pauses.Keys(),
	}
	fields := []struct {
		name  string
		value string
		dst   *common.Address
	}{
		{"Address", p.Address, &out.Address},
		{"Owner", p.Owner, &out.Params.Owner},
		{"Treasury", p.Treasury, &out.Params.Treasury},
		{"Liquidator", p.Liquidator, &out.Liquidator},
	}
	for _, f := range fields {
		addr, err := crypto.ParseAddress(f.value)
		if err != nil {
			return nil, fmt.Errorf("pool.%s: %w", f.name, err)
		}
		*f.dst = addr
	}
	interest, err := p.Interest.Parse()
	if err != nil {
		return nil, fmt.Errorf("pool.interest: %w", err)
	}
	out.Params.Interest = interest
	out.Params.FeeWeight = p.FeeWeight

	symbols := map[string]bool{}
	for _, s := range []string{out.AssetSymbol, out.ShareSymbol, out.DebtSymbol} {
		if symbols[s] {
			return nil, fmt.Errorf("pool: token symbol %s used twice", s)
		}
		symbols[s] = true
	}

	seen := map[common.Address]bool{}
	total := p.FeeWeight
	for i, tr := range p.Tranches {
		addr, err := crypto.ParseAddress(tr.Address)
		if err != nil {
			return nil, fmt.Errorf("pool.tranches[%d]: %w", i, err)
		}
		if seen[addr] {
			return nil, fmt.Errorf("pool.tranches[%d]: duplicate tranche %s", i, addr.Hex())
		}
		if addr == out.Params.Treasury {
			return nil, fmt.Errorf("pool.tranches[%d]: treasury cannot be a tranche", i)
		}
		if tr.Weight > ^uint64(0)-total {
			return nil, fmt.Errorf("pool.tranches[%d]: total weight overflows", i)
		}
		total += tr.Weight
		seen[addr] = true
		out.Tranches = append(out.Tranches, lending.Tranche{Address: addr, Weight: tr.Weight})
	}
	return out, nil
}

func symbolOr(value, fallback string) string {
	if trimmed := strings.ToUpper(strings.TrimSpace(value)); trimmed != "" {
		return trimmed
	}
	return fallback
}
