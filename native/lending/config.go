package lending

import (
	"fmt"
	"sort"
	"strings"

	"github.com/holiman/uint256"

	nativecommon "tranchelend/native/common"
)

// Config captures the runtime configuration for a lending pool.
type Config struct {
	FeeWeight uint64         `toml:"FeeWeight"`
	Interest  InterestConfig `toml:"interest"`
	Pauses    ActionPauses   `toml:"pauses"`
}

// InterestConfig is the textual form of InterestRateConfig. Rates are decimal
// integers scaled by RateScale so values beyond 64 bits survive TOML.
type InterestConfig struct {
	BaseRate             string `toml:"BaseRate" yaml:"baseRate"`
	LowSlope             string `toml:"LowSlope" yaml:"lowSlope"`
	HighSlope            string `toml:"HighSlope" yaml:"highSlope"`
	UtilisationThreshold uint64 `toml:"UtilisationThreshold" yaml:"utilisationThreshold"`
}

// ActionPauses exposes fine-grained switches for pausing individual lending flows.
type ActionPauses struct {
	Deposit   bool `toml:"Deposit"`
	Withdraw  bool `toml:"Withdraw"`
	Borrow    bool `toml:"Borrow"`
	Repay     bool `toml:"Repay"`
	Liquidate bool `toml:"Liquidate"`
}

// DefaultInterestConfig is a 2% base rate rising 0.1% per point up to 80%
// utilisation and 2% per point beyond it.
var DefaultInterestConfig = InterestConfig{
	BaseRate:             "20000000000000000",
	LowSlope:             "1000000000000000",
	HighSlope:            "20000000000000000",
	UtilisationThreshold: 80,
}

// Parse converts the textual rates into an InterestRateConfig and validates
// the resulting curve.
func (c InterestConfig) Parse() (InterestRateConfig, error) {
	base, err := parseRate("BaseRate", c.BaseRate)
	if err != nil {
		return InterestRateConfig{}, err
	}
	low, err := parseRate("LowSlope", c.LowSlope)
	if err != nil {
		return InterestRateConfig{}, err
	}
	high, err := parseRate("HighSlope", c.HighSlope)
	if err != nil {
		return InterestRateConfig{}, err
	}
	cfg := InterestRateConfig{
		BaseRate:             base,
		LowSlope:             low,
		HighSlope:            high,
		UtilisationThreshold: c.UtilisationThreshold,
	}
	if err := ValidateInterestConfig(cfg); err != nil {
		return InterestRateConfig{}, err
	}
	return cfg, nil
}

func parseRate(field, value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return new(uint256.Int), nil
	}
	rate, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, fmt.Errorf("lending engine: %s: %w", field, err)
	}
	return rate, nil
}

// Keys lists the pause switches that are on, in nativecommon.Action form.
func (p ActionPauses) Keys() []string {
	var keys []string
	for action, on := range map[string]bool{
		"deposit":   p.Deposit,
		"withdraw":  p.Withdraw,
		"borrow":    p.Borrow,
		"repay":     p.Repay,
		"liquidate": p.Liquidate,
	} {
		if on {
			keys = append(keys, nativecommon.Action(moduleName, action))
		}
	}
	sort.Strings(keys)
	return keys
}
