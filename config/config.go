package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"

	"tranchelend/native/lending"
	"tranchelend/storage"
)

type Config struct {
	DataDir        string `toml:"DataDir"`
	Backend        string `toml:"Backend"`
	Environment    string `toml:"Environment"`
	LogLevel       string `toml:"LogLevel"`
	LogFile        string `toml:"LogFile,omitempty"`
	MetricsAddress string `toml:"MetricsAddress,omitempty"`
	Pool           Pool   `toml:"pool"`
}

// Pool describes the single lending pool a node hosts. Addresses accept 0x
// hex or bech32.
type Pool struct {
	ID          string `toml:"ID"`
	Address     string `toml:"Address"`
	Owner       string `toml:"Owner"`
	Treasury    string `toml:"Treasury"`
	Liquidator  string `toml:"Liquidator"`
	AssetSymbol string `toml:"AssetSymbol"`
	ShareSymbol string `toml:"ShareSymbol"`
	DebtSymbol  string `toml:"DebtSymbol"`
	lending.Config
	Tranches []Tranche `toml:"tranches"`
}

// Tranche registers an LP tier, most senior first.
type Tranche struct {
	Address string `toml:"Address"`
	Weight  uint64 `toml:"Weight"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a memory-backed single-tranche pool.
func Default() *Config {
	return &Config{
		DataDir:     "./tranchelend-data",
		Backend:     storage.BackendMemory,
		Environment: "dev",
		LogLevel:    "info",
		Pool: Pool{
			ID:          "main",
			Address:     "0x00000000000000000000000000000000000000a1",
			Owner:       "0x00000000000000000000000000000000000000a2",
			Treasury:    "0x00000000000000000000000000000000000000a3",
			Liquidator:  "0x00000000000000000000000000000000000000a4",
			AssetSymbol: "USDC",
			ShareSymbol: "TLP",
			DebtSymbol:  "TDEBT",
			Config: lending.Config{
				FeeWeight: 1,
				Interest:  lending.DefaultInterestConfig,
			},
			Tranches: []Tranche{
				{Address: "0x00000000000000000000000000000000000000b1", Weight: 1},
			},
		},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func (c *Config) normalize() {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = storage.BackendMemory
	}
	c.LogLevel = strings.TrimSpace(c.LogLevel)
	c.Pool.ID = strings.TrimSpace(c.Pool.ID)
	if c.Pool.Tranches == nil {
		c.Pool.Tranches = []Tranche{}
	}
}
