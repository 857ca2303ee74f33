package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the on-disk engine configuration.
type Config struct {
	DataDir         string `toml:"DataDir"`
	StorageBackend  string `toml:"StorageBackend"`
	DebtDecimals    uint8  `toml:"DebtDecimals"`
	AutoMintEnabled bool   `toml:"AutoMintEnabled"`

	Risk       Risk         `toml:"risk"`
	Limits     Limits       `toml:"limits"`
	Reward     Reward       `toml:"reward"`
	Roles      Roles        `toml:"roles"`
	Collateral []Collateral `toml:"collateral"`
}

// Risk holds the immutable ratio thresholds.
type Risk struct {
	MinCollateralRatioBps    uint64 `toml:"MinCollateralRatioBps"`
	LiquidationThresholdBps  uint64 `toml:"LiquidationThresholdBps"`
	DefaultStaleAfterSeconds int64  `toml:"DefaultStaleAfterSeconds"`
}

// Limits are expressed in whole synthetic units; fractional values such as
// "12.5" are accepted.
type Limits struct {
	CooldownSeconds       int64  `toml:"CooldownSeconds"`
	MaxMintPerTx          string `toml:"MaxMintPerTx"`
	MaxMintsPerUserPerDay uint64 `toml:"MaxMintsPerUserPerDay"`
	MaxMintPerUserPerDay  string `toml:"MaxMintPerUserPerDay"`
	MaxGlobalMintPerDay   string `toml:"MaxGlobalMintPerDay"`
}

type Reward struct {
	BaseReward          string `toml:"BaseReward"`
	BonusMultiplierBps  uint64 `toml:"BonusMultiplierBps"`
	MinHoldSeconds      int64  `toml:"MinHoldSeconds"`
	MinEligibleRatioBps uint64 `toml:"MinEligibleRatioBps"`
}

// Roles lists hex addresses granted each engine role at startup.
type Roles struct {
	Admins      []string `toml:"Admins"`
	Oracles     []string `toml:"Oracles"`
	Liquidators []string `toml:"Liquidators"`
	Emergency   []string `toml:"Emergency"`
}

// Collateral seeds the registry on first start. Price is in synthetic units
// per whole collateral unit.
type Collateral struct {
	Asset               string `toml:"Asset"`
	Symbol              string `toml:"Symbol"`
	Price               string `toml:"Price"`
	MaxLTVBps           uint64 `toml:"MaxLTVBps"`
	LiquidationBonusBps uint64 `toml:"LiquidationBonusBps"`
	Decimals            uint8  `toml:"Decimals"`
	StaleAfterSeconds   int64  `toml:"StaleAfterSeconds"`
}

// Load loads the configuration from the given path, writing the defaults
// there first when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, key := range undecoded {
			keys[i] = key.String()
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if strings.TrimSpace(cfg.StorageBackend) == "" {
		cfg.StorageBackend = "leveldb"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./vault-data"
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DataDir:         "./vault-data",
		StorageBackend:  "leveldb",
		DebtDecimals:    6,
		AutoMintEnabled: true,
		Risk: Risk{
			MinCollateralRatioBps:    15_000,
			LiquidationThresholdBps:  12_500,
			DefaultStaleAfterSeconds: 3600,
		},
		Limits: Limits{
			CooldownSeconds:       300,
			MaxMintPerTx:          "1000",
			MaxMintsPerUserPerDay: 20,
			MaxMintPerUserPerDay:  "5000",
			MaxGlobalMintPerDay:   "1000000",
		},
		Reward: Reward{
			BaseReward:          "10",
			BonusMultiplierBps:  2_000,
			MinHoldSeconds:      3600,
			MinEligibleRatioBps: 20_000,
		},
		Roles: Roles{
			Admins:      []string{},
			Oracles:     []string{},
			Liquidators: []string{},
			Emergency:   []string{},
		},
		Collateral: []Collateral{},
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
