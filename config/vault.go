package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"synthvault/native/vault"
)

// priceDecimals matches vault.PricePrecision.
const priceDecimals = 6

// ValidateConfig performs the structural checks that do not need the vault
// parameter conversion.
func ValidateConfig(cfg *Config) error {
	switch cfg.StorageBackend {
	case "leveldb", "bolt", "memory":
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.StorageBackend)
	}
	if cfg.Risk.DefaultStaleAfterSeconds < 0 || cfg.Limits.CooldownSeconds < 0 || cfg.Reward.MinHoldSeconds < 0 {
		return errors.New("durations must not be negative")
	}
	seen := make(map[common.Address]struct{}, len(cfg.Collateral))
	for i, c := range cfg.Collateral {
		if !common.IsHexAddress(c.Asset) {
			return fmt.Errorf("collateral[%d]: invalid asset address %q", i, c.Asset)
		}
		addr := common.HexToAddress(c.Asset)
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("collateral[%d]: duplicate asset %s", i, addr.Hex())
		}
		seen[addr] = struct{}{}
	}
	groups := map[string][]string{
		"Admins":      cfg.Roles.Admins,
		"Oracles":     cfg.Roles.Oracles,
		"Liquidators": cfg.Roles.Liquidators,
		"Emergency":   cfg.Roles.Emergency,
	}
	for name, addrs := range groups {
		for _, addr := range addrs {
			if !common.IsHexAddress(strings.TrimSpace(addr)) {
				return fmt.Errorf("roles.%s: invalid address %q", name, addr)
			}
		}
	}
	return nil
}

func seconds(n int64) time.Duration { return time.Duration(n) * time.Second }

// Parameters converts the textual configuration into runtime vault parameters.
func (c *Config) Parameters() (vault.Params, error) {
	params := vault.Params{
		MinCollateralRatioBps:   c.Risk.MinCollateralRatioBps,
		LiquidationThresholdBps: c.Risk.LiquidationThresholdBps,
		DebtDecimals:            c.DebtDecimals,
		DefaultStaleAfter:       seconds(c.Risk.DefaultStaleAfterSeconds),
		AutoMintEnabled:         c.AutoMintEnabled,
		Limits: vault.Limits{
			CooldownPeriod:        seconds(c.Limits.CooldownSeconds),
			MaxMintsPerUserPerDay: c.Limits.MaxMintsPerUserPerDay,
		},
		AutoReward: vault.AutoRewardConfig{
			BonusMultiplierBps:  c.Reward.BonusMultiplierBps,
			MinHoldTime:         seconds(c.Reward.MinHoldSeconds),
			MinEligibleRatioBps: c.Reward.MinEligibleRatioBps,
		},
	}
	var err error
	if params.Limits.MaxMintPerTx, err = ParseUnits(c.Limits.MaxMintPerTx, c.DebtDecimals); err != nil {
		return params, fmt.Errorf("limits: invalid MaxMintPerTx: %w", err)
	}
	if params.Limits.MaxMintPerUserPerDay, err = ParseUnits(c.Limits.MaxMintPerUserPerDay, c.DebtDecimals); err != nil {
		return params, fmt.Errorf("limits: invalid MaxMintPerUserPerDay: %w", err)
	}
	if params.Limits.MaxGlobalMintPerDay, err = ParseUnits(c.Limits.MaxGlobalMintPerDay, c.DebtDecimals); err != nil {
		return params, fmt.Errorf("limits: invalid MaxGlobalMintPerDay: %w", err)
	}
	if params.AutoReward.BaseReward, err = ParseUnits(c.Reward.BaseReward, c.DebtDecimals); err != nil {
		return params, fmt.Errorf("reward: invalid BaseReward: %w", err)
	}
	if err := params.Validate(); err != nil {
		return params, err
	}
	return params, nil
}

// CollateralParams converts the configured collateral seeds.
func (c *Config) CollateralParams() ([]vault.CollateralParams, error) {
	out := make([]vault.CollateralParams, 0, len(c.Collateral))
	for i, entry := range c.Collateral {
		price, err := ParseUnits(entry.Price, priceDecimals)
		if err != nil {
			return nil, fmt.Errorf("collateral[%d]: invalid Price: %w", i, err)
		}
		params := vault.CollateralParams{
			Asset:               common.HexToAddress(entry.Asset),
			Symbol:              strings.TrimSpace(entry.Symbol),
			Price:               price,
			MaxLTVBps:           entry.MaxLTVBps,
			LiquidationBonusBps: entry.LiquidationBonusBps,
			Decimals:            entry.Decimals,
			StaleAfter:          seconds(entry.StaleAfterSeconds),
		}
		if err := params.Validate(); err != nil {
			return nil, fmt.Errorf("collateral[%d]: %w", i, err)
		}
		out = append(out, params)
	}
	return out, nil
}

// RoleRegistry builds the access guard from the configured role holders.
func (c *Config) RoleRegistry() *vault.RoleRegistry {
	registry := vault.NewRoleRegistry()
	grant := func(role vault.Role, addrs []string) {
		for _, addr := range addrs {
			registry.Grant(role, common.HexToAddress(strings.TrimSpace(addr)))
		}
	}
	grant(vault.RoleAdmin, c.Roles.Admins)
	grant(vault.RoleOracle, c.Roles.Oracles)
	grant(vault.RoleLiquidator, c.Roles.Liquidators)
	grant(vault.RoleEmergency, c.Roles.Emergency)
	return registry
}
