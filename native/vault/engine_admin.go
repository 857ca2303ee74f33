package vault

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// AddCollateral registers a new collateral asset in the enabled state. The
// supplied price counts as a fresh quote.
func (e *Engine) AddCollateral(caller common.Address, params CollateralParams) (err error) {
	defer e.observe("add_collateral", time.Now(), &err)
	if err := e.authorize(caller, RoleAdmin); err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return err
	}

	e.configMu.Lock()
	defer e.configMu.Unlock()

	existing, err := e.state.Collateral(params.Asset)
	if err != nil {
		return fmt.Errorf("load collateral: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrCollateralExists, params.Asset.Hex())
	}
	now := e.now()
	cfg := &CollateralConfig{
		Asset:               params.Asset,
		Symbol:              params.Symbol,
		Price:               cloneAmount(params.Price),
		MaxLTVBps:           params.MaxLTVBps,
		LiquidationBonusBps: params.LiquidationBonusBps,
		Decimals:            params.Decimals,
		Enabled:             true,
		LastPriceUpdate:     now,
		StaleAfter:          params.StaleAfter,
	}
	if err := e.commit("add_collateral", &Changeset{Collaterals: []*CollateralConfig{cfg}}); err != nil {
		return err
	}
	e.logger.Info("vault collateral registered",
		"asset", cfg.Asset.Hex(), "symbol", cfg.Symbol, "price", cfg.Price.Dec(),
		"max_ltv_bps", cfg.MaxLTVBps, "bonus_bps", cfg.LiquidationBonusBps, "decimals", cfg.Decimals)
	e.emit(newEvent(TypeCollateralAdded, now, map[string]string{
		"asset":               cfg.Asset.Hex(),
		"symbol":              cfg.Symbol,
		"price":               cfg.Price.Dec(),
		"maxLtvBps":           formatBps(cfg.MaxLTVBps),
		"liquidationBonusBps": formatBps(cfg.LiquidationBonusBps),
		"decimals":            strconv.Itoa(int(cfg.Decimals)),
	}))
	return nil
}

// SetCollateralEnabled toggles an asset. Disabled assets reject every vault
// operation, including repayments and withdrawals.
func (e *Engine) SetCollateralEnabled(caller, asset common.Address, enabled bool) (err error) {
	defer e.observe("set_collateral_enabled", time.Now(), &err)
	if err := e.authorize(caller, RoleAdmin); err != nil {
		return err
	}

	e.configMu.Lock()
	defer e.configMu.Unlock()

	cfg, err := e.registered(asset)
	if err != nil {
		return err
	}
	cfg.Enabled = enabled
	if err := e.commit("set_collateral_enabled", &Changeset{Collaterals: []*CollateralConfig{cfg}}); err != nil {
		return err
	}
	e.logger.Info("vault collateral toggled", "asset", asset.Hex(), "enabled", enabled)
	e.emit(newEvent(TypeCollateralEnabled, e.now(), map[string]string{
		"asset":   asset.Hex(),
		"enabled": strconv.FormatBool(enabled),
	}))
	return nil
}

// UpdatePrice records a new oracle price and always refreshes the update
// timestamp, even when the price is unchanged.
func (e *Engine) UpdatePrice(caller, asset common.Address, price *uint256.Int) (err error) {
	defer e.observe("update_price", time.Now(), &err)
	if err := e.authorize(caller, RoleOracle); err != nil {
		return err
	}
	if !isPositive(price) {
		return ErrInvalidPrice
	}

	e.configMu.Lock()
	defer e.configMu.Unlock()

	cfg, err := e.registered(asset)
	if err != nil {
		return err
	}
	now := e.now()
	previous := cloneAmount(cfg.Price)
	cfg.Price = cloneAmount(price)
	cfg.LastPriceUpdate = now
	if err := e.commit("update_price", &Changeset{Collaterals: []*CollateralConfig{cfg}}); err != nil {
		return err
	}
	e.logger.Debug("vault price updated", "asset", asset.Hex(), "price", price.Dec())
	e.emit(newEvent(TypePriceUpdated, now, map[string]string{
		"asset":    asset.Hex(),
		"price":    price.Dec(),
		"previous": previous.Dec(),
	}))
	return nil
}

func (e *Engine) registered(asset common.Address) (*CollateralConfig, error) {
	cfg, err := e.state.Collateral(asset)
	if err != nil {
		return nil, fmt.Errorf("load collateral: %w", err)
	}
	if cfg == nil {
		return nil, ErrUnknownCollateral
	}
	return cfg, nil
}

// Pause halts every user-facing vault operation.
func (e *Engine) Pause(caller common.Address) error {
	return e.setPaused(caller, true)
}

// Unpause resumes user-facing operations.
func (e *Engine) Unpause(caller common.Address) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller common.Address, paused bool) (err error) {
	op, eventType := "unpause", TypeUnpaused
	if paused {
		op, eventType = "pause", TypePaused
	}
	defer e.observe(op, time.Now(), &err)
	if err := e.authorize(caller, RoleEmergency); err != nil {
		return err
	}
	err = e.updateSettings(op, func(s *Settings) error {
		s.Paused = paused
		return nil
	})
	if err != nil {
		return err
	}
	e.logger.Warn("vault pause state changed", "paused", paused, "caller", caller.Hex())
	e.emit(newEvent(eventType, e.now(), map[string]string{"caller": caller.Hex()}))
	return nil
}

// updateSettings applies mutate to the persisted settings under the
// configuration write lock.
func (e *Engine) updateSettings(op string, mutate func(*Settings) error) error {
	e.configMu.Lock()
	defer e.configMu.Unlock()
	settings, err := e.loadSettings()
	if err != nil {
		return err
	}
	if err := mutate(settings); err != nil {
		return err
	}
	return e.commit(op, &Changeset{Settings: settings})
}

// ResetUserLimits zeroes the user's daily counters immediately. The cooldown
// clock is left untouched.
func (e *Engine) ResetUserLimits(caller, user common.Address) (err error) {
	defer e.observe("reset_user_limits", time.Now(), &err)
	if err := e.authorize(caller, RoleEmergency); err != nil {
		return err
	}

	unlock := e.lockUser(user)
	defer unlock()

	status, err := e.userStatus(user)
	if err != nil {
		return err
	}
	status.DailyMintCount = 0
	status.DailyMinted = zero()
	status.WindowStart = time.Time{}
	if err := e.commit("reset_user_limits", new(Changeset).putUserStatus(user, status)); err != nil {
		return err
	}
	e.logger.Info("vault user limits reset", "user", user.Hex(), "caller", caller.Hex())
	e.emit(newEvent(TypeLimitsReset, e.now(), map[string]string{"scope": "user", "user": user.Hex()}))
	return nil
}

// ResetGlobalLimits zeroes the protocol-wide daily counters immediately.
func (e *Engine) ResetGlobalLimits(caller common.Address) (err error) {
	defer e.observe("reset_global_limits", time.Now(), &err)
	if err := e.authorize(caller, RoleEmergency); err != nil {
		return err
	}

	e.globalMu.Lock()
	defer e.globalMu.Unlock()

	if err := e.commit("reset_global_limits", &Changeset{GlobalStatus: &MintStatus{DailyMinted: zero()}}); err != nil {
		return err
	}
	e.logger.Info("vault global limits reset", "caller", caller.Hex())
	e.emit(newEvent(TypeLimitsReset, e.now(), map[string]string{"scope": "global"}))
	return nil
}

// UpdateAutoRewardConfig atomically replaces the reward configuration.
func (e *Engine) UpdateAutoRewardConfig(caller common.Address, cfg AutoRewardConfig) (err error) {
	defer e.observe("update_reward_config", time.Now(), &err)
	if err := e.authorize(caller, RoleAdmin); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := e.updateSettings("update_reward_config", func(s *Settings) error {
		s.AutoReward = cfg.Clone()
		return nil
	}); err != nil {
		return err
	}
	e.logger.Info("vault reward config updated",
		"base_reward", cfg.BaseReward.Dec(), "bonus_bps", cfg.BonusMultiplierBps,
		"min_hold", cfg.MinHoldTime, "min_ratio_bps", cfg.MinEligibleRatioBps)
	e.emit(newEvent(TypeRewardConfigUpdated, e.now(), map[string]string{
		"baseReward":          cfg.BaseReward.Dec(),
		"bonusMultiplierBps":  formatBps(cfg.BonusMultiplierBps),
		"minHoldTime":         cfg.MinHoldTime.String(),
		"minEligibleRatioBps": formatBps(cfg.MinEligibleRatioBps),
	}))
	return nil
}

// SetAutoMintEnabled toggles the global auto-reward switch.
func (e *Engine) SetAutoMintEnabled(caller common.Address, enabled bool) (err error) {
	defer e.observe("set_auto_mint", time.Now(), &err)
	if err := e.authorize(caller, RoleAdmin); err != nil {
		return err
	}
	if err := e.updateSettings("set_auto_mint", func(s *Settings) error {
		s.AutoMintEnabled = enabled
		return nil
	}); err != nil {
		return err
	}
	e.logger.Info("vault auto mint toggled", "enabled", enabled)
	e.emit(newEvent(TypeAutoMintToggled, e.now(), map[string]string{"enabled": strconv.FormatBool(enabled)}))
	return nil
}

// UpdateLimits replaces the rate-limit parameters. Counters already
// accumulated in the current window are kept.
func (e *Engine) UpdateLimits(caller common.Address, limits Limits) (err error) {
	defer e.observe("update_limits", time.Now(), &err)
	if err := e.authorize(caller, RoleAdmin); err != nil {
		return err
	}
	if err := limits.Validate(); err != nil {
		return err
	}
	if err := e.updateSettings("update_limits", func(s *Settings) error {
		s.Limits = limits.Clone()
		return nil
	}); err != nil {
		return err
	}
	e.logger.Info("vault limits updated",
		"cooldown", limits.CooldownPeriod, "max_mint_per_tx", cloneAmount(limits.MaxMintPerTx).Dec(),
		"max_mints_per_day", limits.MaxMintsPerUserPerDay)
	e.emit(newEvent(TypeLimitsUpdated, e.now(), map[string]string{
		"cooldown":              limits.CooldownPeriod.String(),
		"maxMintPerTx":          cloneAmount(limits.MaxMintPerTx).Dec(),
		"maxMintsPerUserPerDay": strconv.FormatUint(limits.MaxMintsPerUserPerDay, 10),
		"maxMintPerUserPerDay":  cloneAmount(limits.MaxMintPerUserPerDay).Dec(),
		"maxGlobalMintPerDay":   cloneAmount(limits.MaxGlobalMintPerDay).Dec(),
	}))
	return nil
}
