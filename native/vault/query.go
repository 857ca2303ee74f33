package vault

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "synthvault/native/common"
)

// Position returns the valuation of one position at the current price. The
// ratio is reported even when the price is stale; PriceFresh tells callers
// whether to trust it.
func (e *Engine) Position(user, asset common.Address) (*PositionView, error) {
	e.configMu.RLock()
	defer e.configMu.RUnlock()

	cfg, err := e.registered(asset)
	if err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(user, asset)
	if err != nil {
		return nil, err
	}
	value, ratio, err := e.ratio(cfg, pos.Collateral, pos.Debt)
	if err != nil {
		return nil, err
	}
	fresh := e.priceFresh(cfg, e.now())
	return &PositionView{
		User:             user,
		Asset:            asset,
		Collateral:       cloneAmount(pos.Collateral),
		Debt:             cloneAmount(pos.Debt),
		CollateralValue:  value,
		RatioBps:         ratio,
		Liquidatable:     fresh && isPositive(pos.Debt) && ratio < e.params.LiquidationThresholdBps,
		PriceFresh:       fresh,
		OpenedAt:         pos.OpenedAt,
		LastMintAt:       pos.LastMintAt,
		LastAutoRewardAt: pos.LastAutoRewardAt,
	}, nil
}

// UserMintStatus reports the user's daily counters as they would be seen by a
// mint issued now.
func (e *Engine) UserMintStatus(user common.Address) (*UserMintStatusView, error) {
	e.configMu.RLock()
	settings, err := e.loadSettings()
	e.configMu.RUnlock()
	if err != nil {
		return nil, err
	}
	status, err := e.userStatus(user)
	if err != nil {
		return nil, err
	}
	now := e.now()
	window := settings.Limits.userWindow()
	current := nativecommon.Roll(status.usage(), window.Length, now)
	view := &UserMintStatusView{
		User:              user,
		DailyMintCount:    current.Count,
		DailyMinted:       current.Amount,
		DailyRemaining:    nativecommon.Remaining(window, now, status.usage()),
		WindowStart:       current.Start,
		LastMintAt:        status.LastMintAt,
		CooldownRemaining: cooldownRemaining(status.LastMintAt, settings.Limits.CooldownPeriod, now),
	}
	if window.MaxCount > 0 && current.Count < window.MaxCount {
		view.MintsRemaining = window.MaxCount - current.Count
	}
	return view, nil
}

// GlobalStatus reports protocol-wide counters and outstanding balances.
func (e *Engine) GlobalStatus() (*GlobalStatusView, error) {
	e.configMu.RLock()
	defer e.configMu.RUnlock()

	settings, err := e.loadSettings()
	if err != nil {
		return nil, err
	}
	status, err := e.globalStatus()
	if err != nil {
		return nil, err
	}
	collaterals, err := e.state.Collaterals()
	if err != nil {
		return nil, fmt.Errorf("list collateral: %w", err)
	}
	positions, err := e.state.Positions(common.Address{})
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	now := e.now()
	window := settings.Limits.globalWindow()
	current := nativecommon.Roll(status.usage(), window.Length, now)
	view := &GlobalStatusView{
		DailyMinted:            current.Amount,
		DailyRemaining:         nativecommon.Remaining(window, now, status.usage()),
		WindowStart:            current.Start,
		TotalMinted:            zero(),
		TotalCollateralByAsset: make(map[common.Address]*uint256.Int, len(collaterals)),
		AutoMintEnabled:        settings.AutoMintEnabled,
		Paused:                 settings.Paused,
		CollateralCount:        len(collaterals),
	}
	for _, cfg := range collaterals {
		view.TotalCollateralByAsset[cfg.Asset] = zero()
	}
	for _, pos := range positions {
		if view.TotalMinted, err = checkedAdd(view.TotalMinted, pos.Debt); err != nil {
			return nil, err
		}
		total := view.TotalCollateralByAsset[pos.Asset]
		if total, err = checkedAdd(total, pos.Collateral); err != nil {
			return nil, err
		}
		view.TotalCollateralByAsset[pos.Asset] = total
	}
	return view, nil
}

// CollateralConfig returns the registry entry for asset.
func (e *Engine) CollateralConfig(asset common.Address) (*CollateralConfig, error) {
	e.configMu.RLock()
	defer e.configMu.RUnlock()
	return e.registered(asset)
}

// Collaterals lists every registered asset, enabled or not.
func (e *Engine) Collaterals() ([]*CollateralConfig, error) {
	e.configMu.RLock()
	defer e.configMu.RUnlock()
	list, err := e.state.Collaterals()
	if err != nil {
		return nil, fmt.Errorf("list collateral: %w", err)
	}
	sortCollaterals(list)
	return list, nil
}

// Settings returns a copy of the mutable engine settings.
func (e *Engine) Settings() (*Settings, error) {
	e.configMu.RLock()
	defer e.configMu.RUnlock()
	return e.loadSettings()
}

// TotalValueLocked sums collateral value in debt units over enabled assets
// whose price is fresh.
func (e *Engine) TotalValueLocked() (*uint256.Int, error) {
	e.configMu.RLock()
	defer e.configMu.RUnlock()

	collaterals, err := e.state.Collaterals()
	if err != nil {
		return nil, fmt.Errorf("list collateral: %w", err)
	}
	now := e.now()
	total := zero()
	for _, cfg := range collaterals {
		if !cfg.Enabled || !e.priceFresh(cfg, now) {
			continue
		}
		positions, err := e.state.Positions(cfg.Asset)
		if err != nil {
			return nil, fmt.Errorf("list positions: %w", err)
		}
		locked := zero()
		for _, pos := range positions {
			if locked, err = checkedAdd(locked, pos.Collateral); err != nil {
				return nil, err
			}
		}
		value, err := CollateralValue(locked, cfg.Price, cfg.Decimals, e.params.DebtDecimals)
		if err != nil {
			return nil, err
		}
		if total, err = checkedAdd(total, value); err != nil {
			return nil, err
		}
	}
	return total, nil
}
