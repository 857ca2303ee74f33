package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Liquidate repays exactly repay of target's debt on behalf of liquidator and
// pays out the equivalent collateral plus the asset's liquidation bonus. Only
// holders of RoleLiquidator may call it and only positions below the
// liquidation threshold qualify.
func (e *Engine) Liquidate(ctx context.Context, liquidator, target, asset common.Address, repay *uint256.Int) (result *LiquidationResult, err error) {
	defer e.observe("liquidate", time.Now(), &err)

	if err := e.authorize(liquidator, RoleLiquidator); err != nil {
		return nil, err
	}

	unlock := e.lockPosition(target, asset)
	defer unlock()
	e.configMu.RLock()
	defer e.configMu.RUnlock()

	settings, err := e.loadSettings()
	if err != nil {
		return nil, err
	}
	if err := e.guardPause(settings); err != nil {
		return nil, err
	}
	if !isPositive(repay) {
		return nil, ErrInvalidAmount
	}
	cfg, err := e.activeCollateral(asset)
	if err != nil {
		return nil, err
	}
	now := e.now()
	if err := e.requireFresh(cfg, now); err != nil {
		return nil, err
	}
	pos, err := e.loadPosition(target, asset)
	if err != nil {
		return nil, err
	}
	if !isPositive(pos.Debt) {
		return nil, fmt.Errorf("%w: no outstanding debt", ErrNotLiquidatable)
	}
	_, ratio, err := e.ratio(cfg, pos.Collateral, pos.Debt)
	if err != nil {
		return nil, err
	}
	if ratio >= e.params.LiquidationThresholdBps {
		return nil, fmt.Errorf("%w: ratio %d bps at or above threshold %d bps", ErrNotLiquidatable, ratio, e.params.LiquidationThresholdBps)
	}
	if repay.Gt(pos.Debt) {
		return nil, fmt.Errorf("%w (%s > %s)", ErrExceedsDebt, repay.Dec(), pos.Debt.Dec())
	}

	seized, err := SeizeAmount(repay, cfg.Price, cfg.Decimals, e.params.DebtDecimals)
	if err != nil {
		return nil, err
	}
	bonus, err := ApplyBps(seized, cfg.LiquidationBonusBps)
	if err != nil {
		return nil, err
	}
	total, err := checkedAdd(seized, bonus)
	if err != nil {
		return nil, err
	}
	if total.Gt(pos.Collateral) {
		return nil, fmt.Errorf("%w: seizure %s exceeds collateral %s", ErrInsufficientColl, total.Dec(), pos.Collateral.Dec())
	}

	next := pos.Clone()
	if next.Debt, err = checkedSub(pos.Debt, repay); err != nil {
		return nil, err
	}
	if next.Collateral, err = checkedSub(pos.Collateral, total); err != nil {
		return nil, err
	}

	if err := e.synthetic.BurnFrom(ctx, liquidator, repay); err != nil {
		return nil, ledgerErr("liquidator burn", err)
	}
	if err := e.collateral.TransferOut(ctx, asset, liquidator, total); err != nil {
		e.compensate("restore liquidator synthetic", func() error {
			return e.synthetic.Mint(ctx, liquidator, repay)
		})
		return nil, ledgerErr("collateral payout", err)
	}
	if err := e.commit("liquidate", new(Changeset).putPosition(next)); err != nil {
		return nil, err
	}

	result = &LiquidationResult{
		Target:      target,
		Asset:       asset,
		Liquidator:  liquidator,
		Repaid:      cloneAmount(repay),
		Seized:      seized,
		Bonus:       bonus,
		TotalSeized: total,
		RatioBps:    ratio,
	}
	attrs := positionAttrs(target, asset, repay, next)
	attrs["liquidator"] = liquidator.Hex()
	attrs["seized"] = total.Dec()
	attrs["bonus"] = bonus.Dec()
	attrs["ratioBps"] = formatBps(ratio)
	e.emit(newEvent(TypeLiquidated, now, attrs))
	e.logger.Info("vault position liquidated",
		"target", target.Hex(), "asset", asset.Hex(), "liquidator", liquidator.Hex(),
		"repaid", repay.Dec(), "seized", total.Dec(), "ratio_bps", ratio)
	return result, nil
}

// LiquidationCandidates lists the positions of asset whose ratio is below the
// liquidation threshold at the current price. Stale prices yield
// ErrPriceStale since no valuation is trustworthy.
func (e *Engine) LiquidationCandidates(asset common.Address) ([]Candidate, error) {
	e.configMu.RLock()
	defer e.configMu.RUnlock()

	cfg, err := e.activeCollateral(asset)
	if err != nil {
		return nil, err
	}
	if err := e.requireFresh(cfg, e.now()); err != nil {
		return nil, err
	}
	positions, err := e.state.Positions(asset)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	out := make([]Candidate, 0)
	for _, pos := range positions {
		if !isPositive(pos.Debt) {
			continue
		}
		_, ratio, err := e.ratio(cfg, pos.Collateral, pos.Debt)
		if err != nil {
			return nil, err
		}
		if ratio >= e.params.LiquidationThresholdBps {
			continue
		}
		maxRepay, err := MaxRepayForCollateral(pos.Collateral, cfg.Price, cfg.LiquidationBonusBps, cfg.Decimals, e.params.DebtDecimals)
		if err != nil {
			return nil, err
		}
		if maxRepay.Gt(pos.Debt) {
			maxRepay = cloneAmount(pos.Debt)
		}
		out = append(out, Candidate{
			User:       pos.User,
			Asset:      pos.Asset,
			Collateral: cloneAmount(pos.Collateral),
			Debt:       cloneAmount(pos.Debt),
			RatioBps:   ratio,
			MaxRepay:   maxRepay,
		})
	}
	return out, nil
}
