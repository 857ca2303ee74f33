package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "synthvault/native/common"
)

type mintPlan struct {
	position *Position
	user     *MintStatus
	global   *MintStatus
}

func (p *mintPlan) changeset() *Changeset {
	cs := &Changeset{GlobalStatus: p.global}
	cs.putPosition(p.position)
	cs.putUserStatus(p.position.User, p.user)
	return cs
}

func cooldownActive(last time.Time, period time.Duration, now time.Time) bool {
	return period > 0 && !last.IsZero() && now.Before(last.Add(period))
}

func cooldownRemaining(last time.Time, period time.Duration, now time.Time) time.Duration {
	if !cooldownActive(last, period, now) {
		return 0
	}
	return last.Add(period).Sub(now)
}

func (e *Engine) userStatus(user common.Address) (*MintStatus, error) {
	status, err := e.state.UserMintStatus(user)
	if err != nil {
		return nil, fmt.Errorf("load user mint status: %w", err)
	}
	return status.Clone(), nil
}

func (e *Engine) globalStatus() (*MintStatus, error) {
	status, err := e.state.GlobalMintStatus()
	if err != nil {
		return nil, fmt.Errorf("load global mint status: %w", err)
	}
	return status.Clone(), nil
}

func checkMintAmount(limits Limits, amount *uint256.Int) error {
	if !isPositive(amount) {
		return ErrInvalidAmount
	}
	if isPositive(limits.MaxMintPerTx) && amount.Gt(limits.MaxMintPerTx) {
		return fmt.Errorf("%w (%s > %s)", ErrExceedsMaxMintPerTx, amount.Dec(), limits.MaxMintPerTx.Dec())
	}
	return nil
}

// planMint runs every mint check against pos in order: price freshness, ratio,
// cooldown, per-user count, per-user amount, global amount. Nothing is written.
func (e *Engine) planMint(settings *Settings, cfg *CollateralConfig, pos *Position, amount *uint256.Int, now time.Time) (*mintPlan, error) {
	if err := e.requireFresh(cfg, now); err != nil {
		return nil, err
	}
	newDebt, err := checkedAdd(pos.Debt, amount)
	if err != nil {
		return nil, err
	}
	_, ratio, err := e.ratio(cfg, pos.Collateral, newDebt)
	if err != nil {
		return nil, err
	}
	if floor := e.minRatio(cfg); ratio < floor {
		return nil, fmt.Errorf("%w: ratio %d bps below %d bps", ErrVaultUndercollateral, ratio, floor)
	}

	limits := settings.Limits
	if cooldownActive(pos.LastMintAt, limits.CooldownPeriod, now) {
		return nil, fmt.Errorf("%w: %s remaining", ErrCooldownNotMet, cooldownRemaining(pos.LastMintAt, limits.CooldownPeriod, now))
	}

	user, err := e.userStatus(pos.User)
	if err != nil {
		return nil, err
	}
	userUsage, err := nativecommon.CheckWindow(limits.userWindow(), now, user.usage(), 1, amount)
	switch {
	case errors.Is(err, nativecommon.ErrWindowCountExceeded):
		return nil, ErrExceedsMaxMintsPerDay
	case errors.Is(err, nativecommon.ErrWindowAmountExceeded):
		return nil, ErrExceedsDailyLimit
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrMathOverflow, err)
	}

	global, err := e.globalStatus()
	if err != nil {
		return nil, err
	}
	globalUsage, err := nativecommon.CheckWindow(limits.globalWindow(), now, global.usage(), 1, amount)
	switch {
	case errors.Is(err, nativecommon.ErrWindowAmountExceeded):
		return nil, ErrExceedsGlobalLimit
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrMathOverflow, err)
	}

	next := pos.Clone()
	next.Debt = newDebt
	next.LastMintAt = now
	user.apply(userUsage)
	user.LastMintAt = now
	global.apply(globalUsage)
	return &mintPlan{position: next, user: user, global: global}, nil
}

// Mint issues amount of the synthetic token against the user's position after
// the ratio and rate-limit checks pass.
func (e *Engine) Mint(ctx context.Context, user, asset common.Address, amount *uint256.Int) (err error) {
	defer e.observe("mint", time.Now(), &err)

	unlockPos := e.lockPosition(user, asset)
	defer unlockPos()
	unlockUser := e.lockUser(user)
	defer unlockUser()
	e.globalMu.Lock()
	defer e.globalMu.Unlock()
	e.configMu.RLock()
	defer e.configMu.RUnlock()

	settings, err := e.loadSettings()
	if err != nil {
		return err
	}
	if err := e.guardPause(settings); err != nil {
		return err
	}
	if err := checkMintAmount(settings.Limits, amount); err != nil {
		return err
	}
	cfg, err := e.activeCollateral(asset)
	if err != nil {
		return err
	}
	now := e.now()
	pos, err := e.loadPosition(user, asset)
	if err != nil {
		return err
	}
	plan, err := e.planMint(settings, cfg, pos, amount, now)
	if err != nil {
		return err
	}

	if err := e.synthetic.Mint(ctx, user, amount); err != nil {
		return ledgerErr("synthetic mint", err)
	}
	if err := e.commit("mint", plan.changeset()); err != nil {
		return err
	}
	e.emit(newEvent(TypeMinted, now, positionAttrs(user, asset, amount, plan.position)))
	return nil
}

// Burn repays amount of debt by burning the user's synthetic tokens.
func (e *Engine) Burn(ctx context.Context, user, asset common.Address, amount *uint256.Int) (err error) {
	defer e.observe("burn", time.Now(), &err)

	unlock := e.lockPosition(user, asset)
	defer unlock()
	e.configMu.RLock()
	defer e.configMu.RUnlock()

	settings, err := e.loadSettings()
	if err != nil {
		return err
	}
	if err := e.guardPause(settings); err != nil {
		return err
	}
	if !isPositive(amount) {
		return ErrInvalidAmount
	}
	if _, err := e.activeCollateral(asset); err != nil {
		return err
	}
	now := e.now()
	pos, err := e.loadPosition(user, asset)
	if err != nil {
		return err
	}
	if amount.Gt(pos.Debt) {
		return fmt.Errorf("%w (%s > %s)", ErrExceedsDebt, amount.Dec(), pos.Debt.Dec())
	}
	next := pos.Clone()
	if next.Debt, err = checkedSub(pos.Debt, amount); err != nil {
		return err
	}

	if err := e.synthetic.BurnFrom(ctx, user, amount); err != nil {
		return ledgerErr("synthetic burn", err)
	}
	if err := e.commit("burn", new(Changeset).putPosition(next)); err != nil {
		return err
	}
	e.emit(newEvent(TypeBurned, now, positionAttrs(user, asset, amount, next)))
	return nil
}

// DepositAndMint deposits collateral and mints against it under one set of
// locks. The mint checks see the new collateral and either both legs apply or
// neither does.
func (e *Engine) DepositAndMint(ctx context.Context, user, asset common.Address, collateral, amount *uint256.Int) (err error) {
	defer e.observe("deposit_and_mint", time.Now(), &err)

	unlockPos := e.lockPosition(user, asset)
	defer unlockPos()
	unlockUser := e.lockUser(user)
	defer unlockUser()
	e.globalMu.Lock()
	defer e.globalMu.Unlock()
	e.configMu.RLock()
	defer e.configMu.RUnlock()

	settings, err := e.loadSettings()
	if err != nil {
		return err
	}
	if err := e.guardPause(settings); err != nil {
		return err
	}
	if !isPositive(collateral) {
		return ErrInvalidAmount
	}
	if err := checkMintAmount(settings.Limits, amount); err != nil {
		return err
	}
	cfg, err := e.activeCollateral(asset)
	if err != nil {
		return err
	}
	now := e.now()
	pos, err := e.loadPosition(user, asset)
	if err != nil {
		return err
	}
	funded := pos.Clone()
	if funded.Collateral, err = checkedAdd(pos.Collateral, collateral); err != nil {
		return err
	}
	if pos.Empty() {
		funded.OpenedAt = now
		funded.LastAutoRewardAt = time.Time{}
	}
	plan, err := e.planMint(settings, cfg, funded, amount, now)
	if err != nil {
		return err
	}

	if err := e.collateral.TransferIn(ctx, asset, user, collateral); err != nil {
		return ledgerErr("collateral transfer in", err)
	}
	if err := e.synthetic.Mint(ctx, user, amount); err != nil {
		e.compensate("refund collateral", func() error {
			return e.collateral.TransferOut(ctx, asset, user, collateral)
		})
		return ledgerErr("synthetic mint", err)
	}
	if err := e.commit("deposit_and_mint", plan.changeset()); err != nil {
		return err
	}
	e.emit(newEvent(TypeCollateralDeposited, now, positionAttrs(user, asset, collateral, plan.position)))
	e.emit(newEvent(TypeMinted, now, positionAttrs(user, asset, amount, plan.position)))
	return nil
}

// compensate reverses an earlier ledger leg after a later one failed.
func (e *Engine) compensate(step string, undo func() error) {
	if err := undo(); err != nil {
		e.logger.Error("vault ledger compensation failed", "step", step, "error", err)
	}
}
