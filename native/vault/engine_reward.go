package vault

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// holdReference is the instant the hold-time bonus is measured from.
func holdReference(pos *Position) time.Time {
	if !pos.LastAutoRewardAt.IsZero() {
		return pos.LastAutoRewardAt
	}
	return pos.OpenedAt
}

func rewardAmount(cfg AutoRewardConfig, pos *Position, now time.Time) (*uint256.Int, error) {
	reward := cloneAmount(cfg.BaseReward)
	ref := holdReference(pos)
	if ref.IsZero() || now.Sub(ref) < cfg.MinHoldTime {
		return reward, nil
	}
	bonus, err := ApplyBps(cfg.BaseReward, cfg.BonusMultiplierBps)
	if err != nil {
		return nil, err
	}
	return checkedAdd(reward, bonus)
}

// AutoReward pays the protocol reward to a healthy position by increasing its
// debt and minting the reward to the user. It shares the mint cooldown but not
// the daily or global caps.
func (e *Engine) AutoReward(ctx context.Context, user, asset common.Address) (reward *uint256.Int, err error) {
	defer e.observe("auto_reward", time.Now(), &err)

	unlockPos := e.lockPosition(user, asset)
	defer unlockPos()
	unlockUser := e.lockUser(user)
	defer unlockUser()
	e.configMu.RLock()
	defer e.configMu.RUnlock()

	settings, err := e.loadSettings()
	if err != nil {
		return nil, err
	}
	if err := e.guardPause(settings); err != nil {
		return nil, err
	}
	if !settings.AutoMintEnabled {
		return nil, ErrAutoMintDisabled
	}
	cfg, err := e.activeCollateral(asset)
	if err != nil {
		return nil, err
	}
	now := e.now()
	pos, err := e.loadPosition(user, asset)
	if err != nil {
		return nil, err
	}
	if cooldownActive(pos.LastMintAt, settings.Limits.CooldownPeriod, now) {
		return nil, fmt.Errorf("%w: %s remaining", ErrCooldownNotMet, cooldownRemaining(pos.LastMintAt, settings.Limits.CooldownPeriod, now))
	}
	if !isPositive(pos.Collateral) {
		return nil, fmt.Errorf("%w: no collateral", ErrRewardIneligible)
	}
	if err := e.requireFresh(cfg, now); err != nil {
		return nil, err
	}
	_, ratio, err := e.ratio(cfg, pos.Collateral, pos.Debt)
	if err != nil {
		return nil, err
	}
	if ratio < settings.AutoReward.MinEligibleRatioBps {
		return nil, fmt.Errorf("%w: ratio %d bps below %d bps", ErrRewardIneligible, ratio, settings.AutoReward.MinEligibleRatioBps)
	}

	reward, err = rewardAmount(settings.AutoReward, pos, now)
	if err != nil {
		return nil, err
	}
	next := pos.Clone()
	if next.Debt, err = checkedAdd(pos.Debt, reward); err != nil {
		return nil, err
	}
	next.LastMintAt = now
	next.LastAutoRewardAt = now
	status, err := e.userStatus(user)
	if err != nil {
		return nil, err
	}
	status.LastMintAt = now

	if err := e.synthetic.Mint(ctx, user, reward); err != nil {
		return nil, ledgerErr("reward mint", err)
	}
	cs := new(Changeset).putPosition(next).putUserStatus(user, status)
	if err := e.commit("auto_reward", cs); err != nil {
		return nil, err
	}
	e.emit(newEvent(TypeAutoReward, now, positionAttrs(user, asset, reward, next)))
	return reward, nil
}
