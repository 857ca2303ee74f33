package vault

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"
)

func TestAutoRewardPaysBaseThenBonus(t *testing.T) {
	f := newFixture(t, DefaultParams(debtDecimals))
	ctx := context.Background()
	f.mustDeposit(t, alice, eth(2, 1))

	reward, err := f.engine.AutoReward(ctx, alice, weth)
	if err != nil {
		t.Fatalf("auto reward: %v", err)
	}
	requireAmount(t, "first reward", reward, debt(10))

	_, err = f.engine.AutoReward(ctx, alice, weth)
	requireErr(t, err, ErrCooldownNotMet)

	f.clock.Advance(time.Hour)
	f.setPrice(t, priceETH)
	reward, err = f.engine.AutoReward(ctx, alice, weth)
	if err != nil {
		t.Fatalf("auto reward after hold: %v", err)
	}
	requireAmount(t, "held reward", reward, debt(12))

	view := f.position(t, alice)
	requireAmount(t, "debt", view.Debt, debt(22))
	if !view.LastAutoRewardAt.Equal(f.clock.Now()) || !view.LastMintAt.Equal(f.clock.Now()) {
		t.Fatalf("timestamps not advanced: %+v", view)
	}
	requireAmount(t, "synthetic", f.ledger.Balance(ghs, alice), debt(22))
}

func TestAutoRewardHoldMeasuredFromOpen(t *testing.T) {
	f := newFixture(t, DefaultParams(debtDecimals))
	f.mustDeposit(t, alice, eth(2, 1))
	f.clock.Advance(time.Hour)
	f.setPrice(t, priceETH)

	reward, err := f.engine.AutoReward(context.Background(), alice, weth)
	if err != nil {
		t.Fatalf("auto reward: %v", err)
	}
	requireAmount(t, "reward", reward, debt(12))
}

func TestAutoRewardEligibility(t *testing.T) {
	f := newFixture(t, scenarioParams())
	ctx := context.Background()

	_, err := f.engine.AutoReward(ctx, alice, weth)
	requireErr(t, err, ErrRewardIneligible)

	// 172.5% is below the 200% reward threshold.
	f.mustDeposit(t, bob, eth(1, 1))
	f.mustMint(t, bob, debt(15_000))
	f.clock.Advance(5 * time.Minute)
	_, err = f.engine.AutoReward(ctx, bob, weth)
	requireErr(t, err, ErrRewardIneligible)

	f.mustDeposit(t, alice, eth(1, 1))
	f.clock.Advance(2 * time.Hour)
	_, err = f.engine.AutoReward(ctx, alice, weth)
	requireErr(t, err, ErrPriceStale)

	if err := f.engine.SetAutoMintEnabled(admin, false); err != nil {
		t.Fatalf("disable auto mint: %v", err)
	}
	_, err = f.engine.AutoReward(ctx, alice, weth)
	requireErr(t, err, ErrAutoMintDisabled)
	requireErr(t, f.engine.SetAutoMintEnabled(alice, true), ErrUnauthorized)
}

func TestAutoRewardBypassesDailyCaps(t *testing.T) {
	f := newFixture(t, DefaultParams(debtDecimals))
	ctx := context.Background()
	f.mustDeposit(t, alice, eth(10, 1))
	for i := 0; i < 5; i++ {
		f.mustMint(t, alice, debt(1_000))
		f.clock.Advance(5 * time.Minute)
	}
	requireErr(t, f.engine.Mint(ctx, alice, weth, debt(1)), ErrExceedsDailyLimit)

	if _, err := f.engine.AutoReward(ctx, alice, weth); err != nil {
		t.Fatalf("auto reward at cap: %v", err)
	}
	status, err := f.engine.UserMintStatus(alice)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.DailyMintCount != 5 {
		t.Fatalf("reward counted against cap: %d", status.DailyMintCount)
	}
	requireAmount(t, "daily minted", status.DailyMinted, debt(5_000))

	// The reward started a fresh cooldown for mint as well.
	if err := f.engine.ResetUserLimits(emergency, alice); err != nil {
		t.Fatalf("reset: %v", err)
	}
	requireErr(t, f.engine.Mint(ctx, alice, weth, debt(1)), ErrCooldownNotMet)
}

func TestUpdateAutoRewardConfigValidation(t *testing.T) {
	f := newFixture(t, DefaultParams(debtDecimals))
	valid := AutoRewardConfig{
		BaseReward:          debt(5),
		BonusMultiplierBps:  5_000,
		MinHoldTime:         24 * time.Hour,
		MinEligibleRatioBps: 10_000,
	}
	requireErr(t, f.engine.UpdateAutoRewardConfig(alice, valid), ErrUnauthorized)

	cases := map[string]func(*AutoRewardConfig){
		"zero base":     func(c *AutoRewardConfig) { c.BaseReward = new(uint256.Int) },
		"bonus":         func(c *AutoRewardConfig) { c.BonusMultiplierBps = 5_001 },
		"hold":          func(c *AutoRewardConfig) { c.MinHoldTime = 24*time.Hour + time.Second },
		"ratio":         func(c *AutoRewardConfig) { c.MinEligibleRatioBps = 9_999 },
		"negative hold": func(c *AutoRewardConfig) { c.MinHoldTime = -time.Second },
	}
	for name, mutate := range cases {
		cfg := valid.Clone()
		mutate(&cfg)
		if err := f.engine.UpdateAutoRewardConfig(admin, cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		} else {
			requireErr(t, err, ErrInvalidConfig)
		}
	}

	if err := f.engine.UpdateAutoRewardConfig(admin, valid); err != nil {
		t.Fatalf("update: %v", err)
	}
	settings, err := f.engine.Settings()
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	requireAmount(t, "base reward", settings.AutoReward.BaseReward, debt(5))
	if settings.AutoReward.MinHoldTime != 24*time.Hour {
		t.Fatalf("hold time = %s", settings.AutoReward.MinHoldTime)
	}
}
