package vault

import (
	"context"
	"testing"
	"time"

	"github.com/holiman/uint256"

	"synthvault/native/bank"
)

// crashFixture opens alice at 1 ETH / 15000 and bob at 1 ETH / 10000, then
// drops the price from 2500 to 1400 (x 10.35).
func crashFixture(t *testing.T, f *fixture) {
	t.Helper()
	f.mustDeposit(t, alice, eth(1, 1))
	f.mustDeposit(t, bob, eth(1, 1))
	f.mustMint(t, alice, debt(15_000))
	f.mustMint(t, bob, debt(10_000))
	f.setPrice(t, crashPriceETH)
	if err := f.ledger.Mint(context.Background(), liquidator, debt(20_000)); err != nil {
		t.Fatalf("fund liquidator: %v", err)
	}
}

// Scenario 2: the 15000 position drops to 96.6% and can be partially
// liquidated; the 10000 position stays above 125%.
func TestScenarioPriceCrashLiquidation(t *testing.T) {
	f := newFixture(t, scenarioParams())
	crashFixture(t, f)
	ctx := context.Background()

	if view := f.position(t, alice); view.RatioBps != 9_660 || !view.Liquidatable {
		t.Fatalf("alice ratio = %d liquidatable=%v, want 9660 true", view.RatioBps, view.Liquidatable)
	}
	if view := f.position(t, bob); view.RatioBps != 14_490 || view.Liquidatable {
		t.Fatalf("bob ratio = %d liquidatable=%v, want 14490 false", view.RatioBps, view.Liquidatable)
	}

	res, err := f.engine.Liquidate(ctx, liquidator, alice, weth, debt(7_500))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	wantSeized := new(uint256.Int).Mul(uint256.NewInt(7_500), pow10(ethDecimals))
	wantSeized.Div(wantSeized, uint256.NewInt(14_490))
	wantBonus := new(uint256.Int).Div(new(uint256.Int).Mul(wantSeized, uint256.NewInt(500)), uint256.NewInt(10_000))
	wantTotal := new(uint256.Int).Add(wantSeized, wantBonus)
	requireAmount(t, "seized", res.Seized, wantSeized)
	requireAmount(t, "bonus", res.Bonus, wantBonus)
	requireAmount(t, "total", res.TotalSeized, wantTotal)
	if res.RatioBps != 9_660 {
		t.Fatalf("result ratio = %d, want 9660", res.RatioBps)
	}

	view := f.position(t, alice)
	requireAmount(t, "alice debt", view.Debt, debt(7_500))
	requireAmount(t, "alice collateral", view.Collateral, new(uint256.Int).Sub(eth(1, 1), wantTotal))
	requireAmount(t, "liquidator weth", f.ledger.Balance(weth, liquidator), wantTotal)
	requireAmount(t, "liquidator ghs", f.ledger.Balance(ghs, liquidator), debt(12_500))

	_, err = f.engine.Liquidate(ctx, liquidator, bob, weth, debt(1_000))
	requireErr(t, err, ErrNotLiquidatable)
}

func TestLiquidateRequiresRole(t *testing.T) {
	f := newFixture(t, scenarioParams())
	crashFixture(t, f)
	_, err := f.engine.Liquidate(context.Background(), bob, alice, weth, debt(7_500))
	requireErr(t, err, ErrUnauthorized)

	f.roles.Grant(RoleLiquidator, bob)
	if _, err := f.engine.Liquidate(context.Background(), bob, alice, weth, debt(100)); err != nil {
		t.Fatalf("liquidate after grant: %v", err)
	}
}

func TestLiquidateValidation(t *testing.T) {
	f := newFixture(t, scenarioParams())
	crashFixture(t, f)
	ctx := context.Background()

	_, err := f.engine.Liquidate(ctx, liquidator, alice, weth, new(uint256.Int))
	requireErr(t, err, ErrInvalidAmount)

	_, err = f.engine.Liquidate(ctx, liquidator, alice, weth, debt(15_001))
	requireErr(t, err, ErrExceedsDebt)

	// Repaying everything would seize 1.035 ETH plus bonus from 1 ETH.
	_, err = f.engine.Liquidate(ctx, liquidator, alice, weth, debt(15_000))
	requireErr(t, err, ErrInsufficientColl)

	other := f.position(t, liquidator)
	if !other.Debt.IsZero() {
		t.Fatalf("unexpected liquidator position")
	}
	_, err = f.engine.Liquidate(ctx, liquidator, liquidator, weth, debt(1))
	requireErr(t, err, ErrNotLiquidatable)

	f.clock.Advance(2 * time.Hour)
	_, err = f.engine.Liquidate(ctx, liquidator, alice, weth, debt(7_500))
	requireErr(t, err, ErrPriceStale)

	requireAmount(t, "alice debt untouched", f.position(t, alice).Debt, debt(15_000))
}

func TestLiquidateFullRepayClosesDebt(t *testing.T) {
	f := newFixture(t, scenarioParams())
	crashFixture(t, f)
	// 11000 per ETH puts bob at 110%.
	f.setPrice(t, uint256.NewInt(11_000_000_000))

	res, err := f.engine.Liquidate(context.Background(), liquidator, bob, weth, debt(10_000))
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	view := f.position(t, bob)
	if !view.Debt.IsZero() {
		t.Fatalf("debt = %s, want 0", view.Debt.Dec())
	}
	requireAmount(t, "collateral left", view.Collateral, new(uint256.Int).Sub(eth(1, 1), res.TotalSeized))
}

func TestLiquidateRestoresLiquidatorOnPayoutFailure(t *testing.T) {
	var flaky *flakyLedger
	f := newFixtureWithLedgers(t, scenarioParams(), NewMemState(), func(l *bank.Ledger) (CollateralLedger, SyntheticLedger) {
		flaky = &flakyLedger{Ledger: l}
		return flaky, flaky
	})
	crashFixture(t, f)

	flaky.failTransferOut = true
	_, err := f.engine.Liquidate(context.Background(), liquidator, alice, weth, debt(7_500))
	requireErr(t, err, ErrLedger)
	requireAmount(t, "liquidator ghs", f.ledger.Balance(ghs, liquidator), debt(20_000))
	requireAmount(t, "alice debt", f.position(t, alice).Debt, debt(15_000))
}

func TestLiquidationCandidates(t *testing.T) {
	f := newFixture(t, scenarioParams())
	crashFixture(t, f)

	candidates, err := f.engine.LiquidationCandidates(weth)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].User != alice {
		t.Fatalf("candidates = %+v, want only alice", candidates)
	}
	c := candidates[0]
	if c.MaxRepay.Gt(c.Debt) || c.MaxRepay.IsZero() {
		t.Fatalf("unexpected max repay %s for debt %s", c.MaxRepay.Dec(), c.Debt.Dec())
	}
	if _, err := f.engine.Liquidate(context.Background(), liquidator, alice, weth, c.MaxRepay); err != nil {
		t.Fatalf("liquidating max repay: %v", err)
	}

	f.clock.Advance(2 * time.Hour)
	_, err = f.engine.LiquidationCandidates(weth)
	requireErr(t, err, ErrPriceStale)
}
