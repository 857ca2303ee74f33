package vault

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
)

func TestCollateralValueScalesDecimals(t *testing.T) {
	// 2 ETH at 25875 per ETH is 51750 debt units.
	value, err := CollateralValue(eth(2, 1), priceETH, ethDecimals, debtDecimals)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	requireAmount(t, "value", value, debt(51_750))

	// 8-decimal collateral priced at 1.5 with an 18-decimal debt token.
	amount := uint256.NewInt(300_000_000)
	value, err = CollateralValue(amount, uint256.NewInt(1_500_000), 8, 18)
	if err != nil {
		t.Fatalf("value: %v", err)
	}
	want := new(uint256.Int).Mul(uint256.NewInt(45), pow10(17))
	requireAmount(t, "value", value, want)
}

func TestCollateralValueOverflow(t *testing.T) {
	huge := new(uint256.Int).SetAllOne()
	if _, err := CollateralValue(huge, huge, 0, 36); !errors.Is(err, ErrMathOverflow) {
		t.Fatalf("expected ErrMathOverflow, got %v", err)
	}
}

func TestRatioBps(t *testing.T) {
	if got := RatioBps(debt(51_750), debt(15_000)); got != 34_500 {
		t.Fatalf("ratio = %d, want 34500", got)
	}
	if got := RatioBps(debt(1), new(uint256.Int)); got != MaxRatio {
		t.Fatalf("zero debt ratio = %d, want MaxRatio", got)
	}
	if got := RatioBps(new(uint256.Int).SetAllOne(), uint256.NewInt(1)); got != MaxRatio {
		t.Fatalf("expected saturation, got %d", got)
	}
}

func TestSeizeAmountInvertsValue(t *testing.T) {
	seized, err := SeizeAmount(debt(7_500), crashPriceETH, ethDecimals, debtDecimals)
	if err != nil {
		t.Fatalf("seize: %v", err)
	}
	want := new(uint256.Int).Mul(uint256.NewInt(7_500), pow10(ethDecimals))
	want.Div(want, uint256.NewInt(14_490))
	requireAmount(t, "seized", seized, want)

	if _, err := SeizeAmount(debt(1), new(uint256.Int), ethDecimals, debtDecimals); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid price, got %v", err)
	}
}

func TestMinRatioForLTV(t *testing.T) {
	cases := map[uint64]uint64{0: 0, 10_000: 10_000, 8_000: 12_500, 7_000: 14_286, 6_667: 15_000}
	for ltv, want := range cases {
		if got := MinRatioForLTV(ltv); got != want {
			t.Fatalf("MinRatioForLTV(%d) = %d, want %d", ltv, got, want)
		}
	}
}

func TestMaxRepayKeepsSeizureWithinCollateral(t *testing.T) {
	collateral := eth(1, 1)
	repay, err := MaxRepayForCollateral(collateral, crashPriceETH, 500, ethDecimals, debtDecimals)
	if err != nil {
		t.Fatalf("max repay: %v", err)
	}
	seized, err := SeizeAmount(repay, crashPriceETH, ethDecimals, debtDecimals)
	if err != nil {
		t.Fatalf("seize: %v", err)
	}
	bonus, err := ApplyBps(seized, 500)
	if err != nil {
		t.Fatalf("bonus: %v", err)
	}
	total := new(uint256.Int).Add(seized, bonus)
	if total.Gt(collateral) {
		t.Fatalf("seizure %s exceeds collateral %s", total.Dec(), collateral.Dec())
	}
	// One more unit of debt-side rounding should not leave meaningful slack.
	slack := new(uint256.Int).Sub(collateral, total)
	if slack.Gt(pow10(ethDecimals - 4)) {
		t.Fatalf("unexpectedly large slack %s", slack.Dec())
	}
}

func TestDefaultParams(t *testing.T) {
	params := DefaultParams(debtDecimals)
	if err := params.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if params.Limits.MaxMintsPerUserPerDay != 20 {
		t.Fatalf("mints per day = %d, want 20", params.Limits.MaxMintsPerUserPerDay)
	}
	requireAmount(t, "max mint per tx", params.Limits.MaxMintPerTx, debt(1_000))
}

func TestDefaultParamsOutOfRangeDecimals(t *testing.T) {
	for _, decimals := range []uint8{maxDecimals + 1, maxDecimals*2 + 1, 255} {
		params := DefaultParams(decimals)
		if err := params.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("decimals %d: expected ErrInvalidConfig, got %v", decimals, err)
		}
	}
}
