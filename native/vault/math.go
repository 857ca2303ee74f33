package vault

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"
)

const (
	// PricePrecision scales prices: debt units per whole collateral unit x 1e6.
	PricePrecision = 1_000_000
	// BasisPoints is the denominator for every bps-expressed quantity.
	BasisPoints = 10_000
	// MaxRatio is reported for positions without debt.
	MaxRatio = math.MaxUint64

	maxDecimals = 36
)

var (
	pricePrecision = uint256.NewInt(PricePrecision)
	basisPoints    = uint256.NewInt(BasisPoints)
	pow10Table     = buildPow10Table()
)

func buildPow10Table() [maxDecimals*2 + 1]*uint256.Int {
	var table [maxDecimals*2 + 1]*uint256.Int
	ten := uint256.NewInt(10)
	table[0] = uint256.NewInt(1)
	for i := 1; i < len(table); i++ {
		table[i] = new(uint256.Int).Mul(table[i-1], ten)
	}
	return table
}

func pow10(decimals uint8) *uint256.Int {
	return pow10Table[decimals]
}

func zero() *uint256.Int { return new(uint256.Int) }

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}

func isPositive(v *uint256.Int) bool {
	return v != nil && !v.IsZero()
}

func checkedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(cloneAmount(a), cloneAmount(b))
	if overflow {
		return nil, ErrMathOverflow
	}
	return sum, nil
}

func checkedSub(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(cloneAmount(a), cloneAmount(b))
	if underflow {
		return nil, fmt.Errorf("%w: negative result", ErrMathOverflow)
	}
	return diff, nil
}

// CollateralValue converts a collateral amount into debt base units.
//
//	value = amount * price * 10^debtDecimals / (10^collateralDecimals * PricePrecision)
func CollateralValue(amount, price *uint256.Int, collateralDecimals, debtDecimals uint8) (*uint256.Int, error) {
	if collateralDecimals > maxDecimals || debtDecimals > maxDecimals {
		return nil, fmt.Errorf("%w: decimals out of range", ErrInvalidConfig)
	}
	if !isPositive(amount) || !isPositive(price) {
		return zero(), nil
	}
	num, overflow := new(uint256.Int).MulOverflow(price, pow10(debtDecimals))
	if overflow {
		return nil, ErrMathOverflow
	}
	den := new(uint256.Int).Mul(pow10(collateralDecimals), pricePrecision)
	value, overflow := new(uint256.Int).MulDivOverflow(amount, num, den)
	if overflow {
		return nil, ErrMathOverflow
	}
	return value, nil
}

// RatioBps returns value*10000/debt saturated to MaxRatio. Zero debt reports
// MaxRatio.
func RatioBps(value, debt *uint256.Int) uint64 {
	if !isPositive(debt) {
		return MaxRatio
	}
	ratio, overflow := new(uint256.Int).MulDivOverflow(cloneAmount(value), basisPoints, debt)
	if overflow || !ratio.IsUint64() {
		return MaxRatio
	}
	return ratio.Uint64()
}

// SeizeAmount converts a debt repayment into the collateral it buys at price.
//
//	seized = repay * PricePrecision * 10^collateralDecimals / (price * 10^debtDecimals)
func SeizeAmount(repay, price *uint256.Int, collateralDecimals, debtDecimals uint8) (*uint256.Int, error) {
	if !isPositive(price) {
		return nil, ErrInvalidPrice
	}
	if collateralDecimals > maxDecimals || debtDecimals > maxDecimals {
		return nil, fmt.Errorf("%w: decimals out of range", ErrInvalidConfig)
	}
	num := new(uint256.Int).Mul(pricePrecision, pow10(collateralDecimals))
	den, overflow := new(uint256.Int).MulOverflow(price, pow10(debtDecimals))
	if overflow {
		return nil, ErrMathOverflow
	}
	seized, overflow := new(uint256.Int).MulDivOverflow(cloneAmount(repay), num, den)
	if overflow {
		return nil, ErrMathOverflow
	}
	return seized, nil
}

// ApplyBps returns amount*bps/10000 rounded down.
func ApplyBps(amount *uint256.Int, bps uint64) (*uint256.Int, error) {
	if !isPositive(amount) || bps == 0 {
		return zero(), nil
	}
	out, overflow := new(uint256.Int).MulDivOverflow(amount, uint256.NewInt(bps), basisPoints)
	if overflow {
		return nil, ErrMathOverflow
	}
	return out, nil
}

// MinRatioForLTV converts a loan-to-value cap into the equivalent minimum
// collateral ratio in bps, rounding up. A zero LTV imposes no bound.
func MinRatioForLTV(maxLTVBps uint64) uint64 {
	if maxLTVBps == 0 {
		return 0
	}
	const squared = BasisPoints * BasisPoints
	return (squared + maxLTVBps - 1) / maxLTVBps
}

// MaxRepayForCollateral returns the largest repayment whose seized collateral
// plus bonus does not exceed the available collateral.
func MaxRepayForCollateral(collateral, price *uint256.Int, bonusBps uint64, collateralDecimals, debtDecimals uint8) (*uint256.Int, error) {
	if !isPositive(collateral) || !isPositive(price) {
		return zero(), nil
	}
	value, err := CollateralValue(collateral, price, collateralDecimals, debtDecimals)
	if err != nil {
		return nil, err
	}
	out, overflow := new(uint256.Int).MulDivOverflow(value, basisPoints, uint256.NewInt(BasisPoints+bonusBps))
	if overflow {
		return nil, ErrMathOverflow
	}
	return out, nil
}
