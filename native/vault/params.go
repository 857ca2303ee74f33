package vault

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "synthvault/native/common"
)

// MintWindow is the length of the rolling mint accounting window.
const MintWindow = 24 * time.Hour

const (
	maxLiquidationBonusBps = 5_000
	maxRewardBonusBps      = 5_000
	maxRewardHoldTime      = 24 * time.Hour
)

// Limits captures the mint throttles enforced by the rate limiter. Zero
// amounts and counts disable the corresponding cap.
type Limits struct {
	CooldownPeriod        time.Duration
	MaxMintPerTx          *uint256.Int
	MaxMintsPerUserPerDay uint64
	MaxMintPerUserPerDay  *uint256.Int
	MaxGlobalMintPerDay   *uint256.Int
}

// Clone returns a deep copy of the limits.
func (l Limits) Clone() Limits {
	clone := l
	clone.MaxMintPerTx = cloneAmount(l.MaxMintPerTx)
	clone.MaxMintPerUserPerDay = cloneAmount(l.MaxMintPerUserPerDay)
	clone.MaxGlobalMintPerDay = cloneAmount(l.MaxGlobalMintPerDay)
	return clone
}

func (l Limits) userWindow() nativecommon.WindowLimits {
	return nativecommon.WindowLimits{Length: MintWindow, MaxCount: l.MaxMintsPerUserPerDay, MaxAmount: l.MaxMintPerUserPerDay}
}

func (l Limits) globalWindow() nativecommon.WindowLimits {
	return nativecommon.WindowLimits{Length: MintWindow, MaxAmount: l.MaxGlobalMintPerDay}
}

// Validate ensures the limits are internally consistent.
func (l Limits) Validate() error {
	if l.CooldownPeriod < 0 {
		return fmt.Errorf("%w: negative cooldown", ErrInvalidConfig)
	}
	if isPositive(l.MaxMintPerTx) && isPositive(l.MaxMintPerUserPerDay) && l.MaxMintPerTx.Gt(l.MaxMintPerUserPerDay) {
		return fmt.Errorf("%w: max mint per tx exceeds daily user cap", ErrInvalidConfig)
	}
	return nil
}

// Validate checks the reward configuration bounds.
func (c AutoRewardConfig) Validate() error {
	if !isPositive(c.BaseReward) {
		return fmt.Errorf("%w: base reward must be positive", ErrInvalidConfig)
	}
	if c.BonusMultiplierBps > maxRewardBonusBps {
		return fmt.Errorf("%w: bonus multiplier above %d bps", ErrInvalidConfig, maxRewardBonusBps)
	}
	if c.MinHoldTime < 0 || c.MinHoldTime > maxRewardHoldTime {
		return fmt.Errorf("%w: min hold time outside [0, %s]", ErrInvalidConfig, maxRewardHoldTime)
	}
	if c.MinEligibleRatioBps < BasisPoints {
		return fmt.Errorf("%w: min eligible ratio below 100%%", ErrInvalidConfig)
	}
	return nil
}

// Params bundles the immutable risk parameters and the initial values of the
// mutable settings.
type Params struct {
	MinCollateralRatioBps   uint64
	LiquidationThresholdBps uint64
	DebtDecimals            uint8
	DefaultStaleAfter       time.Duration
	Limits                  Limits
	AutoReward              AutoRewardConfig
	AutoMintEnabled         bool
}

// units clamps decimals to the pow10 table; Validate rejects the params anyway.
func units(n uint64, decimals uint8) *uint256.Int {
	if decimals > maxDecimals {
		decimals = maxDecimals
	}
	return new(uint256.Int).Mul(uint256.NewInt(n), pow10(decimals))
}

// DefaultParams returns the production defaults for the given debt token
// decimals.
func DefaultParams(debtDecimals uint8) Params {
	return Params{
		MinCollateralRatioBps:   15_000,
		LiquidationThresholdBps: 12_500,
		DebtDecimals:            debtDecimals,
		DefaultStaleAfter:       time.Hour,
		Limits: Limits{
			CooldownPeriod:        5 * time.Minute,
			MaxMintPerTx:          units(1_000, debtDecimals),
			MaxMintsPerUserPerDay: 20,
			MaxMintPerUserPerDay:  units(5_000, debtDecimals),
			MaxGlobalMintPerDay:   units(1_000_000, debtDecimals),
		},
		AutoReward: AutoRewardConfig{
			BaseReward:          units(10, debtDecimals),
			BonusMultiplierBps:  2_000,
			MinHoldTime:         time.Hour,
			MinEligibleRatioBps: 20_000,
		},
		AutoMintEnabled: true,
	}
}

// Clone returns a deep copy of the parameters.
func (p Params) Clone() Params {
	clone := p
	clone.Limits = p.Limits.Clone()
	clone.AutoReward = p.AutoReward.Clone()
	return clone
}

// Validate ensures the parameters are usable.
func (p Params) Validate() error {
	if p.DebtDecimals > maxDecimals {
		return fmt.Errorf("%w: debt decimals above %d", ErrInvalidConfig, maxDecimals)
	}
	if p.LiquidationThresholdBps < BasisPoints {
		return fmt.Errorf("%w: liquidation threshold below 100%%", ErrInvalidConfig)
	}
	if p.MinCollateralRatioBps <= p.LiquidationThresholdBps {
		return fmt.Errorf("%w: minimum ratio must exceed liquidation threshold", ErrInvalidConfig)
	}
	if p.DefaultStaleAfter < 0 {
		return fmt.Errorf("%w: negative staleness window", ErrInvalidConfig)
	}
	if err := p.Limits.Validate(); err != nil {
		return err
	}
	return p.AutoReward.Validate()
}

func (p Params) settings() *Settings {
	return &Settings{
		AutoMintEnabled: p.AutoMintEnabled,
		Limits:          p.Limits.Clone(),
		AutoReward:      p.AutoReward.Clone(),
	}
}

// CollateralParams is the input to AddCollateral.
type CollateralParams struct {
	Asset               common.Address
	Symbol              string
	Price               *uint256.Int
	MaxLTVBps           uint64
	LiquidationBonusBps uint64
	Decimals            uint8
	StaleAfter          time.Duration
}

// Validate checks the registration inputs.
func (c CollateralParams) Validate() error {
	if c.Asset == (common.Address{}) {
		return fmt.Errorf("%w: asset address required", ErrInvalidConfig)
	}
	if !isPositive(c.Price) {
		return ErrInvalidPrice
	}
	if c.MaxLTVBps == 0 || c.MaxLTVBps > BasisPoints {
		return fmt.Errorf("%w: max LTV must be within (0, 10000] bps", ErrInvalidConfig)
	}
	if c.LiquidationBonusBps > maxLiquidationBonusBps {
		return fmt.Errorf("%w: liquidation bonus above %d bps", ErrInvalidConfig, maxLiquidationBonusBps)
	}
	if c.Decimals > maxDecimals {
		return fmt.Errorf("%w: decimals above %d", ErrInvalidConfig, maxDecimals)
	}
	if c.StaleAfter < 0 {
		return fmt.Errorf("%w: negative staleness window", ErrInvalidConfig)
	}
	return nil
}
