package vault

import (
	"errors"
	"fmt"
)

var (
	ErrNilState              = errors.New("vault: state not configured")
	ErrInvalidAmount         = errors.New("vault: amount must be positive")
	ErrCollateralNotEnabled  = errors.New("vault: collateral not enabled")
	ErrPriceStale            = errors.New("vault: price stale")
	ErrVaultUndercollateral  = errors.New("vault: vault undercollateralized")
	ErrBelowMinimumRatio     = errors.New("vault: below minimum collateral ratio")
	ErrCooldownNotMet        = errors.New("vault: mint cooldown not met")
	ErrExceedsMaxMintsPerDay = errors.New("vault: exceeds max mints per day")
	ErrExceedsDailyLimit     = errors.New("vault: exceeds daily mint limit")
	ErrExceedsGlobalLimit    = errors.New("vault: exceeds global daily mint limit")
	ErrNotLiquidatable       = errors.New("vault: position not liquidatable")
	ErrInsufficientColl      = errors.New("vault: insufficient collateral")
	ErrAutoMintDisabled      = errors.New("vault: auto mint disabled")
	ErrEnforcedPause         = errors.New("vault: enforced pause")
	ErrUnauthorized          = errors.New("vault: unauthorized")
	ErrRewardIneligible      = errors.New("vault: position not eligible for auto reward")
	ErrInvalidConfig         = errors.New("vault: invalid configuration")
	ErrMathOverflow          = errors.New("vault: arithmetic overflow")
	ErrStateCommit           = errors.New("vault: state commit failed")
	ErrLedger                = errors.New("vault: ledger instruction failed")
)

var (
	ErrExceedsMaxMintPerTx = fmt.Errorf("%w: exceeds max mint per transaction", ErrInvalidAmount)
	ErrExceedsDebt         = fmt.Errorf("%w: exceeds outstanding debt", ErrInvalidAmount)
	ErrInvalidPrice        = fmt.Errorf("%w: price must be positive", ErrInvalidAmount)
	ErrUnknownCollateral   = fmt.Errorf("%w: collateral not registered", ErrCollateralNotEnabled)
	ErrCollateralExists    = fmt.Errorf("%w: collateral already registered", ErrInvalidConfig)
)

// ErrorKind returns the stable identifier for a vault error, suitable for
// API payloads and metric labels. Unknown errors map to "internal".
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrExceedsMaxMintPerTx):
		return "ExceedsMaxMintPerTx"
	case errors.Is(err, ErrUnknownCollateral):
		return "UnknownCollateral"
	case errors.Is(err, ErrInvalidAmount):
		return "InvalidAmount"
	case errors.Is(err, ErrCollateralNotEnabled):
		return "CollateralNotEnabled"
	case errors.Is(err, ErrPriceStale):
		return "PriceStale"
	case errors.Is(err, ErrVaultUndercollateral):
		return "VaultUndercollateralized"
	case errors.Is(err, ErrBelowMinimumRatio):
		return "BelowMinimumRatio"
	case errors.Is(err, ErrCooldownNotMet):
		return "CooldownNotMet"
	case errors.Is(err, ErrExceedsMaxMintsPerDay):
		return "ExceedsMaxMintsPerDay"
	case errors.Is(err, ErrExceedsDailyLimit):
		return "ExceedsDailyLimit"
	case errors.Is(err, ErrExceedsGlobalLimit):
		return "ExceedsGlobalLimit"
	case errors.Is(err, ErrNotLiquidatable):
		return "NotLiquidatable"
	case errors.Is(err, ErrInsufficientColl):
		return "InsufficientCollateral"
	case errors.Is(err, ErrAutoMintDisabled):
		return "AutoMintDisabled"
	case errors.Is(err, ErrEnforcedPause):
		return "EnforcedPause"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrRewardIneligible):
		return "RewardIneligible"
	case errors.Is(err, ErrInvalidConfig):
		return "InvalidConfig"
	case errors.Is(err, ErrMathOverflow):
		return "MathOverflow"
	case errors.Is(err, ErrLedger):
		return "LedgerFailure"
	default:
		return "internal"
	}
}
