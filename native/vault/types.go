package vault

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "synthvault/native/common"
)

// CollateralConfig is the registry entry for one collateral asset.
type CollateralConfig struct {
	Asset               common.Address
	Symbol              string
	Price               *uint256.Int
	MaxLTVBps           uint64
	LiquidationBonusBps uint64
	Decimals            uint8
	Enabled             bool
	LastPriceUpdate     time.Time
	// StaleAfter bounds the age of Price. Zero falls back to the engine default.
	StaleAfter time.Duration
}

// Clone returns a deep copy of the configuration.
func (c *CollateralConfig) Clone() *CollateralConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Price = cloneAmount(c.Price)
	return &clone
}

// Position tracks the collateral and debt of one (user, asset) pair.
type Position struct {
	User             common.Address
	Asset            common.Address
	Collateral       *uint256.Int
	Debt             *uint256.Int
	OpenedAt         time.Time
	LastMintAt       time.Time
	LastAutoRewardAt time.Time
}

func newPosition(user, asset common.Address) *Position {
	return &Position{User: user, Asset: asset, Collateral: zero(), Debt: zero()}
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Collateral = cloneAmount(p.Collateral)
	clone.Debt = cloneAmount(p.Debt)
	return &clone
}

// Empty reports whether both balances are zero.
func (p *Position) Empty() bool {
	return p == nil || (!isPositive(p.Collateral) && !isPositive(p.Debt))
}

// MintStatus captures the rolling daily mint counters for a user or for the
// protocol as a whole. LastMintAt is only meaningful for users.
type MintStatus struct {
	DailyMintCount uint64
	DailyMinted    *uint256.Int
	WindowStart    time.Time
	LastMintAt     time.Time
}

// Clone returns a deep copy of the status.
func (s *MintStatus) Clone() *MintStatus {
	if s == nil {
		return &MintStatus{DailyMinted: zero()}
	}
	clone := *s
	clone.DailyMinted = cloneAmount(s.DailyMinted)
	return &clone
}

func (s *MintStatus) usage() nativecommon.WindowUsage {
	if s == nil {
		return nativecommon.WindowUsage{}
	}
	return nativecommon.WindowUsage{Count: s.DailyMintCount, Amount: cloneAmount(s.DailyMinted), Start: s.WindowStart}
}

func (s *MintStatus) apply(u nativecommon.WindowUsage) {
	s.DailyMintCount = u.Count
	s.DailyMinted = cloneAmount(u.Amount)
	s.WindowStart = u.Start
}

// AutoRewardConfig parameterises the protocol-paid reward.
type AutoRewardConfig struct {
	BaseReward          *uint256.Int
	BonusMultiplierBps  uint64
	MinHoldTime         time.Duration
	MinEligibleRatioBps uint64
}

// Clone returns a deep copy of the reward configuration.
func (c AutoRewardConfig) Clone() AutoRewardConfig {
	clone := c
	clone.BaseReward = cloneAmount(c.BaseReward)
	return clone
}

// Settings holds the mutable engine-wide switches persisted alongside
// positions.
type Settings struct {
	Paused          bool
	AutoMintEnabled bool
	Limits          Limits
	AutoReward      AutoRewardConfig
}

// Clone returns a deep copy of the settings.
func (s *Settings) Clone() *Settings {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Limits = s.Limits.Clone()
	clone.AutoReward = s.AutoReward.Clone()
	return &clone
}

// PositionView is the read model returned by Engine.Position.
type PositionView struct {
	User             common.Address
	Asset            common.Address
	Collateral       *uint256.Int
	Debt             *uint256.Int
	CollateralValue  *uint256.Int
	RatioBps         uint64
	Liquidatable     bool
	PriceFresh       bool
	OpenedAt         time.Time
	LastMintAt       time.Time
	LastAutoRewardAt time.Time
}

// UserMintStatusView reports a user's counters as observed now.
type UserMintStatusView struct {
	User              common.Address
	DailyMintCount    uint64
	DailyMinted       *uint256.Int
	DailyRemaining    *uint256.Int
	MintsRemaining    uint64
	WindowStart       time.Time
	LastMintAt        time.Time
	CooldownRemaining time.Duration
}

// GlobalStatusView summarises protocol-wide counters and balances.
type GlobalStatusView struct {
	DailyMinted            *uint256.Int
	DailyRemaining         *uint256.Int
	WindowStart            time.Time
	TotalMinted            *uint256.Int
	TotalCollateralByAsset map[common.Address]*uint256.Int
	AutoMintEnabled        bool
	Paused                 bool
	CollateralCount        int
}

// LiquidationResult describes the settlement of a liquidation.
type LiquidationResult struct {
	Target      common.Address
	Asset       common.Address
	Liquidator  common.Address
	Repaid      *uint256.Int
	Seized      *uint256.Int
	Bonus       *uint256.Int
	TotalSeized *uint256.Int
	RatioBps    uint64
}

// Candidate is a position currently below the liquidation threshold.
type Candidate struct {
	User       common.Address
	Asset      common.Address
	Collateral *uint256.Int
	Debt       *uint256.Int
	RatioBps   uint64
	MaxRepay   *uint256.Int
}
