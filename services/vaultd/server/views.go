package server

import (
	"time"

	"github.com/holiman/uint256"

	"synthvault/native/vault"
)

// Amounts are rendered as base-unit decimal strings and times as unix
// seconds, zero meaning never.

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

func unix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

type positionJSON struct {
	User             string `json:"user"`
	Asset            string `json:"asset"`
	Collateral       string `json:"collateral"`
	Debt             string `json:"debt"`
	CollateralValue  string `json:"collateralValue"`
	RatioBps         uint64 `json:"ratioBps"`
	Liquidatable     bool   `json:"liquidatable"`
	PriceFresh       bool   `json:"priceFresh"`
	OpenedAt         int64  `json:"openedAt"`
	LastMintAt       int64  `json:"lastMintAt"`
	LastAutoRewardAt int64  `json:"lastAutoRewardAt"`
}

func positionView(v *vault.PositionView) positionJSON {
	return positionJSON{
		User:             v.User.Hex(),
		Asset:            v.Asset.Hex(),
		Collateral:       dec(v.Collateral),
		Debt:             dec(v.Debt),
		CollateralValue:  dec(v.CollateralValue),
		RatioBps:         v.RatioBps,
		Liquidatable:     v.Liquidatable,
		PriceFresh:       v.PriceFresh,
		OpenedAt:         unix(v.OpenedAt),
		LastMintAt:       unix(v.LastMintAt),
		LastAutoRewardAt: unix(v.LastAutoRewardAt),
	}
}

type mintStatusJSON struct {
	User                     string `json:"user"`
	DailyMintCount           uint64 `json:"dailyMintCount"`
	DailyMinted              string `json:"dailyMinted"`
	DailyRemaining           string `json:"dailyRemaining"`
	MintsRemaining           uint64 `json:"mintsRemaining"`
	WindowStart              int64  `json:"windowStart"`
	LastMintAt               int64  `json:"lastMintAt"`
	CooldownRemainingSeconds int64  `json:"cooldownRemainingSeconds"`
}

func mintStatusView(v *vault.UserMintStatusView) mintStatusJSON {
	return mintStatusJSON{
		User:                     v.User.Hex(),
		DailyMintCount:           v.DailyMintCount,
		DailyMinted:              dec(v.DailyMinted),
		DailyRemaining:           dec(v.DailyRemaining),
		MintsRemaining:           v.MintsRemaining,
		WindowStart:              unix(v.WindowStart),
		LastMintAt:               unix(v.LastMintAt),
		CooldownRemainingSeconds: int64((v.CooldownRemaining + time.Second - 1) / time.Second),
	}
}

type globalStatusJSON struct {
	DailyMinted            string            `json:"dailyMinted"`
	DailyRemaining         string            `json:"dailyRemaining"`
	WindowStart            int64             `json:"windowStart"`
	TotalMinted            string            `json:"totalMinted"`
	TotalCollateralByAsset map[string]string `json:"totalCollateralByAsset"`
	TotalValueLocked       string            `json:"totalValueLocked"`
	AutoMintEnabled        bool              `json:"autoMintEnabled"`
	Paused                 bool              `json:"paused"`
	CollateralCount        int               `json:"collateralCount"`
}

func globalStatusView(v *vault.GlobalStatusView, tvl *uint256.Int) globalStatusJSON {
	byAsset := make(map[string]string, len(v.TotalCollateralByAsset))
	for asset, amount := range v.TotalCollateralByAsset {
		byAsset[asset.Hex()] = dec(amount)
	}
	return globalStatusJSON{
		DailyMinted:            dec(v.DailyMinted),
		DailyRemaining:         dec(v.DailyRemaining),
		WindowStart:            unix(v.WindowStart),
		TotalMinted:            dec(v.TotalMinted),
		TotalCollateralByAsset: byAsset,
		TotalValueLocked:       dec(tvl),
		AutoMintEnabled:        v.AutoMintEnabled,
		Paused:                 v.Paused,
		CollateralCount:        v.CollateralCount,
	}
}

type collateralJSON struct {
	Asset               string `json:"asset"`
	Symbol              string `json:"symbol"`
	Price               string `json:"price"`
	MaxLTVBps           uint64 `json:"maxLtvBps"`
	LiquidationBonusBps uint64 `json:"liquidationBonusBps"`
	Decimals            uint8  `json:"decimals"`
	Enabled             bool   `json:"enabled"`
	LastPriceUpdate     int64  `json:"lastPriceUpdate"`
	StaleAfterSeconds   int64  `json:"staleAfterSeconds"`
}

func collateralView(c *vault.CollateralConfig) collateralJSON {
	return collateralJSON{
		Asset:               c.Asset.Hex(),
		Symbol:              c.Symbol,
		Price:               dec(c.Price),
		MaxLTVBps:           c.MaxLTVBps,
		LiquidationBonusBps: c.LiquidationBonusBps,
		Decimals:            c.Decimals,
		Enabled:             c.Enabled,
		LastPriceUpdate:     unix(c.LastPriceUpdate),
		StaleAfterSeconds:   int64(c.StaleAfter / time.Second),
	}
}

type candidateJSON struct {
	User       string `json:"user"`
	Asset      string `json:"asset"`
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
	RatioBps   uint64 `json:"ratioBps"`
	MaxRepay   string `json:"maxRepay"`
}

func candidateView(c vault.Candidate) candidateJSON {
	return candidateJSON{
		User:       c.User.Hex(),
		Asset:      c.Asset.Hex(),
		Collateral: dec(c.Collateral),
		Debt:       dec(c.Debt),
		RatioBps:   c.RatioBps,
		MaxRepay:   dec(c.MaxRepay),
	}
}

type liquidationJSON struct {
	Target      string `json:"target"`
	Asset       string `json:"asset"`
	Liquidator  string `json:"liquidator"`
	Repaid      string `json:"repaid"`
	Seized      string `json:"seized"`
	Bonus       string `json:"bonus"`
	TotalSeized string `json:"totalSeized"`
	RatioBps    uint64 `json:"ratioBps"`
}

func liquidationView(r *vault.LiquidationResult) liquidationJSON {
	return liquidationJSON{
		Target:      r.Target.Hex(),
		Asset:       r.Asset.Hex(),
		Liquidator:  r.Liquidator.Hex(),
		Repaid:      dec(r.Repaid),
		Seized:      dec(r.Seized),
		Bonus:       dec(r.Bonus),
		TotalSeized: dec(r.TotalSeized),
		RatioBps:    r.RatioBps,
	}
}
