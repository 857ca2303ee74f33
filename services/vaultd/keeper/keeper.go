package keeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"synthvault/native/vault"
	"synthvault/observability/metrics"
)

// Engine is the subset of the vault engine the keeper drives.
type Engine interface {
	Collaterals() ([]*vault.CollateralConfig, error)
	LiquidationCandidates(asset common.Address) ([]vault.Candidate, error)
	Liquidate(ctx context.Context, liquidator, target, asset common.Address, repay *uint256.Int) (*vault.LiquidationResult, error)
}

// Keeper periodically liquidates positions below the liquidation threshold,
// repaying as much debt as the position's collateral can cover.
type Keeper struct {
	engine   Engine
	identity common.Address
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.WorkerMetrics
}

// Option customises the keeper.
type Option func(*Keeper)

func WithInterval(d time.Duration) Option {
	return func(k *Keeper) { k.interval = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(k *Keeper) { k.logger = l }
}

func WithMetrics(m *metrics.WorkerMetrics) Option {
	return func(k *Keeper) { k.metrics = m }
}

// New builds a keeper acting as identity, which must hold the liquidator
// role.
func New(engine Engine, identity common.Address, opts ...Option) *Keeper {
	k := &Keeper{engine: engine, identity: identity, interval: 30 * time.Second}
	for _, opt := range opts {
		opt(k)
	}
	if k.logger == nil {
		k.logger = slog.Default()
	}
	k.logger = k.logger.With("component", "keeper")
	return k
}

// Report summarises one scan.
type Report struct {
	Candidates int
	Liquidated []*vault.LiquidationResult
	Failed     int
}

// Run scans on every tick until ctx is cancelled.
func (k *Keeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()
	for {
		if _, err := k.Scan(ctx); err != nil {
			k.logger.Error("keeper scan failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Scan walks every enabled collateral asset once. Assets with stale prices
// are skipped; they cannot be liquidated until the oracle catches up.
func (k *Keeper) Scan(ctx context.Context) (Report, error) {
	var report Report
	assets, err := k.engine.Collaterals()
	if err != nil {
		return report, err
	}
	for _, cfg := range assets {
		if !cfg.Enabled {
			continue
		}
		candidates, err := k.engine.LiquidationCandidates(cfg.Asset)
		if errors.Is(err, vault.ErrPriceStale) {
			k.logger.Warn("skipping asset with stale price", "asset", cfg.Asset.Hex())
			continue
		}
		if err != nil {
			return report, err
		}
		report.Candidates += len(candidates)
		for _, c := range candidates {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			res, err := k.liquidate(ctx, c)
			if err != nil {
				report.Failed++
				continue
			}
			if res != nil {
				report.Liquidated = append(report.Liquidated, res)
			}
		}
	}
	k.metrics.RecordScan(report.Candidates)
	return report, nil
}

func (k *Keeper) liquidate(ctx context.Context, c vault.Candidate) (*vault.LiquidationResult, error) {
	if c.MaxRepay == nil || c.MaxRepay.IsZero() {
		k.metrics.RecordLiquidation("skipped")
		return nil, nil
	}
	res, err := k.engine.Liquidate(ctx, k.identity, c.User, c.Asset, c.MaxRepay)
	switch {
	case err == nil:
		k.metrics.RecordLiquidation("success")
		k.logger.Info("position liquidated",
			"user", c.User.Hex(),
			"asset", c.Asset.Hex(),
			"repaid", res.Repaid.Dec(),
			"seized", res.TotalSeized.Dec())
		return res, nil
	case errors.Is(err, vault.ErrNotLiquidatable), errors.Is(err, vault.ErrPriceStale):
		// The position moved between scan and execution.
		k.metrics.RecordLiquidation("raced")
		k.logger.Debug("candidate no longer liquidatable", "user", c.User.Hex(), "error", err)
		return nil, nil
	default:
		k.metrics.RecordLiquidation("error")
		k.logger.Error("liquidation failed", "user", c.User.Hex(), "asset", c.Asset.Hex(), "error", err)
		return nil, err
	}
}
