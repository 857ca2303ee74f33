package pricer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"synthvault/native/oracle"
	"synthvault/observability/metrics"
)

// priceDecimals is the fixed-point scale of vault prices (PricePrecision).
const priceDecimals = 6

// Engine is the subset of the vault engine the pricer drives.
type Engine interface {
	UpdatePrice(caller, asset common.Address, price *uint256.Int) error
}

// Target binds a collateral asset to the pair quoted for it.
type Target struct {
	Asset common.Address
	Base  string
	Quote string
}

// Pricer pushes fresh oracle prices into the engine on a fixed cadence.
type Pricer struct {
	engine   Engine
	feed     oracle.Feed
	identity common.Address
	targets  []Target
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.WorkerMetrics
	now      func() time.Time
}

type Option func(*Pricer)

func WithInterval(d time.Duration) Option { return func(p *Pricer) { p.interval = d } }

func WithLogger(l *slog.Logger) Option { return func(p *Pricer) { p.logger = l } }

func WithMetrics(m *metrics.WorkerMetrics) Option { return func(p *Pricer) { p.metrics = m } }

// New builds a pricer acting as identity, which must hold the oracle role.
func New(engine Engine, feed oracle.Feed, identity common.Address, targets []Target, opts ...Option) *Pricer {
	p := &Pricer{
		engine:   engine,
		feed:     feed,
		identity: identity,
		targets:  append([]Target(nil), targets...),
		interval: time.Minute,
		timeout:  15 * time.Second,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "pricer")
	return p
}

// Run refreshes on every tick until ctx is cancelled.
func (p *Pricer) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if err := p.Refresh(ctx); err != nil {
			p.logger.Warn("price refresh incomplete", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Refresh quotes every target once. A target whose feeds fail or are stale
// keeps its previous price; the engine's staleness guard takes over if that
// persists. The returned error joins every per-target failure.
func (p *Pricer) Refresh(ctx context.Context) error {
	var errs []error
	for _, target := range p.targets {
		if err := p.refreshOne(ctx, target); err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", target.Base, target.Quote, err))
		}
	}
	return errors.Join(errs...)
}

func (p *Pricer) refreshOne(ctx context.Context, target Target) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	symbol := target.Base
	q, err := p.feed.Quote(ctx, target.Base, target.Quote)
	if err != nil {
		p.metrics.RecordRefresh(symbol, "feed_error", 0)
		return err
	}
	price, err := q.Scaled(priceDecimals)
	if err != nil || price.IsZero() {
		p.metrics.RecordRefresh(symbol, "invalid", 0)
		if err == nil {
			err = oracle.ErrInvalidRate
		}
		return err
	}
	if err := p.engine.UpdatePrice(p.identity, target.Asset, price); err != nil {
		p.metrics.RecordRefresh(symbol, "rejected", 0)
		return err
	}
	p.metrics.RecordRefresh(symbol, "success", p.now().Unix())
	p.logger.Debug("price pushed",
		"asset", target.Asset.Hex(),
		"pair", target.Base+"/"+target.Quote,
		"price", price.Dec(),
		"source", q.Source)
	return nil
}
