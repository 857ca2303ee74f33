package vaultd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	enginecfg "synthvault/config"
	"synthvault/native/bank"
	nativecommon "synthvault/native/common"
	"synthvault/native/oracle"
	"synthvault/native/vault"
	"synthvault/observability"
	"synthvault/observability/metrics"
	"synthvault/services/vaultd/config"
	"synthvault/services/vaultd/journal"
	"synthvault/services/vaultd/keeper"
	"synthvault/services/vaultd/pricer"
	"synthvault/services/vaultd/server"
	"synthvault/storage"
)

// app holds the wired daemon components.
type app struct {
	engine  *vault.Engine
	ledger  *bank.Ledger
	halt    *nativecommon.ModuleSwitch
	db      storage.Database
	journal *journal.Journal
	hub     *server.Hub
	handler http.Handler
	keeper  *keeper.Keeper
	pricer  *pricer.Pricer
	logger  *slog.Logger
}

func (a *app) Close() error {
	var err error
	if a.journal != nil {
		err = a.journal.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
	return err
}

func openDatabase(cfg *enginecfg.Config) (storage.Database, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	if backend == "memory" {
		return storage.NewMemDB(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	switch backend {
	case "bolt":
		db, err := storage.NewBoltDB(filepath.Join(cfg.DataDir, "vault.bolt"))
		if err != nil {
			return nil, err
		}
		return db, nil
	case "leveldb", "":
		db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "vault-leveldb"))
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.StorageBackend)
	}
}

// build wires the engine and its satellites from the daemon and engine
// configuration. The caller owns Close on the returned app.
func build(cfg config.Config, engineCfg *enginecfg.Config, logger *slog.Logger) (_ *app, err error) {
	params, err := engineCfg.Parameters()
	if err != nil {
		return nil, fmt.Errorf("engine parameters: %w", err)
	}
	collaterals, err := engineCfg.CollateralParams()
	if err != nil {
		return nil, fmt.Errorf("engine collateral: %w", err)
	}
	roles := engineCfg.RoleRegistry()

	a := &app{hub: server.NewHub(logger), logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if a.db, err = openDatabase(engineCfg); err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	a.ledger = bank.NewLedger(common.HexToAddress(cfg.Custody), common.HexToAddress(cfg.Synthetic))
	a.engine, err = vault.NewEngine(vault.NewKVState(a.db), params, roles, a.ledger, a.ledger)
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}
	a.engine.SetLogger(logger)
	a.halt = nativecommon.NewModuleSwitch()
	if cfg.PauseOnStart {
		a.halt.Halt(vault.ModuleName)
		logger.Warn("vault halted on start; resume via /v1/admin/resume")
	}
	a.engine.SetPauses(a.halt)
	a.engine.SetObserver(observability.Vault())

	sinks := vault.MultiSink{a.hub, observability.Vault()}
	var events server.EventLog
	if path := strings.TrimSpace(cfg.JournalPath); path != "" {
		if a.journal, err = journal.Open(path, logger); err != nil {
			return nil, err
		}
		sinks = append(sinks, a.journal)
		events = a.journal
	}
	a.engine.SetEventSink(sinks)

	if err := seedCollateral(a.engine, engineCfg, collaterals, logger); err != nil {
		return nil, err
	}

	var faucet server.Faucet
	if !strings.EqualFold(cfg.Environment, "production") {
		faucet = a.ledger
	}
	srv, err := server.New(server.Config{
		Engine: a.engine,
		Access: roles,
		Events: events,
		Hub:    a.hub,
		Faucet: faucet,
		Halt:   a.halt,
		Auth: server.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew,
		},
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}
	a.handler = srv.Handler()

	workers := metrics.Workers()
	if cfg.Keeper.Enabled {
		a.keeper = keeper.New(a.engine, common.HexToAddress(cfg.Keeper.Identity),
			keeper.WithInterval(cfg.Keeper.Interval),
			keeper.WithLogger(logger),
			keeper.WithMetrics(workers),
		)
	}
	if cfg.Pricer.Enabled {
		feed, targets, err := buildFeed(cfg.Pricer)
		if err != nil {
			return nil, err
		}
		a.pricer = pricer.New(a.engine, feed, common.HexToAddress(cfg.Pricer.Identity), targets,
			pricer.WithInterval(cfg.Pricer.Interval),
			pricer.WithLogger(logger),
			pricer.WithMetrics(workers),
		)
	}
	return a, nil
}

// seedCollateral registers configured assets that the persisted registry does
// not know yet. Existing entries are left alone so runtime changes survive
// restarts.
func seedCollateral(engine *vault.Engine, engineCfg *enginecfg.Config, collaterals []vault.CollateralParams, logger *slog.Logger) error {
	if len(collaterals) == 0 {
		return nil
	}
	if len(engineCfg.Roles.Admins) == 0 {
		return errors.New("seeding collateral requires at least one admin role holder")
	}
	seeder := common.HexToAddress(engineCfg.Roles.Admins[0])
	for _, params := range collaterals {
		_, err := engine.CollateralConfig(params.Asset)
		switch {
		case err == nil:
			continue
		case !errors.Is(err, vault.ErrUnknownCollateral):
			return fmt.Errorf("lookup collateral %s: %w", params.Asset.Hex(), err)
		}
		if err := engine.AddCollateral(seeder, params); err != nil {
			return fmt.Errorf("seed collateral %s: %w", params.Symbol, err)
		}
		logger.Info("collateral seeded", "asset", params.Asset.Hex(), "symbol", params.Symbol)
	}
	return nil
}

// buildFeed assembles the oracle stack: CoinGecko first when configured, the
// manual table as fallback, and composite routes for assets priced through an
// intermediate currency.
func buildFeed(cfg config.PricerConfig) (oracle.Feed, []pricer.Target, error) {
	agg := oracle.NewAggregator(cfg.MaxAge, cfg.CacheTTL)
	if endpoint := strings.TrimSpace(cfg.CoinGeckoEndpoint); endpoint != "" {
		client := &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
		agg.Register("coingecko", oracle.NewCoinGeckoFeed(client, endpoint, cfg.CoinGeckoIDs))
	}
	if len(cfg.Manual) > 0 {
		manual := oracle.NewManualFeed()
		now := time.Now()
		for pair, rate := range cfg.Manual {
			base, quote, _ := strings.Cut(pair, "/")
			if err := manual.SetDecimal(base, quote, rate, now); err != nil {
				return nil, nil, fmt.Errorf("pricer.manual[%s]: %w", pair, err)
			}
		}
		agg.Register("manual", manual)
	}
	if len(agg.Feeds()) == 0 {
		return nil, nil, errors.New("pricer: no oracle feeds configured")
	}

	routes := make(map[string]oracle.Feed)
	targets := make([]pricer.Target, 0, len(cfg.Assets))
	for _, asset := range cfg.Assets {
		if asset.Via != "" {
			routes[asset.Symbol+"/"+asset.Quote] = oracle.NewCompositeFeed(asset.Via, agg, agg)
		}
		targets = append(targets, pricer.Target{
			Asset: common.HexToAddress(asset.Asset),
			Base:  asset.Symbol,
			Quote: asset.Quote,
		})
	}
	feed := oracle.FeedFunc(func(ctx context.Context, base, quote string) (oracle.Quote, error) {
		if route, ok := routes[strings.ToUpper(base)+"/"+strings.ToUpper(quote)]; ok {
			return route.Quote(ctx, base, quote)
		}
		return agg.Quote(ctx, base, quote)
	})
	return feed, targets, nil
}
