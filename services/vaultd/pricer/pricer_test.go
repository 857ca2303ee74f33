package pricer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"synthvault/native/bank"
	"synthvault/native/oracle"
	"synthvault/native/vault"
)

var (
	admin    = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	oracleID = common.HexToAddress("0x0000000000000000000000000000000000000a02")
	weth     = common.HexToAddress("0x00000000000000000000000000000000000000e7")
	wbtc     = common.HexToAddress("0x00000000000000000000000000000000000000b7")
)

type recordingEngine struct {
	mu     sync.Mutex
	prices map[common.Address]*uint256.Int
	fail   error
}

func (r *recordingEngine) UpdatePrice(_ common.Address, asset common.Address, price *uint256.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	if r.prices == nil {
		r.prices = make(map[common.Address]*uint256.Int)
	}
	r.prices[asset] = price
	return nil
}

func TestRefreshPushesCompositePrice(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	manual := oracle.NewManualFeed()
	require.NoError(t, manual.SetDecimal("ETH", "USD", "2500", now))
	require.NoError(t, manual.SetDecimal("USD", "GHS", "10.35", now))

	engine := &recordingEngine{}
	p := New(engine, oracle.NewCompositeFeed("USD", manual, manual), oracleID, []Target{{Asset: weth, Base: "ETH", Quote: "GHS"}})
	require.NoError(t, p.Refresh(context.Background()))
	require.Equal(t, uint64(25_875_000_000), engine.prices[weth].Uint64())
}

func TestRefreshSkipsFailingTargets(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	manual := oracle.NewManualFeed()
	require.NoError(t, manual.SetDecimal("ETH", "GHS", "25875", now))

	engine := &recordingEngine{}
	p := New(engine, manual, oracleID, []Target{
		{Asset: wbtc, Base: "BTC", Quote: "GHS"},
		{Asset: weth, Base: "ETH", Quote: "GHS"},
	})
	err := p.Refresh(context.Background())
	require.ErrorIs(t, err, oracle.ErrQuoteNotFound)
	require.Contains(t, engine.prices, weth)
	require.NotContains(t, engine.prices, wbtc)

	engine.fail = vault.ErrUnauthorized
	require.True(t, errors.Is(p.Refresh(context.Background()), vault.ErrUnauthorized))
}

func TestRefreshUpdatesEngine(t *testing.T) {
	roles := vault.NewRoleRegistry()
	roles.Grant(vault.RoleAdmin, admin)
	roles.Grant(vault.RoleOracle, oracleID)
	ledger := bank.NewLedger(common.HexToAddress("0xc0"), common.HexToAddress("0xc1"))
	engine, err := vault.NewEngine(vault.NewMemState(), vault.DefaultParams(6), roles, ledger, ledger)
	require.NoError(t, err)
	require.NoError(t, engine.AddCollateral(admin, vault.CollateralParams{
		Asset: weth, Symbol: "WETH", Price: uint256.NewInt(1), MaxLTVBps: 7_000, LiquidationBonusBps: 500, Decimals: 18,
	}))

	manual := oracle.NewManualFeed()
	require.NoError(t, manual.SetDecimal("ETH", "GHS", "14490.5", time.Now()))
	agg := oracle.NewAggregator(time.Minute, 0)
	agg.Register("manual", manual)

	p := New(engine, agg, oracleID, []Target{{Asset: weth, Base: "ETH", Quote: "GHS"}})
	require.NoError(t, p.Refresh(context.Background()))

	cfg, err := engine.CollateralConfig(weth)
	require.NoError(t, err)
	require.Equal(t, uint64(14_490_500_000), cfg.Price.Uint64())

	intruder := New(engine, agg, admin, []Target{{Asset: weth, Base: "ETH", Quote: "GHS"}})
	require.ErrorIs(t, intruder.Refresh(context.Background()), vault.ErrUnauthorized)
}
