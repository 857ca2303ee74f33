package keeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"synthvault/native/bank"
	"synthvault/native/vault"
)

var (
	admin      = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	oracle     = common.HexToAddress("0x0000000000000000000000000000000000000a02")
	liquidator = common.HexToAddress("0x0000000000000000000000000000000000000a03")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob        = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	weth       = common.HexToAddress("0x00000000000000000000000000000000000000e7")
	custody    = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	ghs        = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

func units(n uint64, decimals int) *uint256.Int {
	out := uint256.NewInt(n)
	for i := 0; i < decimals; i++ {
		out.Mul(out, uint256.NewInt(10))
	}
	return out
}

type harness struct {
	engine *vault.Engine
	ledger *bank.Ledger
	now    time.Time
}

// newHarness opens alice at 1 ETH / 15000 and bob at 1 ETH / 10000, then
// drops the ETH price from 25875 to 14490.
func newHarness(t *testing.T) *harness {
	t.Helper()
	roles := vault.NewRoleRegistry()
	roles.Grant(vault.RoleAdmin, admin)
	roles.Grant(vault.RoleOracle, oracle)
	roles.Grant(vault.RoleLiquidator, liquidator)

	params := vault.DefaultParams(6)
	params.Limits.MaxMintPerTx = units(20_000, 6)
	params.Limits.MaxMintPerUserPerDay = units(50_000, 6)

	ledger := bank.NewLedger(custody, ghs)
	engine, err := vault.NewEngine(vault.NewMemState(), params, roles, ledger, ledger)
	require.NoError(t, err)
	h := &harness{engine: engine, ledger: ledger, now: time.Unix(1_700_000_000, 0)}
	engine.SetClock(func() time.Time { return h.now })

	require.NoError(t, engine.AddCollateral(admin, vault.CollateralParams{
		Asset:               weth,
		Symbol:              "WETH",
		Price:               uint256.NewInt(25_875_000_000),
		MaxLTVBps:           7_000,
		LiquidationBonusBps: 500,
		Decimals:            18,
	}))
	ctx := context.Background()
	for user, minted := range map[common.Address]uint64{alice: 15_000, bob: 10_000} {
		require.NoError(t, ledger.Credit(weth, user, units(1, 18)))
		require.NoError(t, engine.DepositAndMint(ctx, user, weth, units(1, 18), units(minted, 6)))
	}
	require.NoError(t, engine.UpdatePrice(oracle, weth, uint256.NewInt(14_490_000_000)))
	require.NoError(t, ledger.Mint(ctx, liquidator, units(20_000, 6)))
	return h
}

func TestScanLiquidatesUndercollateralisedPositions(t *testing.T) {
	h := newHarness(t)
	k := New(h.engine, liquidator)

	report, err := k.Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Candidates)
	require.Len(t, report.Liquidated, 1)
	res := report.Liquidated[0]
	require.Equal(t, alice, res.Target)
	require.Equal(t, units(13_800, 6).Dec(), res.Repaid.Dec())
	require.Equal(t, "999999999999999999", res.TotalSeized.Dec())

	view, err := h.engine.Position(alice, weth)
	require.NoError(t, err)
	require.Equal(t, units(1_200, 6).Dec(), view.Debt.Dec())

	bobView, err := h.engine.Position(bob, weth)
	require.NoError(t, err)
	require.Equal(t, units(10_000, 6).Dec(), bobView.Debt.Dec())
}

func TestScanSkipsStalePrices(t *testing.T) {
	h := newHarness(t)
	h.now = h.now.Add(2 * time.Hour)
	report, err := New(h.engine, liquidator).Scan(context.Background())
	require.NoError(t, err)
	require.Zero(t, report.Candidates)
	require.Empty(t, report.Liquidated)
}

func TestScanWithoutLiquidatorRoleCountsFailures(t *testing.T) {
	h := newHarness(t)
	report, err := New(h.engine, bob).Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	require.Empty(t, report.Liquidated)
}

type racingEngine struct {
	calls int
}

func (r *racingEngine) Collaterals() ([]*vault.CollateralConfig, error) {
	return []*vault.CollateralConfig{{Asset: weth, Enabled: true}, {Asset: ghs, Enabled: false}}, nil
}

func (r *racingEngine) LiquidationCandidates(asset common.Address) ([]vault.Candidate, error) {
	if asset != weth {
		return nil, errors.New("disabled asset scanned")
	}
	return []vault.Candidate{
		{User: alice, Asset: weth, MaxRepay: uint256.NewInt(10)},
		{User: bob, Asset: weth, MaxRepay: new(uint256.Int)},
	}, nil
}

func (r *racingEngine) Liquidate(context.Context, common.Address, common.Address, common.Address, *uint256.Int) (*vault.LiquidationResult, error) {
	r.calls++
	return nil, vault.ErrNotLiquidatable
}

func TestScanToleratesRaces(t *testing.T) {
	engine := &racingEngine{}
	report, err := New(engine, liquidator).Scan(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Candidates)
	require.Zero(t, report.Failed)
	require.Equal(t, 1, engine.calls)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(&racingEngine{}, liquidator, WithInterval(time.Millisecond)).Run(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("keeper did not stop")
	}
}
