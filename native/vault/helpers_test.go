package vault

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"synthvault/native/bank"
)

var (
	admin      = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	oracle     = common.HexToAddress("0x0000000000000000000000000000000000000a02")
	liquidator = common.HexToAddress("0x0000000000000000000000000000000000000a03")
	emergency  = common.HexToAddress("0x0000000000000000000000000000000000000a04")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob        = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	weth       = common.HexToAddress("0x00000000000000000000000000000000000000e7")
	custody    = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	ghs        = common.HexToAddress("0x00000000000000000000000000000000000000c1")
)

const (
	debtDecimals = 6
	ethDecimals  = 18
)

// 2500 USD/ETH x 10.35 GHS/USD and the crash price 1400 x 10.35.
var (
	priceETH      = uint256.NewInt(25_875_000_000)
	crashPriceETH = uint256.NewInt(14_490_000_000)
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// debt returns n whole synthetic units.
func debt(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), pow10(debtDecimals))
}

// eth returns n/den whole ETH in base units.
func eth(n, den uint64) *uint256.Int {
	out := new(uint256.Int).Mul(uint256.NewInt(n), pow10(ethDecimals))
	return out.Div(out, uint256.NewInt(den))
}

type fixture struct {
	engine *Engine
	state  State
	ledger *bank.Ledger
	clock  *testClock
	events *EventBuffer
	roles  *RoleRegistry
}

// scenarioParams lifts the per-transaction cap so the larger scenario mints
// fit in one call.
func scenarioParams() Params {
	params := DefaultParams(debtDecimals)
	params.Limits.MaxMintPerTx = debt(20_000)
	params.Limits.MaxMintPerUserPerDay = debt(50_000)
	return params
}

func newFixture(t *testing.T, params Params) *fixture {
	t.Helper()
	return newFixtureWithState(t, params, NewMemState())
}

func newFixtureWithState(t *testing.T, params Params, state State) *fixture {
	t.Helper()
	return newFixtureWithLedgers(t, params, state, nil)
}

// newFixtureWithLedgers lets a test wrap the bank ledger before it is handed
// to the engine.
func newFixtureWithLedgers(t *testing.T, params Params, state State, wrap func(*bank.Ledger) (CollateralLedger, SyntheticLedger)) *fixture {
	t.Helper()
	roles := NewRoleRegistry()
	roles.Grant(RoleAdmin, admin)
	roles.Grant(RoleOracle, oracle)
	roles.Grant(RoleLiquidator, liquidator)
	roles.Grant(RoleEmergency, emergency)

	ledger := bank.NewLedger(custody, ghs)
	var collateral CollateralLedger = ledger
	var synthetic SyntheticLedger = ledger
	if wrap != nil {
		collateral, synthetic = wrap(ledger)
	}
	engine, err := NewEngine(state, params, roles, collateral, synthetic)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	engine.SetClock(clock.Now)
	events := &EventBuffer{}
	engine.SetEventSink(events)

	if err := engine.AddCollateral(admin, CollateralParams{
		Asset:               weth,
		Symbol:              "WETH",
		Price:               priceETH,
		MaxLTVBps:           7_000,
		LiquidationBonusBps: 500,
		Decimals:            ethDecimals,
	}); err != nil {
		t.Fatalf("add collateral: %v", err)
	}
	for _, holder := range []common.Address{alice, bob} {
		if err := ledger.Credit(weth, holder, eth(100, 1)); err != nil {
			t.Fatalf("fund %s: %v", holder.Hex(), err)
		}
	}
	return &fixture{engine: engine, state: state, ledger: ledger, clock: clock, events: events, roles: roles}
}

func (f *fixture) position(t *testing.T, user common.Address) *PositionView {
	t.Helper()
	view, err := f.engine.Position(user, weth)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	return view
}

func (f *fixture) mustDeposit(t *testing.T, user common.Address, amount *uint256.Int) {
	t.Helper()
	if err := f.engine.Deposit(context.Background(), user, weth, amount); err != nil {
		t.Fatalf("deposit: %v", err)
	}
}

func (f *fixture) mustMint(t *testing.T, user common.Address, amount *uint256.Int) {
	t.Helper()
	if err := f.engine.Mint(context.Background(), user, weth, amount); err != nil {
		t.Fatalf("mint: %v", err)
	}
}

func (f *fixture) setPrice(t *testing.T, price *uint256.Int) {
	t.Helper()
	if err := f.engine.UpdatePrice(oracle, weth, price); err != nil {
		t.Fatalf("update price: %v", err)
	}
}

func requireErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func requireAmount(t *testing.T, name string, got, want *uint256.Int) {
	t.Helper()
	if got.Cmp(want) != 0 {
		t.Fatalf("%s = %s, want %s", name, got.Dec(), want.Dec())
	}
}

// failingState wraps a State and fails every Commit once armed.
type failingState struct {
	State
	fail bool
}

var errDisk = errors.New("disk full")

func (s *failingState) Commit(cs *Changeset) error {
	if s.fail {
		return errDisk
	}
	return s.State.Commit(cs)
}

// flakyLedger delegates to a bank ledger and fails the configured legs.
type flakyLedger struct {
	*bank.Ledger
	failMint        bool
	failTransferOut bool
}

var errLedgerDown = errors.New("ledger unavailable")

func (l *flakyLedger) Mint(ctx context.Context, to common.Address, amount *uint256.Int) error {
	if l.failMint {
		return errLedgerDown
	}
	return l.Ledger.Mint(ctx, to, amount)
}

func (l *flakyLedger) TransferOut(ctx context.Context, asset, to common.Address, amount *uint256.Int) error {
	if l.failTransferOut {
		return errLedgerDown
	}
	return l.Ledger.TransferOut(ctx, asset, to, amount)
}
