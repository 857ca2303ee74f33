package vault

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "synthvault/native/common"
)

// ModuleName is the key consulted on external pause views.
const ModuleName = "vault"

// Observer is notified once per engine operation with its outcome.
type Observer interface {
	Observe(op string, started time.Time, err error)
}

// Engine orchestrates every vault state transition. Locks are always taken in
// the order position, user, global counters, configuration.
type Engine struct {
	state      State
	params     Params
	access     AccessGuard
	collateral CollateralLedger
	synthetic  SyntheticLedger
	events     EventSink
	observer   Observer
	pauses     nativecommon.PauseView
	clock      func() time.Time
	logger     *slog.Logger

	positionLocks keyedMutex
	userLocks     keyedMutex
	globalMu      sync.Mutex
	configMu      sync.RWMutex
}

// NewEngine validates params and wires the engine to its collaborators. The
// persisted settings are seeded from params on first start.
func NewEngine(state State, params Params, access AccessGuard, collateral CollateralLedger, synthetic SyntheticLedger) (*Engine, error) {
	if state == nil {
		return nil, ErrNilState
	}
	if collateral == nil || synthetic == nil {
		return nil, fmt.Errorf("%w: ledgers required", ErrInvalidConfig)
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if access == nil {
		access = AccessFunc(func(common.Address, Role) bool { return false })
	}
	e := &Engine{
		state:      state,
		params:     params.Clone(),
		access:     access,
		collateral: collateral,
		synthetic:  synthetic,
		clock:      time.Now,
		logger:     slog.Default(),
	}
	current, err := state.Settings()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if current == nil {
		if err := state.Commit(&Changeset{Settings: params.settings()}); err != nil {
			return nil, fmt.Errorf("seed settings: %w", err)
		}
	}
	return e, nil
}

// SetClock overrides the time source. Intended for tests.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.clock = now
}

func (e *Engine) SetLogger(logger *slog.Logger) {
	if e == nil || logger == nil {
		return
	}
	e.logger = logger.With("module", ModuleName)
}

// SetPauses wires an external pause switch consulted alongside the engine's
// own emergency flag.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

func (e *Engine) SetEventSink(sink EventSink) {
	if e == nil {
		return
	}
	e.events = sink
}

func (e *Engine) SetObserver(o Observer) {
	if e == nil {
		return
	}
	e.observer = o
}

// Params returns a copy of the immutable risk parameters.
func (e *Engine) Params() Params { return e.params.Clone() }

func (e *Engine) now() time.Time { return e.clock() }

func (e *Engine) observe(op string, started time.Time, err *error) {
	if e.observer == nil {
		return
	}
	e.observer.Observe(op, started, *err)
}

func (e *Engine) emit(ev Event) {
	if e.events != nil {
		e.events.Emit(ev)
	}
}

func (e *Engine) authorize(caller common.Address, role Role) error {
	if !e.access.HasRole(caller, role) {
		return fmt.Errorf("%w: %s role required", ErrUnauthorized, role)
	}
	return nil
}

// loadSettings must be called with configMu held.
func (e *Engine) loadSettings() (*Settings, error) {
	current, err := e.state.Settings()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	if current == nil {
		current = e.params.settings()
	}
	return current, nil
}

func (e *Engine) guardPause(settings *Settings) error {
	local := nativecommon.PauseFunc(func(string) bool { return settings.Paused })
	if err := nativecommon.GuardAll(ModuleName, local, e.pauses); err != nil {
		return ErrEnforcedPause
	}
	return nil
}

// activeCollateral returns the registry entry for asset, rejecting unknown and
// disabled assets.
func (e *Engine) activeCollateral(asset common.Address) (*CollateralConfig, error) {
	cfg, err := e.state.Collateral(asset)
	if err != nil {
		return nil, fmt.Errorf("load collateral: %w", err)
	}
	if cfg == nil {
		return nil, ErrUnknownCollateral
	}
	if !cfg.Enabled {
		return nil, ErrCollateralNotEnabled
	}
	return cfg, nil
}

func (e *Engine) staleAfter(cfg *CollateralConfig) time.Duration {
	if cfg.StaleAfter > 0 {
		return cfg.StaleAfter
	}
	return e.params.DefaultStaleAfter
}

func (e *Engine) priceFresh(cfg *CollateralConfig, now time.Time) bool {
	window := e.staleAfter(cfg)
	if window <= 0 {
		return isPositive(cfg.Price)
	}
	return isPositive(cfg.Price) && !cfg.LastPriceUpdate.IsZero() && now.Sub(cfg.LastPriceUpdate) <= window
}

func (e *Engine) requireFresh(cfg *CollateralConfig, now time.Time) error {
	if !e.priceFresh(cfg, now) {
		return fmt.Errorf("%w: %s last updated %s", ErrPriceStale, cfg.Asset.Hex(), cfg.LastPriceUpdate.UTC().Format(time.RFC3339))
	}
	return nil
}

// minRatio is the effective minimum ratio for cfg: the engine minimum
// tightened by the asset's loan-to-value cap.
func (e *Engine) minRatio(cfg *CollateralConfig) uint64 {
	floor := e.params.MinCollateralRatioBps
	if ltv := MinRatioForLTV(cfg.MaxLTVBps); ltv > floor {
		floor = ltv
	}
	return floor
}

func (e *Engine) ratio(cfg *CollateralConfig, collateral, debt *uint256.Int) (*uint256.Int, uint64, error) {
	value, err := CollateralValue(collateral, cfg.Price, cfg.Decimals, e.params.DebtDecimals)
	if err != nil {
		return nil, 0, err
	}
	return value, RatioBps(value, debt), nil
}

func (e *Engine) loadPosition(user, asset common.Address) (*Position, error) {
	pos, err := e.state.Position(user, asset)
	if err != nil {
		return nil, fmt.Errorf("load position: %w", err)
	}
	if pos == nil {
		return newPosition(user, asset), nil
	}
	return pos, nil
}

// commit persists cs after the ledgers have already moved value. A failure here
// leaves the ledgers ahead of the vault records and needs reconciliation.
func (e *Engine) commit(op string, cs *Changeset) error {
	if err := e.state.Commit(cs); err != nil {
		e.logger.Error("vault state commit failed after ledger settlement",
			"op", op, "error", err)
		return fmt.Errorf("%w: %s: %w", ErrStateCommit, op, err)
	}
	return nil
}

func ledgerErr(step string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrLedger, step, err)
}

func (e *Engine) lockPosition(user, asset common.Address) func() {
	return e.positionLocks.lock(user.Hex() + "/" + asset.Hex())
}

func (e *Engine) lockUser(user common.Address) func() {
	return e.userLocks.lock(user.Hex())
}

// Deposit credits amount of asset to the user's position and pulls the
// collateral through the CollateralLedger. Deposits never check the ratio.
func (e *Engine) Deposit(ctx context.Context, user, asset common.Address, amount *uint256.Int) (err error) {
	defer e.observe("deposit", time.Now(), &err)

	unlock := e.lockPosition(user, asset)
	defer unlock()
	e.configMu.RLock()
	defer e.configMu.RUnlock()

	settings, err := e.loadSettings()
	if err != nil {
		return err
	}
	if err := e.guardPause(settings); err != nil {
		return err
	}
	if !isPositive(amount) {
		return ErrInvalidAmount
	}
	if _, err := e.activeCollateral(asset); err != nil {
		return err
	}
	now := e.now()
	pos, err := e.loadPosition(user, asset)
	if err != nil {
		return err
	}
	next := pos.Clone()
	if next.Collateral, err = checkedAdd(pos.Collateral, amount); err != nil {
		return err
	}
	if pos.Empty() {
		next.OpenedAt = now
		next.LastAutoRewardAt = time.Time{}
	}

	if err := e.collateral.TransferIn(ctx, asset, user, amount); err != nil {
		return ledgerErr("collateral transfer in", err)
	}
	if err := e.commit("deposit", new(Changeset).putPosition(next)); err != nil {
		return err
	}
	e.emit(newEvent(TypeCollateralDeposited, now, positionAttrs(user, asset, amount, next)))
	return nil
}

// Withdraw releases collateral back to the user. When debt remains the
// withdrawal must leave the position at or above the minimum ratio.
func (e *Engine) Withdraw(ctx context.Context, user, asset common.Address, amount *uint256.Int) (err error) {
	defer e.observe("withdraw", time.Now(), &err)

	unlock := e.lockPosition(user, asset)
	defer unlock()
	e.configMu.RLock()
	defer e.configMu.RUnlock()

	settings, err := e.loadSettings()
	if err != nil {
		return err
	}
	if err := e.guardPause(settings); err != nil {
		return err
	}
	if !isPositive(amount) {
		return ErrInvalidAmount
	}
	cfg, err := e.activeCollateral(asset)
	if err != nil {
		return err
	}
	now := e.now()
	pos, err := e.loadPosition(user, asset)
	if err != nil {
		return err
	}
	if amount.Gt(pos.Collateral) {
		return fmt.Errorf("%w: withdraw %s exceeds deposited %s", ErrInsufficientColl, amount.Dec(), pos.Collateral.Dec())
	}
	remaining, err := checkedSub(pos.Collateral, amount)
	if err != nil {
		return err
	}
	if isPositive(pos.Debt) {
		if err := e.requireFresh(cfg, now); err != nil {
			return err
		}
		_, ratio, err := e.ratio(cfg, remaining, pos.Debt)
		if err != nil {
			return err
		}
		if floor := e.minRatio(cfg); ratio < floor {
			return fmt.Errorf("%w: ratio %d bps below %d bps", ErrBelowMinimumRatio, ratio, floor)
		}
	}
	next := pos.Clone()
	next.Collateral = remaining

	if err := e.collateral.TransferOut(ctx, asset, user, amount); err != nil {
		return ledgerErr("collateral transfer out", err)
	}
	if err := e.commit("withdraw", new(Changeset).putPosition(next)); err != nil {
		return err
	}
	e.emit(newEvent(TypeCollateralWithdrawn, now, positionAttrs(user, asset, amount, next)))
	return nil
}
