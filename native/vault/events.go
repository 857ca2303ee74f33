package vault

import (
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

const (
	TypeCollateralDeposited = "vault.collateral.deposited"
	TypeCollateralWithdrawn = "vault.collateral.withdrawn"
	TypeMinted              = "vault.minted"
	TypeBurned              = "vault.burned"
	TypeLiquidated          = "vault.liquidated"
	TypeAutoReward          = "vault.auto_reward"
	TypePriceUpdated        = "vault.price.updated"
	TypeCollateralAdded     = "vault.collateral.added"
	TypeCollateralEnabled   = "vault.collateral.enabled"
	TypePaused              = "vault.paused"
	TypeUnpaused            = "vault.unpaused"
	TypeLimitsReset         = "vault.limits.reset"
	TypeLimitsUpdated       = "vault.limits.updated"
	TypeRewardConfigUpdated = "vault.reward_config.updated"
	TypeAutoMintToggled     = "vault.auto_mint.updated"
)

// Event is a state change notification emitted after a successful commit.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Type       string            `json:"type"`
	Timestamp  time.Time         `json:"timestamp"`
	Attributes map[string]string `json:"attributes"`
}

// EventSink receives engine events. Emit must not block for long; it runs
// after locks are released.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(ev Event) {
	if f != nil {
		f(ev)
	}
}

// MultiSink fans events out to every sink in order.
type MultiSink []EventSink

func (m MultiSink) Emit(ev Event) {
	for _, sink := range m {
		if sink != nil {
			sink.Emit(ev)
		}
	}
}

// EventBuffer records events in memory. It is handy in tests and for short
// lived tooling.
type EventBuffer struct {
	mu     sync.Mutex
	events []Event
}

func (b *EventBuffer) Emit(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
}

// Events returns a copy of the recorded events.
func (b *EventBuffer) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.events))
	copy(out, b.events)
	return out
}

// Types returns the recorded event types in emission order.
func (b *EventBuffer) Types() []string {
	events := b.Events()
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func newEvent(eventType string, now time.Time, attrs map[string]string) Event {
	return Event{ID: uuid.New(), Type: eventType, Timestamp: now.UTC(), Attributes: attrs}
}

func positionAttrs(user, asset common.Address, amount *uint256.Int, pos *Position) map[string]string {
	attrs := map[string]string{
		"user":   user.Hex(),
		"asset":  asset.Hex(),
		"amount": cloneAmount(amount).Dec(),
	}
	if pos != nil {
		attrs["collateral"] = cloneAmount(pos.Collateral).Dec()
		attrs["debt"] = cloneAmount(pos.Debt).Dec()
	}
	return attrs
}

func formatBps(v uint64) string { return strconv.FormatUint(v, 10) }
