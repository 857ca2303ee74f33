package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
)

var (
	ErrNoFreshQuote  = errors.New("oracle: no fresh quote available")
	ErrQuoteNotFound = errors.New("oracle: quote not found")
	ErrInvalidRate   = errors.New("oracle: invalid rate")
)

// Quote is an exchange rate for BASE/QUOTE: one unit of base is worth Rate
// units of quote.
type Quote struct {
	Rate      *big.Rat
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote.
func (q Quote) Clone() Quote {
	clone := Quote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Rate != nil {
		clone.Rate = new(big.Rat).Set(q.Rate)
	}
	return clone
}

// Scaled renders the rate as an integer with the given number of decimals,
// rounding down.
func (q Quote) Scaled(decimals uint8) (*uint256.Int, error) {
	if q.Rate == nil || q.Rate.Sign() <= 0 {
		return nil, ErrInvalidRate
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	num := new(big.Int).Mul(q.Rate.Num(), scale)
	num.Quo(num, q.Rate.Denom())
	out, overflow := uint256.FromBig(num)
	if overflow {
		return nil, fmt.Errorf("%w: %s exceeds 256 bits", ErrInvalidRate, num)
	}
	return out, nil
}

// Feed resolves a rate for the base/quote pair.
type Feed interface {
	Quote(ctx context.Context, base, quote string) (Quote, error)
}

// FeedFunc adapts a function to the Feed interface.
type FeedFunc func(ctx context.Context, base, quote string) (Quote, error)

func (f FeedFunc) Quote(ctx context.Context, base, quote string) (Quote, error) {
	return f(ctx, base, quote)
}

func normaliseSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func pairKey(base, quote string) string {
	return normaliseSymbol(base) + "/" + normaliseSymbol(quote)
}

// ManualFeed serves operator-provided rates. Used for tests and incident
// overrides.
type ManualFeed struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

func NewManualFeed() *ManualFeed {
	return &ManualFeed{quotes: make(map[string]Quote)}
}

// SetDecimal records a decimal rate such as "2500.15" for the pair.
func (m *ManualFeed) SetDecimal(base, quote, rate string, ts time.Time) error {
	rat, ok := new(big.Rat).SetString(strings.TrimSpace(rate))
	if !ok || rat.Sign() <= 0 {
		return fmt.Errorf("%w: %q", ErrInvalidRate, rate)
	}
	m.Set(base, quote, rat, ts)
	return nil
}

func (m *ManualFeed) Set(base, quote string, rate *big.Rat, ts time.Time) {
	if rate == nil {
		return
	}
	m.mu.Lock()
	m.quotes[pairKey(base, quote)] = Quote{Rate: new(big.Rat).Set(rate), Timestamp: ts, Source: "manual"}
	m.mu.Unlock()
}

func (m *ManualFeed) Quote(_ context.Context, base, quote string) (Quote, error) {
	m.mu.RLock()
	stored, ok := m.quotes[pairKey(base, quote)]
	m.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrQuoteNotFound, pairKey(base, quote))
	}
	return stored.Clone(), nil
}

// CompositeFeed derives BASE/QUOTE by chaining BASE/VIA and VIA/QUOTE, for
// example ETH/USD × USD/GHS. The composite is only as fresh as its oldest leg.
type CompositeFeed struct {
	via   string
	first Feed
	last  Feed
}

func NewCompositeFeed(via string, first, last Feed) *CompositeFeed {
	return &CompositeFeed{via: normaliseSymbol(via), first: first, last: last}
}

func (c *CompositeFeed) Quote(ctx context.Context, base, quote string) (Quote, error) {
	head, err := c.first.Quote(ctx, base, c.via)
	if err != nil {
		return Quote{}, fmt.Errorf("composite %s/%s: %w", base, c.via, err)
	}
	tail, err := c.last.Quote(ctx, c.via, quote)
	if err != nil {
		return Quote{}, fmt.Errorf("composite %s/%s: %w", c.via, quote, err)
	}
	if head.Rate == nil || tail.Rate == nil || head.Rate.Sign() <= 0 || tail.Rate.Sign() <= 0 {
		return Quote{}, ErrInvalidRate
	}
	ts := head.Timestamp
	if tail.Timestamp.Before(ts) {
		ts = tail.Timestamp
	}
	return Quote{
		Rate:      new(big.Rat).Mul(head.Rate, tail.Rate),
		Timestamp: ts,
		Source:    head.Source + "*" + tail.Source,
	}, nil
}
