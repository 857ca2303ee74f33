package oracle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

type cached struct {
	quote   Quote
	fetched time.Time
}

// Aggregator consults registered feeds in priority order until one returns a
// quote younger than MaxAge. Successful quotes are cached for CacheTTL.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	feeds    map[string]Feed
	maxAge   time.Duration
	cacheTTL time.Duration
	cache    map[string]cached
	now      func() time.Time
}

func NewAggregator(maxAge, cacheTTL time.Duration) *Aggregator {
	return &Aggregator{
		feeds:    make(map[string]Feed),
		maxAge:   maxAge,
		cacheTTL: cacheTTL,
		cache:    make(map[string]cached),
		now:      time.Now,
	}
}

// SetClock overrides the time source.
func (a *Aggregator) SetClock(now func() time.Time) {
	if now == nil {
		return
	}
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// Register adds or replaces a feed. New names are appended to the priority
// list.
func (a *Aggregator) Register(name string, feed Feed) {
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" || feed == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.feeds[trimmed]; !exists {
		a.priority = append(a.priority, trimmed)
	}
	a.feeds[trimmed] = feed
}

// Feeds lists the registered feed names in priority order.
func (a *Aggregator) Feeds() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.priority...)
}

func (a *Aggregator) Quote(ctx context.Context, base, quote string) (Quote, error) {
	key := pairKey(base, quote)
	a.mu.RLock()
	priority := append([]string(nil), a.priority...)
	now := a.now()
	hit, ok := a.cache[key]
	maxAge, ttl := a.maxAge, a.cacheTTL
	a.mu.RUnlock()

	if ok && ttl > 0 && now.Sub(hit.fetched) < ttl && a.fresh(hit.quote, now, maxAge) {
		return hit.quote.Clone(), nil
	}

	var lastErr error
	for _, name := range priority {
		a.mu.RLock()
		feed := a.feeds[name]
		a.mu.RUnlock()
		q, err := feed.Quote(ctx, base, quote)
		if err != nil {
			lastErr = fmt.Errorf("feed %s: %w", name, err)
			continue
		}
		if q.Rate == nil || q.Rate.Sign() <= 0 {
			lastErr = fmt.Errorf("feed %s: %w", name, ErrInvalidRate)
			continue
		}
		if !a.fresh(q, now, maxAge) {
			lastErr = fmt.Errorf("feed %s: %w (quoted %s)", name, ErrNoFreshQuote, q.Timestamp.UTC().Format(time.RFC3339))
			continue
		}
		result := q.Clone()
		if strings.TrimSpace(result.Source) == "" {
			result.Source = name
		}
		a.mu.Lock()
		a.cache[key] = cached{quote: result.Clone(), fetched: now}
		a.mu.Unlock()
		return result, nil
	}
	if lastErr == nil {
		lastErr = ErrNoFreshQuote
	}
	return Quote{}, lastErr
}

func (a *Aggregator) fresh(q Quote, now time.Time, maxAge time.Duration) bool {
	return maxAge <= 0 || now.Sub(q.Timestamp) <= maxAge
}
