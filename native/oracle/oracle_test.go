package oracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestManualFeedProvidesQuotes(t *testing.T) {
	manual := NewManualFeed()
	now := time.Unix(1_700_000_000, 0).UTC()
	if err := manual.SetDecimal("eth", "usd", "2500", now); err != nil {
		t.Fatalf("set rate: %v", err)
	}
	q, err := manual.Quote(context.Background(), "ETH", "USD")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.Rate.FloatString(0) != "2500" || !q.Timestamp.Equal(now) {
		t.Fatalf("unexpected quote: %+v", q)
	}
	if _, err := manual.Quote(context.Background(), "BTC", "USD"); !errors.Is(err, ErrQuoteNotFound) {
		t.Fatalf("expected ErrQuoteNotFound, got %v", err)
	}
	if err := manual.SetDecimal("eth", "usd", "-1", now); !errors.Is(err, ErrInvalidRate) {
		t.Fatalf("expected ErrInvalidRate, got %v", err)
	}
}

func TestCompositeFeedChainsLegs(t *testing.T) {
	manual := NewManualFeed()
	older := time.Unix(1_700_000_000, 0)
	if err := manual.SetDecimal("ETH", "USD", "2500", older.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := manual.SetDecimal("USD", "GHS", "10.35", older); err != nil {
		t.Fatal(err)
	}
	composite := NewCompositeFeed("usd", manual, manual)
	q, err := composite.Quote(context.Background(), "ETH", "GHS")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	price, err := q.Scaled(6)
	if err != nil {
		t.Fatalf("scale: %v", err)
	}
	if price.Uint64() != 25_875_000_000 {
		t.Fatalf("unexpected composite price: %s", price)
	}
	if !q.Timestamp.Equal(older) {
		t.Fatalf("composite must carry the oldest leg timestamp, got %s", q.Timestamp)
	}

	missing := NewCompositeFeed("EUR", manual, manual)
	if _, err := missing.Quote(context.Background(), "ETH", "GHS"); !errors.Is(err, ErrQuoteNotFound) {
		t.Fatalf("expected ErrQuoteNotFound, got %v", err)
	}
}

func TestAggregatorPriorityAndFreshness(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	agg := NewAggregator(time.Minute, 0)
	agg.SetClock(func() time.Time { return now })

	stale := NewManualFeed()
	if err := stale.SetDecimal("ETH", "GHS", "1", now.Add(-2*time.Minute)); err != nil {
		t.Fatal(err)
	}
	fresh := NewManualFeed()
	if err := fresh.SetDecimal("ETH", "GHS", "25875", now.Add(-time.Second)); err != nil {
		t.Fatal(err)
	}
	agg.Register("down", FeedFunc(func(context.Context, string, string) (Quote, error) {
		return Quote{}, fmt.Errorf("unreachable")
	}))
	agg.Register("stale", stale)
	agg.Register("fresh", fresh)

	q, err := agg.Quote(context.Background(), "ETH", "GHS")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.Rate.FloatString(0) != "25875" || q.Source != "manual" {
		t.Fatalf("unexpected quote: %+v", q)
	}
	if got := agg.Feeds(); len(got) != 3 || got[0] != "down" {
		t.Fatalf("unexpected priority: %v", got)
	}

	onlyStale := NewAggregator(time.Minute, 0)
	onlyStale.SetClock(func() time.Time { return now })
	onlyStale.Register("stale", stale)
	if _, err := onlyStale.Quote(context.Background(), "ETH", "GHS"); !errors.Is(err, ErrNoFreshQuote) {
		t.Fatalf("expected ErrNoFreshQuote, got %v", err)
	}
}

func TestAggregatorCachesQuotes(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	calls := 0
	agg := NewAggregator(time.Hour, time.Minute)
	agg.SetClock(func() time.Time { return now })
	agg.Register("counting", FeedFunc(func(context.Context, string, string) (Quote, error) {
		calls++
		manual := NewManualFeed()
		_ = manual.SetDecimal("ETH", "GHS", "100", now)
		return manual.Quote(context.Background(), "ETH", "GHS")
	}))
	for i := 0; i < 3; i++ {
		if _, err := agg.Quote(context.Background(), "ETH", "GHS"); err != nil {
			t.Fatalf("quote: %v", err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single upstream call, got %d", calls)
	}
	now = now.Add(2 * time.Minute)
	if _, err := agg.Quote(context.Background(), "ETH", "GHS"); err != nil {
		t.Fatalf("quote: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected refresh after ttl, got %d calls", calls)
	}
}

func TestCoinGeckoFeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("ids") != "ethereum" || r.URL.Query().Get("vs_currencies") != "usd" {
			http.Error(w, "bad query", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"ethereum":{"usd":2500.5,"last_updated_at":1700000000}}`))
	}))
	defer srv.Close()

	feed := NewCoinGeckoFeed(srv.Client(), srv.URL, map[string]string{"eth": "ethereum"})
	q, err := feed.Quote(context.Background(), "ETH", "USD")
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.Rate.FloatString(1) != "2500.5" || q.Timestamp.Unix() != 1_700_000_000 || q.Source != "coingecko" {
		t.Fatalf("unexpected quote: %+v", q)
	}
	if _, err := feed.Quote(context.Background(), "BTC", "USD"); err == nil {
		t.Fatalf("expected error for unmapped upstream asset")
	}
}

func TestCoinGeckoFeedStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()
	feed := NewCoinGeckoFeed(srv.Client(), srv.URL, nil)
	if _, err := feed.Quote(context.Background(), "ETH", "USD"); err == nil {
		t.Fatalf("expected status error")
	}
}
