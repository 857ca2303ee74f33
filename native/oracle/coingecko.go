package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

const defaultCoinGeckoEndpoint = "https://api.coingecko.com/api/v3/simple/price"

// CoinGeckoFeed adapts the public CoinGecko simple price API. The base symbol
// is mapped to a CoinGecko asset id and the quote is the vs_currency.
type CoinGeckoFeed struct {
	client   HTTPDoer
	endpoint string
	ids      map[string]string
	now      func() time.Time
}

// NewCoinGeckoFeed constructs the adapter. ids maps symbols such as ETH to
// CoinGecko ids such as "ethereum"; unmapped symbols are lowercased.
func NewCoinGeckoFeed(client HTTPDoer, endpoint string, ids map[string]string) *CoinGeckoFeed {
	ep := strings.TrimSpace(endpoint)
	if ep == "" {
		ep = defaultCoinGeckoEndpoint
	}
	if client == nil {
		client = http.DefaultClient
	}
	mapped := make(map[string]string, len(ids))
	for k, v := range ids {
		mapped[normaliseSymbol(k)] = strings.TrimSpace(v)
	}
	return &CoinGeckoFeed{client: client, endpoint: ep, ids: mapped, now: time.Now}
}

func (f *CoinGeckoFeed) assetID(symbol string) string {
	if id, ok := f.ids[normaliseSymbol(symbol)]; ok && id != "" {
		return id
	}
	return strings.ToLower(strings.TrimSpace(symbol))
}

func (f *CoinGeckoFeed) Quote(ctx context.Context, base, quote string) (Quote, error) {
	id := f.assetID(base)
	if id == "" {
		return Quote{}, fmt.Errorf("coingecko: unmapped asset %q", base)
	}
	vs := strings.ToLower(strings.TrimSpace(quote))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return Quote{}, err
	}
	values := url.Values{}
	values.Set("ids", id)
	values.Set("vs_currencies", vs)
	values.Set("include_last_updated_at", "true")
	req.URL.RawQuery = values.Encode()
	resp, err := f.client.Do(req)
	if err != nil {
		return Quote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Quote{}, fmt.Errorf("coingecko: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	decoder := json.NewDecoder(resp.Body)
	decoder.UseNumber()
	var payload map[string]map[string]json.Number
	if err := decoder.Decode(&payload); err != nil {
		return Quote{}, fmt.Errorf("coingecko: decode: %w", err)
	}
	entry, ok := payload[id]
	if !ok {
		return Quote{}, fmt.Errorf("%w: coingecko %s", ErrQuoteNotFound, id)
	}
	raw, ok := entry[vs]
	if !ok || strings.TrimSpace(raw.String()) == "" {
		return Quote{}, fmt.Errorf("%w: coingecko %s/%s", ErrQuoteNotFound, id, vs)
	}
	rat, ok := new(big.Rat).SetString(raw.String())
	if !ok || rat.Sign() <= 0 {
		return Quote{}, fmt.Errorf("%w: %q", ErrInvalidRate, raw.String())
	}
	ts := f.now().UTC()
	if updated, ok := entry["last_updated_at"]; ok {
		if secs, err := strconv.ParseInt(updated.String(), 10, 64); err == nil && secs > 0 {
			ts = time.Unix(secs, 0).UTC()
		}
	}
	return Quote{Rate: rat, Timestamp: ts, Source: "coingecko"}, nil
}
