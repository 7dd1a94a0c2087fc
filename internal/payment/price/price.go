// Package price quotes native token prices in USD.
package price

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"

	"phone-verification-server/internal/payment/chain"
)

// DefaultTTL is how long a quote is reused before the provider is asked again.
const DefaultTTL = 30 * time.Second

var ErrUnknownToken = errors.New("price: unknown token")

// cmcIDs maps native tokens to CoinMarketCap asset ids.
var cmcIDs = map[chain.Token]int{
	chain.ETH:  1027,
	chain.FTM:  3513,
	chain.AVAX: 5805,
}

// Quoter returns a token's USD price.
type Quoter interface {
	USDPrice(ctx context.Context, token chain.Token) (decimal.Decimal, error)
}

// CMCClient queries the CoinMarketCap quotes API.
type CMCClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewCMCClient returns a client for baseURL (e.g. https://pro-api.coinmarketcap.com).
func NewCMCClient(baseURL, apiKey string) *CMCClient {
	return &CMCClient{BaseURL: baseURL, APIKey: apiKey, HTTPClient: &http.Client{Timeout: 10 * time.Second}}
}

type cmcResponse struct {
	Data map[string]struct {
		Quote struct {
			USD struct {
				Price json.Number `json:"price"`
			} `json:"USD"`
		} `json:"quote"`
	} `json:"data"`
}

func (c *CMCClient) USDPrice(ctx context.Context, token chain.Token) (decimal.Decimal, error) {
	id, ok := cmcIDs[token]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	q := url.Values{"id": {strconv.Itoa(id)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v2/cryptocurrency/quotes/latest?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("X-CMC_PRO_API_KEY", c.APIKey)
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, fmt.Errorf("price: request failed status=%d body=%s", resp.StatusCode, body)
	}
	var out cmcResponse
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return decimal.Zero, fmt.Errorf("price: decode: %w", err)
	}
	entry, ok := out.Data[strconv.Itoa(id)]
	if !ok || entry.Quote.USD.Price == "" {
		return decimal.Zero, fmt.Errorf("price: no USD quote for %s", token)
	}
	p, err := decimal.NewFromString(entry.Quote.USD.Price.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("price: parse %q: %w", entry.Quote.USD.Price, err)
	}
	if !p.IsPositive() {
		return decimal.Zero, fmt.Errorf("price: non-positive quote %s for %s", p, token)
	}
	return p, nil
}

type cachedQuote struct {
	price    decimal.Decimal
	storedAt time.Time
}

// CachedQuoter serves quotes from an LRU for ttl before asking next.
type CachedQuoter struct {
	next  Quoter
	ttl   time.Duration
	mu    sync.Mutex
	cache *lru.Cache[chain.Token, cachedQuote]
	nowF  func() time.Time
}

// NewCachedQuoter wraps next. A non-positive ttl uses DefaultTTL.
func NewCachedQuoter(next Quoter, ttl time.Duration) *CachedQuoter {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cache, _ := lru.New[chain.Token, cachedQuote](len(cmcIDs) * 4)
	return &CachedQuoter{next: next, ttl: ttl, cache: cache, nowF: time.Now}
}

func (q *CachedQuoter) USDPrice(ctx context.Context, token chain.Token) (decimal.Decimal, error) {
	now := q.nowF()
	if c, ok := q.cache.Get(token); ok && now.Sub(c.storedAt) < q.ttl {
		return c.price, nil
	}
	// Concurrent misses for one token collapse to a single provider call.
	q.mu.Lock()
	defer q.mu.Unlock()
	if c, ok := q.cache.Get(token); ok && now.Sub(c.storedAt) < q.ttl {
		return c.price, nil
	}
	p, err := q.next.USDPrice(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}
	q.cache.Add(token, cachedQuote{price: p, storedAt: q.nowF()})
	return p, nil
}

// Static is a fixed-price Quoter for development and tests.
type Static map[chain.Token]decimal.Decimal

func (s Static) USDPrice(ctx context.Context, token chain.Token) (decimal.Decimal, error) {
	p, ok := s[token]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownToken, token)
	}
	return p, nil
}
