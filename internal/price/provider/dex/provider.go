// Package dex fetches a price quote from an external DEX aggregator's HTTP
// API — the second of the two sources the quote engine composes 60/40.
package dex

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/arcbridge/bridge-core/internal/price/provider"
	"github.com/arcbridge/bridge-core/internal/ratelimit"
)

// Provider queries an external DEX quote endpoint over HTTP.
type Provider struct {
	id          string
	endpoint    string
	apiKey      string
	httpClient  *http.Client
	limiter     *ratelimit.RateLimiter
	confidence  float64
	pairs       []string
}

// Config carries the construction parameters an external DEX API needs.
type Config struct {
	ID                string
	Endpoint          string
	APIKey            string
	Confidence        float64
	SupportedPairs    []string
	RequestTimeout    time.Duration
	RateLimitPerWindow int
	RateLimitWindow   time.Duration
}

// New constructs a dex Provider with its own sliding-window rate limiter,
// one bucket per provider id rather than per caller.
func New(cfg Config) *Provider {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	maxAttempts := cfg.RateLimitPerWindow
	if maxAttempts == 0 {
		maxAttempts = 60
	}
	window := cfg.RateLimitWindow
	if window == 0 {
		window = time.Minute
	}

	return &Provider{
		id:         cfg.ID,
		endpoint:   cfg.Endpoint,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    ratelimit.NewRateLimiter(maxAttempts, window),
		confidence: cfg.Confidence,
		pairs:      cfg.SupportedPairs,
	}
}

func (p *Provider) ID() string { return p.id }

func (p *Provider) SupportedPairs() []string { return p.pairs }

type quoteResponse struct {
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

// RateLimitedError reports that this provider's own rate limit was
// exhausted. Like any other provider error, aggregate.FetchAll records it
// and the round goes on without this provider.
type RateLimitedError struct {
	ProviderID string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("dex: provider %q rate limited, retry after %s", e.ProviderID, e.RetryAfter)
}

func (p *Provider) GetPrice(ctx context.Context, pair string) (provider.PricePoint, error) {
	if !p.limiter.AllowAttempt(p.id) {
		return provider.PricePoint{}, &RateLimitedError{ProviderID: p.id, RetryAfter: time.Minute}
	}

	url := fmt.Sprintf("%s/quote?pair=%s", p.endpoint, pair)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return provider.PricePoint{}, fmt.Errorf("dex: building request: %w", err)
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return provider.PricePoint{}, fmt.Errorf("dex: requesting quote for %s: %w", pair, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return provider.PricePoint{}, fmt.Errorf("dex: quote request for %s returned status %d", pair, resp.StatusCode)
	}

	var q quoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return provider.PricePoint{}, fmt.Errorf("dex: decoding quote response for %s: %w", pair, err)
	}

	price, ok := new(big.Int).SetString(q.Price, 10)
	if !ok {
		return provider.PricePoint{}, fmt.Errorf("dex: malformed price %q in response for %s", q.Price, pair)
	}

	return provider.PricePoint{
		Pair:       pair,
		Price:      price,
		ProviderID: p.id,
		Confidence: p.confidence,
		ObservedAt: time.Unix(q.Timestamp, 0),
	}, nil
}
