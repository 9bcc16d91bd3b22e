// Package risk calls the external scoring service the orchestrator consults
// at the Quoted->RiskCheck->Admitted transition, with a short-TTL local
// cache so a brief outage degrades to policy rather than blocking every
// transfer on a synchronous remote call.
package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/arcbridge/bridge-core/internal/bridgeerr"
)

// Request is the fingerprint sent to the scoring service, per spec §4.9.
type Request struct {
	UserID     string   `json:"user_id"`
	FromChain  string   `json:"from_chain"`
	ToChain    string   `json:"to_chain"`
	FromToken  string   `json:"from_token"`
	ToToken    string   `json:"to_token"`
	Amount     *big.Int `json:"amount"`
	Sender     string   `json:"sender"`
	Recipient  string   `json:"recipient"`
}

// Assessment is the scoring service's verdict.
type Assessment struct {
	Score    float64  `json:"score"`
	Level    string   `json:"level"`
	Reasons  []string `json:"reasons"`
	Approved bool     `json:"approved"`
}

// Client is an HTTP client for the risk scoring service, modeled on the
// teacher's HTTPRPCClient shape (single http.Client with an explicit
// timeout, context-aware Call) but single-endpoint: the risk service has no
// failover list in this spec.
type Client struct {
	endpoint   string
	httpClient *http.Client
	cache      *cache
}

// Config parameterizes Client construction.
type Config struct {
	Endpoint string
	Timeout  time.Duration
	CacheTTL time.Duration
}

// New constructs a Client. A zero Timeout defaults to 2s; a zero CacheTTL
// defaults to 30s, matching internal/config's RiskConfig defaults.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	return &Client{
		endpoint:   cfg.Endpoint,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cache:      newCache(cfg.CacheTTL),
	}
}

// Score fingerprints req, serves a cached Assessment if one is fresh, and
// otherwise calls the remote service. A failed remote call with no cache
// entry surfaces a bridgeerr.KindRetryable / CodeRiskUnavailable error; the
// orchestrator's fail-open/fail-closed policy decides what to do with it.
func (c *Client) Score(ctx context.Context, req Request) (*Assessment, error) {
	key := fingerprint(req)

	if assessment, ok := c.cache.get(key); ok {
		return assessment, nil
	}

	assessment, err := c.call(ctx, req)
	if err != nil {
		return nil, bridgeerr.New(bridgeerr.KindRetryable, bridgeerr.CodeRiskUnavailable,
			"risk scoring service unavailable", err)
	}

	c.cache.set(key, assessment)
	return assessment, nil
}

func (c *Client) call(ctx context.Context, req Request) (*Assessment, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("risk: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("risk: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("risk: call %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("risk: %s returned %d: %s", c.endpoint, resp.StatusCode, respBody)
	}

	var assessment Assessment
	if err := json.NewDecoder(resp.Body).Decode(&assessment); err != nil {
		return nil, fmt.Errorf("risk: decode response: %w", err)
	}
	return &assessment, nil
}

// fingerprint derives the cache key from the fields that determine a
// score, deliberately excluding nothing from Request since every field
// participates in risk scoring.
func fingerprint(req Request) string {
	amount := "0"
	if req.Amount != nil {
		amount = req.Amount.String()
	}
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s",
		req.UserID, req.FromChain, req.ToChain, req.FromToken, req.ToToken, amount, req.Sender, req.Recipient)
}
