// Package provider defines the price-feed data source abstraction. This
// mirrors the chain adapter layer's provider registry shape, generalized
// from blockchain-RPC data sources to price-feed sources (an on-chain
// oracle, an external DEX quote API) behind one interface the aggregator
// fans out over.
package provider

import (
	"context"
	"math/big"
	"time"
)

// PricePoint is one observation of a trading pair's price from a single
// provider.
type PricePoint struct {
	Pair       string
	Price      *big.Int // fixed-point, smallest-unit integer
	ProviderID string
	Confidence float64 // [0, 1]
	ObservedAt time.Time
}

// Provider fetches price observations for trading pairs it supports.
//
// Contract:
//   - GetPrice is safe to call concurrently.
//   - A provider with its own rate limit returns an error once it is
//     exhausted, never a silent drop or a stale cached value: dex returns
//     a *dex.RateLimitedError carrying the retry delay. The oracle
//     provider applies no rate limit of its own.
//   - Confidence may be static (a fixed per-pair number) or dynamic
//     (derived from the provider's own signal quality).
type Provider interface {
	ID() string
	SupportedPairs() []string
	GetPrice(ctx context.Context, pair string) (PricePoint, error)
}
