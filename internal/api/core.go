package api

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/arcbridge/bridge-core/internal/orchestrator"
	"github.com/arcbridge/bridge-core/internal/price/aggregate"
	"github.com/arcbridge/bridge-core/internal/price/breaker"
	"github.com/arcbridge/bridge-core/internal/price/provider"
	"github.com/arcbridge/bridge-core/internal/quote"
	"github.com/arcbridge/bridge-core/internal/ratelimit"
	"github.com/arcbridge/bridge-core/internal/store"
	"github.com/arcbridge/chainadapter"
)

// core is the Core implementation cmd/bridged wires together: it composes
// the orchestrator, the quote engine, and the price-fetching pipeline
// behind the three operations the spec keeps in scope (RequestTransfer,
// RequestQuote, GetTransfer) without opening a socket.
type core struct {
	machine         *orchestrator.Machine
	quoteEngine     *quote.Engine
	adapters        map[string]chainadapter.BridgeAdapter
	oracleProviders []provider.Provider
	dexProviders    []provider.Provider
	guard           *breaker.Guarded
	aggCfg          aggregate.Config
	limiter         *ratelimit.RateLimiter
}

// NewCore constructs the Core facade. oracleProviders/dexProviders feed
// internal/quote.Inputs' two independent rate sources (spec §4.4/§4.5);
// guard wraps every per-provider fetch in its circuit breaker.
func NewCore(
	machine *orchestrator.Machine,
	quoteEngine *quote.Engine,
	adapters map[string]chainadapter.BridgeAdapter,
	oracleProviders, dexProviders []provider.Provider,
	guard *breaker.Guarded,
	aggCfg aggregate.Config,
) Core {
	return &core{
		machine: machine, quoteEngine: quoteEngine, adapters: adapters,
		oracleProviders: oracleProviders, dexProviders: dexProviders,
		guard: guard, aggCfg: aggCfg,
		limiter: ratelimit.NewRateLimiter(20, time.Minute),
	}
}

func (c *core) RequestTransfer(ctx context.Context, req TransferRequest) (*store.Transfer, error) {
	if !c.limiter.AllowAttempt(req.Sender) {
		return nil, fmt.Errorf("api: sender %q exceeded transfer request rate limit", req.Sender)
	}
	if err := validateAddress(req.SourceChain, req.Sender); err != nil {
		return nil, fmt.Errorf("api: sender address: %w", err)
	}
	if err := validateAddress(req.DestChain, req.Recipient); err != nil {
		return nil, fmt.Errorf("api: recipient address: %w", err)
	}
	return c.machine.CreateTransfer(ctx, orchestrator.TransferRequest{
		TransferID: req.TransferID, Sender: req.Sender, Recipient: req.Recipient,
		SourceChain: req.SourceChain, DestChain: req.DestChain,
		SourceAsset: req.SourceAsset, DestAsset: req.DestAsset,
		AmountSource: req.AmountSource, QuoteID: req.QuoteID,
	})
}

func (c *core) GetTransfer(ctx context.Context, transferID string) (*store.Transfer, error) {
	return c.machine.Store().GetTransfer(ctx, transferID)
}

// RequestQuote fetches both rate sources, composes quote.Inputs, and calls
// the pure quote engine. Pair naming follows "FROM/TO" in asset terms, the
// same convention internal/price/aggregate tests use.
func (c *core) RequestQuote(ctx context.Context, req QuoteRequest) (*quote.Quote, error) {
	pair := req.SourceAsset + "/" + req.DestAsset

	oracleAgg, oracleErr := c.fetchAggregate(ctx, c.oracleProviders, pair)
	dexAgg, dexErr := c.fetchAggregate(ctx, c.dexProviders, pair)

	in := quote.Inputs{}
	if oracleErr == nil {
		in.OracleRate = oracleAgg.Price
		in.OracleConfidence = oracleAgg.Confidence
	}
	if dexErr == nil {
		in.DexAvailable = true
		in.DexRate = dexAgg.Price
		in.DexConfidence = dexAgg.Confidence
	}
	if oracleErr != nil && dexErr != nil {
		return nil, fmt.Errorf("api: no price source available for %s: oracle=%v dex=%v", pair, oracleErr, dexErr)
	}

	adapter, ok := c.adapters[req.SourceChain]
	if !ok {
		return nil, fmt.Errorf("api: no adapter registered for chain %q", req.SourceChain)
	}
	gasCost, err := adapter.FeeEstimate(ctx)
	if err != nil {
		return nil, fmt.Errorf("api: fee estimate for %s: %w", req.SourceChain, err)
	}
	in.GasCostSourceAsset = gasCost

	quoteReq := quote.Request{
		FromToken: req.SourceAsset, ToToken: req.DestAsset,
		FromChain: req.SourceChain, ToChain: req.DestChain,
		FromAmount: req.AmountSource,
	}
	return c.quoteEngine.GetQuote(uuid.NewString(), quoteReq, in, time.Now())
}

func (c *core) fetchAggregate(ctx context.Context, providers []provider.Provider, pair string) (*aggregate.Aggregate, error) {
	points := make([]provider.PricePoint, 0, len(providers))
	for _, p := range providers {
		point, err := c.guard.GetPrice(ctx, p, pair)
		if err != nil {
			continue
		}
		points = append(points, point)
	}
	return aggregate.Run(pair, points, c.aggCfg, time.Now())
}
