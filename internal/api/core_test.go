package api

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcbridge/bridge-core/internal/eventbus"
	"github.com/arcbridge/bridge-core/internal/orchestrator"
	"github.com/arcbridge/bridge-core/internal/price/aggregate"
	"github.com/arcbridge/bridge-core/internal/price/breaker"
	"github.com/arcbridge/bridge-core/internal/price/provider"
	"github.com/arcbridge/bridge-core/internal/quantum"
	"github.com/arcbridge/bridge-core/internal/quote"
	"github.com/arcbridge/bridge-core/internal/risk"
	"github.com/arcbridge/bridge-core/internal/store"
	"github.com/arcbridge/chainadapter"
)

type stubProvider struct {
	id    string
	pair  string
	price int64
}

func (s stubProvider) ID() string               { return s.id }
func (s stubProvider) SupportedPairs() []string { return []string{s.pair} }
func (s stubProvider) GetPrice(ctx context.Context, pair string) (provider.PricePoint, error) {
	return provider.PricePoint{Pair: pair, Price: big.NewInt(s.price), ProviderID: s.id, Confidence: 0.9, ObservedAt: time.Now()}, nil
}

type noopAdapter struct{ chainID string }

func (n noopAdapter) ChainID() string                                   { return n.chainID }
func (n noopAdapter) MinConfirmations() int                             { return 1 }
func (n noopAdapter) FinalitySemantics() chainadapter.FinalitySemantics { return chainadapter.FinalityDeterministic }
func (n noopAdapter) FeeEstimate(ctx context.Context) (*big.Int, error) { return big.NewInt(500), nil }
func (n noopAdapter) SubmitLock(ctx context.Context, p chainadapter.LockParams) (*chainadapter.SubmitResult, error) {
	return &chainadapter.SubmitResult{TxID: "tx"}, nil
}
func (n noopAdapter) SubmitUnlock(ctx context.Context, p chainadapter.UnlockParams, key string) (*chainadapter.SubmitResult, error) {
	return &chainadapter.SubmitResult{TxID: "tx"}, nil
}
func (n noopAdapter) Observe(ctx context.Context, txID string) (*chainadapter.Observation, error) {
	return &chainadapter.Observation{Status: chainadapter.ObservationPending}, nil
}
func (n noopAdapter) SubscribeEvents(ctx context.Context, from uint64) (<-chan chainadapter.BridgeEvent, error) {
	ch := make(chan chainadapter.BridgeEvent)
	close(ch)
	return ch, nil
}

type approvingRisk struct{}

func (approvingRisk) Score(ctx context.Context, req risk.Request) (*risk.Assessment, error) {
	return &risk.Assessment{Score: 0.1, Approved: true}, nil
}

func testCore(t *testing.T) Core {
	t.Helper()
	st := store.NewFake()
	keys, err := quantum.NewKeyManager(time.Hour, orchestrator.NewKeyReferenceCounter(st))
	require.NoError(t, err)

	adapters := map[string]chainadapter.BridgeAdapter{
		"ethereum": noopAdapter{chainID: "ethereum"},
		"bitcoin":  noopAdapter{chainID: "bitcoin"},
	}
	machine := orchestrator.New(st, adapters, keys, approvingRisk{}, eventbus.New(), orchestrator.Config{})

	oracle := []provider.Provider{stubProvider{id: "oracle-1", pair: "ETH/BTC", price: 1_000_000}}
	dex := []provider.Provider{stubProvider{id: "dex-1", pair: "ETH/BTC", price: 1_010_000}}
	guard := breaker.New(breaker.Config{}, eventbus.New())
	aggCfg := aggregate.Config{Method: aggregate.MethodWeightedAverage, MaxAge: time.Hour, MinPrice: 1, MaxPrice: 1e12, MinSurvivors: 1}

	return NewCore(machine, quote.New(quote.Config{}), adapters, oracle, dex, guard, aggCfg)
}

func TestCore_RequestTransfer_ThenGetTransfer(t *testing.T) {
	c := testCore(t)
	ctx := context.Background()

	created, err := c.RequestTransfer(ctx, TransferRequest{
		TransferID: "t1",
		Sender:     "0x742d35Cc6634C0532925a3b844Bc9e7595f0bEb0",
		Recipient:  "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa",
		SourceChain: "ethereum", DestChain: "bitcoin", SourceAsset: "ETH", DestAsset: "BTC",
		AmountSource: big.NewInt(1000), QuoteID: "q1",
	})
	require.NoError(t, err)
	assert.Equal(t, "t1", created.ID)

	fetched, err := c.GetTransfer(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, fetched.ID)
}

func TestCore_RequestQuote_ComposesBothSources(t *testing.T) {
	c := testCore(t)
	q, err := c.RequestQuote(context.Background(), QuoteRequest{
		SourceChain: "ethereum", DestChain: "bitcoin",
		SourceAsset: "ETH", DestAsset: "BTC", AmountSource: big.NewInt(1_000_000),
	})
	require.NoError(t, err)
	assert.NotNil(t, q.ToAmount)
	assert.True(t, q.ExpiresAt.After(q.IssuedAt))
}
