package breaker

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcbridge/bridge-core/internal/eventbus"
	"github.com/arcbridge/bridge-core/internal/price/provider"
)

type flakyProvider struct {
	id      string
	failing bool
}

func (f *flakyProvider) ID() string               { return f.id }
func (f *flakyProvider) SupportedPairs() []string { return []string{"ETH/USD"} }
func (f *flakyProvider) GetPrice(ctx context.Context, pair string) (provider.PricePoint, error) {
	if f.failing {
		return provider.PricePoint{}, errors.New("upstream unavailable")
	}
	return provider.PricePoint{Pair: pair, Price: big.NewInt(1), ProviderID: f.id, Confidence: 1, ObservedAt: time.Now()}, nil
}

func TestGuarded_PassesThroughOnSuccess(t *testing.T) {
	g := New(Config{FailureThreshold: 3, Cooldown: time.Millisecond}, eventbus.New())
	p := &flakyProvider{id: "p1"}

	point, err := g.GetPrice(context.Background(), p, "ETH/USD")
	require.NoError(t, err)
	assert.Equal(t, "p1", point.ProviderID)
}

func TestGuarded_OpensAfterConsecutiveFailuresNotBefore(t *testing.T) {
	g := New(Config{FailureThreshold: 3, Cooldown: time.Hour}, eventbus.New())
	p := &flakyProvider{id: "p1", failing: true}

	for i := 0; i < 2; i++ {
		_, err := g.GetPrice(context.Background(), p, "ETH/USD")
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "ERR_PROVIDER_DOWN", "breaker must not open before the Nth consecutive failure")
	}

	// third consecutive failure trips the breaker
	_, err := g.GetPrice(context.Background(), p, "ETH/USD")
	assert.Error(t, err)

	_, err = g.GetPrice(context.Background(), p, "ETH/USD")
	assert.ErrorContains(t, err, "ERR_PROVIDER_DOWN")
}

func TestGuarded_HalfOpenAdmitsOneProbeThenCloses(t *testing.T) {
	g := New(Config{FailureThreshold: 2, Cooldown: 10 * time.Millisecond}, eventbus.New())
	p := &flakyProvider{id: "p1", failing: true}

	_, _ = g.GetPrice(context.Background(), p, "ETH/USD")
	_, _ = g.GetPrice(context.Background(), p, "ETH/USD")

	_, err := g.GetPrice(context.Background(), p, "ETH/USD")
	require.ErrorContains(t, err, "ERR_PROVIDER_DOWN")

	time.Sleep(20 * time.Millisecond)
	p.failing = false

	point, err := g.GetPrice(context.Background(), p, "ETH/USD")
	require.NoError(t, err)
	assert.Equal(t, "p1", point.ProviderID)
}

func TestGuarded_PublishesHealthTransitions(t *testing.T) {
	bus := eventbus.New()
	ch := eventbus.Subscribe[eventbus.ProviderHealthChanged](bus, eventbus.TopicProviderHealthChanged)

	g := New(Config{FailureThreshold: 1, Cooldown: time.Hour}, bus)
	p := &flakyProvider{id: "p1", failing: true}

	_, _ = g.GetPrice(context.Background(), p, "ETH/USD")

	select {
	case event := <-ch:
		assert.Equal(t, "p1", event.ProviderID)
		assert.Equal(t, "open", event.State)
	case <-time.After(time.Second):
		t.Fatal("expected a health transition to be published")
	}
}
