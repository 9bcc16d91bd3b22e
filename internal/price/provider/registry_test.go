package provider

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	id string
}

func (f *fakeProvider) ID() string                { return f.id }
func (f *fakeProvider) SupportedPairs() []string  { return []string{"ETH/USD"} }
func (f *fakeProvider) GetPrice(ctx context.Context, pair string) (PricePoint, error) {
	return PricePoint{Pair: pair, Price: big.NewInt(1), ProviderID: f.id, Confidence: 1, ObservedAt: time.Now()}, nil
}

func TestRegistry_RegisterAndBuild(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("fake", func(cfg Config) (Provider, error) {
		return &fakeProvider{id: cfg.ID}, nil
	}))

	p, err := r.Build("fake", Config{ID: "fake-1"})
	require.NoError(t, err)
	assert.Equal(t, "fake-1", p.ID())
}

func TestRegistry_BuildCachesInstance(t *testing.T) {
	r := NewRegistry()
	calls := 0
	require.NoError(t, r.Register("fake", func(cfg Config) (Provider, error) {
		calls++
		return &fakeProvider{id: cfg.ID}, nil
	}))

	first, err := r.Build("fake", Config{ID: "fake-1"})
	require.NoError(t, err)
	second, err := r.Build("fake", Config{ID: "fake-1"})
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
}

func TestRegistry_DuplicateRegistrationFails(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("fake", func(cfg Config) (Provider, error) {
		return &fakeProvider{id: cfg.ID}, nil
	}))
	err := r.Register("fake", func(cfg Config) (Provider, error) {
		return &fakeProvider{id: cfg.ID}, nil
	})
	assert.Error(t, err)
}

func TestRegistry_BuildUnregisteredTypeFails(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build("unknown", Config{ID: "x"})
	assert.Error(t, err)
}

func TestRegistry_AllReturnsBuiltInstances(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("fake", func(cfg Config) (Provider, error) {
		return &fakeProvider{id: cfg.ID}, nil
	}))
	_, err := r.Build("fake", Config{ID: "a"})
	require.NoError(t, err)
	_, err = r.Build("fake", Config{ID: "b"})
	require.NoError(t, err)

	assert.Len(t, r.All(), 2)
}
