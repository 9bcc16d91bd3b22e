// Package breaker wraps each price provider in its own circuit breaker,
// the stateful validation layer spec §4.6 describes: counts consecutive
// failures, opens the circuit once they reach a threshold, short-circuits
// while open, and half-opens after a cooldown to admit a single probe.
package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/arcbridge/bridge-core/internal/bridgeerr"
	"github.com/arcbridge/bridge-core/internal/eventbus"
	"github.com/arcbridge/bridge-core/internal/price/provider"
)

// Config parameterizes every provider's breaker identically, per spec's
// single `circuit.failure_threshold` / `circuit.cooldown_sec` keys.
type Config struct {
	FailureThreshold uint32
	Cooldown         time.Duration
}

// Guarded wraps a provider.Provider with a circuit breaker and republishes
// its health transitions onto the Event Bus.
type Guarded struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	cfg      Config
	bus      *eventbus.Bus
}

// New constructs a Guarded wrapper. Breakers are created lazily per
// provider id on first use, since the provider set is only fully known
// once configuration loads.
func New(cfg Config, bus *eventbus.Bus) *Guarded {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Guarded{breakers: make(map[string]*gobreaker.CircuitBreaker), cfg: cfg, bus: bus}
}

func (g *Guarded) breakerFor(providerID string) *gobreaker.CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()

	if cb, ok := g.breakers[providerID]; ok {
		return cb
	}

	settings := gobreaker.Settings{
		Name:        providerID,
		MaxRequests: 1, // exactly one probe admitted while half-open
		Interval:    0, // never reset Counts while closed; only Timeout matters
		Timeout:     g.cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= g.cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.bus.Publish(eventbus.TopicProviderHealthChanged, eventbus.ProviderHealthChanged{
				ProviderID: name,
				State:      stateLabel(to),
				At:         time.Now(),
				Reason:     fmt.Sprintf("%s -> %s", stateLabel(from), stateLabel(to)),
			})
		},
	}

	cb := gobreaker.NewCircuitBreaker(settings)
	g.breakers[providerID] = cb
	return cb
}

// GetPrice executes p.GetPrice through providerID's breaker. While open it
// returns a bridgeerr.Error classified Retryable with code ERR_PROVIDER_DOWN
// instead of calling the provider at all.
func (g *Guarded) GetPrice(ctx context.Context, p provider.Provider, pair string) (provider.PricePoint, error) {
	cb := g.breakerFor(p.ID())

	result, err := cb.Execute(func() (interface{}, error) {
		return p.GetPrice(ctx, pair)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return provider.PricePoint{}, bridgeerr.New(bridgeerr.KindRetryable, bridgeerr.CodeProviderDown,
				fmt.Sprintf("provider %q circuit open", p.ID()), err)
		}
		return provider.PricePoint{}, err
	}
	return result.(provider.PricePoint), nil
}

func stateLabel(s gobreaker.State) string {
	switch s {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
