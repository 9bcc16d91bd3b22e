package aggregate

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/arcbridge/bridge-core/internal/price/provider"
)

// FetchAll queries every provider for pair concurrently, within ctx's
// deadline. A single provider's failure (including a RateLimited error) is
// recorded and skipped rather than failing the whole round — the pipeline's
// own survivor-count gate is what decides whether the round has enough
// signal, not an all-or-nothing fetch.
func FetchAll(ctx context.Context, providers []provider.Provider, pair string) ([]provider.PricePoint, map[string]error) {
	var (
		mu     sync.Mutex
		points []provider.PricePoint
		errs   = make(map[string]error)
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range providers {
		p := p
		g.Go(func() error {
			point, err := p.GetPrice(gctx, pair)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs[p.ID()] = err
				return nil
			}
			points = append(points, point)
			return nil
		})
	}
	_ = g.Wait() // individual provider errors are captured above, never surfaced here

	return points, errs
}
