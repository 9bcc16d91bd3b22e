package aggregate

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcbridge/bridge-core/internal/price/provider"
)

func point(id string, price int64, confidence float64, age time.Duration, now time.Time) provider.PricePoint {
	return provider.PricePoint{
		Pair: "ETH/USD", Price: big.NewInt(price), ProviderID: id,
		Confidence: confidence, ObservedAt: now.Add(-age),
	}
}

func TestRun_WeightedAverage(t *testing.T) {
	now := time.Now()
	points := []provider.PricePoint{
		point("a", 1000, 0.9, 0, now),
		point("b", 1002, 0.9, 0, now),
		point("c", 999, 0.8, 0, now),
	}

	agg, err := Run("ETH/USD", points, Config{Method: MethodWeightedAverage, MinSurvivors: 2}, now)
	require.NoError(t, err)
	assert.InDelta(t, 1000.3, agg.Price, 1.0)
	assert.Len(t, agg.ContributingProviders, 3)
}

func TestRun_OutlierDropped(t *testing.T) {
	now := time.Now()
	points := []provider.PricePoint{
		point("a", 1000, 0.9, 0, now),
		point("b", 1002, 0.9, 0, now),
		point("c", 999, 0.9, 0, now),
		point("d", 2500, 0.9, 0, now),
	}

	agg, err := Run("ETH/USD", points, Config{Method: MethodMedian, MinSurvivors: 2, OutlierZScore: 3.0}, now)
	require.NoError(t, err)
	assert.Len(t, agg.ContributingProviders, 3)
	for _, id := range agg.ContributingProviders {
		assert.NotEqual(t, "d", id)
	}
}

func TestRun_InsufficientSignal(t *testing.T) {
	now := time.Now()
	points := []provider.PricePoint{
		point("a", 1000, 0.9, 0, now),
	}

	_, err := Run("ETH/USD", points, Config{Method: MethodMedian, MinSurvivors: 2}, now)
	require.Error(t, err)
	assert.ErrorContains(t, err, "ERR_INSUFFICIENT_SIGNAL")
}

func TestRun_ExactlyMinSurvivorsSucceeds(t *testing.T) {
	now := time.Now()
	points := []provider.PricePoint{
		point("a", 1000, 0.9, 0, now),
		point("b", 1001, 0.9, 0, now),
	}

	agg, err := Run("ETH/USD", points, Config{Method: MethodMedian, MinSurvivors: 2}, now)
	require.NoError(t, err)
	assert.Len(t, agg.ContributingProviders, 2)
}

func TestRun_StaleDiscarded(t *testing.T) {
	now := time.Now()
	points := []provider.PricePoint{
		point("a", 1000, 0.9, 0, now),
		point("b", 1001, 0.9, 0, now),
		point("stale", 5000, 0.9, time.Hour, now),
	}

	agg, err := Run("ETH/USD", points, Config{Method: MethodMedian, MinSurvivors: 2, MaxAge: 5 * time.Minute}, now)
	require.NoError(t, err)
	for _, id := range agg.ContributingProviders {
		assert.NotEqual(t, "stale", id)
	}
}

func TestRun_OutOfBoundsDiscarded(t *testing.T) {
	now := time.Now()
	points := []provider.PricePoint{
		point("a", 1000, 0.9, 0, now),
		point("b", 1001, 0.9, 0, now),
		point("toohigh", 999999, 0.9, 0, now),
	}

	agg, err := Run("ETH/USD", points, Config{Method: MethodMedian, MinSurvivors: 2, MinPrice: 1, MaxPrice: 2000}, now)
	require.NoError(t, err)
	for _, id := range agg.ContributingProviders {
		assert.NotEqual(t, "toohigh", id)
	}
}

func TestRun_ConfidenceNeverExceedsMinContributor(t *testing.T) {
	now := time.Now()
	points := []provider.PricePoint{
		point("a", 1000, 0.95, 0, now),
		point("b", 1000, 0.40, 0, now),
		point("c", 1000, 0.90, 0, now),
	}

	agg, err := Run("ETH/USD", points, Config{Method: MethodWeightedAverage, MinSurvivors: 2}, now)
	require.NoError(t, err)
	minConfidence := 0.40
	assert.LessOrEqual(t, agg.Confidence, minConfidence+1e-9)
}

func TestRun_HighestConfidenceMethod(t *testing.T) {
	now := time.Now()
	points := []provider.PricePoint{
		point("a", 1000, 0.5, 0, now),
		point("b", 1010, 0.99, 0, now),
	}

	agg, err := Run("ETH/USD", points, Config{Method: MethodHighestConfidence, MinSurvivors: 2}, now)
	require.NoError(t, err)
	assert.Equal(t, 1010.0, agg.Price)
}

func TestRun_MostRecentMethod(t *testing.T) {
	now := time.Now()
	points := []provider.PricePoint{
		point("a", 1000, 0.9, time.Minute, now),
		point("b", 1010, 0.9, 0, now),
	}

	agg, err := Run("ETH/USD", points, Config{Method: MethodMostRecent, MinSurvivors: 2}, now)
	require.NoError(t, err)
	assert.Equal(t, 1010.0, agg.Price)
}
