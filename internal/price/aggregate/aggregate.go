// Package aggregate composes a set of per-provider PricePoint observations
// into one aggregate price, implementing the four-stage pipeline: staleness
// and bounds filter, Z-score outlier filter, compose-by-method, and a
// confidence/variance derivation.
package aggregate

import (
	"fmt"
	"math"
	"math/big"
	"sort"
	"time"

	"github.com/arcbridge/bridge-core/internal/bridgeerr"
	"github.com/arcbridge/bridge-core/internal/price/provider"
)

// Method selects how survivors are composed into a single price.
type Method string

const (
	MethodWeightedAverage   Method = "weighted"
	MethodMedian            Method = "median"
	MethodHighestConfidence Method = "highest_confidence"
	MethodMostRecent        Method = "most_recent"
)

// Config parameterizes one aggregation round for a single pair.
type Config struct {
	Method        Method
	MaxAge        time.Duration
	MinPrice      float64
	MaxPrice      float64
	OutlierZScore float64 // default 3.0
	MinSurvivors  int     // default 2
}

// Aggregate is the pipeline's output.
type Aggregate struct {
	Pair                 string
	Price                float64
	Confidence           float64
	Variance             float64
	ContributingProviders []string
	Method               Method
}

// Run executes the four-stage pipeline against points, all assumed to be
// for the same pair. now is passed explicitly so staleness filtering is
// deterministic and testable.
func Run(pair string, points []provider.PricePoint, cfg Config, now time.Time) (*Aggregate, error) {
	fresh := filterStaleAndOutOfBounds(points, cfg, now)
	survivors := filterOutliers(fresh, cfg)

	minSurvivors := cfg.MinSurvivors
	if minSurvivors <= 0 {
		minSurvivors = 2
	}
	if len(survivors) < minSurvivors {
		return nil, bridgeerr.New(bridgeerr.KindNonRetryable, bridgeerr.CodeInsufficientSignal,
			fmt.Sprintf("%d survivor(s) for %s, need at least %d", len(survivors), pair, minSurvivors), nil)
	}

	price, err := compose(survivors, cfg.Method)
	if err != nil {
		return nil, err
	}

	confidence, variance := deriveConfidenceAndVariance(survivors, price)

	ids := make([]string, len(survivors))
	for i, p := range survivors {
		ids[i] = p.ProviderID
	}

	return &Aggregate{
		Pair:                  pair,
		Price:                 price,
		Confidence:            confidence,
		Variance:              variance,
		ContributingProviders: ids,
		Method:                cfg.Method,
	}, nil
}

func filterStaleAndOutOfBounds(points []provider.PricePoint, cfg Config, now time.Time) []provider.PricePoint {
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}

	out := make([]provider.PricePoint, 0, len(points))
	for _, p := range points {
		if now.Sub(p.ObservedAt) > maxAge {
			continue
		}
		f := priceFloat(p)
		if cfg.MinPrice != 0 && f < cfg.MinPrice {
			continue
		}
		if cfg.MaxPrice != 0 && f > cfg.MaxPrice {
			continue
		}
		out = append(out, p)
	}
	return out
}

func filterOutliers(points []provider.PricePoint, cfg Config) []provider.PricePoint {
	if len(points) < 3 {
		// a Z-score against a sample of fewer than three points is not
		// meaningful; pass everything through to the survivor-count gate.
		return points
	}

	threshold := cfg.OutlierZScore
	if threshold <= 0 {
		threshold = 3.0
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = priceFloat(p)
	}
	med := median(values)
	// Scale by the median absolute deviation (normalized to a standard
	// deviation for normally distributed data), so a single extreme point
	// cannot inflate the spread it is measured against. Falls back to the
	// standard deviation about the median when most points coincide.
	deviations := make([]float64, len(values))
	for i, v := range values {
		deviations[i] = math.Abs(v - med)
	}
	sd := 1.4826 * median(deviations)
	if sd == 0 {
		sd = stddev(values, med)
	}
	if sd == 0 {
		return points
	}

	out := make([]provider.PricePoint, 0, len(points))
	for i, p := range points {
		z := math.Abs(values[i]-med) / sd
		if z <= threshold {
			out = append(out, p)
		}
	}
	return out
}

func compose(points []provider.PricePoint, method Method) (float64, error) {
	switch method {
	case MethodWeightedAverage, "":
		return weightedAverage(points), nil
	case MethodMedian:
		values := make([]float64, len(points))
		for i, p := range points {
			values[i] = priceFloat(p)
		}
		return median(values), nil
	case MethodHighestConfidence:
		best := points[0]
		for _, p := range points[1:] {
			if p.Confidence > best.Confidence {
				best = p
			}
		}
		return priceFloat(best), nil
	case MethodMostRecent:
		latest := points[0]
		for _, p := range points[1:] {
			if p.ObservedAt.After(latest.ObservedAt) {
				latest = p
			}
		}
		return priceFloat(latest), nil
	default:
		return 0, fmt.Errorf("aggregate: unknown method %q", method)
	}
}

func weightedAverage(points []provider.PricePoint) float64 {
	var totalWeight float64
	for _, p := range points {
		totalWeight += p.Confidence
	}
	if totalWeight == 0 {
		// degenerate: every survivor reports zero confidence; fall back to
		// an unweighted mean rather than dividing by zero.
		var sum float64
		for _, p := range points {
			sum += priceFloat(p)
		}
		return sum / float64(len(points))
	}

	var weighted float64
	for _, p := range points {
		weighted += priceFloat(p) * (p.Confidence / totalWeight)
	}
	return weighted
}

// deriveConfidenceAndVariance computes the aggregate's confidence as
// min(median(confidences), 1 - normalized_variance), per spec.
func deriveConfidenceAndVariance(points []provider.PricePoint, price float64) (confidence, variance float64) {
	confidences := make([]float64, len(points))
	values := make([]float64, len(points))
	for i, p := range points {
		confidences[i] = p.Confidence
		values[i] = priceFloat(p)
	}

	variance = sampleVariance(values, price)
	normalizedVariance := variance
	if price != 0 {
		normalizedVariance = variance / (price * price)
	}
	if normalizedVariance > 1 {
		normalizedVariance = 1
	}

	medConfidence := median(confidences)
	confidence = math.Min(medConfidence, 1-normalizedVariance)
	// Clamp to the least confident contributor: the spec's worked formula
	// (median, variance) and its universal invariant ("aggregated
	// confidence never exceeds the minimum contributing provider
	// confidence") both apply, and a three-or-more-survivor median can
	// exceed the minimum on its own.
	confidence = math.Min(confidence, minOf(confidences))
	if confidence < 0 {
		confidence = 0
	}
	return confidence, variance
}

func priceFloat(p provider.PricePoint) float64 {
	if p.Price == nil {
		return 0
	}
	f := new(big.Float).SetInt(p.Price)
	out, _ := f.Float64()
	return out
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}

func sampleVariance(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sumSq float64
	for _, v := range values {
		d := v - mean
		sumSq += d * d
	}
	return sumSq / float64(len(values))
}

func stddev(values []float64, mean float64) float64 {
	return math.Sqrt(sampleVariance(values, mean))
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
