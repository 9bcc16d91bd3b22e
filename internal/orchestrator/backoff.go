package orchestrator

import (
	"math"
	"math/rand"
	"time"
)

// backoffPolicy is exponential backoff with full jitter, bounded attempts,
// parameterized by the chain.*.submit_retry.* config values per spec §4.1
// "Retry and timeout policy".
type backoffPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func defaultBackoff() backoffPolicy {
	return backoffPolicy{MaxAttempts: 5, BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second}
}

// exhausted reports whether attempt (1-indexed) has used up the policy's
// bounded attempt budget.
func (b backoffPolicy) exhausted(attempt int) bool {
	return attempt >= b.MaxAttempts
}

// delay returns the jittered wait before attempt (1-indexed), full-jitter
// style: a uniform random value in [0, cap], where cap grows exponentially
// with attempt number up to MaxDelay.
func (b backoffPolicy) delay(attempt int) time.Duration {
	capDelay := float64(b.BaseDelay) * math.Pow(2, float64(attempt-1))
	if capDelay > float64(b.MaxDelay) || capDelay <= 0 {
		capDelay = float64(b.MaxDelay)
	}
	return time.Duration(rand.Int63n(int64(capDelay) + 1))
}
