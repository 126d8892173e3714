package webhook

import (
	"math"
	"math/rand"
	"time"
)

// BackoffStrategy computes the delay before a retry attempt.
// Implementations must be safe for concurrent use.
type BackoffStrategy interface {
	// NextInterval returns the delay before the given retry.
	// Attempt starts at 1 for the first retry.
	NextInterval(attempt int) time.Duration
}

// ExponentialBackoff grows the delay by Multiplier per attempt, capped
// at MaxInterval. JitterFactor spreads concurrent retries by scaling
// each delay by a random factor in [1-j, 1+j].
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	JitterFactor    float64
}

func (e ExponentialBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	initial := e.InitialInterval
	if initial == 0 {
		initial = time.Second
	}
	maxInterval := e.MaxInterval
	if maxInterval == 0 {
		maxInterval = 30 * time.Second
	}
	multiplier := e.Multiplier
	if multiplier == 0 {
		multiplier = 2
	}

	interval := float64(initial) * math.Pow(multiplier, float64(attempt-1))

	// Zero jitter stays deterministic for tests.
	if e.JitterFactor > 0 {
		interval *= 1 + (rand.Float64()*2-1)*e.JitterFactor
	}

	if interval > float64(maxInterval) {
		interval = float64(maxInterval)
	}
	return time.Duration(interval)
}

// FixedBackoff waits the same interval before every retry.
type FixedBackoff struct {
	Interval time.Duration
}

func (f FixedBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return f.Interval
}

// DefaultBackoffStrategy returns the exponential backoff used when no
// strategy is configured: 1s initial, doubling, capped at 30s, 10% jitter.
func DefaultBackoffStrategy() BackoffStrategy {
	return ExponentialBackoff{
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		JitterFactor:    0.1,
	}
}
