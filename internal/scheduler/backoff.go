package scheduler

import (
	"math"
	"time"
)

// BackoffConfig stretches the interval after consecutive failures. When
// disabled the scheduler keeps the fixed interval regardless of failures.
type BackoffConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Factor   float64       `mapstructure:"factor"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// DefaultBackoffConfig returns the fixed-interval baseline.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Enabled:  false,
		Factor:   2.0,
		MaxDelay: 30 * time.Second,
	}
}

// Delay returns the wait before the next tick after failures consecutive
// failed ticks.
func (b BackoffConfig) Delay(interval time.Duration, failures int) time.Duration {
	if !b.Enabled || failures <= 0 || b.Factor <= 1 {
		return interval
	}
	maxDelay := b.MaxDelay
	if maxDelay < interval {
		maxDelay = interval
	}
	delay := float64(interval) * math.Pow(b.Factor, float64(failures))
	if delay > float64(maxDelay) || math.IsInf(delay, 0) {
		return maxDelay
	}
	return time.Duration(delay)
}
