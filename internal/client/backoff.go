package client

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig shapes the delay before re-dialing a failed heartbeat.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// nextBackoffDelay returns the delay after failure N (1-based). Jitter
// scales the delay into [0.5, 1.5).
func nextBackoffDelay(cfg BackoffConfig, failure int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	delay := float64(cfg.InitialDelay)
	if failure > 1 {
		delay *= math.Pow(math.Max(cfg.Multiplier, 1), float64(failure-1))
	}
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f += rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}
