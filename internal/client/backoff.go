package client

import (
	"math/rand"
	"time"
)

// Backoff bounds the randomized pause between send attempts.
type Backoff struct {
	Min time.Duration
	Max time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{Min: 0, Max: 2 * time.Second}
}

// NextDelay returns a uniformly random delay in [Min, Max). A nil rng
// yields the midpoint.
func NextDelay(cfg Backoff, rng *rand.Rand) time.Duration {
	if cfg.Min < 0 {
		cfg.Min = 0
	}
	if cfg.Max <= cfg.Min {
		return cfg.Min
	}
	span := cfg.Max - cfg.Min
	f := 0.5
	if rng != nil {
		f = rng.Float64()
	}
	return cfg.Min + time.Duration(f*float64(span))
}
