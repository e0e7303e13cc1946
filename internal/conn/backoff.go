package conn

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff returns the reconnect delay for the given attempt (1-based):
// min(BaseDelay * Growth^(attempt-1), MaxDelay).
func Backoff(cfg Config, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(cfg.BaseDelay) * math.Pow(cfg.Growth, float64(attempt-1))
	if d > float64(cfg.MaxDelay) || math.IsInf(d, 1) {
		return cfg.MaxDelay
	}
	return time.Duration(d)
}

// withJitter spreads d by up to ±10% without exceeding max.
func withJitter(d, max time.Duration) time.Duration {
	spread := int64(d) / 10
	if spread <= 0 {
		return d
	}
	j := d + time.Duration(rand.Int64N(2*spread+1)-spread)
	if j > max {
		return max
	}
	return j
}
