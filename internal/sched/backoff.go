package sched

import (
	"math/rand/v2"
	"time"
)

const backoffJitter = 0.2

// retryBackoff is the delay before re-queueing a transient failure:
// exponential in the attempt count, capped, with +-20% jitter.
func retryBackoff(cfg Config, attempts int) time.Duration {
	return jittered(exponential(cfg.BackoffBase, cfg.BackoffMax, attempts))
}

// rateLimitBackoff is the mandatory cool-down after an upstream rate-limit
// signal. It grows with the consecutive rate-limit streak of one job.
func rateLimitBackoff(cfg Config, streak int) time.Duration {
	return jittered(exponential(cfg.RateLimitBackoffBase, cfg.RateLimitBackoffMax, streak))
}

func exponential(base, limit time.Duration, n int) time.Duration {
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= limit {
			return limit
		}
	}
	if d > limit {
		return limit
	}
	return d
}

func jittered(d time.Duration) time.Duration {
	f := 1 - backoffJitter + 2*backoffJitter*rand.Float64()
	return time.Duration(float64(d) * f)
}

// backoffBounds returns the jitter envelope for a raw delay.
func backoffBounds(d time.Duration) (time.Duration, time.Duration) {
	lo := time.Duration(float64(d) * (1 - backoffJitter))
	hi := time.Duration(float64(d) * (1 + backoffJitter))
	return lo, hi
}
