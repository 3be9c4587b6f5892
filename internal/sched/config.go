package sched

import (
	"log/slog"
	"os"
	"strconv"
	"time"
)

// Config carries scheduler tuning. Zero values fall back to the defaults the
// upstream provider tolerates: one authenticated call, two open calls, one
// concurrent upstream call overall.
type Config struct {
	CapAuthenticated int
	CapOpen          int
	ThrottlePermits  int

	// Transient retry backoff: Base*2^(attempts-1), capped at Max, +-20% jitter.
	BackoffBase time.Duration
	BackoffMax  time.Duration

	// Rate-limit backoff is longer and mandatory; it grows with consecutive
	// rate-limited outcomes on the same job and never consumes an attempt.
	RateLimitBackoffBase time.Duration
	RateLimitBackoffMax  time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

func DefaultConfig() Config {
	return Config{
		CapAuthenticated:     1,
		CapOpen:              2,
		ThrottlePermits:      1,
		BackoffBase:          2 * time.Second,
		BackoffMax:           2 * time.Minute,
		RateLimitBackoffBase: 30 * time.Second,
		RateLimitBackoffMax:  5 * time.Minute,
	}
}

// ConfigFromEnv reads capacity overrides, clamped to the ranges the upstream
// provider is known to tolerate.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	cfg.CapAuthenticated = envInt("VODC_CAP_AUTH", cfg.CapAuthenticated, 1, 3)
	cfg.CapOpen = envInt("VODC_CAP_OPEN", cfg.CapOpen, 1, 5)
	cfg.ThrottlePermits = envInt("VODC_THROTTLE", cfg.ThrottlePermits, 1, 4)
	return cfg
}

func envInt(name string, def, lo, hi int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return max(lo, min(hi, v))
}

func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.CapAuthenticated <= 0 {
		c.CapAuthenticated = d.CapAuthenticated
	}
	if c.CapOpen <= 0 {
		c.CapOpen = d.CapOpen
	}
	if c.ThrottlePermits <= 0 {
		c.ThrottlePermits = d.ThrottlePermits
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.RateLimitBackoffBase <= 0 {
		c.RateLimitBackoffBase = d.RateLimitBackoffBase
	}
	if c.RateLimitBackoffMax <= 0 {
		c.RateLimitBackoffMax = d.RateLimitBackoffMax
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}
