// Package ratelimit implements per-host politeness as a token-bucket policy.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jackronrau/AnyCrawl-sub001/internal/metrics"
)

// Config bounds the default bucket handed to each new host.
type Config struct {
	// RPS is the sustained request rate per host. Zero or negative means
	// unlimited.
	RPS float64
	// Burst is the bucket size. Values below 1 are raised to 1.
	Burst int
}

// Limiter hands out fetch slots per host. It implements job.Policy.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

// New builds a Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// Acquire blocks until the host's bucket has a token or the context ends.
// Waits long enough to matter are recorded per host.
func (l *Limiter) Acquire(ctx context.Context, rawURL string) error {
	host := metrics.SanitizeSite(rawURL)

	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if delay := time.Since(start); delay > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, delay)
	}
	return nil
}
