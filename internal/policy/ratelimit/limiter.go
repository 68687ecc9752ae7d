// Package ratelimit paces searches against the appeals site with a token
// bucket.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/arb-appeal-extractor/internal/metrics"
)

// Config holds pacer configuration.
type Config struct {
	// SearchesPerMinute caps lookups against the site. Zero or less disables
	// pacing.
	SearchesPerMinute float64
	Burst             int
	// Site labels the delay metric.
	Site string
}

// Limiter spaces consecutive searches. A nil Limiter never waits.
type Limiter struct {
	limiter *rate.Limiter
	site    string
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	r := rate.Inf
	if cfg.SearchesPerMinute > 0 {
		r = rate.Limit(cfg.SearchesPerMinute / 60)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(r, burst), site: cfg.Site}
}

// Wait blocks until the next search may start, respecting the context.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObservePaceDelay(l.site, d)
	}
	return nil
}

// Interval is the steady-state gap between searches, zero when unpaced.
func (l *Limiter) Interval() time.Duration {
	if l == nil || l.limiter.Limit() == rate.Inf || l.limiter.Limit() <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(l.limiter.Limit()))
}
