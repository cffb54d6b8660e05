// Package ratelimit throttles page fetches per host with a token bucket, so a
// large crawl does not hammer a single storefront.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/countly-etl/internal/fetcher"
)

// Config holds rate limiter configuration. A non-positive rate disables limiting.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// Limiter manages one token bucket per host.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	observe  func(host string, d time.Duration)
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithObserver receives every wait longer than a millisecond.
func WithObserver(fn func(host string, d time.Duration)) Option {
	return func(l *Limiter) { l.observe = fn }
}

// New creates a Limiter.
func New(cfg Config, opts ...Option) *Limiter {
	r := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	l := &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Unlimited reports whether the limiter never blocks.
func (l *Limiter) Unlimited() bool {
	return l.rate == rate.Inf
}

// Wait blocks until a token is available for rawURL's host.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	l.mu.Lock()
	limiter, ok := l.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", host, err)
	}
	if d := time.Since(start); d > time.Millisecond && l.observe != nil {
		l.observe(host, d)
	}
	return nil
}

// Fetcher waits on a Limiter before delegating each fetch.
type Fetcher struct {
	next    fetcher.Fetcher
	limiter *Limiter
}

// Wrap throttles next. It returns next unchanged when l never blocks.
func Wrap(next fetcher.Fetcher, l *Limiter) fetcher.Fetcher {
	if l == nil || l.Unlimited() {
		return next
	}
	return &Fetcher{next: next, limiter: l}
}

// Fetch implements fetcher.Fetcher.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (fetcher.Response, error) {
	if err := f.limiter.Wait(ctx, rawURL); err != nil {
		return fetcher.Response{}, fetcher.Classify(rawURL, 0, err)
	}
	return f.next.Fetch(ctx, rawURL)
}
