package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/amishk599/careerscan/internal/model"
)

// HostLimiter enforces a minimum delay between page loads on the same host.
type HostLimiter struct {
	mu       sync.Mutex
	lastCall map[string]time.Time // key: lowercased host
	minDelay time.Duration
}

// NewHostLimiter creates a limiter that spaces consecutive fetches to one host
// by at least minDelay. A non-positive minDelay disables waiting.
func NewHostLimiter(minDelay time.Duration) *HostLimiter {
	return &HostLimiter{
		lastCall: make(map[string]time.Time),
		minDelay: minDelay,
	}
}

// Wait blocks until enough time has passed since the last fetch to host.
// Returns an error if the context is cancelled while waiting.
func (r *HostLimiter) Wait(ctx context.Context, host string) error {
	host = strings.ToLower(host)

	r.mu.Lock()
	last, ok := r.lastCall[host]
	now := time.Now()

	if !ok || now.Sub(last) >= r.minDelay {
		r.lastCall[host] = now
		r.mu.Unlock()
		return nil
	}

	remaining := r.minDelay - now.Sub(last)
	// Reserve the slot so a concurrent caller queues behind this one.
	r.lastCall[host] = now.Add(remaining)
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limiter wait for %s: %w", host, ctx.Err())
	case <-time.After(remaining):
	}
	return nil
}

// RateLimitedFetcher waits on a shared HostLimiter before delegating.
type RateLimitedFetcher struct {
	inner   model.PageFetcher
	limiter *HostLimiter
}

var _ model.PageFetcher = (*RateLimitedFetcher)(nil)

// NewRateLimitedFetcher wraps a PageFetcher with per-host rate limiting.
func NewRateLimitedFetcher(inner model.PageFetcher, limiter *HostLimiter) *RateLimitedFetcher {
	return &RateLimitedFetcher{
		inner:   inner,
		limiter: limiter,
	}
}

// Fetch waits for the target host's slot, then delegates. Unparseable URLs
// are passed through so the inner fetcher reports the failure.
func (f *RateLimitedFetcher) Fetch(ctx context.Context, rawURL, selector string) (string, error) {
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		if err := f.limiter.Wait(ctx, u.Host); err != nil {
			return "", &model.FetchError{Kind: model.NavigationFailed, URL: rawURL, Err: err}
		}
	}
	return f.inner.Fetch(ctx, rawURL, selector)
}
