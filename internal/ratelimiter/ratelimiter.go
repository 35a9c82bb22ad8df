// Package ratelimiter limits the rate of capability calls a peer may make.
package ratelimiter

import (
	"context"

	"github.com/marmos91/grainweb/internal/protocol/capability"
	"golang.org/x/time/rate"
)

// RateLimiter is a token bucket: tokens refill at a sustained rate and the
// bucket holds at most burst tokens, so short spikes above the rate pass.
//
// It satisfies capability.Limiter. A connection consults Allow for each
// incoming call and answers an Overloaded exception when it returns false.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

var _ capability.Limiter = (*RateLimiter)(nil)

// New creates a limiter admitting requestsPerSecond sustained calls with
// bursts of up to burst calls.
//
// Special cases:
//   - requestsPerSecond = 0: unlimited
//   - burst = 0 with a nonzero rate: burst defaults to requestsPerSecond
//
// Example:
//
//	// 100 calls/s sustained, bursts of 200
//	limiter := New(100, 200)
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = requestsPerSecond
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow consumes a token if one is available. It never blocks.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}

// Tokens returns the tokens currently in the bucket. The value may be
// stale by the time the caller reads it.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

// Unlimited reports whether the limiter admits every call.
func (r *RateLimiter) Unlimited() bool {
	return r.limiter.Limit() == rate.Inf
}

// Factory builds one limiter per connection, so a noisy peer cannot starve
// others. A nil Factory means no limiting.
type Factory func() capability.Limiter

// PerConnection returns a Factory for the given settings, or nil when
// requestsPerSecond is zero.
func PerConnection(requestsPerSecond, burst uint) Factory {
	if requestsPerSecond == 0 {
		return nil
	}
	return func() capability.Limiter {
		return New(requestsPerSecond, burst)
	}
}
