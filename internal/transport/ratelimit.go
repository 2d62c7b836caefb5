// Copyright 2025 Joseph Cumines
//
// Token bucket rate limiter for unary RPCs

package transport

import (
	"context"
	"math"
	"sync"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

// RateLimiter implements a token bucket rate limiting algorithm.
// It provides thread-safe rate limiting with configurable requests per second.
// The burst size is twice the rate, and at least one.
type RateLimiter struct {
	clock      func() time.Time // injectable clock for testing
	lastUpdate time.Time        // last time tokens were refilled
	rate       float64          // tokens added per second
	burst      float64          // maximum bucket capacity
	tokens     float64          // current available tokens
	mu         sync.Mutex       // protects all fields
}

// NewRateLimiter creates a rate limiter allowing requestsPerSecond.
// Returns nil if rate is 0 or negative (disabling rate limiting).
func NewRateLimiter(requestsPerSecond float64) *RateLimiter {
	return NewRateLimiterWithClock(requestsPerSecond, time.Now)
}

// NewRateLimiterWithClock creates a rate limiter with an injectable clock.
func NewRateLimiterWithClock(requestsPerSecond float64, clock func() time.Time) *RateLimiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	burst := max(requestsPerSecond*2, 1)
	return &RateLimiter{
		rate:       requestsPerSecond,
		burst:      burst,
		tokens:     burst,
		lastUpdate: clock(),
		clock:      clock,
	}
}

// refill must be called with mu held.
func (r *RateLimiter) refill() {
	now := r.clock()
	r.tokens = min(r.tokens+now.Sub(r.lastUpdate).Seconds()*r.rate, r.burst)
	r.lastUpdate = now
}

// Allow consumes a token if one is available. A nil limiter always allows.
func (r *RateLimiter) Allow() bool {
	if r == nil {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	if r.tokens < 1 {
		return false
	}
	r.tokens--
	return true
}

// RetryAfter returns how long until the next token is available, rounded up
// to whole seconds (minimum one).
func (r *RateLimiter) RetryAfter() time.Duration {
	if r == nil {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill()
	missing := 1 - r.tokens
	if missing <= 0 {
		return time.Second
	}
	return time.Duration(max(math.Ceil(missing/r.rate), 1)) * time.Second
}

// Tokens returns the current number of available tokens.
// Returns -1 if the limiter is nil (disabled).
func (r *RateLimiter) Tokens() float64 {
	if r == nil {
		return -1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokens
}

// UnaryRateLimitInterceptor rejects unary RPCs with ResourceExhausted once
// the limiter is empty, attaching a RetryInfo detail. Methods listed in
// exempt (full method names, such as the health check) always pass. A nil
// limiter yields a passthrough interceptor; metrics may be nil.
func UnaryRateLimitInterceptor(limiter *RateLimiter, metrics *MetricsRegistry, exempt ...string) grpc.UnaryServerInterceptor {
	skip := make(map[string]struct{}, len(exempt))
	for _, method := range exempt {
		skip[method] = struct{}{}
	}

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if limiter == nil {
			return handler(ctx, req)
		}
		if _, ok := skip[info.FullMethod]; ok {
			return handler(ctx, req)
		}
		if limiter.Allow() {
			return handler(ctx, req)
		}

		if metrics != nil {
			metrics.RecordRateLimited(info.FullMethod)
		}
		st := status.New(codes.ResourceExhausted, "rate limit exceeded")
		if detailed, err := st.WithDetails(&errdetails.RetryInfo{
			RetryDelay: durationpb.New(limiter.RetryAfter()),
		}); err == nil {
			st = detailed
		}
		return nil, st.Err()
	}
}
