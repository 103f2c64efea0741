package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// DefaultPerMinute is the request budget used when none is configured.
// The ClickUp API allows roughly 100 requests per minute per token; we
// stay a little under that.
const DefaultPerMinute = 85

// Limiter enforces a global outbound request budget. It is a token
// bucket with capacity perMinute, refilled continuously at perMinute/60
// tokens per second. A single Limiter is shared by every component that
// talks to the remote API, so it is the sole point of throughput
// control no matter how many workers are running.
type Limiter struct {
	bucket *rate.Limiter
}

// New creates a limiter allowing at most perMinute requests in any
// rolling 60-second window. Non-positive values fall back to
// DefaultPerMinute.
func New(perMinute int) *Limiter {
	if perMinute <= 0 {
		perMinute = DefaultPerMinute
	}
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
	}
}

// Acquire blocks until one request may be issued. It never fails on its
// own; the only possible error is the context being cancelled while
// waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	return l.bucket.Wait(ctx)
}
