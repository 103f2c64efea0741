// Package ratelimit provides the shared token bucket that bounds the
// rate of outbound requests to the ClickUp API.
//
// # Usage
//
//	limiter := ratelimit.New(85) // 85 requests per rolling minute
//
//	if err := limiter.Acquire(ctx); err != nil {
//	    return err // context cancelled while waiting
//	}
//	// issue exactly one request
package ratelimit
