package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// Policy defines a bounded exponential backoff retry schedule. The same
// policy is applied to the walker's pagination fetches and the download
// workers' byte fetches so that "retry with backoff" means one thing
// throughout the program.
type Policy struct {
	// Attempts is the total number of attempts, including the first.
	// Default: 3
	Attempts int

	// Backoff is the initial backoff duration.
	// Default: 1s
	Backoff time.Duration

	// MaxBackoff caps the backoff duration.
	// Default: 30s
	MaxBackoff time.Duration
}

// Default returns the policy used across the pipeline.
func Default() Policy {
	return Policy{
		Attempts:   3,
		Backoff:    time.Second,
		MaxBackoff: 30 * time.Second,
	}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns it (unwrapped
// for errors.Is purposes) as soon as an attempt produces it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Do runs op until it succeeds, returns a permanent error, the attempt
// budget is exhausted, or the context is cancelled. The error returned
// after exhaustion wraps the last attempt's error.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := p.sleep(ctx, attempt-1); err != nil {
				return err
			}
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		if ctx.Err() != nil {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// sleep waits for an exponentially increasing duration with jitter.
func (p Policy) sleep(ctx context.Context, attempt int) error {
	backoff := p.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	backoff *= time.Duration(1 << uint(attempt-1))
	if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
		backoff = p.MaxBackoff
	}

	// Jitter: 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitter):
		return nil
	}
}
