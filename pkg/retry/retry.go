package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrPollTimeout is returned by Poll when maxWait elapses before completion
var ErrPollTimeout = errors.New("poll timed out")

// RetryPolicy defines how to retry an operation
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Jitter         bool
}

// DefaultPolicy is a sensible default retry policy
var DefaultPolicy = RetryPolicy{
	MaxAttempts:    3,
	InitialBackoff: 100 * time.Millisecond,
	MaxBackoff:     2 * time.Second,
	Jitter:         true,
}

// Fixed returns a policy with a constant delay between attempts
func Fixed(attempts int, delay time.Duration) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialBackoff: delay, MaxBackoff: delay}
}

// IsTransientFunc defines if an error is transient and should be retried
type IsTransientFunc func(error) bool

// Do executes a function with retries according to the policy
func Do(ctx context.Context, policy RetryPolicy, isTransient IsTransientFunc, fn func() error) error {
	return DoAttempt(ctx, policy, isTransient, func(int) error { return fn() })
}

// DoAttempt is Do with the zero-based attempt index passed to fn
func DoAttempt(ctx context.Context, policy RetryPolicy, isTransient IsTransientFunc, fn func(attempt int) error) error {
	var err error
	backoff := policy.InitialBackoff
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 0; attempt < attempts; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}

		if isTransient != nil && !isTransient(err) {
			return err
		}

		if attempt == attempts-1 {
			break
		}

		sleepTime := backoff
		if policy.Jitter && backoff > 1 {
			// backoff + random(0, 50% of backoff)
			sleepTime += time.Duration(rand.Int63n(int64(backoff / 2)))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepTime):
			backoff = minDuration(backoff*2, policy.MaxBackoff)
		}
	}

	return err
}

// Poll calls fn every interval until it reports done, returns an error, or maxWait elapses.
// fn is invoked once immediately.
func Poll(ctx context.Context, interval, maxWait time.Duration, fn func(ctx context.Context) (bool, error)) error {
	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if !time.Now().Before(deadline) {
			return ErrPollTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
