package actions

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/soochol/deskflow/internal/deskflow"
)

// permanentError marks a failure that must not be retried.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so retry gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// retry calls fn until it succeeds, returns a non-retryable error, or the
// policy's retries are spent. It never sleeps past ctx.
func retry(ctx context.Context, policy deskflow.RetryPolicy, op string, fn func(ctx context.Context) error) error {
	var err error
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !isRetryable(err) || attempt >= policy.MaxRetries || ctx.Err() != nil {
			break
		}
		if !sleepWithBackoff(ctx, policy, op, attempt) {
			break
		}
	}
	var perm *permanentError
	if errors.As(err, &perm) {
		return perm.err
	}
	return err
}

// sleepWithBackoff waits for the backoff duration. It reports false when
// ctx ended first.
func sleepWithBackoff(ctx context.Context, policy deskflow.RetryPolicy, op string, attempt int) bool {
	delay := calculateBackoff(policy, attempt)
	slog.Info("retry: backing off", "op", op, "attempt", attempt+1, "delay", delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// calculateBackoff computes the delay for a given attempt using exponential backoff.
func calculateBackoff(policy deskflow.RetryPolicy, attempt int) time.Duration {
	delay := float64(policy.InitialDelay) * math.Pow(policy.BackoffFactor, float64(attempt))
	if time.Duration(delay) > policy.MaxDelay {
		return policy.MaxDelay
	}
	return time.Duration(delay)
}

// isRetryable checks if an error is worth retrying.
func isRetryable(err error) bool {
	var perm *permanentError
	if errors.As(err, &perm) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return isRetryableMsg(err.Error())
}

// isRetryableMsg checks if an error message indicates a transient condition.
func isRetryableMsg(msg string) bool {
	lower := strings.ToLower(msg)
	retryablePatterns := []string{
		"timeout", "rate limit", "too many requests",
		"429", "500", "502", "503", "504",
		"connection reset", "connection refused", "eof",
	}
	for _, pattern := range retryablePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
