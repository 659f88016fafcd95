package actions

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soochol/deskflow/internal/deskflow"
)

func TestCalculateBackoff(t *testing.T) {
	policy := deskflow.RetryPolicy{
		InitialDelay:  time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}

	tests := []struct {
		name     string
		attempt  int
		expected time.Duration
	}{
		{"attempt 0 returns InitialDelay", 0, 1 * time.Second},
		{"attempt 1 returns InitialDelay * BackoffFactor", 1, 2 * time.Second},
		{"attempt 3 returns InitialDelay * BackoffFactor^3", 3, 8 * time.Second},
		{"attempt 5 capped at MaxDelay", 5, 30 * time.Second},
		{"attempt 10 still capped at MaxDelay", 10, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calculateBackoff(policy, tt.attempt)
			if got != tt.expected {
				t.Errorf("calculateBackoff(policy, %d) = %v, want %v", tt.attempt, got, tt.expected)
			}
		})
	}
}

func TestCalculateBackoff_DefaultPolicy(t *testing.T) {
	policy := deskflow.DefaultRetryPolicy()
	if got := calculateBackoff(policy, 0); got != 200*time.Millisecond {
		t.Errorf("attempt 0: got %v, want 200ms", got)
	}
	if got := calculateBackoff(policy, 1); got != 400*time.Millisecond {
		t.Errorf("attempt 1: got %v, want 400ms", got)
	}
	if got := calculateBackoff(policy, 10); got != 5*time.Second {
		t.Errorf("attempt 10: got %v, want 5s cap", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"server error", errors.New("integration returned 503"), true},
		{"rate limited", errors.New("integration returned 429"), true},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"unexpected eof", errors.New("unexpected EOF"), true},
		{"client error", errors.New("integration returned 404"), false},
		{"permanent wins over message", Permanent(errors.New("503 but permanent")), false},
		{"context cancelled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryable(tt.err); got != tt.retryable {
				t.Errorf("isRetryable(%v) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}

var fastPolicy = deskflow.RetryPolicy{
	MaxRetries:    2,
	InitialDelay:  time.Millisecond,
	MaxDelay:      5 * time.Millisecond,
	BackoffFactor: 2,
}

func TestRetry_SucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	err := retry(context.Background(), fastPolicy, "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("503 service unavailable")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
}

func TestRetry_GivesUpAfterMaxRetries(t *testing.T) {
	calls := 0
	err := retry(context.Background(), fastPolicy, "test", func(context.Context) error {
		calls++
		return errors.New("502 bad gateway")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	calls := 0
	base := errors.New("integration returned 400")
	err := retry(context.Background(), fastPolicy, "test", func(context.Context) error {
		calls++
		return Permanent(base)
	})
	if !errors.Is(err, base) {
		t.Fatalf("got %v, want %v", err, base)
	}
	if _, ok := err.(*permanentError); ok {
		t.Error("permanent marker leaked to caller")
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestRetry_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	slow := deskflow.RetryPolicy{MaxRetries: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 1}
	done := make(chan error, 1)
	go func() {
		done <- retry(ctx, slow, "test", func(context.Context) error {
			calls++
			return errors.New("timeout talking to upstream")
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error")
		}
	case <-time.After(time.Second):
		t.Fatal("retry did not stop on cancel")
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}
