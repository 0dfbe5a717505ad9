package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_RetryBehavior(t *testing.T) {
	errTransient := errors.New("transient")

	tests := []struct {
		name        string
		failures    int // fn fails this many times, then succeeds
		maxAttempts int
		wantCalls   int
		wantErr     error
	}{
		{name: "immediate success", failures: 0, maxAttempts: 3, wantCalls: 1, wantErr: nil},
		{name: "succeeds on last attempt", failures: 2, maxAttempts: 3, wantCalls: 3, wantErr: nil},
		{name: "exhausts attempts", failures: 5, maxAttempts: 3, wantCalls: 3, wantErr: errTransient},
		{name: "attempt floor of one", failures: 0, maxAttempts: 0, wantCalls: 1, wantErr: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := Do(context.Background(), tt.maxAttempts, time.Millisecond, func() error {
				calls++
				if calls <= tt.failures {
					return errTransient
				}
				return nil
			})

			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Do() error = %v, want %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Fatalf("fn called %d times, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestDo_PermanentErrorShortCircuits(t *testing.T) {
	sentinel := errors.New("bad request")

	calls := 0
	err := Do(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return Permanent(sentinel)
	})

	if calls != 1 {
		t.Fatalf("fn called %d times, want 1", calls)
	}
	// The wrapper is stripped so callers match the underlying error directly.
	if !errors.Is(err, sentinel) {
		t.Fatalf("Do() error = %v, want %v", err, sentinel)
	}
	var perm *PermanentError
	if errors.As(err, &perm) {
		t.Fatal("permanent wrapper should not leak out of Do")
	}
}

func TestDo_CancelledContextStopsBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Do(ctx, 5, 50*time.Millisecond, func() error {
		calls++
		return errors.New("transient")
	})

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("fn called %d times after cancellation, want 1", calls)
	}
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	base := 100 * time.Millisecond

	prevCeiling := time.Duration(0)
	for attempt := 1; attempt <= 4; attempt++ {
		d := backoff(base, attempt)
		ideal := base << (attempt - 1)
		if d < ideal*3/4 || d > ideal*5/4 {
			t.Errorf("backoff(attempt=%d) = %v, want within ±25%% of %v", attempt, d, ideal)
		}
		if ideal <= prevCeiling {
			t.Errorf("schedule not growing at attempt %d", attempt)
		}
		prevCeiling = ideal
	}

	// Far along the schedule the delay is pinned to the cap.
	if d := backoff(base, 20); d > maxDelay*5/4 {
		t.Errorf("backoff(attempt=20) = %v, want at most %v", d, maxDelay*5/4)
	}
}
