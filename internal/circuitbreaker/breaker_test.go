package circuitbreaker

import (
	"testing"
	"time"
)

func TestBreaker_StartsClosedAndAllows(t *testing.T) {
	b := New("test", 3, time.Minute)
	if b.State() != StateClosed {
		t.Fatalf("expected closed, got %s", b.State())
	}
	if !b.Allow() {
		t.Fatal("closed breaker should allow requests")
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := New("test", 3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("expected still closed after 2 failures, got %s", b.State())
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker should reject requests")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := New("test", 3, time.Minute)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()

	if b.State() != StateClosed {
		t.Fatalf("expected closed (failures were reset), got %s", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b := New("test", 1, 10*time.Millisecond)

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	time.Sleep(20 * time.Millisecond)

	// First request after open duration is the probe.
	if !b.Allow() {
		t.Fatal("expected probe to be allowed after open duration")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}
	// Second request while probing is rejected.
	if b.Allow() {
		t.Fatal("expected second request to be rejected while probing")
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("expected closed after probe success, got %s", b.State())
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	b := New("test", 1, 10*time.Millisecond)

	b.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("expected probe to be allowed")
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after failed probe, got %s", b.State())
	}
}
