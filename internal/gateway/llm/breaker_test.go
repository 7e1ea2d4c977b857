package llm

import (
	"errors"
	"testing"
	"time"

	"sentinel/internal/gateway/errs"
)

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := NewBreaker(3, time.Minute)

	for i := 0; i < 2; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("closed breaker rejected call %d: %v", i, err)
		}
		b.RecordFailure()
	}
	if b.State() != BreakerClosed {
		t.Fatalf("expected closed below threshold, got %v", b.State())
	}

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("expected open at threshold, got %v", b.State())
	}
	err := b.Allow()
	if err == nil {
		t.Fatal("open breaker must reject")
	}
	if errs.KindOf(err) != errs.LLMUnavailable {
		t.Fatalf("expected LLMUnavailable, got %v", errs.KindOf(err))
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	if b.ConsecutiveFailures() != 0 {
		t.Fatalf("failures not reset: %d", b.ConsecutiveFailures())
	}
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != BreakerClosed {
		t.Fatalf("streak should have restarted, got %v", b.State())
	}
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker(1, time.Minute)
	b.SetClock(func() time.Time { return now })

	b.RecordFailure()
	if err := b.Allow(); err == nil {
		t.Fatal("expected rejection before cooldown")
	}

	now = now.Add(59 * time.Second)
	if err := b.Allow(); err == nil {
		t.Fatal("cooldown not yet elapsed")
	}

	now = now.Add(2 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe should be allowed after cooldown: %v", err)
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("expected half-open, got %v", b.State())
	}
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker(1, time.Minute)
	b.SetClock(func() time.Time { return now })

	b.RecordFailure()
	now = now.Add(2 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe rejected: %v", err)
	}
	b.RecordSuccess()
	if b.State() != BreakerClosed || b.ConsecutiveFailures() != 0 {
		t.Fatalf("expected closed with zero failures, got %v/%d", b.State(), b.ConsecutiveFailures())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Unix(1000, 0)
	b := NewBreaker(5, time.Minute)
	b.SetClock(func() time.Time { return now })

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	now = now.Add(2 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe rejected: %v", err)
	}
	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("half-open failure must reopen, got %v", b.State())
	}
	// And the failure timestamp moved, so calls stay rejected.
	if err := b.Allow(); err == nil {
		t.Fatal("expected rejection after reopen")
	}
}

func TestBreaker_ZeroThresholdAlwaysOpen(t *testing.T) {
	b := NewBreaker(0, time.Hour)
	if err := b.Allow(); err == nil {
		t.Fatal("zero threshold breaker should reject immediately")
	}
	if b.State() != BreakerOpen {
		t.Fatalf("expected open, got %v", b.State())
	}
}

func TestBreaker_UnsetTimestampStaysOpen(t *testing.T) {
	// Force the open state without a recorded failure time; the cooldown
	// check must not compute now minus zero.
	b := NewBreaker(1, time.Nanosecond)
	b.state = BreakerOpen
	if err := b.Allow(); err == nil {
		t.Fatal("open breaker with unset timestamp must remain open")
	}
	var e *errs.Error
	if !errors.As(b.Allow(), &e) {
		t.Fatal("expected classified error")
	}
}
