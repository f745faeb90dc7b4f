package rulemgmt

import (
	"testing"
	"time"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b := NewBreaker(5, time.Minute)
	for i := range 4 {
		b.Failure()
		if !b.Allow() {
			t.Fatalf("breaker open after %d failures, want closed below threshold", i+1)
		}
	}

	b.Failure()
	if b.Allow() {
		t.Fatal("breaker still closed after 5 consecutive failures")
	}
}

func TestBreaker_SuccessResets(t *testing.T) {
	t.Parallel()

	b := NewBreaker(5, time.Minute)
	for range 4 {
		b.Failure()
	}
	b.Success()
	for range 4 {
		b.Failure()
	}
	if !b.Allow() {
		t.Fatal("success did not reset the consecutive failure count")
	}
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	b := NewBreaker(5, time.Minute)
	b.now = func() time.Time { return now }

	for range 5 {
		b.Failure()
	}
	if b.Allow() {
		t.Fatal("breaker should be open")
	}

	now = now.Add(59 * time.Second)
	if b.Allow() {
		t.Fatal("breaker allowed a call before the cooldown elapsed")
	}

	now = now.Add(time.Second)
	if !b.Allow() {
		t.Fatal("breaker should allow a half-open probe after the cooldown")
	}

	// Failed probe reopens for a full cooldown.
	b.Failure()
	if b.Allow() {
		t.Fatal("breaker should reopen after a failed probe")
	}

	now = now.Add(time.Minute)
	if !b.Allow() {
		t.Fatal("breaker should allow another probe after the second cooldown")
	}
	b.Success()
	if !b.Allow() {
		t.Fatal("breaker should close after a successful probe")
	}
}
