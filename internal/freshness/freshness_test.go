package freshness

import (
	"math"
	"testing"
	"time"
)

func TestWeight_OneHalfLife(t *testing.T) {
	t.Parallel()

	w := Default()
	now := time.Now()

	// One half-life in the past must land within 5% of max/2.
	ts := now.Add(-6 * time.Hour)
	got := w.Weight(EvidencePattern, ts, now)
	want := 1.0 / 2
	if math.Abs(got-want) > 0.05*want {
		t.Errorf("Weight at one half-life = %v, want within 5%% of %v", got, want)
	}
}

func TestWeight_MissingTimestamp(t *testing.T) {
	t.Parallel()

	w := Default()
	got := w.Weight(EvidencePattern, time.Time{}, time.Now())
	if got != 0.5 {
		t.Errorf("Weight(zero ts) = %v, want 0.5", got)
	}
}

func TestWeight_FutureTimestamp(t *testing.T) {
	t.Parallel()

	w := Default()
	now := time.Now()
	got := w.Weight(EvidenceCounter, now.Add(10*time.Minute), now)
	if got != 1.0 {
		t.Errorf("Weight(future ts) = %v, want max 1.0", got)
	}
}

func TestWeight_ClampedToMin(t *testing.T) {
	t.Parallel()

	w := New(0.1, 1.0)
	now := time.Now()
	got := w.Weight(EvidencePattern, now.Add(-30*24*time.Hour), now)
	if got != 0.1 {
		t.Errorf("Weight(very old) = %v, want clamped min 0.1", got)
	}
}

func TestWeight_CounterEvidenceDecaysSlower(t *testing.T) {
	t.Parallel()

	w := Default()
	now := time.Now()
	ts := now.Add(-24 * time.Hour)

	pattern := w.Weight(EvidencePattern, ts, now)
	counter := w.Weight(EvidenceCounter, ts, now)
	if counter <= pattern {
		t.Errorf("counter-evidence weight %v should exceed pattern weight %v at the same age", counter, pattern)
	}
}

func TestNew_BadBand(t *testing.T) {
	t.Parallel()

	w := New(1.0, 0.2) // inverted, falls back to defaults
	now := time.Now()
	if got := w.Weight(EvidencePattern, now, now); got != 1.0 {
		t.Errorf("Weight(now) = %v, want default max 1.0", got)
	}
}
