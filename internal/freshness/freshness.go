// Package freshness maps evidence timestamps to decay weights so stale
// evidence contributes proportionally less to a verdict.
package freshness

import (
	"math"
	"time"
)

// EvidenceType selects the half-life used for decay. Pattern evidence goes
// stale fastest; counter-evidence such as a 3DS success stays probative for
// about a week.
type EvidenceType string

const (
	EvidencePattern    EvidenceType = "pattern"
	EvidenceVelocity   EvidenceType = "velocity"
	EvidenceSimilarity EvidenceType = "similarity"
	EvidenceRule       EvidenceType = "rule"
	EvidenceCounter    EvidenceType = "counter_evidence"
)

var halfLives = map[EvidenceType]time.Duration{
	EvidencePattern:    6 * time.Hour,
	EvidenceVelocity:   12 * time.Hour,
	EvidenceSimilarity: 24 * time.Hour,
	EvidenceRule:       72 * time.Hour,
	EvidenceCounter:    168 * time.Hour,
}

// neutralWeight is returned when the evidence carries no timestamp at all.
const neutralWeight = 0.5

// Weigher computes decay weights within a configured [Min, Max] band.
// The zero value is not usable; call New.
type Weigher struct {
	min float64
	max float64
}

// New returns a Weigher clamping weights to [min, max]. Out-of-order or
// non-positive bounds fall back to the default band [0.05, 1.0].
func New(min, max float64) *Weigher {
	if min <= 0 || max <= min {
		min, max = 0.05, 1.0
	}
	return &Weigher{min: min, max: max}
}

// Default returns a Weigher with the standard [0.05, 1.0] band.
func Default() *Weigher {
	return New(0.05, 1.0)
}

// Weight returns the decay weight for evidence of the given type observed at
// ts, evaluated at now. A zero ts yields the neutral weight; a future ts
// yields the maximum (clock skew is tolerated, never penalized).
func (w *Weigher) Weight(et EvidenceType, ts, now time.Time) float64 {
	if ts.IsZero() {
		return neutralWeight
	}
	age := now.Sub(ts)
	if age <= 0 {
		return w.max
	}

	hl, ok := halfLives[et]
	if !ok {
		hl = halfLives[EvidenceSimilarity]
	}

	weight := w.max * math.Exp(-math.Ln2*age.Hours()/hl.Hours())
	if weight < w.min {
		return w.min
	}
	return weight
}

// HalfLife exposes the configured half-life for an evidence type, mostly for
// diagnostics output.
func HalfLife(et EvidenceType) (time.Duration, bool) {
	hl, ok := halfLives[et]
	return hl, ok
}
