// Package verdict defines the severity scale shared by the scoring,
// conflict-resolution, and investigation packages.
package verdict

// Severity is the analyst-facing risk classification of an investigation.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Confidence thresholds for deriving a severity when no upstream stage set one.
const (
	criticalThreshold = 0.8
	highThreshold     = 0.6
	mediumThreshold   = 0.3
)

// Valid reports whether s is one of the four defined severities.
func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// AtLeast reports whether s ranks at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

func (s Severity) rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// FromConfidence maps a confidence score in [0,1] to a severity using fixed
// thresholds. This is a protective fallback for malformed upstream state, not
// the primary severity source.
func FromConfidence(confidence float64) Severity {
	switch {
	case confidence >= criticalThreshold:
		return SeverityCritical
	case confidence >= highThreshold:
		return SeverityHigh
	case confidence >= mediumThreshold:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
