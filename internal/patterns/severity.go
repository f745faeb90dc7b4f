package patterns

import "github.com/linnemanlabs/inquest/internal/verdict"

// Aggregation thresholds.
const (
	criticalMean       = 0.7
	highMean           = 0.5
	mediumMean         = 0.3
	strongScore        = 0.7
	corroboratingScore = 0.5
	dominantScore      = 0.9
	defaultWeight      = 0.25
)

// WeightedMean returns the weight-normalized mean over the given scores.
// Patterns without a configured weight get a neutral default.
func WeightedMean(scores, weights map[string]float64) float64 {
	var sum, wsum float64
	for name, s := range scores {
		w := weights[name]
		if w == 0 {
			w = defaultWeight
		}
		sum += s * w
		wsum += w
	}
	if wsum == 0 {
		return 0
	}
	return sum / wsum
}

// ComputeSeverity aggregates per-pattern scores into one severity label.
//
// The weighted mean drives the main thresholds, but two corrections guard
// against its failure modes. The signal-concentration override keeps a couple
// of very strong network signals from being diluted by unrelated zero-score
// detectors. The corroboration promotion keeps an isolated single-dimension
// signal (say, only an unusual hour) at LOW unless other detectors back it up.
func ComputeSeverity(scores, weights map[string]float64) verdict.Severity {
	mean := WeightedMean(scores, weights)
	if mean >= criticalMean {
		return verdict.SeverityCritical
	}

	var (
		maxScore         float64
		strongNetwork    int
		corrobNetwork    int
		anyNetworkStrong bool
		strongAll        int
	)
	network := make(map[string]bool, len(NetworkPatterns))
	for _, n := range NetworkPatterns {
		network[n] = true
	}
	for name, s := range scores {
		if s > maxScore {
			maxScore = s
		}
		if s >= corroboratingScore {
			strongAll++
		}
		if network[name] {
			if s >= strongScore {
				strongNetwork++
				anyNetworkStrong = true
			}
			if s >= corroboratingScore {
				corrobNetwork++
			}
		}
	}

	// Signal-concentration override: narrowly concentrated fraud signals
	// force HIGH regardless of the diluted mean.
	if strongNetwork >= 2 {
		return verdict.SeverityHigh
	}
	if maxScore >= dominantScore && corrobNetwork >= 1 {
		return verdict.SeverityHigh
	}

	if mean >= highMean {
		return verdict.SeverityHigh
	}
	if mean >= mediumMean {
		return verdict.SeverityMedium
	}

	// Corroboration promotion: several independently elevated detectors, or
	// elevated network detectors, lift an otherwise LOW verdict to MEDIUM.
	if strongAll >= 3 || corrobNetwork >= 2 {
		return verdict.SeverityMedium
	}
	if anyNetworkStrong && strongAll-strongNetwork >= 2 {
		return verdict.SeverityMedium
	}

	return verdict.SeverityLow
}
