// Package calibrate post-processes an LLM-proposed severity against the
// deterministic evidence already gathered. The model over-escalates on thin
// evidence and occasionally under-calls textbook fraud shapes; calibration
// caps the former and floors the latter. Every override records the original
// severity and the reason, the system never silently substitutes its own
// judgment.
package calibrate

import (
	"fmt"

	"github.com/linnemanlabs/inquest/internal/patterns"
	"github.com/linnemanlabs/inquest/internal/txn"
	"github.com/linnemanlabs/inquest/internal/verdict"
)

// Cap rule thresholds: every deterministic signal must be weak before an
// escalated LLM severity can be pulled down.
const (
	capMaxPattern  = 0.60
	capNetwork     = 0.55
	capSimilarity  = 0.7
	capSimMatches  = 10
	capRuleMatches = 1
	capMinCounter  = 3
)

// Floor rule thresholds: a recognized high-risk combination with corroboration
// lifts an LLM LOW to MEDIUM.
const (
	floorDecline      = 0.85
	floorCompanion    = 0.65
	floorStrongSingle = 0.75
	floorSimCorrob    = 0.3
	floorSecondScore  = 0.5
)

// Evidence is the deterministic snapshot the calibrator judges against.
type Evidence struct {
	PatternScores        map[string]float64
	SimilarityScore      float64
	SimilarityMatches    int
	MatchCounterEvidence int // counter-evidence items attached to similarity matches
	RuleMatches          int
	CounterSignals       int // independent mitigating signals on the transaction
	Decision             txn.Decision
}

// Result is the calibrated severity with audit fields. Overridden is false
// when the LLM proposal stands.
type Result struct {
	Severity   verdict.Severity `json:"severity"`
	Original   verdict.Severity `json:"original"`
	Overridden bool             `json:"overridden"`
	Reason     string           `json:"reason,omitempty"`
}

// Apply calibrates the proposed severity. Invalid proposals are normalized to
// the evidence-derived severity rather than rejected, so a malformed LLM
// answer never aborts an investigation.
func Apply(proposed verdict.Severity, ev Evidence) Result {
	if !proposed.Valid() {
		derived := verdict.FromConfidence(maxScore(ev.PatternScores))
		return Result{
			Severity:   derived,
			Original:   proposed,
			Overridden: true,
			Reason:     fmt.Sprintf("invalid llm severity %q, derived %s from pattern evidence", proposed, derived),
		}
	}

	if reason := capReason(proposed, ev); reason != "" {
		return Result{Severity: verdict.SeverityLow, Original: proposed, Overridden: true, Reason: reason}
	}
	if reason := floorReason(proposed, ev); reason != "" {
		return Result{Severity: verdict.SeverityMedium, Original: proposed, Overridden: true, Reason: reason}
	}
	return Result{Severity: proposed, Original: proposed}
}

// capReason returns a non-empty reason when an escalated proposal must be
// capped to LOW.
func capReason(proposed verdict.Severity, ev Evidence) string {
	if proposed != verdict.SeverityMedium && proposed != verdict.SeverityHigh {
		return ""
	}
	if maxScore(ev.PatternScores) > capMaxPattern {
		return ""
	}
	for _, name := range []string{patterns.PatternVelocity, patterns.PatternDecline, patterns.PatternCrossMerchant} {
		if ev.PatternScores[name] > capNetwork {
			return ""
		}
	}
	if ev.SimilarityScore > capSimilarity || ev.SimilarityMatches > capSimMatches {
		return ""
	}
	if ev.RuleMatches > capRuleMatches {
		return ""
	}

	switch {
	case ev.CounterSignals >= capMinCounter:
		return fmt.Sprintf("weak deterministic evidence with %d counter-evidence signals, capping %s to LOW",
			ev.CounterSignals, proposed)
	case ev.MatchCounterEvidence > 0 && ev.Decision == txn.DecisionApproved:
		return fmt.Sprintf("weak deterministic evidence, approved transaction with match counter-evidence, capping %s to LOW",
			proposed)
	default:
		return ""
	}
}

// floorReason returns a non-empty reason when a LOW proposal must be floored
// to MEDIUM.
func floorReason(proposed verdict.Severity, ev Evidence) string {
	if proposed != verdict.SeverityLow {
		return ""
	}

	decline := ev.PatternScores[patterns.PatternDecline]
	velocity := ev.PatternScores[patterns.PatternVelocity]
	testing := ev.PatternScores[patterns.PatternCardTesting]
	corroborated := ev.SimilarityScore >= floorSimCorrob || ev.RuleMatches >= 1

	if decline >= floorDecline && (velocity >= floorCompanion || testing >= floorCompanion) && corroborated {
		return fmt.Sprintf("high-risk pattern combination (decline %.2f with velocity %.2f / card_testing %.2f), flooring LOW to MEDIUM",
			decline, velocity, testing)
	}

	if ev.Decision == txn.DecisionDeclined && maxScore(ev.PatternScores) >= floorStrongSingle {
		if corroborated || secondScoreAtLeast(ev.PatternScores, floorSecondScore) {
			return fmt.Sprintf("declined transaction with strong pattern %.2f and corroboration, flooring LOW to MEDIUM",
				maxScore(ev.PatternScores))
		}
	}
	return ""
}

func maxScore(scores map[string]float64) float64 {
	var m float64
	for _, s := range scores {
		if s > m {
			m = s
		}
	}
	return m
}

// secondScoreAtLeast reports whether a pattern other than the maximum also
// reaches the threshold.
func secondScoreAtLeast(scores map[string]float64, threshold float64) bool {
	var best, second float64
	for _, s := range scores {
		switch {
		case s > best:
			second = best
			best = s
		case s > second:
			second = s
		}
	}
	return second >= threshold
}
