package steps

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/inquest/internal/conflict"
	"github.com/linnemanlabs/inquest/internal/investigation"
	"github.com/linnemanlabs/inquest/internal/patterns"
	"github.com/linnemanlabs/inquest/internal/verdict"
)

// GenerateRecommendations derives analyst actions from the reasoned verdict.
// The mapping is deterministic so two investigations with the same evidence
// always recommend the same actions.
type GenerateRecommendations struct{}

// NewGenerateRecommendations creates the recommendation step.
func NewGenerateRecommendations() *GenerateRecommendations {
	return &GenerateRecommendations{}
}

func (s *GenerateRecommendations) Name() string {
	return investigation.StepGenerateRecommendations
}

func (s *GenerateRecommendations) Description() string {
	return "Translate the calibrated verdict into concrete analyst actions."
}

// Run implements investigation.Step.
func (s *GenerateRecommendations) Run(_ context.Context, st *investigation.State) (*investigation.State, error) {
	if st.Reasoning == nil {
		return st, fmt.Errorf("%w: recommendations require a reasoned verdict", investigation.ErrPrecondition)
	}

	st.Recommendations = build(st)
	return st, nil
}

func build(st *investigation.State) []investigation.Recommendation {
	var recs []investigation.Recommendation

	strategy := st.Reasoning.Conflict.ResolutionStrategy
	if strategy == conflict.StrategyFlagForReview {
		recs = append(recs, investigation.Recommendation{
			Type:        "manual_review",
			Description: "Evidence sources disagree. Route to a human analyst before any automated action.",
			Priority:    "high",
		})
	}

	switch {
	case st.Severity == verdict.SeverityCritical:
		recs = append(recs,
			investigation.Recommendation{
				Type:        "block_card",
				Description: "Critical fraud risk. Block the card and decline in-flight authorizations.",
				Priority:    "urgent",
			},
			investigation.Recommendation{
				Type:        "contact_cardholder",
				Description: "Notify the cardholder through a verified channel and confirm recent activity.",
				Priority:    "high",
			})
	case st.Severity == verdict.SeverityHigh:
		if strategy != conflict.StrategyFlagForReview {
			recs = append(recs, investigation.Recommendation{
				Type:        "manual_review",
				Description: "High fraud risk. Queue for analyst review within the current shift.",
				Priority:    "high",
			})
		}
		recs = append(recs, investigation.Recommendation{
			Type:        "step_up_auth",
			Description: "Require 3DS challenge on further transactions from this card until reviewed.",
			Priority:    "medium",
		})
	case st.Severity == verdict.SeverityMedium:
		recs = append(recs, investigation.Recommendation{
			Type:        "monitor",
			Description: "Elevated but inconclusive risk. Keep the card on the watch list for 72 hours.",
			Priority:    "medium",
		})
	default:
		recs = append(recs, investigation.Recommendation{
			Type:        "no_action",
			Description: "No material fraud indicators. Close without action.",
			Priority:    "low",
		})
	}

	if strategy == conflict.StrategyTrustCounterEvidence {
		recs = append(recs, investigation.Recommendation{
			Type:        "whitelist_review",
			Description: "Counter-evidence dominates. Consider adding the merchant relationship to the trusted list.",
			Priority:    "low",
		})
	}

	if networkStrong(st) && st.Severity.AtLeast(verdict.SeverityHigh) {
		recs = append(recs, investigation.Recommendation{
			Type:        "create_rule",
			Description: "Network-pattern scores indicate coordinated abuse. Draft a detection rule from this case.",
			Priority:    "medium",
		})
	}
	return recs
}

// networkStrong reports whether any coordinated-abuse detector scored high
// enough to generalize into a rule.
func networkStrong(st *investigation.State) bool {
	if st.PatternResults == nil {
		return false
	}
	network := make(map[string]bool, len(patterns.NetworkPatterns))
	for _, name := range patterns.NetworkPatterns {
		network[name] = true
	}
	for _, sc := range st.PatternResults.Scores {
		if network[sc.PatternName] && sc.Score >= 0.7 {
			return true
		}
	}
	return false
}
