// Package conflict reconciles the independent evidence sources of an
// investigation. Pattern scoring, similarity search, counter-evidence, and
// the LLM risk read can disagree; the matrix labels each pairwise
// relationship and picks one resolution strategy instead of letting callers
// improvise their own tie-breaks.
package conflict

import (
	"github.com/linnemanlabs/inquest/internal/similarity"
	"github.com/linnemanlabs/inquest/internal/verdict"
)

// Relationship labels one pairwise comparison between evidence sources.
type Relationship string

const (
	Aligned                 Relationship = "aligned"
	Conflicting             Relationship = "conflicting"
	Neutral                 Relationship = "neutral"
	CounterEvidenceDominant Relationship = "counter_evidence_dominant"
	FraudDominant           Relationship = "fraud_dominant"
)

// Strategy is the resolution the downstream reasoning stage must apply.
type Strategy string

const (
	StrategyFlagForReview        Strategy = "flag_for_review"
	StrategyTrustCounterEvidence Strategy = "trust_counter_evidence"
	StrategyWeightedAverage      Strategy = "weighted_average"
	StrategyTrustDeterministic   Strategy = "trust_deterministic"
)

// Comparison thresholds.
const (
	simHigh       = 0.6
	simNearZero   = 0.2
	simLow        = 0.3
	fraudSimFloor = 0.5
	counterHigh   = 0.5
	counterLow    = 0.3
	reviewFloor   = 0.6
)

// Input carries the four evidence sources. LLMRisk is empty when no LLM
// assessment exists yet.
type Input struct {
	PatternSeverity verdict.Severity
	SimilarityScore float64
	CounterEvidence []similarity.CounterEvidence
	LLMRisk         verdict.Severity
}

// Matrix is the immutable resolution output.
type Matrix struct {
	PatternVsSimilarity  Relationship `json:"pattern_vs_similarity"`
	FraudVsCounter       Relationship `json:"fraud_vs_counter_evidence"`
	DeterministicVsLLM   Relationship `json:"deterministic_vs_llm"`
	OverallConflictScore float64      `json:"overall_conflict_score"`
	ResolutionStrategy   Strategy     `json:"resolution_strategy"`
}

// Resolve builds the conflict matrix for one evidence snapshot.
func Resolve(in Input) Matrix {
	m := Matrix{
		PatternVsSimilarity: patternVsSimilarity(in),
		FraudVsCounter:      fraudVsCounter(in),
		DeterministicVsLLM:  deterministicVsLLM(in),
	}

	conflicting := 0
	for _, rel := range []Relationship{m.PatternVsSimilarity, m.FraudVsCounter, m.DeterministicVsLLM} {
		if rel == Conflicting {
			conflicting++
		}
	}
	m.OverallConflictScore = float64(conflicting) / 3

	m.ResolutionStrategy = resolve(in, m)
	return m
}

func patternVsSimilarity(in Input) Relationship {
	patternHigh := in.PatternSeverity.AtLeast(verdict.SeverityHigh)
	patternLow := in.PatternSeverity == verdict.SeverityLow

	switch {
	case patternHigh && in.SimilarityScore >= simHigh,
		patternLow && in.SimilarityScore < simLow:
		return Aligned
	case patternHigh && in.SimilarityScore < simNearZero,
		in.SimilarityScore >= simHigh && patternLow:
		return Conflicting
	default:
		return Neutral
	}
}

func fraudVsCounter(in Input) Relationship {
	fraudPresent := in.PatternSeverity.AtLeast(verdict.SeverityHigh) || in.SimilarityScore > fraudSimFloor
	mean := meanStrength(in.CounterEvidence)

	switch {
	case fraudPresent && mean > counterHigh:
		return Conflicting
	case !fraudPresent && mean > counterHigh:
		return CounterEvidenceDominant
	case fraudPresent && mean < counterLow:
		return FraudDominant
	default:
		return Neutral
	}
}

func deterministicVsLLM(in Input) Relationship {
	if in.LLMRisk == "" {
		return Neutral
	}
	det, llm := in.PatternSeverity, in.LLMRisk
	switch {
	case det == llm:
		return Aligned
	case det.AtLeast(verdict.SeverityHigh) && llm == verdict.SeverityLow,
		llm.AtLeast(verdict.SeverityHigh) && det == verdict.SeverityLow:
		return Conflicting
	default:
		return Neutral
	}
}

// resolve applies the strategy rules in strict priority order.
func resolve(in Input, m Matrix) Strategy {
	if m.OverallConflictScore > reviewFloor {
		return StrategyFlagForReview
	}
	if m.FraudVsCounter == CounterEvidenceDominant {
		return StrategyTrustCounterEvidence
	}
	if m.PatternVsSimilarity == Conflicting {
		return StrategyWeightedAverage
	}
	if in.PatternSeverity.AtLeast(verdict.SeverityHigh) && meanStrength(in.CounterEvidence) > counterHigh {
		return StrategyFlagForReview
	}
	return StrategyTrustDeterministic
}

func meanStrength(items []similarity.CounterEvidence) float64 {
	if len(items) == 0 {
		return 0
	}
	var sum float64
	for _, ce := range items {
		sum += ce.Strength
	}
	return sum / float64(len(items))
}
