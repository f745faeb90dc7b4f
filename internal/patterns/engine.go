// Package patterns scores a transaction context against the fixed anomaly
// detectors and aggregates the per-pattern scores into one severity label.
// Scoring is a pure function of the context: identical input always yields
// identical output.
package patterns

import (
	"time"

	"github.com/linnemanlabs/inquest/internal/txn"
	"github.com/linnemanlabs/inquest/internal/verdict"
)

// Score is one detector's verdict on the context. Immutable once produced.
type Score struct {
	PatternName string         `json:"pattern_name"`
	Score       float64        `json:"score"`
	Weight      float64        `json:"weight"`
	Details     map[string]any `json:"details,omitempty"`
}

// Result is the full pattern-scoring output for one context.
type Result struct {
	Scores            []Score          `json:"scores"`
	OverallConfidence float64          `json:"overall_confidence"`
	Severity          verdict.Severity `json:"severity"`
	ComputedAt        time.Time        `json:"computed_at"`
}

// ScoreByName returns the score value for a pattern, 0 if absent.
func (r *Result) ScoreByName(name string) float64 {
	for _, s := range r.Scores {
		if s.PatternName == name {
			return s.Score
		}
	}
	return 0
}

// MaxScore returns the highest individual detector score.
func (r *Result) MaxScore() float64 {
	var m float64
	for _, s := range r.Scores {
		if s.Score > m {
			m = s.Score
		}
	}
	return m
}

// Engine runs the detectors. Stateless apart from its config.
type Engine struct {
	cfg *Config
}

// NewEngine creates a pattern engine. A nil config uses the defaults.
func NewEngine(cfg *Config) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Engine{cfg: cfg}
}

// Score runs every detector against the context and aggregates severity.
func (e *Engine) Score(c *txn.Context) *Result {
	scores := []Score{
		e.scoreAmount(c),
		e.scoreCardTesting(c),
		e.scoreTime(c),
		e.scoreVelocity(c),
		e.scoreDecline(c),
		e.scoreCrossMerchant(c),
	}

	byName := make(map[string]float64, len(scores))
	for _, s := range scores {
		byName[s.PatternName] = s.Score
	}

	return &Result{
		Scores:            scores,
		OverallConfidence: WeightedMean(byName, e.cfg.Weights),
		Severity:          ComputeSeverity(byName, e.cfg.Weights),
		ComputedAt:        c.BuiltAt,
	}
}

func (e *Engine) newScore(name string, value float64, details map[string]any) Score {
	if value == 0 {
		details = nil
	}
	return Score{
		PatternName: name,
		Score:       value,
		Weight:      e.cfg.Weights[name],
		Details:     details,
	}
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
