package steps

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/inquest/internal/investigation"
	"github.com/linnemanlabs/inquest/internal/patterns"
)

// AnalyzePatterns scores the transaction context against the anomaly
// detectors.
type AnalyzePatterns struct {
	engine *patterns.Engine
}

// NewAnalyzePatterns creates the pattern-scoring step.
func NewAnalyzePatterns(engine *patterns.Engine) *AnalyzePatterns {
	return &AnalyzePatterns{engine: engine}
}

func (s *AnalyzePatterns) Name() string { return investigation.StepAnalyzePatterns }

func (s *AnalyzePatterns) Description() string {
	return "Score the transaction against the fraud anomaly detectors and classify a deterministic severity."
}

// Run implements investigation.Step.
func (s *AnalyzePatterns) Run(_ context.Context, st *investigation.State) (*investigation.State, error) {
	if st.Context == nil {
		return st, fmt.Errorf("%w: pattern scoring requires gathered context", investigation.ErrPrecondition)
	}

	result := s.engine.Score(st.Context)
	st.PatternResults = result
	if result.Severity.AtLeast(st.Severity) {
		st.Severity = result.Severity
	}
	return st, nil
}
