package investigation

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/inquest/internal/verdict"
)

// Completer finalizes a terminal investigation: final confidence, final
// severity, status, and one last persisted version.
type Completer struct {
	store  Store
	logger log.Logger
	now    func() time.Time
}

// NewCompleter creates a completer.
func NewCompleter(store Store, logger log.Logger) *Completer {
	if logger == nil {
		logger = log.Nop()
	}
	return &Completer{store: store, logger: logger, now: time.Now}
}

// Finalize freezes the state. A failed save is logged and swallowed: a
// completed investigation is never turned into a reported error by its own
// persistence.
func (c *Completer) Finalize(ctx context.Context, st *State) *State {
	next := st.Clone()

	next.ConfidenceScore = finalConfidence(next)

	// The stored severity is the primary source; deriving from confidence is
	// a guard against malformed upstream state only.
	if !next.Severity.Valid() {
		next.Severity = verdict.FromConfidence(next.ConfidenceScore)
	}

	next.Status = StatusCompleted
	next.CompletedAt = c.now().UTC()
	next.NextAction = ActionComplete

	if _, err := c.store.Save(ctx, next); err != nil {
		c.logger.Error(ctx, err, "failed to persist completed investigation",
			"investigation_id", next.InvestigationID)
	}
	return next
}

// finalConfidence is the simple mean of whichever stage confidences are
// present and non-zero, falling back to the stored confidence.
func finalConfidence(st *State) float64 {
	var parts []float64
	if st.PatternResults != nil && st.PatternResults.OverallConfidence > 0 {
		parts = append(parts, st.PatternResults.OverallConfidence)
	}
	if st.SimilarityResults != nil && st.SimilarityResults.OverallScore > 0 {
		parts = append(parts, st.SimilarityResults.OverallScore)
	}
	if st.Reasoning != nil && st.Reasoning.Confidence > 0 {
		parts = append(parts, st.Reasoning.Confidence)
	}
	if len(parts) == 0 {
		return st.ConfidenceScore
	}
	var sum float64
	for _, p := range parts {
		sum += p
	}
	return sum / float64(len(parts))
}
