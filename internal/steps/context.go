package steps

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/inquest/internal/investigation"
)

// GatherContext loads the transaction, its history, and rolling stats. It is
// the bootstrap step of every investigation.
type GatherContext struct {
	builder ContextBuilder
}

// NewGatherContext creates the context-gathering step.
func NewGatherContext(builder ContextBuilder) *GatherContext {
	return &GatherContext{builder: builder}
}

func (s *GatherContext) Name() string { return investigation.StepGatherContext }

func (s *GatherContext) Description() string {
	return "Load the transaction, the card's recent history, and rolling statistics. Required before any analysis."
}

// Run implements investigation.Step.
func (s *GatherContext) Run(ctx context.Context, st *investigation.State) (*investigation.State, error) {
	built, err := s.builder.Build(ctx, st.TransactionID)
	if err != nil {
		return st, fmt.Errorf("gather context: %w", err)
	}
	st.Context = built
	return st, nil
}
