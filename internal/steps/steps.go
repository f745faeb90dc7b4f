// Package steps implements the analysis steps the planner can schedule.
// Every step is side-effect-pure with respect to the investigation state: it
// receives a private clone, attaches its evidence, and returns the new copy.
package steps

import (
	"context"

	"github.com/linnemanlabs/inquest/internal/investigation"
	"github.com/linnemanlabs/inquest/internal/similarity"
	"github.com/linnemanlabs/inquest/internal/txn"
)

// ContextBuilder assembles the evidence context for a transaction.
type ContextBuilder interface {
	Build(ctx context.Context, transactionID string) (*txn.Context, error)
}

// SimilaritySearcher finds historical transactions resembling the current one.
type SimilaritySearcher interface {
	Search(ctx context.Context, t txn.Transaction) (*similarity.Result, error)
}

// RuleClient is the rule-management surface the steps use.
type RuleClient interface {
	Export(ctx context.Context, draft investigation.RuleDraft) error
	MatchCount(ctx context.Context, t txn.Transaction) (int, error)
}

// RegisterAll registers the full step set on the registry. Optional
// dependencies (nil llm provider, nil rule client) disable the behaviors
// that need them but never a whole step.
func RegisterAll(reg *investigation.Registry, steps ...investigation.Step) error {
	for _, s := range steps {
		if err := reg.Register(s); err != nil {
			return err
		}
	}
	return nil
}
