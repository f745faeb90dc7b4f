package steps

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/inquest/internal/investigation"
)

// SearchSimilar runs the similarity engine against the current transaction.
type SearchSimilar struct {
	searcher SimilaritySearcher
}

// NewSearchSimilar creates the similarity step.
func NewSearchSimilar(searcher SimilaritySearcher) *SearchSimilar {
	return &SearchSimilar{searcher: searcher}
}

func (s *SearchSimilar) Name() string { return investigation.StepSearchSimilar }

func (s *SearchSimilar) Description() string {
	return "Find historical transactions similar to this one, with counter-evidence from each match."
}

// Run implements investigation.Step. A fail-closed embedding error
// propagates untouched so the executor can classify it as fatal.
func (s *SearchSimilar) Run(ctx context.Context, st *investigation.State) (*investigation.State, error) {
	if st.Context == nil {
		return st, fmt.Errorf("%w: similarity search requires gathered context", investigation.ErrPrecondition)
	}

	result, err := s.searcher.Search(ctx, st.Context.Transaction)
	if err != nil {
		return st, err
	}
	st.SimilarityResults = result
	return st, nil
}
