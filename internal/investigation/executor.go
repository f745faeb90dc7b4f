package investigation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/inquest/internal/similarity"
)

var tracer = otel.Tracer("github.com/linnemanlabs/inquest/internal/investigation")

// ErrPrecondition marks a step invoked before its inputs exist (pattern
// scoring before context, reasoning before evidence). This signals a
// control-loop ordering bug and is fatal, unlike a transient tool failure.
var ErrPrecondition = errors.New("investigation: step precondition not met")

// Executor runs one named step against the state under a fixed timeout and
// always returns a new state with exactly one more ToolExecution appended.
type Executor struct {
	registry *Registry
	timeout  time.Duration
	logger   log.Logger
	now      func() time.Time
}

// NewExecutor creates an executor with a per-step timeout.
func NewExecutor(registry *Registry, timeout time.Duration, logger log.Logger) *Executor {
	if logger == nil {
		logger = log.Nop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Executor{
		registry: registry,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

type stepOutcome struct {
	state *State
	err   error
}

// Execute runs the step named in NextAction. Recoverable failures are
// captured as FAILED/TIMED_OUT executions on the otherwise unchanged state;
// only fatal error classes (preconditions, fail-closed dependencies)
// propagate as a non-nil error alongside the annotated state.
func (e *Executor) Execute(ctx context.Context, st *State) (*State, error) {
	name := st.NextAction
	input := inputSummary(st)

	ctx, span := tracer.Start(ctx, "step.execute", trace.WithAttributes(
		attribute.String("inquest.step", name),
		attribute.String("inquest.investigation.id", st.InvestigationID),
	))
	defer span.End()

	step, ok := e.registry.Get(name)
	if !ok {
		// Defensive path; planner validation makes this unreachable.
		span.SetStatus(codes.Error, "unregistered step")
		failed := st.Clone()
		failed.ToolExecutions = append(failed.ToolExecutions, ToolExecution{
			ToolName:     name,
			InputSummary: input,
			Status:       ExecFailed,
			ErrorMessage: fmt.Sprintf("unregistered step %q", name),
			Timestamp:    e.now().UTC(),
		})
		return failed, nil
	}

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := e.now()
	outcome := make(chan stepOutcome, 1)
	go func() {
		ns, err := step.Run(cctx, st.Clone())
		outcome <- stepOutcome{state: ns, err: err}
	}()

	select {
	case <-cctx.Done():
		// The step's partial work is discarded; the loop retries a different
		// path next iteration against the original state.
		elapsed := e.now().Sub(start)
		span.SetStatus(codes.Error, "step timed out")
		e.logger.Warn(ctx, "step timed out",
			"step", name, "timeout", e.timeout.String(), "elapsed", elapsed.String())
		timed := st.Clone()
		timed.ToolExecutions = append(timed.ToolExecutions, ToolExecution{
			ToolName:        name,
			InputSummary:    input,
			ExecutionTimeMS: elapsed.Milliseconds(),
			Status:          ExecTimedOut,
			ErrorMessage:    fmt.Sprintf("step exceeded %s timeout", e.timeout),
			Timestamp:       e.now().UTC(),
		})
		return timed, nil

	case out := <-outcome:
		elapsed := e.now().Sub(start)
		if out.err != nil {
			span.RecordError(out.err)
			span.SetStatus(codes.Error, "step failed")
			e.logger.Error(ctx, out.err, "step failed", "step", name)
			failed := st.Clone()
			failed.ToolExecutions = append(failed.ToolExecutions, ToolExecution{
				ToolName:        name,
				InputSummary:    input,
				ExecutionTimeMS: elapsed.Milliseconds(),
				Status:          ExecFailed,
				ErrorMessage:    out.err.Error(),
				Timestamp:       e.now().UTC(),
			})
			if isFatal(out.err) {
				return failed, out.err
			}
			return failed, nil
		}

		next := out.state
		next.CompletedSteps = append(next.CompletedSteps, name)
		next.ToolExecutions = append(next.ToolExecutions, ToolExecution{
			ToolName:        name,
			InputSummary:    input,
			OutputSummary:   outputSummary(name, next),
			ExecutionTimeMS: elapsed.Milliseconds(),
			Status:          ExecSuccess,
			Timestamp:       e.now().UTC(),
		})
		return next, nil
	}
}

// isFatal classifies errors that must stop the loop instead of being
// captured as audit metadata.
func isFatal(err error) bool {
	return errors.Is(err, ErrPrecondition) || errors.Is(err, similarity.ErrEmbedding)
}

// inputSummary is a redacted projection of the state a step starts from.
// Identifiers only, never amounts, card numbers, or merchant names.
func inputSummary(st *State) string {
	return fmt.Sprintf("investigation=%s transaction=%s step_count=%d completed=%d",
		st.InvestigationID, st.TransactionID, st.StepCount, len(st.CompletedSteps))
}

// outputSummary describes what a successful step produced, sized for the
// audit log rather than for replay.
func outputSummary(name string, st *State) string {
	switch name {
	case StepGatherContext:
		if st.Context == nil {
			return "context: empty"
		}
		return fmt.Sprintf("context: %d historical transactions, %d signals",
			len(st.Context.History), len(st.Context.Signals))
	case StepAnalyzePatterns:
		if st.PatternResults == nil {
			return "patterns: no result"
		}
		return fmt.Sprintf("patterns: %d scores, confidence %.2f, severity %s",
			len(st.PatternResults.Scores), st.PatternResults.OverallConfidence, st.PatternResults.Severity)
	case StepSearchSimilar:
		if st.SimilarityResults == nil {
			return "similarity: no result"
		}
		summary := fmt.Sprintf("similarity: %d matches, overall %.2f",
			len(st.SimilarityResults.Matches), st.SimilarityResults.OverallScore)
		if st.SimilarityResults.Fallback != "" {
			summary += ", fallback " + st.SimilarityResults.Fallback
		}
		return summary
	case StepGenerateReasoning:
		if st.Reasoning == nil {
			return "reasoning: no result"
		}
		return fmt.Sprintf("reasoning: severity %s, confidence %.2f, resolution %s, %d chars",
			st.Reasoning.Severity, st.Reasoning.Confidence,
			st.Reasoning.Conflict.ResolutionStrategy, len(st.Reasoning.Narrative))
	case StepGenerateRecommendations:
		return fmt.Sprintf("recommendations: %d issued", len(st.Recommendations))
	case StepDraftRule:
		if st.RuleDraft == nil {
			return "rule draft: none"
		}
		return fmt.Sprintf("rule draft: %s, severity %s", st.RuleDraft.Name, st.RuleDraft.Severity)
	default:
		return "completed"
	}
}
