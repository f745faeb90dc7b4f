package investigation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/inquest/internal/llm"
	"github.com/linnemanlabs/inquest/internal/verdict"
)

// ErrInvalidPlan marks a planning error: the selected tool name is neither a
// registered step nor the completion sentinel. Fatal to the investigation,
// unlike a recoverable LLM failure.
var ErrInvalidPlan = errors.New("investigation: planner selected an invalid tool")

// fallbackMarker is the reason fragment recorded when the rule sequence takes
// over after an LLM failure. The circuit breaker is derived state: any prior
// decision whose reason carries this marker keeps the LLM bypassed for the
// rest of the investigation.
const fallbackMarker = "rule-sequence fallback: llm"

const (
	bootstrapConfidence = 0.99
	ruleSeqConfidence   = 0.85
	previewLimit        = 400
	plannerMaxTokens    = 512
)

// ruleSequence is the canonical deterministic step order.
var ruleSequence = []string{
	StepGatherContext,
	StepAnalyzePatterns,
	StepSearchSimilar,
	StepGenerateReasoning,
	StepGenerateRecommendations,
}

// PlannerConfig carries the planner tunables.
type PlannerConfig struct {
	LLMEnabled bool
	LLMTimeout time.Duration
}

// Planner selects the next step for an investigation: LLM-guided when
// healthy, rule-sequence otherwise.
type Planner struct {
	provider llm.Provider
	registry *Registry
	cfg      PlannerConfig
	logger   log.Logger
	now      func() time.Time
}

// NewPlanner creates a planner. The provider may be nil when LLM planning is
// disabled by configuration.
func NewPlanner(provider llm.Provider, registry *Registry, cfg PlannerConfig, logger log.Logger) *Planner {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 10 * time.Second
	}
	return &Planner{
		provider: provider,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Next appends one PlannerDecision, increments the step counter, and sets
// NextAction on a new state copy. An ErrInvalidPlan return is fatal.
func (p *Planner) Next(ctx context.Context, st *State) (*State, error) {
	next := st.Clone()

	decision := p.decide(ctx, next)
	decision.Step = next.StepCount + 1
	decision.Timestamp = p.now().UTC()

	// The model repeating a finished step is recoverable: recompute
	// deterministically instead of aborting.
	if decision.SelectedTool != ActionComplete && next.HasCompleted(decision.SelectedTool) {
		tool, reason := p.ruleSequenceNext(next)
		decision.Reason = fmt.Sprintf("planner repeated completed step %q, %s", decision.SelectedTool, reason)
		decision.SelectedTool = tool
		decision.Confidence = ruleSeqConfidence
	}

	next.PlannerDecisions = append(next.PlannerDecisions, decision)
	next.StepCount++
	next.NextAction = decision.SelectedTool

	if decision.SelectedTool != ActionComplete && !p.registry.Has(decision.SelectedTool) {
		return next, fmt.Errorf("%w: %q", ErrInvalidPlan, decision.SelectedTool)
	}
	return next, nil
}

func (p *Planner) decide(ctx context.Context, st *State) PlannerDecision {
	// Every investigation bootstraps with context gathering.
	if !st.HasCompleted(StepGatherContext) {
		return PlannerDecision{
			SelectedTool: StepGatherContext,
			Reason:       "no context gathered yet",
			Confidence:   bootstrapConfidence,
		}
	}

	if !p.cfg.LLMEnabled || p.provider == nil {
		tool, reason := p.ruleSequenceNext(st)
		return PlannerDecision{
			SelectedTool: tool,
			Reason:       "rule-sequence: llm planning disabled, " + reason,
			Confidence:   ruleSeqConfidence,
		}
	}

	if breakerOpen(st) {
		tool, reason := p.ruleSequenceNext(st)
		return PlannerDecision{
			SelectedTool: tool,
			Reason:       "rule-sequence: circuit breaker open after prior llm failure, " + reason,
			Confidence:   ruleSeqConfidence,
		}
	}

	return p.llmDecide(ctx, st)
}

// breakerOpen derives the circuit breaker from the audit log itself. At most
// one LLM failure is tolerated per investigation.
func breakerOpen(st *State) bool {
	for _, d := range st.PlannerDecisions {
		if strings.Contains(d.Reason, fallbackMarker) {
			return true
		}
	}
	return false
}

// planAnswer is the strict JSON shape the planning prompt demands.
type planAnswer struct {
	Tool       string  `json:"tool"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

func (p *Planner) llmDecide(ctx context.Context, st *State) PlannerDecision {
	prompt := p.buildPrompt(st)

	cctx, cancel := context.WithTimeout(ctx, p.cfg.LLMTimeout)
	defer cancel()

	cctx, span := tracer.Start(cctx, "planner.llm", trace.WithAttributes(
		attribute.String("inquest.investigation.id", st.InvestigationID),
		attribute.Int("inquest.step", st.StepCount+1),
	))
	defer span.End()

	resp, err := p.provider.Complete(cctx, llm.Request{
		System:    plannerSystemPrompt,
		Prompt:    prompt,
		MaxTokens: plannerMaxTokens,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm planning failed")
		mode := "call failed"
		if cctx.Err() == context.DeadlineExceeded {
			mode = fmt.Sprintf("timed out after %s", p.cfg.LLMTimeout)
		}
		p.logger.Warn(ctx, "llm planning failed, falling back to rule sequence",
			"investigation_id", st.InvestigationID, "error", err.Error())
		tool, reason := p.ruleSequenceNext(st)
		return PlannerDecision{
			SelectedTool:  tool,
			Reason:        fmt.Sprintf("%s %s (%v), %s", fallbackMarker, mode, err, reason),
			Confidence:    ruleSeqConfidence,
			PromptPreview: truncate(prompt, previewLimit),
		}
	}

	answer, perr := parsePlanAnswer(resp.Text)
	if perr != nil {
		p.logger.Warn(ctx, "llm plan unparseable, falling back to rule sequence",
			"investigation_id", st.InvestigationID, "error", perr.Error())
		tool, reason := p.ruleSequenceNext(st)
		return PlannerDecision{
			SelectedTool:    tool,
			Reason:          fmt.Sprintf("%s answer unparseable (%v), %s", fallbackMarker, perr, reason),
			Confidence:      ruleSeqConfidence,
			PromptPreview:   truncate(prompt, previewLimit),
			ResponsePreview: truncate(resp.Text, previewLimit),
		}
	}

	return PlannerDecision{
		SelectedTool:    answer.Tool,
		Reason:          answer.Reason,
		Confidence:      answer.Confidence,
		PromptPreview:   truncate(prompt, previewLimit),
		ResponsePreview: truncate(resp.Text, previewLimit),
	}
}

// ruleSequenceNext walks the canonical order and returns the first step not
// yet completed. After the base sequence, the rule draft runs only for
// HIGH/CRITICAL severity or when a recommendation asks for a rule.
func (p *Planner) ruleSequenceNext(st *State) (tool, reason string) {
	for _, name := range ruleSequence {
		if !st.HasCompleted(name) && p.registry.Has(name) {
			return name, fmt.Sprintf("next in canonical order: %s", name)
		}
	}

	if !st.HasCompleted(StepDraftRule) && p.registry.Has(StepDraftRule) && wantsRuleDraft(st) {
		return StepDraftRule, "severity or recommendations call for a rule draft"
	}
	return ActionComplete, "all applicable steps completed"
}

func wantsRuleDraft(st *State) bool {
	if st.Severity.AtLeast(verdict.SeverityHigh) {
		return true
	}
	for _, rec := range st.Recommendations {
		if strings.Contains(strings.ToLower(rec.Type), "rule") {
			return true
		}
	}
	return false
}

// parsePlanAnswer extracts the strict {tool, reason, confidence} object. The
// model sometimes wraps the JSON in prose, so parsing starts at the first
// brace and ends at the last.
func parsePlanAnswer(text string) (planAnswer, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return planAnswer{}, fmt.Errorf("no JSON object in answer")
	}

	var answer planAnswer
	dec := json.NewDecoder(strings.NewReader(text[start : end+1]))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&answer); err != nil {
		return planAnswer{}, fmt.Errorf("decode plan: %w", err)
	}
	if answer.Tool == "" {
		return planAnswer{}, fmt.Errorf("plan missing tool name")
	}
	if answer.Confidence < 0 || answer.Confidence > 1 {
		return planAnswer{}, fmt.Errorf("plan confidence %v out of range", answer.Confidence)
	}
	return answer, nil
}

const plannerSystemPrompt = `You plan payment-fraud investigations. Given the evidence gathered so far
and the catalog of available analysis tools, choose the single next tool to
run, or COMPLETE when no further analysis would change the outcome.

Answer with strict JSON and nothing else:
{"tool": "<tool name or COMPLETE>", "reason": "<one sentence>", "confidence": <0.0-1.0>}`

func (p *Planner) buildPrompt(st *State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Investigation %s for transaction %s, step %d of %d.\n\n",
		st.InvestigationID, st.TransactionID, st.StepCount+1, st.MaxSteps)

	fmt.Fprintf(&b, "Completed steps: %s\n", strings.Join(st.CompletedSteps, ", "))
	fmt.Fprintf(&b, "Current severity: %s\n", st.Severity)

	if st.PatternResults != nil {
		fmt.Fprintf(&b, "Pattern analysis: overall confidence %.2f, severity %s, max score %.2f\n",
			st.PatternResults.OverallConfidence, st.PatternResults.Severity, st.PatternResults.MaxScore())
	}
	if st.SimilarityResults != nil {
		fmt.Fprintf(&b, "Similarity: %d matches, overall score %.2f\n",
			len(st.SimilarityResults.Matches), st.SimilarityResults.OverallScore)
	}
	if st.Reasoning != nil {
		fmt.Fprintf(&b, "Reasoning: severity %s, confidence %.2f, resolution %s\n",
			st.Reasoning.Severity, st.Reasoning.Confidence, st.Reasoning.Conflict.ResolutionStrategy)
	}
	if len(st.Recommendations) > 0 {
		fmt.Fprintf(&b, "Recommendations: %d issued\n", len(st.Recommendations))
	}

	b.WriteString("\nAvailable tools:\n")
	for _, info := range p.registry.List() {
		fmt.Fprintf(&b, "- %s: %s\n", info.Name, info.Description)
	}
	b.WriteString("\nChoose the next tool.")
	return b.String()
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
