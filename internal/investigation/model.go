package investigation

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/inquest/internal/calibrate"
	"github.com/linnemanlabs/inquest/internal/conflict"
	"github.com/linnemanlabs/inquest/internal/patterns"
	"github.com/linnemanlabs/inquest/internal/similarity"
	"github.com/linnemanlabs/inquest/internal/txn"
	"github.com/linnemanlabs/inquest/internal/verdict"
)

// Status tracks where an investigation is in its lifecycle.
type Status string

const (
	// StatusPending means created, not yet started.
	StatusPending Status = "PENDING"

	// StatusInProgress means the control loop is running.
	StatusInProgress Status = "IN_PROGRESS"

	// StatusCompleted means finished and finalized.
	StatusCompleted Status = "COMPLETED"

	// StatusFailed means a fatal error ended the run.
	StatusFailed Status = "FAILED"

	// StatusTimedOut means the outer investigation deadline tripped.
	StatusTimedOut Status = "TIMED_OUT"
)

// ExecStatus is the outcome of one executor invocation.
type ExecStatus string

const (
	ExecSuccess  ExecStatus = "SUCCESS"
	ExecFailed   ExecStatus = "FAILED"
	ExecTimedOut ExecStatus = "TIMED_OUT"
)

// Step names. The canonical rule-sequence order is context, patterns,
// similarity, reasoning, recommendations, with the rule draft conditional.
const (
	StepGatherContext           = "gather_context"
	StepAnalyzePatterns         = "analyze_patterns"
	StepSearchSimilar           = "search_similar"
	StepGenerateReasoning       = "generate_reasoning"
	StepGenerateRecommendations = "generate_recommendations"
	StepDraftRule               = "draft_rule"

	// ActionComplete is the planner sentinel that ends the loop.
	ActionComplete = "COMPLETE"
)

// PlannerDecision is one audit record per planner invocation. Append-only.
type PlannerDecision struct {
	Step            int       `json:"step"`
	SelectedTool    string    `json:"selected_tool"`
	Reason          string    `json:"reason"`
	Confidence      float64   `json:"confidence"`
	Timestamp       time.Time `json:"timestamp"`
	PromptPreview   string    `json:"prompt_preview,omitempty"`
	ResponsePreview string    `json:"response_preview,omitempty"`
}

// ToolExecution is one audit record per executor invocation. Summaries are
// redacted projections of state, never raw transaction PII. Append-only.
type ToolExecution struct {
	ToolName        string     `json:"tool_name"`
	InputSummary    string     `json:"input_summary"`
	OutputSummary   string     `json:"output_summary,omitempty"`
	ExecutionTimeMS int64      `json:"execution_time_ms"`
	Status          ExecStatus `json:"status"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	Timestamp       time.Time  `json:"timestamp"`
}

// Reasoning is the output of the reasoning step: the narrative plus the
// calibrated severity and the conflict matrix it was judged against.
type Reasoning struct {
	Narrative   string           `json:"narrative"`
	LLMSeverity verdict.Severity `json:"llm_severity,omitempty"`
	Severity    verdict.Severity `json:"severity"`
	Confidence  float64          `json:"confidence"`
	Conflict    conflict.Matrix  `json:"conflict"`
	Calibration calibrate.Result `json:"calibration"`
	GeneratedBy string           `json:"generated_by"` // "llm" or "deterministic"
}

// Recommendation is one suggested action for the case handler.
type Recommendation struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Priority    string `json:"priority,omitempty"`
}

// RuleDraft is a proposed detection rule derived from the investigation,
// ready for export to the rule-management system.
type RuleDraft struct {
	RuleID    string           `json:"rule_id"`
	Name      string           `json:"name"`
	Condition string           `json:"condition"`
	Severity  verdict.Severity `json:"severity"`
	CreatedAt time.Time        `json:"created_at"`
}

// State is the central investigation record. It is replaced, never mutated
// in place: every planner and executor iteration clones it and returns a new
// copy, so no two stages ever alias the same record. The whole struct is
// JSON-serializable because it is the unit of checkpointed persistence.
type State struct {
	InvestigationID string `json:"investigation_id"`
	TransactionID   string `json:"transaction_id"`

	Context           *txn.Context       `json:"context,omitempty"`
	PatternResults    *patterns.Result   `json:"pattern_results,omitempty"`
	SimilarityResults *similarity.Result `json:"similarity_results,omitempty"`
	Reasoning         *Reasoning         `json:"reasoning,omitempty"`
	Recommendations   []Recommendation   `json:"recommendations,omitempty"`
	RuleDraft         *RuleDraft         `json:"rule_draft,omitempty"`

	ConfidenceScore float64          `json:"confidence_score"`
	Severity        verdict.Severity `json:"severity"`
	Status          Status           `json:"status"`

	CompletedSteps []string `json:"completed_steps"`
	NextAction     string   `json:"next_action,omitempty"`
	StepCount      int      `json:"step_count"`
	MaxSteps       int      `json:"max_steps"`

	PlannerDecisions []PlannerDecision `json:"planner_decisions"`
	ToolExecutions   []ToolExecution   `json:"tool_executions"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// NewState creates a fresh investigation for a transaction.
func NewState(transactionID string, maxSteps int) *State {
	return &State{
		InvestigationID: ulid.Make().String(),
		TransactionID:   transactionID,
		Severity:        verdict.SeverityLow,
		Status:          StatusPending,
		MaxSteps:        maxSteps,
		StartedAt:       time.Now().UTC(),
	}
}

// Clone returns a deep copy. Per-stage result pointers are shared because the
// results themselves are immutable values; everything append-only is copied.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Context = s.Context.Clone()
	cp.CompletedSteps = append([]string(nil), s.CompletedSteps...)
	cp.Recommendations = append([]Recommendation(nil), s.Recommendations...)
	cp.PlannerDecisions = append([]PlannerDecision(nil), s.PlannerDecisions...)
	cp.ToolExecutions = append([]ToolExecution(nil), s.ToolExecutions...)
	return &cp
}

// HasCompleted reports whether the named step already ran successfully.
func (s *State) HasCompleted(name string) bool {
	for _, n := range s.CompletedSteps {
		if n == name {
			return true
		}
	}
	return false
}

// Terminal reports whether the investigation reached a final status.
func (s *State) Terminal() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// LastDecision returns the most recent planner decision, or nil.
func (s *State) LastDecision() *PlannerDecision {
	if len(s.PlannerDecisions) == 0 {
		return nil
	}
	return &s.PlannerDecisions[len(s.PlannerDecisions)-1]
}
