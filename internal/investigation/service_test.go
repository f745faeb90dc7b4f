package investigation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/inquest/internal/patterns"
	"github.com/linnemanlabs/inquest/internal/similarity"
	"github.com/linnemanlabs/inquest/internal/txn"
	"github.com/linnemanlabs/inquest/internal/verdict"
)

type fakeNotifier struct {
	mu       sync.Mutex
	notified []*State
}

func (f *fakeNotifier) NotifyCompleted(_ context.Context, st *State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, st)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notified)
}

// evidenceSteps returns stubs that populate the evidence the way the real
// steps do, with the reasoning severity pinned by the caller.
func evidenceSteps(severity verdict.Severity) []*stubStep {
	return []*stubStep{
		{name: StepGatherContext, run: func(_ context.Context, st *State) (*State, error) {
			st.Context = &txn.Context{Transaction: txn.Transaction{ID: st.TransactionID}}
			return st, nil
		}},
		{name: StepAnalyzePatterns, run: func(_ context.Context, st *State) (*State, error) {
			st.PatternResults = &patterns.Result{OverallConfidence: 0.6, Severity: verdict.SeverityMedium}
			return st, nil
		}},
		{name: StepSearchSimilar, run: func(_ context.Context, st *State) (*State, error) {
			st.SimilarityResults = &similarity.Result{OverallScore: 0.4}
			return st, nil
		}},
		{name: StepGenerateReasoning, run: func(_ context.Context, st *State) (*State, error) {
			st.Reasoning = &Reasoning{Confidence: 0.8, Severity: severity, GeneratedBy: "deterministic"}
			st.Severity = severity
			return st, nil
		}},
		{name: StepGenerateRecommendations, run: func(_ context.Context, st *State) (*State, error) {
			st.Recommendations = []Recommendation{{Type: "monitor"}}
			return st, nil
		}},
	}
}

func newService(t *testing.T, store Store, cfg Config, notifier Notifier, steps ...*stubStep) *Service {
	t.Helper()
	reg := registryWith(t, steps...)
	planner := NewPlanner(nil, reg, PlannerConfig{}, nil)
	executor := NewExecutor(reg, cfg.StepTimeout, nil)
	completer := NewCompleter(store, nil)
	return NewService(store, planner, executor, completer, nil, notifier, cfg, nil)
}

func TestInvestigateHappyPath(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newService(t, store, Config{MaxSteps: 10}, nil, evidenceSteps(verdict.SeverityMedium)...)

	st, err := svc.Investigate(context.Background(), "txn-1")
	if err != nil {
		t.Fatalf("Investigate: %v", err)
	}
	if st.Status != StatusCompleted {
		t.Fatalf("status = %q, want COMPLETED", st.Status)
	}

	// Patterns and similarity dispatch as one concurrent pair, so five steps
	// complete in four planning iterations plus the COMPLETE decision.
	if len(st.PlannerDecisions) != 5 {
		t.Errorf("decisions = %d, want 5", len(st.PlannerDecisions))
	}
	if len(st.CompletedSteps) != 5 {
		t.Errorf("completed = %v, want all five steps", st.CompletedSteps)
	}
	seen := map[string]bool{}
	for _, name := range st.CompletedSteps {
		if seen[name] {
			t.Errorf("step %q completed twice", name)
		}
		seen[name] = true
	}
	if len(st.ToolExecutions) != len(st.CompletedSteps) {
		t.Errorf("executions = %d, completed = %d, want equal when everything succeeds",
			len(st.ToolExecutions), len(st.CompletedSteps))
	}
	for _, exec := range st.ToolExecutions {
		if exec.Status != ExecSuccess {
			t.Errorf("execution %s = %q, want SUCCESS", exec.ToolName, exec.Status)
		}
	}

	if st.PatternResults == nil || st.SimilarityResults == nil {
		t.Error("pair dispatch must keep both evidence results")
	}
	if want := (0.6 + 0.4 + 0.8) / 3; st.ConfidenceScore != want {
		t.Errorf("confidence = %v, want %v", st.ConfidenceScore, want)
	}

	// Initial checkpoint, one per executed iteration, one terminal save.
	if got := store.versions(st.InvestigationID); got != 6 {
		t.Errorf("checkpoint versions = %d, want 6", got)
	}
}

func TestInvestigateDeduplicatesInFlight(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	existing := NewState("txn-9", 10)
	existing.Status = StatusInProgress
	if _, err := store.Save(context.Background(), existing); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := newService(t, store, Config{}, nil, evidenceSteps(verdict.SeverityLow)...)
	st, err := svc.Investigate(context.Background(), "txn-9")
	if err != nil {
		t.Fatalf("Investigate: %v", err)
	}
	if st.InvestigationID != existing.InvestigationID {
		t.Errorf("id = %s, want the in-flight investigation %s", st.InvestigationID, existing.InvestigationID)
	}
	if len(st.PlannerDecisions) != 0 {
		t.Error("dedup must not run any new planning")
	}
}

func TestInvestigateReRunsAfterTerminal(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	done := NewState("txn-9", 10)
	done.Status = StatusCompleted
	if _, err := store.Save(context.Background(), done); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := newService(t, store, Config{}, nil, evidenceSteps(verdict.SeverityLow)...)
	st, err := svc.Investigate(context.Background(), "txn-9")
	if err != nil {
		t.Fatalf("Investigate: %v", err)
	}
	if st.InvestigationID == done.InvestigationID {
		t.Error("a terminal investigation must not block a new run")
	}
}

func TestInvestigateStopsAtMaxSteps(t *testing.T) {
	t.Parallel()

	steps := []*stubStep{
		{name: StepGatherContext},
		{name: StepAnalyzePatterns, run: func(_ context.Context, st *State) (*State, error) {
			return st, fmt.Errorf("detector store flaked")
		}},
	}
	store := newFakeStore()
	svc := newService(t, store, Config{MaxSteps: 4}, nil, steps...)

	st, err := svc.Investigate(context.Background(), "txn-1")
	if err != nil {
		t.Fatalf("Investigate: %v", err)
	}
	if st.StepCount != 4 {
		t.Errorf("step count = %d, want the budget of 4", st.StepCount)
	}
	if len(st.PlannerDecisions) != 4 {
		t.Errorf("decisions = %d, want 4", len(st.PlannerDecisions))
	}
	if st.Status != StatusCompleted {
		t.Errorf("status = %q, exhausting the budget still finalizes", st.Status)
	}
}

func TestInvestigateFatalStepError(t *testing.T) {
	t.Parallel()

	steps := []*stubStep{
		{name: StepGatherContext},
		{name: StepAnalyzePatterns, run: func(_ context.Context, st *State) (*State, error) {
			return st, fmt.Errorf("%w: context missing", ErrPrecondition)
		}},
	}
	store := newFakeStore()
	svc := newService(t, store, Config{}, nil, steps...)

	st, err := svc.Investigate(context.Background(), "txn-1")
	if err == nil {
		t.Fatal("fatal step error must propagate")
	}
	if st.Status != StatusFailed {
		t.Errorf("status = %q, want FAILED", st.Status)
	}
	if st.Error == "" {
		t.Error("terminal state must carry the cause")
	}
	// The failed terminal state is persisted.
	latest, ok, gerr := store.Get(context.Background(), st.InvestigationID)
	if gerr != nil || !ok {
		t.Fatalf("Get: %v ok=%v", gerr, ok)
	}
	if latest.Status != StatusFailed {
		t.Errorf("persisted status = %q, want FAILED", latest.Status)
	}
}

func TestInvestigateTimesOut(t *testing.T) {
	t.Parallel()

	steps := []*stubStep{
		{name: StepGatherContext, run: func(ctx context.Context, st *State) (*State, error) {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return st, ctx.Err()
			}
			return st, nil
		}},
	}
	store := newFakeStore()
	svc := newService(t, store, Config{Timeout: 30 * time.Millisecond}, nil, steps...)

	st, err := svc.Investigate(context.Background(), "txn-1")
	if err != nil {
		t.Fatalf("timeout is terminal state, not error: %v", err)
	}
	if st.Status != StatusTimedOut {
		t.Errorf("status = %q, want TIMED_OUT", st.Status)
	}
	if st.Error == "" {
		t.Error("timed-out state must carry the deadline message")
	}
	// The partial audit trail survives.
	if got := store.versions(st.InvestigationID); got < 2 {
		t.Errorf("versions = %d, want the initial checkpoint plus the terminal save", got)
	}
}

func TestInvestigateNotifiesOnHighSeverity(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	svc := newService(t, newFakeStore(), Config{}, notifier, evidenceSteps(verdict.SeverityHigh)...)

	st, err := svc.Investigate(context.Background(), "txn-1")
	if err != nil {
		t.Fatalf("Investigate: %v", err)
	}
	if st.Severity != verdict.SeverityHigh {
		t.Fatalf("severity = %q, want HIGH", st.Severity)
	}
	if notifier.count() != 1 {
		t.Errorf("notifications = %d, want 1", notifier.count())
	}
}

func TestInvestigateSkipsNotifyOnLowSeverity(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	svc := newService(t, newFakeStore(), Config{}, notifier, evidenceSteps(verdict.SeverityLow)...)

	if _, err := svc.Investigate(context.Background(), "txn-1"); err != nil {
		t.Fatalf("Investigate: %v", err)
	}
	if notifier.count() != 0 {
		t.Errorf("notifications = %d, want none below HIGH", notifier.count())
	}
}

func TestSubmitReturnsImmediatelyAndCompletes(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newService(t, store, Config{}, nil, evidenceSteps(verdict.SeverityLow)...)

	st, err := svc.Submit(context.Background(), "txn-1")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if st.Status != StatusInProgress {
		t.Fatalf("status = %q, want IN_PROGRESS before the loop finishes", st.Status)
	}

	deadline := time.After(2 * time.Second)
	for {
		latest, ok, gerr := store.Get(context.Background(), st.InvestigationID)
		if gerr != nil {
			t.Fatalf("Get: %v", gerr)
		}
		if ok && latest.Terminal() {
			if latest.Status != StatusCompleted {
				t.Errorf("status = %q, want COMPLETED", latest.Status)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("investigation never reached a terminal status")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestMergePairKeepsBothBranches(t *testing.T) {
	t.Parallel()

	base := completedState(StepGatherContext)
	base.ToolExecutions = []ToolExecution{{ToolName: StepGatherContext, Status: ExecSuccess}}

	a := base.Clone()
	a.PatternResults = &patterns.Result{Severity: verdict.SeverityHigh}
	a.Severity = verdict.SeverityHigh
	a.CompletedSteps = append(a.CompletedSteps, StepAnalyzePatterns)
	a.ToolExecutions = append(a.ToolExecutions, ToolExecution{ToolName: StepAnalyzePatterns, Status: ExecSuccess})

	b := base.Clone()
	b.SimilarityResults = &similarity.Result{OverallScore: 0.2}
	b.ToolExecutions = append(b.ToolExecutions, ToolExecution{ToolName: StepSearchSimilar, Status: ExecTimedOut})

	m := mergePair(base, a, b)
	if m.PatternResults == nil || m.SimilarityResults == nil {
		t.Error("merge must keep evidence from both branches")
	}
	if m.Severity != verdict.SeverityHigh {
		t.Errorf("severity = %q, want the branch maximum", m.Severity)
	}
	if len(m.CompletedSteps) != 2 {
		t.Errorf("completed = %v, want gather plus the successful branch", m.CompletedSteps)
	}
	if len(m.ToolExecutions) != 3 {
		t.Errorf("executions = %d, want base plus one per branch", len(m.ToolExecutions))
	}
}
