package investigation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/inquest/internal/verdict"
)

// Notifier is told about finished investigations that warrant attention.
type Notifier interface {
	NotifyCompleted(ctx context.Context, st *State) error
}

// Config carries the control-loop tunables.
type Config struct {
	MaxSteps    int
	StepTimeout time.Duration
	Timeout     time.Duration // outer per-investigation deadline
}

// Service owns the investigation control loop: planner, executor, completion,
// checkpointing, and terminal notification.
type Service struct {
	store     Store
	planner   *Planner
	executor  *Executor
	completer *Completer
	metrics   *Metrics
	notifier  Notifier
	logger    log.Logger
	cfg       Config
}

// NewService creates the control-loop service. Metrics and notifier may be
// nil.
func NewService(store Store, planner *Planner, executor *Executor, completer *Completer, metrics *Metrics, notifier Notifier, cfg Config, logger log.Logger) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Minute
	}
	return &Service{
		store:     store,
		planner:   planner,
		executor:  executor,
		completer: completer,
		metrics:   metrics,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
	}
}

// Get retrieves an investigation by ID.
func (s *Service) Get(ctx context.Context, id string) (*State, bool, error) {
	return s.store.Get(ctx, id)
}

// GetByTransaction retrieves the investigation for a transaction.
func (s *Service) GetByTransaction(ctx context.Context, transactionID string) (*State, bool, error) {
	return s.store.GetByTransaction(ctx, transactionID)
}

// List returns recent investigations.
func (s *Service) List(ctx context.Context, limit int) ([]*State, error) {
	return s.store.List(ctx, limit)
}

// Investigate runs one investigation to a terminal status. An in-flight
// investigation for the same transaction is returned as-is instead of being
// duplicated. The returned error is non-nil only for fatal planning or
// dependency errors; the state always carries a terminal status and the full
// audit trail.
func (s *Service) Investigate(ctx context.Context, transactionID string) (*State, error) {
	st, existing, err := s.begin(ctx, transactionID)
	if err != nil || existing {
		return st, err
	}
	return s.run(ctx, st)
}

// Submit starts an investigation and returns immediately with the pending
// state. The control loop runs detached from the caller's request context so
// a closed HTTP connection never aborts an investigation.
func (s *Service) Submit(ctx context.Context, transactionID string) (*State, error) {
	st, existing, err := s.begin(ctx, transactionID)
	if err != nil || existing {
		return st, err
	}
	go func() {
		if _, rerr := s.run(context.WithoutCancel(ctx), st); rerr != nil {
			s.logger.Error(context.WithoutCancel(ctx), rerr, "async investigation failed",
				"investigation_id", st.InvestigationID, "transaction_id", transactionID)
		}
	}()
	return st, nil
}

// begin deduplicates against in-flight work and checkpoints the fresh state.
func (s *Service) begin(ctx context.Context, transactionID string) (*State, bool, error) {
	if existing, ok, err := s.store.GetByTransaction(ctx, transactionID); err != nil {
		return nil, false, fmt.Errorf("check existing investigation: %w", err)
	} else if ok && !existing.Terminal() {
		return existing, true, nil
	}

	st := NewState(transactionID, s.cfg.MaxSteps)
	st.Status = StatusInProgress
	s.checkpoint(ctx, st)
	return st, false, nil
}

func (s *Service) run(ctx context.Context, st *State) (*State, error) {
	L := s.logger.With("investigation_id", st.InvestigationID, "transaction_id", st.TransactionID)
	start := time.Now()

	ictx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	for st.StepCount < st.MaxSteps {
		if ictx.Err() != nil {
			return s.timedOut(ctx, L, st, start), nil
		}

		next, err := s.planner.Next(ictx, st)
		st = next
		if d := st.LastDecision(); d != nil {
			s.metrics.observeDecision(*d)
			L.Info(ictx, "planner decision",
				"step", d.Step, "tool", d.SelectedTool, "confidence", d.Confidence)
		}
		if err != nil {
			return s.failed(ctx, L, st, start, err)
		}
		if st.NextAction == ActionComplete {
			break
		}

		before := len(st.ToolExecutions)
		if counterpart, ok := s.pairable(st); ok {
			st, err = s.runPair(ictx, st, counterpart)
		} else {
			st, err = s.executor.Execute(ictx, st)
		}
		for _, exec := range st.ToolExecutions[before:] {
			s.metrics.observeExecution(exec)
		}
		if err != nil {
			if ictx.Err() == context.DeadlineExceeded {
				return s.timedOut(ctx, L, st, start), nil
			}
			return s.failed(ctx, L, st, start, err)
		}

		s.checkpoint(ictx, st)
	}

	final := s.completer.Finalize(context.WithoutCancel(ctx), st)
	s.metrics.observeTerminal(final, time.Since(start).Seconds(), breakerOpen(final))

	L.Info(ctx, "investigation complete",
		"status", final.Status,
		"severity", final.Severity,
		"confidence", final.ConfidenceScore,
		"steps", final.StepCount,
		"duration", time.Since(start).Seconds(),
	)

	s.notify(ctx, L, final)
	return final, nil
}

// pairable reports whether the planned step is one half of the independent
// patterns/similarity pair whose other half also still needs to run. The two
// stages share no inputs beyond the context, so they dispatch concurrently.
func (s *Service) pairable(st *State) (string, bool) {
	var counterpart string
	switch st.NextAction {
	case StepAnalyzePatterns:
		counterpart = StepSearchSimilar
	case StepSearchSimilar:
		counterpart = StepAnalyzePatterns
	default:
		return "", false
	}
	if st.HasCompleted(counterpart) || !s.executor.registry.Has(counterpart) {
		return "", false
	}
	return counterpart, true
}

// runPair executes the planned step and its counterpart concurrently against
// private clones and merges both outcomes. One side failing or timing out
// never cancels the other; the merged state keeps whatever evidence each side
// produced.
func (s *Service) runPair(ctx context.Context, st *State, counterpart string) (*State, error) {
	first := st.Clone()
	second := st.Clone()
	second.NextAction = counterpart

	var (
		wg             sync.WaitGroup
		resA, resB     *State
		errA, errB     error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		resA, errA = s.executor.Execute(ctx, first)
	}()
	go func() {
		defer wg.Done()
		resB, errB = s.executor.Execute(ctx, second)
	}()
	wg.Wait()

	merged := mergePair(st, resA, resB)
	if errA != nil {
		return merged, errA
	}
	return merged, errB
}

// mergePair folds two branch states produced from the same base back into
// one. Evidence pointers are taken from whichever branch produced them; the
// audit suffixes of both branches are appended in branch order.
func mergePair(base, a, b *State) *State {
	m := base.Clone()
	for _, branch := range []*State{a, b} {
		if branch == nil {
			continue
		}
		if branch.PatternResults != nil {
			m.PatternResults = branch.PatternResults
		}
		if branch.SimilarityResults != nil {
			m.SimilarityResults = branch.SimilarityResults
		}
		if branch.Severity.AtLeast(m.Severity) {
			m.Severity = branch.Severity
		}
		m.CompletedSteps = append(m.CompletedSteps, branch.CompletedSteps[len(base.CompletedSteps):]...)
		m.ToolExecutions = append(m.ToolExecutions, branch.ToolExecutions[len(base.ToolExecutions):]...)
	}
	return m
}

func (s *Service) timedOut(ctx context.Context, L log.Logger, st *State, start time.Time) *State {
	final := st.Clone()
	final.Status = StatusTimedOut
	final.Error = fmt.Sprintf("investigation exceeded %s deadline", s.cfg.Timeout)
	final.CompletedAt = time.Now().UTC()

	// Partial evidence is still persisted for audit.
	s.checkpoint(context.WithoutCancel(ctx), final)
	s.metrics.observeTerminal(final, time.Since(start).Seconds(), breakerOpen(final))
	L.Warn(ctx, "investigation timed out", "steps", final.StepCount)
	return final
}

func (s *Service) failed(ctx context.Context, L log.Logger, st *State, start time.Time, cause error) (*State, error) {
	final := st.Clone()
	final.Status = StatusFailed
	final.Error = cause.Error()
	final.CompletedAt = time.Now().UTC()

	s.checkpoint(context.WithoutCancel(ctx), final)
	s.metrics.observeTerminal(final, time.Since(start).Seconds(), breakerOpen(final))
	L.Error(ctx, cause, "investigation failed", "steps", final.StepCount)
	return final, cause
}

func (s *Service) checkpoint(ctx context.Context, st *State) {
	if _, err := s.store.Save(ctx, st); err != nil {
		s.logger.Warn(ctx, "checkpoint save failed",
			"investigation_id", st.InvestigationID, "error", err.Error())
	}
}

func (s *Service) notify(ctx context.Context, L log.Logger, st *State) {
	if s.notifier == nil || !st.Severity.AtLeast(verdict.SeverityHigh) {
		return
	}
	if err := s.notifier.NotifyCompleted(ctx, st); err != nil {
		L.Warn(ctx, "completion notification failed", "error", err.Error())
	}
}
