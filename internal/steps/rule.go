package steps

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/inquest/internal/investigation"
	"github.com/linnemanlabs/inquest/internal/patterns"
)

// ruleScoreFloor is the minimum pattern score that contributes a predicate
// to a drafted rule.
const ruleScoreFloor = 0.5

// DraftRule turns the strongest pattern evidence into a candidate detection
// rule and exports it to the rule-management service. Export is best effort;
// the draft survives on the investigation even when export fails.
type DraftRule struct {
	rules  RuleClient
	cfg    *patterns.Config
	logger log.Logger
	now    func() time.Time
}

// NewDraftRule creates the rule-drafting step. The client may be nil, which
// leaves the draft local to the investigation.
func NewDraftRule(rules RuleClient, cfg *patterns.Config, logger log.Logger) *DraftRule {
	if cfg == nil {
		cfg = patterns.DefaultConfig()
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &DraftRule{rules: rules, cfg: cfg, logger: logger, now: time.Now}
}

func (s *DraftRule) Name() string { return investigation.StepDraftRule }

func (s *DraftRule) Description() string {
	return "Draft a reusable detection rule from the strongest pattern evidence and export it for review."
}

// Run implements investigation.Step.
func (s *DraftRule) Run(ctx context.Context, st *investigation.State) (*investigation.State, error) {
	if st.Context == nil || st.PatternResults == nil {
		return st, fmt.Errorf("%w: rule drafting requires context and pattern results", investigation.ErrPrecondition)
	}

	condition, contributors := s.buildCondition(st)
	draft := &investigation.RuleDraft{
		RuleID:    ulid.Make().String(),
		Name:      draftName(contributors, st),
		Condition: condition,
		Severity:  st.Severity,
		CreatedAt: s.now().UTC(),
	}
	st.RuleDraft = draft

	if s.rules != nil {
		if err := s.rules.Export(ctx, *draft); err != nil {
			s.logger.Warn(ctx, "rule export failed, keeping local draft",
				"investigation_id", st.InvestigationID,
				"rule_id", draft.RuleID,
				"error", err.Error())
		} else {
			s.logger.Info(ctx, "rule draft exported",
				"investigation_id", st.InvestigationID, "rule_id", draft.RuleID)
		}
	}
	return st, nil
}

// buildCondition renders one predicate per elevated pattern, joined with AND.
// Predicates reference rolling-stat fields so the rule engine can evaluate
// them without replaying an investigation.
func (s *DraftRule) buildCondition(st *investigation.State) (string, []string) {
	type scored struct {
		name  string
		score float64
	}
	var elevated []scored
	for _, sc := range st.PatternResults.Scores {
		if sc.Score >= ruleScoreFloor {
			elevated = append(elevated, scored{sc.PatternName, sc.Score})
		}
	}
	sort.Slice(elevated, func(i, j int) bool {
		if elevated[i].score != elevated[j].score {
			return elevated[i].score > elevated[j].score
		}
		return elevated[i].name < elevated[j].name
	})

	var preds, names []string
	for _, e := range elevated {
		if p := s.predicate(e.name, st); p != "" {
			preds = append(preds, p)
			names = append(names, e.name)
		}
	}
	if len(preds) == 0 {
		return fmt.Sprintf("amount >= %.2f AND decision = 'DECLINED'", st.Context.Transaction.Amount), nil
	}
	return strings.Join(preds, " AND "), names
}

func (s *DraftRule) predicate(pattern string, st *investigation.State) string {
	switch pattern {
	case patterns.PatternVelocity:
		return fmt.Sprintf("count_1h >= %d", s.cfg.Velocity1hThreshold)
	case patterns.PatternDecline:
		return fmt.Sprintf("decline_ratio_24h >= %.2f", s.cfg.DeclineMediumRatio)
	case patterns.PatternCrossMerchant:
		return fmt.Sprintf("unique_merchants_24h >= %d", s.cfg.MerchantsMediumCount)
	case patterns.PatternCardTesting:
		return fmt.Sprintf("amount <= %.2f AND count_1h >= 3", s.cfg.SmallAmountMax)
	case patterns.PatternAmount:
		return fmt.Sprintf("amount >= %.2f", s.cfg.ElevatedAmount)
	case patterns.PatternTime:
		if cat := st.Context.Transaction.MerchantCategory; cat != "" {
			return fmt.Sprintf("merchant_category = '%s' AND hour IN (%s)", cat, joinInts(s.cfg.UnusualHours))
		}
		return fmt.Sprintf("hour IN (%s)", joinInts(s.cfg.UnusualHours))
	default:
		return ""
	}
}

func draftName(contributors []string, st *investigation.State) string {
	if len(contributors) == 0 {
		return fmt.Sprintf("auto: %s anomaly", strings.ToLower(string(st.Severity)))
	}
	return fmt.Sprintf("auto: %s", strings.Join(contributors, " + "))
}

func joinInts(hours []int) string {
	parts := make([]string, len(hours))
	for i, h := range hours {
		parts[i] = fmt.Sprintf("%d", h)
	}
	return strings.Join(parts, ", ")
}
