package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/inquest/internal/calibrate"
	"github.com/linnemanlabs/inquest/internal/conflict"
	"github.com/linnemanlabs/inquest/internal/investigation"
	"github.com/linnemanlabs/inquest/internal/llm"
	"github.com/linnemanlabs/inquest/internal/similarity"
	"github.com/linnemanlabs/inquest/internal/verdict"
)

const reasoningMaxTokens = 1024

// GenerateReasoning fuses the gathered evidence into a narrative and a
// calibrated severity. The LLM writes the narrative and proposes a severity;
// the conflict matrix and calibrator keep that proposal honest. Without an
// LLM the step still produces a deterministic narrative.
type GenerateReasoning struct {
	provider llm.Provider
	rules    RuleClient
	logger   log.Logger
}

// NewGenerateReasoning creates the reasoning step. Provider and rules may be
// nil.
func NewGenerateReasoning(provider llm.Provider, rules RuleClient, logger log.Logger) *GenerateReasoning {
	if logger == nil {
		logger = log.Nop()
	}
	return &GenerateReasoning{provider: provider, rules: rules, logger: logger}
}

func (s *GenerateReasoning) Name() string { return investigation.StepGenerateReasoning }

func (s *GenerateReasoning) Description() string {
	return "Fuse pattern, similarity, and counter-evidence into a risk narrative with a calibrated severity."
}

// Run implements investigation.Step.
func (s *GenerateReasoning) Run(ctx context.Context, st *investigation.State) (*investigation.State, error) {
	if st.Context == nil || st.PatternResults == nil {
		return st, fmt.Errorf("%w: reasoning requires context and pattern results", investigation.ErrPrecondition)
	}

	ruleMatches := s.ruleMatches(ctx, st)
	counterItems := counterEvidence(st)

	proposal := s.propose(ctx, st, ruleMatches)

	var simScore float64
	var simMatches int
	if st.SimilarityResults != nil {
		simScore = st.SimilarityResults.OverallScore
		simMatches = len(st.SimilarityResults.Matches)
	}

	matrix := conflict.Resolve(conflict.Input{
		PatternSeverity: st.PatternResults.Severity,
		SimilarityScore: simScore,
		CounterEvidence: counterItems,
		LLMRisk:         proposal.llmSeverity,
	})

	calibration := calibrate.Result{Severity: proposal.severity, Original: proposal.severity}
	if proposal.fromLLM {
		calibration = calibrate.Apply(proposal.severity, calibrate.Evidence{
			PatternScores:        patternScores(st),
			SimilarityScore:      simScore,
			SimilarityMatches:    simMatches,
			MatchCounterEvidence: len(counterItems),
			RuleMatches:          ruleMatches,
			CounterSignals:       len(st.Context.Transaction.CounterSignals()),
			Decision:             st.Context.Transaction.Decision,
		})
		if calibration.Overridden {
			s.logger.Info(ctx, "llm severity calibrated",
				"investigation_id", st.InvestigationID,
				"original", string(calibration.Original),
				"calibrated", string(calibration.Severity),
				"reason", calibration.Reason)
		}
	}

	generatedBy := "deterministic"
	if proposal.fromLLM {
		generatedBy = "llm"
	}
	st.Reasoning = &investigation.Reasoning{
		Narrative:   proposal.narrative,
		LLMSeverity: proposal.llmSeverity,
		Severity:    calibration.Severity,
		Confidence:  proposal.confidence,
		Conflict:    matrix,
		Calibration: calibration,
		GeneratedBy: generatedBy,
	}
	st.Severity = calibration.Severity
	return st, nil
}

type proposal struct {
	narrative   string
	severity    verdict.Severity
	llmSeverity verdict.Severity
	confidence  float64
	fromLLM     bool
}

// propose asks the LLM for narrative plus severity, with the deterministic
// rendering as the fallback on any failure.
func (s *GenerateReasoning) propose(ctx context.Context, st *investigation.State, ruleMatches int) proposal {
	det := deterministicProposal(st)
	if s.provider == nil {
		return det
	}

	resp, err := s.provider.Complete(ctx, llm.Request{
		System:    reasoningSystemPrompt,
		Prompt:    buildReasoningPrompt(st, ruleMatches),
		MaxTokens: reasoningMaxTokens,
	})
	if err != nil {
		s.logger.Warn(ctx, "llm reasoning failed, using deterministic narrative",
			"investigation_id", st.InvestigationID, "error", err.Error())
		return det
	}

	answer, perr := parseReasoningAnswer(resp.Text)
	if perr != nil {
		s.logger.Warn(ctx, "llm reasoning unparseable, using deterministic narrative",
			"investigation_id", st.InvestigationID, "error", perr.Error())
		return det
	}

	return proposal{
		narrative:   answer.Narrative,
		severity:    verdict.Severity(answer.Severity),
		llmSeverity: verdict.Severity(answer.Severity),
		confidence:  answer.Confidence,
		fromLLM:     true,
	}
}

func deterministicProposal(st *investigation.State) proposal {
	var b strings.Builder
	fmt.Fprintf(&b, "Deterministic assessment for transaction %s. ", st.TransactionID)
	fmt.Fprintf(&b, "Pattern analysis classified %s (confidence %.2f). ",
		st.PatternResults.Severity, st.PatternResults.OverallConfidence)

	var elevated []string
	for _, sc := range st.PatternResults.Scores {
		if sc.Score >= 0.5 {
			elevated = append(elevated, fmt.Sprintf("%s=%.2f", sc.PatternName, sc.Score))
		}
	}
	if len(elevated) > 0 {
		fmt.Fprintf(&b, "Elevated detectors: %s. ", strings.Join(elevated, ", "))
	}
	if st.SimilarityResults != nil {
		fmt.Fprintf(&b, "Similarity: %d matches, overall %.2f.",
			len(st.SimilarityResults.Matches), st.SimilarityResults.OverallScore)
	}

	conf := st.PatternResults.OverallConfidence
	if st.SimilarityResults != nil && st.SimilarityResults.OverallScore > 0 {
		conf = (conf + st.SimilarityResults.OverallScore) / 2
	}
	return proposal{
		narrative:  b.String(),
		severity:   st.PatternResults.Severity,
		confidence: conf,
	}
}

func (s *GenerateReasoning) ruleMatches(ctx context.Context, st *investigation.State) int {
	if s.rules == nil {
		return 0
	}
	n, err := s.rules.MatchCount(ctx, st.Context.Transaction)
	if err != nil {
		s.logger.Warn(ctx, "rule match lookup failed",
			"investigation_id", st.InvestigationID, "error", err.Error())
		return 0
	}
	return n
}

func counterEvidence(st *investigation.State) []similarity.CounterEvidence {
	if st.SimilarityResults == nil {
		return nil
	}
	return st.SimilarityResults.Matches.CounterEvidenceItems()
}

func patternScores(st *investigation.State) map[string]float64 {
	out := make(map[string]float64, len(st.PatternResults.Scores))
	for _, sc := range st.PatternResults.Scores {
		out[sc.PatternName] = sc.Score
	}
	return out
}

type reasoningAnswer struct {
	Narrative  string  `json:"narrative"`
	Severity   string  `json:"severity"`
	Confidence float64 `json:"confidence"`
}

func parseReasoningAnswer(text string) (reasoningAnswer, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return reasoningAnswer{}, fmt.Errorf("no JSON object in answer")
	}
	var answer reasoningAnswer
	if err := json.Unmarshal([]byte(text[start:end+1]), &answer); err != nil {
		return reasoningAnswer{}, fmt.Errorf("decode reasoning: %w", err)
	}
	if answer.Narrative == "" {
		return reasoningAnswer{}, fmt.Errorf("reasoning missing narrative")
	}
	if !verdict.Severity(answer.Severity).Valid() {
		return reasoningAnswer{}, fmt.Errorf("invalid severity %q", answer.Severity)
	}
	if answer.Confidence < 0 || answer.Confidence > 1 {
		return reasoningAnswer{}, fmt.Errorf("confidence %v out of range", answer.Confidence)
	}
	return answer, nil
}

const reasoningSystemPrompt = `You assess payment-fraud risk. Given deterministic evidence about a
transaction, write a short analyst-grade narrative and classify the risk.

Answer with strict JSON and nothing else:
{"narrative": "<3-6 sentences>", "severity": "LOW|MEDIUM|HIGH|CRITICAL", "confidence": <0.0-1.0>}`

func buildReasoningPrompt(st *investigation.State, ruleMatches int) string {
	var b strings.Builder
	t := st.Context.Transaction
	fmt.Fprintf(&b, "Transaction: %s %.2f %s at category %q, decision %s, card country %s, IP country %s.\n",
		t.ID, t.Amount, t.Currency, t.MerchantCategory, t.Decision, t.CardCountry, t.IPCountry)

	b.WriteString("\nPattern scores:\n")
	for _, sc := range st.PatternResults.Scores {
		fmt.Fprintf(&b, "- %s: %.2f\n", sc.PatternName, sc.Score)
	}
	fmt.Fprintf(&b, "Pattern severity: %s (confidence %.2f)\n",
		st.PatternResults.Severity, st.PatternResults.OverallConfidence)

	if st.SimilarityResults != nil {
		fmt.Fprintf(&b, "\nSimilar transactions: %d matches, overall score %.2f",
			len(st.SimilarityResults.Matches), st.SimilarityResults.OverallScore)
		if items := st.SimilarityResults.Matches.CounterEvidenceItems(); len(items) > 0 {
			kinds := make([]string, 0, len(items))
			for _, ce := range items {
				kinds = append(kinds, ce.Kind)
			}
			fmt.Fprintf(&b, "\nCounter-evidence on matches: %s", strings.Join(kinds, ", "))
		}
		b.WriteString("\n")
	}
	if signals := t.CounterSignals(); len(signals) > 0 {
		fmt.Fprintf(&b, "Mitigating signals on this transaction: %s\n", strings.Join(signals, ", "))
	}
	fmt.Fprintf(&b, "Active rule matches: %d\n", ruleMatches)
	b.WriteString("\nAssess the fraud risk.")
	return b.String()
}
