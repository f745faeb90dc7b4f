package patterns

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/linnemanlabs/inquest/internal/txn"
	"github.com/linnemanlabs/inquest/internal/verdict"
)

var baseTime = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

func quietContext() *txn.Context {
	return &txn.Context{
		Transaction: txn.Transaction{
			ID:           "tx-1",
			CardID:       "card-1",
			MerchantID:   "m-1",
			Amount:       42.17,
			Currency:     "USD",
			Decision:     txn.DecisionApproved,
			CardCountry:  "US",
			IPCountry:    "US",
			Timestamp:    baseTime,
		},
		Stats:   txn.RollingStats{Count24h: 2, Avg24h: 40},
		BuiltAt: baseTime,
	}
}

func TestScore_QuietContextIsLow(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	r := e.Score(quietContext())

	if r.Severity != verdict.SeverityLow {
		t.Errorf("severity = %q, want LOW", r.Severity)
	}
	if len(r.Scores) != 6 {
		t.Fatalf("scores = %d, want 6", len(r.Scores))
	}
	for _, s := range r.Scores {
		if s.Score != 0 {
			t.Errorf("pattern %s score = %v, want 0 on quiet context", s.PatternName, s.Score)
		}
	}
}

func TestScore_Idempotent(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	c := quietContext()
	c.Transaction.Amount = 999.99
	c.Stats = txn.RollingStats{
		Count1h: 9, Count24h: 12, Avg24h: 50, DeclineRatio24h: 0.6,
		UniqueMerchants24h: 6, HistMeanAmount: 40, HistStddevAmount: 15, HistCount: 30,
	}

	first := e.Score(c)
	second := e.Score(c)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Score is not idempotent (-first +second):\n%s", diff)
	}
}

func TestScoreAmount_ZScoreOutlier(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	c := quietContext()
	c.Transaction.Amount = 130
	c.Stats.HistMeanAmount = 40
	c.Stats.HistStddevAmount = 20
	c.Stats.HistCount = 20

	s := e.scoreAmount(c)
	if s.Score != 0.9 {
		t.Errorf("score = %v, want 0.9 for z >= 3", s.Score)
	}

	c.Transaction.Amount = 85 // z = 2.25
	s = e.scoreAmount(c)
	if s.Score != 0.7 {
		t.Errorf("score = %v, want 0.7 for z >= 2", s.Score)
	}
}

func TestScoreAmount_RoundAndNinetyNine(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	c := quietContext()
	c.Stats.Avg24h = 0

	c.Transaction.Amount = 500
	if s := e.scoreAmount(c); s.Score != 0.4 {
		t.Errorf("round 500 score = %v, want 0.4", s.Score)
	}

	c.Transaction.Amount = 99.99 // one cent below the 100 threshold
	if s := e.scoreAmount(c); s.Score != 0.4 {
		t.Errorf("99.99 score = %v, want 0.4", s.Score)
	}
}

func TestScoreAmount_Spike(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	c := quietContext()
	c.Transaction.Amount = 150
	c.Stats.Avg24h = 40

	s := e.scoreAmount(c)
	if s.Score != 0.6 {
		t.Errorf("score = %v, want 0.6 for 3x daily average spike", s.Score)
	}
}

func TestScoreCardTesting_Escalation(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	c := quietContext()
	c.Transaction.Amount = 40
	// History arrives most-recent-first; the detector must re-sort it.
	c.History = []txn.Transaction{
		{ID: "h3", MerchantID: "m-1", Amount: 20, Decision: txn.DecisionApproved, Timestamp: baseTime.Add(-10 * time.Minute)},
		{ID: "h2", MerchantID: "m-1", Amount: 10, Decision: txn.DecisionApproved, Timestamp: baseTime.Add(-20 * time.Minute)},
		{ID: "h1", MerchantID: "m-1", Amount: 5, Decision: txn.DecisionApproved, Timestamp: baseTime.Add(-30 * time.Minute)},
	}

	s := e.scoreCardTesting(c)
	if s.Score != 0.85 {
		t.Errorf("score = %v, want 0.85 for escalation ladder", s.Score)
	}
	if s.Details["escalation"] != true {
		t.Error("expected escalation detail")
	}
}

func TestScoreCardTesting_DeclineRate(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	c := quietContext()
	c.History = []txn.Transaction{
		{ID: "h1", MerchantID: "m-1", Amount: 30, Decision: txn.DecisionDeclined, Timestamp: baseTime.Add(-5 * time.Minute)},
		{ID: "h2", MerchantID: "m-1", Amount: 25, Decision: txn.DecisionDeclined, Timestamp: baseTime.Add(-15 * time.Minute)},
		{ID: "h3", MerchantID: "m-1", Amount: 90, Decision: txn.DecisionApproved, Timestamp: baseTime.Add(-25 * time.Minute)},
	}

	s := e.scoreCardTesting(c)
	if s.Score != 0.8 {
		t.Errorf("score = %v, want 0.8 for >=50%% decline rate", s.Score)
	}
}

func TestScoreCardTesting_SmallProbes(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	c := quietContext()
	c.Transaction.Amount = 2.50
	c.History = []txn.Transaction{
		{ID: "h1", MerchantID: "m-1", Amount: 1.00, Decision: txn.DecisionApproved, Timestamp: baseTime.Add(-5 * time.Minute)},
		{ID: "h2", MerchantID: "m-1", Amount: 1.50, Decision: txn.DecisionApproved, Timestamp: baseTime.Add(-8 * time.Minute)},
	}

	s := e.scoreCardTesting(c)
	if s.Score != 0.75 {
		t.Errorf("score = %v, want 0.75 for small-amount probes", s.Score)
	}
}

func TestScoreCardTesting_OldHistoryIgnored(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	c := quietContext()
	c.History = []txn.Transaction{
		{ID: "h1", MerchantID: "m-2", Amount: 5, Decision: txn.DecisionDeclined, Timestamp: baseTime.Add(-3 * time.Hour)},
		{ID: "h2", MerchantID: "m-3", Amount: 10, Decision: txn.DecisionDeclined, Timestamp: baseTime.Add(-4 * time.Hour)},
	}

	s := e.scoreCardTesting(c)
	if s.Score != 0 {
		t.Errorf("score = %v, want 0 when all history is outside the window", s.Score)
	}
}

func TestScoreTime_GeoMismatch(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	c := quietContext()
	c.Transaction.IPCountry = "RO"
	c.Transaction.CardCountry = "US"

	s := e.scoreTime(c)
	if s.Score != 0.9 {
		t.Errorf("score = %v, want 0.9 for geo mismatch", s.Score)
	}
}

func TestScoreTime_UnusualHourCombos(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	c := quietContext()
	c.Transaction.Timestamp = time.Date(2026, 3, 14, 3, 0, 0, 0, time.UTC)

	s := e.scoreTime(c)
	if s.Score != 0.5 {
		t.Errorf("score = %v, want 0.5 for unusual hour alone", s.Score)
	}

	c.Transaction.MerchantCategory = "gift_cards"
	s = e.scoreTime(c)
	if s.Score != 0.7 {
		t.Errorf("score = %v, want 0.7 for unusual hour + high-risk category", s.Score)
	}
}

func TestScoreTime_UnprecedentedHour(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	c := quietContext()
	c.Transaction.Timestamp = time.Date(2026, 3, 14, 14, 0, 0, 0, time.UTC)
	for i := range 6 {
		c.History = append(c.History, txn.Transaction{
			ID:        "h",
			Timestamp: time.Date(2026, 3, 10, 9+i%2, 0, 0, 0, time.UTC).AddDate(0, 0, -i),
		})
	}

	s := e.scoreTime(c)
	if s.Score != 0.6 {
		t.Errorf("score = %v, want 0.6 for unprecedented hour", s.Score)
	}
}

func TestScoreVelocity(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	c := quietContext()

	c.Stats.Count1h = 9
	if s := e.scoreVelocity(c); s.Score != 0.9 {
		t.Errorf("score = %v, want 0.9 over the 1h threshold", s.Score)
	}

	c.Stats.Count1h = 0
	c.Stats.Count6h = 25
	if s := e.scoreVelocity(c); s.Score != 0.6 {
		t.Errorf("score = %v, want 0.6 over the 6h threshold", s.Score)
	}

	c.Stats.Count6h = 0
	c.Signals = map[string]bool{"burst_1h": true}
	if s := e.scoreVelocity(c); s.Score != 0.8 {
		t.Errorf("score = %v, want 0.8 on upstream burst signal", s.Score)
	}
}

func TestScoreDeclineAndCrossMerchant(t *testing.T) {
	t.Parallel()

	e := NewEngine(nil)
	c := quietContext()

	c.Stats.DeclineRatio24h = 0.55
	if s := e.scoreDecline(c); s.Score != 0.9 {
		t.Errorf("decline score = %v, want 0.9", s.Score)
	}
	c.Stats.DeclineRatio24h = 0.35
	if s := e.scoreDecline(c); s.Score != 0.6 {
		t.Errorf("decline score = %v, want 0.6", s.Score)
	}

	c.Stats.UniqueMerchants24h = 9
	if s := e.scoreCrossMerchant(c); s.Score != 0.85 {
		t.Errorf("cross-merchant score = %v, want 0.85", s.Score)
	}
	c.Stats.UniqueMerchants24h = 5
	if s := e.scoreCrossMerchant(c); s.Score != 0.6 {
		t.Errorf("cross-merchant score = %v, want 0.6", s.Score)
	}
}

func TestResult_Accessors(t *testing.T) {
	t.Parallel()

	r := &Result{Scores: []Score{
		{PatternName: PatternVelocity, Score: 0.4},
		{PatternName: PatternDecline, Score: 0.7},
	}}

	if got := r.ScoreByName(PatternDecline); got != 0.7 {
		t.Errorf("ScoreByName = %v, want 0.7", got)
	}
	if got := r.ScoreByName("nonexistent"); got != 0 {
		t.Errorf("ScoreByName(missing) = %v, want 0", got)
	}
	if got := r.MaxScore(); got != 0.7 {
		t.Errorf("MaxScore = %v, want 0.7", got)
	}
}
