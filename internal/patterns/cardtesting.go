package patterns

import (
	"sort"
	"time"

	"github.com/linnemanlabs/inquest/internal/txn"
)

// scoreCardTesting inspects the card's trailing 60-minute window for the
// classic testing signatures: an escalating amount ladder, a high decline
// rate, merchant hopping, and clusters of small probe amounts.
func (e *Engine) scoreCardTesting(c *txn.Context) Score {
	window := e.testingWindow(c)
	details := map[string]any{"window_size": len(window)}
	var score float64

	if len(window) >= 2 {
		if escalating(window) {
			score = maxf(score, 0.85)
			details["escalation"] = true
		}

		var declined int
		for _, t := range window {
			if t.Decision == txn.DecisionDeclined {
				declined++
			}
		}
		rate := float64(declined) / float64(len(window))
		details["decline_rate"] = round2(rate)
		if rate >= 0.5 {
			score = maxf(score, 0.8)
		}
	}

	merchants := map[string]struct{}{}
	for _, t := range window {
		merchants[t.MerchantID] = struct{}{}
	}
	details["merchants_touched"] = len(merchants)
	if len(merchants) >= 3 {
		score = maxf(score, 0.7)
	}

	if c.Transaction.Amount < e.cfg.SmallAmountMax {
		var smalls int
		for _, t := range window {
			if t.Amount < e.cfg.SmallAmountMax {
				smalls++
			}
		}
		details["small_amounts"] = smalls
		if smalls >= 2 {
			score = maxf(score, 0.75)
		}
	}

	return e.newScore(PatternCardTesting, score, details)
}

// testingWindow returns the card's history inside the trailing window,
// oldest first. History arrives most-recent-first and may carry amounts in
// any order, so the window is re-sorted chronologically.
func (e *Engine) testingWindow(c *txn.Context) []txn.Transaction {
	cutoff := c.Transaction.Timestamp.Add(-time.Duration(e.cfg.TestingWindowMinutes) * time.Minute)
	var window []txn.Transaction
	for _, t := range c.History {
		if t.Timestamp.After(cutoff) && !t.Timestamp.After(c.Transaction.Timestamp) {
			window = append(window, t)
		}
	}
	sort.Slice(window, func(i, j int) bool {
		return window[i].Timestamp.Before(window[j].Timestamp)
	})
	return window
}

// escalating reports a strictly increasing amount ladder whose final rung is
// at least twice the first. Needs at least three rungs to call it a ladder.
func escalating(window []txn.Transaction) bool {
	if len(window) < 3 {
		return false
	}
	for i := 1; i < len(window); i++ {
		if window[i].Amount <= window[i-1].Amount {
			return false
		}
	}
	first, last := window[0].Amount, window[len(window)-1].Amount
	return first > 0 && last >= 2*first
}
