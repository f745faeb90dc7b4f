package patterns

import (
	"math"

	"github.com/linnemanlabs/inquest/internal/txn"
)

// scoreAmount flags round-number amounts, absolute high bands, statistical
// outliers against card history, and spikes over the 24h rolling average.
func (e *Engine) scoreAmount(c *txn.Context) Score {
	amt := c.Transaction.Amount
	details := map[string]any{"amount": amt}
	var score float64

	if hit, threshold := e.roundAmount(amt); hit {
		score = maxf(score, 0.4)
		details["round_threshold"] = threshold
	}

	switch {
	case amt >= e.cfg.HighAmount:
		score = maxf(score, 0.7)
		details["band"] = "high"
	case amt >= e.cfg.ElevatedAmount:
		score = maxf(score, 0.5)
		details["band"] = "elevated"
	}

	// z-score against the card's own history; needs a real distribution.
	if c.Stats.HistCount >= 5 && c.Stats.HistStddevAmount > 0 {
		z := (amt - c.Stats.HistMeanAmount) / c.Stats.HistStddevAmount
		details["z_score"] = round2(z)
		switch {
		case z >= 3:
			score = maxf(score, 0.9)
		case z >= 2:
			score = maxf(score, 0.7)
		}
	}

	if c.Stats.Avg24h > 0 && amt >= 3*c.Stats.Avg24h {
		score = maxf(score, 0.6)
		details["spike_ratio"] = round2(amt / c.Stats.Avg24h)
	}

	return e.newScore(PatternAmount, score, details)
}

// roundAmount reports whether amt sits exactly on a round threshold, or one
// cent below it (the ".99 pricing" evasion, e.g. 99.99 against 100).
func (e *Engine) roundAmount(amt float64) (bool, float64) {
	const eps = 1e-9
	for _, t := range e.cfg.RoundThresholds {
		if math.Abs(amt-t) < eps || math.Abs(amt-(t-0.01)) < eps {
			return true, t
		}
	}
	return false, 0
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
