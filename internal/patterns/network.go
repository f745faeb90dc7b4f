package patterns

import "github.com/linnemanlabs/inquest/internal/txn"

// scoreVelocity flags transaction bursts over the 1-hour and 6-hour windows.
// An explicit upstream burst signal counts even when the local counts lag
// (the rails see attempts we never stored).
func (e *Engine) scoreVelocity(c *txn.Context) Score {
	details := map[string]any{
		"count_1h": c.Stats.Count1h,
		"count_6h": c.Stats.Count6h,
	}
	var score float64

	if c.Stats.Count1h >= e.cfg.Velocity1hThreshold {
		score = maxf(score, 0.9)
	}
	if c.Stats.Count6h >= e.cfg.Velocity6hThreshold {
		score = maxf(score, 0.6)
	}
	if c.Signals["burst_1h"] {
		score = maxf(score, 0.8)
		details["burst_signal"] = true
	}

	return e.newScore(PatternVelocity, score, details)
}

// scoreDecline flags an elevated 24-hour decline ratio.
func (e *Engine) scoreDecline(c *txn.Context) Score {
	ratio := c.Stats.DeclineRatio24h
	details := map[string]any{"decline_ratio_24h": round2(ratio)}
	var score float64

	switch {
	case ratio >= e.cfg.DeclineHighRatio:
		score = 0.9
	case ratio >= e.cfg.DeclineMediumRatio:
		score = 0.6
	}

	return e.newScore(PatternDecline, score, details)
}

// scoreCrossMerchant flags a card touching many distinct merchants in 24h.
func (e *Engine) scoreCrossMerchant(c *txn.Context) Score {
	n := c.Stats.UniqueMerchants24h
	details := map[string]any{"unique_merchants_24h": n}
	var score float64

	switch {
	case n >= e.cfg.MerchantsHighCount:
		score = 0.85
	case n >= e.cfg.MerchantsMediumCount:
		score = 0.6
	}

	return e.newScore(PatternCrossMerchant, score, details)
}
