package patterns

import (
	"strings"

	"github.com/linnemanlabs/inquest/internal/txn"
)

// scoreTime flags unusual-hour activity, risky category/hour combinations,
// IP-vs-card country mismatches, and hours unprecedented for the cardholder.
func (e *Engine) scoreTime(c *txn.Context) Score {
	hour := c.Transaction.Timestamp.UTC().Hour()
	details := map[string]any{"hour": hour}
	var score float64

	unusual := e.unusualHour(hour)
	if unusual {
		score = maxf(score, 0.5)
		details["unusual_hour"] = true
	}

	if unusual && e.highRiskCategory(c.Transaction.MerchantCategory) {
		score = maxf(score, 0.7)
		details["high_risk_category"] = c.Transaction.MerchantCategory
	}

	// Country mismatch between the IP and the issuing card is the strongest
	// single time/geo signal.
	if c.Transaction.IPCountry != "" && c.Transaction.CardCountry != "" &&
		!strings.EqualFold(c.Transaction.IPCountry, c.Transaction.CardCountry) {
		score = maxf(score, 0.9)
		details["geo_mismatch"] = c.Transaction.IPCountry + "/" + c.Transaction.CardCountry
	}

	// Unprecedented hour for this specific cardholder. Only meaningful with
	// enough history to know their habits.
	if len(c.History) >= 5 {
		seen := false
		for _, t := range c.History {
			if t.Timestamp.UTC().Hour() == hour {
				seen = true
				break
			}
		}
		if !seen {
			score = maxf(score, 0.6)
			details["unprecedented_hour"] = true
		}
	}

	return e.newScore(PatternTime, score, details)
}

func (e *Engine) unusualHour(hour int) bool {
	for _, h := range e.cfg.UnusualHours {
		if h == hour {
			return true
		}
	}
	return false
}

func (e *Engine) highRiskCategory(category string) bool {
	for _, c := range e.cfg.HighRiskCategories {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}
