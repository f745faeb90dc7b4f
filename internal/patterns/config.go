package patterns

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Pattern names. The four "network" patterns describe coordinated abuse and
// get special treatment in severity aggregation.
const (
	PatternAmount        = "amount_anomaly"
	PatternCardTesting   = "card_testing"
	PatternTime          = "time_anomaly"
	PatternVelocity      = "velocity"
	PatternDecline       = "decline_anomaly"
	PatternCrossMerchant = "cross_merchant"
)

// NetworkPatterns are the detectors whose co-occurrence indicates organized
// fraud rather than a one-off anomaly.
var NetworkPatterns = []string{PatternVelocity, PatternDecline, PatternCrossMerchant, PatternCardTesting}

// Config carries the fixed per-pattern weights and detector thresholds.
// Defaults are tuned against labeled chargeback data; operators can override
// individual values from a YAML file.
type Config struct {
	Weights map[string]float64 `yaml:"weights"`

	// Amount detector.
	RoundThresholds []float64 `yaml:"round_thresholds"`
	HighAmount      float64   `yaml:"high_amount"`
	ElevatedAmount  float64   `yaml:"elevated_amount"`

	// Card-testing detector.
	TestingWindowMinutes int     `yaml:"testing_window_minutes"`
	SmallAmountMax       float64 `yaml:"small_amount_max"`

	// Time detector.
	UnusualHours       []int    `yaml:"unusual_hours"`
	HighRiskCategories []string `yaml:"high_risk_categories"`

	// Velocity detector.
	Velocity1hThreshold int `yaml:"velocity_1h_threshold"`
	Velocity6hThreshold int `yaml:"velocity_6h_threshold"`

	// Decline detector.
	DeclineHighRatio   float64 `yaml:"decline_high_ratio"`
	DeclineMediumRatio float64 `yaml:"decline_medium_ratio"`

	// Cross-merchant detector.
	MerchantsHighCount   int `yaml:"merchants_high_count"`
	MerchantsMediumCount int `yaml:"merchants_medium_count"`
}

// DefaultConfig returns the built-in weights and thresholds.
func DefaultConfig() *Config {
	return &Config{
		Weights: map[string]float64{
			PatternAmount:        0.25,
			PatternCardTesting:   0.35,
			PatternTime:          0.20,
			PatternVelocity:      0.40,
			PatternDecline:       0.30,
			PatternCrossMerchant: 0.25,
		},
		RoundThresholds:      []float64{50, 100, 200, 500, 1000, 2000, 5000},
		HighAmount:           2000,
		ElevatedAmount:       1000,
		TestingWindowMinutes: 60,
		SmallAmountMax:       10,
		UnusualHours:         []int{0, 1, 2, 3, 4, 5},
		HighRiskCategories:   []string{"gambling", "crypto", "gift_cards", "money_transfer"},
		Velocity1hThreshold:  8,
		Velocity6hThreshold:  20,
		DeclineHighRatio:     0.5,
		DeclineMediumRatio:   0.3,
		MerchantsHighCount:   8,
		MerchantsMediumCount: 5,
	}
}

// LoadConfig reads a YAML override file on top of the defaults. Only keys
// present in the file replace the defaults; weights merge per pattern.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	raw, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator config, not user input
	if err != nil {
		return nil, fmt.Errorf("read pattern config: %w", err)
	}

	var overlay Config
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return nil, fmt.Errorf("parse pattern config %s: %w", path, err)
	}

	cfg.apply(&overlay)
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("pattern config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) apply(o *Config) {
	for name, w := range o.Weights {
		c.Weights[name] = w
	}
	if len(o.RoundThresholds) > 0 {
		c.RoundThresholds = o.RoundThresholds
	}
	if o.HighAmount > 0 {
		c.HighAmount = o.HighAmount
	}
	if o.ElevatedAmount > 0 {
		c.ElevatedAmount = o.ElevatedAmount
	}
	if o.TestingWindowMinutes > 0 {
		c.TestingWindowMinutes = o.TestingWindowMinutes
	}
	if o.SmallAmountMax > 0 {
		c.SmallAmountMax = o.SmallAmountMax
	}
	if len(o.UnusualHours) > 0 {
		c.UnusualHours = o.UnusualHours
	}
	if len(o.HighRiskCategories) > 0 {
		c.HighRiskCategories = o.HighRiskCategories
	}
	if o.Velocity1hThreshold > 0 {
		c.Velocity1hThreshold = o.Velocity1hThreshold
	}
	if o.Velocity6hThreshold > 0 {
		c.Velocity6hThreshold = o.Velocity6hThreshold
	}
	if o.DeclineHighRatio > 0 {
		c.DeclineHighRatio = o.DeclineHighRatio
	}
	if o.DeclineMediumRatio > 0 {
		c.DeclineMediumRatio = o.DeclineMediumRatio
	}
	if o.MerchantsHighCount > 0 {
		c.MerchantsHighCount = o.MerchantsHighCount
	}
	if o.MerchantsMediumCount > 0 {
		c.MerchantsMediumCount = o.MerchantsMediumCount
	}
}

func (c *Config) validate() error {
	for name, w := range c.Weights {
		if w <= 0 || w > 1 {
			return fmt.Errorf("weight for %s must be in (0,1], got %v", name, w)
		}
	}
	for _, h := range c.UnusualHours {
		if h < 0 || h > 23 {
			return fmt.Errorf("unusual hour %d out of range", h)
		}
	}
	if c.DeclineMediumRatio >= c.DeclineHighRatio {
		return fmt.Errorf("decline_medium_ratio %v must be below decline_high_ratio %v", c.DeclineMediumRatio, c.DeclineHighRatio)
	}
	if c.MerchantsMediumCount >= c.MerchantsHighCount {
		return fmt.Errorf("merchants_medium_count %d must be below merchants_high_count %d", c.MerchantsMediumCount, c.MerchantsHighCount)
	}
	return nil
}
