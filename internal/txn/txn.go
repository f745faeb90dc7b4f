// Package txn defines the canonical transaction representation consumed by
// every analysis stage. The context provider normalizes whatever the upstream
// payment rails produce into these structs once, at the boundary, so no
// downstream component needs to inspect payload shapes.
package txn

import "time"

// Decision is the authorization outcome recorded for a transaction.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDeclined Decision = "declined"
	DecisionPending  Decision = "pending"
)

// Transaction is one payment transaction with the attributes the fraud
// detectors and similarity engine need. Amounts are in the minor-unit-free
// currency value (e.g. 49.99 USD).
type Transaction struct {
	ID               string    `json:"id"`
	CardID           string    `json:"card_id"`
	MerchantID       string    `json:"merchant_id"`
	MerchantName     string    `json:"merchant_name,omitempty"`
	MerchantCategory string    `json:"merchant_category,omitempty"`
	Amount           float64   `json:"amount"`
	Currency         string    `json:"currency"`
	Decision         Decision  `json:"decision"`
	CardCountry      string    `json:"card_country,omitempty"`
	IPCountry        string    `json:"ip_country,omitempty"`
	DeviceID         string    `json:"device_id,omitempty"`
	Timestamp        time.Time `json:"timestamp"`

	// Mitigating signals captured at authorization time. These feed the
	// counter-evidence extraction in the similarity engine.
	ThreeDSSuccess    bool `json:"three_ds_success,omitempty"`
	DeviceTrusted     bool `json:"device_trusted,omitempty"`
	AVSMatch          bool `json:"avs_match,omitempty"`
	CVVMatch          bool `json:"cvv_match,omitempty"`
	Tokenized         bool `json:"tokenized,omitempty"`
	RecurringCustomer bool `json:"recurring_customer,omitempty"`
	CardholderPresent bool `json:"cardholder_present,omitempty"`
	KnownMerchant     bool `json:"known_merchant,omitempty"`
}

// RollingStats holds the windowed aggregates the pattern detectors score
// against. Computed by the context provider from card history.
type RollingStats struct {
	Count1h            int     `json:"count_1h"`
	Count6h            int     `json:"count_6h"`
	Count24h           int     `json:"count_24h"`
	Avg24h             float64 `json:"avg_24h"`
	DeclineRatio24h    float64 `json:"decline_ratio_24h"`
	UniqueMerchants24h int     `json:"unique_merchants_24h"`
	HistMeanAmount     float64 `json:"hist_mean_amount"`
	HistStddevAmount   float64 `json:"hist_stddev_amount"`
	HistCount          int     `json:"hist_count"`
}

// Context is the full evidence snapshot for one investigation: the transaction
// under review, the card's recent history, rolling aggregates, and derived
// boolean signals. Once built it is treated as immutable by every stage.
type Context struct {
	Transaction Transaction     `json:"transaction"`
	History     []Transaction   `json:"history"` // most recent first
	Stats       RollingStats    `json:"stats"`
	Signals     map[string]bool `json:"signals,omitempty"`
	BuiltAt     time.Time       `json:"built_at"`
}

// Clone returns a deep copy. History and Signals are the only reference
// fields; everything else is value-typed.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	cp := *c
	cp.History = make([]Transaction, len(c.History))
	copy(cp.History, c.History)
	if c.Signals != nil {
		cp.Signals = make(map[string]bool, len(c.Signals))
		for k, v := range c.Signals {
			cp.Signals[k] = v
		}
	}
	return &cp
}

// CounterSignalKinds enumerates the recognized mitigating signal kinds, in
// the order they are reported.
var CounterSignalKinds = []string{
	"three_ds_success",
	"device_trusted",
	"avs_match",
	"cvv_match",
	"tokenized",
	"recurring_customer",
	"cardholder_present",
	"known_merchant",
}

// CounterSignals returns the mitigating signal kinds present on t.
func (t *Transaction) CounterSignals() []string {
	var out []string
	flags := []struct {
		kind string
		set  bool
	}{
		{"three_ds_success", t.ThreeDSSuccess},
		{"device_trusted", t.DeviceTrusted},
		{"avs_match", t.AVSMatch},
		{"cvv_match", t.CVVMatch},
		{"tokenized", t.Tokenized},
		{"recurring_customer", t.RecurringCustomer},
		{"cardholder_present", t.CardholderPresent},
		{"known_merchant", t.KnownMerchant},
	}
	for _, f := range flags {
		if f.set {
			out = append(out, f.kind)
		}
	}
	return out
}
