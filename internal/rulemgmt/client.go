// Package rulemgmt talks to the external rule-management system: exporting
// drafted detection rules and checking which existing rules a transaction
// matches. The API is assumed flaky, so every call goes through a circuit
// breaker.
package rulemgmt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/inquest/internal/investigation"
	"github.com/linnemanlabs/inquest/internal/txn"
)

// ErrBreakerOpen marks a call rejected locally because the breaker is open.
var ErrBreakerOpen = errors.New("rulemgmt: circuit breaker open")

const defaultTimeout = 10 * time.Second

// Client is the rule-management HTTP client.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	breaker *Breaker
	logger  log.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.httpc = h } }

// WithBreaker overrides the default breaker.
func WithBreaker(b *Breaker) Option { return func(c *Client) { c.breaker = b } }

// New creates a rule-management client.
func New(baseURL, apiKey string, logger log.Logger, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("rulemgmt: base url is required")
	}
	if logger == nil {
		logger = log.Nop()
	}
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: defaultTimeout},
		breaker: NewBreaker(0, 0),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Breaker exposes the client's breaker for health reporting.
func (c *Client) Breaker() *Breaker { return c.breaker }

type exportRequest struct {
	RuleID    string `json:"rule_id"`
	Name      string `json:"name"`
	Condition string `json:"condition"`
	Severity  string `json:"severity"`
	Source    string `json:"source"`
}

// Export submits a drafted rule. Failures count against the breaker.
func (c *Client) Export(ctx context.Context, draft investigation.RuleDraft) error {
	if !c.breaker.Allow() {
		return ErrBreakerOpen
	}

	body, err := json.Marshal(exportRequest{
		RuleID:    draft.RuleID,
		Name:      draft.Name,
		Condition: draft.Condition,
		Severity:  string(draft.Severity),
		Source:    "inquest",
	})
	if err != nil {
		return fmt.Errorf("rulemgmt: marshal rule: %w", err)
	}

	if err := c.post(ctx, "/rules", body, nil); err != nil {
		c.breaker.Failure()
		return err
	}
	c.breaker.Success()
	return nil
}

type matchRequest struct {
	TransactionID    string  `json:"transaction_id"`
	CardCountry      string  `json:"card_country,omitempty"`
	IPCountry        string  `json:"ip_country,omitempty"`
	MerchantCategory string  `json:"merchant_category,omitempty"`
	Amount           float64 `json:"amount"`
	Decision         string  `json:"decision"`
}

type matchResponse struct {
	Matches int `json:"matches"`
}

// MatchCount asks how many active rules the transaction matches. Failures
// count against the breaker.
func (c *Client) MatchCount(ctx context.Context, t txn.Transaction) (int, error) {
	if !c.breaker.Allow() {
		return 0, ErrBreakerOpen
	}

	body, err := json.Marshal(matchRequest{
		TransactionID:    t.ID,
		CardCountry:      t.CardCountry,
		IPCountry:        t.IPCountry,
		MerchantCategory: t.MerchantCategory,
		Amount:           t.Amount,
		Decision:         string(t.Decision),
	})
	if err != nil {
		return 0, fmt.Errorf("rulemgmt: marshal match request: %w", err)
	}

	var resp matchResponse
	if err := c.post(ctx, "/rules/match", body, &resp); err != nil {
		c.breaker.Failure()
		return 0, err
	}
	c.breaker.Success()
	return resp.Matches, nil
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("rulemgmt: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("rulemgmt: %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("rulemgmt: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("rulemgmt: %s returned %d: %s", path, resp.StatusCode, bytes.TrimSpace(raw))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("rulemgmt: decode response: %w", err)
		}
	}
	return nil
}
