// Package slack posts completed high-risk investigations to a Slack
// incoming webhook.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/inquest/internal/investigation"
	"github.com/linnemanlabs/inquest/internal/verdict"
)

const (
	maxNarrativeLen = 3000
	maxRecs         = 5
	httpTimeout     = 10 * time.Second
)

// Notifier implements investigation.Notifier against a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
}

// New creates a Slack notifier. An empty webhook URL makes every call a
// no-op, so callers can wire it unconditionally.
func New(webhookURL string) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
	}
}

// NotifyCompleted posts one message per finished investigation.
func (n *Notifier) NotifyCompleted(ctx context.Context, st *investigation.State) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(st))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

func buildMessage(st *investigation.State) map[string]any {
	blocks := []map[string]any{
		headerBlock(st),
		{"type": "divider"},
		fieldsBlock(st),
	}
	if st.Reasoning != nil {
		blocks = append(blocks, map[string]any{"type": "divider"}, narrativeBlock(st))
	}
	if len(st.Recommendations) > 0 {
		blocks = append(blocks, map[string]any{"type": "divider"}, recommendationsBlock(st))
	}
	blocks = append(blocks, map[string]any{"type": "divider"}, contextBlock(st))
	return map[string]any{"blocks": blocks}
}

func headerBlock(st *investigation.State) map[string]any {
	title := "Investigation Complete"
	if st.Status != investigation.StatusCompleted {
		title = fmt.Sprintf("Investigation %s", st.Status)
	}
	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": fmt.Sprintf("%s %s: transaction %s", severityEmoji(st.Severity), title, st.TransactionID),
		},
	}
}

func fieldsBlock(st *investigation.State) map[string]any {
	fields := []map[string]any{
		{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:* %s", st.Severity)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Confidence:* %.2f", st.ConfidenceScore)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Status:* %s", st.Status)},
		{"type": "mrkdwn", "text": fmt.Sprintf("*Steps:* %d", st.StepCount)},
	}
	if st.Reasoning != nil {
		fields = append(fields,
			map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Resolution:* %s", st.Reasoning.Conflict.ResolutionStrategy)},
			map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Reasoning:* %s", st.Reasoning.GeneratedBy)},
		)
	}
	return map[string]any{"type": "section", "fields": fields}
}

func narrativeBlock(st *investigation.State) map[string]any {
	text := truncate(st.Reasoning.Narrative, maxNarrativeLen)
	if text == "" {
		text = "_No narrative available._"
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": "*Assessment*\n\n" + text,
		},
	}
}

func recommendationsBlock(st *investigation.State) map[string]any {
	var lines []string
	for i, rec := range st.Recommendations {
		if i == maxRecs {
			lines = append(lines, fmt.Sprintf("_…and %d more_", len(st.Recommendations)-maxRecs))
			break
		}
		lines = append(lines, fmt.Sprintf("• *%s* (%s): %s", rec.Type, rec.Priority, rec.Description))
	}
	return map[string]any{
		"type": "section",
		"text": map[string]any{
			"type": "mrkdwn",
			"text": "*Recommended actions*\n" + strings.Join(lines, "\n"),
		},
	}
}

func contextBlock(st *investigation.State) map[string]any {
	ts := st.CompletedAt
	if ts.IsZero() {
		ts = st.StartedAt
	}
	return map[string]any{
		"type": "context",
		"elements": []map[string]any{
			{
				"type": "mrkdwn",
				"text": fmt.Sprintf("inquest • investigation %s • %s", st.InvestigationID, ts.UTC().Format("2006-01-02 15:04 UTC")),
			},
		},
	}
}

func severityEmoji(severity verdict.Severity) string {
	switch severity {
	case verdict.SeverityCritical:
		return "\U0001f534" // red circle
	case verdict.SeverityHigh:
		return "\U0001f7e0" // orange circle
	case verdict.SeverityMedium:
		return "\U0001f7e1" // yellow circle
	default:
		return "\U0001f7e2" // green circle
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
