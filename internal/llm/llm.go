// Package llm defines the language-model contract used by the planner and
// the reasoning stages. The contract is deliberately text-only: every prompt
// is a single user turn and every answer is parsed from plain text, so the
// rest of the system never depends on a vendor's tool-call or streaming
// surface.
package llm

import "context"

// Provider is the interface for any LLM backend.
type Provider interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Request is one prompt with an optional system preamble.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int64
}

// Response is the model answer with token accounting for cost attribution.
type Response struct {
	Text         string
	StopReason   string
	InputTokens  int64
	OutputTokens int64
	Model        string
}
