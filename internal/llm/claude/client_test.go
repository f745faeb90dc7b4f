package claude

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/linnemanlabs/inquest/internal/llm"
)

func TestToSDKParams_PromptAndSystem(t *testing.T) {
	t.Parallel()

	params := toSDKParams("claude-test", 2048, llm.Request{
		System: "you are a fraud analyst",
		Prompt: "assess this transaction",
	})

	if len(params.Messages) != 1 {
		t.Fatalf("messages len = %d, want 1", len(params.Messages))
	}
	if params.Messages[0].Role != "user" {
		t.Errorf("role = %q, want %q", params.Messages[0].Role, "user")
	}
	block := params.Messages[0].Content[0]
	if block.OfText == nil {
		t.Fatal("expected OfText to be set")
	}
	if block.OfText.Text != "assess this transaction" {
		t.Errorf("text = %q", block.OfText.Text)
	}
	if len(params.System) != 1 || params.System[0].Text != "you are a fraud analyst" {
		t.Errorf("system = %+v", params.System)
	}
	if params.MaxTokens != 2048 {
		t.Errorf("max tokens = %d, want default 2048", params.MaxTokens)
	}
}

func TestToSDKParams_MaxTokensOverride(t *testing.T) {
	t.Parallel()

	params := toSDKParams("claude-test", 2048, llm.Request{Prompt: "x", MaxTokens: 512})
	if params.MaxTokens != 512 {
		t.Errorf("max tokens = %d, want 512", params.MaxTokens)
	}
	if len(params.System) != 0 {
		t.Errorf("system = %+v, want empty", params.System)
	}
}

func TestFromSDKResponse_TextContent(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "risk assessment: "},
			{Type: "text", Text: "elevated"},
		},
		StopReason: anthropic.StopReasonEndTurn,
		Usage:      anthropic.Usage{InputTokens: 100, OutputTokens: 50},
	}

	result := fromSDKResponse(msg)

	if result.Text != "risk assessment: elevated" {
		t.Errorf("text = %q", result.Text)
	}
	if result.StopReason != string(anthropic.StopReasonEndTurn) {
		t.Errorf("stop reason = %q", result.StopReason)
	}
}

func TestFromSDKResponse_IgnoresNonText(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "tool_use", ID: "tu-1", Name: "something"},
			{Type: "text", Text: "answer"},
		},
		StopReason: anthropic.StopReasonEndTurn,
	}

	if got := fromSDKResponse(msg).Text; got != "answer" {
		t.Errorf("text = %q, want non-text blocks ignored", got)
	}
}

func TestFromSDKResponse_Usage(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		StopReason: anthropic.StopReasonEndTurn,
		Usage:      anthropic.Usage{InputTokens: 1234, OutputTokens: 567},
	}

	result := fromSDKResponse(msg)

	if result.InputTokens != 1234 {
		t.Errorf("input tokens = %d, want 1234", result.InputTokens)
	}
	if result.OutputTokens != 567 {
		t.Errorf("output tokens = %d, want 567", result.OutputTokens)
	}
}
