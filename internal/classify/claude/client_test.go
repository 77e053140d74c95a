package claude

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/linnemanlabs/patrol/internal/classify"
)

func TestPromptWithSchema(t *testing.T) {
	t.Parallel()

	req := &classify.Request{
		Prompt: "score this edit",
		Schema: json.RawMessage(`{"type":"object"}`),
	}

	got := promptWithSchema(req)
	if !strings.HasPrefix(got, "score this edit") {
		t.Errorf("prompt body missing, got %q", got)
	}
	if !strings.Contains(got, `{"type":"object"}`) {
		t.Errorf("schema missing from prompt, got %q", got)
	}
}

func TestPromptWithSchema_NoSchema(t *testing.T) {
	t.Parallel()

	req := &classify.Request{Prompt: "just the prompt"}
	if got := promptWithSchema(req); got != "just the prompt" {
		t.Errorf("got %q, want prompt unchanged", got)
	}
}

func TestTextContent(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: `{"has_issues":`},
			{Type: "tool_use", ID: "tu-1"},
			{Type: "text", Text: ` false}`},
		},
		StopReason: anthropic.StopReasonEndTurn,
	}

	got := textContent(msg)
	want := `{"has_issues": false}`
	if got != want {
		t.Errorf("textContent = %q, want %q", got, want)
	}
}

func TestTextContent_Empty(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{StopReason: anthropic.StopReasonEndTurn}
	if got := textContent(msg); got != "" {
		t.Errorf("textContent = %q, want empty", got)
	}
}
