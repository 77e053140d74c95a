// Package claude implements classify.Provider against the Anthropic API.
package claude

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/linnemanlabs/patrol/internal/classify"
)

// Client sends single-shot scoring requests to the Claude API.
type Client struct {
	sdk   anthropic.Client
	model string
}

// New creates a Claude-backed classifier provider.
func New(apiKey, model string) *Client {
	return &Client{
		sdk:   anthropic.NewClient(option.WithAPIKey(apiKey)),
		model: model,
	}
}

// Send issues one messages request and returns the concatenated text blocks
// of the response. The response schema travels inside the prompt; the caller
// owns parse recovery.
func (c *Client) Send(ctx context.Context, req *classify.Request) (string, error) {
	prompt := promptWithSchema(req)

	msg, err := c.sdk.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(req.MaxTokens),
		System: []anthropic.TextBlockParam{
			{Text: req.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude api: %w", err)
	}

	return textContent(msg), nil
}

// promptWithSchema appends the required response schema to the prompt body.
func promptWithSchema(req *classify.Request) string {
	if len(req.Schema) == 0 {
		return req.Prompt
	}
	return fmt.Sprintf("%s\nRespond with a single JSON object matching this schema:\n%s", req.Prompt, string(req.Schema))
}

// textContent concatenates the text blocks of a response, skipping any other
// block types.
func textContent(msg *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}
