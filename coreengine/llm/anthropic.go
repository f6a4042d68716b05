// Package llm provides the completion-service adapter backing both
// routing classification and expert answers.
package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"expertmesh/coreengine/agents"
	"expertmesh/coreengine/observability"
)

// ClientConfig contains configuration for creating a new Client.
type ClientConfig struct {
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY env var.
	APIKey string
}

// Client adapts the Anthropic SDK to the agents.CompletionClient
// contract.
type Client struct {
	inner anthropic.Client
}

// NewClient creates a completion client.
func NewClient(cfg ClientConfig) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}

	return &Client{
		inner: anthropic.NewClient(option.WithAPIKey(apiKey)),
	}, nil
}

// Complete implements agents.CompletionClient. System-role messages
// become the request's system blocks; user and assistant turns are sent
// as conversation messages in order.
func (c *Client) Complete(ctx context.Context, req agents.CompletionRequest) (string, error) {
	var system []anthropic.TextBlockParam
	var messages []anthropic.MessageParam

	for _, m := range req.Messages {
		switch m.Role {
		case agents.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case agents.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
		System:    system,
		Messages:  messages,
	}
	if req.Temperature >= 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	startTime := time.Now()
	resp, err := c.inner.Messages.New(ctx, params)
	durationMS := int(time.Since(startTime).Milliseconds())

	if err != nil {
		observability.RecordCompletionCall(req.Model, "error", durationMS)
		return "", fmt.Errorf("completion call: %w", err)
	}
	observability.RecordCompletionCall(req.Model, "success", durationMS)

	var out strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			out.WriteString(variant.Text)
		}
	}
	return out.String(), nil
}

// Ensure Client implements the contract.
var _ agents.CompletionClient = (*Client)(nil)
