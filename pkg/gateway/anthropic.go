package gateway

import (
	"context"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxTokens = 8192

// AnthropicClient wraps the Anthropic API client.
type AnthropicClient struct {
	client  anthropic.Client
	model   anthropic.Model
	timeout time.Duration
}

// NewAnthropicClient creates a Claude gateway client.
func NewAnthropicClient(apiKey, model string, timeout time.Duration) *AnthropicClient {
	return &AnthropicClient{
		client:  anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:   anthropic.Model(model),
		timeout: timeout,
	}
}

// Generate implements the Client interface.
func (c *AnthropicClient) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: anthropicMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", Classify(err)
	}
	if resp == nil || len(resp.Content) == 0 {
		return "", NewError(KindEmptyResponse, "received empty response from Claude API")
	}

	var text string
	for i := range resp.Content {
		block := &resp.Content[i]
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}
	if text == "" {
		return "", NewError(KindEmptyResponse, "Claude API returned no text content")
	}
	return text, nil
}

// ModelName returns the configured model name.
func (c *AnthropicClient) ModelName() string {
	return string(c.model)
}
