package gateway

import (
	"context"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient wraps the official OpenAI Go client.
type OpenAIClient struct {
	client  openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIClient creates an OpenAI gateway client.
func NewOpenAIClient(apiKey, model string, timeout time.Duration) *OpenAIClient {
	return &OpenAIClient{
		client:  openai.NewClient(option.WithAPIKey(apiKey)),
		model:   model,
		timeout: timeout,
	}
}

// Generate implements the Client interface.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return "", Classify(err)
	}
	if completion == nil || len(completion.Choices) == 0 {
		return "", NewError(KindEmptyResponse, "received empty response from OpenAI API")
	}

	text := completion.Choices[0].Message.Content
	if text == "" {
		return "", NewError(KindEmptyResponse, "OpenAI API returned no text content")
	}
	return text, nil
}

// ModelName returns the configured model name.
func (c *OpenAIClient) ModelName() string {
	return c.model
}
