package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/genai"
)

// GeminiClient wraps the Google GenAI client. This is the primary backend;
// the free tier's small per-minute quota is why the limiter exists.
type GeminiClient struct {
	apiKey  string
	model   string
	timeout time.Duration

	mu     sync.Mutex
	client *genai.Client
}

// NewGeminiClient creates a Gemini gateway client. The underlying SDK client
// needs a context, so it is created lazily on first use.
func NewGeminiClient(apiKey, model string, timeout time.Duration) *GeminiClient {
	return &GeminiClient{
		apiKey:  apiKey,
		model:   model,
		timeout: timeout,
	}
}

func (g *GeminiClient) ensureClient(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, NewErrorWithCause(KindAuth, err, fmt.Sprintf("failed to create Gemini client: %v", err))
	}
	g.client = client
	return client, nil
}

// Generate implements the Client interface.
func (g *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	client, err := g.ensureClient(ctx)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: prompt}}},
	}

	result, err := client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", Classify(err)
	}
	if result == nil {
		return "", NewError(KindEmptyResponse, "empty response from Gemini API")
	}

	text := result.Text()
	if text == "" {
		return "", NewError(KindEmptyResponse, "Gemini API returned no text content")
	}
	return text, nil
}

// ModelName returns the configured model name.
func (g *GeminiClient) ModelName() string {
	return g.model
}
