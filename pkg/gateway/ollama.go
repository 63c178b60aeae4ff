package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// OllamaClient wraps the Ollama API client. Ollama is a local LLM runtime,
// useful when no hosted-API credential is available.
type OllamaClient struct {
	client  *api.Client
	model   string
	timeout time.Duration
}

// NewOllamaClient creates an Ollama gateway client for the given server URL
// (e.g. "http://localhost:11434").
func NewOllamaClient(hostURL, model string, timeout time.Duration) *OllamaClient {
	parsedURL, err := url.Parse(hostURL)
	if err != nil {
		// Fall back to the default if the URL is invalid.
		parsedURL, _ = url.Parse("http://localhost:11434")
	}

	return &OllamaClient{
		client:  api.NewClient(parsedURL, http.DefaultClient),
		model:   model,
		timeout: timeout,
	}
}

// Generate implements the Client interface.
func (o *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	stream := false
	req := &api.GenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: &stream,
	}

	var sb strings.Builder
	err := o.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return "", Classify(err)
	}

	text := sb.String()
	if text == "" {
		return "", NewError(KindEmptyResponse, "Ollama returned no text content")
	}
	return text, nil
}

// ModelName returns the configured model name.
func (o *OllamaClient) ModelName() string {
	return o.model
}
