package gateway

import (
	"context"
	"errors"

	"vocalcommit/pkg/config"
	"vocalcommit/pkg/metrics"
)

// ErrNotConfigured is returned by New when the selected backend has no
// credential. Callers fall back to deterministic behavior rather than fail.
var ErrNotConfigured = errors.New("model gateway not configured: missing API key")

// Client generates text for a prompt. Implementations classify failures
// into *Error so callers can distinguish rate limiting from everything else.
type Client interface {
	Generate(ctx context.Context, prompt string) (string, error)
	ModelName() string
}

// New builds the gateway client selected by cfg.Model.Backend.
func New(cfg *config.Config) (Client, error) {
	m := &cfg.Model
	switch m.Backend {
	case config.BackendGemini:
		if m.APIKey == "" {
			return nil, ErrNotConfigured
		}
		return instrument(m.Backend, NewGeminiClient(m.APIKey, m.Name, m.RequestTimeout.Std())), nil
	case config.BackendAnthropic:
		if m.APIKey == "" {
			return nil, ErrNotConfigured
		}
		return instrument(m.Backend, NewAnthropicClient(m.APIKey, m.Name, m.RequestTimeout.Std())), nil
	case config.BackendOpenAI:
		if m.APIKey == "" {
			return nil, ErrNotConfigured
		}
		return instrument(m.Backend, NewOpenAIClient(m.APIKey, m.Name, m.RequestTimeout.Std())), nil
	case config.BackendOllama:
		// Local runtime, no credential required.
		return instrument(m.Backend, NewOllamaClient(m.OllamaHost, m.Name, m.RequestTimeout.Std())), nil
	default:
		return nil, ErrNotConfigured
	}
}

// instrumented counts every call by backend and outcome.
type instrumented struct {
	Client
	backend string
}

func instrument(backend string, c Client) Client {
	return &instrumented{Client: c, backend: backend}
}

func (c *instrumented) Generate(ctx context.Context, prompt string) (string, error) {
	text, err := c.Client.Generate(ctx, prompt)
	outcome := "success"
	if err != nil {
		outcome = KindOf(err).String()
	}
	metrics.GatewayCalls.WithLabelValues(c.backend, outcome).Inc()
	return text, err
}
