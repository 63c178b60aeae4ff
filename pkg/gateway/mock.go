package gateway

import (
	"context"
	"fmt"
	"sync"
)

// MockClient provides a controllable Client implementation for testing.
// Responses and errors are consumed in order; a GenerateFunc overrides both.
type MockClient struct {
	GenerateFunc func(ctx context.Context, prompt string) (string, error)

	mu            sync.Mutex
	responses     []string
	responseIndex int
	errors        []error
	errorIndex    int
	Prompts       []string
}

// NewMockClient creates a mock client with predefined responses and errors.
func NewMockClient(responses []string, errs []error) *MockClient {
	return &MockClient{
		responses: responses,
		errors:    errs,
	}
}

// Generate returns the next predefined response or error.
func (m *MockClient) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.Prompts = append(m.Prompts, prompt)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.errorIndex < len(m.errors) {
		err := m.errors[m.errorIndex]
		m.errorIndex++
		if err != nil {
			return "", err
		}
	}

	if m.responseIndex >= len(m.responses) {
		return "", fmt.Errorf("mock client: no more responses")
	}

	resp := m.responses[m.responseIndex]
	m.responseIndex++
	return resp, nil
}

// ModelName identifies the mock in logs.
func (m *MockClient) ModelName() string {
	return "mock"
}
