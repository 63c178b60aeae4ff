package editor

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// tokenCounter bounds prompt sizes. All backends are approximated with the
// GPT-4 encoding; the budget is a safety cap, not an exact accounting.
type tokenCounter struct {
	codec tokenizer.Codec
}

func newTokenCounter() (*tokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &tokenCounter{codec: codec}, nil
}

// count returns the token count, falling back to a character-based
// estimate (4 chars per token) when the codec is unavailable.
func (tc *tokenCounter) count(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	n, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// truncate shortens text to roughly fit the token limit. Truncation is
// proportional by characters, not exact token boundaries.
func (tc *tokenCounter) truncate(text string, limit int) string {
	if limit <= 0 {
		return "// ... truncated ..."
	}
	current := tc.count(text)
	if current <= limit {
		return text
	}
	ratio := float64(limit) / float64(current)
	charLimit := int(float64(len(text)) * ratio * 0.9)
	if charLimit >= len(text) {
		return text
	}
	return text[:charLimit] + "\n// ... truncated ..."
}
