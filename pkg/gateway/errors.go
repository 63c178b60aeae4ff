// Package gateway wraps generative-text backends behind a single client
// interface with classified errors.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Kind categorizes gateway failures for the caller's handling policy.
type Kind int8

const (
	// KindRateLimit represents rate limiting (429, quota or resource
	// exhaustion). Operator-actionable: rotate the credential or wait.
	KindRateLimit Kind = iota
	// KindAuth represents authentication failures (401/403, bad API key).
	KindAuth
	// KindTransient represents transient failures (5xx, EOF, connection
	// reset, timeout).
	KindTransient
	// KindBadPrompt represents malformed requests (too long, rejected).
	KindBadPrompt
	// KindEmptyResponse represents HTTP 200 with no content.
	KindEmptyResponse
	// KindUnknown is the default for unclassified failures.
	KindUnknown
)

// String returns the machine-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindRateLimit:
		return "rate_limit"
	case KindAuth:
		return "auth"
	case KindTransient:
		return "transient"
	case KindBadPrompt:
		return "bad_prompt"
	case KindEmptyResponse:
		return "empty_response"
	case KindUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Error is a classified gateway failure.
type Error struct {
	Err        error
	Message    string
	Kind       Kind
	StatusCode int
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway error (%s): %s", e.Kind.String(), e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("gateway error (%s): %v", e.Kind.String(), e.Err)
	}
	return fmt.Sprintf("gateway error (%s): status %d", e.Kind.String(), e.StatusCode)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a classified gateway error.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// NewErrorWithCause creates a classified gateway error wrapping another error.
func NewErrorWithCause(kind Kind, cause error, message string) *Error {
	return &Error{Kind: kind, Err: cause, Message: message}
}

// Is reports whether err is a gateway error of the given kind.
func Is(err error, kind Kind) bool {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind == kind
	}
	return false
}

// IsRateLimit reports whether err is a rate-limit/quota failure. These must
// surface to the operator rather than disappear into retries or fallbacks.
func IsRateLimit(err error) bool {
	return Is(err, KindRateLimit)
}

// KindOf returns the kind of err, or KindUnknown for unclassified errors.
func KindOf(err error) Kind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return KindUnknown
}

var statusCodeRe = regexp.MustCompile(`\b([45]\d{2})\b`)

// extractStatusCode pulls an HTTP status code out of an SDK error string.
// Returns 0 when none is present.
func extractStatusCode(errStr string) int {
	match := statusCodeRe.FindStringSubmatch(errStr)
	if match == nil {
		return 0
	}
	code, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}
	return code
}

// Classify maps a raw SDK/transport error to a classified gateway error.
// SDKs report failures inconsistently, so this falls back from status codes
// to text patterns.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}

	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewErrorWithCause(KindTransient, err, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return NewErrorWithCause(KindTransient, err, "request canceled")
	}

	errStr := err.Error()
	switch extractStatusCode(errStr) {
	case 401:
		return &Error{Kind: KindAuth, StatusCode: 401, Err: err, Message: "authentication failed - check API key"}
	case 403:
		return &Error{Kind: KindAuth, StatusCode: 403, Err: err, Message: "permission denied - check API access"}
	case 429:
		return &Error{Kind: KindRateLimit, StatusCode: 429, Err: err, Message: "rate limit exceeded"}
	case 400:
		return &Error{Kind: KindBadPrompt, StatusCode: 400, Err: err, Message: "bad request - check prompt format"}
	case 500, 502, 503, 504:
		return NewErrorWithCause(KindTransient, err, "server error")
	}

	lower := strings.ToLower(errStr)

	// Quota exhaustion shows up as text, not a status, on some backends.
	if strings.Contains(lower, "resource exhausted") ||
		strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "quota") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests") {
		return NewErrorWithCause(KindRateLimit, err, "rate limiting detected")
	}

	if strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "connection") ||
		strings.Contains(lower, "network") ||
		strings.Contains(lower, "temporary") ||
		strings.Contains(lower, "eof") ||
		strings.Contains(lower, "reset") {
		return NewErrorWithCause(KindTransient, err, "network or connection error")
	}

	if strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "api key") ||
		strings.Contains(lower, "auth") {
		return NewErrorWithCause(KindAuth, err, "authentication error")
	}

	return NewErrorWithCause(KindUnknown, err, "unclassified gateway error")
}
