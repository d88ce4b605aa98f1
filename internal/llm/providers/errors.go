// Package providers implements llm.Provider for the supported LLM backends:
// OpenAI-compatible endpoints, Anthropic, and local Ollama instances.
package providers

import (
	"fmt"
	"strings"
)

// FailureReason categorizes why a provider request failed, driving the
// per-provider retry loops.
type FailureReason string

const (
	// FailureRateLimit indicates rate limiting (HTTP 429).
	FailureRateLimit FailureReason = "rate_limit"

	// FailureTimeout indicates the request or stream timed out.
	FailureTimeout FailureReason = "timeout"

	// FailureServerError indicates a server-side issue (HTTP 5xx).
	FailureServerError FailureReason = "server_error"

	// FailureAuth indicates an authentication failure (HTTP 401, 403).
	FailureAuth FailureReason = "auth"

	// FailureInvalidRequest indicates a client-side issue (HTTP 400).
	FailureInvalidRequest FailureReason = "invalid_request"

	// FailureUnknown indicates an unclassified error.
	FailureUnknown FailureReason = "unknown"
)

// IsRetryable returns true if the reason suggests retrying may succeed.
func (r FailureReason) IsRetryable() bool {
	switch r {
	case FailureRateLimit, FailureTimeout, FailureServerError:
		return true
	default:
		return false
	}
}

// ProviderError is a structured error from an LLM provider with enough
// context for retry decisions and debugging.
type ProviderError struct {
	Reason   FailureReason
	Provider string
	Model    string
	Status   int
	Cause    error
}

func (e *ProviderError) Error() string {
	parts := []string{fmt.Sprintf("[%s]", e.Reason)}
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *ProviderError) Unwrap() error { return e.Cause }

// wrapError builds a classified ProviderError around cause.
func wrapError(provider, model string, cause error) *ProviderError {
	return &ProviderError{
		Reason:   ClassifyError(cause),
		Provider: provider,
		Model:    model,
		Cause:    cause,
	}
}

// ClassifyError inspects an error's text and returns a FailureReason.
// Provider SDKs do not share a common error type, so classification is
// necessarily string based.
func ClassifyError(err error) FailureReason {
	if err == nil {
		return FailureUnknown
	}
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline exceeded"),
		strings.Contains(msg, "context canceled"):
		return FailureTimeout
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "429"):
		return FailureRateLimit
	case strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "invalid api key"),
		strings.Contains(msg, "authentication"),
		strings.Contains(msg, "401"),
		strings.Contains(msg, "403"):
		return FailureAuth
	case strings.Contains(msg, "500"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "504"),
		strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "internal server"):
		return FailureServerError
	case strings.Contains(msg, "400"),
		strings.Contains(msg, "invalid request"),
		strings.Contains(msg, "bad request"):
		return FailureInvalidRequest
	default:
		return FailureUnknown
	}
}

// classifyStatus maps an HTTP status code to a FailureReason.
func classifyStatus(status int) FailureReason {
	switch {
	case status == 429:
		return FailureRateLimit
	case status == 401 || status == 403:
		return FailureAuth
	case status == 400:
		return FailureInvalidRequest
	case status >= 500:
		return FailureServerError
	default:
		return FailureUnknown
	}
}
