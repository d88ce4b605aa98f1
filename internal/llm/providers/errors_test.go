package providers

import (
	"errors"
	"fmt"
	"testing"
)

func TestFailureReasonIsRetryable(t *testing.T) {
	tests := []struct {
		reason   FailureReason
		expected bool
	}{
		{FailureRateLimit, true},
		{FailureTimeout, true},
		{FailureServerError, true},
		{FailureAuth, false},
		{FailureInvalidRequest, false},
		{FailureUnknown, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.reason), func(t *testing.T) {
			if got := tt.reason.IsRetryable(); got != tt.expected {
				t.Errorf("FailureReason(%q).IsRetryable() = %v, want %v", tt.reason, got, tt.expected)
			}
		})
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected FailureReason
	}{
		{"nil error", nil, FailureUnknown},
		{"timeout", errors.New("request timeout"), FailureTimeout},
		{"deadline exceeded", errors.New("context deadline exceeded"), FailureTimeout},
		{"rate limit", errors.New("rate limit exceeded"), FailureRateLimit},
		{"too many requests", errors.New("too many requests"), FailureRateLimit},
		{"429 status", errors.New("HTTP 429"), FailureRateLimit},
		{"unauthorized", errors.New("unauthorized"), FailureAuth},
		{"invalid api key", errors.New("invalid api key"), FailureAuth},
		{"server error", errors.New("internal server error"), FailureServerError},
		{"overloaded", errors.New("overloaded_error"), FailureServerError},
		{"bad request", errors.New("bad request"), FailureInvalidRequest},
		{"unknown", errors.New("something went wrong"), FailureUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.expected {
				t.Errorf("ClassifyError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status   int
		expected FailureReason
	}{
		{401, FailureAuth},
		{403, FailureAuth},
		{429, FailureRateLimit},
		{400, FailureInvalidRequest},
		{500, FailureServerError},
		{502, FailureServerError},
		{503, FailureServerError},
		{200, FailureUnknown},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			if got := classifyStatus(tt.status); got != tt.expected {
				t.Errorf("classifyStatus(%d) = %v, want %v", tt.status, got, tt.expected)
			}
		})
	}
}

func TestProviderError(t *testing.T) {
	cause := errors.New("rate limit exceeded")
	err := wrapError("openai", "gpt-4o", cause)

	if err.Reason != FailureRateLimit {
		t.Errorf("Reason = %v, want %v", err.Reason, FailureRateLimit)
	}
	if err.Provider != "openai" {
		t.Errorf("Provider = %q, want %q", err.Provider, "openai")
	}
	if err.Model != "gpt-4o" {
		t.Errorf("Model = %q, want %q", err.Model, "gpt-4o")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should match the wrapped cause")
	}
	if err.Error() == "" {
		t.Error("Error() returned empty string")
	}
}
