package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorFromStatusCodeClassification(t *testing.T) {
	cases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusRequestTimeout, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
	}
	for _, tc := range cases {
		err := ErrorFromStatusCode(tc.status, "boom", "anthropic", "", nil)
		if err.IsRetryable() != tc.retryable {
			t.Errorf("status %d: retryable = %v, want %v", tc.status, err.IsRetryable(), tc.retryable)
		}
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := ErrorFromStatusCode(429, "rate limited", "openai", "rate_limit_exceeded", nil)
	got := err.Error()
	want := "[openai] HTTP 429 (rate_limit_exceeded) rate limited"
	if got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestCoreErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewNetworkError("request failed", cause)
	if !errors.Is(err, cause) {
		t.Error("errors.Is should reach the cause through Unwrap")
	}
	if err.Error() != "request failed: root cause" {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestIsRetryableDefaults(t *testing.T) {
	if !IsRetryable(fmt.Errorf("plain error")) {
		t.Error("unclassified errors default to retryable")
	}
	if IsRetryable(NewConfigurationError("bad", nil)) {
		t.Error("configuration errors are never retryable")
	}
	if IsRetryable(NewStreamError("broken", nil)) {
		t.Error("stream errors are not retryable")
	}
	if IsRetryable(NewAbortError("stopped", nil)) {
		t.Error("abort errors are not retryable")
	}
	if !IsRetryable(NewNetworkError("down", nil)) {
		t.Error("network errors are retryable")
	}
}

func TestRetryAfterCarriedThrough(t *testing.T) {
	after := 2.5
	err := ErrorFromStatusCode(429, "slow down", "anthropic", "", &after)
	if err.RetryAfter == nil || *err.RetryAfter != 2.5 {
		t.Errorf("RetryAfter = %v", err.RetryAfter)
	}
}
