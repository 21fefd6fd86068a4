package types

import (
	"fmt"
	"net/http"
)

// ---------------------------------------------------------------------------
// Base error
// ---------------------------------------------------------------------------

// CoreError is the root of the error hierarchy. Every error surfaced by the
// chat core either is a CoreError or embeds one.
type CoreError struct {
	Message string
	Cause   error
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CoreError) Unwrap() error { return e.Cause }

// ---------------------------------------------------------------------------
// Configuration errors
// ---------------------------------------------------------------------------

// ConfigurationError indicates the send cannot proceed because of missing or
// invalid configuration (unknown channel, credential decryption failure).
// No network call is attempted and there is no partial state to persist.
type ConfigurationError struct{ CoreError }

// NewConfigurationError constructs a ConfigurationError.
func NewConfigurationError(message string, cause error) *ConfigurationError {
	return &ConfigurationError{CoreError{Message: message, Cause: cause}}
}

func (e *ConfigurationError) IsRetryable() bool { return false }

// ---------------------------------------------------------------------------
// Transport errors
// ---------------------------------------------------------------------------

// NetworkError indicates a transport-level failure such as DNS resolution,
// connection refused, or an aborted read not attributable to cancellation.
type NetworkError struct{ CoreError }

// NewNetworkError constructs a NetworkError.
func NewNetworkError(message string, cause error) *NetworkError {
	return &NetworkError{CoreError{Message: message, Cause: cause}}
}

func (e *NetworkError) IsRetryable() bool { return true }

// StreamError indicates the streaming body could not be consumed: a broken
// SSE framing layer or an unparseable terminal response. Individual malformed
// frames never raise a StreamError; they are skipped at the parse boundary.
type StreamError struct{ CoreError }

// NewStreamError constructs a StreamError.
func NewStreamError(message string, cause error) *StreamError {
	return &StreamError{CoreError{Message: message, Cause: cause}}
}

func (e *StreamError) IsRetryable() bool { return false }

// AbortError indicates the caller explicitly cancelled the operation.
// Cancellation is a distinct terminal outcome, not a failure.
type AbortError struct{ CoreError }

// NewAbortError constructs an AbortError.
func NewAbortError(message string, cause error) *AbortError {
	return &AbortError{CoreError{Message: message, Cause: cause}}
}

func (e *AbortError) IsRetryable() bool { return false }

// ---------------------------------------------------------------------------
// Provider errors
// ---------------------------------------------------------------------------

// ProviderError represents a non-success response from a provider's API.
type ProviderError struct {
	CoreError
	Provider   string
	StatusCode int
	ErrorCode  string
	Retryable  bool
	RetryAfter *float64
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("[%s] HTTP %d", e.Provider, e.StatusCode)
	if e.ErrorCode != "" {
		msg += fmt.Sprintf(" (%s)", e.ErrorCode)
	}
	msg += " " + e.Message
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *ProviderError) IsRetryable() bool { return e.Retryable }

// ErrorFromStatusCode builds a ProviderError classified by HTTP status.
// Rate-limit and server-side statuses are retryable; everything else is not.
func ErrorFromStatusCode(statusCode int, message, provider, errorCode string, retryAfter *float64) *ProviderError {
	retryable := statusCode == http.StatusTooManyRequests ||
		statusCode == http.StatusRequestTimeout ||
		statusCode >= 500

	return &ProviderError{
		CoreError:  CoreError{Message: message},
		Provider:   provider,
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		Retryable:  retryable,
		RetryAfter: retryAfter,
	}
}

// ---------------------------------------------------------------------------
// Retryability
// ---------------------------------------------------------------------------

// retryable is implemented by errors that classify their own retryability.
type retryable interface {
	IsRetryable() bool
}

// IsRetryable reports whether err should be retried. Errors that do not
// classify themselves are treated as retryable, matching transport failures
// that surface as plain errors.
func IsRetryable(err error) bool {
	if r, ok := err.(retryable); ok {
		return r.IsRetryable()
	}
	return true
}
