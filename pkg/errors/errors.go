package errors

import (
	"fmt"
	"time"
)

// ErrorType classifies failures by how the run should react to them.
type ErrorType string

const (
	// ErrorTypeConfig is a missing or invalid configuration value. Fatal,
	// reported before any network activity.
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeAuth covers the OAuth flow: CSRF mismatch, callback timeout,
	// refresh failure. Fatal for the run.
	ErrorTypeAuth ErrorType = "auth"
	// ErrorTypeRateLimit is a 429 from the API; retried after the hinted delay.
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeNetwork is a transport-level failure; retried with backoff.
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeServerError is a 5xx from the API; retried with backoff.
	ErrorTypeServerError ErrorType = "server_error"
	// ErrorTypeDownload is a per-item media failure; logged and skipped.
	ErrorTypeDownload ErrorType = "download"
	// ErrorTypeParsing is a malformed API response.
	ErrorTypeParsing  ErrorType = "parsing"
	ErrorTypeNotFound ErrorType = "not_found"
	ErrorTypeUnknown  ErrorType = "unknown"
)

// AuthReason narrows an auth error to its terminal cause.
type AuthReason string

const (
	AuthReasonCSRFMismatch    AuthReason = "csrf_mismatch"
	AuthReasonTimeout         AuthReason = "callback_timeout"
	AuthReasonReauthRequired  AuthReason = "reauth_required"
	AuthReasonExchangeFailed  AuthReason = "exchange_failed"
	AuthReasonInvalidCallback AuthReason = "invalid_callback"
)

// Error carries the failure class alongside the message and, for HTTP
// failures, the status code.
type Error struct {
	Type    ErrorType
	Reason  AuthReason
	Message string
	Code    int
	// RetryAfter is the provider's hint for how long to back off before
	// retrying a rate-limited request. Zero when the provider gave none.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s error (%s): %s", e.Type, e.Reason, e.Message)
	}
	if e.Code != 0 {
		return fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

// New constructs an Error of the given type.
func New(t ErrorType, format string, args ...interface{}) *Error {
	return &Error{Type: t, Message: fmt.Sprintf(format, args...)}
}

// NewHTTP constructs an Error carrying an HTTP status code.
func NewHTTP(t ErrorType, code int, format string, args ...interface{}) *Error {
	return &Error{Type: t, Code: code, Message: fmt.Sprintf(format, args...)}
}

// NewAuth constructs an auth error with a terminal reason.
func NewAuth(reason AuthReason, format string, args ...interface{}) *Error {
	return &Error{Type: ErrorTypeAuth, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// IsRetryable reports whether an error type should be retried.
func IsRetryable(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeRateLimit, ErrorTypeServerError:
		return true
	case ErrorTypeConfig, ErrorTypeAuth, ErrorTypeNotFound, ErrorTypeParsing, ErrorTypeDownload:
		return false
	default:
		return false
	}
}

// IsRetryableStatusCode reports whether an HTTP status code indicates a
// retryable failure.
func IsRetryableStatusCode(statusCode int) bool {
	switch statusCode {
	case 0: // Network error
		return true
	case 429: // Too Many Requests
		return true
	case 500, 502, 503, 504: // Server errors
		return true
	case 401, 403, 404: // Client errors that won't change
		return false
	default:
		return statusCode >= 500 // Retry all 5xx errors
	}
}
