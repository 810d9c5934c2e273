package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Base error types
var (
	ErrNotFound         = errors.New("not found")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrMissingTokens    = errors.New("missing tokens")
	ErrTransport        = errors.New("transport error")
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrInvalidInput     = errors.New("invalid input")
)

// ErrorType represents the category of a failed collaborator call.
type ErrorType string

const (
	ErrorTypeTransport  ErrorType = "transport"
	ErrorTypeStatus     ErrorType = "status"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeDecode     ErrorType = "decode"
	ErrorTypeValidation ErrorType = "validation"
)

// RequestError is a structured error for calls against the Tab service.
type RequestError struct {
	Type       ErrorType
	Op         string // Operation that failed (e.g., "fetch_tab", "purchase")
	URL        string
	StatusCode int
	Body       string // Truncated response body, if any
	Err        error
	Timestamp  time.Time
	Retryable  bool
}

func (e *RequestError) Error() string {
	switch {
	case e.StatusCode != 0 && e.URL != "":
		return fmt.Sprintf("%s failed: unexpected status %d from %s", e.Op, e.StatusCode, e.URL)
	case e.URL != "":
		return fmt.Sprintf("%s failed on %s: %v", e.Op, e.URL, e.Err)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *RequestError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrTransport:
		return e.Type == ErrorTypeTransport
	case ErrUnexpectedStatus:
		return e.Type == ErrorTypeStatus || e.StatusCode != 0
	case ErrUnauthorized:
		return e.Type == ErrorTypeAuth || e.StatusCode == http.StatusUnauthorized
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrInvalidInput:
		return e.Type == ErrorTypeValidation
	}

	return errors.Is(e.Err, target)
}

// NewRequestError creates a new RequestError
func NewRequestError(errorType ErrorType, op, url string, err error) *RequestError {
	return &RequestError{
		Type:      errorType,
		Op:        op,
		URL:       url,
		Err:       err,
		Timestamp: time.Now(),
		Retryable: errorType == ErrorTypeTransport,
	}
}

// WithStatusCode adds the HTTP status code to the error
func (e *RequestError) WithStatusCode(code int) *RequestError {
	e.StatusCode = code
	if code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout {
		e.Retryable = true
	} else if code >= 400 && code < 500 {
		e.Retryable = false
	}
	return e
}

// WithBody attaches a response body excerpt.
func (e *RequestError) WithBody(body []byte) *RequestError {
	const max = 512
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		s = s[:max] + "..."
	}
	e.Body = s
	return e
}

// Helper functions

// WrapTransportError wraps a network failure with context
func WrapTransportError(op, url string, err error) error {
	return NewRequestError(ErrorTypeTransport, op, url, err)
}

// WrapStatusError reports a response with a status the caller did not expect
func WrapStatusError(op, url string, statusCode int, body []byte) error {
	errType := ErrorTypeStatus
	if statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden {
		errType = ErrorTypeAuth
	}
	return NewRequestError(errType, op, url, ErrUnexpectedStatus).WithStatusCode(statusCode).WithBody(body)
}

// WrapDecodeError wraps a malformed response body
func WrapDecodeError(op, url string, err error) error {
	return NewRequestError(ErrorTypeDecode, op, url, err)
}

// WrapAuthError wraps an authentication error with context
func WrapAuthError(op string, err error) error {
	return NewRequestError(ErrorTypeAuth, op, "", err)
}

// NewValidationError reports input rejected before any request was made
func NewValidationError(op, msg string) error {
	return NewRequestError(ErrorTypeValidation, op, "", fmt.Errorf("%w: %s", ErrInvalidInput, msg))
}

// IsRetryableError checks if an error could succeed when retried.
// Nothing retries automatically; callers use this to word diagnostics.
func IsRetryableError(err error) bool {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Retryable
	}
	return errors.Is(err, ErrTransport)
}

// IsAuthError checks if an error is an authentication error
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		if reqErr.Type == ErrorTypeAuth {
			return true
		}
		if reqErr.StatusCode == http.StatusUnauthorized || reqErr.StatusCode == http.StatusForbidden {
			return true
		}
	}

	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrMissingTokens)
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.StatusCode
	}
	return 0
}
