// Package remote provides an HTTP client for the remote store's REST API
// with automatic retry, rate-limit handling, and error classification.
package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status classification.
// Use errors.Is(err, remote.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("remote: bad request")
	ErrUnauthorized = errors.New("remote: unauthorized")
	ErrForbidden    = errors.New("remote: forbidden")
	ErrNotFound     = errors.New("remote: not found")
	ErrConflict     = errors.New("remote: conflict")
	ErrGone         = errors.New("remote: resource gone")
	ErrThrottled    = errors.New("remote: throttled")
	ErrServerError  = errors.New("remote: server error")
)

// APIError wraps a sentinel error with the HTTP status code, request ID,
// and the API error body for debugging.
type APIError struct {
	StatusCode int
	RequestID  string
	Code       string // machine-readable error code from the body, if any
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("remote: HTTP %d %s (request-id: %s): %s", e.StatusCode, e.Code, e.RequestID, e.Message)
	}

	return fmt.Sprintf("remote: HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusGone:
		return ErrGone
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryableStatus reports whether the status code is transient.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// IsTransient reports whether err is a retryable remote failure: throttling,
// a 5xx, or a network-level error.
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return isRetryableStatus(apiErr.StatusCode)
	}

	// Network errors surface as plain wrapped errors, not APIError.
	return err != nil && !errors.Is(err, ErrBadRequest) &&
		!errors.Is(err, ErrUnauthorized) && !errors.Is(err, ErrForbidden) &&
		!errors.Is(err, ErrNotFound) && !errors.Is(err, ErrConflict) &&
		!errors.Is(err, ErrGone)
}

// IsAuth reports whether err is an authentication or authorization failure.
func IsAuth(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}
