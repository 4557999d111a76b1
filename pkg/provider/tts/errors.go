package tts

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrInvalidInput marks a semantic rejection: the backend will never
	// accept this request, so retrying wastes the timeout budget.
	ErrInvalidInput = errors.New("tts: invalid input")

	// ErrUnavailable marks a transient failure: the backend was unreachable,
	// overloaded, or too slow.
	ErrUnavailable = errors.New("tts: backend unavailable")
)

// StatusError is returned when the backend answers with a non-success HTTP
// status. It matches [ErrInvalidInput] or [ErrUnavailable] via errors.Is
// depending on the status code.
type StatusError struct {
	Provider   string
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: %s returned status %d: %s", e.Provider, e.Endpoint, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s: %s returned status %d", e.Provider, e.Endpoint, e.StatusCode)
}

// Is classifies the status code.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrUnavailable:
		return IsRetryableStatus(e.StatusCode)
	case ErrInvalidInput:
		return !IsRetryableStatus(e.StatusCode) && e.StatusCode >= 400 && e.StatusCode < 500
	}
	return false
}

// IsRetryableStatus reports whether an HTTP status code describes a
// condition that may clear up on its own.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}
