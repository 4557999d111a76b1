package synth

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/jinwktk/YomiageBotAlpha/internal/resilience"
	"github.com/jinwktk/YomiageBotAlpha/pkg/provider/tts"
)

var (
	// ErrInvalidInput marks a request the backend will never accept: empty or
	// over-long text, an unsupported language, or an HTTP 4xx rejection.
	ErrInvalidInput = errors.New("synth: invalid input")

	// ErrTransient marks a failure that may clear up on its own: timeouts,
	// refused or reset connections, HTTP 408/429/5xx, or an open breaker.
	ErrTransient = errors.New("synth: transient failure")
)

// isTransient reports whether err is worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, tts.ErrInvalidInput) {
		return false
	}
	if errors.Is(err, tts.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, resilience.ErrCircuitOpen) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// classify wraps a backend error with the matching sentinel while keeping the
// original in the chain. Unclassified errors are wrapped plainly.
func classify(err error) error {
	switch {
	case errors.Is(err, tts.ErrInvalidInput):
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	case isTransient(err):
		return fmt.Errorf("%w: %w", ErrTransient, err)
	default:
		return fmt.Errorf("synth: %w", err)
	}
}

// statusLabel is the metric label for an outcome.
func statusLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, tts.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "breaker_open"
	case isTransient(err):
		return "transient"
	default:
		return "error"
	}
}
