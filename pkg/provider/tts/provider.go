// Package tts defines the Provider interface for speech synthesis backends.
//
// A provider turns one rendered utterance plus a [VoiceParams] set into a
// complete audio clip (WAV bytes). Unlike a streaming backend, a provider is
// called once per utterance; the caller is responsible for caching, retries,
// and playback.
//
// Failures are classified so callers can decide whether a retry can help:
// errors matching [ErrInvalidInput] are semantic and must not be retried,
// errors matching [ErrUnavailable] are transient.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over a speech synthesis backend.
type Provider interface {
	// Synthesize renders text with the given voice and returns the encoded
	// audio clip. The returned bytes are owned by the caller.
	Synthesize(ctx context.Context, text string, voice VoiceParams) ([]byte, error)

	// Name returns a short identifier used in logs and metrics.
	Name() string
}

// Checker is implemented by providers that can probe backend reachability
// without synthesising audio.
type Checker interface {
	// Check returns nil when the backend answers and reports its models.
	Check(ctx context.Context) ([]ModelInfo, error)
}

// ModelInfo describes one model hosted by a synthesis backend.
type ModelInfo struct {
	ID       int
	Name     string
	Speakers map[int]string
	Styles   []string
}
