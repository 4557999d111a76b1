// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled audio clips and to verify which texts and
// voices reach the backend.
//
// Example:
//
//	p := &mock.Provider{Audio: []byte("RIFF....WAVE")}
//	clip, _ := p.Synthesize(ctx, "こんにちは", tts.DefaultVoice())
//	if p.CallCount() != 1 { ... }
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/jinwktk/YomiageBotAlpha/pkg/provider/tts"
)

// Compile-time interface assertions.
var (
	_ tts.Provider = (*Provider)(nil)
	_ tts.Checker  = (*Provider)(nil)
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Text  string
	Voice tts.VoiceParams
	At    time.Time
}

// Provider is a mock implementation of tts.Provider. All exported fields
// must be set before the mock is shared between goroutines.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// Audio is returned by Synthesize when SynthesizeFunc is nil. A copy is
	// returned on each call.
	Audio []byte

	// Err, if non-nil, is returned by Synthesize instead of Audio.
	Err error

	// Delay blocks each Synthesize call for the given duration, or until the
	// context is cancelled.
	Delay time.Duration

	// SynthesizeFunc, when set, overrides Audio and Err. It receives the
	// 1-based call number.
	SynthesizeFunc func(ctx context.Context, call int, text string, voice tts.VoiceParams) ([]byte, error)

	// CheckResult and CheckErr are returned by Check.
	CheckResult []tts.ModelInfo
	CheckErr    error

	// --- Call records ---

	calls []SynthesizeCall
}

// Name implements tts.Provider.
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Synthesize records the call and returns the configured response.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceParams) ([]byte, error) {
	p.mu.Lock()
	p.calls = append(p.calls, SynthesizeCall{Text: text, Voice: voice, At: time.Now()})
	n := len(p.calls)
	fn := p.SynthesizeFunc
	p.mu.Unlock()

	if p.Delay > 0 {
		timer := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	if fn != nil {
		return fn(ctx, n, text, voice)
	}
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([]byte, len(p.Audio))
	copy(out, p.Audio)
	return out, nil
}

// Check implements tts.Checker.
func (p *Provider) Check(_ context.Context) ([]tts.ModelInfo, error) {
	return p.CheckResult, p.CheckErr
}

// Calls returns a copy of all recorded Synthesize calls in order.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SynthesizeCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns the number of Synthesize calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Reset clears the call records.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}
