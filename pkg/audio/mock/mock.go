// Package mock provides in-memory mock implementations of the
// [audio.Platform] and [audio.Sink] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments. Mocks that share a
// [Trace] append to one ordered event log, which lets a test assert that a
// clip finished playing before the channel was left.
//
// Typical usage:
//
//	trace := &mock.Trace{}
//	platform := &mock.Platform{Trace: trace, PlayDuration: 50 * time.Millisecond}
//	sink, _ := platform.Connect(ctx, "guild-1", "voice-1")
//	h, _ := sink.Play(ctx, []byte("hello"))
//	// trace.Events() == ["connect guild-1/voice-1", "play hello"]
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jinwktk/YomiageBotAlpha/pkg/audio"
)

// ─── Trace ────────────────────────────────────────────────────────────────────

// Trace is an ordered, concurrency-safe event log shared between mocks.
// The zero value is ready to use.
type Trace struct {
	mu     sync.Mutex
	events []string
	notify chan struct{}
}

// Add appends a formatted event.
func (t *Trace) Add(format string, args ...any) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, fmt.Sprintf(format, args...))
	if t.notify != nil {
		close(t.notify)
		t.notify = nil
	}
}

// Events returns a copy of the recorded events.
func (t *Trace) Events() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.events)
}

// Index returns the position of the first event equal to ev, or -1.
func (t *Trace) Index(ev string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Index(t.events, ev)
}

// WaitFor blocks until an event equal to ev has been recorded or ctx ends.
func (t *Trace) WaitFor(ctx context.Context, ev string) error {
	for {
		t.mu.Lock()
		if slices.Contains(t.events, ev) {
			t.mu.Unlock()
			return nil
		}
		if t.notify == nil {
			t.notify = make(chan struct{})
		}
		ch := t.notify
		t.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return fmt.Errorf("waiting for %q: %w (events: %q)", ev, ctx.Err(), t.Events())
		}
	}
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// Sink is a mock implementation of [audio.Sink]. A clip "plays" for
// PlayDuration after Play returns, or until Stop when Hold is set.
//
// Trace events: "play <clip>", "finish <clip>", "stop", "disconnect <label>".
// Clips are written as strings, so tests usually play readable byte strings.
type Sink struct {
	mu sync.Mutex

	// Label identifies the sink in trace events. Platform sets it to the
	// channel ID.
	Label string

	// Trace receives events when non-nil.
	Trace *Trace

	// PlayDuration is how long each clip reports IsPlaying == true.
	PlayDuration time.Duration

	// Hold keeps every clip playing until Stop, Finish or Disconnect.
	Hold bool

	// PlayError is returned by Play when non-nil.
	PlayError error

	// DisconnectError is returned by Disconnect.
	DisconnectError error

	// PlayCalls records the clip of every Play invocation.
	PlayCalls [][]byte

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	next    audio.Handle
	current audio.Handle
	clip    string
	endsAt  time.Time
	closed  bool
}

// Play implements [audio.Sink].
func (s *Sink) Play(ctx context.Context, clip []byte) (audio.Handle, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PlayCalls = append(s.PlayCalls, slices.Clone(clip))
	if s.closed {
		return 0, audio.ErrSinkClosed
	}
	if s.PlayError != nil {
		return 0, s.PlayError
	}
	s.finishLocked()
	s.next++
	s.current = s.next
	s.clip = string(clip)
	s.endsAt = time.Now().Add(s.PlayDuration)
	s.Trace.Add("play %s", clip)
	return s.current, nil
}

// IsPlaying implements [audio.Sink].
func (s *Sink) IsPlaying(h audio.Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h == 0 || h != s.current {
		return false
	}
	if !s.Hold && !time.Now().Before(s.endsAt) {
		s.finishLocked()
		return false
	}
	return true
}

// Stop implements [audio.Sink].
func (s *Sink) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountStop++
	if s.current != 0 {
		s.Trace.Add("stop")
	}
	s.finishLocked()
}

// Finish ends the current clip as if it had played to the end. Use it with
// Hold to control exactly when playback completes.
func (s *Sink) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishLocked()
}

// Disconnect implements [audio.Sink]. Every call is recorded; only the
// first one is traced.
func (s *Sink) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountDisconnect++
	if !s.closed {
		s.finishLocked()
		s.closed = true
		s.Trace.Add("disconnect %s", s.Label)
	}
	return s.DisconnectError
}

// Playing returns the clip currently playing, if any.
func (s *Sink) Playing() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clip, s.current != 0
}

// Plays returns the clips passed to Play as strings.
func (s *Sink) Plays() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.PlayCalls))
	for i, c := range s.PlayCalls {
		out[i] = string(c)
	}
	return out
}

// Closed reports whether Disconnect has been called.
func (s *Sink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Sink) finishLocked() {
	if s.current == 0 {
		return
	}
	s.Trace.Add("finish %s", s.clip)
	s.current = 0
	s.clip = ""
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	GuildID   string
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform]. Each successful
// Connect creates a new [Sink] configured from the Platform's fields.
type Platform struct {
	mu sync.Mutex

	// Trace is shared with every sink the platform creates.
	Trace *Trace

	// ConnectError is returned by Connect when non-nil.
	ConnectError error

	// ConnectDelay blocks each Connect call, or until ctx is cancelled.
	ConnectDelay time.Duration

	// PlayDuration and Hold are copied into new sinks.
	PlayDuration time.Duration
	Hold         bool

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall

	// Sinks holds every sink returned by Connect, in order.
	Sinks []*Sink
}

// Connect implements [audio.Platform].
func (p *Platform) Connect(ctx context.Context, guildID, channelID string) (audio.Sink, error) {
	p.mu.Lock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{GuildID: guildID, ChannelID: channelID})
	delay, err := p.ConnectDelay, p.ConnectError
	p.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		p.Trace.Add("connect-failed %s/%s", guildID, channelID)
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	s := &Sink{
		Label:        channelID,
		Trace:        p.Trace,
		PlayDuration: p.PlayDuration,
		Hold:         p.Hold,
	}
	p.Sinks = append(p.Sinks, s)
	p.Trace.Add("connect %s/%s", guildID, channelID)
	return s, nil
}

// LastSink returns the most recently created sink, or nil.
func (p *Platform) LastSink() *Sink {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sinks) == 0 {
		return nil
	}
	return p.Sinks[len(p.Sinks)-1]
}

// ConnectCount returns the number of Connect calls so far.
func (p *Platform) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}
