// Package playback drives one session's audio output.
//
// A [Coordinator] is the single consumer of a session's [queue.Queue]. For
// each utterance it resolves audio through the synthesis gateway, plays it on
// the session's [audio.Sink], and polls the sink until the clip has finished
// or a guard timer fires. Failures are scoped to the utterance: a failed
// synthesis or Play is logged, counted and skipped.
//
// [Coordinator.IsBusy] reports whether any utterance is queued or still
// playing. The lifecycle manager relies on it to avoid leaving a voice
// channel while a farewell is being spoken.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jinwktk/YomiageBotAlpha/internal/observe"
	"github.com/jinwktk/YomiageBotAlpha/internal/queue"
	"github.com/jinwktk/YomiageBotAlpha/internal/resilience"
	"github.com/jinwktk/YomiageBotAlpha/pkg/audio"
	"github.com/jinwktk/YomiageBotAlpha/pkg/provider/tts"
)

// Defaults for [Config].
const (
	DefaultTimeout      = 30 * time.Second
	DefaultGrace        = 10 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	DefaultGap          = 500 * time.Millisecond
)

// Resolver turns rendered text into playable audio.
type Resolver interface {
	Resolve(ctx context.Context, text string, voice tts.VoiceParams) ([]byte, error)
}

// Config holds the playback timing knobs.
type Config struct {
	// Timeout bounds a clip whose duration cannot be read from its header.
	Timeout time.Duration

	// Grace is added to a known clip duration to form the guard.
	Grace time.Duration

	// PollInterval is how often IsPlaying is checked.
	PollInterval time.Duration

	// Gap is the pause after a clip before the next utterance starts.
	// A negative value disables the pause.
	Gap time.Duration
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.Grace <= 0 {
		c.Grace = DefaultGrace
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Gap == 0 {
		c.Gap = DefaultGap
	}
	if c.Gap < 0 {
		c.Gap = 0
	}
}

// Outcome describes how one utterance ended.
type Outcome int

const (
	// Played means the sink reported the clip finished.
	Played Outcome = iota
	// TimedOut means the guard fired and the clip was stopped.
	TimedOut
	// Skipped means Skip stopped the clip.
	Skipped
	// SynthFailed means no audio could be resolved.
	SynthFailed
	// PlayFailed means the sink refused the clip.
	PlayFailed
	// Cancelled means the session context ended mid-utterance.
	Cancelled
)

// String returns the metric label for o.
func (o Outcome) String() string {
	switch o {
	case Played:
		return "played"
	case TimedOut:
		return "timeout"
	case Skipped:
		return "skipped"
	case SynthFailed:
		return "synth_error"
	case PlayFailed:
		return "play_error"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Option is a functional option for [New].
type Option func(*Coordinator)

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithObserver registers fn to be called after every utterance, once the
// queue has been acknowledged.
func WithObserver(fn func(queue.Utterance, Outcome)) Option {
	return func(c *Coordinator) { c.observer = fn }
}

// Coordinator plays one session's queue. All exported methods are safe for
// concurrent use; Run must be called at most once.
type Coordinator struct {
	sessionID string
	q         *queue.Queue
	resolver  Resolver
	sink      audio.Sink
	cfg       Config
	metrics   *observe.Metrics
	observer  func(queue.Utterance, Outcome)

	skipped atomic.Bool

	mu      sync.Mutex
	current *queue.Utterance
	playing bool
}

// New creates a Coordinator for sessionID.
func New(sessionID string, q *queue.Queue, r Resolver, sink audio.Sink, cfg Config, opts ...Option) *Coordinator {
	cfg.applyDefaults()
	c := &Coordinator{
		sessionID: sessionID,
		q:         q,
		resolver:  r,
		sink:      sink,
		cfg:       cfg,
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// Run consumes the queue until it is closed (returns nil) or ctx is
// cancelled (returns ctx.Err()).
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		u, err := c.q.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) {
				return nil
			}
			return err
		}

		outcome := c.process(ctx, u)
		c.q.Done()
		c.metrics.RecordUtterance(ctx, u.Kind.String(), outcome.String())
		if c.observer != nil {
			c.observer(u, outcome)
		}

		if err := ctx.Err(); err != nil {
			return err
		}
		// Nothing was heard after a failure, so there is nothing to pause for.
		if outcome == Played || outcome == TimedOut || outcome == Skipped {
			if err := resilience.Sleep(ctx, c.cfg.Gap); err != nil {
				return err
			}
		}
	}
}

func (c *Coordinator) process(ctx context.Context, u queue.Utterance) Outcome {
	log := observe.Logger(ctx).With(
		"utterance_id", u.ID,
		"kind", u.Kind.String(),
	)
	c.setCurrent(&u)
	defer c.setCurrent(nil)
	c.skipped.Store(false)

	clip, err := c.resolver.Resolve(ctx, u.RenderedText, u.Voice)
	if err != nil {
		if ctx.Err() != nil {
			return Cancelled
		}
		log.Warn("playback: synthesis failed, skipping utterance",
			"text", u.RenderedText,
			"model_id", u.Voice.ModelID,
			"speaker_id", u.Voice.SpeakerID,
			"style", u.Voice.Style,
			"error", err,
		)
		return SynthFailed
	}

	start := time.Now()
	h, err := c.sink.Play(ctx, clip)
	if err != nil {
		if ctx.Err() != nil {
			return Cancelled
		}
		log.Warn("playback: play failed, skipping utterance", "error", err)
		return PlayFailed
	}
	c.setPlaying(true)
	defer c.setPlaying(false)

	guard := c.cfg.Timeout
	if d := audio.Duration(clip); d > 0 {
		guard = d + c.cfg.Grace
	}
	outcome := c.await(ctx, h, guard)
	if outcome == Played && c.skipped.Load() {
		outcome = Skipped
	}

	c.metrics.RecordPlayback(ctx, u.Kind.String(), time.Since(start))
	switch outcome {
	case TimedOut:
		log.Warn("playback: clip did not finish in time, stopped", "guard", guard)
	case Played, Skipped:
		log.Debug("playback: utterance finished", "outcome", outcome.String(), "elapsed", time.Since(start))
	}
	return outcome
}

// await polls IsPlaying until the clip ends, the guard fires or ctx ends.
func (c *Coordinator) await(ctx context.Context, h audio.Handle, guard time.Duration) Outcome {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(guard)
	defer deadline.Stop()

	for c.sink.IsPlaying(h) {
		select {
		case <-ctx.Done():
			c.sink.Stop()
			return Cancelled
		case <-deadline.C:
			c.sink.Stop()
			return TimedOut
		case <-ticker.C:
		}
	}
	return Played
}

// IsBusy reports whether an utterance is queued or has not finished playing.
func (c *Coordinator) IsBusy() bool {
	return c.q.Pending() > 0
}

// WaitIdle blocks until IsBusy is false, timeout elapses or ctx ends. It
// reports whether the session went idle.
func (c *Coordinator) WaitIdle(ctx context.Context, timeout time.Duration) bool {
	if !c.IsBusy() {
		return true
	}
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return !c.IsBusy()
		case <-ticker.C:
			if !c.IsBusy() {
				return true
			}
		}
	}
}

// Skip stops the clip that is currently playing. It reports whether there
// was one.
func (c *Coordinator) Skip() bool {
	c.mu.Lock()
	playing := c.playing
	c.mu.Unlock()
	if !playing {
		return false
	}
	c.skipped.Store(true)
	c.sink.Stop()
	slog.Debug("playback: skip requested", "session_id", c.sessionID)
	return true
}

// Current returns the utterance being synthesized or played, if any.
func (c *Coordinator) Current() (queue.Utterance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return queue.Utterance{}, false
	}
	return *c.current, true
}

// Guard returns the longest time a single utterance may keep the session
// busy once playing starts: the fallback timeout plus grace.
func (c *Coordinator) Guard() time.Duration {
	return c.cfg.Timeout + c.cfg.Grace
}

func (c *Coordinator) setCurrent(u *queue.Utterance) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = u
}

func (c *Coordinator) setPlaying(b bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playing = b
}
