// Package synth resolves rendered text to audio: it consults the audio cache,
// and on a miss calls the synthesis backend with a timeout, bounded retries on
// transient failures, a circuit breaker and an optional rate limit. Concurrent
// misses for one key share a single backend call.
package synth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/jinwktk/YomiageBotAlpha/internal/cache"
	"github.com/jinwktk/YomiageBotAlpha/internal/observe"
	"github.com/jinwktk/YomiageBotAlpha/internal/resilience"
	"github.com/jinwktk/YomiageBotAlpha/pkg/provider/tts"
)

// Cache is the subset of [cache.Store] the gateway needs.
type Cache interface {
	Get(key string) (cache.Entry, []byte, bool)
	Put(key string, audio []byte) (cache.Entry, error)
	Touch(key string) bool
}

// Config tunes the gateway.
type Config struct {
	// Timeout bounds each backend attempt. Default: 15s.
	Timeout time.Duration

	// MaxRetries is the number of extra attempts after a transient failure.
	// Zero disables retries.
	MaxRetries int

	// RetryBase and RetryMax shape the exponential backoff between attempts.
	// Defaults: 250ms and 2s.
	RetryBase time.Duration
	RetryMax  time.Duration

	// RequestsPerSecond limits backend calls across all sessions. Zero means
	// unlimited.
	RequestsPerSecond float64

	Breaker resilience.BreakerConfig
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 250 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 2 * time.Second
	}
}

// Option is a functional option for [New].
type Option func(*Gateway)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// Gateway implements cache-backed synthesis. It is safe for concurrent use.
type Gateway struct {
	backend tts.Provider
	cache   Cache
	cfg     Config
	metrics *observe.Metrics
	breaker *resilience.Breaker
	limiter *rate.Limiter
	group   singleflight.Group

	// base bounds every shared backend call; Close cancels it.
	base context.Context
	stop context.CancelFunc
}

// New creates a Gateway that synthesizes through backend and memoizes into c.
func New(backend tts.Provider, c Cache, cfg Config, opts ...Option) *Gateway {
	cfg.applyDefaults()
	g := &Gateway{
		backend: backend,
		cache:   c,
		cfg:     cfg,
		metrics: observe.DefaultMetrics(),
	}
	g.base, g.stop = context.WithCancel(context.Background())
	for _, o := range opts {
		o(g)
	}

	bc := cfg.Breaker
	if bc.Name == "" {
		bc.Name = backend.Name()
	}
	bc.IsFailure = isTransient
	g.breaker = resilience.NewBreaker(bc)

	if cfg.RequestsPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return g
}

// BreakerState reports the backend circuit breaker state for readiness
// checks.
func (g *Gateway) BreakerState() resilience.State { return g.breaker.State() }

// Backend returns the backend name.
func (g *Gateway) Backend() string { return g.backend.Name() }

// Close cancels backend calls still in flight, including ones whose callers
// have already given up. Resolve fails with [ErrTransient] afterwards.
func (g *Gateway) Close() {
	g.stop()
}

// Resolve returns WAV audio for text spoken with voice. Cache hits are
// touched and returned without contacting the backend. Failures match
// [ErrInvalidInput] or [ErrTransient] via errors.Is where classifiable, and
// are never cached.
//
// The returned slice is owned by the caller.
func (g *Gateway) Resolve(ctx context.Context, text string, voice tts.VoiceParams) (_ []byte, err error) {
	ctx, span := observe.StartSpan(ctx, "synth.Resolve",
		trace.WithAttributes(attribute.Int("text.runes", len([]rune(text)))))
	defer func() { observe.EndSpan(span, err) }()

	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", ErrInvalidInput)
	}
	key, err := CacheKey(text, voice)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	if _, audio, ok := g.cache.Get(key); ok {
		g.cache.Touch(key)
		g.metrics.RecordCacheLookup(ctx, true)
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return audio, nil
	}
	g.metrics.RecordCacheLookup(ctx, false)
	span.SetAttributes(attribute.Bool("cache.hit", false))

	if g.base.Err() != nil {
		return nil, fmt.Errorf("%w: gateway closed", ErrTransient)
	}

	ch := g.group.DoChan(key, func() (any, error) {
		// An earlier flight for key may have finished between the lookup
		// above and joining the group.
		if _, audio, ok := g.cache.Get(key); ok {
			g.cache.Touch(key)
			return audio, nil
		}
		// The shared call outlives the leader's cancellation but not Close.
		shared, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		defer context.AfterFunc(g.base, cancel)()
		return g.synthesize(shared, key, text, voice)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("synth: resolve: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return bytes.Clone(res.Val.([]byte)), nil
	}
}

// synthesize runs the backend call with retries and stores the result.
func (g *Gateway) synthesize(ctx context.Context, key, text string, voice tts.VoiceParams) ([]byte, error) {
	budget := time.Duration(g.cfg.MaxRetries+2)*g.cfg.Timeout + time.Duration(g.cfg.MaxRetries)*g.cfg.RetryMax
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var (
		audio []byte
		err   error
	)
	for attempt := 0; ; attempt++ {
		if g.limiter != nil {
			if werr := g.limiter.Wait(ctx); werr != nil {
				return nil, fmt.Errorf("%w: rate limit wait: %w", ErrTransient, werr)
			}
		}
		audio, err = g.call(ctx, text, voice)
		if err == nil {
			break
		}
		if !isTransient(err) || errors.Is(err, resilience.ErrCircuitOpen) || attempt >= g.cfg.MaxRetries {
			g.logFailure(ctx, err, text, voice, attempt+1)
			return nil, classify(err)
		}
		delay := resilience.Backoff(attempt, g.cfg.RetryBase, g.cfg.RetryMax)
		slog.Debug("synth: retrying after transient failure",
			"backend", g.backend.Name(), "attempt", attempt+1, "delay", delay, "err", err)
		if serr := resilience.Sleep(ctx, delay); serr != nil {
			return nil, classify(err)
		}
	}

	if _, perr := g.cache.Put(key, audio); perr != nil {
		g.metrics.CacheWriteErrors.Add(ctx, 1)
		slog.Warn("synth: could not cache audio", "key", key, "err", perr)
	}
	return audio, nil
}

// call performs one backend attempt through the breaker.
func (g *Gateway) call(ctx context.Context, text string, voice tts.VoiceParams) ([]byte, error) {
	var audio []byte
	err := g.breaker.Execute(func() error {
		actx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
		actx, span := observe.StartSpan(actx, "synth.backend",
			trace.WithAttributes(attribute.String("backend", g.backend.Name())))

		start := time.Now()
		var err error
		audio, err = g.backend.Synthesize(actx, text, voice)
		g.metrics.SynthDuration.Record(actx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("backend", g.backend.Name())))
		observe.EndSpan(span, err)
		return err
	})
	g.metrics.RecordSynthRequest(ctx, g.backend.Name(), statusLabel(err))
	return audio, err
}

func (g *Gateway) logFailure(ctx context.Context, err error, text string, voice tts.VoiceParams, attempts int) {
	log := observe.Logger(ctx).With("backend", g.backend.Name(), "attempts", attempts, "err", err)
	if errors.Is(err, tts.ErrInvalidInput) {
		log.Warn("synth: backend rejected request", "text", text, "voice", voice)
		return
	}
	log.Warn("synth: synthesis failed")
}
