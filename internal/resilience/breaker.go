// Package resilience provides the failure-handling primitives around the
// remote synthesis backend: a three-state circuit breaker and capped
// exponential backoff.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Execute] when the breaker is open and
// the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

// State represents the current operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. A failed
	// probe re-opens the breaker; enough successful probes close it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds tuning knobs for a [Breaker].
type BreakerConfig struct {
	// Name is a label used in log messages.
	Name string

	// MaxFailures is the number of consecutive counted failures in the closed
	// state before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close.
	// Default: 1.
	HalfOpenMax int

	// IsFailure decides whether an error counts against the backend. Errors
	// it rejects (for example, a request the backend refused as invalid)
	// pass through without affecting the breaker. Default: every non-nil error.
	IsFailure func(error) bool

	// OnStateChange, if set, is called after every transition with the
	// breaker lock released.
	OnStateChange func(from, to State)

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Breaker implements the three-state circuit breaker pattern.
type Breaker struct {
	cfg BreakerConfig

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probesInFlight  int
	probeSuccesses  int
}

// NewBreaker creates a [Breaker]. Zero-value config fields are replaced with
// defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 1
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Breaker{cfg: cfg}
}

// Execute runs fn if the breaker allows it and records the outcome.
func (b *Breaker) Execute(fn func() error) error {
	b.mu.Lock()
	var changed []transition
	if b.state == StateOpen {
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.ResetTimeout {
			b.mu.Unlock()
			return ErrCircuitOpen
		}
		changed = append(changed, b.setLocked(StateHalfOpen))
		b.probesInFlight = 0
		b.probeSuccesses = 0
	}
	probe := b.state == StateHalfOpen
	if probe {
		if b.probesInFlight >= b.cfg.HalfOpenMax {
			b.mu.Unlock()
			b.notify(changed)
			return ErrCircuitOpen
		}
		b.probesInFlight++
	}
	b.mu.Unlock()
	b.notify(changed)

	err := fn()

	b.mu.Lock()
	changed = changed[:0]
	if probe {
		b.probesInFlight--
	}
	if err != nil && b.cfg.IsFailure(err) {
		changed = b.recordFailureLocked(probe, changed)
	} else {
		changed = b.recordSuccessLocked(probe, changed)
	}
	b.mu.Unlock()
	b.notify(changed)
	return err
}

type transition struct{ from, to State }

func (b *Breaker) setLocked(to State) transition {
	t := transition{from: b.state, to: to}
	b.state = to
	return t
}

func (b *Breaker) notify(ts []transition) {
	for _, t := range ts {
		switch t.to {
		case StateOpen:
			slog.Warn("circuit breaker opened", "name", b.cfg.Name, "from", t.from.String())
		default:
			slog.Info("circuit breaker state changed", "name", b.cfg.Name,
				"from", t.from.String(), "to", t.to.String())
		}
		if b.cfg.OnStateChange != nil {
			b.cfg.OnStateChange(t.from, t.to)
		}
	}
}

func (b *Breaker) recordFailureLocked(probe bool, ts []transition) []transition {
	if probe || b.state == StateHalfOpen {
		b.openedAt = b.cfg.Now()
		return append(ts, b.setLocked(StateOpen))
	}
	if b.state != StateClosed {
		return ts
	}
	b.consecutiveFail++
	if b.consecutiveFail >= b.cfg.MaxFailures {
		b.openedAt = b.cfg.Now()
		ts = append(ts, b.setLocked(StateOpen))
	}
	return ts
}

func (b *Breaker) recordSuccessLocked(probe bool, ts []transition) []transition {
	if probe && b.state == StateHalfOpen {
		b.probeSuccesses++
		if b.probeSuccesses >= b.cfg.HalfOpenMax {
			b.consecutiveFail = 0
			ts = append(ts, b.setLocked(StateClosed))
		}
		return ts
	}
	if b.state == StateClosed {
		b.consecutiveFail = 0
	}
	return ts
}

// State returns the current [State]. An open breaker whose reset timeout has
// elapsed reports [StateHalfOpen]; the transition itself happens on the next
// Execute.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.cfg.Now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker back to [StateClosed].
func (b *Breaker) Reset() {
	b.mu.Lock()
	var ts []transition
	if b.state != StateClosed {
		ts = append(ts, b.setLocked(StateClosed))
	}
	b.consecutiveFail = 0
	b.probesInFlight = 0
	b.probeSuccesses = 0
	b.mu.Unlock()
	b.notify(ts)
}
