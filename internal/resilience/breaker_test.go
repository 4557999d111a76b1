package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var (
	errBackend = errors.New("backend down")
	errInvalid = errors.New("invalid text")
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestBreaker(maxFailures int) (*Breaker, *testClock) {
	clock := &testClock{t: time.Unix(1_700_000_000, 0)}
	b := NewBreaker(BreakerConfig{
		Name:         "test",
		MaxFailures:  maxFailures,
		ResetTimeout: 30 * time.Second,
		IsFailure:    func(err error) bool { return !errors.Is(err, errInvalid) },
		Now:          clock.Now,
	})
	return b, clock
}

func fail() error    { return errBackend }
func succeed() error { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	t.Parallel()

	b := NewBreaker(BreakerConfig{})
	if b.cfg.MaxFailures != 5 || b.cfg.ResetTimeout != 30*time.Second || b.cfg.HalfOpenMax != 1 {
		t.Errorf("defaults = %+v", b.cfg)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(3)
	for range 3 {
		_ = b.Execute(fail)
	}
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) || called {
		t.Errorf("Execute on open breaker: err=%v called=%v", err, called)
	}
}

func TestBreaker_SuccessResetsCount(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(3)
	_ = b.Execute(fail)
	_ = b.Execute(fail)
	_ = b.Execute(succeed)
	_ = b.Execute(fail)
	_ = b.Execute(fail)
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_IgnoresUncountedErrors(t *testing.T) {
	t.Parallel()

	b, _ := newTestBreaker(2)
	for range 10 {
		if err := b.Execute(func() error { return errInvalid }); !errors.Is(err, errInvalid) {
			t.Fatalf("Execute err = %v, want errInvalid passed through", err)
		}
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	t.Parallel()

	b, clock := newTestBreaker(1)
	_ = b.Execute(fail)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	clock.Advance(31 * time.Second)
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %v, want half-open after reset timeout", b.State())
	}
	if err := b.Execute(succeed); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed after successful probe", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	b, clock := newTestBreaker(1)
	_ = b.Execute(fail)
	clock.Advance(31 * time.Second)
	_ = b.Execute(fail)

	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}
	clock.Advance(10 * time.Second)
	if err := b.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen (reset timer restarted)", err)
	}
}

func TestBreaker_HalfOpenLimitsProbes(t *testing.T) {
	t.Parallel()

	b, clock := newTestBreaker(1)
	_ = b.Execute(fail)
	clock.Advance(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = b.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Execute(succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
}

func TestBreaker_OnStateChange(t *testing.T) {
	t.Parallel()

	var (
		mu  sync.Mutex
		got []string
	)
	clock := &testClock{t: time.Unix(0, 0)}
	b := NewBreaker(BreakerConfig{
		MaxFailures: 1,
		Now:         clock.Now,
		OnStateChange: func(from, to State) {
			mu.Lock()
			got = append(got, from.String()+">"+to.String())
			mu.Unlock()
		},
	})

	_ = b.Execute(fail)
	clock.Advance(time.Minute)
	_ = b.Execute(succeed)
	_ = b.Execute(fail)
	b.Reset()

	want := []string{"closed>open", "open>half-open", "half-open>closed", "closed>open", "open>closed"}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
