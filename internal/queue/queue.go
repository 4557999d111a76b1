// Package queue implements the per-session speech queue.
//
// A Queue holds two FIFO lanes: greetings and chat. Dequeue always drains
// greetings first, so a greeting is spoken ahead of every chat line queued
// before it but behind earlier greetings. The queue is bounded; the overflow
// [Policy] decides what a full queue does with new chat, and greetings may
// displace chat but never the other way round.
//
// A single consumer calls Dequeue, plays the item, then calls Done. Pending
// counts both queued items and the unacknowledged in-flight one, so a caller
// polling Pending sees no gap between an Enqueue and the end of playback.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrQueueFull is returned by Enqueue when the item was not accepted.
	ErrQueueFull = errors.New("queue: full")

	// ErrQueueClosed is returned by operations on a closed queue.
	ErrQueueClosed = errors.New("queue: closed")
)

// DefaultDepth is the capacity used when none is configured.
const DefaultDepth = 20

// Policy selects the behaviour of a full queue.
type Policy int

const (
	// RejectNewest refuses new chat lines. A greeting displaces the newest
	// queued chat line.
	RejectNewest Policy = iota

	// DropOldest discards the oldest queued chat line to make room. A
	// greeting also displaces the oldest chat line.
	DropOldest
)

// String returns the configuration spelling of the policy.
func (p Policy) String() string {
	switch p {
	case RejectNewest:
		return "reject-newest"
	case DropOldest:
		return "drop-oldest"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses "reject-newest" or "drop-oldest". The empty string
// selects RejectNewest.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "reject-newest":
		return RejectNewest, nil
	case "drop-oldest":
		return DropOldest, nil
	default:
		return 0, fmt.Errorf("queue: unknown overflow policy %q (want reject-newest or drop-oldest)", s)
	}
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Queued   int
	InFlight int
	Peak     int

	Enqueued  int64
	Dequeued  int64
	Completed int64
	Rejected  int64
	Dropped   int64

	LastEnqueue time.Time
}

// Option is a functional option for [New].
type Option func(*Queue)

// WithPolicy sets the overflow policy. Defaults to RejectNewest.
func WithPolicy(p Policy) Option {
	return func(q *Queue) { q.policy = p }
}

// WithDropHook registers fn to be called, without the queue lock held, for
// every queued utterance discarded to make room.
func WithDropHook(fn func(Utterance)) Option {
	return func(q *Queue) { q.onDrop = fn }
}

// Queue is a bounded two-lane FIFO. It is safe for concurrent use by many
// producers and one consumer.
type Queue struct {
	depth  int
	onDrop func(Utterance)

	mu        sync.Mutex
	policy    Policy
	greetings []Utterance
	chat      []Utterance
	inFlight  int
	closed    bool
	wake      chan struct{} // closed and replaced whenever items arrive
	stats     Stats
}

// New creates a queue holding at most depth items (DefaultDepth if depth < 1).
func New(depth int, opts ...Option) *Queue {
	if depth < 1 {
		depth = DefaultDepth
	}
	q := &Queue{depth: depth, wake: make(chan struct{})}
	for _, o := range opts {
		o(q)
	}
	return q
}

// SetPolicy changes the overflow policy for subsequent Enqueue calls.
func (q *Queue) SetPolicy(p Policy) {
	q.mu.Lock()
	q.policy = p
	q.mu.Unlock()
}

// Enqueue adds u. On a full queue the policy applies: it returns
// [ErrQueueFull] if u is refused, or accepts u after discarding a chat line
// (reported through the drop hook).
func (q *Queue) Enqueue(u Utterance) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}

	var dropped *Utterance
	if len(q.greetings)+len(q.chat) >= q.depth {
		var ok bool
		if dropped, ok = q.makeRoomLocked(u.Kind); !ok {
			q.stats.Rejected++
			q.mu.Unlock()
			return ErrQueueFull
		}
	}

	if u.Kind.IsGreeting() {
		q.greetings = append(q.greetings, u)
	} else {
		q.chat = append(q.chat, u)
	}
	q.stats.Enqueued++
	q.stats.LastEnqueue = time.Now()
	q.stats.Peak = max(q.stats.Peak, len(q.greetings)+len(q.chat))
	q.signalLocked()
	q.mu.Unlock()

	if dropped != nil && q.onDrop != nil {
		q.onDrop(*dropped)
	}
	return nil
}

// makeRoomLocked discards one chat line according to the policy so that an
// item of kind k fits. It reports false when k must be refused instead.
func (q *Queue) makeRoomLocked(k Kind) (*Utterance, bool) {
	if len(q.chat) == 0 {
		return nil, false
	}
	if !k.IsGreeting() && q.policy == RejectNewest {
		return nil, false
	}

	var victim Utterance
	if k.IsGreeting() && q.policy == RejectNewest {
		last := len(q.chat) - 1
		victim = q.chat[last]
		q.chat = q.chat[:last]
	} else {
		victim = q.chat[0]
		q.chat = q.chat[1:]
	}
	q.stats.Dropped++
	return &victim, true
}

func (q *Queue) signalLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// Dequeue removes and returns the next utterance, blocking until one is
// available, ctx is done, or the queue is closed. The caller must call Done
// once it has finished with the item.
func (q *Queue) Dequeue(ctx context.Context) (Utterance, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Utterance{}, ErrQueueClosed
		}
		var (
			u  Utterance
			ok bool
		)
		switch {
		case len(q.greetings) > 0:
			u, q.greetings, ok = q.greetings[0], q.greetings[1:], true
		case len(q.chat) > 0:
			u, q.chat, ok = q.chat[0], q.chat[1:], true
		}
		if ok {
			q.inFlight++
			q.stats.Dequeued++
			q.mu.Unlock()
			return u, nil
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Utterance{}, ctx.Err()
		case <-wake:
		}
	}
}

// Done acknowledges the item most recently returned by Dequeue.
func (q *Queue) Done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inFlight > 0 {
		q.inFlight--
		q.stats.Completed++
	}
}

// Pending returns the number of queued items plus unacknowledged dequeued
// items.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.greetings) + len(q.chat) + q.inFlight
}

// Len returns the number of queued items, excluding the in-flight one.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.greetings) + len(q.chat)
}

// Snapshot returns up to n queued items in dequeue order. n <= 0 returns all.
func (q *Queue) Snapshot(n int) []Utterance {
	q.mu.Lock()
	defer q.mu.Unlock()
	total := len(q.greetings) + len(q.chat)
	if n <= 0 || n > total {
		n = total
	}
	out := make([]Utterance, 0, n)
	out = append(out, q.greetings[:min(n, len(q.greetings))]...)
	out = append(out, q.chat[:n-len(out)]...)
	return out
}

// Clear discards every queued item and returns how many were removed. The
// in-flight item is unaffected.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.greetings) + len(q.chat)
	q.greetings = nil
	q.chat = nil
	q.stats.Dropped += int64(n)
	return n
}

// Close discards queued items and wakes any blocked Dequeue, which then
// returns [ErrQueueClosed]. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.greetings = nil
	q.chat = nil
	q.signalLocked()
}

// Stats returns a snapshot of the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Queued = len(q.greetings) + len(q.chat)
	s.InFlight = q.inFlight
	return s
}
