package discord

import (
	"math"
	"slices"
	"sync"
	"time"

	"github.com/jinwktk/YomiageBotAlpha/internal/playback"
	"github.com/jinwktk/YomiageBotAlpha/internal/queue"
)

// PlaybackStats collects read-aloud latency samples and outcome counters
// for the /stats command. It maintains a bounded ring buffer of recent
// latency observations from which percentiles are computed on demand.
//
// Thread-safe for concurrent use.
type PlaybackStats struct {
	mu  sync.Mutex
	now func() time.Time

	// chat is the time from a message being enqueued to its clip ending.
	chat     latencyBuffer
	greeting latencyBuffer

	outcomes map[playback.Outcome]int64
}

// NewPlaybackStats creates a PlaybackStats with the given window size
// (maximum number of latency samples retained per kind).
func NewPlaybackStats(windowSize int) *PlaybackStats {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &PlaybackStats{
		now:      time.Now,
		chat:     newLatencyBuffer(windowSize),
		greeting: newLatencyBuffer(windowSize),
		outcomes: make(map[playback.Outcome]int64),
	}
}

// Observe records how an utterance ended. Its signature matches
// playback.WithObserver. Only played clips contribute latency samples.
func (ps *PlaybackStats) Observe(u queue.Utterance, o playback.Outcome) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.outcomes[o]++
	if o != playback.Played || u.EnqueuedAt.IsZero() {
		return
	}
	d := max(ps.now().Sub(u.EnqueuedAt), 0)
	if u.Kind.IsGreeting() {
		ps.greeting.add(d)
	} else {
		ps.chat.add(d)
	}
}

// LatencyPercentiles holds p50 and p95 values for a latency series.
type LatencyPercentiles struct {
	P50 time.Duration
	P95 time.Duration
}

// StatsSnapshot captures a point-in-time view of all playback statistics.
type StatsSnapshot struct {
	Chat     LatencyPercentiles
	Greeting LatencyPercentiles

	Played   int64
	Skipped  int64
	TimedOut int64
	Failed   int64
}

// Snapshot returns a point-in-time view of all playback statistics.
func (ps *PlaybackStats) Snapshot() StatsSnapshot {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	return StatsSnapshot{
		Chat:     ps.chat.percentiles(),
		Greeting: ps.greeting.percentiles(),
		Played:   ps.outcomes[playback.Played],
		Skipped:  ps.outcomes[playback.Skipped],
		TimedOut: ps.outcomes[playback.TimedOut],
		Failed:   ps.outcomes[playback.SynthFailed] + ps.outcomes[playback.PlayFailed],
	}
}

// latencyBuffer is a bounded ring buffer of duration samples.
type latencyBuffer struct {
	data []time.Duration
	size int
	pos  int
	full bool
}

func newLatencyBuffer(size int) latencyBuffer {
	return latencyBuffer{
		data: make([]time.Duration, size),
		size: size,
	}
}

func (lb *latencyBuffer) add(d time.Duration) {
	lb.data[lb.pos] = d
	lb.pos++
	if lb.pos >= lb.size {
		lb.pos = 0
		lb.full = true
	}
}

func (lb *latencyBuffer) percentiles() LatencyPercentiles {
	n := lb.pos
	if lb.full {
		n = lb.size
	}
	if n == 0 {
		return LatencyPercentiles{}
	}

	sorted := slices.Clone(lb.data[:n])
	slices.Sort(sorted)

	return LatencyPercentiles{
		P50: percentile(sorted, 0.50),
		P95: percentile(sorted, 0.95),
	}
}

// percentile returns the value at the given percentile (0.0-1.0) from a
// sorted slice of durations using nearest-rank.
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	idx = min(max(idx, 0), len(sorted)-1)
	return sorted[idx]
}
