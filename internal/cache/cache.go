// Package cache implements the content-addressed store for synthesized audio.
//
// Every clip lives in its own file under the cache root, named after its key:
// <key>.wav, or <key>.wav.zst when zstd compression shrinks the payload.
// Writes are atomic (temp file + rename). Entry metadata is held in memory
// and mirrored to a SQLite sidecar (<root>/index.db) so access times survive
// restarts. The sidecar is advisory: when it cannot be opened or written the
// store keeps working from the directory listing alone.
//
// The store is bounded by total size, entry count and entry age. Eviction
// never runs on the Put path; [Store.Run] sweeps on a ticker and whenever a
// Put pushes the store over a ceiling.
package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

var (
	// ErrInvalidKey is returned for keys that are not lower-case hex digests.
	ErrInvalidKey = errors.New("cache: invalid key")

	// ErrEmptyAudio is returned by Put for a zero-length payload.
	ErrEmptyAudio = errors.New("cache: empty audio")

	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("cache: store closed")
)

// Entry is the metadata of one cached clip. The audio itself is owned by the
// store and returned as a copy from [Store.Get].
type Entry struct {
	Key string

	// SizeBytes is the size of the file on disk, after compression.
	SizeBytes int64

	CreatedAt time.Time

	// LastAccessAt is zero for files found on disk without an index row.
	// Such entries sort as least recently used.
	LastAccessAt time.Time

	Compressed bool
}

// Config bounds the store. Zero ceilings disable the corresponding bound.
type Config struct {
	// Root is the cache directory. It is created if missing.
	Root string

	MaxBytes   int64
	MaxEntries int
	MaxAge     time.Duration

	// TargetRatio is the fraction of each ceiling a sweep evicts down to.
	// Defaults to 0.8.
	TargetRatio float64

	// SweepInterval is the period of the background sweep. Defaults to 10m.
	SweepInterval time.Duration

	// CompressionLevel is the zstd level (1-22). Zero stores clips as plain
	// WAV files.
	CompressionLevel int
}

const (
	defaultTargetRatio   = 0.8
	defaultSweepInterval = 10 * time.Minute
)

func (c *Config) applyDefaults() {
	if c.TargetRatio <= 0 || c.TargetRatio > 1 {
		c.TargetRatio = defaultTargetRatio
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = defaultSweepInterval
	}
}

// Stats is a point-in-time snapshot of the store.
type Stats struct {
	Entries    int
	Bytes      int64
	Compressed int
	MaxEntries int
	MaxBytes   int64
	MaxAge     time.Duration

	Hits        int64
	Misses      int64
	Evictions   int64
	WriteErrors int64

	// Oldest is the creation time of the oldest entry; zero when empty.
	Oldest time.Time

	// IndexAvailable is false when the SQLite sidecar could not be opened.
	IndexAvailable bool
}

// HitRate returns hits / (hits + misses), or 0 with no lookups.
func (s Stats) HitRate() float64 {
	if total := s.Hits + s.Misses; total > 0 {
		return float64(s.Hits) / float64(total)
	}
	return 0
}

// String renders a one-line human readable summary.
func (s Stats) String() string {
	size := humanize.Bytes(uint64(s.Bytes))
	if s.MaxBytes > 0 {
		size += " / " + humanize.Bytes(uint64(s.MaxBytes))
	}
	return fmt.Sprintf("%s entries, %s, hit rate %.0f%%, %s evicted",
		humanize.Comma(int64(s.Entries)), size, s.HitRate()*100, humanize.Comma(s.Evictions))
}

// validKey reports whether key is safe to use as a file name: 16 to 128
// lower-case hex characters.
func validKey(key string) bool {
	if len(key) < 16 || len(key) > 128 {
		return false
	}
	for i := range len(key) {
		c := key[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
