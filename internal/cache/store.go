package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/jinwktk/YomiageBotAlpha/internal/observe"
)

const (
	wavExt  = ".wav"
	zstdExt = ".wav.zst"
	tmpExt  = ".tmp"
)

// Option is a functional option for [Open].
type Option func(*Store)

// WithClock replaces time.Now. Used by tests to control ages and access order.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithoutIndex disables the SQLite sidecar. Access times then reset on every
// restart.
func WithoutIndex() Option {
	return func(s *Store) { s.noIndex = true }
}

// Store is the audio cache. It is safe for concurrent use.
type Store struct {
	cfg     Config
	now     func() time.Time
	metrics *observe.Metrics
	noIndex bool

	enc *zstd.Encoder
	dec *zstd.Decoder
	idx *index // nil when the sidecar is unavailable

	// sweep receives a non-blocking signal when a Put crosses a ceiling.
	sweep chan struct{}

	mu      sync.Mutex
	entries map[string]*Entry
	size    int64
	dirty   map[string]struct{}
	closed  bool

	hits, misses, evictions, writeErrors int64
}

// Open creates the cache root if needed, reconciles the directory with the
// sidecar index, and returns a ready store. Call [Store.Run] to enable the
// background sweep and [Store.Close] on shutdown.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	if cfg.Root == "" {
		return nil, errors.New("cache: root must not be empty")
	}
	cfg.applyDefaults()

	s := &Store{
		cfg:     cfg,
		now:     time.Now,
		metrics: observe.DefaultMetrics(),
		sweep:   make(chan struct{}, 1),
		entries: make(map[string]*Entry),
		dirty:   make(map[string]struct{}),
	}
	for _, o := range opts {
		o(s)
	}

	if err := os.MkdirAll(cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("cache: create root: %w", err)
	}

	if cfg.CompressionLevel > 0 {
		var err error
		s.enc, err = zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(cfg.CompressionLevel)))
		if err != nil {
			return nil, fmt.Errorf("cache: create zstd encoder: %w", err)
		}
	}
	// The decoder is always available so that compressed files written under
	// an earlier configuration stay readable.
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("cache: create zstd decoder: %w", err)
	}
	s.dec = dec

	if !s.noIndex {
		idx, err := openIndex(ctx, filepath.Join(cfg.Root, indexFile))
		if err != nil {
			slog.Warn("cache: index unavailable, continuing without it", "err", err)
		} else {
			s.idx = idx
		}
	}

	if err := s.scan(ctx); err != nil {
		s.closeCodecs()
		if s.idx != nil {
			_ = s.idx.close()
		}
		return nil, err
	}
	slog.Info("cache: opened", "root", cfg.Root, "entries", len(s.entries), "bytes", s.size)
	return s, nil
}

// scan rebuilds the in-memory index from the directory listing. Index rows
// supply access times; files without a row get a zero access time; rows
// without a file are deleted; leftover temp files are removed.
func (s *Store) scan(ctx context.Context) error {
	var rows map[string]Entry
	if s.idx != nil {
		var err error
		if rows, err = s.idx.load(ctx); err != nil {
			slog.Warn("cache: could not load index, rebuilding from disk", "err", err)
			rows = nil
		}
	}

	dirEntries, err := os.ReadDir(s.cfg.Root)
	if err != nil {
		return fmt.Errorf("cache: read root: %w", err)
	}

	var adopted []Entry
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		path := filepath.Join(s.cfg.Root, name)

		if strings.HasSuffix(name, tmpExt) {
			if err := os.Remove(path); err != nil {
				slog.Warn("cache: could not remove stray temp file", "path", path, "err", err)
			}
			continue
		}

		key, compressed, ok := parseFileName(name)
		if !ok {
			continue
		}
		if _, dup := s.entries[key]; dup {
			// Both <key>.wav and <key>.wav.zst exist; keep the first.
			_ = os.Remove(path)
			continue
		}
		info, err := de.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("cache: stat %s: %w", name, err)
		}

		e := &Entry{Key: key, SizeBytes: info.Size(), Compressed: compressed}
		if row, ok := rows[key]; ok {
			e.CreatedAt = row.CreatedAt
			e.LastAccessAt = row.LastAccessAt
			if row.SizeBytes != e.SizeBytes || row.Compressed != compressed {
				adopted = append(adopted, *e)
			}
			delete(rows, key)
		} else {
			e.CreatedAt = info.ModTime()
			adopted = append(adopted, *e)
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = info.ModTime()
		}
		s.entries[key] = e
		s.size += e.SizeBytes
	}

	if s.idx != nil {
		for _, e := range adopted {
			if err := s.idx.upsert(ctx, e); err != nil {
				slog.Warn("cache: index upsert failed", "key", e.Key, "err", err)
			}
		}
		if len(rows) > 0 {
			orphans := make([]string, 0, len(rows))
			for k := range rows {
				orphans = append(orphans, k)
			}
			if err := s.idx.remove(ctx, orphans); err != nil {
				slog.Warn("cache: could not delete orphan index rows", "count", len(orphans), "err", err)
			}
		}
	}
	return nil
}

// parseFileName extracts the key from "<key>.wav" or "<key>.wav.zst".
func parseFileName(name string) (key string, compressed, ok bool) {
	switch {
	case strings.HasSuffix(name, zstdExt):
		key, compressed = strings.TrimSuffix(name, zstdExt), true
	case strings.HasSuffix(name, wavExt):
		key = strings.TrimSuffix(name, wavExt)
	default:
		return "", false, false
	}
	return key, compressed, validKey(key)
}

func (s *Store) path(key string, compressed bool) string {
	if compressed {
		return filepath.Join(s.cfg.Root, key+zstdExt)
	}
	return filepath.Join(s.cfg.Root, key+wavExt)
}

// Get returns the entry and a copy of its audio. A file that can no longer be
// read or decoded is dropped and reported as a miss. An entry older than
// MaxAge is a miss too; it is left for the sweeper, which is woken. Get does
// not update the access time; call [Store.Touch] for that.
func (s *Store) Get(key string) (Entry, []byte, bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok || s.closed {
		s.misses++
		s.mu.Unlock()
		return Entry{}, nil, false
	}
	if s.expiredLocked(e) {
		s.misses++
		s.mu.Unlock()
		s.wake()
		return Entry{}, nil, false
	}
	snapshot := *e
	s.mu.Unlock()

	audio, err := s.read(snapshot)
	if err != nil {
		slog.Warn("cache: dropping unreadable entry", "key", key, "err", err)
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return Entry{}, nil, false
		}
		if s.entries[key] == e {
			s.removeLocked(e)
		}
		s.misses++
		s.mu.Unlock()
		s.forget(context.Background(), []string{key})
		s.metrics.RecordCacheEvictions(context.Background(), "corrupt", 1)
		return Entry{}, nil, false
	}

	s.mu.Lock()
	s.hits++
	s.mu.Unlock()
	return snapshot, audio, true
}

func (s *Store) read(e Entry) ([]byte, error) {
	data, err := os.ReadFile(s.path(e.Key, e.Compressed))
	if err != nil {
		return nil, err
	}
	if e.Compressed {
		if data, err = s.dec.DecodeAll(data, nil); err != nil {
			return nil, fmt.Errorf("decompress: %w", err)
		}
	}
	return data, nil
}

// Put stores audio under key and returns its entry. Put is idempotent: when
// the key already exists the existing entry is returned unchanged and the
// new payload is discarded. An expired entry is replaced.
func (s *Store) Put(key string, audio []byte) (Entry, error) {
	if !validKey(key) {
		return Entry{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if len(audio) == 0 {
		return Entry{}, ErrEmptyAudio
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Entry{}, ErrClosed
	}
	var stale bool
	if e, ok := s.entries[key]; ok {
		if !s.expiredLocked(e) {
			existing := *e
			s.mu.Unlock()
			return existing, nil
		}
		s.removeLocked(e)
		stale = true
	}
	s.mu.Unlock()
	if stale {
		s.forget(context.Background(), []string{key})
		s.metrics.RecordCacheEvictions(context.Background(), "expired", 1)
	}

	payload, compressed := s.encode(audio)
	tmp, err := s.writeTemp(key, payload)
	if err != nil {
		s.countWriteError()
		return Entry{}, err
	}

	s.mu.Lock()
	if e, ok := s.entries[key]; ok {
		// A concurrent Put won the race.
		existing := *e
		s.mu.Unlock()
		_ = os.Remove(tmp)
		return existing, nil
	}
	if err := os.Rename(tmp, s.path(key, compressed)); err != nil {
		s.writeErrors++
		s.mu.Unlock()
		_ = os.Remove(tmp)
		return Entry{}, fmt.Errorf("cache: commit %s: %w", key, err)
	}
	now := s.now()
	e := &Entry{
		Key:          key,
		SizeBytes:    int64(len(payload)),
		CreatedAt:    now,
		LastAccessAt: now,
		Compressed:   compressed,
	}
	s.entries[key] = e
	s.size += e.SizeBytes
	over := s.overCeilingLocked()
	entry := *e
	s.mu.Unlock()

	if s.idx != nil {
		if err := s.idx.upsert(context.Background(), entry); err != nil {
			slog.Warn("cache: index upsert failed", "key", key, "err", err)
		}
	}
	if over {
		s.wake()
	}
	return entry, nil
}

// wake signals the sweeper without blocking.
func (s *Store) wake() {
	select {
	case s.sweep <- struct{}{}:
	default:
	}
}

func (s *Store) expiredLocked(e *Entry) bool {
	return s.cfg.MaxAge > 0 && e.CreatedAt.Before(s.now().Add(-s.cfg.MaxAge))
}

// encode compresses audio when enabled and only if it shrinks the payload.
func (s *Store) encode(audio []byte) ([]byte, bool) {
	if s.enc == nil {
		return audio, false
	}
	c := s.enc.EncodeAll(audio, make([]byte, 0, len(audio)/2))
	if len(c) >= len(audio) {
		return audio, false
	}
	return c, true
}

// writeTemp writes payload to a uniquely named temp file in the root.
func (s *Store) writeTemp(key string, payload []byte) (string, error) {
	f, err := os.CreateTemp(s.cfg.Root, key+".*"+tmpExt)
	if err != nil {
		return "", fmt.Errorf("cache: create temp file: %w", err)
	}
	_, werr := bytes.NewReader(payload).WriteTo(f)
	cerr := f.Close()
	if err := errors.Join(werr, cerr); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("cache: write %s: %w", key, err)
	}
	return f.Name(), nil
}

func (s *Store) countWriteError() {
	s.mu.Lock()
	s.writeErrors++
	s.mu.Unlock()
}

// Touch records an access to key. The index row is updated by the next sweep
// or by Close. It reports whether the key exists.
func (s *Store) Touch(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	e.LastAccessAt = s.now()
	s.dirty[key] = struct{}{}
	return true
}

// Contains reports whether key is cached without reading it.
func (s *Store) Contains(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Purge removes every entry and returns how many were removed.
func (s *Store) Purge(ctx context.Context) (int, error) {
	s.mu.Lock()
	var errs []error
	n := 0
	for _, e := range s.entries {
		if err := os.Remove(s.path(e.Key, e.Compressed)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
		n++
	}
	s.entries = make(map[string]*Entry)
	s.dirty = make(map[string]struct{})
	s.size = 0
	s.evictions += int64(n)
	s.mu.Unlock()

	if s.idx != nil {
		if err := s.idx.clear(ctx); err != nil {
			slog.Warn("cache: index clear failed", "err", err)
		}
	}
	s.metrics.RecordCacheEvictions(ctx, "purge", n)
	slog.Info("cache: purged", "entries", n)
	return n, errors.Join(errs...)
}

// Stats returns a snapshot of the store.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Entries:        len(s.entries),
		Bytes:          s.size,
		MaxEntries:     s.cfg.MaxEntries,
		MaxBytes:       s.cfg.MaxBytes,
		MaxAge:         s.cfg.MaxAge,
		Hits:           s.hits,
		Misses:         s.misses,
		Evictions:      s.evictions,
		WriteErrors:    s.writeErrors,
		IndexAvailable: s.idx != nil,
	}
	for _, e := range s.entries {
		if e.Compressed {
			st.Compressed++
		}
		if st.Oldest.IsZero() || e.CreatedAt.Before(st.Oldest) {
			st.Oldest = e.CreatedAt
		}
	}
	return st
}

// Root returns the cache directory.
func (s *Store) Root() string { return s.cfg.Root }

// Writable reports whether a file can be created in the cache root. Used by
// the readiness probe.
func (s *Store) Writable() error {
	f, err := os.CreateTemp(s.cfg.Root, "probe.*"+tmpExt)
	if err != nil {
		return fmt.Errorf("cache: root not writable: %w", err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// Close flushes pending access times and releases the index. Further Puts
// fail with ErrClosed and Gets miss.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.flush(context.Background())
	if s.idx != nil {
		err = errors.Join(err, s.idx.close())
	}
	s.closeCodecs()
	return err
}

func (s *Store) closeCodecs() {
	if s.enc != nil {
		_ = s.enc.Close()
	}
	if s.dec != nil {
		s.dec.Close()
	}
}

// removeLocked drops e from memory and deletes its file. s.mu must be held.
func (s *Store) removeLocked(e *Entry) {
	if err := os.Remove(s.path(e.Key, e.Compressed)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("cache: could not remove file", "key", e.Key, "err", err)
	}
	delete(s.entries, e.Key)
	delete(s.dirty, e.Key)
	s.size -= e.SizeBytes
	s.evictions++
}

// forget deletes index rows; failures are logged.
func (s *Store) forget(ctx context.Context, keys []string) {
	if s.idx == nil || len(keys) == 0 {
		return
	}
	if err := s.idx.remove(ctx, keys); err != nil {
		slog.Warn("cache: index delete failed", "count", len(keys), "err", err)
	}
}
