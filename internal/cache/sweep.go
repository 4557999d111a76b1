package cache

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// Run sweeps the store every SweepInterval, whenever a Put crosses a ceiling
// and whenever a Get meets an expired entry, until ctx is cancelled. Each sweep evicts and flushes pending
// access times to the index.
func (s *Store) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-s.sweep:
		}
		if _, err := s.Evict(ctx); err != nil {
			slog.Warn("cache: sweep failed", "err", err)
		}
	}
}

// Evict removes expired entries, then least recently used entries until both
// size and count are at or below TargetRatio of their ceilings. The LRU phase
// only runs when a ceiling is exceeded. It returns the number of evicted
// entries.
func (s *Store) Evict(ctx context.Context) (int, error) {
	s.mu.Lock()
	expired := s.evictExpiredLocked()
	lru := s.evictLRULocked()
	s.mu.Unlock()

	removed := append(expired, lru...)
	s.forget(ctx, removed)
	s.metrics.RecordCacheEvictions(ctx, "expired", len(expired))
	s.metrics.RecordCacheEvictions(ctx, "lru", len(lru))
	if len(removed) > 0 {
		slog.Info("cache: evicted", "expired", len(expired), "lru", len(lru))
	}
	return len(removed), s.flush(ctx)
}

// PurgeExpired removes only the entries older than MaxAge.
func (s *Store) PurgeExpired(ctx context.Context) int {
	s.mu.Lock()
	expired := s.evictExpiredLocked()
	s.mu.Unlock()

	s.forget(ctx, expired)
	s.metrics.RecordCacheEvictions(ctx, "expired", len(expired))
	return len(expired)
}

func (s *Store) evictExpiredLocked() []string {
	if s.cfg.MaxAge <= 0 {
		return nil
	}
	var keys []string
	for _, e := range s.entries {
		if s.expiredLocked(e) {
			keys = append(keys, e.Key)
			s.removeLocked(e)
		}
	}
	return keys
}

func (s *Store) overCeilingLocked() bool {
	return (s.cfg.MaxBytes > 0 && s.size > s.cfg.MaxBytes) ||
		(s.cfg.MaxEntries > 0 && len(s.entries) > s.cfg.MaxEntries)
}

func (s *Store) evictLRULocked() []string {
	if !s.overCeilingLocked() {
		return nil
	}
	targetBytes := int64(float64(s.cfg.MaxBytes) * s.cfg.TargetRatio)
	targetEntries := int(float64(s.cfg.MaxEntries) * s.cfg.TargetRatio)

	order := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		order = append(order, e)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if !a.LastAccessAt.Equal(b.LastAccessAt) {
			return a.LastAccessAt.Before(b.LastAccessAt)
		}
		return a.Key < b.Key
	})

	var keys []string
	for _, e := range order {
		sizeOK := s.cfg.MaxBytes <= 0 || s.size <= targetBytes
		countOK := s.cfg.MaxEntries <= 0 || len(s.entries) <= targetEntries
		if sizeOK && countOK {
			break
		}
		keys = append(keys, e.Key)
		s.removeLocked(e)
	}
	return keys
}

// flush writes pending access times to the index.
func (s *Store) flush(ctx context.Context) error {
	if s.idx == nil {
		return nil
	}
	s.mu.Lock()
	batch := make([]Entry, 0, len(s.dirty))
	for k := range s.dirty {
		if e, ok := s.entries[k]; ok {
			batch = append(batch, *e)
		}
	}
	s.dirty = make(map[string]struct{})
	s.mu.Unlock()

	if err := s.idx.touch(ctx, batch); err != nil {
		s.mu.Lock()
		for _, e := range batch {
			s.dirty[e.Key] = struct{}{}
		}
		s.mu.Unlock()
		return err
	}
	return nil
}
