package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jinwktk/YomiageBotAlpha/pkg/audio/audiotest"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func key(i int) string { return fmt.Sprintf("%064x", i) }

func openTestStore(t *testing.T, cfg Config, opts ...Option) *Store {
	t.Helper()
	if cfg.Root == "" {
		cfg.Root = t.TempDir()
	}
	s, err := Open(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGet_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, level := range []int{0, 3} {
		t.Run(fmt.Sprintf("level=%d", level), func(t *testing.T) {
			t.Parallel()
			s := openTestStore(t, Config{CompressionLevel: level})
			// Leading silence keeps the clip compressible at any level.
			clip := append(audiotest.Encode(make([]byte, 9600), 24000, 1),
				audiotest.WAV(24000, 1, 50*time.Millisecond)[44:]...)

			e, err := s.Put(key(1), clip)
			if err != nil {
				t.Fatalf("Put: %v", err)
			}
			if e.Compressed != (level > 0) {
				t.Errorf("Compressed = %v with level %d", e.Compressed, level)
			}

			got, audio, ok := s.Get(key(1))
			if !ok {
				t.Fatal("Get: miss after Put")
			}
			if !bytes.Equal(audio, clip) {
				t.Error("audio differs from what was stored")
			}
			if got.Key != key(1) || got.SizeBytes != e.SizeBytes {
				t.Errorf("entry = %+v, want %+v", got, e)
			}

			if !s.Touch(key(1)) {
				t.Fatal("Touch: key not found")
			}
			_, again, _ := s.Get(key(1))
			if !bytes.Equal(again, clip) {
				t.Error("Touch changed the stored audio")
			}
		})
	}
}

func TestPut_WritesExpectedFile(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, Config{CompressionLevel: 3})
	silence := audiotest.Encode(make([]byte, 48000), 24000, 1)
	if _, err := s.Put(key(7), silence); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.Root(), key(7)+".wav.zst")); err != nil {
		t.Errorf("compressed file missing: %v", err)
	}

	// Incompressible payloads are stored as plain WAV.
	noise := make([]byte, 64)
	for i := range noise {
		noise[i] = byte(i*131 + 17)
	}
	e, err := s.Put(key(8), noise)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if e.Compressed {
		t.Error("tiny payload should not be compressed")
	}
	if _, err := os.Stat(filepath.Join(s.Root(), key(8)+".wav")); err != nil {
		t.Errorf("plain file missing: %v", err)
	}
}

func TestPut_Idempotent(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := openTestStore(t, Config{}, WithClock(clock.Now))

	first, err := s.Put(key(1), []byte("RIFF-first"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	clock.Advance(time.Minute)
	second, err := s.Put(key(1), []byte("RIFF-second-longer"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if second != first {
		t.Errorf("second Put returned %+v, want existing %+v", second, first)
	}
	_, audio, _ := s.Get(key(1))
	if string(audio) != "RIFF-first" {
		t.Errorf("audio = %q, want original payload", audio)
	}
	if st := s.Stats(); st.Entries != 1 {
		t.Errorf("Entries = %d, want 1", st.Entries)
	}
}

func TestPut_RejectsBadInput(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, Config{})
	for _, k := range []string{"", "../../etc/passwd", "ABCDEF0123456789", "short", strings.Repeat("g", 64)} {
		if _, err := s.Put(k, []byte("x")); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Put(%q) err = %v, want ErrInvalidKey", k, err)
		}
	}
	if _, err := s.Put(key(1), nil); !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("Put(empty) err = %v, want ErrEmptyAudio", err)
	}
}

func TestPut_Concurrent(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, Config{CompressionLevel: 3})
	clip := audiotest.WAV(24000, 1, 100*time.Millisecond)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			if _, err := s.Put(key(3), clip); err != nil {
				t.Errorf("Put: %v", err)
			}
		})
	}
	wg.Wait()

	if st := s.Stats(); st.Entries != 1 {
		t.Errorf("Entries = %d, want 1", st.Entries)
	}
	matches, _ := filepath.Glob(filepath.Join(s.Root(), "*.tmp"))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestGet_UnreadableEntryIsDropped(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, Config{CompressionLevel: 3})
	silence := audiotest.Encode(make([]byte, 4800), 24000, 1)
	if _, err := s.Put(key(1), silence); err != nil {
		t.Fatalf("Put: %v", err)
	}
	path := filepath.Join(s.Root(), key(1)+".wav.zst")
	if err := os.WriteFile(path, []byte("not zstd"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, _, ok := s.Get(key(1)); ok {
		t.Fatal("Get returned a hit for a corrupt file")
	}
	if s.Contains(key(1)) {
		t.Error("corrupt entry still indexed")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("corrupt file not removed: %v", err)
	}
}

func TestEvict_LRUOrder(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := openTestStore(t, Config{MaxEntries: 5}, WithClock(clock.Now))

	for i := range 6 {
		if _, err := s.Put(key(i), []byte("RIFFdata")); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
		clock.Advance(time.Second)
	}
	// Entry 0 is the oldest write but the most recent access.
	s.Touch(key(0))

	n, err := s.Evict(context.Background())
	if err != nil {
		t.Fatalf("Evict: %v", err)
	}
	// Target is 0.8 * 5 = 4 entries.
	if n != 2 {
		t.Errorf("evicted %d, want 2", n)
	}
	for i, want := range []bool{true, false, false, true, true, true} {
		if got := s.Contains(key(i)); got != want {
			t.Errorf("Contains(%d) = %v, want %v", i, got, want)
		}
	}
}

func TestEvict_SizeBound(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := openTestStore(t, Config{MaxBytes: 1000}, WithClock(clock.Now))

	payload := bytes.Repeat([]byte{1}, 200)
	for i := range 6 {
		if _, err := s.Put(key(i), payload); err != nil {
			t.Fatalf("Put: %v", err)
		}
		clock.Advance(time.Second)
	}
	if _, err := s.Evict(context.Background()); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if st := s.Stats(); st.Bytes > 800 {
		t.Errorf("Bytes = %d, want <= 800", st.Bytes)
	}
	if s.Contains(key(0)) || !s.Contains(key(5)) {
		t.Error("size eviction did not remove the least recently used entries first")
	}
}

func TestEvict_UnderCeilingKeepsEverything(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, Config{MaxEntries: 10, MaxBytes: 1 << 20})
	for i := range 9 {
		if _, err := s.Put(key(i), []byte("RIFF")); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.Evict(context.Background())
	if err != nil || n != 0 {
		t.Errorf("Evict = (%d, %v), want (0, nil)", n, err)
	}
}

func TestEvict_ExpiredByCreation(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := openTestStore(t, Config{MaxAge: time.Hour}, WithClock(clock.Now))

	if _, err := s.Put(key(1), []byte("old")); err != nil {
		t.Fatal(err)
	}
	clock.Advance(50 * time.Minute)
	if _, err := s.Put(key(2), []byte("new")); err != nil {
		t.Fatal(err)
	}
	clock.Advance(20 * time.Minute)
	// A recent access does not extend an entry's lifetime.
	s.Touch(key(1))

	n, err := s.Evict(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || s.Contains(key(1)) || !s.Contains(key(2)) {
		t.Errorf("evicted %d; contains(1)=%v contains(2)=%v", n, s.Contains(key(1)), s.Contains(key(2)))
	}
}

func TestGet_ExpiredIsMissAndWakesSweeper(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := openTestStore(t, Config{MaxAge: time.Hour, SweepInterval: time.Hour}, WithClock(clock.Now))
	if _, err := s.Put(key(1), []byte("RIFF")); err != nil {
		t.Fatal(err)
	}
	if _, _, ok := s.Get(key(1)); !ok {
		t.Fatal("fresh entry missed")
	}

	clock.Advance(61 * time.Minute)
	if _, audio, ok := s.Get(key(1)); ok {
		t.Fatalf("expired entry served: %q", audio)
	}
	if st := s.Stats(); st.Misses != 1 {
		t.Errorf("misses = %d, want 1", st.Misses)
	}

	// Removal is left to the sweeper, which the miss has signalled.
	if !s.Contains(key(1)) {
		t.Fatal("Get removed the entry itself")
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for s.Contains(key(1)) {
		if time.Now().After(deadline) {
			t.Fatal("sweeper did not remove the expired entry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPut_ReplacesExpiredEntry(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	s := openTestStore(t, Config{MaxAge: time.Hour}, WithClock(clock.Now))
	if _, err := s.Put(key(1), []byte("RIFF-old")); err != nil {
		t.Fatal(err)
	}
	clock.Advance(2 * time.Hour)

	e, err := s.Put(key(1), []byte("RIFF-new"))
	if err != nil {
		t.Fatal(err)
	}
	if !e.CreatedAt.Equal(clock.Now()) {
		t.Errorf("CreatedAt = %v, want %v", e.CreatedAt, clock.Now())
	}
	_, audio, ok := s.Get(key(1))
	if !ok || string(audio) != "RIFF-new" {
		t.Errorf("Get = (%q, %v), want fresh audio", audio, ok)
	}
	if st := s.Stats(); st.Entries != 1 || st.Bytes != int64(len("RIFF-new")) {
		t.Errorf("stats = %+v, want one entry of the new size", st)
	}
}

func TestPurge(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, Config{})
	for i := range 3 {
		if _, err := s.Put(key(i), []byte("RIFF")); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.Purge(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("Purge = (%d, %v), want (3, nil)", n, err)
	}
	if st := s.Stats(); st.Entries != 0 || st.Bytes != 0 {
		t.Errorf("stats after purge = %+v", st)
	}
	files, _ := filepath.Glob(filepath.Join(s.Root(), "*.wav*"))
	if len(files) != 0 {
		t.Errorf("files left after purge: %v", files)
	}
}

func TestRun_SweepsAfterOverflowingPut(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, Config{MaxEntries: 5, SweepInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for i := range 6 {
		if _, err := s.Put(key(i), []byte("RIFF")); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.Stats().Entries > 4 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeper did not run; entries = %d", s.Stats().Entries)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}

func TestOpen_ReconcilesWithIndex(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	clock := newFakeClock()

	s, err := Open(context.Background(), Config{Root: root}, WithClock(clock.Now))
	if err != nil {
		t.Fatal(err)
	}
	for i := range 3 {
		if _, err := s.Put(key(i), []byte("RIFFdata")); err != nil {
			t.Fatal(err)
		}
	}
	clock.Advance(time.Hour)
	s.Touch(key(0))
	touchedAt := clock.Now()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Orphan row: file gone while the bot was down.
	if err := os.Remove(filepath.Join(root, key(2)+".wav")); err != nil {
		t.Fatal(err)
	}
	// Unindexed file copied in by hand.
	if err := os.WriteFile(filepath.Join(root, key(9)+".wav"), []byte("RIFFmanual"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Leftover from an interrupted write.
	if err := os.WriteFile(filepath.Join(root, key(5)+".123.tmp"), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}

	s2 := openTestStore(t, Config{Root: root})

	e0, _, ok := s2.Get(key(0))
	if !ok {
		t.Fatal("entry 0 lost across restart")
	}
	if !e0.LastAccessAt.Equal(touchedAt) {
		t.Errorf("LastAccessAt = %v, want %v", e0.LastAccessAt, touchedAt)
	}
	if s2.Contains(key(2)) {
		t.Error("entry whose file vanished is still present")
	}
	e9, _, ok := s2.Get(key(9))
	if !ok {
		t.Fatal("unindexed file not adopted")
	}
	if !e9.LastAccessAt.IsZero() {
		t.Errorf("adopted entry LastAccessAt = %v, want zero", e9.LastAccessAt)
	}
	if e9.CreatedAt.IsZero() {
		t.Error("adopted entry CreatedAt should come from the file mtime")
	}
	if tmps, _ := filepath.Glob(filepath.Join(root, "*.tmp")); len(tmps) != 0 {
		t.Errorf("stray temp files not removed: %v", tmps)
	}

	rows, err := s2.idx.load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := rows[key(2)]; ok {
		t.Error("orphan index row not deleted")
	}
	if _, ok := rows[key(9)]; !ok {
		t.Error("adopted file has no index row")
	}
}

func TestOpen_WithoutIndex(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, Config{}, WithoutIndex())
	if _, err := s.Put(key(1), []byte("RIFF")); err != nil {
		t.Fatal(err)
	}
	s.Touch(key(1))
	if _, err := s.Evict(context.Background()); err != nil {
		t.Errorf("Evict without index: %v", err)
	}
	if s.Stats().IndexAvailable {
		t.Error("IndexAvailable = true with WithoutIndex")
	}
	if _, err := os.Stat(filepath.Join(s.Root(), indexFile)); !os.IsNotExist(err) {
		t.Error("index file created despite WithoutIndex")
	}
}

func TestStats(t *testing.T) {
	t.Parallel()

	s := openTestStore(t, Config{MaxBytes: 500 * 1000 * 1000})
	if _, err := s.Put(key(1), []byte("RIFF")); err != nil {
		t.Fatal(err)
	}
	s.Get(key(1))
	s.Get(key(2))

	st := s.Stats()
	if st.Hits != 1 || st.Misses != 1 || st.HitRate() != 0.5 {
		t.Errorf("stats = %+v", st)
	}
	if got := st.String(); !strings.Contains(got, "500 MB") || !strings.Contains(got, "50%") {
		t.Errorf("String() = %q", got)
	}
	if err := s.Writable(); err != nil {
		t.Errorf("Writable: %v", err)
	}
}
