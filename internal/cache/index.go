package cache

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// indexFile is the name of the SQLite sidecar inside the cache root.
const indexFile = "index.db"

// index mirrors entry metadata into SQLite. All methods are safe for
// concurrent use; database/sql serialises access to the single connection.
type index struct {
	db *sql.DB
}

func openIndex(ctx context.Context, path string) (*index, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: open index: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: ping index: %w", err)
	}

	const ddl = `
CREATE TABLE IF NOT EXISTS entries (
    key            TEXT PRIMARY KEY,
    size_bytes     INTEGER NOT NULL,
    created_at     INTEGER NOT NULL,
    last_access_at INTEGER NOT NULL,
    compressed     INTEGER NOT NULL DEFAULT 0
);`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: init index schema: %w", err)
	}
	return &index{db: db}, nil
}

func (ix *index) close() error { return ix.db.Close() }

// load returns every row keyed by cache key.
func (ix *index) load(ctx context.Context) (map[string]Entry, error) {
	rows, err := ix.db.QueryContext(ctx,
		`SELECT key, size_bytes, created_at, last_access_at, compressed FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("cache: load index: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Entry)
	for rows.Next() {
		var (
			e                 Entry
			created, accessed int64
		)
		if err := rows.Scan(&e.Key, &e.SizeBytes, &created, &accessed, &e.Compressed); err != nil {
			return nil, fmt.Errorf("cache: scan index row: %w", err)
		}
		e.CreatedAt = fromUnixNano(created)
		e.LastAccessAt = fromUnixNano(accessed)
		out[e.Key] = e
	}
	return out, rows.Err()
}

// upsert writes the full row for e.
func (ix *index) upsert(ctx context.Context, e Entry) error {
	_, err := ix.db.ExecContext(ctx,
		`INSERT INTO entries(key, size_bytes, created_at, last_access_at, compressed)
		 VALUES(?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		     size_bytes=excluded.size_bytes,
		     created_at=excluded.created_at,
		     last_access_at=excluded.last_access_at,
		     compressed=excluded.compressed`,
		e.Key, e.SizeBytes, toUnixNano(e.CreatedAt), toUnixNano(e.LastAccessAt), e.Compressed)
	if err != nil {
		return fmt.Errorf("cache: upsert %s: %w", e.Key, err)
	}
	return nil
}

// touch updates last_access_at for a batch of entries in one transaction.
func (ix *index) touch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: begin touch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `UPDATE entries SET last_access_at = ? WHERE key = ?`)
	if err != nil {
		return fmt.Errorf("cache: prepare touch: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, toUnixNano(e.LastAccessAt), e.Key); err != nil {
			return fmt.Errorf("cache: touch %s: %w", e.Key, err)
		}
	}
	return tx.Commit()
}

// remove deletes rows by key in one transaction.
func (ix *index) remove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: begin remove: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM entries WHERE key = ?`)
	if err != nil {
		return fmt.Errorf("cache: prepare remove: %w", err)
	}
	defer stmt.Close()

	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, k); err != nil {
			return fmt.Errorf("cache: remove %s: %w", k, err)
		}
	}
	return tx.Commit()
}

// clear deletes every row.
func (ix *index) clear(ctx context.Context) error {
	if _, err := ix.db.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return fmt.Errorf("cache: clear index: %w", err)
	}
	return nil
}

// Unknown times are stored as 0.
func toUnixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
