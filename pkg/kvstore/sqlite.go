package kvstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
)`

// SQLite is a Store backed by a single SQLite file.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (or creates) the database file at path in WAL mode.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		path, (5 * time.Second).Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("kvstore: sqlite open failed: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("kvstore: sqlite schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

// Get implements Store.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var (
		value     []byte
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT value, expires_at FROM kv WHERE key = ?`, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: sqlite get: %w", err)
	}
	if expiresAt > 0 && s.now().UnixMilli() >= expiresAt {
		return nil, ErrNotFound
	}
	return value, nil
}

// Set implements Store.
func (s *SQLite) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = s.now().Add(ttl).UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expiresAt)
	if err != nil {
		return fmt.Errorf("kvstore: sqlite set: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	return err
}

// Sweep deletes expired rows and returns how many were removed.
func (s *SQLite) Sweep(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE expires_at > 0 AND expires_at <= ?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("kvstore: sqlite sweep: %w", err)
	}
	return res.RowsAffected()
}

// Close implements Store.
func (s *SQLite) Close() error { return s.db.Close() }
