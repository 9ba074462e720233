// Package sqlite persists call metadata, operator accounts, sessions and the
// sales/event ledger in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/callscreen/callscreen/internal/registry"
)

type Store struct {
	db *sql.DB
}

// Open opens or creates the database file and applies the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// WAL mode for concurrent readers alongside the writer.
	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
		PRAGMA foreign_keys = ON;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS calls (
			call_id          TEXT PRIMARY KEY,
			title            TEXT DEFAULT '',
			video_url        TEXT NOT NULL,
			caller_name      TEXT DEFAULT '',
			caller_avatar    TEXT DEFAULT '',
			expires_at       INTEGER DEFAULT 0,
			expected_amount  REAL,
			owner_user_id    TEXT DEFAULT '',
			created_at       INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			user_id       TEXT PRIMARY KEY,
			username      TEXT NOT NULL UNIQUE COLLATE NOCASE,
			password_hash TEXT NOT NULL,
			created_at    INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id    TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			expires_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			type     TEXT NOT NULL,
			call_id  TEXT DEFAULT '',
			at       INTEGER NOT NULL,
			amount   REAL,
			user_id  TEXT DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS sales (
			sale_id  TEXT PRIMARY KEY,
			call_id  TEXT DEFAULT '',
			amount   REAL NOT NULL,
			note     TEXT DEFAULT '',
			at       INTEGER NOT NULL,
			user_id  TEXT DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_calls_owner ON calls(owner_user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_at ON events(at)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Ping is used by the readiness probe.
func (s *Store) Ping() error { return s.db.Ping() }

// --- calls ---

func (s *Store) CreateCall(ctx context.Context, c registry.Call) error {
	var exp int64
	if c.ExpiresAt != nil {
		exp = c.ExpiresAt.UnixMilli()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO calls
		(call_id, title, video_url, caller_name, caller_avatar, expires_at, expected_amount, owner_user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.VideoURL, c.CallerName, c.CallerAvatarURL, exp, c.ExpectedAmount, c.OwnerUserID, c.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("create call: %w", err)
	}
	return nil
}

func (s *Store) GetCall(ctx context.Context, callID string) (registry.Call, error) {
	row := s.db.QueryRowContext(ctx, `SELECT call_id, title, video_url, caller_name, caller_avatar,
		expires_at, expected_amount, owner_user_id, created_at FROM calls WHERE call_id = ?`, callID)
	return scanCall(row)
}

func (s *Store) ListCallsByOwner(ctx context.Context, ownerUserID string) ([]registry.Call, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT call_id, title, video_url, caller_name, caller_avatar,
		expires_at, expected_amount, owner_user_id, created_at FROM calls
		WHERE owner_user_id = ? ORDER BY created_at DESC`, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("list calls: %w", err)
	}
	defer rows.Close()
	var out []registry.Call
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ExpireCallNow backdates the expiry so the call stops admitting guests.
func (s *Store) ExpireCallNow(ctx context.Context, callID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE calls SET expires_at = ? WHERE call_id = ?`,
		time.Now().Add(-time.Second).UnixMilli(), callID)
	if err != nil {
		return fmt.Errorf("expire call: %w", err)
	}
	return affectedOrNotFound(res)
}

func (s *Store) DeleteCall(ctx context.Context, callID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM calls WHERE call_id = ?`, callID)
	if err != nil {
		return fmt.Errorf("delete call: %w", err)
	}
	return affectedOrNotFound(res)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanCall(row scannable) (registry.Call, error) {
	var (
		c        registry.Call
		exp, at  int64
		expected sql.NullFloat64
	)
	err := row.Scan(&c.ID, &c.Title, &c.VideoURL, &c.CallerName, &c.CallerAvatarURL,
		&exp, &expected, &c.OwnerUserID, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Call{}, registry.ErrNotFound
	}
	if err != nil {
		return registry.Call{}, fmt.Errorf("scan call: %w", err)
	}
	if exp != 0 {
		t := time.UnixMilli(exp)
		c.ExpiresAt = &t
	}
	if expected.Valid {
		c.ExpectedAmount = &expected.Float64
	}
	c.CreatedAt = time.UnixMilli(at)
	return c, nil
}

func affectedOrNotFound(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}
