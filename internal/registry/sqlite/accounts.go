package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/callscreen/callscreen/internal/registry"
)

type User struct {
	UserID       string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

type Session struct {
	SessionID string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

var ErrUsernameTaken = errors.New("username already exists")

func (s *Store) CreateUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (user_id, username, password_hash, created_at)
		VALUES (?, ?, ?, ?)`, u.UserID, u.Username, u.PasswordHash, u.CreatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameTaken
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT user_id, username, password_hash, created_at FROM users WHERE username = ? COLLATE NOCASE`, username))
}

func (s *Store) GetUser(ctx context.Context, userID string) (User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT user_id, username, password_hash, created_at FROM users WHERE user_id = ?`, userID))
}

func scanUser(row *sql.Row) (User, error) {
	var (
		u  User
		at int64
	)
	err := row.Scan(&u.UserID, &u.Username, &u.PasswordHash, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, registry.ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("scan user: %w", err)
	}
	u.CreatedAt = time.UnixMilli(at)
	return u, nil
}

func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions (session_id, user_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)`, sess.SessionID, sess.UserID, sess.CreatedAt.UnixMilli(), sess.ExpiresAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession returns the session only while it is unexpired.
func (s *Store) GetSession(ctx context.Context, sessionID string) (Session, error) {
	var (
		sess        Session
		created, ex int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, user_id, created_at, expires_at FROM sessions WHERE session_id = ?`, sessionID).
		Scan(&sess.SessionID, &sess.UserID, &created, &ex)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, registry.ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("scan session: %w", err)
	}
	sess.CreatedAt = time.UnixMilli(created)
	sess.ExpiresAt = time.UnixMilli(ex)
	if !sess.ExpiresAt.After(time.Now()) {
		return Session{}, registry.ErrNotFound
	}
	return sess, nil
}

func (s *Store) sweepSessions(now time.Time) {
	_, _ = s.db.Exec(`DELETE FROM sessions WHERE expires_at <= ?`, now.UnixMilli())
}

// StartJanitor periodically removes expired sessions until ctx is done.
func (s *Store) StartJanitor(ctx context.Context) {
	t := time.NewTicker(time.Hour)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				s.sweepSessions(now)
			}
		}
	}()
}

func isUniqueViolation(err error) bool {
	// modernc.org/sqlite reports constraint violations in the error text;
	// matching on it avoids importing driver internals.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
