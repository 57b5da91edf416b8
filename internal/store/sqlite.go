package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite implements Accounts on a local database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One writer at a time; sqlite serializes anyway.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return &SQLite{db: db}, nil
}

// DB exposes the handle for migrations.
func (s *SQLite) DB() *sql.DB { return s.db }

// GetUser retrieves a user by ID.
func (s *SQLite) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	var created int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, user_type, trial_status, created_at
		FROM users
		WHERE id = ?
	`, id).Scan(&u.ID, &u.Name, &u.Email, &u.UserType, &u.TrialStatus, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = fromUnix(created)
	return &u, nil
}

// CreateUser inserts or replaces a user.
func (s *SQLite) CreateUser(ctx context.Context, u User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, email, user_type, trial_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			user_type = excluded.user_type,
			trial_status = excluded.trial_status
	`, u.ID, u.Name, u.Email, u.UserType, u.TrialStatus, unix(u.CreatedAt))
	return err
}

// IsTokenRevoked reports whether tokenHash is on the revocation list.
func (s *SQLite) IsTokenRevoked(ctx context.Context, tokenHash string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM revoked_tokens WHERE token_hash = ?`, tokenHash).Scan(&n)
	return n > 0, err
}

// RevokeToken adds tokenHash to the revocation list.
func (s *SQLite) RevokeToken(ctx context.Context, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO revoked_tokens (token_hash, expires_at, revoked_at)
		VALUES (?, ?, ?)
	`, tokenHash, unix(expiresAt), unix(time.Now()))
	return err
}

// InsertSessionEvent appends to the session event log.
func (s *SQLite) InsertSessionEvent(ctx context.Context, sessionID, eventType string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_events (session_id, event_type, event_data, created_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, eventType, string(data), unix(time.Now()))
	return err
}

// ListSessionEvents returns a session's events, oldest first.
func (s *SQLite) ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]SessionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, event_type, event_data, created_at
		FROM session_events
		WHERE session_id = ?
		ORDER BY created_at, seq
		LIMIT ?
	`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []SessionEvent
	for rows.Next() {
		var e SessionEvent
		var created int64
		if err := rows.Scan(&e.SessionID, &e.EventType, &e.Data, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = fromUnix(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Ping checks the database handle.
func (s *SQLite) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the database.
func (s *SQLite) Close() error { return s.db.Close() }
