package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Accounts on a pgx pool.
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres wraps an existing pool.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects and pings.
func OpenPostgres(ctx context.Context, url string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: pool}, nil
}

// Pool exposes the underlying pool for migrations.
func (s *Postgres) Pool() *pgxpool.Pool { return s.db }

// GetUser retrieves a user by ID.
func (s *Postgres) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	var created int64
	err := s.db.QueryRow(ctx, `
		SELECT id, name, email, user_type, trial_status, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(&u.ID, &u.Name, &u.Email, &u.UserType, &u.TrialStatus, &created)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = fromUnix(created)
	return &u, nil
}

// CreateUser inserts or replaces a user.
func (s *Postgres) CreateUser(ctx context.Context, u User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO users (id, name, email, user_type, trial_status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			user_type = EXCLUDED.user_type,
			trial_status = EXCLUDED.trial_status
	`, u.ID, u.Name, u.Email, u.UserType, u.TrialStatus, unix(u.CreatedAt))
	return err
}

// IsTokenRevoked reports whether tokenHash is on the revocation list.
func (s *Postgres) IsTokenRevoked(ctx context.Context, tokenHash string) (bool, error) {
	var revoked bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE token_hash = $1)
	`, tokenHash).Scan(&revoked)
	return revoked, err
}

// RevokeToken adds tokenHash to the revocation list.
func (s *Postgres) RevokeToken(ctx context.Context, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO revoked_tokens (token_hash, expires_at, revoked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO NOTHING
	`, tokenHash, unix(expiresAt), unix(time.Now()))
	return err
}

// InsertSessionEvent appends to the session event log.
func (s *Postgres) InsertSessionEvent(ctx context.Context, sessionID, eventType string, data []byte) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO session_events (session_id, event_type, event_data, created_at)
		VALUES ($1, $2, $3, $4)
	`, sessionID, eventType, string(data), unix(time.Now()))
	return err
}

// ListSessionEvents returns a session's events, oldest first.
func (s *Postgres) ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]SessionEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT session_id, event_type, event_data, created_at
		FROM session_events
		WHERE session_id = $1
		ORDER BY created_at, seq
		LIMIT $2
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

// Ping checks connectivity.
func (s *Postgres) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

// Close closes the pool.
func (s *Postgres) Close() error {
	s.db.Close()
	return nil
}
