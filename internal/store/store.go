// Package store persists accounts, revoked tokens and session events.
//
// Two drivers share one schema: Postgres through pgxpool for deployments and
// SQLite for local development. Timestamps are stored as unix seconds so
// the same migrations run on both.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Account statuses.
const (
	StatusActive   = "active"
	StatusExpired  = "expired"
	StatusCanceled = "canceled"
)

// User is an account allowed to open sessions.
type User struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	UserType    string    `json:"user_type"`
	TrialStatus string    `json:"trial_status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Active reports whether the account may start sessions.
func (u *User) Active() bool { return u.TrialStatus == StatusActive }

// SessionEvent is one row of the session event log.
type SessionEvent struct {
	SessionID string    `json:"session_id"`
	EventType string    `json:"event_type"`
	Data      string    `json:"event_data"`
	CreatedAt time.Time `json:"created_at"`
}

// Accounts is what the realtime server needs from persistence.
type Accounts interface {
	GetUser(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, u User) error
	IsTokenRevoked(ctx context.Context, tokenHash string) (bool, error)
	RevokeToken(ctx context.Context, tokenHash string, expiresAt time.Time) error
	InsertSessionEvent(ctx context.Context, sessionID, eventType string, data []byte) error
	ListSessionEvents(ctx context.Context, sessionID string, limit int) ([]SessionEvent, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open picks a driver from a URL: postgres:// and postgresql:// use
// Postgres, sqlite:// (or a bare path) uses SQLite.
func Open(ctx context.Context, url string) (Accounts, error) {
	switch {
	case url == "":
		return nil, fmt.Errorf("store: empty database url")
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		pg, err := OpenPostgres(ctx, url)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		lite, err := OpenSQLite(strings.TrimPrefix(url, "sqlite://"))
		if err != nil {
			return nil, err
		}
		return lite, nil
	}
}

func unix(t time.Time) int64 { return t.Unix() }

func fromUnix(s int64) time.Time { return time.Unix(s, 0).UTC() }
