// Package auth validates the bearer token a client presents when it opens a
// session. Identity and account status live in the store; this package only
// answers yes or no plus who.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/lukasbauer/coach/internal/store"
)

var (
	ErrTokenRequired   = errors.New("auth: token required")
	ErrTokenRevoked    = errors.New("auth: token revoked")
	ErrInvalidToken    = errors.New("auth: invalid token")
	ErrAccountInactive = errors.New("auth: account inactive")
)

// Identity is the authenticated caller.
type Identity struct {
	UserID   string
	Name     string
	UserType string
}

// Claims represents the claims in the session token
type Claims struct {
	jwt.RegisteredClaims
	UserID any `json:"user_id"`
}

// Users is the subset of store.Accounts the validator reads.
type Users interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	IsTokenRevoked(ctx context.Context, tokenHash string) (bool, error)
	RevokeToken(ctx context.Context, tokenHash string, expiresAt time.Time) error
}

type Validator struct {
	secret []byte
	users  Users
	redis  *redis.Client
}

// NewValidator creates a validator. rdb is optional and mirrors the
// revocation list so hot paths skip the database.
func NewValidator(secret string, users Users, rdb *redis.Client) *Validator {
	return &Validator{secret: []byte(secret), users: users, redis: rdb}
}

// HashToken creates a SHA256 hash of the token for storage
func HashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

func revokedKey(hash string) string { return "revoked:" + hash }

// Validate checks revocation, signature and expiry, then the account.
// Store failures come back unwrapped from the sentinels so callers can
// tell them apart from a bad token.
func (v *Validator) Validate(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrTokenRequired
	}

	hash := HashToken(token)
	revoked, err := v.isRevoked(ctx, hash)
	if err != nil {
		return Identity{}, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return Identity{}, ErrTokenRevoked
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, fmt.Errorf("%w: token expired", ErrInvalidToken)
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok {
		return Identity{}, ErrInvalidToken
	}
	userID := claimString(claims.UserID)
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: missing user_id", ErrInvalidToken)
	}

	user, err := v.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return Identity{}, fmt.Errorf("%w: User not found", ErrInvalidToken)
	}
	if err != nil {
		return Identity{}, fmt.Errorf("load user: %w", err)
	}
	if !user.Active() {
		return Identity{}, ErrAccountInactive
	}

	return Identity{UserID: user.ID, Name: user.Name, UserType: user.UserType}, nil
}

func (v *Validator) isRevoked(ctx context.Context, hash string) (bool, error) {
	if v.redis != nil {
		n, err := v.redis.Exists(ctx, revokedKey(hash)).Result()
		if err == nil && n > 0 {
			return true, nil
		}
	}
	return v.users.IsTokenRevoked(ctx, hash)
}

// Revoke adds the token to the revocation list until expiresAt.
func (v *Validator) Revoke(ctx context.Context, token string, expiresAt time.Time) error {
	hash := HashToken(token)
	if err := v.users.RevokeToken(ctx, hash, expiresAt); err != nil {
		return err
	}
	if v.redis != nil {
		if ttl := time.Until(expiresAt); ttl > 0 {
			_ = v.redis.Set(ctx, revokedKey(hash), 1, ttl).Err()
		}
	}
	return nil
}

// IssueToken signs a token for userID valid for ttl.
func IssueToken(secret, userID string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
		UserID: userID,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// user_id arrives as a JSON number from some issuers.
func claimString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatInt(int64(id), 10)
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}
