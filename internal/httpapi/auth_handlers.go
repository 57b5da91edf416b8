package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/lukasbauer/coach/internal/auth"
	"github.com/lukasbauer/coach/internal/protocol"
	"github.com/lukasbauer/coach/internal/session"
)

// Context key for user data
type contextKey string

const userContextKey contextKey = "user"

// withAuth is middleware that requires a valid bearer token
func (r *Router) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		authHeader := req.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		// Expect "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			writeError(w, http.StatusUnauthorized, "invalid authorization format")
			return
		}

		ident, err := r.auth.Validate(req.Context(), strings.TrimSpace(parts[1]))
		if err != nil {
			if reason, ok := authFailure(err); ok {
				writeError(w, http.StatusUnauthorized, reason)
				return
			}
			r.logger.Printf("auth: validate failed: %v", err)
			writeError(w, http.StatusInternalServerError, "authentication error occurred")
			return
		}

		ctx := context.WithValue(req.Context(), userContextKey, &ident)
		next.ServeHTTP(w, req.WithContext(ctx))
	}
}

// getAuthUser extracts the authenticated user from context
func getAuthUser(ctx context.Context) *auth.Identity {
	user, _ := ctx.Value(userContextKey).(*auth.Identity)
	return user
}

// authFailure maps a validation error to the reason shown to the client.
// ok is false for errors that are not the caller's fault.
func authFailure(err error) (reason string, ok bool) {
	switch {
	case errors.Is(err, auth.ErrTokenRequired):
		return "Authentication token is required", true
	case errors.Is(err, auth.ErrTokenRevoked):
		return "Token has been revoked", true
	case errors.Is(err, auth.ErrAccountInactive):
		return "Account is not active", true
	case errors.Is(err, auth.ErrInvalidToken):
		detail := strings.TrimPrefix(err.Error(), auth.ErrInvalidToken.Error())
		detail = strings.TrimPrefix(detail, ": ")
		if detail == "User not found" {
			return detail, true
		}
		if detail == "" {
			return "Invalid token", true
		}
		return "Invalid token: " + detail, true
	default:
		return "", false
	}
}

// rejectConnection reports an authentication failure on an upgraded
// connection and closes it. Bad credentials close with a policy violation,
// anything else with an internal error.
func (r *Router) rejectConnection(t *wsTransport, sessionID string, err error) {
	if reason, ok := authFailure(err); ok {
		r.logger.Printf("ws: [%s] authentication failed: %s", sessionID, reason)
		_ = t.Send(protocol.NewError(protocol.CodeAuthRequired, "Authentication failed: "+reason))
		_ = t.Close(session.ClosePolicy, "authentication failed")
		return
	}
	r.logger.Printf("ws: [%s] authentication error: %v", sessionID, err)
	captureError(sessionID, err, "ws: authentication error")
	_ = t.Send(protocol.NewError(protocol.CodeAuthError, "Authentication error occurred"))
	_ = t.Close(session.CloseInternal, "authentication error")
}
