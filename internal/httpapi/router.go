package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/lukasbauer/coach/internal/auth"
	"github.com/lukasbauer/coach/internal/catalog"
	"github.com/lukasbauer/coach/internal/eventlog"
	"github.com/lukasbauer/coach/internal/observability"
	"github.com/lukasbauer/coach/internal/session"
)

type RouterConfig struct {
	// AllowedOrigins lists browser origins allowed for CORS and websocket
	// upgrades. Empty or "*" allows any.
	AllowedOrigins []string

	// MaxMessageBytes bounds one inbound websocket frame.
	MaxMessageBytes int64

	// WriteTimeout bounds one outbound websocket write.
	WriteTimeout time.Duration

	// IdleTimeout closes a websocket that sends nothing, not even a pong.
	IdleTimeout time.Duration
}

// TokenValidator resolves a bearer token to an identity.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (auth.Identity, error)
}

// Pinger reports backing store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Router struct {
	cfg         RouterConfig
	logger      *log.Logger
	sessions    *session.Registry
	transcripts *session.Transcripts
	auth        TokenValidator
	eventLog    *eventlog.Logger
	metrics     *observability.Metrics
	db          Pinger
	upgrader    websocket.Upgrader
	mux         chi.Router
}

// Deps are the collaborators the router serves.
type Deps struct {
	Logger      *log.Logger
	Sessions    *session.Registry
	Transcripts *session.Transcripts
	Auth        TokenValidator
	EventLog    *eventlog.Logger
	Metrics     *observability.Metrics
	// DB is optional; when set /readyz pings it.
	DB Pinger
}

func NewRouter(cfg RouterConfig, deps Deps) http.Handler {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 16 << 20
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.NewMetrics("coach")
	}
	if deps.Transcripts == nil {
		deps.Transcripts = session.NewTranscripts(0)
	}

	r := &Router{
		cfg:         cfg,
		logger:      deps.Logger,
		sessions:    deps.Sessions,
		transcripts: deps.Transcripts,
		auth:        deps.Auth,
		eventLog:    deps.EventLog,
		metrics:     deps.Metrics,
		db:          deps.DB,
		mux:         chi.NewRouter(),
	}
	r.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(req *http.Request) bool { return originAllowed(cfg.AllowedOrigins, req) },
	}

	r.routes()
	return withSentryRecovery(withCORS(cfg.AllowedOrigins, r.mux))
}

func (r *Router) routes() {
	r.mux.Get("/healthz", r.handleHealthz)
	r.mux.Get("/readyz", r.handleReadyz)
	r.mux.Get("/config", r.handleConfig)
	r.mux.Handle("/metrics", r.metrics.Handler())

	// Realtime session (token in query, validated after upgrade)
	r.mux.Get("/ws/{sessionID}", r.handleSessionWS)

	// Protected API endpoints
	r.mux.Get("/api/sessions/{sessionID}/transcript", r.withAuth(r.handleGetTranscript))
}

func (r *Router) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Router) handleReadyz(w http.ResponseWriter, req *http.Request) {
	if r.sessions != nil && r.sessions.IsDraining() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "draining"})
		return
	}
	if r.db != nil {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := r.db.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "db_unavailable"})
			return
		}
	}
	active := 0
	if r.sessions != nil {
		active = r.sessions.ActiveCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "active_sessions": active})
}

// handleConfig serves the same catalog the websocket sends on connect, for
// clients that render pickers before opening a session.
func (r *Router) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, catalog.NewSnapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), err)
				hub.Flush(2 * time.Second)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func withCORS(origins []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		origin := req.Header.Get("Origin")
		switch {
		case allowAny(origins):
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && originAllowed(origins, req):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if req.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func allowAny(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// originAllowed accepts requests without an Origin header (non-browser
// clients) and those whose origin is listed.
func originAllowed(origins []string, req *http.Request) bool {
	if allowAny(origins) {
		return true
	}
	origin := strings.TrimSpace(req.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	for _, o := range origins {
		if strings.EqualFold(strings.TrimRight(o, "/"), u.Scheme+"://"+u.Host) {
			return true
		}
	}
	return false
}

// captureError sends an error to Sentry tagged with the session
func captureError(sessionID string, err error, msg string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("session_id", sessionID)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}
