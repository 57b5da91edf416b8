package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// handleGetTranscript returns the retained history of a session to its
// owner. The feedback service reads this after the conversation ends.
func (r *Router) handleGetTranscript(w http.ResponseWriter, req *http.Request) {
	user := getAuthUser(req.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	sessionID := strings.TrimSpace(chi.URLParam(req, "sessionID"))
	history, ok := r.transcripts.Get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "No conversation history found for session "+sessionID)
		return
	}
	if history.UserID != user.UserID {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	writeJSON(w, http.StatusOK, history)
}
