package session

import (
	"sync"
	"time"

	"github.com/lukasbauer/coach/internal/conversation"
)

// History is the user-visible record of one session, kept for the feedback
// service after the connection ends.
type History struct {
	SessionID     string              `json:"session_id"`
	UserID        string              `json:"user_id"`
	PersonalityID string              `json:"personality"`
	ScenarioID    string              `json:"scenario"`
	StartedAt     time.Time           `json:"start_time"`
	Messages      []conversation.Turn `json:"messages"`
}

// Transcripts holds histories in memory until they age out.
type Transcripts struct {
	retention time.Duration
	now       func() time.Time

	mu sync.Mutex
	m  map[string]*History
}

// NewTranscripts keeps each history for retention after its last restart.
func NewTranscripts(retention time.Duration) *Transcripts {
	if retention <= 0 {
		retention = time.Hour
	}
	return &Transcripts{retention: retention, now: time.Now, m: make(map[string]*History)}
}

// Start creates the history for id unless one already exists, so a
// reconnect keeps what was said before. A history kept for a different user
// is left untouched and ErrSessionOwned is returned.
func (t *Transcripts) Start(id, userID string, sel conversation.Selection) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.m[id]; ok {
		if !sameUser(h.UserID, userID) {
			return ErrSessionOwned
		}
		return nil
	}
	t.m[id] = &History{
		SessionID:     id,
		UserID:        userID,
		PersonalityID: sel.PersonalityID,
		ScenarioID:    sel.ScenarioID,
		StartedAt:     t.now(),
	}
	return nil
}

// Append adds a message to id's history. Unknown ids are ignored.
func (t *Transcripts) Append(id, role, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.m[id]
	if !ok {
		return
	}
	h.Messages = append(h.Messages, conversation.Turn{Role: role, Text: text, Timestamp: t.now()})
}

// Restart empties id's messages, records sel and resets the start time.
func (t *Transcripts) Restart(id string, sel conversation.Selection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.m[id]
	if !ok {
		return
	}
	h.Messages = nil
	h.StartedAt = t.now()
	if sel.PersonalityID != "" {
		h.PersonalityID = sel.PersonalityID
	}
	if sel.ScenarioID != "" {
		h.ScenarioID = sel.ScenarioID
	}
}

// Get returns a copy of id's history.
func (t *Transcripts) Get(id string) (History, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.m[id]
	if !ok {
		return History{}, false
	}
	out := *h
	out.Messages = append([]conversation.Turn(nil), h.Messages...)
	return out, true
}

// Sweep drops histories started more than the retention period ago and
// returns how many were removed.
func (t *Transcripts) Sweep() int {
	cutoff := t.now().Add(-t.retention)
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, h := range t.m {
		if h.StartedAt.Before(cutoff) {
			delete(t.m, id)
			n++
		}
	}
	return n
}
