package eventlog

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// EventType represents the type of session event
type EventType string

const (
	EventSessionStarted    EventType = "session_started"
	EventTranscript        EventType = "transcript"
	EventTranscriptFailed  EventType = "transcript_failed"
	EventLLMCompleted      EventType = "llm_completed"
	EventLLMError          EventType = "llm_error"
	EventBargeIn           EventType = "barge_in"
	EventTTSFallback       EventType = "tts_fallback"
	EventConversationReset EventType = "conversation_reset"
	EventConfigChanged     EventType = "config_changed"
	EventConversationEnded EventType = "conversation_ended"
	EventSessionEnded      EventType = "session_ended"
)

// Sink persists events. store.Accounts satisfies it.
type Sink interface {
	InsertSessionEvent(ctx context.Context, sessionID, eventType string, data []byte) error
}

// Logger provides async event logging to the database
type Logger struct {
	sink Sink
	wg   sync.WaitGroup
}

// New creates a new event logger. A nil sink makes every call a no-op.
func New(sink Sink) *Logger {
	return &Logger{sink: sink}
}

// Log writes an event synchronously
func (l *Logger) Log(ctx context.Context, sessionID string, eventType EventType, data map[string]any) error {
	if l == nil || l.sink == nil || sessionID == "" {
		return nil // Silently skip if no sink or session ID
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}
	return l.sink.InsertSessionEvent(ctx, sessionID, string(eventType), dataJSON)
}

// LogAsync logs an event without blocking the caller
func (l *Logger) LogAsync(sessionID string, eventType EventType, data map[string]any) {
	if l == nil || l.sink == nil || sessionID == "" {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Log(ctx, sessionID, eventType, data)
	}()
}

// Flush waits for pending async writes.
func (l *Logger) Flush() {
	if l == nil {
		return
	}
	l.wg.Wait()
}
