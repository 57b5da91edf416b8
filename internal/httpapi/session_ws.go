package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/lukasbauer/coach/internal/catalog"
	"github.com/lukasbauer/coach/internal/conversation"
	"github.com/lukasbauer/coach/internal/eventlog"
	"github.com/lukasbauer/coach/internal/llm"
	"github.com/lukasbauer/coach/internal/protocol"
	"github.com/lukasbauer/coach/internal/session"
	"github.com/lukasbauer/coach/internal/speech"
)

// badMessage carries a frame that could not be decoded, so the error is
// reported in order with the messages around it.
type badMessage struct{ err error }

func (r *Router) handleSessionWS(w http.ResponseWriter, req *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(req, "sessionID"))
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}
	q := req.URL.Query()
	token := q.Get("token")
	if token == "" {
		if h := req.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(h), "bearer ") {
			token = strings.TrimSpace(h[len("bearer "):])
		}
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Printf("ws: [%s] upgrade failed: %v", sessionID, err)
		return
	}
	t := newWSTransport(conn, r.cfg.WriteTimeout, r.metrics)

	ident, err := r.auth.Validate(req.Context(), token)
	if err != nil {
		r.rejectConnection(t, sessionID, err)
		return
	}
	r.logger.Printf("ws: [%s] user authenticated: %s (%s)", sessionID, ident.Name, ident.UserID)

	sel := conversation.Selection{
		PersonalityID:  q.Get("personality"),
		ScenarioID:     q.Get("scenario"),
		CustomScenario: q.Get("custom_scenario"),
	}
	entry, err := r.sessions.Connect(sessionID, t, sel, ident.UserID)
	if err != nil {
		if errors.Is(err, session.ErrSessionOwned) {
			r.rejectSessionInUse(t, sessionID)
			return
		}
		if errors.Is(err, session.ErrDraining) {
			_ = t.Send(protocol.NewError(protocol.CodeServerDraining, "Server is shutting down, please reconnect"))
			_ = t.Close(session.CloseGoingAway, "server draining")
			return
		}
		r.logger.Printf("ws: [%s] session setup failed: %v", sessionID, err)
		captureError(sessionID, err, "ws: session setup failed")
		_ = t.Send(protocol.NewError(protocol.CodeInternal, "Failed to start session"))
		_ = t.Close(session.CloseInternal, "session setup failed")
		return
	}

	defer r.sessions.Done(entry)

	sel = entry.Conversation.Selection()
	if err := r.transcripts.Start(sessionID, ident.UserID, sel); err != nil {
		r.rejectSessionInUse(t, sessionID)
		r.sessions.Release(sessionID, t)
		return
	}
	r.metrics.Event(string(eventlog.EventSessionStarted))
	r.eventLog.LogAsync(sessionID, eventlog.EventSessionStarted, map[string]any{
		"user_id":     ident.UserID,
		"personality": sel.PersonalityID,
		"scenario":    sel.ScenarioID,
	})

	s := &sessionConn{router: r, id: sessionID, entry: entry, t: t, conn: conn}
	s.serve(req.Context())
}

// rejectSessionInUse closes a connection whose session id is held by
// another user.
func (r *Router) rejectSessionInUse(t *wsTransport, sessionID string) {
	r.logger.Printf("ws: [%s] session id belongs to another user", sessionID)
	_ = t.Send(protocol.NewError(protocol.CodeSessionInUse, "Session is in use by another account"))
	_ = t.Close(session.ClosePolicy, "session in use")
}

// sessionConn drives one authenticated websocket. A reader goroutine decodes
// frames and interrupts the running turn as soon as new input arrives; the
// processing loop handles messages one at a time in arrival order.
type sessionConn struct {
	router *Router
	id     string
	entry  *session.Entry
	t      *wsTransport
	conn   *websocket.Conn

	mu         sync.Mutex
	turnCancel context.CancelFunc
}

func (s *sessionConn) serve(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sel := s.entry.Conversation.Selection()
	s.send(protocol.NewConfig(catalog.NewSnapshot()))
	s.send(protocol.Connected{
		Type:        protocol.TypeConnected,
		Message:     "Connected to Manager Chat",
		Personality: sel.PersonalityID,
		Scenario:    sel.ScenarioID,
	})

	inbox := make(chan any, 32)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		defer close(inbox)
		s.readLoop(ctx, inbox)
	}()
	go func() {
		defer wg.Done()
		s.keepalive(ctx)
	}()

	s.processLoop(ctx, inbox)
	s.cleanup()
	_ = s.t.Close(session.CloseNormal, "")
	cancel()
	wg.Wait()
}

func (s *sessionConn) readLoop(ctx context.Context, inbox chan<- any) {
	cfg := s.router.cfg
	s.conn.SetReadLimit(cfg.MaxMessageBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
	s.conn.SetPongHandler(func(string) error {
		_ = s.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
		return nil
	})

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.router.logger.Printf("ws: [%s] client disconnected", s.id)
			} else if ctx.Err() == nil {
				s.router.logger.Printf("ws: [%s] read error: %v", s.id, err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(cfg.IdleTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		var item any
		msg, err := protocol.ParseClientMessage(data)
		switch {
		case errors.Is(err, protocol.ErrUnsupportedType):
			s.router.metrics.Inbound("unknown")
			s.router.logger.Printf("ws: [%s] unknown message type: %s", s.id, messageTypeOf(data))
			continue
		case err != nil:
			s.router.metrics.Inbound("invalid")
			item = badMessage{err: err}
		default:
			s.router.metrics.Inbound(messageTypeOf(data))
			s.interrupt(msg)
			item = msg
		}

		select {
		case inbox <- item:
		case <-ctx.Done():
			return
		}
	}
}

// interrupt stops the running turn and silences its audio when msg should
// take over. The processing loop re-arms speech when it reaches msg.
func (s *sessionConn) interrupt(msg any) {
	switch m := msg.(type) {
	case protocol.AudioData:
		if m.Audio == "" {
			return
		}
	case protocol.ResetConversation, protocol.ChangeConfig, protocol.EndCall:
	default:
		return
	}

	s.mu.Lock()
	cancel := s.turnCancel
	s.mu.Unlock()

	speaking := s.entry.Speech.State() != speech.Idle
	if cancel != nil {
		cancel()
	}
	s.entry.Speech.CancelAll()
	if speaking || cancel != nil {
		s.router.metrics.Event(string(eventlog.EventBargeIn))
		s.router.eventLog.LogAsync(s.id, eventlog.EventBargeIn, map[string]any{"speaking": speaking})
	}
}

func (s *sessionConn) keepalive(ctx context.Context) {
	ticker := time.NewTicker(s.router.cfg.IdleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.t.ping(); err != nil {
				return
			}
		}
	}
}

func (s *sessionConn) processLoop(ctx context.Context, inbox <-chan any) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inbox:
			if !ok {
				return
			}
			if s.dispatch(ctx, msg) {
				return
			}
		}
	}
}

// dispatch handles one message and reports whether the session should end.
// A panic while handling a message is reported and the loop carries on.
func (s *sessionConn) dispatch(parent context.Context, msg any) (stop bool) {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.turnCancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.turnCancel = nil
		s.mu.Unlock()
		cancel()
	}()
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic handling %T: %v", msg, rec)
			s.router.logger.Printf("ws: [%s] %v", s.id, err)
			captureError(s.id, err, "ws: message handler panic")
			s.send(protocol.NewError(protocol.CodeInternal, "Internal error processing message"))
			stop = false
		}
	}()

	switch m := msg.(type) {
	case protocol.AudioData:
		s.handleAudio(ctx, m)
	case protocol.ResetConversation:
		s.handleReset()
	case protocol.ChangeConfig:
		s.handleChangeConfig(m)
	case protocol.EndCall:
		s.entry.Speech.CancelAll()
		s.router.logger.Printf("ws: [%s] call ended by user", s.id)
		return true
	case badMessage:
		s.router.logger.Printf("ws: [%s] bad message: %v", s.id, m.err)
		s.send(protocol.NewError(protocol.CodeBadMessage, "Invalid message format"))
	}
	return false
}

func (s *sessionConn) handleAudio(ctx context.Context, m protocol.AudioData) {
	if m.Audio == "" {
		s.send(protocol.NewError(protocol.CodeNoAudio, "No audio data received"))
		return
	}
	s.router.logger.Printf("ws: [%s] audio data received: %d chars", s.id, len(m.Audio))

	s.entry.Speech.StopCurrentPlayback()
	s.send(protocol.NewEvent(protocol.TypeProcessing))

	text := s.entry.Transcriber.Transcribe(ctx, m.Audio, s.id)
	if ctx.Err() != nil {
		s.router.logger.Printf("ws: [%s] audio superseded before transcript", s.id)
		return
	}
	if text == "" {
		s.router.eventLog.LogAsync(s.id, eventlog.EventTranscriptFailed, map[string]any{"audio_chars": len(m.Audio)})
		s.send(protocol.NewError(protocol.CodeTranscription, "Transcription failed - no text detected"))
		return
	}

	s.router.logger.Printf("ws: [%s] transcript: %q", s.id, text)
	s.send(protocol.Transcript{Type: protocol.TypeTranscript, Text: text, Role: llm.RoleUser})
	s.record(llm.RoleUser, text)
	s.router.eventLog.LogAsync(s.id, eventlog.EventTranscript, map[string]any{"text": text})

	s.send(protocol.NewEvent(protocol.TypeLLMThinking))
	active := s.entry.Conversation.StreamReply(ctx, text)
	if reply, ok := s.entry.Conversation.LastReply(); ok {
		s.record(llm.RoleAssistant, reply.Text)
	}

	if !active {
		s.router.logger.Printf("ws: [%s] conversation ended", s.id)
		s.router.metrics.Event(string(eventlog.EventConversationEnded))
		s.router.eventLog.LogAsync(s.id, eventlog.EventConversationEnded, nil)
		s.send(protocol.NewEvent(protocol.TypeConversationEnded))
	}
}

func (s *sessionConn) handleReset() {
	s.entry.Speech.CancelAll()
	s.entry.Conversation.Reset(conversation.Selection{})
	sel := s.entry.Conversation.Selection()
	if s.router.sessions.Owns(s.id, s.t) {
		s.router.transcripts.Restart(s.id, sel)
	}
	s.router.eventLog.LogAsync(s.id, eventlog.EventConversationReset, nil)

	s.send(protocol.ConversationReset{
		Type:        protocol.TypeConversationReset,
		Message:     "Conversation reset",
		Personality: sel.PersonalityID,
		Scenario:    sel.ScenarioID,
	})
}

func (s *sessionConn) handleChangeConfig(m protocol.ChangeConfig) {
	s.router.logger.Printf("ws: [%s] changing config - personality: %q, scenario: %q", s.id, m.Personality, m.Scenario)
	s.entry.Speech.CancelAll()
	s.entry.Conversation.Reset(conversation.Selection{
		PersonalityID:  m.Personality,
		ScenarioID:     m.Scenario,
		CustomScenario: m.CustomScenario,
	})
	sel := s.entry.Conversation.Selection()
	if s.router.sessions.Owns(s.id, s.t) {
		s.router.transcripts.Restart(s.id, sel)
	}

	p := catalog.PersonalityOrDefault(sel.PersonalityID)
	scenarioName := catalog.ScenarioName(sel.ScenarioID, sel.CustomScenario)
	s.router.eventLog.LogAsync(s.id, eventlog.EventConfigChanged, map[string]any{
		"personality": sel.PersonalityID,
		"scenario":    sel.ScenarioID,
	})

	s.send(protocol.ConfigChanged{
		Type:            protocol.TypeConfigChanged,
		Personality:     sel.PersonalityID,
		Scenario:        sel.ScenarioID,
		PersonalityName: p.Name,
		ScenarioName:    scenarioName,
		Message:         fmt.Sprintf("Changed to %s in %s", p.Name, scenarioName),
	})
}

// cleanup releases the registry entry if this connection still owns it. A
// connection superseded by a newer one leaves the entry alone.
func (s *sessionConn) cleanup() {
	if !s.router.sessions.Release(s.id, s.t) {
		s.router.logger.Printf("ws: [%s] websocket already replaced, skipping cleanup", s.id)
		return
	}
	s.router.metrics.Event(string(eventlog.EventSessionEnded))
	s.router.eventLog.LogAsync(s.id, eventlog.EventSessionEnded, nil)
}

// record appends to the kept history while this connection still owns the
// session. A superseded connection finishing its last turn writes nothing.
func (s *sessionConn) record(role, text string) {
	if !s.router.sessions.Owns(s.id, s.t) {
		return
	}
	s.router.transcripts.Append(s.id, role, text)
}

func (s *sessionConn) send(v any) {
	if err := s.t.Send(v); err != nil && !errors.Is(err, errTransportClosed) {
		s.router.logger.Printf("ws: [%s] send failed: %v", s.id, err)
	}
}
