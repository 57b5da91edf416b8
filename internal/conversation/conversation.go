// Package conversation keeps one session's roleplay history and drives the
// streamed LLM reply for each user utterance.
package conversation

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lukasbauer/coach/internal/catalog"
	"github.com/lukasbauer/coach/internal/llm"
	"github.com/lukasbauer/coach/internal/protocol"
)

// Turn is one entry of the history.
type Turn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Selection picks the persona and scenario. Empty fields in a Reset keep
// the current value.
type Selection struct {
	PersonalityID  string
	ScenarioID     string
	CustomScenario string
}

// Speaker receives reply tokens for synthesis.
type Speaker interface {
	AddToken(token string)
	FlushRemaining(ctx context.Context) error
	SetPersonality(p catalog.Personality)
}

// RetryPolicy bounds attempts to open the completion stream.
type RetryPolicy struct {
	Attempts int
	MinDelay time.Duration
	MaxDelay time.Duration
	// Budget caps total time spent waiting between attempts.
	Budget time.Duration
}

// DefaultRetryPolicy is 3 attempts with exponential backoff between 2s and
// 10s, at most 15s of waiting.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, MinDelay: 2 * time.Second, MaxDelay: 10 * time.Second, Budget: 15 * time.Second}
}

// Delay returns the wait after failed attempt n (1-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	d := p.MinDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Hooks observe reply outcomes. Nil fields are skipped.
type Hooks struct {
	Completed func(attempts int, firstToken time.Duration, ended bool)
	Failed    func(err error)
	Retried   func(attempt int, err error)
}

// Deps are the collaborators of a State.
type Deps struct {
	SessionID string
	LLM       llm.Client
	Sender    protocol.Sender
	// Speaker is optional; nil means text only.
	Speaker Speaker
	Logger  *log.Logger
	Retry   RetryPolicy
	Hooks   Hooks
}

// State is one session's conversation. Methods are safe for concurrent use,
// though the protocol handler only calls them from one goroutine.
type State struct {
	deps  Deps
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	sel    Selection
	turns  []Turn
	active bool
}

// New seeds a conversation for sel.
func New(deps Deps, sel Selection) *State {
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if deps.Retry.Attempts <= 0 {
		deps.Retry = DefaultRetryPolicy()
	}
	s := &State{deps: deps, sleep: sleepCtx}
	s.sel = normalize(sel)
	s.seedLocked()
	return s
}

// normalize replaces unknown ids with the catalog fallbacks.
func normalize(sel Selection) Selection {
	if _, ok := catalog.LookupPersonality(sel.PersonalityID); !ok {
		sel.PersonalityID = catalog.DefaultPersonalityID
	}
	if _, ok := catalog.LookupScenario(sel.ScenarioID); !ok && sel.ScenarioID != catalog.CustomScenarioID {
		sel.ScenarioID = catalog.DefaultScenarioID
	}
	return sel
}

func (s *State) seedLocked() {
	p := catalog.PersonalityOrDefault(s.sel.PersonalityID)
	prompt := catalog.SystemPrompt(p, s.sel.ScenarioID, s.sel.CustomScenario)
	s.turns = []Turn{{Role: llm.RoleSystem, Text: prompt, Timestamp: time.Now()}}
	s.active = true
}

// Reset applies the non-empty fields of sel, rebuilds the system turn and
// truncates the history to it. Switching scenario drops the stored custom
// text unless sel carries a new one.
func (s *State) Reset(sel Selection) {
	s.mu.Lock()
	personalityChanged := sel.PersonalityID != "" && sel.PersonalityID != s.sel.PersonalityID
	if sel.PersonalityID != "" {
		s.sel.PersonalityID = sel.PersonalityID
	}
	if sel.ScenarioID != "" && sel.ScenarioID != s.sel.ScenarioID {
		s.sel.ScenarioID = sel.ScenarioID
		s.sel.CustomScenario = ""
	}
	if sel.CustomScenario != "" {
		s.sel.CustomScenario = sel.CustomScenario
	}
	s.sel = normalize(s.sel)
	s.seedLocked()
	p := catalog.PersonalityOrDefault(s.sel.PersonalityID)
	scenario := catalog.ScenarioName(s.sel.ScenarioID, s.sel.CustomScenario)
	s.mu.Unlock()

	if personalityChanged && s.deps.Speaker != nil {
		s.deps.Speaker.SetPersonality(p)
	}
	s.deps.Logger.Printf("conversation: [%s] reset: %s | %s", s.deps.SessionID, p.Name, scenario)
}

// Selection returns the current selection.
func (s *State) Selection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sel
}

// Active reports whether the conversation has not been ended by the model.
func (s *State) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Turns returns a copy of the history.
func (s *State) Turns() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// LastReply returns the most recent assistant turn, if the history ends
// with one.
func (s *State) LastReply() (Turn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.turns); n > 0 && s.turns[n-1].Role == llm.RoleAssistant {
		return s.turns[n-1], true
	}
	return Turn{}, false
}

func (s *State) messages() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := make([]llm.Message, 0, len(s.turns))
	for _, t := range s.turns {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Text})
	}
	return msgs
}

func (s *State) appendTurn(role, text string) {
	s.mu.Lock()
	s.turns = append(s.turns, Turn{Role: role, Text: text, Timestamp: time.Now()})
	s.mu.Unlock()
}

func (s *State) send(v any) {
	if err := s.deps.Sender.Send(v); err != nil {
		s.deps.Logger.Printf("conversation: [%s] send failed: %v", s.deps.SessionID, err)
	}
}

// errRetryBudget ends the retry loop when the next wait would exceed the
// policy budget.
var errRetryBudget = errors.New("retry budget exhausted")

// open starts the completion, retrying transient failures. Failures after
// the first token are never retried since tokens were already shown.
func (s *State) open(ctx context.Context, msgs []llm.Message) (<-chan llm.Chunk, int, error) {
	p := s.deps.Retry
	var waited time.Duration
	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		ch, err := s.deps.LLM.GenerateResponse(ctx, msgs)
		if err == nil {
			return ch, attempt, nil
		}
		lastErr = err
		if !llm.Retryable(err) || attempt == p.Attempts {
			break
		}
		d := p.Delay(attempt)
		if p.Budget > 0 && waited+d > p.Budget {
			return nil, attempt, errors.Join(errRetryBudget, err)
		}
		s.deps.Logger.Printf("llm: [%s] attempt %d failed, retrying in %v: %v", s.deps.SessionID, attempt, d, err)
		if s.deps.Hooks.Retried != nil {
			s.deps.Hooks.Retried(attempt, err)
		}
		if err := s.sleep(ctx, d); err != nil {
			return nil, attempt, err
		}
		waited += d
	}
	return nil, p.Attempts, lastErr
}

// StreamReply appends userText and streams the model's reply: every token
// goes to the client as llm_response_token and to the speaker. It returns
// false only when the reply carries the end marker. Backend failures are
// reported to the client and leave the conversation open. When ctx is
// cancelled mid-reply the partial text is kept as the assistant turn.
func (s *State) StreamReply(ctx context.Context, userText string) bool {
	s.appendTurn(llm.RoleUser, userText)
	msgs := s.messages()

	start := time.Now()
	ch, attempts, err := s.open(ctx, msgs)
	if err != nil {
		if ctx.Err() != nil {
			return true
		}
		s.fail(err)
		return true
	}

	s.send(protocol.NewEvent(protocol.TypeLLMResponseStart))

	var full strings.Builder
	var firstToken time.Duration
	var streamErr error
	for chunk := range ch {
		if ctx.Err() != nil {
			break
		}
		if chunk.Err != nil {
			streamErr = chunk.Err
			break
		}
		if full.Len() == 0 {
			firstToken = time.Since(start)
		}
		full.WriteString(chunk.Text)
		s.send(protocol.LLMResponseToken{Type: protocol.TypeLLMResponseToken, Token: chunk.Text})
		if s.deps.Speaker != nil {
			s.deps.Speaker.AddToken(chunk.Text)
		}
	}

	if ctx.Err() != nil {
		s.keepPartial(full.String())
		return true
	}
	if streamErr != nil {
		s.keepPartial(full.String())
		s.fail(streamErr)
		return true
	}

	if s.deps.Speaker != nil {
		if err := s.deps.Speaker.FlushRemaining(ctx); err != nil {
			s.keepPartial(full.String())
			return true
		}
	}

	reply := full.String()
	ended := strings.Contains(reply, catalog.EndMarker)
	if ended {
		reply = strings.TrimSpace(strings.ReplaceAll(reply, catalog.EndMarker, ""))
	}

	s.mu.Lock()
	s.turns = append(s.turns, Turn{Role: llm.RoleAssistant, Text: reply, Timestamp: time.Now()})
	if ended {
		s.active = false
	}
	s.mu.Unlock()

	s.send(protocol.LLMResponseEnd{Type: protocol.TypeLLMResponseEnd, ConversationActive: !ended, Text: reply})
	if s.deps.Hooks.Completed != nil {
		s.deps.Hooks.Completed(attempts, firstToken, ended)
	}
	s.deps.Logger.Printf("llm: [%s] reply complete (%d chars, ended=%v)", s.deps.SessionID, len(reply), ended)
	return !ended
}

func (s *State) keepPartial(text string) {
	text = strings.TrimSpace(strings.ReplaceAll(text, catalog.EndMarker, ""))
	if text == "" {
		return
	}
	s.appendTurn(llm.RoleAssistant, text)
	s.deps.Logger.Printf("llm: [%s] reply interrupted after %d chars", s.deps.SessionID, len(text))
}

func (s *State) fail(err error) {
	s.deps.Logger.Printf("llm: [%s] reply failed: %v", s.deps.SessionID, err)
	if s.deps.Hooks.Failed != nil {
		s.deps.Hooks.Failed(err)
	}
	msg := "LLM Error: " + err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "Response timeout - please try again"
	}
	s.send(protocol.NewError(protocol.CodeLLM, msg))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
