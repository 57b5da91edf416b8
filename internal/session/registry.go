// Package session tracks the live realtime sessions of this process.
//
// At most one entry exists per session id. A second connect for the same id
// by the same user tears the first down before building the new one, and
// cleanup triggered by an old connection only removes the entry if it still
// owns it. A session id held by one user cannot be taken by another.
package session

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/lukasbauer/coach/internal/conversation"
	"github.com/lukasbauer/coach/internal/speech"
)

// Close codes used when the server ends a transport.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	ClosePolicy    = 1008
	CloseInternal  = 1011
)

var (
	// ErrDraining is returned by Connect once StartDraining has been called.
	ErrDraining = errors.New("session registry is draining")
	// ErrSessionOwned is returned when the session id belongs to another user.
	ErrSessionOwned = errors.New("session id belongs to another user")
)

// Transport is the client connection of a session. Implementations are
// compared by identity, so they should be pointers.
type Transport interface {
	Send(v any) error
	Close(code int, reason string) error
}

// Transcriber turns one audio payload into text; "" means nothing usable.
type Transcriber interface {
	Transcribe(ctx context.Context, payload, sessionID string) string
}

// Components are the per-session workers built by a Factory.
type Components struct {
	Speech       *speech.Synthesizer
	Conversation *conversation.State
	Transcriber  Transcriber
}

// Factory builds the components for a new session bound to t.
type Factory func(sessionID string, t Transport, sel conversation.Selection) (Components, error)

// Entry is one live session.
type Entry struct {
	ID        string
	UserID    string
	Transport Transport
	CreatedAt time.Time
	Components

	once sync.Once
	done sync.Once
}

// Registry owns the live sessions.
type Registry struct {
	factory Factory
	logger  *log.Logger

	mu       sync.Mutex
	entries  map[string]*Entry
	draining bool
	wg       sync.WaitGroup

	// OnChange, if set, is called with the active count after every
	// registration or removal.
	OnChange func(active int)
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{factory: factory, logger: logger, entries: make(map[string]*Entry)}
}

// Connect registers transport t under id. An existing entry for id is torn
// down first and its transport closed, unless it belongs to a different
// user, in which case Connect fails with ErrSessionOwned. If two connects
// race for the same id the later one wins and the earlier entry is torn
// down.
//
// Every successful Connect must be paired with a Done call once the
// connection's handler has returned; Wait blocks until then.
func (r *Registry) Connect(id string, t Transport, sel conversation.Selection, userID string) (*Entry, error) {
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		return nil, ErrDraining
	}
	old := r.entries[id]
	if old != nil && !sameUser(old.UserID, userID) {
		r.mu.Unlock()
		r.logger.Printf("registry: [%s] rejected connect from another user", id)
		return nil, ErrSessionOwned
	}
	delete(r.entries, id)
	r.mu.Unlock()

	if old != nil {
		r.logger.Printf("registry: [%s] superseding existing connection", id)
		r.teardown(old, CloseNormal, "superseded by a new connection")
	}

	comps, err := r.factory(id, t, sel)
	if err != nil {
		return nil, err
	}
	e := &Entry{ID: id, UserID: userID, Transport: t, CreatedAt: time.Now(), Components: comps}

	// The draining check and wg.Add happen under one lock so Wait cannot
	// miss an entry registered concurrently with StartDraining.
	r.mu.Lock()
	if r.draining {
		r.mu.Unlock()
		r.closeComponents(e)
		return nil, ErrDraining
	}
	raced := r.entries[id]
	if raced != nil && !sameUser(raced.UserID, userID) {
		r.mu.Unlock()
		r.closeComponents(e)
		return nil, ErrSessionOwned
	}
	r.entries[id] = e
	r.wg.Add(1)
	n := len(r.entries)
	r.mu.Unlock()

	if raced != nil {
		r.teardown(raced, CloseNormal, "superseded by a new connection")
	}
	r.changed(n)
	r.logger.Printf("registry: [%s] connected (total %d)", id, n)
	return e, nil
}

// Done marks the handler of e as finished. It is safe to call more than
// once.
func (r *Registry) Done(e *Entry) {
	if e == nil {
		return
	}
	e.done.Do(r.wg.Done)
}

// Owns reports whether id is still bound to t.
func (r *Registry) Owns(id string, t Transport) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entries[id]
	return e != nil && e.Transport == t
}

// Get returns the entry for id, or nil.
func (r *Registry) Get(id string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[id]
}

// Disconnect tears down the entry for id. It is a no-op when absent.
func (r *Registry) Disconnect(id string) {
	r.mu.Lock()
	e := r.entries[id]
	delete(r.entries, id)
	n := len(r.entries)
	r.mu.Unlock()
	if e == nil {
		return
	}
	r.teardown(e, CloseNormal, "")
	r.changed(n)
	r.logger.Printf("registry: [%s] disconnected (total %d)", id, n)
}

// Release tears down the entry for id only if it is still bound to t. It
// reports whether anything was removed.
func (r *Registry) Release(id string, t Transport) bool {
	r.mu.Lock()
	e := r.entries[id]
	if e == nil || e.Transport != t {
		r.mu.Unlock()
		if e != nil {
			r.logger.Printf("registry: [%s] transport already replaced, skipping cleanup", id)
		}
		return false
	}
	delete(r.entries, id)
	n := len(r.entries)
	r.mu.Unlock()

	r.teardown(e, CloseNormal, "")
	r.changed(n)
	r.logger.Printf("registry: [%s] released (total %d)", id, n)
	return true
}

// ActiveCount returns the number of live sessions.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// StartDraining makes future Connect calls fail with ErrDraining.
func (r *Registry) StartDraining() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.draining = true
}

// IsDraining reports whether the registry is in draining mode.
func (r *Registry) IsDraining() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.draining
}

// Wait blocks until Done has been called for every entry Connect returned,
// or ctx is done.
func (r *Registry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseAll tears down every entry with code and reason.
func (r *Registry) CloseAll(code int, reason string) {
	r.mu.Lock()
	all := make([]*Entry, 0, len(r.entries))
	for id, e := range r.entries {
		all = append(all, e)
		delete(r.entries, id)
	}
	r.mu.Unlock()
	for _, e := range all {
		r.teardown(e, code, reason)
	}
	if len(all) > 0 {
		r.changed(r.ActiveCount())
	}
}

func (r *Registry) teardown(e *Entry, code int, reason string) {
	e.once.Do(func() {
		r.closeComponents(e)
		if err := e.Transport.Close(code, reason); err != nil {
			r.logger.Printf("registry: [%s] transport close: %v", e.ID, err)
		}
	})
}

func (r *Registry) closeComponents(e *Entry) {
	if e.Speech != nil {
		e.Speech.CancelAll()
		e.Speech.Close()
	}
}

// sameUser treats an empty user id as anonymous and compatible with any.
func sameUser(a, b string) bool {
	return a == "" || b == "" || a == b
}

func (r *Registry) changed(n int) {
	if r.OnChange != nil {
		r.OnChange(n)
	}
}
