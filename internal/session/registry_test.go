package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/lukasbauer/coach/internal/catalog"
	"github.com/lukasbauer/coach/internal/conversation"
	"github.com/lukasbauer/coach/internal/speech"
)

type fakeTransport struct {
	mu     sync.Mutex
	closed bool
	code   int
	sent   []any
}

func (f *fakeTransport) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("closed")
	}
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.code = code
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

var discard = log.New(io.Discard, "", 0)

func testFactory(id string, t Transport, sel conversation.Selection) (Components, error) {
	cfg := speech.DefaultConfig()
	cfg.Enabled = false
	p := catalog.PersonalityOrDefault(sel.PersonalityID)
	return Components{
		Speech:       speech.New(id, cfg, nil, t, p, discard, speech.Hooks{}),
		Conversation: conversation.New(conversation.Deps{SessionID: id, Sender: t, Logger: discard}, sel),
	}, nil
}

func TestConnectSupersedesExisting(t *testing.T) {
	r := NewRegistry(testFactory, discard)
	first, second := &fakeTransport{}, &fakeTransport{}

	if _, err := r.Connect("s1", first, conversation.Selection{}, "u1"); err != nil {
		t.Fatal(err)
	}
	e, err := r.Connect("s1", second, conversation.Selection{}, "u1")
	if err != nil {
		t.Fatal(err)
	}

	if n := r.ActiveCount(); n != 1 {
		t.Errorf("ActiveCount = %d, want 1", n)
	}
	if !first.isClosed() {
		t.Error("superseded transport not closed")
	}
	if second.isClosed() {
		t.Error("new transport closed")
	}
	if got := r.Get("s1"); got != e || got.Transport != second {
		t.Error("Get does not return the new entry")
	}
	if e.Speech.Stats().Stopped {
		t.Error("new synthesizer should not be stopped")
	}
}

func TestReleaseChecksTransportIdentity(t *testing.T) {
	r := NewRegistry(testFactory, discard)
	old, current := &fakeTransport{}, &fakeTransport{}
	r.Connect("s1", old, conversation.Selection{}, "")
	r.Connect("s1", current, conversation.Selection{}, "")

	// The loser's cleanup runs late and must not touch the winner.
	if r.Release("s1", old) {
		t.Error("Release with a stale transport removed the entry")
	}
	if r.Get("s1") == nil || current.isClosed() {
		t.Fatal("winner was torn down")
	}

	if !r.Release("s1", current) {
		t.Error("Release with the live transport failed")
	}
	if r.Get("s1") != nil || !current.isClosed() {
		t.Error("entry not removed")
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	r := NewRegistry(testFactory, discard)
	tr := &fakeTransport{}
	e, _ := r.Connect("s1", tr, conversation.Selection{}, "")

	r.Disconnect("s1")
	r.Disconnect("s1")
	r.Disconnect("never-connected")

	if r.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d", r.ActiveCount())
	}
	if !tr.isClosed() {
		t.Error("transport not closed")
	}
	if !e.Speech.Stats().Stopped {
		t.Error("synthesizer not cancelled")
	}
}

func TestConcurrentConnectsLeaveOneEntry(t *testing.T) {
	r := NewRegistry(testFactory, discard)
	const n = 20
	transports := make([]*fakeTransport, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		transports[i] = &fakeTransport{}
		wg.Add(1)
		go func(tr *fakeTransport) {
			defer wg.Done()
			r.Connect("same", tr, conversation.Selection{}, "")
		}(transports[i])
	}
	wg.Wait()

	if got := r.ActiveCount(); got != 1 {
		t.Fatalf("ActiveCount = %d, want 1", got)
	}
	live := r.Get("same").Transport
	open := 0
	for _, tr := range transports {
		if !tr.isClosed() {
			open++
			if Transport(tr) != live {
				t.Error("an open transport is not the registered one")
			}
		}
	}
	if open != 1 {
		t.Errorf("%d transports left open, want 1", open)
	}
}

func TestDrainingRejectsAndWaits(t *testing.T) {
	r := NewRegistry(testFactory, discard)
	e, _ := r.Connect("a", &fakeTransport{}, conversation.Selection{}, "")
	r.StartDraining()

	if _, err := r.Connect("b", &fakeTransport{}, conversation.Selection{}, ""); !errors.Is(err, ErrDraining) {
		t.Fatalf("err = %v, want ErrDraining", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait returned %v with a live session", err)
	}

	done := make(chan error, 1)
	go func() { done <- r.Wait(context.Background()) }()

	// Closing the transport is not enough; the handler is still running.
	r.CloseAll(CloseGoingAway, "shutdown")
	select {
	case err := <-done:
		t.Fatalf("Wait returned %v before the handler finished", err)
	case <-time.After(30 * time.Millisecond):
	}

	r.Done(e)
	r.Done(e)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the last handler finished")
	}
}

func TestConnectRejectsOtherUser(t *testing.T) {
	r := NewRegistry(testFactory, discard)
	owner, intruder := &fakeTransport{}, &fakeTransport{}
	e, err := r.Connect("s1", owner, conversation.Selection{}, "u1")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := r.Connect("s1", intruder, conversation.Selection{}, "u2"); !errors.Is(err, ErrSessionOwned) {
		t.Fatalf("err = %v, want ErrSessionOwned", err)
	}
	if owner.isClosed() {
		t.Error("owner's transport closed by another user's connect")
	}
	if got := r.Get("s1"); got != e || !r.Owns("s1", owner) || r.Owns("s1", intruder) {
		t.Error("entry changed hands")
	}

	// The same user may still take over from another device.
	if _, err := r.Connect("s1", intruder, conversation.Selection{}, "u1"); err != nil {
		t.Fatalf("same-user reconnect: %v", err)
	}
	if !owner.isClosed() || !r.Owns("s1", intruder) {
		t.Error("same-user reconnect did not supersede")
	}
}

func TestCloseAll(t *testing.T) {
	r := NewRegistry(testFactory, discard)
	var counts []int
	r.OnChange = func(n int) { counts = append(counts, n) }
	trs := []*fakeTransport{{}, {}, {}}
	for i, tr := range trs {
		r.Connect(fmt.Sprintf("s%d", i), tr, conversation.Selection{}, "")
	}
	r.CloseAll(CloseGoingAway, "shutdown")
	for i, tr := range trs {
		if !tr.isClosed() || tr.code != CloseGoingAway {
			t.Errorf("transport %d closed=%v code=%d", i, tr.closed, tr.code)
		}
	}
	if r.ActiveCount() != 0 {
		t.Error("entries left after CloseAll")
	}
	if len(counts) == 0 || counts[len(counts)-1] != 0 {
		t.Errorf("OnChange counts = %v", counts)
	}
}

func TestFactoryErrorRegistersNothing(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry(func(string, Transport, conversation.Selection) (Components, error) {
		return Components{}, boom
	}, discard)
	if _, err := r.Connect("s", &fakeTransport{}, conversation.Selection{}, ""); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if r.ActiveCount() != 0 {
		t.Error("entry registered despite factory error")
	}
}

func TestTranscripts(t *testing.T) {
	tr := NewTranscripts(time.Hour)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	sel := conversation.Selection{PersonalityID: "p", ScenarioID: "s"}
	tr.Start("a", "u1", sel)
	tr.Append("a", "user", "hello")
	tr.Append("a", "assistant", "hi")
	tr.Append("missing", "user", "ignored")

	// A second Start keeps the existing messages.
	tr.Start("a", "u1", sel)
	h, ok := tr.Get("a")
	if !ok || len(h.Messages) != 2 || h.Messages[0].Text != "hello" || h.UserID != "u1" {
		t.Fatalf("history = %+v", h)
	}

	// Copies are independent.
	h.Messages[0].Text = "changed"
	if again, _ := tr.Get("a"); again.Messages[0].Text != "hello" {
		t.Error("Get returned shared storage")
	}

	tr.Restart("a", conversation.Selection{ScenarioID: "other"})
	h, _ = tr.Get("a")
	if len(h.Messages) != 0 || h.ScenarioID != "other" || h.PersonalityID != "p" {
		t.Errorf("after restart = %+v", h)
	}

	// Another user cannot take over a kept history.
	if err := tr.Start("a", "u2", sel); !errors.Is(err, ErrSessionOwned) {
		t.Errorf("Start by another user = %v, want ErrSessionOwned", err)
	}
	if h, _ := tr.Get("a"); h.UserID != "u1" {
		t.Errorf("owner changed to %q", h.UserID)
	}

	tr.Start("b", "u2", sel)
	now = now.Add(61 * time.Minute)
	tr.Start("c", "u3", sel)
	if n := tr.Sweep(); n != 2 {
		t.Errorf("Sweep removed %d, want 2", n)
	}
	if _, ok := tr.Get("c"); !ok {
		t.Error("fresh history swept")
	}
}
