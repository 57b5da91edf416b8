package tts

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"
)

type fakeClient struct {
	mu     sync.Mutex
	calls  int
	err    error
	format string
}

func (f *fakeClient) Synthesize(ctx context.Context, r Request) (Audio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return Audio{}, f.err
	}
	return Audio{Data: []byte(r.Text), Format: f.format}, nil
}

func (f *fakeClient) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestBreakerTransitions(t *testing.T) {
	now := time.Unix(0, 0)
	b := NewBreaker(5, 60*time.Second)
	b.now = func() time.Time { return now }

	var transitions []string
	b.OnStateChange(func(from, to BreakerState) {
		transitions = append(transitions, from.String()+"->"+to.String())
	})

	for i := 0; i < 4; i++ {
		b.Failure()
	}
	if b.State() != StateClosed {
		t.Fatalf("state after 4 failures = %s", b.State())
	}
	b.Failure()
	if b.State() != StateOpen {
		t.Fatalf("state after 5 failures = %s", b.State())
	}
	if b.Allow() {
		t.Fatal("open breaker allowed a call")
	}

	now = now.Add(60 * time.Second)
	if !b.Allow() {
		t.Fatal("breaker did not allow probe after cooldown")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", b.State())
	}
	if b.Allow() {
		t.Fatal("second concurrent probe allowed")
	}
	b.Failure()
	if b.State() != StateOpen {
		t.Fatalf("failed probe should reopen, got %s", b.State())
	}

	now = now.Add(61 * time.Second)
	b.Allow()
	b.Success()
	if b.State() != StateClosed || b.Failures() != 0 {
		t.Fatalf("state = %s failures = %d", b.State(), b.Failures())
	}

	want := []string{"closed->open", "open->half_open", "half_open->open", "open->half_open", "half_open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker(3, time.Minute)
	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()
	if b.State() != StateClosed {
		t.Errorf("non-consecutive failures tripped the breaker")
	}
}

func TestRouterOpensAfterFiveFailures(t *testing.T) {
	primary := &fakeClient{err: errors.New("503")}
	fallback := &fakeClient{format: "wav"}
	r := NewRouter(primary, fallback, NewBreaker(5, time.Minute), quietLogger())

	var reasons []string
	r.OnFallback = func(reason string) { reasons = append(reasons, reason) }

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		audio, err := r.Synthesize(ctx, Request{Text: "chunk"})
		if err != nil || audio.Format != "wav" {
			t.Fatalf("call %d: %+v, %v", i, audio, err)
		}
	}
	if primary.Calls() != 5 {
		t.Fatalf("primary calls = %d, want 5", primary.Calls())
	}

	if _, err := r.Synthesize(ctx, Request{Text: "sixth"}); err != nil {
		t.Fatal(err)
	}
	if primary.Calls() != 5 {
		t.Errorf("sixth call reached primary while open")
	}
	if fallback.Calls() != 6 {
		t.Errorf("fallback calls = %d, want 6", fallback.Calls())
	}
	if reasons[5] != "circuit_open" {
		t.Errorf("reason = %q, want circuit_open", reasons[5])
	}
}

func TestRouterPrimarySuccess(t *testing.T) {
	primary := &fakeClient{format: "mp3"}
	fallback := &fakeClient{format: "wav"}
	r := NewRouter(primary, fallback, nil, quietLogger())

	audio, err := r.Synthesize(context.Background(), Request{Text: "hi"})
	if err != nil || audio.Format != "mp3" {
		t.Fatalf("audio = %+v, err = %v", audio, err)
	}
	if fallback.Calls() != 0 {
		t.Error("fallback used on primary success")
	}
}

func TestRouterNoPrimaryUsesFallback(t *testing.T) {
	fallback := &fakeClient{format: "wav"}
	r := NewRouter(nil, fallback, nil, quietLogger())
	if _, err := r.Synthesize(context.Background(), Request{Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	if r.Breaker().State() != StateClosed {
		t.Error("breaker touched without a primary")
	}
}

func TestRouterBothFail(t *testing.T) {
	r := NewRouter(&fakeClient{err: errors.New("a")}, &fakeClient{err: errors.New("b")}, nil, quietLogger())
	if _, err := r.Synthesize(context.Background(), Request{Text: "hi"}); err == nil {
		t.Fatal("expected error")
	}
}

func TestRouterOpenWithoutFallback(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	r := NewRouter(&fakeClient{err: errors.New("down")}, nil, b, quietLogger())
	_, _ = r.Synthesize(context.Background(), Request{Text: "hi"})
	if _, err := r.Synthesize(context.Background(), Request{Text: "hi"}); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
}
