package jobs

import (
	"context"
	"errors"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lukasbauer/coach/internal/resultcache"
)

func discardLogger() *log.Logger { return log.New(io.Discard, "", 0) }

type funcTranscriber func(ctx context.Context, payload, sessionID string) string

func (f funcTranscriber) Transcribe(ctx context.Context, payload, sessionID string) string {
	return f(ctx, payload, sessionID)
}

func TestTranscriptionPoolRoundTrip(t *testing.T) {
	cache := resultcache.NewMemory(time.Minute)
	inner := funcTranscriber(func(_ context.Context, payload, _ string) string {
		return "heard " + payload
	})
	p := NewTranscriptionPool(TranscriptionPoolConfig{Workers: 2, PollInterval: 5 * time.Millisecond, WaitTimeout: time.Second}, inner, cache, discardLogger())
	p.Start()
	defer p.Stop()

	if got := p.Transcribe(context.Background(), "abc", "sess-1"); got != "heard abc" {
		t.Errorf("Transcribe = %q, want %q", got, "heard abc")
	}
	// Results are read once.
	if cache.Len() != 0 {
		t.Errorf("cache holds %d entries after read", cache.Len())
	}
}

func TestTranscriptionPoolPanicBecomesFailure(t *testing.T) {
	cache := resultcache.NewMemory(time.Minute)
	inner := funcTranscriber(func(context.Context, string, string) string { panic("decoder blew up") })
	p := NewTranscriptionPool(TranscriptionPoolConfig{Workers: 1, PollInterval: 5 * time.Millisecond, WaitTimeout: time.Second}, inner, cache, discardLogger())
	p.Start()
	defer p.Stop()

	id, err := p.Submit("sess", "x")
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Result(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.Error == "" {
		t.Errorf("result = %+v, want failure with error", res)
	}
	if got := p.Transcribe(context.Background(), "x", "sess"); got != "" {
		t.Errorf("Transcribe after panic = %q, want empty", got)
	}
}

func TestTranscriptionPoolQueueFull(t *testing.T) {
	block := make(chan struct{})
	inner := funcTranscriber(func(context.Context, string, string) string {
		<-block
		return ""
	})
	p := NewTranscriptionPool(TranscriptionPoolConfig{Workers: 1, QueueSize: 1}, inner, resultcache.NewMemory(time.Minute), discardLogger())
	// Not started: nothing drains the queue.
	if _, err := p.Submit("s", "a"); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if _, err := p.Submit("s", "b"); !errors.Is(err, ErrQueueFull) {
		t.Errorf("second submit err = %v, want ErrQueueFull", err)
	}
	close(block)
}

func TestTranscriptionPoolTimeout(t *testing.T) {
	inner := funcTranscriber(func(ctx context.Context, _, _ string) string {
		time.Sleep(200 * time.Millisecond)
		return "late"
	})
	p := NewTranscriptionPool(TranscriptionPoolConfig{Workers: 1, PollInterval: 5 * time.Millisecond, WaitTimeout: 30 * time.Millisecond}, inner, resultcache.NewMemory(time.Minute), discardLogger())
	p.Start()
	defer p.Stop()

	if got := p.Transcribe(context.Background(), "x", "s"); got != "" {
		t.Errorf("Transcribe = %q, want empty on timeout", got)
	}
}

func TestSubmitAfterStop(t *testing.T) {
	p := NewTranscriptionPool(TranscriptionPoolConfig{Workers: 1}, funcTranscriber(func(context.Context, string, string) string { return "" }), resultcache.NewMemory(time.Minute), discardLogger())
	p.Start()
	p.Stop()
	if _, err := p.Submit("s", "x"); !errors.Is(err, ErrStopped) {
		t.Errorf("err = %v, want ErrStopped", err)
	}
}

type countingSweeper struct{ n atomic.Int32 }

func (c *countingSweeper) Sweep() int {
	c.n.Add(1)
	return 1
}

func TestTranscriptJanitor(t *testing.T) {
	s := &countingSweeper{}
	j := NewTranscriptJanitor(s, discardLogger(), 5*time.Millisecond)
	j.Start()

	deadline := time.Now().Add(time.Second)
	for s.n.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	j.Stop()
	j.Stop()

	if s.n.Load() < 2 {
		t.Errorf("sweeps = %d, want at least 2", s.n.Load())
	}
}
