// Package speech turns a live stream of LLM tokens into ordered audio chunks
// sent to the client as soon as each chunk is synthesized.
//
// Tokens accumulate in a buffer that is cut into sentence-sized chunks.
// Chunks are numbered and synthesized one at a time, in order, by a drain
// goroutine. Cancellation bumps a generation counter: anything popped under
// an older generation is dropped even if its synthesis call succeeds later.
package speech

import (
	"context"
	"encoding/base64"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lukasbauer/coach/internal/catalog"
	"github.com/lukasbauer/coach/internal/protocol"
	"github.com/lukasbauer/coach/internal/tts"
)

// State is the synthesizer's coarse position.
type State int

const (
	Idle State = iota
	Buffering
	Draining
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Buffering:
		return "buffering"
	case Draining:
		return "draining"
	}
	return "unknown"
}

// Config controls the synthesizer.
type Config struct {
	Enabled bool
	Rules   ChunkRules
	// Strip lists literals removed from chunks before synthesis.
	Strip []string
	// CallTimeout bounds each backend call.
	CallTimeout time.Duration
}

// DefaultConfig enables synthesis with the default chunk rules.
func DefaultConfig() Config {
	return Config{
		Enabled:     true,
		Rules:       DefaultChunkRules(),
		Strip:       []string{catalog.EndMarker},
		CallTimeout: 30 * time.Second,
	}
}

// Hooks receive per-chunk outcomes, typically for metrics. Nil fields are
// skipped.
type Hooks struct {
	// ChunkSent gets the time since the reply's first token for the first
	// chunk of each reply and zero for the rest.
	ChunkSent      func(seq int, format string, sinceFirstToken time.Duration)
	ChunkDiscarded func(seq int)
	ChunkFailed    func(seq int, err error)
}

type task struct {
	seq  int
	text string
}

// Snapshot is a copy of the synthesizer's mutable state.
type Snapshot struct {
	Buffer     string
	Queued     int
	Seq        int
	Processing bool
	Stopped    bool
}

// Synthesizer is one session's incremental speech pipeline.
type Synthesizer struct {
	sessionID string
	cfg       Config
	backend   tts.Client
	sender    protocol.Sender
	logger    *log.Logger
	hooks     Hooks

	// sendMu is held from the generation check through the client write,
	// and by every cancel, so no stale chunk is written after a cancel
	// returns. It is taken before mu, never after.
	sendMu sync.Mutex

	mu           sync.Mutex
	buf          strings.Builder
	queue        []task
	seq          int
	processing   bool
	stop         bool
	closed       bool
	gen          uint64
	idle         chan struct{}
	ctx          context.Context
	cancel       context.CancelFunc
	voice        tts.Request
	firstTokenAt time.Time
	audioSent    bool
}

// New creates a synthesizer bound to sender, speaking as personality p.
func New(sessionID string, cfg Config, backend tts.Client, sender protocol.Sender, p catalog.Personality, logger *log.Logger, hooks Hooks) *Synthesizer {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	idle := make(chan struct{})
	close(idle)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Synthesizer{
		sessionID: sessionID,
		cfg:       cfg,
		backend:   backend,
		sender:    sender,
		logger:    logger,
		hooks:     hooks,
		idle:      idle,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.voice = requestTemplate(p)
	return s
}

func requestTemplate(p catalog.Personality) tts.Request {
	return tts.Request{
		Voice: tts.Voice{
			VoiceID:         p.Voice.VoiceID,
			ModelID:         p.Voice.ModelID,
			Stability:       p.Voice.Stability,
			SimilarityBoost: p.Voice.SimilarityBoost,
			SpeakerBoost:    p.Voice.SpeakerBoost,
		},
		FallbackVoice: p.FallbackVoice,
	}
}

// SetPersonality switches the voice used for chunks popped from now on.
func (s *Synthesizer) SetPersonality(p catalog.Personality) {
	s.mu.Lock()
	s.voice = requestTemplate(p)
	s.mu.Unlock()
}

// AddToken appends token to the buffer and queues every chunk the flush
// rule cuts from it. It is a no-op when disabled, stopped or closed.
func (s *Synthesizer) AddToken(token string) {
	if !s.cfg.Enabled || token == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop || s.closed {
		return
	}
	if s.firstTokenAt.IsZero() {
		s.firstTokenAt = time.Now()
		s.audioSent = false
	}
	s.buf.WriteString(token)

	pending := s.buf.String()
	flushed := false
	for {
		chunk, rest, ok := SplitChunk(pending, s.cfg.Rules)
		if !ok {
			break
		}
		pending, flushed = rest, true
		s.enqueueLocked(chunk)
	}
	if flushed {
		s.buf.Reset()
		s.buf.WriteString(pending)
	}
}

// FlushRemaining queues whatever is left in the buffer and blocks until the
// queue is empty and no synthesis is in flight, or ctx is done.
func (s *Synthesizer) FlushRemaining(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}
	s.mu.Lock()
	if s.stop || s.closed {
		s.mu.Unlock()
		return nil
	}
	rest := s.buf.String()
	s.buf.Reset()
	s.enqueueLocked(rest)
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	if !s.processing {
		s.firstTokenAt = time.Time{}
	}
	s.mu.Unlock()
	return nil
}

// enqueueLocked strips markers, drops chunks that are too short and starts
// a drain goroutine if none is running for the current generation.
func (s *Synthesizer) enqueueLocked(chunk string) {
	for _, m := range s.cfg.Strip {
		chunk = strings.ReplaceAll(chunk, m, "")
	}
	chunk = strings.TrimSpace(chunk)
	if len(chunk) < s.cfg.Rules.MinChunkChars {
		return
	}
	s.seq++
	s.queue = append(s.queue, task{seq: s.seq, text: chunk})
	if !s.processing {
		s.processing = true
		s.idle = make(chan struct{})
		go s.drain(s.ctx, s.gen)
	}
}

func (s *Synthesizer) markIdleLocked() {
	if s.processing {
		s.processing = false
		close(s.idle)
	}
}

func (s *Synthesizer) drain(ctx context.Context, gen uint64) {
	for {
		s.mu.Lock()
		if s.gen != gen {
			s.mu.Unlock()
			return
		}
		if len(s.queue) == 0 {
			s.markIdleLocked()
			s.mu.Unlock()
			return
		}
		t := s.queue[0]
		s.queue = s.queue[1:]
		req := s.voice
		req.Text = t.text
		s.mu.Unlock()

		s.synthesizeAndSend(ctx, gen, t, req)
	}
}

func (s *Synthesizer) synthesizeAndSend(ctx context.Context, gen uint64, t task, req tts.Request) {
	if !s.current(gen) {
		s.discard(t.seq, "before synthesis")
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	audio, err := s.backend.Synthesize(callCtx, req)
	cancel()

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	if s.gen != gen || s.stop {
		s.discardLocked(t.seq, "after synthesis")
		s.mu.Unlock()
		return
	}
	var since time.Duration
	if err == nil && len(audio.Data) > 0 && !s.firstTokenAt.IsZero() && !s.audioSent {
		since = time.Since(s.firstTokenAt)
		s.audioSent = true
	}
	s.mu.Unlock()

	// Only sendMu is held from here, so AddToken keeps buffering while a
	// slow client drains the write.
	if err != nil {
		s.logger.Printf("tts: [%s] chunk %d failed: %v", s.sessionID, t.seq, err)
		if s.hooks.ChunkFailed != nil {
			s.hooks.ChunkFailed(t.seq, err)
		}
		_ = s.sender.Send(protocol.NewError(protocol.CodeTTS, "Speech synthesis failed"))
		return
	}
	if len(audio.Data) == 0 {
		return
	}
	msg := protocol.TTSAudioChunk{
		Type:      protocol.TypeTTSAudioChunk,
		AudioData: base64.StdEncoding.EncodeToString(audio.Data),
		Format:    audio.Format,
		Seq:       t.seq,
	}
	if err := s.sender.Send(msg); err != nil {
		s.logger.Printf("tts: [%s] send chunk %d failed: %v", s.sessionID, t.seq, err)
		return
	}
	if s.hooks.ChunkSent != nil {
		s.hooks.ChunkSent(t.seq, audio.Format, since)
	}
}

func (s *Synthesizer) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen == gen && !s.stop
}

func (s *Synthesizer) discard(seq int, when string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.discardLocked(seq, when)
}

func (s *Synthesizer) discardLocked(seq int, when string) {
	s.logger.Printf("tts: [%s] chunk %d dropped %s cancel", s.sessionID, seq, when)
	if s.hooks.ChunkDiscarded != nil {
		s.hooks.ChunkDiscarded(seq)
	}
}

// CancelAll sets the stop flag, empties the queue, clears the buffer and
// counters and aborts any in-flight synthesis call. Audio from work started
// before the cancel is never sent.
func (s *Synthesizer) CancelAll() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
}

func (s *Synthesizer) cancelLocked() {
	s.stop = true
	s.queue = nil
	s.buf.Reset()
	s.seq = 0
	s.firstTokenAt = time.Time{}
	s.markIdleLocked()

	s.gen++
	s.cancel()
	s.ctx, s.cancel = context.WithCancel(context.Background())
}

// StopCurrentPlayback cancels everything and immediately re-arms the
// synthesizer for the next reply.
func (s *Synthesizer) StopCurrentPlayback() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.cancelLocked()
	s.stop = false
}

// Close cancels all work permanently.
func (s *Synthesizer) Close() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.closed = true
	s.cancel()
}

// State reports Idle, Buffering or Draining.
func (s *Synthesizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.processing:
		return Draining
	case s.buf.Len() > 0:
		return Buffering
	default:
		return Idle
	}
}

// Stats returns a copy of the mutable state.
func (s *Synthesizer) Stats() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats()
}

func (s *Synthesizer) stats() Snapshot {
	return Snapshot{
		Buffer:     s.buf.String(),
		Queued:     len(s.queue),
		Seq:        s.seq,
		Processing: s.processing,
		Stopped:    s.stop,
	}
}
