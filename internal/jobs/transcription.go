package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lukasbauer/coach/internal/resultcache"
)

var (
	ErrQueueFull = errors.New("jobs: transcription queue full")
	ErrStopped   = errors.New("jobs: transcription pool stopped")
)

// Transcriber turns a base64 audio payload into text, "" on failure.
type Transcriber interface {
	Transcribe(ctx context.Context, payload, sessionID string) string
}

// TranscriptionResult is what a worker stores under the request id.
type TranscriptionResult struct {
	Success    bool   `json:"success"`
	Transcript string `json:"transcript"`
	Error      string `json:"error,omitempty"`
}

type transcriptionJob struct {
	requestID string
	sessionID string
	payload   string
}

// TranscriptionPoolConfig sizes the pool and bounds how long a caller waits.
type TranscriptionPoolConfig struct {
	Workers      int
	QueueSize    int
	PollInterval time.Duration
	WaitTimeout  time.Duration
}

// TranscriptionPool runs transcriptions on a fixed set of workers and hands
// results back through a result cache keyed by request id. It satisfies the
// same Transcriber interface it wraps so callers can switch paths freely.
type TranscriptionPool struct {
	cfg    TranscriptionPoolConfig
	inner  Transcriber
	cache  resultcache.Cache
	logger *log.Logger

	jobs     chan transcriptionJob
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewTranscriptionPool creates a pool. Call Start before submitting.
func NewTranscriptionPool(cfg TranscriptionPoolConfig, inner Transcriber, cache resultcache.Cache, logger *log.Logger) *TranscriptionPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 8
	}
	if logger == nil {
		logger = log.Default()
	}
	return &TranscriptionPool{
		cfg:    cfg,
		inner:  inner,
		cache:  cache,
		logger: logger,
		jobs:   make(chan transcriptionJob, cfg.QueueSize),
		stopCh: make(chan struct{}),
	}
}

// Start launches the workers.
func (p *TranscriptionPool) Start() {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Printf("TranscriptionPool: started (workers=%d, queue=%d)", p.cfg.Workers, p.cfg.QueueSize)
}

// Stop stops accepting work and waits for in-flight jobs. Queued jobs that
// no worker picked up are dropped; their callers time out.
func (p *TranscriptionPool) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
	p.logger.Println("TranscriptionPool: stopped")
}

// Submit queues a job and returns its request id.
func (p *TranscriptionPool) Submit(sessionID, payload string) (string, error) {
	select {
	case <-p.stopCh:
		return "", ErrStopped
	default:
	}
	job := transcriptionJob{requestID: uuid.NewString(), sessionID: sessionID, payload: payload}
	select {
	case p.jobs <- job:
		return job.requestID, nil
	default:
		return "", ErrQueueFull
	}
}

// Result waits for the result of requestID.
func (p *TranscriptionPool) Result(ctx context.Context, requestID string) (TranscriptionResult, error) {
	raw, err := resultcache.WaitFor(ctx, p.cache, requestID, p.cfg.PollInterval, p.cfg.WaitTimeout)
	if err != nil {
		return TranscriptionResult{}, err
	}
	var res TranscriptionResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return TranscriptionResult{}, fmt.Errorf("decode result %s: %w", requestID, err)
	}
	return res, nil
}

// Transcribe submits payload and blocks until its result arrives. A full
// queue, timeout or failed job yields "".
func (p *TranscriptionPool) Transcribe(ctx context.Context, payload, sessionID string) string {
	id, err := p.Submit(sessionID, payload)
	if err != nil {
		p.logger.Printf("TranscriptionPool: [%s] submit failed: %v", sessionID, err)
		return ""
	}
	res, err := p.Result(ctx, id)
	if err != nil {
		p.logger.Printf("TranscriptionPool: [%s] request %s: %v", sessionID, id, err)
		return ""
	}
	if !res.Success {
		p.logger.Printf("TranscriptionPool: [%s] request %s failed: %s", sessionID, id, res.Error)
		return ""
	}
	return res.Transcript
}

func (p *TranscriptionPool) worker(n int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case job := <-p.jobs:
			p.process(job)
		}
	}
}

func (p *TranscriptionPool) process(job transcriptionJob) {
	res := p.run(job)
	raw, err := json.Marshal(res)
	if err != nil {
		p.logger.Printf("TranscriptionPool: [%s] encode result: %v", job.sessionID, err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.cache.Set(ctx, job.requestID, raw); err != nil {
		p.logger.Printf("TranscriptionPool: [%s] store result %s: %v", job.sessionID, job.requestID, err)
	}
}

func (p *TranscriptionPool) run(job transcriptionJob) (res TranscriptionResult) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Printf("TranscriptionPool: [%s] panic: %v", job.sessionID, r)
			res = TranscriptionResult{Success: false, Error: fmt.Sprint(r)}
		}
	}()
	text := p.inner.Transcribe(context.Background(), job.payload, job.sessionID)
	return TranscriptionResult{Success: true, Transcript: text}
}
