package jobs

import (
	"log"
	"sync"
	"time"
)

// Sweeper drops expired entries and reports how many were removed.
type Sweeper interface {
	Sweep() int
}

// TranscriptJanitor periodically removes session transcripts that have
// outlived their retention window.
type TranscriptJanitor struct {
	transcripts Sweeper
	logger      *log.Logger
	interval    time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

// NewTranscriptJanitor creates a janitor. Zero interval means 5 minutes.
func NewTranscriptJanitor(s Sweeper, logger *log.Logger, interval time.Duration) *TranscriptJanitor {
	if interval == 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = log.Default()
	}
	return &TranscriptJanitor{
		transcripts: s,
		logger:      logger,
		interval:    interval,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the background job.
func (j *TranscriptJanitor) Start() {
	j.wg.Add(1)
	go j.run()
	j.logger.Printf("TranscriptJanitor: started (interval=%v)", j.interval)
}

// Stop gracefully stops the background job.
func (j *TranscriptJanitor) Stop() {
	j.stopOnce.Do(func() { close(j.stopCh) })
	j.wg.Wait()
	j.logger.Println("TranscriptJanitor: stopped")
}

func (j *TranscriptJanitor) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := j.transcripts.Sweep(); n > 0 {
				j.logger.Printf("TranscriptJanitor: removed %d expired transcripts", n)
			}
		case <-j.stopCh:
			return
		}
	}
}
