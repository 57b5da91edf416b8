package resultcache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultWaitTimeout  = 30 * time.Second
)

// ErrTimeout is returned by WaitFor when no result arrived in time.
var ErrTimeout = errors.New("resultcache: timed out waiting for result")

// WaitFor polls c for key until a value is popped, the timeout elapses or
// ctx is done. Zero interval or timeout use the defaults.
func WaitFor(ctx context.Context, c Cache, key string, interval, timeout time.Duration) ([]byte, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		val, err := c.Pop(ctx, key)
		if err == nil {
			return val, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("pop %s: %w", key, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, ErrTimeout
		case <-ticker.C:
		}
	}
}
