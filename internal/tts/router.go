package tts

import (
	"context"
	"errors"
	"log"
)

// Router sends requests to the primary provider through a circuit breaker
// and falls back to the secondary provider on any primary failure or while
// the circuit is open.
type Router struct {
	primary  Client
	fallback Client
	breaker  *Breaker
	logger   *log.Logger

	// OnFallback, if set, is called with the reason each time the fallback
	// provider is used.
	OnFallback func(reason string)
}

// NewRouter wires the providers. primary or fallback may be nil; a nil
// breaker gets the defaults.
func NewRouter(primary, fallback Client, breaker *Breaker, logger *log.Logger) *Router {
	if breaker == nil {
		breaker = NewBreaker(0, 0)
	}
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	return &Router{primary: primary, fallback: fallback, breaker: breaker, logger: logger}
}

// Breaker returns the breaker guarding the primary provider.
func (r *Router) Breaker() *Breaker { return r.breaker }

// Synthesize implements Client.
func (r *Router) Synthesize(ctx context.Context, req Request) (Audio, error) {
	reason := "no_primary"
	var primaryErr error

	if r.primary != nil {
		if r.breaker.Allow() {
			audio, err := r.primary.Synthesize(ctx, req)
			if err == nil {
				r.breaker.Success()
				return audio, nil
			}
			if ctx.Err() != nil {
				// Cancelled by the caller; not the provider's fault.
				r.breaker.abort()
				return Audio{}, ctx.Err()
			}
			r.breaker.Failure()
			r.logger.Printf("tts: primary failed (breaker %s): %v", r.breaker.State(), err)
			primaryErr = err
			reason = "primary_error"
		} else {
			primaryErr = ErrCircuitOpen
			reason = "circuit_open"
		}
	}

	if r.fallback == nil {
		if primaryErr == nil {
			primaryErr = errors.New("tts: no provider configured")
		}
		return Audio{}, primaryErr
	}
	if r.OnFallback != nil {
		r.OnFallback(reason)
	}
	audio, err := r.fallback.Synthesize(ctx, req)
	if err != nil {
		return Audio{}, errors.Join(primaryErr, err)
	}
	return audio, nil
}
