package tts

import (
	"context"
	"errors"
	"fmt"
)

// Voice selects and tunes the voice used for a request. Negative Stability
// or SimilarityBoost mean "use the provider default".
type Voice struct {
	VoiceID         string
	ModelID         string
	Stability       float64
	SimilarityBoost float64
	SpeakerBoost    bool
}

// Request is one synthesis call.
type Request struct {
	Text  string
	Voice Voice
	// FallbackVoice names the secondary provider's voice for this persona.
	FallbackVoice string
}

// Audio is synthesized speech plus its container format ("mp3", "wav").
type Audio struct {
	Data   []byte
	Format string
}

// Client defines the interface for text-to-speech providers.
type Client interface {
	// Synthesize converts text to speech and returns the complete audio.
	Synthesize(ctx context.Context, req Request) (Audio, error)
}

// ErrCircuitOpen is returned when the primary provider is tripped and no
// fallback is configured.
var ErrCircuitOpen = errors.New("tts: circuit open")

// APIError is a non-success response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error: %d - %s", e.Provider, e.StatusCode, e.Body)
}
