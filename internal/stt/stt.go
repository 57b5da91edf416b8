package stt

import (
	"context"
	"fmt"
)

// Audio is one utterance submitted for transcription.
type Audio struct {
	Data        []byte
	Filename    string // e.g. "audio.wav"
	ContentType string // e.g. "audio/wav"
	Language    string // ISO-639-1 hint, e.g. "en"
}

// Client defines the interface for speech-to-text providers.
type Client interface {
	// Transcribe returns the text spoken in a. An empty string with a nil
	// error means the provider heard nothing.
	Transcribe(ctx context.Context, a Audio) (string, error)
}

// APIError is a non-2xx response from a provider.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s stt error: status %d: %s", e.Provider, e.StatusCode, e.Body)
}
