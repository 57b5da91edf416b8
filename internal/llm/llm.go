package llm

import (
	"context"
	"errors"
	"fmt"
)

// Roles used in chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a conversation message.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Chunk is one item of a streamed completion. A chunk with Err set is
// always the last one on the channel.
type Chunk struct {
	Text string
	Err  error
}

// Client defines the interface for LLM providers.
type Client interface {
	// GenerateResponse starts a streamed completion for messages. An error is
	// returned only when the stream could not be opened; failures after that
	// arrive as a final Chunk with Err set. The channel is closed when the
	// completion ends or ctx is done.
	GenerateResponse(ctx context.Context, messages []Message) (<-chan Chunk, error)
}

// APIError is a non-2xx response from the provider.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm api error: status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether err is worth another attempt. Client errors
// other than rate limiting are not.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return true
}
