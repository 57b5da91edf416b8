package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultOpenAIBaseURL = "https://api.openai.com"

// OpenAIClient implements the Client interface using OpenAI's chat
// completions API.
type OpenAIClient struct {
	apiKey          string
	baseURL         string
	model           string
	temperature     float64
	maxTokens       int
	presencePenalty float64
	timeout         time.Duration
	httpClient      *http.Client
}

// OpenAIConfig holds configuration for the OpenAI client.
type OpenAIConfig struct {
	APIKey          string
	BaseURL         string
	Model           string  // e.g., "gpt-4o-mini"
	Temperature     float64 // 0 means 0.85
	MaxTokens       int     // 0 means 250
	PresencePenalty float64 // 0 means 0.1
	// Timeout bounds one whole completion including the stream.
	Timeout    time.Duration
	HTTPClient *http.Client
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	c := &OpenAIClient{
		apiKey:          cfg.APIKey,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		model:           cfg.Model,
		temperature:     cfg.Temperature,
		maxTokens:       cfg.MaxTokens,
		presencePenalty: cfg.PresencePenalty,
		timeout:         cfg.Timeout,
		httpClient:      cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = defaultOpenAIBaseURL
	}
	if c.model == "" {
		c.model = "gpt-4o-mini"
	}
	if c.temperature <= 0 {
		c.temperature = 0.85
	}
	if c.maxTokens <= 0 {
		c.maxTokens = 250
	}
	if c.presencePenalty <= 0 {
		c.presencePenalty = 0.1
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	return c
}

// Model returns the configured model name.
func (c *OpenAIClient) Model() string { return c.model }

// chatRequest represents an OpenAI chat completion request.
type chatRequest struct {
	Model           string        `json:"model"`
	Messages        []chatMessage `json:"messages"`
	Stream          bool          `json:"stream,omitempty"`
	Temperature     float64       `json:"temperature,omitempty"`
	MaxTokens       int           `json:"max_tokens,omitempty"`
	PresencePenalty float64       `json:"presence_penalty,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// streamResponse is one SSE data payload of a streamed completion.
type streamResponse struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GenerateResponse streams a completion for messages. Tokens are forwarded
// exactly as received.
func (c *OpenAIClient) GenerateResponse(ctx context.Context, messages []Message) (<-chan Chunk, error) {
	chatMsgs := make([]chatMessage, 0, len(messages))
	for _, m := range messages {
		chatMsgs = append(chatMsgs, chatMessage{Role: m.Role, Content: m.Content})
	}

	body, err := json.Marshal(chatRequest{
		Model:           c.model,
		Messages:        chatMsgs,
		Stream:          true,
		Temperature:     c.temperature,
		MaxTokens:       c.maxTokens,
		PresencePenalty: c.presencePenalty,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, c.timeout)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	ch := make(chan Chunk, 100)

	go func() {
		defer close(ch)
		defer cancel()
		defer resp.Body.Close()

		emit := func(chunk Chunk) bool {
			select {
			case <-ctx.Done():
				return false
			case ch <- chunk:
				return true
			}
		}
		// Failures are delivered unless the caller itself has gone away,
		// so a local timeout still reaches the reader.
		fail := func(err error) {
			select {
			case <-parent.Done():
			case ch <- Chunk{Err: err}:
			}
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}

			var streamResp streamResponse
			if err := json.Unmarshal([]byte(data), &streamResp); err != nil {
				continue
			}
			if streamResp.Error != nil {
				fail(fmt.Errorf("stream error: %s", streamResp.Error.Message))
				return
			}
			if len(streamResp.Choices) == 0 {
				continue
			}
			if content := streamResp.Choices[0].Delta.Content; content != "" {
				if !emit(Chunk{Text: content}) {
					fail(ctx.Err())
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			fail(fmt.Errorf("read stream: %w", err))
			return
		}
		if err := ctx.Err(); err != nil {
			fail(err)
		}
	}()

	return ch, nil
}
