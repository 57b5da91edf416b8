package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const openAIBaseURL = "https://api.openai.com"

// OpenAIClient synthesizes with OpenAI's speech endpoint. It is the
// fallback provider, so it ignores Request.Voice and uses FallbackVoice.
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	model      string
	voice      string
	httpClient *http.Client
}

// OpenAIConfig holds configuration for the OpenAI speech client.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string // default "tts-1"
	Voice      string // used when a request has no FallbackVoice
	HTTPClient *http.Client
}

// NewOpenAIClient creates a new OpenAI speech client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	c := &OpenAIClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		voice:      cfg.Voice,
		httpClient: cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = openAIBaseURL
	}
	if c.model == "" {
		c.model = "tts-1"
	}
	if c.voice == "" {
		c.voice = "nova"
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	return c
}

type speechRequest struct {
	Model          string `json:"model"`
	Voice          string `json:"voice"`
	Input          string `json:"input"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize converts text to WAV audio.
func (c *OpenAIClient) Synthesize(ctx context.Context, r Request) (Audio, error) {
	voice := r.FallbackVoice
	if voice == "" {
		voice = c.voice
	}
	body, err := json.Marshal(speechRequest{
		Model:          c.model,
		Voice:          voice,
		Input:          r.Text,
		ResponseFormat: "wav",
	})
	if err != nil {
		return Audio{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return Audio{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Audio{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Audio{}, &APIError{Provider: "OpenAI", StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, fmt.Errorf("failed to read audio: %w", err)
	}
	return Audio{Data: data, Format: "wav"}, nil
}
