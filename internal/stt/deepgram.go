package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const defaultDeepgramBaseURL = "https://api.deepgram.com"

// DeepgramClient implements the Client interface using Deepgram's
// prerecorded audio API.
type DeepgramClient struct {
	apiKey     string
	baseURL    string
	model      string
	punctuate  bool
	smartFmt   bool
	httpClient *http.Client
}

// DeepgramConfig holds configuration for the Deepgram client.
type DeepgramConfig struct {
	APIKey      string
	BaseURL     string
	Model       string // e.g., "nova-3"
	Punctuate   bool
	SmartFormat bool
	HTTPClient  *http.Client
}

// deepgramResponse represents a Deepgram prerecorded response.
type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// NewDeepgramClient creates a new Deepgram STT client.
func NewDeepgramClient(cfg DeepgramConfig) *DeepgramClient {
	c := &DeepgramClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		model:      cfg.Model,
		punctuate:  cfg.Punctuate,
		smartFmt:   cfg.SmartFormat,
		httpClient: cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = defaultDeepgramBaseURL
	}
	if c.model == "" {
		c.model = "nova-3"
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	return c
}

// Transcribe posts the audio body and returns the first alternative of the
// first channel.
func (c *DeepgramClient) Transcribe(ctx context.Context, a Audio) (string, error) {
	q := url.Values{}
	q.Set("model", c.model)
	if a.Language != "" {
		q.Set("language", a.Language)
	}
	q.Set("punctuate", fmt.Sprint(c.punctuate))
	if c.smartFmt {
		q.Set("smart_format", "true")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/listen?"+q.Encode(), bytes.NewReader(a.Data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &APIError{Provider: "deepgram", StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var dr deepgramResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(dr.Results.Channels) == 0 || len(dr.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return strings.TrimSpace(dr.Results.Channels[0].Alternatives[0].Transcript), nil
}
