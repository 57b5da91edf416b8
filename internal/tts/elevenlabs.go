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

const elevenLabsBaseURL = "https://api.elevenlabs.io"

// ElevenLabsClient implements the Client interface using ElevenLabs' API.
type ElevenLabsClient struct {
	apiKey     string
	baseURL    string
	voiceID    string
	modelID    string
	stability  float64
	similarity float64
	httpClient *http.Client
}

// ElevenLabsConfig holds configuration for the ElevenLabs client. The voice
// fields are defaults for requests that leave them unset.
type ElevenLabsConfig struct {
	APIKey     string
	BaseURL    string
	VoiceID    string
	ModelID    string
	Stability  float64 // -1 means use default (0.5)
	Similarity float64 // -1 means use default (0.75)
	HTTPClient *http.Client
}

// NewElevenLabsClient creates a new ElevenLabs client.
func NewElevenLabsClient(cfg ElevenLabsConfig) *ElevenLabsClient {
	c := &ElevenLabsClient{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		voiceID:    cfg.VoiceID,
		modelID:    cfg.ModelID,
		stability:  cfg.Stability,
		similarity: cfg.Similarity,
		httpClient: cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = elevenLabsBaseURL
	}
	if c.voiceID == "" {
		c.voiceID = "21m00Tcm4TlvDq8ikWAM" // Rachel
	}
	if c.modelID == "" {
		c.modelID = "eleven_multilingual_v2"
	}
	if c.stability < 0 {
		c.stability = 0.5
	}
	if c.similarity < 0 {
		c.similarity = 0.75
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	return c
}

type ttsRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// resolve fills unset request voice fields from the client defaults.
func (c *ElevenLabsClient) resolve(v Voice) Voice {
	if v.VoiceID == "" {
		v.VoiceID = c.voiceID
	}
	if v.ModelID == "" {
		v.ModelID = c.modelID
	}
	if v.Stability < 0 {
		v.Stability = c.stability
	}
	if v.SimilarityBoost < 0 {
		v.SimilarityBoost = c.similarity
	}
	return v
}

// Synthesize converts text to speech and returns MP3 audio.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, r Request) (Audio, error) {
	v := c.resolve(r.Voice)
	url := fmt.Sprintf("%s/v1/text-to-speech/%s/stream", c.baseURL, v.VoiceID)

	body, err := json.Marshal(ttsRequest{
		Text:    r.Text,
		ModelID: v.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       v.Stability,
			SimilarityBoost: v.SimilarityBoost,
			UseSpeakerBoost: v.SpeakerBoost,
		},
	})
	if err != nil {
		return Audio{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Audio{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Audio{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Audio{}, &APIError{Provider: "ElevenLabs", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(data) == 0 {
		return Audio{}, fmt.Errorf("ElevenLabs returned empty audio")
	}
	return Audio{Data: data, Format: "mp3"}, nil
}
