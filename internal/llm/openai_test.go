package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewOpenAIClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		client := NewOpenAIClient(OpenAIConfig{APIKey: "test-key"})

		if client.model != "gpt-4o-mini" {
			t.Errorf("model = %q, want %q", client.model, "gpt-4o-mini")
		}
		if client.temperature != 0.85 {
			t.Errorf("temperature = %v, want 0.85", client.temperature)
		}
		if client.maxTokens != 250 {
			t.Errorf("maxTokens = %d, want 250", client.maxTokens)
		}
		if client.presencePenalty != 0.1 {
			t.Errorf("presencePenalty = %v, want 0.1", client.presencePenalty)
		}
		if client.timeout != 30*time.Second {
			t.Errorf("timeout = %v, want 30s", client.timeout)
		}
		if client.baseURL != defaultOpenAIBaseURL {
			t.Errorf("baseURL = %q", client.baseURL)
		}
	})

	t.Run("custom model and base url", func(t *testing.T) {
		client := NewOpenAIClient(OpenAIConfig{
			APIKey:  "test-key",
			Model:   "gpt-4o",
			BaseURL: "http://localhost:8080/",
		})
		if client.model != "gpt-4o" {
			t.Errorf("model = %q, want %q", client.model, "gpt-4o")
		}
		if client.baseURL != "http://localhost:8080" {
			t.Errorf("baseURL = %q, trailing slash not trimmed", client.baseURL)
		}
	})
}

func sseServer(t *testing.T, lines []string, check func(*http.Request, chatRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if check != nil {
			check(r, req)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			fmt.Fprintf(w, "%s\n\n", l)
		}
	}))
}

func delta(s string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"delta": map[string]string{"content": s}}},
	})
	return "data: " + string(b)
}

func collect(t *testing.T, ch <-chan Chunk) (string, error) {
	t.Helper()
	var sb strings.Builder
	for c := range ch {
		if c.Err != nil {
			return sb.String(), c.Err
		}
		sb.WriteString(c.Text)
	}
	return sb.String(), nil
}

func TestGenerateResponseStreamsTokensVerbatim(t *testing.T) {
	tokens := []string{"Hello", ", ", "  spaced\t", "world.", " [END_", "CONVERSATION]"}
	lines := []string{": keep-alive"}
	for _, tok := range tokens {
		lines = append(lines, delta(tok))
	}
	lines = append(lines, `data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`, "data: [DONE]", delta("after done"))

	srv := sseServer(t, lines, func(r *http.Request, req chatRequest) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer k" {
			t.Errorf("authorization = %q", got)
		}
		if !req.Stream || req.Model != "gpt-4o-mini" || req.MaxTokens != 250 {
			t.Errorf("unexpected request %+v", req)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != RoleSystem || req.Messages[1].Content != "hi" {
			t.Errorf("messages = %+v", req.Messages)
		}
	})
	defer srv.Close()

	client := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	ch, err := client.GenerateResponse(context.Background(), []Message{
		{Role: RoleSystem, Content: "be a manager"},
		{Role: RoleUser, Content: "hi"},
	})
	if err != nil {
		t.Fatalf("GenerateResponse: %v", err)
	}
	got, err := collect(t, ch)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if want := strings.Join(tokens, ""); got != want {
		t.Errorf("text = %q, want %q", got, want)
	}
}

func TestGenerateResponseStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	_, err := client.GenerateResponse(context.Background(), []Message{{Role: RoleUser, Content: "x"}})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("err = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d", apiErr.StatusCode)
	}
	if !Retryable(err) {
		t.Error("429 should be retryable")
	}
}

func TestGenerateResponseInStreamError(t *testing.T) {
	srv := sseServer(t, []string{delta("Par"), `data: {"error":{"message":"overloaded"}}`}, nil)
	defer srv.Close()

	client := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL})
	ch, err := client.GenerateResponse(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	got, err := collect(t, ch)
	if err == nil || !strings.Contains(err.Error(), "overloaded") {
		t.Fatalf("err = %v, want overloaded", err)
	}
	if got != "Par" {
		t.Errorf("partial text = %q", got)
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", fmt.Errorf("wrap: %w", context.Canceled), false},
		{"timeout", context.DeadlineExceeded, true},
		{"network", errors.New("connection reset"), true},
		{"server", &APIError{StatusCode: 503}, true},
		{"bad request", &APIError{StatusCode: 400}, false},
		{"unauthorized", &APIError{StatusCode: 401}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
