package stt

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/lukasbauer/coach/internal/audio"
	"github.com/lukasbauer/coach/internal/vad"
)

type fakeClient struct {
	mu    sync.Mutex
	calls []Audio
	// results are returned in order; the last one repeats.
	results []fakeResult
}

type fakeResult struct {
	text string
	err  error
}

func (f *fakeClient) Transcribe(ctx context.Context, a Audio) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, a)
	if len(f.results) == 0 {
		return "", nil
	}
	i := len(f.calls) - 1
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i].text, f.results[i].err
}

func sine(seconds float64, amp float64) []float32 {
	n := int(seconds * audio.SampleRate)
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amp * math.Sin(2*math.Pi*220*float64(i)/audio.SampleRate))
	}
	return out
}

func pcmPayload(samples []float32) string {
	return base64.StdEncoding.EncodeToString(audio.EncodePCM16(samples))
}

func newTranscriber(client Client, gate *vad.Gate) (*Transcriber, *[]string) {
	var stages []string
	tr := NewTranscriber(DefaultTranscriberConfig(), client, gate, nil, log.New(io.Discard, "", 0), func(s string) {
		stages = append(stages, s)
	})
	return tr, &stages
}

func TestTranscribeRejectsShortPayload(t *testing.T) {
	client := &fakeClient{results: []fakeResult{{text: "hi"}}}
	tr, stages := newTranscriber(client, nil)

	if got := tr.Transcribe(context.Background(), strings.Repeat("A", 99), "s"); got != "" {
		t.Errorf("got %q, want empty", got)
	}
	if len(client.calls) != 0 {
		t.Errorf("backend called %d times for a short payload", len(client.calls))
	}
	if len(*stages) != 1 || (*stages)[0] != "size" {
		t.Errorf("stages = %v", *stages)
	}
}

func TestTranscribeRejectsOversizedPayload(t *testing.T) {
	client := &fakeClient{}
	cfg := DefaultTranscriberConfig()
	cfg.MaxAudioBytes = 100
	tr := NewTranscriber(cfg, client, nil, nil, log.New(io.Discard, "", 0), nil)

	if got := tr.Transcribe(context.Background(), strings.Repeat("A", 134), "s"); got != "" {
		t.Errorf("got %q", got)
	}
	if len(client.calls) != 0 {
		t.Error("backend called for an oversized payload")
	}
}

func TestTranscribeRejectsInvalidBase64(t *testing.T) {
	client := &fakeClient{}
	tr, _ := newTranscriber(client, nil)
	if got := tr.Transcribe(context.Background(), strings.Repeat("!", 200), "s"); got != "" {
		t.Errorf("got %q", got)
	}
	if len(client.calls) != 0 {
		t.Error("backend called for undecodable payload")
	}
}

func TestTranscribeSendsWAV(t *testing.T) {
	client := &fakeClient{results: []fakeResult{{text: "  I finished the report.  "}}}
	tr, _ := newTranscriber(client, nil)

	got := tr.Transcribe(context.Background(), pcmPayload(sine(0.5, 0.5)), "s")
	if got != "I finished the report." {
		t.Errorf("got %q", got)
	}
	if len(client.calls) != 1 {
		t.Fatalf("calls = %d", len(client.calls))
	}
	a := client.calls[0]
	if a.Filename != "audio.wav" || a.ContentType != "audio/wav" || a.Language != "en" {
		t.Errorf("audio = %+v", a)
	}
	if !bytes.HasPrefix(a.Data, []byte("RIFF")) {
		t.Error("payload is not a WAV file")
	}
}

func TestTranscribeFallsBackToRawPayload(t *testing.T) {
	raw := bytes.Repeat([]byte{1, 2, 3}, 101) // odd length, not PCM16
	payload := base64.StdEncoding.EncodeToString(raw)
	client := &fakeClient{results: []fakeResult{{text: "from webm"}}}
	tr, _ := newTranscriber(client, nil)

	if got := tr.Transcribe(context.Background(), payload, "s"); got != "from webm" {
		t.Errorf("got %q", got)
	}
	if len(client.calls) != 1 {
		t.Fatalf("calls = %d, want only the fallback", len(client.calls))
	}
	a := client.calls[0]
	if a.Filename != "audio.webm" || !bytes.Equal(a.Data, raw) {
		t.Errorf("fallback audio = %s (%d bytes)", a.Filename, len(a.Data))
	}
}

func TestTranscribeBackendErrorFallsBackOnce(t *testing.T) {
	client := &fakeClient{results: []fakeResult{{err: errors.New("boom")}}}
	tr, stages := newTranscriber(client, nil)

	if got := tr.Transcribe(context.Background(), pcmPayload(sine(0.5, 0.5)), "s"); got != "" {
		t.Errorf("got %q", got)
	}
	if len(client.calls) != 2 {
		t.Errorf("calls = %d, want primary + one fallback", len(client.calls))
	}
	if want := []string{"primary", "fallback"}; strings.Join(*stages, ",") != strings.Join(want, ",") {
		t.Errorf("stages = %v, want %v", *stages, want)
	}
}

func TestTranscribeVADSilenceSkipsBackend(t *testing.T) {
	gate, err := vad.Load(vad.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	client := &fakeClient{results: []fakeResult{{text: "ghost"}}}
	tr, stages := newTranscriber(client, gate)

	silence := make([]float32, audio.SampleRate)
	if got := tr.Transcribe(context.Background(), pcmPayload(silence), "s"); got != "" {
		t.Errorf("got %q", got)
	}
	if len(client.calls) != 0 {
		t.Error("backend called for silence")
	}
	if len(*stages) != 1 || (*stages)[0] != "no_speech" {
		t.Errorf("stages = %v", *stages)
	}
}

func TestTranscribeVADKeepsSpeech(t *testing.T) {
	gate, err := vad.Load(vad.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	client := &fakeClient{results: []fakeResult{{text: "hello"}}}
	tr, _ := newTranscriber(client, gate)

	samples := append(make([]float32, audio.SampleRate), sine(1.5, 0.5)...)
	samples = append(samples, make([]float32, audio.SampleRate*2)...)
	if got := tr.Transcribe(context.Background(), pcmPayload(samples), "s"); got != "hello" {
		t.Errorf("got %q", got)
	}
	if len(client.calls) != 1 {
		t.Fatalf("calls = %d", len(client.calls))
	}
	// 44-byte header plus trimmed PCM shorter than the full input.
	if n := len(client.calls[0].Data) - 44; n >= len(samples)*2 {
		t.Errorf("VAD did not trim: %d PCM bytes for %d samples", n, len(samples))
	}
}

func TestOpenAIClientTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse form: %v", err)
		}
		if r.FormValue("model") != "gpt-4o-transcribe" || r.FormValue("language") != "en" {
			t.Errorf("form = %v", r.MultipartForm.Value)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if hdr.Filename != "audio.wav" || string(data) != "RIFFdata" {
			t.Errorf("file %q = %q", hdr.Filename, data)
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":" Sounds good. "}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "key", BaseURL: srv.URL})
	got, err := c.Transcribe(context.Background(), Audio{Data: []byte("RIFFdata"), Filename: "audio.wav", ContentType: "audio/wav", Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "Sounds good." {
		t.Errorf("got %q", got)
	}
}

func TestOpenAIClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad audio", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewOpenAIClient(OpenAIConfig{APIKey: "key", BaseURL: srv.URL})
	_, err := c.Transcribe(context.Background(), Audio{Data: []byte("x")})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest || apiErr.Provider != "openai" {
		t.Fatalf("err = %v", err)
	}
}

func TestDeepgramClientTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/listen" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("model") != "nova-3" || q.Get("language") != "en" {
			t.Errorf("query = %v", q)
		}
		if got := r.Header.Get("Authorization"); got != "Token dg" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "audio/wav" {
			t.Errorf("content type = %q", got)
		}
		io.WriteString(w, `{"results":{"channels":[{"alternatives":[{"transcript":"Can we talk?","confidence":0.98}]}]}}`)
	}))
	defer srv.Close()

	c := NewDeepgramClient(DeepgramConfig{APIKey: "dg", BaseURL: srv.URL, Punctuate: true})
	got, err := c.Transcribe(context.Background(), Audio{Data: []byte("RIFF"), ContentType: "audio/wav", Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "Can we talk?" {
		t.Errorf("got %q", got)
	}
}

func TestDeepgramClientEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"results":{"channels":[]}}`)
	}))
	defer srv.Close()

	c := NewDeepgramClient(DeepgramConfig{APIKey: "dg", BaseURL: srv.URL})
	got, err := c.Transcribe(context.Background(), Audio{Data: []byte("x")})
	if err != nil || got != "" {
		t.Errorf("got %q, %v", got, err)
	}
}
