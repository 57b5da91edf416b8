package stt

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/lukasbauer/coach/internal/audio"
	"github.com/lukasbauer/coach/internal/augment"
	"github.com/lukasbauer/coach/internal/vad"
)

// TranscriberConfig controls payload limits and the backend call.
type TranscriberConfig struct {
	// MinEncodedChars rejects payloads shorter than this many base64 chars.
	MinEncodedChars int
	// MaxAudioBytes is the raw size cap; the encoded form may be 1.33x.
	MaxAudioBytes int
	SampleRate    int
	Language      string
	Timeout       time.Duration
}

// DefaultTranscriberConfig returns 100 chars / 5 MB / 16 kHz / en / 30s.
func DefaultTranscriberConfig() TranscriberConfig {
	return TranscriberConfig{
		MinEncodedChars: 100,
		MaxAudioBytes:   5 * 1024 * 1024,
		SampleRate:      audio.SampleRate,
		Language:        "en",
		Timeout:         30 * time.Second,
	}
}

// Transcriber turns one base64 audio payload into text. VAD and
// augmentation are optional; a nil Gate or Augmentor skips that stage.
type Transcriber struct {
	cfg    TranscriberConfig
	client Client
	gate   *vad.Gate
	aug    *augment.Augmentor
	logger *log.Logger
	onFail func(stage string)
}

// NewTranscriber wires the pipeline. onFail, when set, is told which stage
// gave up: "size", "decode", "no_speech", "primary" or "fallback".
func NewTranscriber(cfg TranscriberConfig, client Client, gate *vad.Gate, aug *augment.Augmentor, logger *log.Logger, onFail func(stage string)) *Transcriber {
	def := DefaultTranscriberConfig()
	if cfg.MinEncodedChars <= 0 {
		cfg.MinEncodedChars = def.MinEncodedChars
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = def.MaxAudioBytes
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Transcriber{cfg: cfg, client: client, gate: gate, aug: aug, logger: logger, onFail: onFail}
}

func (t *Transcriber) failed(stage string) {
	if t.onFail != nil {
		t.onFail(stage)
	}
}

// Transcribe returns the trimmed transcript of payload, or "" when the
// payload is rejected, contains no speech, or both backend attempts fail.
// It never returns an error; every failure is logged.
func (t *Transcriber) Transcribe(ctx context.Context, payload, sessionID string) string {
	if len(payload) < t.cfg.MinEncodedChars {
		t.logger.Printf("stt: [%s] audio too short (%d chars)", sessionID, len(payload))
		t.failed("size")
		return ""
	}
	if float64(len(payload)) > float64(t.cfg.MaxAudioBytes)*1.33 {
		t.logger.Printf("stt: [%s] audio exceeds max size (%d chars)", sessionID, len(payload))
		t.failed("size")
		return ""
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		t.logger.Printf("stt: [%s] invalid base64: %v", sessionID, err)
		t.failed("decode")
		return ""
	}

	wav, ok, err := t.prepare(raw, sessionID)
	if err == nil && !ok {
		t.failed("no_speech")
		return ""
	}
	if err == nil {
		text, callErr := t.call(ctx, Audio{Data: wav, Filename: "audio.wav", ContentType: "audio/wav"})
		if callErr == nil {
			if text == "" {
				t.logger.Printf("stt: [%s] transcription returned empty result", sessionID)
			} else {
				t.logger.Printf("stt: [%s] transcript: %q", sessionID, text)
			}
			return text
		}
		err = callErr
		t.failed("primary")
	}
	if ctx.Err() != nil {
		return ""
	}

	t.logger.Printf("stt: [%s] pcm path failed, retrying as webm: %v", sessionID, err)
	text, err := t.call(ctx, Audio{Data: raw, Filename: "audio.webm", ContentType: "audio/webm"})
	if err != nil {
		t.logger.Printf("stt: [%s] webm fallback failed: %v", sessionID, err)
		t.failed("fallback")
		return ""
	}
	if text != "" {
		t.logger.Printf("stt: [%s] webm transcript: %q", sessionID, text)
	}
	return text
}

// prepare decodes raw as PCM16, applies VAD and augmentation and encodes a
// WAV file. ok is false when VAD found no speech.
func (t *Transcriber) prepare(raw []byte, sessionID string) (wav []byte, ok bool, err error) {
	samples, err := audio.DecodePCM16(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode pcm: %w", err)
	}
	if t.gate != nil {
		speech := t.gate.ExtractSpeech(samples)
		if len(speech) == 0 {
			t.logger.Printf("stt: [%s] no speech detected", sessionID)
			return nil, false, nil
		}
		samples = speech
	}
	if t.aug != nil {
		samples = t.aug.Augment(samples)
	}
	wav, err = audio.EncodeWAV(samples, t.cfg.SampleRate)
	if err != nil {
		return nil, false, fmt.Errorf("encode wav: %w", err)
	}
	return wav, true, nil
}

func (t *Transcriber) call(ctx context.Context, a Audio) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()
	a.Language = t.cfg.Language
	text, err := t.client.Transcribe(ctx, a)
	return strings.TrimSpace(text), err
}
