// Package vad detects speech regions in 16 kHz mono audio so that silence
// can be trimmed before transcription.
//
// Frames of WindowSamples are scored with a speech probability, then turned
// into segments with hysteresis: speech starts at Threshold and only ends
// after MinSilenceMs below Threshold-0.15. Segments shorter than MinSpeechMs
// are dropped and the survivors are padded by SpeechPadMs on both sides.
package vad

import (
	"fmt"
	"math"
)

// Config holds the detection parameters.
type Config struct {
	SampleRate    int
	Threshold     float64
	MinSpeechMs   int
	MinSilenceMs  int
	WindowSamples int
	SpeechPadMs   int
}

// DefaultConfig returns the settings used for user utterances.
func DefaultConfig() Config {
	return Config{
		SampleRate:    16000,
		Threshold:     0.5,
		MinSpeechMs:   600,
		MinSilenceMs:  1200,
		WindowSamples: 512,
		SpeechPadMs:   150,
	}
}

// FrameModel scores one analysis window with a speech probability in [0, 1].
type FrameModel interface {
	SpeechProb(frame []float32) float64
}

// Segment is a half-open [Start, End) range of sample indices.
type Segment struct {
	Start int
	End   int
}

// Gate finds speech segments with a loaded FrameModel.
type Gate struct {
	cfg   Config
	model FrameModel
}

// Load validates cfg and prepares the default energy model. A failed load
// means the gate is unavailable and callers should skip it.
func Load(cfg Config) (*Gate, error) {
	return LoadWithModel(cfg, NewEnergyModel())
}

// LoadWithModel is Load with a caller-provided frame model.
func LoadWithModel(cfg Config, model FrameModel) (*Gate, error) {
	if model == nil {
		return nil, fmt.Errorf("vad: no frame model")
	}
	switch cfg.SampleRate {
	case 8000, 16000:
	default:
		return nil, fmt.Errorf("vad: unsupported sample rate %d", cfg.SampleRate)
	}
	if cfg.WindowSamples <= 0 {
		return nil, fmt.Errorf("vad: window must be positive, got %d", cfg.WindowSamples)
	}
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		return nil, fmt.Errorf("vad: threshold %.2f out of range", cfg.Threshold)
	}
	if cfg.MinSpeechMs < 0 || cfg.MinSilenceMs < 0 || cfg.SpeechPadMs < 0 {
		return nil, fmt.Errorf("vad: negative duration in config")
	}
	return &Gate{cfg: cfg, model: model}, nil
}

// Config returns the gate's settings.
func (g *Gate) Config() Config { return g.cfg }

func (g *Gate) samples(ms int) int {
	return g.cfg.SampleRate * ms / 1000
}

// probabilities scores every window; the trailing partial window is
// zero-padded.
func (g *Gate) probabilities(samples []float32) []float64 {
	w := g.cfg.WindowSamples
	n := (len(samples) + w - 1) / w
	probs := make([]float64, 0, n)
	frame := make([]float32, w)
	for start := 0; start < len(samples); start += w {
		end := start + w
		if end > len(samples) {
			clear(frame)
			copy(frame, samples[start:])
			probs = append(probs, g.model.SpeechProb(frame))
			continue
		}
		probs = append(probs, g.model.SpeechProb(samples[start:end]))
	}
	return probs
}

// DetectSegments returns the ordered speech ranges in samples.
func (g *Gate) DetectSegments(samples []float32) []Segment {
	if len(samples) == 0 {
		return nil
	}
	var (
		w            = g.cfg.WindowSamples
		minSpeech    = g.samples(g.cfg.MinSpeechMs)
		minSilence   = g.samples(g.cfg.MinSilenceMs)
		pad          = g.samples(g.cfg.SpeechPadMs)
		negThreshold = g.cfg.Threshold - 0.15
		total        = len(samples)

		segments  []Segment
		triggered bool
		current   Segment
		tempEnd   int
	)

	for i, p := range g.probabilities(samples) {
		pos := w * i
		if p >= g.cfg.Threshold && tempEnd != 0 {
			tempEnd = 0
		}
		if p >= g.cfg.Threshold && !triggered {
			triggered = true
			current = Segment{Start: pos}
			continue
		}
		if p < negThreshold && triggered {
			if tempEnd == 0 {
				tempEnd = pos
			}
			if pos-tempEnd < minSilence {
				continue
			}
			current.End = tempEnd
			if current.End-current.Start > minSpeech {
				segments = append(segments, current)
			}
			current = Segment{}
			tempEnd = 0
			triggered = false
		}
	}
	if triggered && total-current.Start > minSpeech {
		current.End = total
		segments = append(segments, current)
	}

	for i := range segments {
		if i == 0 {
			segments[i].Start = max(0, segments[i].Start-pad)
		}
		if i == len(segments)-1 {
			segments[i].End = min(total, segments[i].End+pad)
			continue
		}
		gap := segments[i+1].Start - segments[i].End
		if gap < 2*pad {
			segments[i].End += gap / 2
			segments[i+1].Start = max(0, segments[i+1].Start-gap/2)
		} else {
			segments[i].End = min(total, segments[i].End+pad)
			segments[i+1].Start = max(0, segments[i+1].Start-pad)
		}
	}
	return segments
}

// ExtractSpeech concatenates every detected segment in order. An empty
// result means no speech was found and must not be treated as silence.
func (g *Gate) ExtractSpeech(samples []float32) []float32 {
	segments := g.DetectSegments(samples)
	if len(segments) == 0 {
		return nil
	}
	size := 0
	for _, s := range segments {
		size += s.End - s.Start
	}
	out := make([]float32, 0, size)
	for _, s := range segments {
		out = append(out, samples[s.Start:s.End]...)
	}
	return out
}

// EnergyModel scores frames by loudness: a logistic curve over the frame's
// RMS level in dBFS, centred on MidpointDB.
type EnergyModel struct {
	MidpointDB float64
	SlopeDB    float64
}

// NewEnergyModel returns a model tuned for close-talk microphone input.
func NewEnergyModel() *EnergyModel {
	return &EnergyModel{MidpointDB: -38, SlopeDB: 3}
}

// SpeechProb implements FrameModel.
func (m *EnergyModel) SpeechProb(frame []float32) float64 {
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	if len(frame) == 0 || sum == 0 {
		return 0
	}
	db := 10 * math.Log10(sum/float64(len(frame)))
	return 1 / (1 + math.Exp(-(db-m.MidpointDB)/m.SlopeDB))
}
