// Package augment perturbs user audio before transcription: colored noise,
// a small pitch transposition and a gain change, each applied with its own
// probability.
package augment

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
)

// Config controls which effects run and their parameter ranges.
type Config struct {
	Enabled    bool
	SampleRate int

	NoiseP   float64
	MinSNRdB float64
	MaxSNRdB float64
	MinDecay float64
	MaxDecay float64

	PitchP       float64
	MaxSemitones float64

	GainP     float64
	MaxGainDB float64
}

// DefaultConfig returns the production augmentation settings.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		SampleRate:   16000,
		NoiseP:       0.3,
		MinSNRdB:     10,
		MaxSNRdB:     30,
		MinDecay:     -2,
		MaxDecay:     2,
		PitchP:       0.2,
		MaxSemitones: 1,
		GainP:        0.3,
		MaxGainDB:    6,
	}
}

func (c Config) validate() error {
	for name, p := range map[string]float64{"noise": c.NoiseP, "pitch": c.PitchP, "gain": c.GainP} {
		if p < 0 || p > 1 {
			return fmt.Errorf("augment: %s probability %.2f out of range", name, p)
		}
	}
	if c.MinSNRdB > c.MaxSNRdB {
		return fmt.Errorf("augment: snr range %.1f..%.1f is inverted", c.MinSNRdB, c.MaxSNRdB)
	}
	if c.MinDecay > c.MaxDecay {
		return fmt.Errorf("augment: decay range %.1f..%.1f is inverted", c.MinDecay, c.MaxDecay)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("augment: sample rate must be positive")
	}
	return nil
}

// Augmentor applies the configured effects. A nil *Augmentor is a no-op.
type Augmentor struct {
	cfg Config

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds an augmentor. It returns nil, nil when augmentation is
// disabled. rng may be nil, in which case a randomly seeded source is used.
func New(cfg Config, rng *rand.Rand) (*Augmentor, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Augmentor{cfg: cfg, rng: rng}, nil
}

// Augment returns a perturbed copy of samples. The input is never modified.
func (a *Augmentor) Augment(samples []float32) (out []float32) {
	if a == nil || len(samples) == 0 {
		return samples
	}
	defer func() {
		if r := recover(); r != nil {
			out = samples
		}
	}()

	a.mu.Lock()
	defer a.mu.Unlock()

	out = make([]float32, len(samples))
	copy(out, samples)

	if a.roll(a.cfg.NoiseP) {
		snr := a.uniform(a.cfg.MinSNRdB, a.cfg.MaxSNRdB)
		decay := a.uniform(a.cfg.MinDecay, a.cfg.MaxDecay)
		addColoredNoise(out, snr, decay, a.cfg.SampleRate, a.rng)
	}
	if a.roll(a.cfg.PitchP) {
		out = pitchShift(out, a.uniform(-a.cfg.MaxSemitones, a.cfg.MaxSemitones))
	}
	if a.roll(a.cfg.GainP) {
		applyGain(out, a.uniform(-a.cfg.MaxGainDB, a.cfg.MaxGainDB))
	}
	return out
}

// AugmentBatch accepts channel-major or batched input, downmixes it to a
// single mono row and augments that.
func (a *Augmentor) AugmentBatch(rows [][]float32) []float32 {
	return a.Augment(Downmix(rows))
}

// Downmix averages rows into one mono signal, padding short rows with zeros.
func Downmix(rows [][]float32) []float32 {
	switch len(rows) {
	case 0:
		return nil
	case 1:
		return rows[0]
	}
	n := 0
	for _, r := range rows {
		n = max(n, len(r))
	}
	out := make([]float32, n)
	for _, r := range rows {
		for i, s := range r {
			out[i] += s
		}
	}
	scale := 1 / float32(len(rows))
	for i := range out {
		out[i] *= scale
	}
	return out
}

func (a *Augmentor) roll(p float64) bool {
	return p > 0 && a.rng.Float64() < p
}

func (a *Augmentor) uniform(lo, hi float64) float64 {
	return lo + a.rng.Float64()*(hi-lo)
}

func applyGain(samples []float32, db float64) {
	g := float32(math.Pow(10, db/20))
	for i := range samples {
		samples[i] *= g
	}
}

func rms(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
