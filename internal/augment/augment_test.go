package augment

import (
	"math"
	"math/cmplx"
	"math/rand/v2"
	"testing"
)

func sine(n int, freq float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(0.3 * math.Sin(2*math.Pi*freq*float64(i)/16000))
	}
	return out
}

func seeded() *rand.Rand { return rand.New(rand.NewPCG(1, 2)) }

func onlyEffect(noise, pitch, gain float64) Config {
	cfg := DefaultConfig()
	cfg.NoiseP, cfg.PitchP, cfg.GainP = noise, pitch, gain
	return cfg
}

func TestDisabledIsNoop(t *testing.T) {
	a, err := New(Config{Enabled: false}, nil)
	if err != nil || a != nil {
		t.Fatalf("New(disabled) = %v, %v", a, err)
	}
	in := sine(100, 440)
	if out := a.Augment(in); &out[0] != &in[0] {
		t.Error("nil augmentor should return its input")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"probability", func(c *Config) { c.GainP = 1.2 }},
		{"snr", func(c *Config) { c.MinSNRdB, c.MaxSNRdB = 30, 10 }},
		{"decay", func(c *Config) { c.MinDecay, c.MaxDecay = 2, -2 }},
		{"rate", func(c *Config) { c.SampleRate = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if _, err := New(cfg, nil); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestZeroProbabilitiesCopyInput(t *testing.T) {
	a, err := New(onlyEffect(0, 0, 0), seeded())
	if err != nil {
		t.Fatal(err)
	}
	in := sine(2048, 440)
	out := a.Augment(in)
	if &out[0] == &in[0] {
		t.Fatal("expected a copy")
	}
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("sample %d changed", i)
		}
	}
}

func TestGainWithinRange(t *testing.T) {
	a, _ := New(onlyEffect(0, 0, 1), seeded())
	in := sine(512, 440)
	for range 20 {
		out := a.Augment(in)
		ratio := float64(out[10] / in[10])
		if ratio < math.Pow(10, -6.0/20)-1e-6 || ratio > math.Pow(10, 6.0/20)+1e-6 {
			t.Fatalf("gain ratio %v outside ±6 dB", ratio)
		}
		if r2 := float64(out[200] / in[200]); math.Abs(r2-ratio) > 1e-5 {
			t.Fatalf("gain not uniform: %v vs %v", ratio, r2)
		}
	}
}

func TestNoiseHitsRequestedSNR(t *testing.T) {
	cfg := onlyEffect(1, 0, 0)
	cfg.MinSNRdB, cfg.MaxSNRdB = 20, 20
	a, _ := New(cfg, seeded())
	in := sine(4000, 300)
	out := a.Augment(in)

	diff := make([]float32, len(in))
	for i := range in {
		diff[i] = out[i] - in[i]
	}
	want := rms(in) / 10
	if got := rms(diff); math.Abs(got-want)/want > 0.01 {
		t.Errorf("noise rms = %v, want %v", got, want)
	}
}

func TestNoiseSkipsSilence(t *testing.T) {
	a, _ := New(onlyEffect(1, 0, 0), seeded())
	out := a.Augment(make([]float32, 300))
	for _, s := range out {
		if s != 0 {
			t.Fatal("noise added to silent input")
		}
	}
}

func TestPitchShiftKeepsLength(t *testing.T) {
	in := sine(8000, 440)
	out := pitchShift(in, 1)
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	if got := pitchShift(in, 0); &got[0] != &in[0] {
		t.Error("zero shift should return input")
	}
	short := sine(100, 440)
	if got := pitchShift(short, 1); len(got) != 100 {
		t.Error("short input should pass through")
	}
}

func TestPitchShiftCoversEdges(t *testing.T) {
	in := make([]float32, 4000)
	for i := range in {
		in[i] = 0.5
	}
	for _, semitones := range []float64{-3, 3} {
		out := pitchShift(in, semitones)
		for _, i := range []int{0, 1, len(out) / 2, len(out) - 2, len(out) - 1} {
			if math.Abs(float64(out[i])-0.5) > 1e-4 {
				t.Errorf("semitones %v: out[%d] = %v, want 0.5", semitones, i, out[i])
			}
		}
	}
}

func TestSeededRunsAreDeterministic(t *testing.T) {
	cfg := onlyEffect(1, 1, 1)
	a1, _ := New(cfg, seeded())
	a2, _ := New(cfg, seeded())
	in := sine(4096, 220)
	o1, o2 := a1.Augment(in), a2.Augment(in)
	for i := range o1 {
		if o1[i] != o2[i] {
			t.Fatalf("sample %d differs", i)
		}
	}
}

func TestAugmentBatchDownmixes(t *testing.T) {
	got := Downmix([][]float32{{1, 1, 1}, {0, 1}})
	want := []float32{0.5, 1, 0.5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Downmix = %v, want %v", got, want)
		}
	}
	a, _ := New(onlyEffect(0, 0, 0), seeded())
	if out := a.AugmentBatch([][]float32{{0.2, 0.4}, {0.2, 0.4}}); len(out) != 2 {
		t.Errorf("AugmentBatch len = %d", len(out))
	}
	if out := a.AugmentBatch(nil); len(out) != 0 {
		t.Errorf("AugmentBatch(nil) len = %d", len(out))
	}
}

func TestFFTRoundTrip(t *testing.T) {
	in := []complex128{1, 2, 3, 4, 0, -1, 2, 5}
	buf := append([]complex128(nil), in...)
	fft(buf, false)
	if cmplx.Abs(buf[0]-16) > 1e-9 {
		t.Errorf("DC bin = %v, want 16", buf[0])
	}
	fft(buf, true)
	for i := range in {
		if cmplx.Abs(buf[i]-in[i]) > 1e-9 {
			t.Fatalf("sample %d = %v, want %v", i, buf[i], in[i])
		}
	}
}
