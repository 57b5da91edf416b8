package augment

import (
	"math"
	"math/bits"
	"math/cmplx"
	"math/rand/v2"
)

// addColoredNoise mixes noise with a 1/f^decay spectrum into samples at the
// given signal-to-noise ratio. Silent input is left untouched.
func addColoredNoise(samples []float32, snrDB, decay float64, sampleRate int, rng *rand.Rand) {
	signal := rms(samples)
	if signal == 0 {
		return
	}
	noise := coloredNoise(len(samples), decay, sampleRate, rng)
	noiseRMS := rms(noise)
	if noiseRMS == 0 {
		return
	}
	target := signal / math.Pow(10, snrDB/20)
	scale := float32(target / noiseRMS)
	for i := range samples {
		samples[i] += noise[i] * scale
	}
}

// coloredNoise shapes white gaussian noise in the frequency domain. Bin k is
// scaled by 1/m^decay where m runs linearly from 1 to sqrt(sampleRate/2).
func coloredNoise(n int, decay float64, sampleRate int, rng *rand.Rand) []float32 {
	size := 1 << bits.Len(uint(n-1))
	buf := make([]complex128, size)
	for i := range buf {
		buf[i] = complex(rng.NormFloat64(), 0)
	}
	fft(buf, false)

	half := size / 2
	top := math.Sqrt(float64(sampleRate) / 2)
	for k := 0; k <= half; k++ {
		m := 1.0
		if half > 0 {
			m = 1 + (top-1)*float64(k)/float64(half)
		}
		w := complex(1/math.Pow(m, decay), 0)
		buf[k] *= w
		if k != 0 && k != half {
			buf[size-k] *= w
		}
	}
	fft(buf, true)

	out := make([]float32, n)
	for i := range out {
		out[i] = float32(real(buf[i]))
	}
	return out
}

// fft is an in-place iterative radix-2 transform; len(a) must be a power of
// two. The inverse is scaled by 1/n.
func fft(a []complex128, inverse bool) {
	n := len(a)
	if n < 2 {
		return
	}
	shift := 64 - bits.Len(uint(n-1))
	for i := range a {
		j := int(bits.Reverse64(uint64(i)) >> shift)
		if i < j {
			a[i], a[j] = a[j], a[i]
		}
	}
	sign := -1.0
	if inverse {
		sign = 1.0
	}
	for size := 2; size <= n; size <<= 1 {
		step := cmplx.Rect(1, sign*2*math.Pi/float64(size))
		for start := 0; start < n; start += size {
			w := complex(1, 0)
			for k := 0; k < size/2; k++ {
				u := a[start+k]
				v := a[start+k+size/2] * w
				a[start+k] = u + v
				a[start+k+size/2] = u - v
				w *= step
			}
		}
	}
	if inverse {
		inv := complex(1/float64(n), 0)
		for i := range a {
			a[i] *= inv
		}
	}
}

const (
	grainSize = 1024
	grainHop  = grainSize / 2
)

// pitchShift transposes by semitones while keeping the duration, using
// Hann-windowed grains that are each resampled in place and overlap-added.
func pitchShift(samples []float32, semitones float64) []float32 {
	if semitones == 0 || len(samples) < grainSize {
		return samples
	}
	ratio := math.Pow(2, semitones/12)
	n := len(samples)
	out := make([]float64, n)
	norm := make([]float64, n)
	window := hann(grainSize)

	// Grains start half a hop early so the first sample is covered by a
	// window peak, and the read origin is pulled back near the end so a
	// faster read never runs off the input.
	last := math.Max(float64(n-1)-float64(grainSize-1)*ratio, 0)
	for start := -grainHop; start < n; start += grainHop {
		origin := math.Min(math.Max(float64(start), 0), last)
		for j := 0; j < grainSize && start+j < n; j++ {
			if start+j < 0 {
				continue
			}
			src := origin + float64(j)*ratio
			out[start+j] += interpolate(samples, src) * window[j]
			norm[start+j] += window[j]
		}
	}

	res := make([]float32, n)
	for i := range res {
		if norm[i] > 1e-6 {
			res[i] = float32(out[i] / norm[i])
		}
	}
	return res
}

// interpolate reads samples at a fractional position, clamped to the ends.
func interpolate(samples []float32, pos float64) float64 {
	if pos <= 0 {
		return float64(samples[0])
	}
	i := int(pos)
	if i+1 >= len(samples) {
		return float64(samples[len(samples)-1])
	}
	frac := pos - float64(i)
	return float64(samples[i])*(1-frac) + float64(samples[i+1])*frac
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}
