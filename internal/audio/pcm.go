// Package audio converts between raw PCM16 bytes, float sample buffers and
// the WAV container sent to speech-to-text backends.
package audio

import (
	"encoding/binary"
	"errors"
	"math"
)

// SampleRate is the rate clients record at.
const SampleRate = 16000

// ErrOddLength is returned when a PCM16 payload does not hold whole samples.
var ErrOddLength = errors.New("audio: pcm16 payload has odd length")

// DecodePCM16 interprets b as little-endian signed 16-bit mono samples and
// scales them to [-1, 1).
func DecodePCM16(b []byte) ([]float32, error) {
	if len(b) == 0 {
		return nil, errors.New("audio: empty pcm16 payload")
	}
	if len(b)%2 != 0 {
		return nil, ErrOddLength
	}
	out := make([]float32, len(b)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(b[2*i:]))
		out[i] = float32(s) / 32768.0
	}
	return out, nil
}

// EncodePCM16 converts float samples back to little-endian PCM16, clipping
// anything outside [-1, 1].
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		v := math.Round(float64(s) * 32768.0)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[2*i:], uint16(int16(v)))
	}
	return out
}

// RMS returns the root mean square of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
