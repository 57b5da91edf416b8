package audio

import (
	"bytes"
	"encoding/binary"
	"io"
)

const (
	wavChannels      = 1
	wavBitsPerSample = 16
	wavFormatPCM     = 1
)

// wavHeader is the canonical 44-byte RIFF/WAVE header for PCM data.
type wavHeader struct {
	RIFF          [4]byte
	ChunkSize     uint32
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

func newWAVHeader(dataLen, sampleRate int) wavHeader {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	blockAlign := wavChannels * wavBitsPerSample / 8
	return wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataLen),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   wavFormatPCM,
		Channels:      wavChannels,
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: wavBitsPerSample,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(dataLen),
	}
}

// WriteWAV writes pcm (PCM16LE mono) to w as a WAV stream.
func WriteWAV(w io.Writer, pcm []byte, sampleRate int) error {
	if err := binary.Write(w, binary.LittleEndian, newWAVHeader(len(pcm), sampleRate)); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}

// EncodeWAV wraps float samples in a 16-bit mono WAV container.
func EncodeWAV(samples []float32, sampleRate int) ([]byte, error) {
	pcm := EncodePCM16(samples)
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	if err := WriteWAV(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
