package speech

import (
	"strings"
	"unicode/utf8"
)

// ChunkRules controls how streamed text is cut into synthesis chunks.
type ChunkRules struct {
	// MinFlushChars is the trimmed buffer length below which nothing is cut.
	MinFlushChars int
	// MaxChunkChars forces a cut when no sentence end has been seen.
	MaxChunkChars int
	// MinChunkChars is the shortest chunk worth synthesizing.
	MinChunkChars int
}

// DefaultChunkRules returns 20/300/6.
func DefaultChunkRules() ChunkRules {
	return ChunkRules{MinFlushChars: 20, MaxChunkChars: 300, MinChunkChars: 6}
}

// SplitChunk applies the flush rule once. A cut is made after the first
// '.', '?' or '!' that is followed by a space; the chunk keeps the
// terminator and the space is dropped. Without a terminator, a buffer longer
// than MaxChunkChars is cut at the last space before that limit.
func SplitChunk(buf string, r ChunkRules) (chunk, rest string, ok bool) {
	if len(strings.TrimSpace(buf)) < r.MinFlushChars {
		return "", buf, false
	}
	for i := 0; i+1 < len(buf); i++ {
		switch buf[i] {
		case '.', '?', '!':
			if buf[i+1] == ' ' {
				return strings.TrimSpace(buf[:i+1]), strings.TrimLeft(buf[i+2:], " \t\n"), true
			}
		}
	}
	if r.MaxChunkChars > 0 && len(buf) > r.MaxChunkChars {
		cut := strings.LastIndexByte(buf[:r.MaxChunkChars], ' ')
		if cut <= 0 {
			cut = r.MaxChunkChars
			for cut > 0 && !utf8.RuneStart(buf[cut]) {
				cut--
			}
		}
		return strings.TrimSpace(buf[:cut]), strings.TrimLeft(buf[cut:], " \t\n"), true
	}
	return "", buf, false
}

// Chunks runs SplitChunk to a fixed point over text and returns the chunks
// that would be queued plus the unflushed remainder.
func Chunks(text string, r ChunkRules) (chunks []string, rest string) {
	rest = text
	for {
		chunk, next, ok := SplitChunk(rest, r)
		if !ok {
			return chunks, rest
		}
		rest = next
		if len(chunk) >= r.MinChunkChars {
			chunks = append(chunks, chunk)
		}
	}
}
