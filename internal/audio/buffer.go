package audio

import (
	"sync"
	"time"
)

// UtteranceBuffer accumulates linear PCM for one spoken utterance. It feeds
// the batch Whisper adapter: frames are appended while the user speaks and
// the whole utterance is taken at once when the VAD reports end of speech.
type UtteranceBuffer struct {
	mu         sync.Mutex
	data       []byte
	maxBytes   int
	sampleRate int
	dropped    int
}

// NewUtteranceBuffer creates a buffer capped at maxBytes of PCM16 audio.
func NewUtteranceBuffer(maxBytes, sampleRate int) *UtteranceBuffer {
	return &UtteranceBuffer{
		data:       make([]byte, 0, 8192),
		maxBytes:   maxBytes,
		sampleRate: sampleRate,
	}
}

// Write appends PCM data, returning the number of bytes kept. Data beyond
// the cap is dropped so a stuck VAD cannot grow the buffer without bound.
func (b *UtteranceBuffer) Write(pcm []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	space := b.maxBytes - len(b.data)
	if space <= 0 {
		b.dropped += len(pcm)
		return 0
	}
	if len(pcm) > space {
		b.dropped += len(pcm) - space
		pcm = pcm[:space]
	}
	b.data = append(b.data, pcm...)
	return len(pcm)
}

// Take returns the buffered utterance and resets the buffer.
func (b *UtteranceBuffer) Take() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := b.data
	b.data = make([]byte, 0, 8192)
	b.dropped = 0
	return out
}

// Len returns the number of buffered bytes.
func (b *UtteranceBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Dropped returns how many bytes were discarded since the last Take.
func (b *UtteranceBuffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Duration reports the buffered audio length at the configured sample rate.
func (b *UtteranceBuffer) Duration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sampleRate <= 0 {
		return 0
	}
	samples := len(b.data) / 2
	return time.Duration(samples) * time.Second / time.Duration(b.sampleRate)
}

// Reset discards buffered audio without returning it.
func (b *UtteranceBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
	b.dropped = 0
}
