package tts

import "context"

// AudioChunk is one frame of synthesized audio ready for the client.
type AudioChunk struct {
	Data       []byte // G.711 mu-law payload
	SampleRate int    // Hz, 8000 on the wire
	Channels   int    // 1 for mono
}

// Client converts assistant replies to streamable audio.
type Client interface {
	// Synthesize converts text to audio frames. The channel closes when
	// synthesis finishes or the context is cancelled.
	Synthesize(ctx context.Context, text string) (<-chan *AudioChunk, error)

	// Stop aborts any in-flight synthesis.
	Stop() error

	// Close releases the client.
	Close() error

	// IsActive reports whether a synthesis is in flight.
	IsActive() bool
}
