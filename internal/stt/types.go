package stt

// Provider identifies which speech-to-text engine produced a result.
// Only whisper-flavored engines attach per-segment decoder metadata.
type Provider string

const (
	ProviderGoogle  Provider = "google"
	ProviderWhisper Provider = "whisper"
	ProviderOther   Provider = "other"
)

// Segment carries whisper decoder metadata for one decoded span. These are
// proxies for decoder uncertainty and repetition collapse; providers without
// this capability simply produce results with no segments.
type Segment struct {
	// NoSpeechProb is the decoder's probability that the span contains no
	// speech at all (0..1).
	NoSpeechProb float64

	// AvgLogProb is the mean token log-probability for the span (<= 0).
	AvgLogProb float64

	// CompressionRatio is text length over gzip length; runaway repetition
	// loops compress extremely well and push this ratio up.
	CompressionRatio float64
}

// Result is one transcription produced by an STT provider. Immutable once
// produced.
type Result struct {
	Text     string
	Provider Provider
	Segments []Segment
}

// StreamClient is the interface for streaming speech-to-text clients.
type StreamClient interface {
	// Start begins a new transcription session
	Start() error

	// SendAudio sends an audio chunk to the STT service
	SendAudio(audioData []byte) error

	// Results returns the channel of final transcription results
	Results() <-chan *Result

	// Stop stops the transcription session
	Stop() error

	// Close closes the client and cleans up resources
	Close() error
}
