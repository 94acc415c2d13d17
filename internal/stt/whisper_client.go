package stt

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/talkcoach/coach-gateway/internal/audio"
	"github.com/talkcoach/coach-gateway/internal/config"
	"github.com/talkcoach/coach-gateway/internal/observability"
	"github.com/talkcoach/coach-gateway/internal/resilience"
)

// WhisperClient transcribes whole utterances through the OpenAI-compatible
// transcription endpoint. Unlike the streaming provider it runs in batch
// mode: the transport buffers one VAD-segmented utterance and hands it over
// in a single call. Results carry ProviderWhisper plus per-segment decoder
// metadata, which enables the filter's metadata gate.
type WhisperClient struct {
	client         *openai.Client
	model          string
	language       string
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// NewWhisperClient creates a batch Whisper transcription client
func NewWhisperClient(cfg *config.Config, logger zerolog.Logger) *WhisperClient {
	clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientConfig.BaseURL = cfg.OpenAIBaseURL
	}

	return &WhisperClient{
		client:   openai.NewClientWithConfig(clientConfig),
		model:    cfg.WhisperModel,
		language: cfg.DeepgramLanguage, // shared language hint
		circuitBreaker: resilience.NewCircuitBreaker(
			"whisper",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		logger: logger.With().Str("component", "whisper").Logger(),
	}
}

// Transcribe converts one utterance of linear PCM16 audio to a Result.
func (w *WhisperClient) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (*Result, error) {
	if len(pcm) == 0 {
		return &Result{Text: "", Provider: ProviderWhisper}, nil
	}

	wavData := audio.WrapWAV(pcm, sampleRate)

	req := openai.AudioRequest{
		Model:    w.model,
		Language: w.language,
		Format:   openai.AudioResponseFormatVerboseJSON,
		Reader:   bytes.NewReader(wavData),
		FilePath: "utterance.wav", // required by the API even for readers
	}

	var response openai.AudioResponse
	err := w.circuitBreaker.Call(func() error {
		var callErr error
		response, callErr = w.client.CreateTranscription(ctx, req)
		return callErr
	})

	observability.UpdateCircuitBreakerState("whisper", int(w.circuitBreaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("whisper")
		return nil, fmt.Errorf("whisper transcription failed: %w", err)
	}

	segments := make([]Segment, 0, len(response.Segments))
	for _, seg := range response.Segments {
		segments = append(segments, Segment{
			NoSpeechProb:     seg.NoSpeechProb,
			AvgLogProb:       seg.AvgLogprob,
			CompressionRatio: seg.CompressionRatio,
		})
	}

	w.logger.Debug().
		Str("text", response.Text).
		Int("segments", len(segments)).
		Float64("duration", response.Duration).
		Msg("Whisper transcription")

	return &Result{
		Text:     response.Text,
		Provider: ProviderWhisper,
		Segments: segments,
	}, nil
}
