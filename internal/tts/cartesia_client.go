// Package tts streams synthesized speech for assistant replies.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/talkcoach/coach-gateway/internal/audio"
	"github.com/talkcoach/coach-gateway/internal/config"
	"github.com/talkcoach/coach-gateway/internal/resilience"
)

// frameBytes is 20ms of G.711 mu-law at 8kHz, the frame size the client
// protocol expects.
const frameBytes = 160

// CartesiaClient implements Client against Cartesia's TTS API.
type CartesiaClient struct {
	apiKey     string
	apiURL     string
	voiceID    string
	modelID    string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	logger     zerolog.Logger

	mu       sync.RWMutex
	isActive bool
	cancel   context.CancelFunc
}

// cartesiaRequest is the TTS request payload.
type cartesiaRequest struct {
	Text         string  `json:"text"`
	VoiceID      string  `json:"voice_id"`
	ModelID      string  `json:"model_id,omitempty"`
	OutputFormat string  `json:"output_format,omitempty"`
	SampleRate   int     `json:"sample_rate,omitempty"`
	Speed        float64 `json:"speed,omitempty"`
}

// NewCartesiaClient creates a Cartesia TTS client from configuration.
func NewCartesiaClient(cfg *config.Config, logger zerolog.Logger) *CartesiaClient {
	return &CartesiaClient{
		apiKey:     cfg.CartesiaAPIKey,
		apiURL:     "https://api.cartesia.ai/v1/tts",
		voiceID:    cfg.CartesiaVoiceID,
		modelID:    cfg.CartesiaModelID,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		breaker: resilience.NewCircuitBreaker(
			"cartesia",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		logger: logger.With().Str("component", "tts").Logger(),
	}
}

// Synthesize converts text to 20ms mu-law frames at 8kHz. Cartesia
// returns PCM at 24kHz; the response is downsampled and transcoded
// before framing. Cancel the context (or call Stop) to abort mid-stream.
func (c *CartesiaClient) Synthesize(ctx context.Context, text string) (<-chan *AudioChunk, error) {
	c.mu.Lock()
	if c.isActive {
		c.mu.Unlock()
		return nil, fmt.Errorf("synthesis already in flight")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.isActive = true
	c.cancel = cancel
	c.mu.Unlock()

	resp, err := c.request(ctx, text)
	if err != nil {
		c.finish()
		return nil, err
	}

	audioChan := make(chan *AudioChunk, 32)

	go func() {
		defer func() {
			resp.Body.Close()
			close(audioChan)
			c.finish()
		}()

		pcm, err := io.ReadAll(resp.Body)
		if err != nil {
			c.logger.Error().Err(err).Msg("Failed to read synthesis response")
			return
		}
		if len(pcm) == 0 {
			c.logger.Warn().Msg("Synthesis returned no audio")
			return
		}

		pcmu, err := audio.ConvertPCMToPCMU(pcm, 24000, 8000)
		if err != nil {
			c.logger.Error().Err(err).Msg("Failed to transcode synthesis audio")
			return
		}

		for off := 0; off < len(pcmu); off += frameBytes {
			end := off + frameBytes
			if end > len(pcmu) {
				end = len(pcmu)
			}
			select {
			case audioChan <- &AudioChunk{Data: pcmu[off:end], SampleRate: 8000, Channels: 1}:
			case <-ctx.Done():
				c.logger.Debug().Int("remaining_bytes", len(pcmu)-off).Msg("Synthesis cancelled mid-stream")
				return
			}
		}

		c.logger.Debug().
			Int("pcm_bytes", len(pcm)).
			Int("pcmu_bytes", len(pcmu)).
			Msg("Synthesis complete")
	}()

	return audioChan, nil
}

func (c *CartesiaClient) request(ctx context.Context, text string) (*http.Response, error) {
	payload, err := json.Marshal(cartesiaRequest{
		Text:         text,
		VoiceID:      c.voiceID,
		ModelID:      c.modelID,
		OutputFormat: "pcm",
		SampleRate:   24000,
		Speed:        1.0,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling synthesis request: %w", err)
	}

	var resp *http.Response
	err = c.breaker.Call(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("creating synthesis request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", c.apiKey)

		resp, err = c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("synthesis request: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("synthesis API returned status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *CartesiaClient) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isActive = false
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Stop aborts any in-flight synthesis. Used on barge-in.
func (c *CartesiaClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isActive {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Close releases the client.
func (c *CartesiaClient) Close() error {
	return c.Stop()
}

// IsActive reports whether a synthesis is in flight.
func (c *CartesiaClient) IsActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isActive
}
