package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the coach gateway service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Public base URL for this service (e.g. https://xxx.ngrok-free.dev when behind ngrok).
	// Used for logging the WebSocket endpoint; clients connect to wss://<this-host>/ws.
	// Optional; if unset, logs ws://localhost:PORT/ws.
	GatewayURL string `envconfig:"GATEWAY_URL" default:""`

	// STT provider selection: "deepgram" (streaming) or "whisper" (batch on
	// VAD-segmented utterances). When deepgram fails to start and an OpenAI
	// key is configured, sessions fall back to whisper automatically.
	STTProvider string `envconfig:"STT_PROVIDER" default:"deepgram"`

	// Deepgram streaming STT configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"` // nova-2, enhanced, base
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`  // Language code (en, es, fr, etc.)

	// OpenAI-compatible API configuration. Serves both the Whisper batch STT
	// adapter and the reasoning (chat completion) client. BaseURL may point at
	// a self-hosted coach orchestrator that speaks the same protocol.
	OpenAIAPIKey     string `envconfig:"OPENAI_API_KEY" required:"true"`
	OpenAIBaseURL    string `envconfig:"OPENAI_BASE_URL" default:""`
	WhisperModel     string `envconfig:"WHISPER_MODEL" default:"whisper-1"`
	ReasoningModel   string `envconfig:"REASONING_MODEL" default:"gpt-4o-mini"`
	ReasoningTimeout int    `envconfig:"REASONING_TIMEOUT" default:"30"` // seconds
	ReasoningPrompt  string `envconfig:"REASONING_PROMPT" default:"You are a patient speaking coach. Keep replies short and conversational."`
	HistoryMaxTurns  int    `envconfig:"HISTORY_MAX_TURNS" default:"12"` // rolling chat history per session

	// Cartesia TTS API configuration
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY" required:"true"`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"sonic-english"` // Voice ID for Cartesia
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`         // Model ID (sonic, etc.)

	// Transcription filter thresholds. Empirically tuned defaults; exposed as
	// knobs so deployments can tighten or relax them without a rebuild.
	FilterMaxNoSpeechProb     float64 `envconfig:"FILTER_MAX_NO_SPEECH_PROB" default:"0.6"`
	FilterMinAvgLogProb       float64 `envconfig:"FILTER_MIN_AVG_LOG_PROB" default:"-1.0"`
	FilterMaxCompressionRatio float64 `envconfig:"FILTER_MAX_COMPRESSION_RATIO" default:"2.4"`
	FilterMaxAckTokens        int     `envconfig:"FILTER_MAX_ACK_TOKENS" default:"3"`

	// Turn gate configuration
	GateCooldownMs      int  `envconfig:"GATE_COOLDOWN_MS" default:"400"`     // echo-tail absorption after playback
	GateRejectionLimit  int  `envconfig:"GATE_REJECTION_LIMIT" default:"3"`   // consecutive rejections before a repeat notice
	GatePlaybackTimeout int  `envconfig:"GATE_PLAYBACK_TIMEOUT" default:"60"` // seconds before forced playback completion
	BargeInEnabled      bool `envconfig:"BARGE_IN_ENABLED" default:"false"`   // allow interrupting playback

	// Session lifecycle
	SessionIdleTimeout   int `envconfig:"SESSION_IDLE_TIMEOUT" default:"300"`  // seconds without events before reaping
	SessionSweepInterval int `envconfig:"SESSION_SWEEP_INTERVAL" default:"30"` // seconds between reaper sweeps

	// Audio processing configuration
	UtteranceMaxBytes  int     `envconfig:"UTTERANCE_MAX_BYTES" default:"480000"` // cap on buffered utterance audio
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for VAD
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"10"`      // Frames of silence to mark speech end
	BargeInThreshold   float64 `envconfig:"BARGE_IN_THRESHOLD" default:"1500.0"`  // higher bar while TTS plays, reduces echo triggers
	BargeInOnsetFrames int     `envconfig:"BARGE_IN_ONSET_FRAMES" default:"8"`    // sustained speech frames before an interrupt fires

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if c.CartesiaAPIKey == "" {
		return fmt.Errorf("CARTESIA_API_KEY is required")
	}

	switch c.STTProvider {
	case "deepgram":
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when STT_PROVIDER=deepgram")
		}
	case "whisper":
		// Whisper rides on the OpenAI key validated above.
	default:
		return fmt.Errorf("unknown STT_PROVIDER %q (want deepgram or whisper)", c.STTProvider)
	}

	return nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
