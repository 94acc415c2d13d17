// Package reasoning calls the coaching model with the user's transcript
// and a rolling per-session conversation history.
package reasoning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/talkcoach/coach-gateway/internal/config"
	"github.com/talkcoach/coach-gateway/internal/resilience"
)

// Client produces assistant replies via an OpenAI-compatible chat
// completion API. Safe for concurrent use across sessions; history is
// tracked per session ID.
type Client struct {
	client       *openai.Client
	model        string
	systemPrompt string
	maxTurns     int
	timeout      time.Duration

	breaker     *resilience.CircuitBreaker
	retryConfig *resilience.RetryConfig
	logger      zerolog.Logger

	mu        sync.Mutex
	histories map[string][]openai.ChatCompletionMessage
}

// NewClient creates a reasoning client from configuration.
func NewClient(cfg *config.Config, logger zerolog.Logger) *Client {
	clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientConfig.BaseURL = cfg.OpenAIBaseURL
	}

	return &Client{
		client:       openai.NewClientWithConfig(clientConfig),
		model:        cfg.ReasoningModel,
		systemPrompt: cfg.ReasoningPrompt,
		maxTurns:     cfg.HistoryMaxTurns,
		timeout:      time.Duration(cfg.ReasoningTimeout) * time.Second,
		breaker: resilience.NewCircuitBreaker(
			"reasoning",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		logger:    logger.With().Str("component", "reasoning").Logger(),
		histories: make(map[string][]openai.ChatCompletionMessage),
	}
}

// Respond generates the assistant reply to one accepted transcript. The
// exchange is appended to the session's rolling history only on success,
// so a failed turn never poisons the next one.
func (c *Client) Respond(ctx context.Context, sessionID, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := c.buildMessages(sessionID, text)

	start := time.Now()
	var reply string
	err := c.breaker.Call(func() error {
		return resilience.Retry(func() error {
			resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
				Model:    c.model,
				Messages: messages,
			})
			if err != nil {
				return err
			}
			if len(resp.Choices) == 0 {
				return fmt.Errorf("chat completion returned no choices")
			}
			reply = resp.Choices[0].Message.Content
			return nil
		}, c.retryConfig, func(err error) bool {
			// Context expiry means the turn already timed out; don't
			// burn attempts on it. Non-transient API failures (bad
			// key, malformed request) don't heal on retry either.
			return ctx.Err() == nil && resilience.IsRetryableNetworkError(err)
		})
	})

	if err != nil {
		c.logger.Error().
			Err(err).
			Str("session_id", sessionID).
			Dur("elapsed", time.Since(start)).
			Msg("Reasoning request failed")
		return "", fmt.Errorf("reasoning request: %w", err)
	}

	c.appendExchange(sessionID, text, reply)

	c.logger.Debug().
		Str("session_id", sessionID).
		Dur("elapsed", time.Since(start)).
		Int("reply_chars", len(reply)).
		Msg("Reasoning reply generated")
	return reply, nil
}

// ClearSession drops the conversation history for a session.
func (c *Client) ClearSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.histories, sessionID)
}

// HealthCheck verifies the API is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.client.ListModels(ctx)
	return err
}

func (c *Client) buildMessages(sessionID, text string) []openai.ChatCompletionMessage {
	c.mu.Lock()
	history := c.histories[sessionID]
	c.mu.Unlock()

	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: c.systemPrompt,
	})
	messages = append(messages, history...)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})
	return messages
}

func (c *Client) appendExchange(sessionID, text, reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	history := append(c.histories[sessionID],
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: text},
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: reply},
	)

	// Two messages per turn; trim the oldest turns past the window.
	if max := c.maxTurns * 2; max > 0 && len(history) > max {
		history = history[len(history)-max:]
	}
	c.histories[sessionID] = history
}
