// Package session owns the registry of live coaching sessions and routes
// events into each session's turn gate.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/talkcoach/coach-gateway/internal/filter"
	"github.com/talkcoach/coach-gateway/internal/gate"
	"github.com/talkcoach/coach-gateway/internal/observability"
)

var (
	// ErrSessionNotFound is returned when an event references a session
	// that was never started or already ended.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExists is returned when a start collides with a live
	// session of the same ID.
	ErrSessionExists = errors.New("session already exists")
)

// Config holds the session lifecycle knobs.
type Config struct {
	// IdleTimeout is how long a session may go without events before the
	// reaper ends it.
	IdleTimeout time.Duration

	// SweepInterval is how often the reaper scans for idle sessions.
	SweepInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		IdleTimeout:   5 * time.Minute,
		SweepInterval: 30 * time.Second,
	}
}

// Session is one live coaching conversation.
type Session struct {
	ID        string
	Gate      *gate.Gate
	Logger    zerolog.Logger
	Metrics   *observability.Metrics
	CreatedAt time.Time

	lastActivity atomic.Int64
}

func (s *Session) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns when the session last received an event.
func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

// Coordinator maps session IDs to gates and fans events into them. The
// registry lock is held only for lookups; gate work runs outside it, so
// a slow session never blocks routing to the others.
type Coordinator struct {
	config     *Config
	gateConfig *gate.Config
	filter     *filter.Filter
	hooks      gate.Hooks
	logger     zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewCoordinator creates a coordinator and starts its idle-session
// reaper. Call Stop to shut it down.
func NewCoordinator(config *Config, gateConfig *gate.Config, f *filter.Filter, hooks gate.Hooks, logger zerolog.Logger) *Coordinator {
	if config == nil {
		config = DefaultConfig()
	}
	c := &Coordinator{
		config:     config,
		gateConfig: gateConfig,
		filter:     f,
		hooks:      hooks,
		logger:     logger.With().Str("component", "coordinator").Logger(),
		sessions:   make(map[string]*Session),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
	go c.reap()
	return c
}

// StartSession registers a session and opens its mic.
func (c *Coordinator) StartSession(sessionID string) (*Session, error) {
	logger := observability.SessionLogger(sessionID)
	metrics := observability.NewSessionMetrics(sessionID)

	s := &Session{
		ID:        sessionID,
		Logger:    logger,
		Metrics:   metrics,
		CreatedAt: time.Now(),
	}
	s.Gate = gate.New(sessionID, c.gateConfig, c.filter, c.hooks, logger, metrics)
	s.touch()

	c.mu.Lock()
	if _, exists := c.sessions[sessionID]; exists {
		c.mu.Unlock()
		return nil, fmt.Errorf("starting session %s: %w", sessionID, ErrSessionExists)
	}
	c.sessions[sessionID] = s
	count := len(c.sessions)
	c.mu.Unlock()

	metrics.RecordSessionStart()
	logger.Info().Int("active_sessions", count).Msg("Session started")

	s.Gate.Start()
	return s, nil
}

// EndSession terminates a session's gate and removes it from the
// registry. Ending an unknown session returns ErrSessionNotFound.
func (c *Coordinator) EndSession(sessionID string) error {
	c.mu.Lock()
	s, ok := c.sessions[sessionID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("ending session %s: %w", sessionID, ErrSessionNotFound)
	}
	delete(c.sessions, sessionID)
	count := len(c.sessions)
	c.mu.Unlock()

	s.Gate.Terminate()
	s.Metrics.RecordSessionEnd()
	s.Logger.Info().
		Dur("duration", time.Since(s.CreatedAt)).
		Int("active_sessions", count).
		Msg("Session ended")
	return nil
}

// Route delivers one event to its session. Events for unknown sessions
// are rejected with ErrSessionNotFound rather than dropped, so transports
// can tell the client it is talking to a dead session.
func (c *Coordinator) Route(sessionID string, event Event) error {
	c.mu.RLock()
	s, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("routing to session %s: %w", sessionID, ErrSessionNotFound)
	}

	s.touch()

	switch ev := event.(type) {
	case AudioFrame:
		s.Gate.OnAudioFrame(ev.Data)
	case STTResult:
		s.Gate.OnSTTResult(ev.Result)
	case ReasoningReply:
		s.Gate.OnReasoningReply(ev.Text)
	case ReasoningFailure:
		s.Gate.OnReasoningFailure(ev.Kind)
	case PlaybackComplete:
		s.Gate.OnPlaybackComplete()
	case BargeIn:
		s.Gate.OnBargeIn()
	default:
		return fmt.Errorf("routing to session %s: unknown event type %T", sessionID, event)
	}
	return nil
}

// Get returns a live session by ID.
func (c *Coordinator) Get(sessionID string) (*Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[sessionID]
	return s, ok
}

// Count returns the number of live sessions.
func (c *Coordinator) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}

// Stop shuts down the reaper and ends every live session.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
		<-c.done

		c.mu.Lock()
		ids := make([]string, 0, len(c.sessions))
		for id := range c.sessions {
			ids = append(ids, id)
		}
		c.mu.Unlock()

		for _, id := range ids {
			if err := c.EndSession(id); err != nil {
				c.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to end session during shutdown")
			}
		}
	})
}

// reap periodically ends sessions whose clients went silent without a
// stop event.
func (c *Coordinator) reap() {
	defer close(c.done)

	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-c.config.IdleTimeout)

			c.mu.RLock()
			var idle []string
			for id, s := range c.sessions {
				if s.LastActivity().Before(cutoff) {
					idle = append(idle, id)
				}
			}
			c.mu.RUnlock()

			for _, id := range idle {
				c.logger.Info().Str("session_id", id).Msg("Reaping idle session")
				if err := c.EndSession(id); err != nil {
					c.logger.Warn().Err(err).Str("session_id", id).Msg("Failed to reap session")
				}
			}
		}
	}
}
