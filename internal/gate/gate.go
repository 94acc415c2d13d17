// Package gate serializes one coaching session into half-duplex turns.
// Exactly one party speaks at a time; every event funnels through a
// single mutex so concurrent STT results, reasoning replies, and timer
// fires are applied in a serial order.
package gate

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/talkcoach/coach-gateway/internal/filter"
	"github.com/talkcoach/coach-gateway/internal/observability"
	"github.com/talkcoach/coach-gateway/internal/stt"
)

// ErrorKind classifies gate-surfaced failures sent to the client.
type ErrorKind string

const (
	ErrorReasoningTimeout ErrorKind = "reasoning_timeout"
	ErrorReasoningFailed  ErrorKind = "reasoning_failed"
)

// Hooks is the outbound side of the gate. The transport layer implements
// it; the gate decides WHEN each action happens, the hooks decide HOW.
// Hooks are invoked outside the gate's lock and must not call back into
// the gate synchronously except via the On* event methods.
type Hooks interface {
	// ForwardAudio passes a mic frame downstream to the recognizer.
	// Called only while the mic is open.
	ForwardAudio(sessionID string, frame []byte)

	// ForwardTranscript submits an accepted transcript to the reasoning
	// service.
	ForwardTranscript(sessionID, text string)

	// StartPlayback begins synthesizing and streaming the assistant reply.
	StartPlayback(sessionID, reply string)

	// CancelPlayback aborts in-flight synthesis and playback.
	CancelPlayback(sessionID string)

	// MicMuted reports mic open/closed flips so the client UI can follow.
	MicMuted(sessionID string, muted bool)

	// RejectionNotice fires after too many consecutive rejected
	// transcriptions, so the client can prompt the user to speak up.
	RejectionNotice(sessionID string, reason filter.Reason)

	// SessionError reports a recoverable turn failure.
	SessionError(sessionID string, kind ErrorKind)
}

// Config holds the gate timing and behavior knobs.
type Config struct {
	// Cooldown is how long the mic stays closed after playback ends,
	// absorbing the echo tail picked up by the client mic.
	Cooldown time.Duration

	// RejectionLimit is the consecutive-rejection count that triggers a
	// notice to the client.
	RejectionLimit int

	// ReasoningTimeout bounds how long a turn waits on the reasoning
	// service before giving the floor back.
	ReasoningTimeout time.Duration

	// PlaybackTimeout is the watchdog on client playback acknowledgment.
	// A client that never reports completion would otherwise wedge the
	// session in SPEAKING.
	PlaybackTimeout time.Duration

	// BargeInEnabled lets user speech interrupt assistant playback.
	BargeInEnabled bool
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		Cooldown:         400 * time.Millisecond,
		RejectionLimit:   3,
		ReasoningTimeout: 30 * time.Second,
		PlaybackTimeout:  60 * time.Second,
		BargeInEnabled:   false,
	}
}

// Gate is the per-session turn state machine. All event methods are safe
// for concurrent use; transitions are atomic under one mutex and hook
// calls run after the lock is released.
type Gate struct {
	sessionID string
	config    *Config
	filter    *filter.Filter
	hooks     Hooks
	logger    zerolog.Logger
	metrics   *observability.Metrics

	mu         sync.Mutex
	state      State
	generation uint64
	rejections int
	timer      *time.Timer
}

// New creates a gate in IDLE. A nil config uses DefaultConfig; metrics
// may be nil.
func New(sessionID string, config *Config, f *filter.Filter, hooks Hooks, logger zerolog.Logger, metrics *observability.Metrics) *Gate {
	if config == nil {
		config = DefaultConfig()
	}
	if f == nil {
		f = filter.New(nil)
	}
	return &Gate{
		sessionID: sessionID,
		config:    config,
		filter:    f,
		hooks:     hooks,
		logger:    logger.With().Str("component", "gate").Logger(),
		metrics:   metrics,
	}
}

// State returns the current turn state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Start opens the mic. Valid only from IDLE.
func (g *Gate) Start() {
	g.mu.Lock()
	if g.state != StateIdle {
		g.ignoreLocked("start")
		g.mu.Unlock()
		return
	}
	g.transitionLocked(StateListening)
	g.mu.Unlock()

	g.hooks.MicMuted(g.sessionID, false)
}

// OnAudioFrame routes one mic frame. Frames arriving while the mic is
// muted are dropped silently; that is the muting mechanism.
func (g *Gate) OnAudioFrame(frame []byte) {
	g.mu.Lock()
	open := g.state == StateListening
	g.mu.Unlock()

	if open {
		g.hooks.ForwardAudio(g.sessionID, frame)
	}
}

// OnSTTResult applies one final transcription. Results arriving outside
// LISTENING are discarded: they belong to a turn that already moved on,
// typically echo of assistant playback.
func (g *Gate) OnSTTResult(result *stt.Result) {
	decision := g.filter.Classify(result)

	g.mu.Lock()

	if g.state != StateListening {
		g.logger.Debug().
			Str("state", g.state.String()).
			Str("text", result.Text).
			Msg("Discarding transcription outside listening state")
		if g.metrics != nil {
			g.metrics.RecordDiscardedResult()
		}
		g.mu.Unlock()
		return
	}

	if g.metrics != nil {
		g.metrics.RecordFilterDecision(reasonLabel(decision.Reason))
	}

	if !decision.Valid {
		g.rejections++
		g.logger.Debug().
			Str("reason", string(decision.Reason)).
			Str("text", result.Text).
			Int("consecutive", g.rejections).
			Msg("Rejected transcription")

		notice := g.rejections >= g.config.RejectionLimit
		if notice {
			g.rejections = 0
		}
		g.mu.Unlock()

		if notice {
			g.hooks.RejectionNotice(g.sessionID, decision.Reason)
		}
		return
	}

	g.rejections = 0
	g.transitionLocked(StatePendingReasoning)
	g.armTimerLocked(g.config.ReasoningTimeout, g.onReasoningTimeout)
	g.mu.Unlock()

	g.hooks.MicMuted(g.sessionID, true)
	g.hooks.ForwardTranscript(g.sessionID, decision.Text)
}

// OnReasoningReply starts playback of the assistant reply. Replies
// arriving after the turn was abandoned (timeout, termination) are
// dropped.
func (g *Gate) OnReasoningReply(reply string) {
	g.mu.Lock()
	if g.state != StatePendingReasoning {
		g.ignoreLocked("reasoning_reply")
		g.mu.Unlock()
		return
	}
	g.transitionLocked(StateSpeaking)
	g.armTimerLocked(g.config.PlaybackTimeout, g.onPlaybackTimeout)
	g.mu.Unlock()

	g.hooks.StartPlayback(g.sessionID, reply)
}

// OnReasoningFailure gives the floor back to the user after the reasoning
// service errored.
func (g *Gate) OnReasoningFailure(kind ErrorKind) {
	g.mu.Lock()
	if g.state != StatePendingReasoning {
		g.ignoreLocked("reasoning_failure")
		g.mu.Unlock()
		return
	}
	g.transitionLocked(StateListening)
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.RecordError(string(kind), "gate")
	}
	g.hooks.SessionError(g.sessionID, kind)
	g.hooks.MicMuted(g.sessionID, false)
}

// OnPlaybackComplete ends the speaking turn and starts the cooldown.
// Duplicate completions are idempotent.
func (g *Gate) OnPlaybackComplete() {
	g.mu.Lock()
	if g.state != StateSpeaking {
		g.ignoreLocked("playback_complete")
		g.mu.Unlock()
		return
	}
	g.transitionLocked(StateCooldown)
	g.armTimerLocked(g.config.Cooldown, g.onCooldownElapsed)
	g.mu.Unlock()
}

// OnBargeIn interrupts assistant playback. The turn skips straight to
// COOLDOWN so the cut-off playback's echo tail is absorbed before the
// mic reopens. A no-op unless barge-in is enabled and the assistant is
// speaking.
func (g *Gate) OnBargeIn() {
	g.mu.Lock()
	if !g.config.BargeInEnabled || g.state != StateSpeaking {
		g.ignoreLocked("barge_in")
		g.mu.Unlock()
		return
	}
	g.transitionLocked(StateCooldown)
	g.armTimerLocked(g.config.Cooldown, g.onCooldownElapsed)
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.RecordBargeIn()
	}
	g.logger.Info().Msg("Barge-in interrupted playback")
	g.hooks.CancelPlayback(g.sessionID)
}

// Terminate tears the gate down. Idempotent; any in-flight playback is
// cancelled and pending timers are disarmed.
func (g *Gate) Terminate() {
	g.mu.Lock()
	if g.state == StateIdle {
		g.mu.Unlock()
		return
	}
	speaking := g.state == StateSpeaking
	g.transitionLocked(StateIdle)
	g.mu.Unlock()

	if speaking {
		g.hooks.CancelPlayback(g.sessionID)
	}
}

// onReasoningTimeout fires when the reasoning service never answered.
// The generation check makes stale fires harmless.
func (g *Gate) onReasoningTimeout(gen uint64) {
	g.mu.Lock()
	if g.generation != gen || g.state != StatePendingReasoning {
		g.mu.Unlock()
		return
	}
	g.logger.Warn().Msg("Reasoning timed out, returning floor to user")
	g.transitionLocked(StateListening)
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.RecordError(string(ErrorReasoningTimeout), "gate")
	}
	g.hooks.SessionError(g.sessionID, ErrorReasoningTimeout)
	g.hooks.MicMuted(g.sessionID, false)
}

// onPlaybackTimeout forces completion when the client never acknowledged
// the end of playback.
func (g *Gate) onPlaybackTimeout(gen uint64) {
	g.mu.Lock()
	if g.generation != gen || g.state != StateSpeaking {
		g.mu.Unlock()
		return
	}
	g.logger.Warn().Msg("Playback watchdog fired, forcing completion")
	g.transitionLocked(StateCooldown)
	g.armTimerLocked(g.config.Cooldown, g.onCooldownElapsed)
	g.mu.Unlock()

	g.hooks.CancelPlayback(g.sessionID)
}

func (g *Gate) onCooldownElapsed(gen uint64) {
	g.mu.Lock()
	if g.generation != gen || g.state != StateCooldown {
		g.mu.Unlock()
		return
	}
	g.transitionLocked(StateListening)
	g.mu.Unlock()

	g.hooks.MicMuted(g.sessionID, false)
}

// transitionLocked moves to a new state. Every transition bumps the
// generation, which invalidates any timer armed for the old state.
func (g *Gate) transitionLocked(to State) {
	from := g.state
	g.state = to
	g.generation++
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}

	g.logger.Debug().
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Gate transition")
	if g.metrics != nil {
		g.metrics.RecordGateTransition(from.String(), to.String())
	}
}

// armTimerLocked schedules a deferred transition bound to the current
// generation. At most one timer is live per state.
func (g *Gate) armTimerLocked(d time.Duration, fn func(gen uint64)) {
	gen := g.generation
	g.timer = time.AfterFunc(d, func() { fn(gen) })
}

func (g *Gate) ignoreLocked(event string) {
	g.logger.Debug().
		Str("event", event).
		Str("state", g.state.String()).
		Msg("Ignoring event in current state")
}

func reasonLabel(r filter.Reason) string {
	if r == filter.ReasonNone {
		return "accepted"
	}
	return string(r)
}
