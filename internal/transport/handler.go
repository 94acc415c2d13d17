// Package transport is the WebSocket edge of the gateway. Each
// connection carries one coaching session as JSON events with base64
// mu-law audio payloads.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/talkcoach/coach-gateway/internal/audio"
	"github.com/talkcoach/coach-gateway/internal/config"
	"github.com/talkcoach/coach-gateway/internal/filter"
	"github.com/talkcoach/coach-gateway/internal/gate"
	"github.com/talkcoach/coach-gateway/internal/observability"
	"github.com/talkcoach/coach-gateway/internal/session"
	"github.com/talkcoach/coach-gateway/internal/stt"
	"github.com/talkcoach/coach-gateway/internal/tts"
)

// Reasoner produces assistant replies for accepted transcripts.
type Reasoner interface {
	Respond(ctx context.Context, sessionID, text string) (string, error)
	ClearSession(sessionID string)
}

// Handler upgrades WebSocket connections and bridges them to the session
// coordinator. It implements gate.Hooks: the gate decides when audio,
// transcripts, and playback move; the handler moves them.
type Handler struct {
	cfg         *config.Config
	coordinator *session.Coordinator
	reasoner    Reasoner
	logger      zerolog.Logger
	upgrader    websocket.Upgrader

	// Factories are swappable for tests.
	newStreaming func(zerolog.Logger) stt.StreamClient
	newBatch     func(zerolog.Logger) *stt.WhisperClient
	newSynth     func(zerolog.Logger) tts.Client

	mu      sync.RWMutex
	streams map[string]*stream
}

// NewHandler wires the transport to a coordinator built from config.
func NewHandler(cfg *config.Config, reasoner Reasoner, logger zerolog.Logger) *Handler {
	h := &Handler{
		cfg:      cfg,
		reasoner: reasoner,
		logger:   logger.With().Str("component", "transport").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		newStreaming: func(l zerolog.Logger) stt.StreamClient { return stt.NewDeepgramClient(cfg, l) },
		newBatch:     func(l zerolog.Logger) *stt.WhisperClient { return stt.NewWhisperClient(cfg, l) },
		newSynth:     func(l zerolog.Logger) tts.Client { return tts.NewCartesiaClient(cfg, l) },
		streams:      make(map[string]*stream),
	}

	f := filter.New(&filter.Config{
		MaxNoSpeechProb:     cfg.FilterMaxNoSpeechProb,
		MinAvgLogProb:       cfg.FilterMinAvgLogProb,
		MaxCompressionRatio: cfg.FilterMaxCompressionRatio,
		MaxAckTokens:        cfg.FilterMaxAckTokens,
	})
	gateCfg := &gate.Config{
		Cooldown:         time.Duration(cfg.GateCooldownMs) * time.Millisecond,
		RejectionLimit:   cfg.GateRejectionLimit,
		ReasoningTimeout: time.Duration(cfg.ReasoningTimeout) * time.Second,
		PlaybackTimeout:  time.Duration(cfg.GatePlaybackTimeout) * time.Second,
		BargeInEnabled:   cfg.BargeInEnabled,
	}
	sessionCfg := &session.Config{
		IdleTimeout:   time.Duration(cfg.SessionIdleTimeout) * time.Second,
		SweepInterval: time.Duration(cfg.SessionSweepInterval) * time.Second,
	}
	h.coordinator = session.NewCoordinator(sessionCfg, gateCfg, f, h, h.logger)
	return h
}

// ServeHTTP handles one WebSocket session from upgrade to teardown.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	var start ClientMessage
	if err := conn.ReadJSON(&start); err != nil || start.Event != EventStart {
		h.logger.Warn().Err(err).Msg("Connection did not open with a start event")
		return
	}

	sessionID := start.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	s, err := h.openStream(sessionID, conn)
	if err != nil {
		h.logger.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to open session")
		conn.WriteJSON(ServerMessage{Event: EventError, SessionID: sessionID, Kind: "session_rejected"})
		return
	}
	defer h.closeStream(s)

	h.readLoop(s)
}

// openStream builds the per-session recognizer and synthesizer, then
// registers the session. Streaming recognition is preferred; if it fails
// to start, the session falls back to local segmentation with batch
// transcription.
func (h *Handler) openStream(sessionID string, conn *websocket.Conn) (*stream, error) {
	logger := observability.SessionLogger(sessionID)

	s := &stream{
		id:      sessionID,
		conn:    conn,
		handler: h,
		logger:  logger,
		metrics: observability.NewSessionMetrics(sessionID),
		vad: audio.NewVADDetector(&audio.VADConfig{
			EnergyThreshold: h.cfg.VADEnergyThreshold,
			SilenceFrames:   h.cfg.VADSilenceFrames,
			OnsetFrames:     1,
		}),
		bargeVAD: audio.NewVADDetector(&audio.VADConfig{
			EnergyThreshold: h.cfg.BargeInThreshold,
			SilenceFrames:   h.cfg.VADSilenceFrames,
			OnsetFrames:     h.cfg.BargeInOnsetFrames,
		}),
		bargeEnabled: h.cfg.BargeInEnabled,
		utterance:    audio.NewUtteranceBuffer(h.cfg.UtteranceMaxBytes, 8000),
		synth:        h.newSynth(logger),
	}

	if h.cfg.STTProvider == "deepgram" {
		s.streaming = h.newStreaming(logger)
		if err := s.streaming.Start(); err == nil {
			s.mode = modeStreaming
			go s.pumpResults()
		} else {
			logger.Warn().Err(err).Msg("Streaming recognizer unavailable, falling back to batch")
			s.streaming = nil
		}
	}
	if s.streaming == nil {
		s.mode = modeBatch
		s.batch = h.newBatch(logger)
	}

	// Reject a reused session ID in the same critical section as the
	// insert so a second connection can never displace a live stream.
	h.mu.Lock()
	if _, exists := h.streams[sessionID]; exists {
		h.mu.Unlock()
		s.close()
		return nil, fmt.Errorf("opening session %s: %w", sessionID, session.ErrSessionExists)
	}
	h.streams[sessionID] = s
	h.mu.Unlock()

	if _, err := h.coordinator.StartSession(sessionID); err != nil {
		h.mu.Lock()
		if cur, ok := h.streams[sessionID]; ok && cur == s {
			delete(h.streams, sessionID)
		}
		h.mu.Unlock()
		s.close()
		return nil, err
	}
	return s, nil
}

func (h *Handler) closeStream(s *stream) {
	h.mu.Lock()
	delete(h.streams, s.id)
	h.mu.Unlock()

	if err := h.coordinator.EndSession(s.id); err != nil {
		s.logger.Debug().Err(err).Msg("Session already ended")
	}
	h.reasoner.ClearSession(s.id)
	s.close()
}

func (h *Handler) readLoop(s *stream) {
	for {
		var msg ClientMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("Connection dropped")
			}
			return
		}

		switch msg.Event {
		case EventMedia:
			s.handleMedia(msg.Payload)
		case EventPlaybackDone:
			s.playing.Store(false)
			h.route(s, session.PlaybackComplete{})
		case EventBargeIn:
			h.route(s, session.BargeIn{})
		case EventStop:
			return
		default:
			s.logger.Debug().Str("event", msg.Event).Msg("Ignoring unknown client event")
		}
	}
}

func (h *Handler) route(s *stream, ev session.Event) {
	if err := h.coordinator.Route(s.id, ev); err != nil {
		s.logger.Debug().Err(err).Msg("Event for dead session")
	}
}

func (h *Handler) lookup(sessionID string) (*stream, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.streams[sessionID]
	return s, ok
}

// Shutdown ends every session and stops the coordinator.
func (h *Handler) Shutdown() {
	h.coordinator.Stop()

	h.mu.Lock()
	streams := make([]*stream, 0, len(h.streams))
	for _, s := range h.streams {
		streams = append(streams, s)
	}
	h.streams = make(map[string]*stream)
	h.mu.Unlock()

	for _, s := range streams {
		s.close()
	}
}

// ForwardAudio implements gate.Hooks.
func (h *Handler) ForwardAudio(sessionID string, frame []byte) {
	if s, ok := h.lookup(sessionID); ok {
		s.forwardAudio(frame)
	}
}

// ForwardTranscript implements gate.Hooks: it echoes the accepted
// transcript to the client and dispatches the reasoning call. The reply
// or failure re-enters the gate as a routed event.
func (h *Handler) ForwardTranscript(sessionID, text string) {
	s, ok := h.lookup(sessionID)
	if !ok {
		return
	}

	s.send(ServerMessage{Event: EventTranscript, Text: text})

	go func() {
		s.metrics.RecordReasoningStart()
		reply, err := h.reasoner.Respond(context.Background(), sessionID, text)
		s.metrics.RecordReasoningEnd(err == nil)
		if err != nil {
			h.route(s, session.ReasoningFailure{Kind: gate.ErrorReasoningFailed})
			return
		}
		h.route(s, session.ReasoningReply{Text: reply})
	}()
}

// StartPlayback implements gate.Hooks.
func (h *Handler) StartPlayback(sessionID, reply string) {
	if s, ok := h.lookup(sessionID); ok {
		s.startPlayback(reply)
	}
}

// CancelPlayback implements gate.Hooks.
func (h *Handler) CancelPlayback(sessionID string) {
	if s, ok := h.lookup(sessionID); ok {
		s.cancelPlayback()
	}
}

// MicMuted implements gate.Hooks.
func (h *Handler) MicMuted(sessionID string, muted bool) {
	if s, ok := h.lookup(sessionID); ok {
		s.send(ServerMessage{Event: EventMic, Muted: &muted})
	}
}

// RejectionNotice implements gate.Hooks.
func (h *Handler) RejectionNotice(sessionID string, reason filter.Reason) {
	if s, ok := h.lookup(sessionID); ok {
		s.send(ServerMessage{Event: EventNotice, Reason: string(reason)})
	}
}

// SessionError implements gate.Hooks.
func (h *Handler) SessionError(sessionID string, kind gate.ErrorKind) {
	if s, ok := h.lookup(sessionID); ok {
		s.send(ServerMessage{Event: EventError, Kind: string(kind)})
	}
}
