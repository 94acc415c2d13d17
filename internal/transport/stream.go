package transport

import (
	"context"
	"encoding/base64"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/talkcoach/coach-gateway/internal/audio"
	"github.com/talkcoach/coach-gateway/internal/observability"
	"github.com/talkcoach/coach-gateway/internal/session"
	"github.com/talkcoach/coach-gateway/internal/stt"
	"github.com/talkcoach/coach-gateway/internal/tts"
)

// sttMode selects how mic audio reaches a recognizer.
type sttMode int

const (
	// modeStreaming pipes mu-law frames straight into a streaming
	// recognizer connection.
	modeStreaming sttMode = iota

	// modeBatch segments utterances locally with energy VAD and submits
	// each one as a whole to a batch recognizer.
	modeBatch
)

// stream is the server side of one WebSocket connection: it owns the
// session's recognizer, synthesizer, and VAD state, and translates
// between wire messages and coordinator events.
type stream struct {
	id      string
	conn    *websocket.Conn
	handler *Handler
	logger  zerolog.Logger
	metrics *observability.Metrics

	writeMu sync.Mutex

	mode      sttMode
	streaming stt.StreamClient
	batch     *stt.WhisperClient
	utterance *audio.UtteranceBuffer
	vad       *audio.VADDetector

	// bargeVAD watches for user speech during assistant playback. Higher
	// threshold and longer onset than the segmentation VAD, so playback
	// echo doesn't self-interrupt.
	bargeVAD     *audio.VADDetector
	bargeEnabled bool
	playing      atomic.Bool

	synth tts.Client

	playbackMu     sync.Mutex
	playbackCancel context.CancelFunc

	closeOnce sync.Once
}

// send writes one message to the client. The write mutex serializes the
// gate's hook goroutines with the playback streamer.
func (s *stream) send(msg ServerMessage) {
	msg.SessionID = s.id
	s.writeMu.Lock()
	err := s.conn.WriteJSON(msg)
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Debug().Err(err).Str("event", msg.Event).Msg("Failed to write to client")
	}
}

// handleMedia processes one inbound audio message. Barge-in detection
// runs before gate routing because the gate drops frames while the mic
// is muted.
func (s *stream) handleMedia(payload string) {
	frame, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Dropping undecodable audio payload")
		return
	}
	s.metrics.RecordAudioBytes("in", int64(len(frame)))

	if s.bargeEnabled && s.playing.Load() {
		s.detectBargeIn(frame)
	}

	if err := s.handler.coordinator.Route(s.id, session.AudioFrame{Data: frame}); err != nil {
		s.logger.Debug().Err(err).Msg("Dropping audio for dead session")
	}
}

func (s *stream) detectBargeIn(frame []byte) {
	pcm, err := audio.ConvertPCMUToPCM(frame)
	if err != nil {
		return
	}
	samples, err := audio.DecodePCM16(pcm)
	if err != nil {
		return
	}
	if _, speechStarted, _ := s.bargeVAD.ProcessFrame(samples); speechStarted {
		s.logger.Info().Msg("Speech onset during playback")
		if err := s.handler.coordinator.Route(s.id, session.BargeIn{}); err != nil {
			s.logger.Debug().Err(err).Msg("Dropping barge-in for dead session")
		}
	}
}

// forwardAudio delivers one mic-open frame to the recognizer. Called by
// the gate hook, so only frames from LISTENING land here.
func (s *stream) forwardAudio(frame []byte) {
	switch s.mode {
	case modeStreaming:
		if err := s.streaming.SendAudio(frame); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to forward audio to recognizer")
		}
	case modeBatch:
		s.segmentFrame(frame)
	}
}

// segmentFrame runs the utterance VAD over one frame and submits the
// buffered utterance when speech ends.
func (s *stream) segmentFrame(frame []byte) {
	pcm, err := audio.ConvertPCMUToPCM(frame)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Dropping untranscodable frame")
		return
	}
	samples, err := audio.DecodePCM16(pcm)
	if err != nil {
		return
	}

	isSpeaking, speechStarted, speechEnded := s.vad.ProcessFrame(samples)

	if speechStarted {
		s.utterance.Reset()
	}
	if isSpeaking || speechEnded {
		s.utterance.Write(pcm)
	}
	if speechEnded {
		s.flushUtterance()
	}
}

// sttRequestTimeout bounds one batch transcription call.
const sttRequestTimeout = 30 * time.Second

func (s *stream) flushUtterance() {
	pcm := s.utterance.Take()
	if len(pcm) == 0 {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sttRequestTimeout)
		defer cancel()

		s.metrics.RecordSTTStart()
		result, err := s.batch.Transcribe(ctx, pcm, 8000)
		s.metrics.RecordSTTEnd(err == nil)
		if err != nil {
			s.logger.Error().Err(err).Msg("Utterance transcription failed")
			return
		}
		if err := s.handler.coordinator.Route(s.id, session.STTResult{Result: result}); err != nil {
			s.logger.Debug().Err(err).Msg("Dropping transcription for dead session")
		}
	}()
}

// pumpResults forwards streaming-recognizer finals into the coordinator
// until the results channel closes.
func (s *stream) pumpResults() {
	for result := range s.streaming.Results() {
		if err := s.handler.coordinator.Route(s.id, session.STTResult{Result: result}); err != nil {
			s.logger.Debug().Err(err).Msg("Dropping transcription for dead session")
		}
	}
}

// startPlayback synthesizes the reply and streams it to the client. The
// turn stays in SPEAKING until the client acknowledges playback, so the
// stream just finishes and waits.
func (s *stream) startPlayback(reply string) {
	ctx, cancel := context.WithCancel(context.Background())
	s.playbackMu.Lock()
	if s.playbackCancel != nil {
		s.playbackCancel()
	}
	s.playbackCancel = cancel
	s.playbackMu.Unlock()

	s.playing.Store(true)
	s.bargeVAD.Reset()
	s.send(ServerMessage{Event: EventReply, Text: reply})

	go func() {
		s.metrics.RecordTTSStart()
		chunks, err := s.synth.Synthesize(ctx, reply)
		if err != nil {
			s.metrics.RecordTTSEnd(false)
			s.logger.Error().Err(err).Msg("Synthesis failed")
			s.send(ServerMessage{Event: EventError, Kind: "synthesis_failed"})
			// Close the turn rather than wedging it in SPEAKING.
			s.handler.coordinator.Route(s.id, session.PlaybackComplete{})
			return
		}

		var sent int64
		for chunk := range chunks {
			s.send(ServerMessage{
				Event:   EventMedia,
				Payload: base64.StdEncoding.EncodeToString(chunk.Data),
			})
			sent += int64(len(chunk.Data))
		}
		s.metrics.RecordTTSEnd(true)
		s.metrics.RecordAudioBytes("out", sent)
	}()
}

// cancelPlayback aborts synthesis and streaming mid-reply.
func (s *stream) cancelPlayback() {
	s.playing.Store(false)

	s.playbackMu.Lock()
	if s.playbackCancel != nil {
		s.playbackCancel()
		s.playbackCancel = nil
	}
	s.playbackMu.Unlock()

	if err := s.synth.Stop(); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to stop synthesis")
	}
}

// close tears down the stream's recognizer and synthesizer. Safe to call
// more than once.
func (s *stream) close() {
	s.closeOnce.Do(func() {
		s.cancelPlayback()
		if s.streaming != nil {
			if err := s.streaming.Close(); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to close recognizer")
			}
		}
		if err := s.synth.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to close synthesizer")
		}
	})
}
