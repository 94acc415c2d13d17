package session

import (
	"github.com/talkcoach/coach-gateway/internal/gate"
	"github.com/talkcoach/coach-gateway/internal/stt"
)

// Event is a routed session event. The concrete type selects the gate
// operation; the coordinator itself never interprets payloads.
type Event interface {
	isEvent()
}

// AudioFrame is one chunk of mic audio from the client.
type AudioFrame struct {
	Data []byte
}

// STTResult is one final transcription from the recognizer.
type STTResult struct {
	Result *stt.Result
}

// ReasoningReply is the assistant's text reply for the current turn.
type ReasoningReply struct {
	Text string
}

// ReasoningFailure reports that the reasoning call for the current turn
// errored or timed out upstream.
type ReasoningFailure struct {
	Kind gate.ErrorKind
}

// PlaybackComplete is the client's acknowledgment that assistant audio
// finished playing.
type PlaybackComplete struct{}

// BargeIn reports user speech during assistant playback.
type BargeIn struct{}

func (AudioFrame) isEvent()       {}
func (STTResult) isEvent()        {}
func (ReasoningReply) isEvent()   {}
func (ReasoningFailure) isEvent() {}
func (PlaybackComplete) isEvent() {}
func (BargeIn) isEvent()          {}
