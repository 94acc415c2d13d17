package transport

// Client to server events.
const (
	EventStart        = "start"
	EventMedia        = "media"
	EventPlaybackDone = "playback_done"
	EventBargeIn      = "barge_in"
	EventStop         = "stop"
)

// Server to client events. EventMedia flows both ways.
const (
	EventMic        = "mic"
	EventTranscript = "transcript"
	EventReply      = "reply"
	EventNotice     = "notice"
	EventError      = "error"
)

// ClientMessage is one inbound WebSocket JSON message. Audio payloads
// are base64 G.711 mu-law at 8kHz.
type ClientMessage struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id,omitempty"`
	Payload   string `json:"payload,omitempty"`
}

// ServerMessage is one outbound WebSocket JSON message.
type ServerMessage struct {
	Event     string `json:"event"`
	SessionID string `json:"session_id,omitempty"`
	Payload   string `json:"payload,omitempty"`
	Text      string `json:"text,omitempty"`
	Muted     *bool  `json:"muted,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Kind      string `json:"kind,omitempty"`
}
