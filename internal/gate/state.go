package gate

// State is the half-duplex turn state of one session. Exactly one party
// holds the floor at a time; the state says which, and whether the mic
// is open.
type State int

const (
	// StateIdle is the pre-start and post-terminate state. Nothing is
	// forwarded.
	StateIdle State = iota

	// StateListening has the mic open; audio frames stream to the
	// recognizer and final transcripts are classified.
	StateListening

	// StatePendingReasoning has an accepted transcript in flight to the
	// reasoning service. The mic is muted.
	StatePendingReasoning

	// StateSpeaking is assistant playback. The mic is muted and incoming
	// transcripts are discarded.
	StateSpeaking

	// StateCooldown is the short window after playback ends that absorbs
	// the echo tail before the mic reopens.
	StateCooldown
)

var stateNames = map[State]string{
	StateIdle:             "IDLE",
	StateListening:        "LISTENING",
	StatePendingReasoning: "PENDING_REASONING",
	StateSpeaking:         "SPEAKING",
	StateCooldown:         "COOLDOWN",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}
