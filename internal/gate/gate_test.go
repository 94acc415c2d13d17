package gate

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/talkcoach/coach-gateway/internal/filter"
	"github.com/talkcoach/coach-gateway/internal/stt"
)

type recordingHooks struct {
	mu          sync.Mutex
	audio       [][]byte
	transcripts []string
	playbacks   []string
	cancels     int
	micMuted    []bool
	notices     []filter.Reason
	errors      []ErrorKind
}

func (h *recordingHooks) ForwardAudio(sessionID string, frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.audio = append(h.audio, frame)
}

func (h *recordingHooks) ForwardTranscript(sessionID, text string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.transcripts = append(h.transcripts, text)
}

func (h *recordingHooks) StartPlayback(sessionID, reply string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playbacks = append(h.playbacks, reply)
}

func (h *recordingHooks) CancelPlayback(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancels++
}

func (h *recordingHooks) MicMuted(sessionID string, muted bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.micMuted = append(h.micMuted, muted)
}

func (h *recordingHooks) RejectionNotice(sessionID string, reason filter.Reason) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.notices = append(h.notices, reason)
}

func (h *recordingHooks) SessionError(sessionID string, kind ErrorKind) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, kind)
}

func (h *recordingHooks) transcriptCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.transcripts)
}

func (h *recordingHooks) playbackCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.playbacks)
}

func (h *recordingHooks) cancelCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancels
}

func (h *recordingHooks) noticeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.notices)
}

func (h *recordingHooks) errorCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.errors)
}

func newTestGate(config *Config) (*Gate, *recordingHooks) {
	if config == nil {
		config = &Config{
			Cooldown:         20 * time.Millisecond,
			RejectionLimit:   3,
			ReasoningTimeout: time.Second,
			PlaybackTimeout:  time.Second,
		}
	}
	hooks := &recordingHooks{}
	g := New("test-session", config, filter.New(nil), hooks, zerolog.Nop(), nil)
	return g, hooks
}

func validResult() *stt.Result {
	return &stt.Result{Text: "walk me through the second step", Provider: stt.ProviderGoogle}
}

func invalidResult() *stt.Result {
	return &stt.Result{Text: "Thank you.", Provider: stt.ProviderGoogle}
}

// waitForState polls until the gate reaches the expected state or the
// deadline passes.
func waitForState(t *testing.T, g *Gate, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if g.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Gate never reached %v, stuck in %v", want, g.State())
}

func TestGate_FullTurn(t *testing.T) {
	g, hooks := newTestGate(nil)

	if g.State() != StateIdle {
		t.Fatalf("Expected IDLE before start, got %v", g.State())
	}

	g.Start()
	if g.State() != StateListening {
		t.Fatalf("Expected LISTENING after start, got %v", g.State())
	}

	g.OnAudioFrame([]byte{1, 2, 3})
	hooks.mu.Lock()
	forwarded := len(hooks.audio)
	hooks.mu.Unlock()
	if forwarded != 1 {
		t.Errorf("Expected 1 forwarded frame, got %d", forwarded)
	}

	g.OnSTTResult(validResult())
	if g.State() != StatePendingReasoning {
		t.Fatalf("Expected PENDING_REASONING, got %v", g.State())
	}
	if hooks.transcriptCount() != 1 {
		t.Errorf("Expected 1 forwarded transcript, got %d", hooks.transcriptCount())
	}

	// The mic closes for the rest of the turn.
	g.OnAudioFrame([]byte{4, 5, 6})
	hooks.mu.Lock()
	forwarded = len(hooks.audio)
	hooks.mu.Unlock()
	if forwarded != 1 {
		t.Errorf("Expected muted frame to be dropped, forwarded %d", forwarded)
	}

	g.OnReasoningReply("try slowing down your opening")
	if g.State() != StateSpeaking {
		t.Fatalf("Expected SPEAKING, got %v", g.State())
	}
	if hooks.playbackCount() != 1 {
		t.Errorf("Expected 1 playback start, got %d", hooks.playbackCount())
	}

	g.OnPlaybackComplete()
	if g.State() != StateCooldown {
		t.Fatalf("Expected COOLDOWN, got %v", g.State())
	}

	waitForState(t, g, StateListening)

	hooks.mu.Lock()
	mutes := append([]bool(nil), hooks.micMuted...)
	hooks.mu.Unlock()
	want := []bool{false, true, false}
	if len(mutes) != len(want) {
		t.Fatalf("Expected mic flips %v, got %v", want, mutes)
	}
	for i := range want {
		if mutes[i] != want[i] {
			t.Fatalf("Expected mic flips %v, got %v", want, mutes)
		}
	}
}

func TestGate_DiscardsResultsWhileSpeaking(t *testing.T) {
	g, hooks := newTestGate(nil)
	g.Start()
	g.OnSTTResult(validResult())
	g.OnReasoningReply("answer")

	// Echo of assistant playback shows up as more transcriptions. None of
	// them may reach the reasoning service.
	for i := 0; i < 5; i++ {
		g.OnSTTResult(validResult())
	}

	if hooks.transcriptCount() != 1 {
		t.Errorf("Expected exactly 1 forwarded transcript, got %d", hooks.transcriptCount())
	}
	if g.State() != StateSpeaking {
		t.Errorf("Expected to stay in SPEAKING, got %v", g.State())
	}
}

func TestGate_RejectionNotice(t *testing.T) {
	g, hooks := newTestGate(nil)
	g.Start()

	g.OnSTTResult(invalidResult())
	g.OnSTTResult(invalidResult())
	if hooks.noticeCount() != 0 {
		t.Fatalf("Expected no notice below the limit, got %d", hooks.noticeCount())
	}

	g.OnSTTResult(invalidResult())
	if hooks.noticeCount() != 1 {
		t.Fatalf("Expected notice at the limit, got %d", hooks.noticeCount())
	}

	// The counter resets after the notice; the next rejection starts a
	// fresh run.
	g.OnSTTResult(invalidResult())
	if hooks.noticeCount() != 1 {
		t.Errorf("Expected counter reset after notice, got %d notices", hooks.noticeCount())
	}

	if g.State() != StateListening {
		t.Errorf("Rejections must not change state, got %v", g.State())
	}
}

func TestGate_ValidResultResetsRejections(t *testing.T) {
	cfg := &Config{
		Cooldown:         20 * time.Millisecond,
		RejectionLimit:   3,
		ReasoningTimeout: time.Second,
		PlaybackTimeout:  time.Second,
	}
	g, hooks := newTestGate(cfg)
	g.Start()

	g.OnSTTResult(invalidResult())
	g.OnSTTResult(invalidResult())
	g.OnSTTResult(validResult())

	// Finish the turn and come back to LISTENING.
	g.OnReasoningReply("answer")
	g.OnPlaybackComplete()
	waitForState(t, g, StateListening)

	g.OnSTTResult(invalidResult())
	g.OnSTTResult(invalidResult())
	if hooks.noticeCount() != 0 {
		t.Errorf("Expected rejection run reset by valid result, got %d notices", hooks.noticeCount())
	}
}

func TestGate_ReasoningTimeout(t *testing.T) {
	cfg := &Config{
		Cooldown:         20 * time.Millisecond,
		RejectionLimit:   3,
		ReasoningTimeout: 30 * time.Millisecond,
		PlaybackTimeout:  time.Second,
	}
	g, hooks := newTestGate(cfg)
	g.Start()
	g.OnSTTResult(validResult())

	waitForState(t, g, StateListening)

	if hooks.errorCount() != 1 {
		t.Fatalf("Expected 1 session error, got %d", hooks.errorCount())
	}
	hooks.mu.Lock()
	kind := hooks.errors[0]
	hooks.mu.Unlock()
	if kind != ErrorReasoningTimeout {
		t.Errorf("Expected %q, got %q", ErrorReasoningTimeout, kind)
	}

	// A reply that finally arrives after the timeout belongs to a dead
	// turn and must not start playback.
	g.OnReasoningReply("late answer")
	if hooks.playbackCount() != 0 {
		t.Errorf("Expected late reply dropped, got %d playbacks", hooks.playbackCount())
	}
	if g.State() != StateListening {
		t.Errorf("Expected LISTENING after late reply, got %v", g.State())
	}
}

func TestGate_ReasoningFailure(t *testing.T) {
	g, hooks := newTestGate(nil)
	g.Start()
	g.OnSTTResult(validResult())

	g.OnReasoningFailure(ErrorReasoningFailed)

	if g.State() != StateListening {
		t.Errorf("Expected LISTENING after failure, got %v", g.State())
	}
	if hooks.errorCount() != 1 {
		t.Errorf("Expected 1 session error, got %d", hooks.errorCount())
	}
	if hooks.playbackCount() != 0 {
		t.Errorf("Expected no playback after failure, got %d", hooks.playbackCount())
	}
}

func TestGate_DuplicatePlaybackComplete(t *testing.T) {
	g, _ := newTestGate(nil)
	g.Start()
	g.OnSTTResult(validResult())
	g.OnReasoningReply("answer")

	g.OnPlaybackComplete()
	g.OnPlaybackComplete()
	g.OnPlaybackComplete()

	waitForState(t, g, StateListening)
}

func TestGate_BargeIn(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BargeInEnabled = true
	g, hooks := newTestGate(cfg)
	g.Start()
	g.OnSTTResult(validResult())
	g.OnReasoningReply("a long answer the user talks over")

	g.OnBargeIn()

	if g.State() != StateCooldown {
		t.Errorf("Expected COOLDOWN after barge-in, got %v", g.State())
	}
	if hooks.cancelCount() != 1 {
		t.Errorf("Expected playback cancelled, got %d cancels", hooks.cancelCount())
	}

	// The mic reopens once the echo tail is absorbed.
	waitForState(t, g, StateListening)
}

func TestGate_BargeInDisabled(t *testing.T) {
	g, hooks := newTestGate(nil)
	g.Start()
	g.OnSTTResult(validResult())
	g.OnReasoningReply("answer")

	g.OnBargeIn()

	if g.State() != StateSpeaking {
		t.Errorf("Expected SPEAKING with barge-in disabled, got %v", g.State())
	}
	if hooks.cancelCount() != 0 {
		t.Errorf("Expected no cancel, got %d", hooks.cancelCount())
	}
}

func TestGate_PlaybackWatchdog(t *testing.T) {
	cfg := &Config{
		Cooldown:         20 * time.Millisecond,
		RejectionLimit:   3,
		ReasoningTimeout: time.Second,
		PlaybackTimeout:  30 * time.Millisecond,
	}
	g, hooks := newTestGate(cfg)
	g.Start()
	g.OnSTTResult(validResult())
	g.OnReasoningReply("answer the client never acknowledges")

	// The client never reports completion; the watchdog must force the
	// turn closed.
	waitForState(t, g, StateListening)

	if hooks.cancelCount() != 1 {
		t.Errorf("Expected forced cancel, got %d", hooks.cancelCount())
	}
}

func TestGate_Terminate(t *testing.T) {
	g, hooks := newTestGate(nil)
	g.Start()
	g.OnSTTResult(validResult())
	g.OnReasoningReply("answer")

	g.Terminate()

	if g.State() != StateIdle {
		t.Errorf("Expected IDLE after terminate, got %v", g.State())
	}
	if hooks.cancelCount() != 1 {
		t.Errorf("Expected in-flight playback cancelled, got %d", hooks.cancelCount())
	}

	// Terminate is idempotent and later events are ignored.
	g.Terminate()
	g.OnSTTResult(validResult())
	g.OnPlaybackComplete()
	if g.State() != StateIdle {
		t.Errorf("Expected IDLE to be terminal, got %v", g.State())
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "IDLE"},
		{StateListening, "LISTENING"},
		{StatePendingReasoning, "PENDING_REASONING"},
		{StateSpeaking, "SPEAKING"},
		{StateCooldown, "COOLDOWN"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
