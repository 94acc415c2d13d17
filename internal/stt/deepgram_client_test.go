package stt

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/talkcoach/coach-gateway/internal/config"
)

func newTestDeepgramClient() *DeepgramClient {
	cfg := &config.Config{
		DeepgramAPIKey:             "test-key",
		DeepgramModel:              "nova-2",
		DeepgramLanguage:           "en",
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
	}
	return NewDeepgramClient(cfg, zerolog.Nop())
}

func TestDeepgramEmit(t *testing.T) {
	d := newTestDeepgramClient()

	if !d.emit(&Result{Text: "hello", Provider: ProviderOther}) {
		t.Fatal("Expected emit to deliver on an open channel")
	}
	got := <-d.Results()
	if got.Text != "hello" {
		t.Errorf("Unexpected result text %q", got.Text)
	}
}

func TestDeepgramEmitAfterClose(t *testing.T) {
	d := newTestDeepgramClient()

	if err := d.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Callbacks can land after shutdown; wait out the drain window and
	// make sure a late result is dropped instead of sent.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		d.mu.RLock()
		closed := d.closed
		d.mu.RUnlock()
		if closed {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if d.emit(&Result{Text: "late", Provider: ProviderOther}) {
		t.Error("Expected late result to be dropped after close")
	}
	if _, ok := <-d.Results(); ok {
		t.Error("Expected results channel drained and closed")
	}
}
