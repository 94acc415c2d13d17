package audio

import (
	"testing"
	"time"
)

func TestUtteranceBuffer_WriteTake(t *testing.T) {
	buf := NewUtteranceBuffer(1024, 8000)

	n := buf.Write([]byte{1, 2, 3, 4})
	if n != 4 {
		t.Errorf("Expected 4 bytes written, got %d", n)
	}
	if buf.Len() != 4 {
		t.Errorf("Expected Len 4, got %d", buf.Len())
	}

	data := buf.Take()
	if len(data) != 4 {
		t.Errorf("Expected 4 bytes taken, got %d", len(data))
	}
	if buf.Len() != 0 {
		t.Errorf("Expected empty buffer after Take, got %d", buf.Len())
	}
}

func TestUtteranceBuffer_Cap(t *testing.T) {
	buf := NewUtteranceBuffer(8, 8000)

	if n := buf.Write(make([]byte, 6)); n != 6 {
		t.Fatalf("Expected 6 bytes written, got %d", n)
	}
	if n := buf.Write(make([]byte, 6)); n != 2 {
		t.Errorf("Expected 2 bytes written at cap, got %d", n)
	}
	if buf.Dropped() != 4 {
		t.Errorf("Expected 4 dropped bytes, got %d", buf.Dropped())
	}

	// Full buffer rejects everything.
	if n := buf.Write([]byte{9}); n != 0 {
		t.Errorf("Expected 0 bytes written when full, got %d", n)
	}
}

func TestUtteranceBuffer_Duration(t *testing.T) {
	buf := NewUtteranceBuffer(64000, 8000)

	// 8000 samples at 8kHz = 1 second = 16000 bytes of PCM16.
	buf.Write(make([]byte, 16000))
	if d := buf.Duration(); d != time.Second {
		t.Errorf("Expected 1s duration, got %v", d)
	}
}

func TestUtteranceBuffer_Reset(t *testing.T) {
	buf := NewUtteranceBuffer(1024, 8000)
	buf.Write([]byte{1, 2, 3, 4})
	buf.Reset()

	if buf.Len() != 0 {
		t.Errorf("Expected empty buffer after Reset, got %d", buf.Len())
	}
}
