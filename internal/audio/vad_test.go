package audio

import (
	"testing"
)

func frames(amplitude int16, n int) []int16 {
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = amplitude
	}
	return samples
}

func TestVADDetector_ProcessFrame_Speech(t *testing.T) {
	vad := NewVADDetector(&VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   10,
		OnsetFrames:     1,
	})

	samples := frames(5000, 160) // 20ms at 8kHz, high amplitude

	for i := 0; i < 5; i++ {
		isSpeaking, speechStarted, _ := vad.ProcessFrame(samples)
		if !isSpeaking {
			t.Errorf("Expected speech detection on frame %d", i)
		}
		if i == 0 && !speechStarted {
			t.Error("Expected speech to start on first frame")
		}
	}
}

func TestVADDetector_ProcessFrame_Silence(t *testing.T) {
	vad := NewVADDetector(&VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   10,
		OnsetFrames:     1,
	})

	samples := frames(10, 160)

	for i := 0; i < 15; i++ {
		isSpeaking, _, _ := vad.ProcessFrame(samples)
		if isSpeaking {
			t.Errorf("Expected silence on frame %d", i)
		}
	}
}

func TestVADDetector_SpeechToSilence(t *testing.T) {
	vad := NewVADDetector(&VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   10,
		OnsetFrames:     1,
	})

	highSamples := frames(5000, 160)
	lowSamples := frames(10, 160)

	for i := 0; i < 5; i++ {
		isSpeaking, _, _ := vad.ProcessFrame(highSamples)
		if !isSpeaking {
			t.Errorf("Expected speech detection on frame %d", i)
		}
	}

	speechEnded := false
	for i := 0; i < 15; i++ {
		_, _, ended := vad.ProcessFrame(lowSamples)
		if ended {
			speechEnded = true
			break
		}
	}

	if !speechEnded {
		t.Error("Expected speech to end after silence frames")
	}
}

func TestVADDetector_OnsetDebounce(t *testing.T) {
	// Barge-in style config: sustained speech required before onset fires.
	vad := NewVADDetector(&VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   10,
		OnsetFrames:     4,
	})

	loud := frames(5000, 160)
	quiet := frames(10, 160)

	// Three loud frames then a quiet one must not trigger onset.
	for i := 0; i < 3; i++ {
		if _, started, _ := vad.ProcessFrame(loud); started {
			t.Fatalf("Onset fired after only %d frames", i+1)
		}
	}
	if _, started, _ := vad.ProcessFrame(quiet); started {
		t.Fatal("Onset fired on a quiet frame")
	}

	// Four sustained loud frames trigger exactly one onset.
	onsets := 0
	for i := 0; i < 6; i++ {
		if _, started, _ := vad.ProcessFrame(loud); started {
			onsets++
		}
	}
	if onsets != 1 {
		t.Errorf("Expected exactly 1 onset, got %d", onsets)
	}
}

func TestVADDetector_Reset(t *testing.T) {
	vad := NewVADDetector(nil)

	vad.ProcessFrame(frames(5000, 160))
	if !vad.IsSpeaking() {
		t.Fatal("Expected speech to be detected")
	}

	vad.Reset()
	if vad.IsSpeaking() {
		t.Error("Expected speech state to be false after reset")
	}
}

func TestDefaultVADConfig(t *testing.T) {
	config := DefaultVADConfig()
	if config.EnergyThreshold != 500.0 {
		t.Errorf("Expected default EnergyThreshold 500.0, got %f", config.EnergyThreshold)
	}
	if config.SilenceFrames != 10 {
		t.Errorf("Expected default SilenceFrames 10, got %d", config.SilenceFrames)
	}
}
