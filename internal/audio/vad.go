package audio

// VADConfig holds configuration for voice activity detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceFrames   int     // consecutive silence frames to mark end of speech
	OnsetFrames     int     // consecutive speech frames before onset is reported (debounce)
}

// DefaultVADConfig returns a default VAD configuration tuned for
// 20ms frames of 8kHz telephone-band audio.
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   10, // 200ms of silence
		OnsetFrames:     1,
	}
}

// VADDetector performs energy-based voice activity detection.
//
// Two detectors are used per session: one segmenting utterances while the
// gate listens, and one with a higher threshold and longer onset debounce
// acting as the barge-in interrupt source while synthesized audio plays.
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	onsetCounter   int
	isSpeaking     bool
}

// NewVADDetector creates a new VAD detector
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	if config.OnsetFrames < 1 {
		config.OnsetFrames = 1
	}
	return &VADDetector{config: config}
}

// ProcessFrame processes an audio frame and returns whether speech is
// currently detected, whether speech just started, and whether it just ended.
func (v *VADDetector) ProcessFrame(samples []int16) (isSpeaking, speechStarted, speechEnded bool) {
	rms := CalculateRMS(samples)
	frameHasSpeech := rms > v.config.EnergyThreshold

	if frameHasSpeech {
		v.silenceCounter = 0

		if !v.isSpeaking {
			v.onsetCounter++
			if v.onsetCounter >= v.config.OnsetFrames {
				v.isSpeaking = true
				v.onsetCounter = 0
				speechStarted = true
			}
		}
	} else {
		v.onsetCounter = 0
		v.silenceCounter++

		if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
			v.isSpeaking = false
			v.silenceCounter = 0
			speechEnded = true
		}
	}

	return v.isSpeaking, speechStarted, speechEnded
}

// Reset resets the detector state
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.onsetCounter = 0
	v.isSpeaking = false
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}

// DetectSilence reports whether samples fall below the energy threshold.
func DetectSilence(samples []int16, threshold float64) bool {
	return CalculateRMS(samples) < threshold
}
