package audio

import (
	"math"
	"testing"
)

func TestCalculateRMS(t *testing.T) {
	samples := []int16{1000, -1000, 2000, -2000}
	rms := CalculateRMS(samples)

	// sqrt((1000^2 + 1000^2 + 2000^2 + 2000^2) / 4)
	expected := 1581.14
	if math.Abs(rms-expected) > 1.0 {
		t.Errorf("Expected RMS around %.2f, got %.2f", expected, rms)
	}
}

func TestCalculateRMS_Empty(t *testing.T) {
	if rms := CalculateRMS(nil); rms != 0.0 {
		t.Errorf("Expected 0 RMS for empty samples, got %f", rms)
	}
}

func TestDetectSilence(t *testing.T) {
	if DetectSilence([]int16{5000, 5000, 5000}, 1000.0) {
		t.Error("Expected high energy samples to not be silence")
	}

	if !DetectSilence([]int16{10, 10, 10}, 1000.0) {
		t.Error("Expected low energy samples to be silence")
	}
}

func TestPCM16RoundTrip(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 12345, -12345}

	decoded, err := DecodePCM16(EncodePCM16(samples))
	if err != nil {
		t.Fatalf("DecodePCM16 failed: %v", err)
	}

	if len(decoded) != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), len(decoded))
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, samples[i], decoded[i])
		}
	}
}

func TestDecodePCM16_OddLength(t *testing.T) {
	if _, err := DecodePCM16([]byte{0x01, 0x02, 0x03}); err == nil {
		t.Error("Expected error for odd-length PCM data")
	}
}

func TestMulawRoundTrip(t *testing.T) {
	// μ-law is lossy; round-tripped samples must stay within segment
	// quantization error of the original.
	inputs := []int16{0, 100, -100, 1000, -1000, 8000, -8000}

	for _, in := range inputs {
		encoded := linearToMulaw(in)
		decoded := mulawToLinear(encoded)

		diff := math.Abs(float64(decoded) - float64(in))
		// Worst-case step size in the top segment is 256.
		if diff > 256 {
			t.Errorf("Sample %d round-tripped to %d (diff %.0f)", in, decoded, diff)
		}
	}
}

func TestConvertPCMToPCMU(t *testing.T) {
	samples := frames(1000, 480) // 20ms at 24kHz
	pcm := EncodePCM16(samples)

	pcmu, err := ConvertPCMToPCMU(pcm, 24000, 8000)
	if err != nil {
		t.Fatalf("ConvertPCMToPCMU failed: %v", err)
	}

	// 24kHz -> 8kHz is a 3:1 reduction, one μ-law byte per sample.
	if len(pcmu) != 160 {
		t.Errorf("Expected 160 PCMU bytes, got %d", len(pcmu))
	}
}

func TestConvertPCMToPCMU_Empty(t *testing.T) {
	if _, err := ConvertPCMToPCMU(nil, 24000, 8000); err == nil {
		t.Error("Expected error for empty PCM data")
	}
}

func TestConvertPCMUToPCM(t *testing.T) {
	pcmu := make([]byte, 160)
	for i := range pcmu {
		pcmu[i] = linearToMulaw(2000)
	}

	pcm, err := ConvertPCMUToPCM(pcmu)
	if err != nil {
		t.Fatalf("ConvertPCMUToPCM failed: %v", err)
	}
	if len(pcm) != 320 {
		t.Errorf("Expected 320 PCM bytes, got %d", len(pcm))
	}
}

func TestResample_SameRate(t *testing.T) {
	samples := frames(500, 160)
	out := Resample(samples, 8000, 8000)
	if len(out) != len(samples) {
		t.Errorf("Expected unchanged length %d, got %d", len(samples), len(out))
	}
}

func TestResample_Downsample(t *testing.T) {
	samples := frames(500, 480)
	out := Resample(samples, 24000, 8000)
	if len(out) != 160 {
		t.Errorf("Expected 160 samples after downsampling, got %d", len(out))
	}
}

func TestWrapWAV(t *testing.T) {
	pcm := EncodePCM16(frames(1000, 160))
	wav := WrapWAV(pcm, 8000)

	if len(wav) != 44+len(pcm) {
		t.Fatalf("Expected %d bytes, got %d", 44+len(pcm), len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		t.Error("Missing RIFF/WAVE markers")
	}
	if string(wav[36:40]) != "data" {
		t.Error("Missing data chunk marker")
	}
}
