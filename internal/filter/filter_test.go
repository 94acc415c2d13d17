package filter

import (
	"regexp"
	"testing"

	"github.com/talkcoach/coach-gateway/internal/stt"
)

func TestClassify_EmptyText(t *testing.T) {
	f := New(nil)

	tests := []string{"", "   ", "\t\n", "  \n  "}
	for _, text := range tests {
		decision := f.Classify(&stt.Result{Text: text, Provider: stt.ProviderGoogle})
		if decision.Valid {
			t.Errorf("Classify(%q): expected invalid", text)
		}
		if decision.Reason != ReasonEmpty {
			t.Errorf("Classify(%q): expected reason %q, got %q", text, ReasonEmpty, decision.Reason)
		}
	}
}

func TestClassify_LexicalSignatures(t *testing.T) {
	f := New(nil)

	tests := []string{
		"Thank you.",
		"Thank you. Thank you!",
		"thank you thank you thank you",
		"Thanks.",
		"Thank you. Bye.",
		"Thanks for watching!",
		"You",
		"Bye.",
		"Bye bye!",
		"Goodbye.",
		"Subtitles by the Amara.org community",
		"MBC 뉴스",
	}

	for _, text := range tests {
		decision := f.Classify(&stt.Result{Text: text, Provider: stt.ProviderGoogle})
		if decision.Valid {
			t.Errorf("Classify(%q): expected invalid", text)
			continue
		}
		if decision.Reason != ReasonLexicalPatternMatch {
			t.Errorf("Classify(%q): expected reason %q, got %q", text, ReasonLexicalPatternMatch, decision.Reason)
		}
	}
}

func TestClassify_ShortThankYou(t *testing.T) {
	f := New(nil)

	// "thanks you" is not in the signature table but is a two-token
	// thank/you combination, so the heuristic catches it.
	decision := f.Classify(&stt.Result{Text: "thanks you", Provider: stt.ProviderGoogle})
	if decision.Valid {
		t.Fatal("Expected invalid")
	}
	if decision.Reason != ReasonShortThankYou {
		t.Errorf("Expected reason %q, got %q", ReasonShortThankYou, decision.Reason)
	}
}

func TestClassify_LongThankYouPasses(t *testing.T) {
	f := New(nil)

	// Five tokens: above the short-acknowledgment cutoff, and not an exact
	// signature, so it must pass.
	decision := f.Classify(&stt.Result{Text: "thank you so much really", Provider: stt.ProviderGoogle})
	if !decision.Valid {
		t.Errorf("Expected valid, got rejection %q", decision.Reason)
	}
}

func TestClassify_MetadataGate(t *testing.T) {
	f := New(nil)

	tests := []struct {
		name    string
		segment stt.Segment
		valid   bool
		reason  Reason
	}{
		{
			name:    "high no-speech probability",
			segment: stt.Segment{NoSpeechProb: 0.75, AvgLogProb: -0.3, CompressionRatio: 1.2},
			valid:   false,
			reason:  ReasonHighNoSpeechProb,
		},
		{
			name:    "low confidence",
			segment: stt.Segment{NoSpeechProb: 0.1, AvgLogProb: -1.5, CompressionRatio: 1.2},
			valid:   false,
			reason:  ReasonLowConfidence,
		},
		{
			name:    "high compression",
			segment: stt.Segment{NoSpeechProb: 0.1, AvgLogProb: -0.3, CompressionRatio: 3.0},
			valid:   false,
			reason:  ReasonHighCompression,
		},
		{
			name:    "clean segment",
			segment: stt.Segment{NoSpeechProb: 0.1, AvgLogProb: -0.3, CompressionRatio: 1.2},
			valid:   true,
			reason:  ReasonNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := &stt.Result{
				Text:     "let me walk through my answer",
				Provider: stt.ProviderWhisper,
				Segments: []stt.Segment{tt.segment},
			}

			decision := f.Classify(result)
			if decision.Valid != tt.valid {
				t.Errorf("Expected valid=%v, got %v", tt.valid, decision.Valid)
			}
			if decision.Reason != tt.reason {
				t.Errorf("Expected reason %q, got %q", tt.reason, decision.Reason)
			}
		})
	}
}

func TestClassify_MetadataGateShortCircuits(t *testing.T) {
	f := New(nil)

	// First segment violates no-speech; second violates compression. The
	// first violation in order wins.
	result := &stt.Result{
		Text:     "let me walk through my answer",
		Provider: stt.ProviderWhisper,
		Segments: []stt.Segment{
			{NoSpeechProb: 0.9, AvgLogProb: -0.3, CompressionRatio: 1.2},
			{NoSpeechProb: 0.1, AvgLogProb: -0.3, CompressionRatio: 5.0},
		},
	}

	decision := f.Classify(result)
	if decision.Reason != ReasonHighNoSpeechProb {
		t.Errorf("Expected first violation %q, got %q", ReasonHighNoSpeechProb, decision.Reason)
	}
}

func TestClassify_MetadataGateIsWhisperOnly(t *testing.T) {
	f := New(nil)

	// Same borderline metadata, non-whisper provider: the metadata gate
	// must not apply.
	result := &stt.Result{
		Text:     "let me walk through my answer",
		Provider: stt.ProviderGoogle,
		Segments: []stt.Segment{
			{NoSpeechProb: 0.9, AvgLogProb: -2.0, CompressionRatio: 5.0},
		},
	}

	decision := f.Classify(result)
	if !decision.Valid {
		t.Errorf("Expected valid for non-whisper provider, got rejection %q", decision.Reason)
	}
}

func TestClassify_WhisperWithoutSegments(t *testing.T) {
	f := New(nil)

	result := &stt.Result{
		Text:     "could you repeat the second step",
		Provider: stt.ProviderWhisper,
	}

	decision := f.Classify(result)
	if !decision.Valid {
		t.Errorf("Expected valid for whisper result without segments, got %q", decision.Reason)
	}
}

func TestClassify_ThresholdBoundaries(t *testing.T) {
	f := New(nil)

	// Exact threshold values are not violations; the comparisons are strict.
	result := &stt.Result{
		Text:     "let me walk through my answer",
		Provider: stt.ProviderWhisper,
		Segments: []stt.Segment{
			{NoSpeechProb: 0.6, AvgLogProb: -1.0, CompressionRatio: 2.4},
		},
	}

	decision := f.Classify(result)
	if !decision.Valid {
		t.Errorf("Expected valid at exact thresholds, got rejection %q", decision.Reason)
	}
}

func TestClassify_CustomSignatures(t *testing.T) {
	f := New(&Config{
		MaxNoSpeechProb:     0.6,
		MinAvgLogProb:       -1.0,
		MaxCompressionRatio: 2.4,
		MaxAckTokens:        3,
		Signatures:          []*regexp.Regexp{regexp.MustCompile(`^please subscribe$`)},
	})

	decision := f.Classify(&stt.Result{Text: "Please subscribe!", Provider: stt.ProviderGoogle})
	if decision.Reason != ReasonLexicalPatternMatch {
		t.Errorf("Expected custom signature match, got %q", decision.Reason)
	}

	// Default signatures are replaced, not appended.
	decision = f.Classify(&stt.Result{Text: "Goodbye.", Provider: stt.ProviderGoogle})
	if !decision.Valid {
		t.Errorf("Expected default signature to be inactive, got %q", decision.Reason)
	}
}

func TestCanonicalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Thank you. Thank you!", "thank you thank you"},
		{"  MBC   뉴스 ", "mbc"},
		{"Don't stop!", "dont stop"},
		{"123", ""},
		{"a  b\tc\nd", "a b c d"},
	}

	for _, tt := range tests {
		if got := Canonicalize(tt.in); got != tt.want {
			t.Errorf("Canonicalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
