// Package filter classifies speech-to-text results before they are trusted.
//
// Speech recognizers hallucinate on silence and noise: whisper-style decoders
// famously emit "Thank you." or broadcast-caption credits when fed dead air,
// and any provider can return empty or near-empty text. Forwarding those to
// the reasoning service makes the assistant answer questions nobody asked.
// The filter is a pure decision function with two independent gates: a
// provider-agnostic lexical gate over known hallucination signatures, and a
// whisper-only metadata gate over per-segment decoder statistics.
package filter

import (
	"regexp"
	"strings"

	"github.com/talkcoach/coach-gateway/internal/stt"
)

// Reason explains why a transcription was rejected.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonEmpty               Reason = "empty"
	ReasonLexicalPatternMatch Reason = "lexical_pattern_match"
	ReasonShortThankYou       Reason = "short_thank_you"
	ReasonHighNoSpeechProb    Reason = "high_no_speech_prob"
	ReasonLowConfidence       Reason = "low_confidence"
	ReasonHighCompression     Reason = "high_compression"
)

// Decision is the classification of one STT result. Produced once per
// result, never mutated, consumed once by the turn gate.
type Decision struct {
	Valid  bool
	Reason Reason
	Text   string
}

// Config holds the filter thresholds. The numeric cutoffs are empirically
// tuned; change them in deployment configuration, not here.
type Config struct {
	// MaxNoSpeechProb rejects segments the decoder itself considers
	// likely non-speech.
	MaxNoSpeechProb float64

	// MinAvgLogProb rejects segments decoded with low token confidence.
	MinAvgLogProb float64

	// MaxCompressionRatio rejects segments whose text compresses too well,
	// the signature of a decoder repetition loop.
	MaxCompressionRatio float64

	// MaxAckTokens is the token-count ceiling for the short thank-you
	// heuristic.
	MaxAckTokens int

	// Signatures overrides the default hallucination signature table when
	// non-nil. Patterns are matched in order against canonical text;
	// first match wins.
	Signatures []*regexp.Regexp
}

// DefaultConfig returns the tuned default thresholds.
func DefaultConfig() *Config {
	return &Config{
		MaxNoSpeechProb:     0.6,
		MinAvgLogProb:       -1.0,
		MaxCompressionRatio: 2.4,
		MaxAckTokens:        3,
	}
}

// defaultSignatures is the ordered hallucination signature table, matched
// against canonical text (lower-case, letters and spaces only). These are
// phrases whisper-style decoders produce from silence, plus broadcast
// caption credits leaked from training data.
var defaultSignatures = []*regexp.Regexp{
	regexp.MustCompile(`^(?:thank you ?)+$`),
	regexp.MustCompile(`^thanks$`),
	regexp.MustCompile(`^thank you bye$`),
	regexp.MustCompile(`^thanks for watching$`),
	regexp.MustCompile(`^you$`),
	regexp.MustCompile(`^(?:bye ?)+$`),
	regexp.MustCompile(`^goodbye$`),
	regexp.MustCompile(`subtitles by`),
	regexp.MustCompile(`\bamara\b`),
	regexp.MustCompile(`\bmbc\b`),
}

// Filter classifies STT results. Stateless and safe for concurrent use.
type Filter struct {
	config     *Config
	signatures []*regexp.Regexp
}

// New creates a filter. A nil config uses DefaultConfig.
func New(config *Config) *Filter {
	if config == nil {
		config = DefaultConfig()
	}
	signatures := config.Signatures
	if signatures == nil {
		signatures = defaultSignatures
	}
	return &Filter{config: config, signatures: signatures}
}

// Classify decides whether one STT result is usable. No side effects;
// deterministic given its input.
func (f *Filter) Classify(result *stt.Result) Decision {
	text := result.Text

	if strings.TrimSpace(text) == "" {
		return Decision{Valid: false, Reason: ReasonEmpty, Text: text}
	}

	canonical := Canonicalize(text)
	tokens := strings.Fields(canonical)

	// Lexical gate: provider-agnostic, first match wins.
	for _, sig := range f.signatures {
		if sig.MatchString(canonical) {
			return Decision{Valid: false, Reason: ReasonLexicalPatternMatch, Text: text}
		}
	}

	// Short-acknowledgment heuristic: catches low-content thank-you
	// variants the signature table doesn't list exactly.
	if len(tokens) <= f.config.MaxAckTokens && isShortThankYou(tokens) {
		return Decision{Valid: false, Reason: ReasonShortThankYou, Text: text}
	}

	// Metadata gate: only whisper-style decoders expose these statistics.
	if result.Provider == stt.ProviderWhisper && len(result.Segments) > 0 {
		for _, seg := range result.Segments {
			switch {
			case seg.NoSpeechProb > f.config.MaxNoSpeechProb:
				return Decision{Valid: false, Reason: ReasonHighNoSpeechProb, Text: text}
			case seg.AvgLogProb < f.config.MinAvgLogProb:
				return Decision{Valid: false, Reason: ReasonLowConfidence, Text: text}
			case seg.CompressionRatio > f.config.MaxCompressionRatio:
				return Decision{Valid: false, Reason: ReasonHighCompression, Text: text}
			}
		}
	}

	return Decision{Valid: true, Reason: ReasonNone, Text: text}
}

// Canonicalize lowers the text and strips everything except letters and
// spaces, producing the token form the lexical gates match against.
func Canonicalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r)
		case r == ' ' || r == '\t' || r == '\n':
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

func isShortThankYou(tokens []string) bool {
	hasThank := false
	hasYou := false
	for _, tok := range tokens {
		if tok == "thank" || tok == "thanks" {
			hasThank = true
		}
		if tok == "you" {
			hasYou = true
		}
	}
	return hasThank && hasYou
}
