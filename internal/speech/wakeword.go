package speech

import "strings"

// WakeWordDetector matches a transcription against a configured wake-word
// list using exact case-insensitive phrase comparison.
type WakeWordDetector struct {
	words []string
}

// NewWakeWordDetector constructs a detector over words.
func NewWakeWordDetector(words []string) WakeWordDetector {
	return WakeWordDetector{words: append([]string(nil), words...)}
}

// Detect reports whether transcript exactly matches (case-insensitively)
// one of the configured wake words, and returns that word.
func (d WakeWordDetector) Detect(transcript string) (string, bool) {
	return matchPhrase(d.words, transcript)
}

// Words returns the configured wake-word phrase list, for building a
// grammar-mode Grammar that constrains wake-capture transcription to the
// same phrases this detector matches against.
func (d WakeWordDetector) Words() []string {
	return append([]string(nil), d.words...)
}

// matchPhrase returns the first phrase in phrases that case-insensitively
// equals transcript, trimmed of surrounding whitespace.
func matchPhrase(phrases []string, transcript string) (string, bool) {
	t := strings.TrimSpace(transcript)
	for _, p := range phrases {
		if strings.EqualFold(strings.TrimSpace(p), t) {
			return p, true
		}
	}
	return "", false
}
