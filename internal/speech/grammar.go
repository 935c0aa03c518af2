package speech

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidGrammarShape is returned by NewGrammar when the supplied JSON
// is not a bare array of phrase strings — wrapping it in an object (e.g.
// {"grammar": [...]}) is a terminal configuration error, not a runtime one.
var ErrInvalidGrammarShape = errors.New("speech: grammar must be a JSON array of phrase strings")

// Grammar is the fixed phrase list a grammar-mode TranscriptionEngine
// restricts its output to.
type Grammar struct {
	phrases []string
}

// NewGrammar parses raw as a JSON array of phrase strings. Any other JSON
// shape, including an object wrapping the array, returns
// ErrInvalidGrammarShape.
func NewGrammar(raw []byte) (Grammar, error) {
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Grammar{}, fmt.Errorf("speech: parse grammar: %w", err)
	}
	if _, ok := probe.([]any); !ok {
		return Grammar{}, ErrInvalidGrammarShape
	}

	var phrases []string
	if err := json.Unmarshal(raw, &phrases); err != nil {
		return Grammar{}, fmt.Errorf("speech: grammar array must contain only strings: %w", err)
	}
	return Grammar{phrases: phrases}, nil
}

// NewGrammarFromPhrases builds a Grammar directly from an in-memory phrase
// list, bypassing JSON parsing (used when phrases come from configuration
// already decoded as a string slice).
func NewGrammarFromPhrases(phrases []string) Grammar {
	return Grammar{phrases: append([]string(nil), phrases...)}
}

// Phrases returns the configured phrase list.
func (g Grammar) Phrases() []string { return g.phrases }
