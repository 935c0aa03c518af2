package speech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/biosentry/biosentry/internal/observe"
)

// Mode selects how a TranscriptionEngine constrains its output.
type Mode int

const (
	// ModeFreeForm runs the general decoder and returns its best
	// hypothesis verbatim.
	ModeFreeForm Mode = iota

	// ModeGrammar restricts output to an exact (case-insensitive) match
	// against a configured phrase list, returning "" on no match.
	ModeGrammar
)

// TranscriptionEngine runs whisper.cpp inference against a shared,
// once-loaded model. Each call opens its own whisper context — a context is
// not goroutine-safe but the underlying model is, matching the teacher's
// native.go session-per-inference pattern generalized to a single
// synchronous call instead of a streaming session.
type TranscriptionEngine struct {
	model    whisperlib.Model
	language string
}

// NewTranscriptionEngine loads the whisper.cpp model at modelPath. The
// caller must call Close when done.
func NewTranscriptionEngine(modelPath, language string) (*TranscriptionEngine, error) {
	if modelPath == "" {
		return nil, errors.New("speech: whisper model path must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("speech: load whisper model %q: %w", modelPath, err)
	}
	if language == "" {
		language = "en"
	}
	return &TranscriptionEngine{model: model, language: language}, nil
}

// Close releases the whisper model.
func (e *TranscriptionEngine) Close() error {
	if e.model == nil {
		return nil
	}
	return e.model.Close()
}

// Transcribe runs inference over samples. In ModeGrammar, grammar must be
// non-empty; the returned text is either one of grammar's phrases (matched
// case-insensitively against the decoder's raw hypothesis) or "" if none
// match.
func (e *TranscriptionEngine) Transcribe(samples []float32, mode Mode, grammar Grammar) (string, error) {
	if mode == ModeGrammar && len(grammar.Phrases()) == 0 {
		return "", errors.New("speech: grammar mode requires a non-empty phrase list")
	}

	start := time.Now()
	raw, err := e.infer(samples)
	observe.DefaultMetrics().STTDuration.Record(context.Background(), time.Since(start).Seconds())
	if err != nil {
		return "", err
	}

	if mode == ModeFreeForm {
		return raw, nil
	}

	matched, ok := matchPhrase(grammar.Phrases(), raw)
	if !ok {
		return "", nil
	}
	return matched, nil
}

// infer runs one whisper.cpp inference pass over samples and concatenates
// every emitted segment, mirroring the teacher's nativeSession.infer.
func (e *TranscriptionEngine) infer(samples []float32) (string, error) {
	wctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("speech: create whisper context: %w", err)
	}
	if err := wctx.SetLanguage(e.language); err != nil {
		return "", fmt.Errorf("speech: set language %q: %w", e.language, err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("speech: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("speech: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " "), nil
}
