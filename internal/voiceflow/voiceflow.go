// Package voiceflow implements the Voice Orchestrators (C12): four
// multi-turn dialog flows — Recognize, Register, Update, Delete — each a
// small state machine whose transitions are a prompt-and-listen turn
// (speak, then capture and transcribe), a camera capture, or a tool call
// through the synchronous tool facade.
//
// Every flow is a sequential method on [Runner] rather than an
// event-driven router: unlike a conversational NPC that reacts to
// whichever utterance arrives next, a voice orchestrator flow always
// knows what it is waiting for at each step, so the turns are written out
// in order the way a script would be.
package voiceflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/biosentry/biosentry/internal/intent"
	"github.com/biosentry/biosentry/internal/observe"
	"github.com/biosentry/biosentry/internal/speech"
	"github.com/biosentry/biosentry/internal/toolclient"
)

// Camera captures a single still image on demand, encoded the same way
// toolclient.Client.RegisterUser/RecognizeFace expect (raw bytes, base64
// encoded by the facade). Like [speech.Microphone] and [speech.Speaker],
// this is a plain interface with no concrete hardware adapter shipped —
// no example repo talks to a local camera device, only Discord/WebRTC
// audio — leaving the adapter as the integration seam for whatever
// platform capture library an operator's build wires in.
type Camera interface {
	Capture(ctx context.Context) ([]byte, error)
}

// Transcriber is the narrow slice of [speech.TranscriptionEngine] a
// Runner needs. Declared as an interface here (rather than depending on
// the concrete type directly) so tests can substitute a fake — the
// engine's underlying whisper.cpp model has no test double of its own.
type Transcriber interface {
	Transcribe(samples []float32, mode speech.Mode, grammar speech.Grammar) (string, error)
}

// ToolCaller is the slice of [toolclient.Client] the voice flows call
// through. Declared as an interface so tests can substitute a fake
// instead of driving a real tool-server subprocess.
type ToolCaller interface {
	RegisterUser(ctx context.Context, name string, image []byte, metadata map[string]string) (toolclient.RegisterResult, error)
	RecognizeFace(ctx context.Context, image []byte, threshold float64) (toolclient.RecognizeResult, error)
	UpdateUser(ctx context.Context, userID string, name *string, metadata map[string]string) (toolclient.UpdateResult, error)
	DeleteUser(ctx context.Context, userID string) error
}

// ErrNoUtterance is returned by a content-capture turn (name, field
// value) when the speaker gives no usable response after one retry.
var ErrNoUtterance = errors.New("voiceflow: no utterance captured after retry")

// Compile-time check that the production tool facade satisfies ToolCaller.
var _ ToolCaller = (*toolclient.Client)(nil)

// Options configures a [Runner].
type Options struct {
	Mic         *speech.AudioInputDevice
	TTS         *speech.TextToSpeechEngine
	Transcriber Transcriber
	Wake        speech.WakeWordDetector
	Silence     speech.SilenceDetector
	Oracle      *intent.Oracle
	Tools       ToolCaller
	Camera      Camera

	// WakeCaptureDuration and FreeformCaptureDuration bound each
	// wake-word poll and each free-form listening turn respectively.
	WakeCaptureDuration     time.Duration
	FreeformCaptureDuration time.Duration

	Logger *slog.Logger
}

// Runner drives the four voice flows. Construct with [New]; the zero
// value is not usable.
type Runner struct {
	mic         *speech.AudioInputDevice
	tts         *speech.TextToSpeechEngine
	transcriber Transcriber
	wake        speech.WakeWordDetector
	wakeGrammar speech.Grammar
	silence     speech.SilenceDetector
	oracle      *intent.Oracle
	tools       ToolCaller
	camera      Camera

	wakeDuration     time.Duration
	freeformDuration time.Duration

	log *slog.Logger
}

// New constructs a Runner from opts, applying the same duration defaults
// [config.SpeechConfig] ships.
func New(opts Options) *Runner {
	wakeDuration := opts.WakeCaptureDuration
	if wakeDuration <= 0 {
		wakeDuration = 3 * time.Second
	}
	freeformDuration := opts.FreeformCaptureDuration
	if freeformDuration <= 0 {
		freeformDuration = 7 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		mic:              opts.Mic,
		tts:              opts.TTS,
		transcriber:      opts.Transcriber,
		wake:             opts.Wake,
		wakeGrammar:      speech.NewGrammarFromPhrases(opts.Wake.Words()),
		silence:          opts.Silence,
		oracle:           opts.Oracle,
		tools:            opts.Tools,
		camera:           opts.Camera,
		wakeDuration:     wakeDuration,
		freeformDuration: freeformDuration,
		log:              logger,
	}
}

// WaitForWakeWord blocks, polling the microphone in wake-capture-length
// windows, until a configured wake word is heard or ctx is cancelled.
func (r *Runner) WaitForWakeWord(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("voiceflow: %w", err)
		}

		transcript, err := r.captureWakeWord(ctx, r.wakeDuration)
		if err != nil {
			return fmt.Errorf("voiceflow: wake-word capture: %w", err)
		}
		if transcript == "" {
			continue
		}
		if _, ok := r.wake.Detect(transcript); ok {
			return nil
		}
	}
}

// beginSession marks one voice flow as in progress for the duration of the
// returned func's lifetime, which callers defer immediately. Each of the
// four Run* flows calls this once, right after the wake word is detected.
func (r *Runner) beginSession(ctx context.Context) func() {
	observe.DefaultMetrics().ActiveVoiceSessions.Add(ctx, 1)
	return func() {
		observe.DefaultMetrics().ActiveVoiceSessions.Add(ctx, -1)
	}
}

// say speaks text through the synchronous TTS engine.
func (r *Runner) say(ctx context.Context, text string) error {
	if err := r.tts.Speak(ctx, text); err != nil {
		return fmt.Errorf("voiceflow: speak: %w", err)
	}
	return nil
}

// captureWakeWord captures one wake-poll window and runs it through
// grammar-constrained decoding against the configured wake-word list
// (speech.ModeGrammar), so wake detection only ever has to recognize one
// of a small fixed phrase set rather than transcribe arbitrary speech.
// Falls back to free-form decoding if no wake words are configured.
func (r *Runner) captureWakeWord(ctx context.Context, duration time.Duration) (string, error) {
	capture, err := r.mic.Capture(ctx, duration)
	if err != nil {
		return "", fmt.Errorf("capture: %w", err)
	}
	if r.silence.IsSilent(capture.Energy) {
		return "", nil
	}
	mode := speech.ModeGrammar
	if len(r.wakeGrammar.Phrases()) == 0 {
		mode = speech.ModeFreeForm
	}
	text, err := r.transcriber.Transcribe(capture.Samples, mode, r.wakeGrammar)
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// captureAndTranscribe captures one free-form utterance, returning an
// empty string (not an error) when the capture is silence or produces no
// transcript — callers decide what an empty turn means for their flow.
func (r *Runner) captureAndTranscribe(ctx context.Context, duration time.Duration) (string, error) {
	capture, err := r.mic.Capture(ctx, duration)
	if err != nil {
		return "", fmt.Errorf("capture: %w", err)
	}
	if r.silence.IsSilent(capture.Energy) {
		return "", nil
	}
	text, err := r.transcriber.Transcribe(capture.Samples, speech.ModeFreeForm, speech.Grammar{})
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// listen prompts with text, then captures a free-form utterance, retrying
// the capture once if the first attempt is empty, per the voice-layer
// recovery policy (retry once, then give up). Returns ErrNoUtterance if
// both attempts are empty.
func (r *Runner) listen(ctx context.Context, prompt string) (string, error) {
	if err := r.say(ctx, prompt); err != nil {
		return "", err
	}

	transcript, err := r.captureAndTranscribe(ctx, r.freeformDuration)
	if err != nil {
		return "", fmt.Errorf("voiceflow: listen: %w", err)
	}
	if transcript != "" {
		return transcript, nil
	}

	transcript, err = r.captureAndTranscribe(ctx, r.freeformDuration)
	if err != nil {
		return "", fmt.Errorf("voiceflow: listen retry: %w", err)
	}
	if transcript == "" {
		return "", ErrNoUtterance
	}
	return transcript, nil
}

// ask prompts with text, listens once (no retry — an unparseable or
// empty reply is itself a valid Unclear answer), and classifies the
// reply through the intent oracle. destructive applies the
// Unclear→Negative safety rule.
func (r *Runner) ask(ctx context.Context, prompt string, destructive bool) (intent.Label, error) {
	if err := r.say(ctx, prompt); err != nil {
		return intent.Unclear, err
	}
	transcript, err := r.captureAndTranscribe(ctx, r.freeformDuration)
	if err != nil {
		return intent.Unclear, fmt.Errorf("voiceflow: ask: %w", err)
	}
	if destructive {
		return r.oracle.AskDestructive(ctx, transcript), nil
	}
	label, err := r.oracle.Ask(ctx, transcript)
	if err != nil {
		return intent.Unclear, fmt.Errorf("voiceflow: ask: %w", err)
	}
	return label, nil
}

// captureImage prompts with text, then triggers a single camera capture.
func (r *Runner) captureImage(ctx context.Context, prompt string) ([]byte, error) {
	if prompt != "" {
		if err := r.say(ctx, prompt); err != nil {
			return nil, err
		}
	}
	img, err := r.camera.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("voiceflow: capture image: %w", err)
	}
	return img, nil
}

// fieldChoice is the result of classifying which profile field(s) the
// user wants to change during the Update flow.
type fieldChoice int

const (
	fieldUnclear fieldChoice = iota
	fieldName
	fieldMetadata
	fieldBoth
)

// nameSynonyms and metadataSynonyms enumerate the phrases accepted for
// each field choice. bothSynonyms takes precedence over either single
// match so "both name and details" classifies as fieldBoth.
var (
	nameSynonyms     = []string{"name", "label", "username"}
	metadataSynonyms = []string{"metadata", "info", "information", "details", "notes"}
	bothSynonyms     = []string{"both", "all", "everything"}
)

// classifyField matches utterance against the enumerated field-choice
// synonym sets using the same substring-match idiom the intent oracle's
// keyword fallback uses, generalized from a two-way to a four-way
// classification.
func classifyField(utterance string) fieldChoice {
	lower := strings.ToLower(utterance)
	for _, kw := range bothSynonyms {
		if strings.Contains(lower, kw) {
			return fieldBoth
		}
	}
	matchedName := containsAny(lower, nameSynonyms)
	matchedMetadata := containsAny(lower, metadataSynonyms)
	switch {
	case matchedName && matchedMetadata:
		return fieldBoth
	case matchedName:
		return fieldName
	case matchedMetadata:
		return fieldMetadata
	default:
		return fieldUnclear
	}
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
