package speech

import (
	"context"
	"fmt"
	"time"

	"github.com/biosentry/biosentry/internal/audiodevice"
	"github.com/biosentry/biosentry/internal/observe"
)

// Synthesizer turns text into playable audio samples. Implementations wrap
// a concrete backend (a local TTS server, a cloud API) the way the
// teacher's tts.Provider implementations (coqui, elevenlabs) wrap theirs,
// generalized here to a single request/response call instead of a
// streaming channel pair, since the pipeline only ever speaks one
// complete utterance at a time.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]float32, error)
}

// Speaker plays back audio samples on the local output device, blocking
// until playback completes.
type Speaker interface {
	Play(ctx context.Context, samples []float32) error
}

// TextToSpeechEngine performs a synchronous speak call: synthesize, then
// play, serialized against the microphone via the audio device arbiter so
// the pipeline never records and plays back at the same time.
type TextToSpeechEngine struct {
	synth   Synthesizer
	speaker Speaker
	arbiter *audiodevice.Arbiter
}

// NewTextToSpeechEngine constructs an engine. arbiter must not be nil.
func NewTextToSpeechEngine(synth Synthesizer, speaker Speaker, arbiter *audiodevice.Arbiter) *TextToSpeechEngine {
	return &TextToSpeechEngine{synth: synth, speaker: speaker, arbiter: arbiter}
}

// Speak synthesizes text and blocks until it has finished playing. The
// device is held for playback for the full duration of the call; Speak
// returns audiodevice.ErrBusy if the device is already recording or
// playing.
func (e *TextToSpeechEngine) Speak(ctx context.Context, text string) error {
	release, err := e.arbiter.AcquireForPlayback(ctx)
	if err != nil {
		return fmt.Errorf("speech: acquire playback device: %w", err)
	}
	defer release()

	start := time.Now()
	samples, err := e.synth.Synthesize(ctx, text)
	observe.DefaultMetrics().TTSDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("speech: synthesize: %w", err)
	}
	if err := e.speaker.Play(ctx, samples); err != nil {
		return fmt.Errorf("speech: play: %w", err)
	}
	return nil
}
