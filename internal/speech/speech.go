// Package speech implements the five collaborators of the speech pipeline:
// fixed-duration microphone capture with RMS energy reporting, a silence
// gate, grammar-constrained and free-form transcription backed by
// whisper.cpp, wake-word matching, and a blocking text-to-speech call. Each
// collaborator is independently testable; voiceflow composes them behind a
// single orchestrator facade.
package speech

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/biosentry/biosentry/internal/audiodevice"
)

// Microphone captures raw audio samples from the local input device.
// Implementations must deliver exactly the requested duration at 16 kHz
// mono float32, normalised to [-1.0, 1.0] — the format whisper.cpp's
// Context.Process expects directly, with no PCM16 conversion step.
type Microphone interface {
	// CaptureSeconds blocks for the requested duration (plus scheduling
	// slack) and returns the captured samples.
	CaptureSeconds(ctx context.Context, duration time.Duration) ([]float32, error)
}

// Capture is the result of a single AudioInputDevice read.
type Capture struct {
	Samples []float32
	// Energy is the RMS level of Samples rescaled to the int16-equivalent
	// range used historically for silence calibration (0..32767), so a
	// SilenceDetector tuned against that scale applies unchanged to
	// float32 capture.
	Energy float64
}

// AudioInputDevice wraps a [Microphone], serializes capture against
// playback through the shared [audiodevice.Arbiter], and reports RMS
// energy alongside every capture.
type AudioInputDevice struct {
	mic     Microphone
	arbiter *audiodevice.Arbiter
}

// NewAudioInputDevice wraps mic. mic and arbiter must not be nil.
func NewAudioInputDevice(mic Microphone, arbiter *audiodevice.Arbiter) *AudioInputDevice {
	return &AudioInputDevice{mic: mic, arbiter: arbiter}
}

// Capture acquires the recording device, records duration worth of audio,
// and computes its energy. Returns audiodevice.ErrBusy if playback is
// already in progress.
func (d *AudioInputDevice) Capture(ctx context.Context, duration time.Duration) (Capture, error) {
	release, err := d.arbiter.AcquireForRecording(ctx)
	if err != nil {
		return Capture{}, fmt.Errorf("speech: acquire recording device: %w", err)
	}
	defer release()

	samples, err := d.mic.CaptureSeconds(ctx, duration)
	if err != nil {
		return Capture{}, fmt.Errorf("speech: capture audio: %w", err)
	}
	return Capture{Samples: samples, Energy: rmsEnergy(samples)}, nil
}

// rmsEnergy computes the root-mean-square level of float32 samples in
// [-1.0, 1.0], rescaled to the 0..32767 int16-equivalent range.
func rmsEnergy(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSq float64
	for _, s := range samples {
		v := float64(s) * 32768.0
		sumSq += v * v
	}
	return math.Sqrt(sumSq / float64(len(samples)))
}
