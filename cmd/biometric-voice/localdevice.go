package main

import (
	"context"
	"fmt"
	"time"
)

// localMicrophone, localSpeaker, and localCamera are placeholder adapters
// for speech.Microphone, speech.Speaker, and voiceflow.Camera. No repo in
// the reference pack talks to local mic/speaker/camera hardware directly
// — glyphoxa only ever reads Discord's Opus stream and writes back into
// it. Wiring an actual platform capture/playback library (portaudio,
// malgo, gocv, v4l2) is the integration seam a real deployment fills in
// here; until then these return silence/no-op so the rest of the pipeline
// is exercisable end to end against a fake front door.

type localMicrophone struct{}

func newLocalMicrophone() *localMicrophone { return &localMicrophone{} }

// CaptureSeconds returns duration worth of silence at 16kHz mono. Replace
// with a real capture device before deploying against a microphone.
func (m *localMicrophone) CaptureSeconds(ctx context.Context, duration time.Duration) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := int(duration.Seconds() * 16000)
	if n < 0 {
		n = 0
	}
	return make([]float32, n), nil
}

type localSpeaker struct{}

func newLocalSpeaker() *localSpeaker { return &localSpeaker{} }

// Play is a no-op placeholder; a real deployment routes samples to an
// actual output device here.
func (s *localSpeaker) Play(ctx context.Context, samples []float32) error {
	return ctx.Err()
}

type localCamera struct{}

func newLocalCamera() *localCamera { return &localCamera{} }

// Capture always fails until a real capture device is wired in; the
// voice flows return a camera error to their caller and end the flow
// without retrying the capture.
func (c *localCamera) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("localdevice: no camera backend configured")
}
