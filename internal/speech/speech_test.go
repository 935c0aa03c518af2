package speech_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/biosentry/biosentry/internal/audiodevice"
	"github.com/biosentry/biosentry/internal/speech"
)

// fakeMicrophone returns a fixed sample slice regardless of the requested
// duration, recording how it was called.
type fakeMicrophone struct {
	samples []float32
	err     error

	lastDuration time.Duration
}

func (m *fakeMicrophone) CaptureSeconds(_ context.Context, duration time.Duration) ([]float32, error) {
	m.lastDuration = duration
	return m.samples, m.err
}

func sineSamples(n int, amplitude float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = amplitude * float32(math.Sin(2*math.Pi*440*float64(i)/16000))
	}
	return out
}

func TestAudioInputDeviceReportsHighEnergyForSpeech(t *testing.T) {
	mic := &fakeMicrophone{samples: sineSamples(1600, 0.3)}
	dev := speech.NewAudioInputDevice(mic, audiodevice.New(audiodevice.Options{TransitionDelay: 0}))

	got, err := dev.Capture(context.Background(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if got.Energy < defaultSilenceThresholdForTest {
		t.Errorf("Energy = %v, want well above silence threshold", got.Energy)
	}
	if mic.lastDuration != 100*time.Millisecond {
		t.Errorf("lastDuration = %v, want 100ms", mic.lastDuration)
	}
}

func TestAudioInputDeviceReportsLowEnergyForSilence(t *testing.T) {
	mic := &fakeMicrophone{samples: make([]float32, 1600)}
	dev := speech.NewAudioInputDevice(mic, audiodevice.New(audiodevice.Options{TransitionDelay: 0}))

	got, err := dev.Capture(context.Background(), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if got.Energy != 0 {
		t.Errorf("Energy = %v, want 0 for silent buffer", got.Energy)
	}
}

func TestAudioInputDeviceBusyWhilePlaybackHeld(t *testing.T) {
	arbiter := audiodevice.New(audiodevice.Options{TransitionDelay: 0})
	release, err := arbiter.AcquireForPlayback(context.Background())
	if err != nil {
		t.Fatalf("AcquireForPlayback: %v", err)
	}
	defer release()

	dev := speech.NewAudioInputDevice(&fakeMicrophone{}, arbiter)
	if _, err := dev.Capture(context.Background(), time.Millisecond); !errors.Is(err, audiodevice.ErrBusy) {
		t.Fatalf("Capture error = %v, want ErrBusy", err)
	}
}

const defaultSilenceThresholdForTest = 300.0

func TestSilenceDetectorDefaultThreshold(t *testing.T) {
	d := speech.NewSilenceDetector(0)
	if !d.IsSilent(100) {
		t.Error("IsSilent(100) = false, want true below default 300")
	}
	if d.IsSilent(500) {
		t.Error("IsSilent(500) = true, want false above default 300")
	}
}

func TestWakeWordDetectorExactCaseInsensitiveMatch(t *testing.T) {
	d := speech.NewWakeWordDetector([]string{"hey sentry", "ok sentry"})

	if word, ok := d.Detect("Hey Sentry"); !ok || word != "hey sentry" {
		t.Errorf("Detect(%q) = (%q, %v), want (hey sentry, true)", "Hey Sentry", word, ok)
	}
	if _, ok := d.Detect("hey sentry please"); ok {
		t.Error("Detect with trailing words matched, want exact-phrase only")
	}
	if _, ok := d.Detect("goodbye"); ok {
		t.Error("Detect matched an unconfigured phrase")
	}
}
