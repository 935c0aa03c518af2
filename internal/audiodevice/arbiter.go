// Package audiodevice implements the Audio Device Arbiter: a three-state
// (Idle/Recording/Playing) gate around the local microphone and speaker,
// enforcing a settle delay between back-to-back operations instead of the
// fixed sleeps that platform audio stacks otherwise need.
package audiodevice

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is one of the arbiter's three states.
type State int

const (
	StateIdle State = iota
	StateRecording
	StatePlaying
	stateTransitioning // internal: held during the settle-delay wait
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StatePlaying:
		return "playing"
	default:
		return "transitioning"
	}
}

// ErrBusy is returned when an acquire is attempted while the arbiter is not
// Idle.
var ErrBusy = errors.New("audiodevice: device busy")

const defaultTransitionDelay = 500 * time.Millisecond

// Arbiter serializes access to the local microphone/speaker. The zero value
// is not usable; create with [New].
type Arbiter struct {
	transitionDelay time.Duration
	now             func() time.Time

	mu          sync.Mutex
	state       State
	lastRelease time.Time
}

// Options configures [New].
type Options struct {
	// TransitionDelay is the minimum settle time enforced between a release
	// and the next acquisition. Defaults to 500ms.
	TransitionDelay time.Duration

	// now is overridden in tests for deterministic timing.
	now func() time.Time
}

// New constructs an [Arbiter] starting Idle.
func New(opts Options) *Arbiter {
	delay := opts.TransitionDelay
	if delay <= 0 {
		delay = defaultTransitionDelay
	}
	clock := opts.now
	if clock == nil {
		clock = time.Now
	}
	return &Arbiter{transitionDelay: delay, now: clock}
}

// State reports the current state without side effects.
func (a *Arbiter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == stateTransitioning {
		return StateIdle
	}
	return a.state
}

// Release is returned by a successful acquire; calling it transitions the
// arbiter back to Idle and records the release time used for the next
// transition-delay calculation.
type Release func()

// AcquireForRecording acquires the device for microphone capture, per
// [Arbiter.acquire].
func (a *Arbiter) AcquireForRecording(ctx context.Context) (Release, error) {
	return a.acquire(ctx, StateRecording)
}

// AcquireForPlayback acquires the device for speaker playback, per
// [Arbiter.acquire].
func (a *Arbiter) AcquireForPlayback(ctx context.Context) (Release, error) {
	return a.acquire(ctx, StatePlaying)
}

// acquire enforces Idle → target, failing Busy if another operation already
// holds the device, then waits out any remaining transition delay before
// transitioning. The wait is interruptible by ctx cancellation, in which
// case the arbiter reverts to Idle without ever having reached target.
func (a *Arbiter) acquire(ctx context.Context, target State) (Release, error) {
	a.mu.Lock()
	if a.state != StateIdle {
		a.mu.Unlock()
		return nil, ErrBusy
	}
	elapsed := a.now().Sub(a.lastRelease)
	wait := a.transitionDelay - elapsed
	a.state = stateTransitioning
	a.mu.Unlock()

	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			a.mu.Lock()
			a.state = StateIdle
			a.mu.Unlock()
			return nil, ctx.Err()
		}
	}

	a.mu.Lock()
	a.state = target
	a.mu.Unlock()

	var once sync.Once
	release := func() {
		once.Do(func() {
			a.mu.Lock()
			a.state = StateIdle
			a.lastRelease = a.now()
			a.mu.Unlock()
		})
	}
	return release, nil
}
