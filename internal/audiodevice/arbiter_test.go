package audiodevice

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests advance time deterministically without real sleeps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestAcquireFailsBusyWhileHeld(t *testing.T) {
	a := New(Options{TransitionDelay: 0})
	ctx := context.Background()

	release, err := a.AcquireForRecording(ctx)
	if err != nil {
		t.Fatalf("AcquireForRecording: %v", err)
	}
	defer release()

	if _, err := a.AcquireForPlayback(ctx); err != ErrBusy {
		t.Fatalf("second acquire error = %v, want ErrBusy", err)
	}
	if got := a.State(); got != StateRecording {
		t.Errorf("State() = %v, want recording", got)
	}
}

func TestReleaseReturnsToIdle(t *testing.T) {
	a := New(Options{TransitionDelay: 0})
	release, err := a.AcquireForPlayback(context.Background())
	if err != nil {
		t.Fatalf("AcquireForPlayback: %v", err)
	}
	release()
	if got := a.State(); got != StateIdle {
		t.Errorf("State() = %v, want idle", got)
	}
}

func TestTransitionDelayEnforcedBetweenOperations(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	a := New(Options{TransitionDelay: 500 * time.Millisecond, now: clk.Now})

	release, err := a.AcquireForRecording(context.Background())
	if err != nil {
		t.Fatalf("AcquireForRecording: %v", err)
	}
	release()

	// Immediately re-acquiring should block on the transition delay; with a
	// canceled-soon context it must return ctx.Err() rather than succeeding
	// instantly, proving the wait was scheduled.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := a.AcquireForPlayback(ctx); err == nil {
		t.Fatal("AcquireForPlayback: want context deadline error during settle wait, got nil")
	}
	if got := a.State(); got != StateIdle {
		t.Errorf("State() after canceled acquire = %v, want idle", got)
	}
}

func TestAcquireSucceedsImmediatelyAfterDelayElapsed(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	a := New(Options{TransitionDelay: 500 * time.Millisecond, now: clk.Now})

	release, err := a.AcquireForRecording(context.Background())
	if err != nil {
		t.Fatalf("AcquireForRecording: %v", err)
	}
	release()

	clk.Advance(600 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	release2, err := a.AcquireForPlayback(ctx)
	if err != nil {
		t.Fatalf("AcquireForPlayback after delay elapsed: %v", err)
	}
	release2()
}
