package health_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/biosentry/biosentry/internal/health"
	"github.com/biosentry/biosentry/internal/model"
)

func TestSnapshotCapabilitiesHealthy(t *testing.T) {
	r := health.New()
	r.Update(model.ComponentFaceModel, model.StatusHealthy, "ok", nil)
	r.Update(model.ComponentVectorIndex, model.StatusHealthy, "ok", nil)
	r.Update(model.ComponentTokenAuthority, model.StatusHealthy, "ok", nil)

	snap := r.Snapshot()
	if snap.Overall != model.StatusHealthy {
		t.Errorf("Overall = %v, want Healthy", snap.Overall)
	}
	if !snap.Capabilities.CanRecognize || !snap.Capabilities.CanRegister {
		t.Errorf("capabilities = %+v, want both true", snap.Capabilities)
	}
	if snap.Capabilities.CanQueueRegistration {
		t.Error("CanQueueRegistration = true while vector_index Healthy, want false")
	}
}

func TestDegradedVectorIndexGatesRecognizeNotRegister(t *testing.T) {
	r := health.New()
	r.Update(model.ComponentFaceModel, model.StatusHealthy, "ok", nil)
	r.Update(model.ComponentVectorIndex, model.StatusDegraded, "store busy", errors.New("locked"))

	snap := r.Snapshot()
	if snap.Capabilities.CanRecognize {
		t.Error("CanRecognize = true with Degraded vector_index, want false")
	}
	if !snap.Capabilities.CanRegister {
		t.Error("CanRegister = false with Degraded vector_index, want true")
	}
	if !snap.Capabilities.CanQueueRegistration {
		t.Error("CanQueueRegistration = false with Degraded vector_index, want true")
	}
}

func TestUnavailableFaceModelGatesEverything(t *testing.T) {
	r := health.New()
	r.Update(model.ComponentFaceModel, model.StatusUnavailable, "model load failed", errors.New("oom"))
	r.Update(model.ComponentVectorIndex, model.StatusHealthy, "ok", nil)

	snap := r.Snapshot()
	if snap.Capabilities.CanRegister || snap.Capabilities.CanRecognize || snap.Capabilities.CanQueueRegistration {
		t.Errorf("capabilities = %+v, want all false", snap.Capabilities)
	}
	if snap.Overall != model.StatusUnavailable {
		t.Errorf("Overall = %v, want Unavailable", snap.Overall)
	}
}

func TestUpdateInvokesCallbackOnlyOnChange(t *testing.T) {
	r := health.New()
	var mu sync.Mutex
	var calls int
	var wg sync.WaitGroup

	r.RegisterCallback(func(component string, old, new model.ComponentState) {
		defer wg.Done()
		mu.Lock()
		calls++
		mu.Unlock()
	})

	wg.Add(1)
	r.Update(model.ComponentVectorIndex, model.StatusHealthy, "ok", nil)
	wg.Wait()

	// Same status again — must not fire the callback.
	r.Update(model.ComponentVectorIndex, model.StatusHealthy, "still ok", nil)
	time.Sleep(10 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("callback invoked %d times, want 1", calls)
	}
}

func TestEnqueueAndDrainPreservesFIFOOrder(t *testing.T) {
	r := health.New()
	r.Enqueue(model.QueuedRegistration{Name: "Alice"})
	r.Enqueue(model.QueuedRegistration{Name: "Bob"})
	r.Enqueue(model.QueuedRegistration{Name: "Carol"})

	if got := r.QueueLen(); got != 3 {
		t.Fatalf("QueueLen = %d, want 3", got)
	}

	drained := r.Drain()
	if len(drained) != 3 {
		t.Fatalf("Drain returned %d items, want 3", len(drained))
	}
	for i, want := range []string{"Alice", "Bob", "Carol"} {
		if drained[i].Name != want {
			t.Errorf("drained[%d].Name = %q, want %q", i, drained[i].Name, want)
		}
	}
	if got := r.QueueLen(); got != 0 {
		t.Errorf("QueueLen after drain = %d, want 0", got)
	}
}
