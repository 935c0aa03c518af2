// Package health implements the process-wide health registry: a per-component
// state machine (Healthy/Degraded/Unavailable), the derived capability map
// that gates tool-surface operations, and the in-memory registration queue
// held while the vector index is degraded.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/biosentry/biosentry/internal/model"
	"github.com/biosentry/biosentry/internal/observe"
)

// ChangeFunc is invoked asynchronously whenever a component's status
// changes. Callbacks must not block — the registry runs each in its own
// goroutine.
type ChangeFunc func(component string, old, new model.ComponentState)

// Registry holds the [model.ComponentState] for every monitored component
// plus the [model.QueuedRegistration] FIFO. Safe for concurrent use.
type Registry struct {
	mu         sync.Mutex
	components map[string]model.ComponentState
	callbacks  []ChangeFunc
	queue      []model.QueuedRegistration
}

// New creates a [Registry] with every known component initialised to
// Unavailable until the first [Registry.Update] call.
func New() *Registry {
	now := time.Now().UTC()
	return &Registry{
		components: map[string]model.ComponentState{
			model.ComponentFaceModel:      {Status: model.StatusUnavailable, Message: "not yet probed", LastChecked: now},
			model.ComponentVectorIndex:    {Status: model.StatusUnavailable, Message: "not yet probed", LastChecked: now},
			model.ComponentTokenAuthority: {Status: model.StatusUnavailable, Message: "not yet probed", LastChecked: now},
		},
	}
}

// Update records a status transition for component. If the new status
// differs from the previous one, registered callbacks are invoked
// asynchronously.
func (r *Registry) Update(component string, status model.ComponentStatus, message string, cause error) {
	state := model.ComponentState{
		Status:      status,
		Message:     message,
		LastChecked: time.Now().UTC(),
	}
	if cause != nil {
		state.Error = cause.Error()
	}

	r.mu.Lock()
	old, existed := r.components[component]
	r.components[component] = state
	callbacks := append([]ChangeFunc(nil), r.callbacks...)
	r.mu.Unlock()

	if existed && old.Status == status {
		return
	}
	for _, cb := range callbacks {
		go cb(component, old, state)
	}
}

// RegisterCallback adds fn to the list invoked on every status change.
func (r *Registry) RegisterCallback(fn ChangeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, fn)
}

// Snapshot returns the current overall status, per-component states, derived
// capability map, and queue length.
func (r *Registry) Snapshot() model.HealthSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	components := make(map[string]model.ComponentState, len(r.components))
	overall := model.StatusHealthy
	for name, st := range r.components {
		components[name] = st
		overall = overall.Worse(st.Status)
	}

	face := r.components[model.ComponentFaceModel].Status
	vec := r.components[model.ComponentVectorIndex].Status

	caps := model.Capabilities{
		CanRegister:          face == model.StatusHealthy && (vec == model.StatusHealthy || vec == model.StatusDegraded),
		CanRecognize:         face == model.StatusHealthy && vec == model.StatusHealthy,
		CanQueueRegistration: face == model.StatusHealthy && vec == model.StatusDegraded,
	}

	return model.HealthSnapshot{
		Overall:      overall,
		Components:   components,
		Capabilities: caps,
		QueuedCount:  len(r.queue),
	}
}

// Enqueue appends reg to the registration queue. Callers are expected to
// only do this while vector_index is Degraded.
func (r *Registry) Enqueue(reg model.QueuedRegistration) (position int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = append(r.queue, reg)
	observe.DefaultMetrics().QueuedRegistrations.Add(context.Background(), 1)
	return len(r.queue)
}

// Drain removes and returns all queued registrations in enqueue (FIFO)
// order, leaving the queue empty. Intended to be called once by the
// identity service on a Degraded→Healthy transition.
func (r *Registry) Drain() []model.QueuedRegistration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.queue
	r.queue = nil
	if n := len(out); n > 0 {
		observe.DefaultMetrics().QueuedRegistrations.Add(context.Background(), int64(-n))
	}
	return out
}

// ClearQueue discards all queued registrations without draining them.
func (r *Registry) ClearQueue() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.queue); n > 0 {
		observe.DefaultMetrics().QueuedRegistrations.Add(context.Background(), int64(-n))
	}
	r.queue = nil
}

// QueueLen reports the current queue length without draining it.
func (r *Registry) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}
