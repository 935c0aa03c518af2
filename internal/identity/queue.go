package identity

import (
	"context"
	"log/slog"

	"github.com/biosentry/biosentry/internal/model"
)

// ProcessQueue drains the health registry's FIFO through the same
// semantics as Register, in enqueue order. Intended to be invoked by a
// health-registry callback on the vector_index Degraded→Healthy
// transition. Each item's outcome is surfaced individually via audit; a
// per-item failure does not stop the drain.
func (s *Service) ProcessQueue(ctx context.Context, clientID string) (succeeded, failed int) {
	items := s.health.Drain()
	for _, item := range items {
		res, err := s.Register(ctx, clientID, item.Name, item.ImageData, item.Metadata)
		if err != nil || res.Status == StatusQueued {
			failed++
			slog.Warn("identity: queue drain item failed", "name", item.Name, "error", err)
			s.auditLog(clientID, model.AuditEvent{
				EventType:    "registration",
				Outcome:      model.OutcomeFailure,
				UserName:     item.Name,
				ErrorMessage: "queue drain retry failed",
			})
			continue
		}
		succeeded++
	}
	return succeeded, failed
}

// RegisterQueueDrainCallback wires ProcessQueue as a health-registry
// callback that fires on vector_index's Degraded→Healthy transition.
func (s *Service) RegisterQueueDrainCallback(clientID string) {
	s.health.RegisterCallback(func(component string, old, new model.ComponentState) {
		if component != model.ComponentVectorIndex {
			return
		}
		if old.Status == model.StatusDegraded && new.Status == model.StatusHealthy {
			s.ProcessQueue(context.Background(), clientID)
		}
	})
}
