package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/biosentry/biosentry/internal/model"
	"github.com/biosentry/biosentry/internal/vectorindex"
)

// Update changes name and/or metadata for user_id without regenerating its
// identity — user_id is stable even when name changes. New metadata is
// unioned with existing values (round-trip law: keys overwritten, others
// preserved).
func (s *Service) Update(ctx context.Context, clientID, userID string, name *string, metadata map[string]string) (model.UserRecord, error) {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	rec, err := s.index.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, vectorindex.ErrNotFound) {
			s.auditLog(clientID, model.AuditEvent{EventType: "update", Outcome: model.OutcomeFailure, UserID: userID, ErrorMessage: "not found"})
			return model.UserRecord{}, ErrUserNotFound
		}
		return model.UserRecord{}, err
	}

	newName := rec.Name
	if name != nil {
		if err := ValidateName(*name); err != nil {
			s.auditLog(clientID, model.AuditEvent{EventType: "update", Outcome: model.OutcomeDenied, UserID: userID, ErrorMessage: err.Error()})
			return model.UserRecord{}, err
		}
		newName = *name
	}

	merged := make(map[string]string, len(rec.Metadata)+len(metadata))
	for k, v := range rec.Metadata {
		merged[k] = v
	}
	for k, v := range s.filterMetadata(metadata) {
		merged[k] = v
	}

	if err := s.index.UpdateMetadata(ctx, userID, newName, merged); err != nil {
		return model.UserRecord{}, fmt.Errorf("identity: update %q: %w", userID, err)
	}

	rec.Name = newName
	rec.Metadata = merged
	s.auditLog(clientID, model.AuditEvent{EventType: "update", Outcome: model.OutcomeSuccess, UserID: userID, UserName: newName})
	return rec, nil
}

// Delete atomically removes a user from the index and metadata store.
func (s *Service) Delete(ctx context.Context, clientID, userID string) error {
	lock := s.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.index.Delete(ctx, userID); err != nil {
		if errors.Is(err, vectorindex.ErrNotFound) {
			s.auditLog(clientID, model.AuditEvent{EventType: "deletion", Outcome: model.OutcomeFailure, UserID: userID, ErrorMessage: "not found"})
			return ErrUserNotFound
		}
		return fmt.Errorf("identity: delete %q: %w", userID, err)
	}
	s.auditLog(clientID, model.AuditEvent{EventType: "deletion", Outcome: model.OutcomeSuccess, UserID: userID})
	return nil
}

// List returns a stable, single-query snapshot of registered users.
func (s *Service) List(ctx context.Context, offset, limit int) (total int, users []model.UserRecord, hasMore bool, err error) {
	return s.index.List(ctx, offset, limit)
}

// GetProfile returns the full record (minus embedding, which never leaves
// [model.Embedding]) for user_id.
func (s *Service) GetProfile(ctx context.Context, userID string) (model.UserRecord, error) {
	rec, err := s.index.Get(ctx, userID)
	if errors.Is(err, vectorindex.ErrNotFound) {
		return model.UserRecord{}, ErrUserNotFound
	}
	return rec, err
}

// Stats reports the count and configuration of the underlying vector index.
func (s *Service) Stats(ctx context.Context) (count, dims int, indexType string, err error) {
	return s.index.Stats(ctx)
}
