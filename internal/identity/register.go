package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/biosentry/biosentry/internal/face"
	"github.com/biosentry/biosentry/internal/model"
	"github.com/biosentry/biosentry/internal/observe"
)

// Register validates name, runs the face embedder, and either persists the
// new user, queues it while the vector index is degraded, or reports that a
// user with this name already exists.
func (s *Service) Register(ctx context.Context, clientID, name string, image []byte, metadata map[string]string) (RegisterResult, error) {
	if err := ValidateName(name); err != nil {
		s.auditLog(clientID, model.AuditEvent{EventType: "registration", Outcome: model.OutcomeDenied, ErrorMessage: err.Error()})
		return RegisterResult{}, err
	}
	base := slug(name)
	metadata = s.filterMetadata(metadata)

	analyzeStart := time.Now()
	result, err := s.detector.Analyze(image)
	observe.DefaultMetrics().FaceAnalysisDuration.Record(ctx, time.Since(analyzeStart).Seconds())
	if err != nil {
		kind := classifyFaceError(err)
		s.auditLog(clientID, model.AuditEvent{
			EventType:      "registration",
			Outcome:        model.OutcomeFailure,
			UserName:       name,
			ErrorMessage:   err.Error(),
			BiometricData:  map[string]any{"error_kind": kind},
		})
		return RegisterResult{}, err
	}

	snap := s.health.Snapshot()
	if !snap.Capabilities.CanRegister && !snap.Capabilities.CanQueueRegistration {
		err := errors.New("identity: registration unavailable")
		s.auditLog(clientID, model.AuditEvent{EventType: "registration", Outcome: model.OutcomeDenied, UserName: name, ErrorMessage: err.Error()})
		return RegisterResult{}, err
	}

	existing, findErr := s.findBySlug(ctx, base)
	if findErr == nil && existing != nil {
		s.auditLog(clientID, model.AuditEvent{EventType: "registration", Outcome: model.OutcomeSuccess, UserID: existing.UserID, UserName: name})
		return RegisterResult{Status: StatusAlreadyExists, User: *existing}, nil
	}

	if snap.Capabilities.CanQueueRegistration {
		position := s.health.Enqueue(model.QueuedRegistration{
			Timestamp: time.Now().UTC(),
			Name:      name,
			ImageData: image,
			Metadata:  metadata,
		})
		s.auditLog(clientID, model.AuditEvent{EventType: "registration", Outcome: model.OutcomeQueued, UserName: name})
		return RegisterResult{Status: StatusQueued, User: model.UserRecord{Name: name, Metadata: metadata}, QueuePosition: position}, nil
	}

	userID, err := s.nextUserID(ctx, base)
	if err != nil {
		return RegisterResult{}, fmt.Errorf("identity: generate user_id: %w", err)
	}

	rec := model.UserRecord{
		UserID:                userID,
		Name:                  name,
		Metadata:              metadata,
		RegistrationTimestamp: time.Now().UTC(),
		DetectionScore:        result.DetectionScore,
		FaceQuality: model.FaceQuality{
			BBoxArea:  result.Quality.BBoxArea,
			Sharpness: result.Quality.Sharpness,
			Pose:      result.Quality.Pose,
		},
	}
	if err := s.index.Upsert(ctx, rec, result.Embedding); err != nil {
		s.health.Update(model.ComponentVectorIndex, model.StatusDegraded, "upsert failed", err)
		position := s.health.Enqueue(model.QueuedRegistration{Timestamp: time.Now().UTC(), Name: name, ImageData: image, Metadata: metadata})
		s.auditLog(clientID, model.AuditEvent{EventType: "registration", Outcome: model.OutcomeQueued, UserName: name, ErrorMessage: err.Error()})
		return RegisterResult{Status: StatusQueued, User: model.UserRecord{Name: name, Metadata: metadata}, QueuePosition: position}, nil
	}

	s.auditLog(clientID, model.AuditEvent{
		EventType:     "registration",
		Outcome:       model.OutcomeSuccess,
		UserID:        userID,
		UserName:      name,
		BiometricData: map[string]any{"detection_score": result.DetectionScore},
	})
	return RegisterResult{Status: StatusRegistered, User: rec}, nil
}

// classifyFaceError maps a [face.Detector] error to the error-kind tag used
// in audit biometric_data; callers at the tool boundary perform the actual
// kind→validation mapping for the client-visible response.
func classifyFaceError(err error) string {
	switch {
	case errors.Is(err, face.ErrNoFaceDetected):
		return "no_face_detected"
	case errors.Is(err, face.ErrMultipleFaces):
		return "multiple_faces"
	case errors.Is(err, face.ErrDecodeFailed):
		return "decode_error"
	case errors.Is(err, face.ErrModelUnavailable):
		return "model_unavailable"
	default:
		return "unknown"
	}
}
