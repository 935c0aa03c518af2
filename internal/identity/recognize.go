package identity

import (
	"context"
	"errors"
	"time"

	"github.com/biosentry/biosentry/internal/model"
	"github.com/biosentry/biosentry/internal/observe"
)

// Recognize embeds image and matches it against the index under threshold
// (cosine distance), used exactly as given — callers resolve the
// configured default themselves before calling, so an explicit 0 means
// "reject everything" rather than "use the default". A match updates
// last_recognized_timestamp and recognition_count.
func (s *Service) Recognize(ctx context.Context, clientID string, image []byte, threshold float64) (RecognizeResult, error) {
	snap := s.health.Snapshot()
	if !snap.Capabilities.CanRecognize {
		err := errors.New("identity: recognition unavailable")
		s.auditLog(clientID, model.AuditEvent{EventType: "recognition", Outcome: model.OutcomeDenied, ErrorMessage: err.Error()})
		observe.DefaultMetrics().RecordRecognitionAttempt(ctx, "denied")
		return RecognizeResult{}, err
	}

	analyzeStart := time.Now()
	result, err := s.detector.Analyze(image)
	observe.DefaultMetrics().FaceAnalysisDuration.Record(ctx, time.Since(analyzeStart).Seconds())
	if err != nil {
		kind := classifyFaceError(err)
		s.auditLog(clientID, model.AuditEvent{
			EventType:     "recognition",
			Outcome:       model.OutcomeFailure,
			ErrorMessage:  err.Error(),
			BiometricData: map[string]any{"error_kind": kind},
		})
		observe.DefaultMetrics().RecordRecognitionAttempt(ctx, "error")
		return RecognizeResult{}, err
	}

	matches, err := s.index.Query(ctx, result.Embedding, 1)
	if err != nil {
		s.health.Update(model.ComponentVectorIndex, model.StatusDegraded, "query failed", err)
		s.auditLog(clientID, model.AuditEvent{EventType: "recognition", Outcome: model.OutcomeFailure, ErrorMessage: err.Error()})
		observe.DefaultMetrics().RecordRecognitionAttempt(ctx, "error")
		return RecognizeResult{}, err
	}

	if len(matches) == 0 || matches[0].Distance > threshold {
		s.auditLog(clientID, model.AuditEvent{
			EventType: "recognition",
			Outcome:   model.OutcomeSuccess,
			Threshold: ptrFloat(threshold),
		})
		observe.DefaultMetrics().RecordRecognitionAttempt(ctx, "not_recognized")
		return RecognizeResult{Status: StatusNotRecognized}, nil
	}

	best := matches[0]
	now := time.Now().UTC()
	if err := s.index.TouchRecognition(ctx, best.UserID, now); err != nil {
		return RecognizeResult{}, err
	}

	rec, err := s.index.Get(ctx, best.UserID)
	if err != nil {
		return RecognizeResult{}, err
	}

	s.auditLog(clientID, model.AuditEvent{
		EventType:       "recognition",
		Outcome:         model.OutcomeSuccess,
		UserID:          rec.UserID,
		UserName:        rec.Name,
		ConfidenceScore: ptrFloat(1 - best.Distance/2),
		Threshold:       ptrFloat(threshold),
	})
	observe.DefaultMetrics().RecordRecognitionAttempt(ctx, "recognized")
	return RecognizeResult{Status: StatusRecognized, User: &rec, Distance: best.Distance}, nil
}

// SimilarityPercent converts a cosine distance to the user-facing
// similarity percentage used only by voice replies, per the data model's
// threshold-units decision: clamp(0,100, (1 − d/2) · 100).
func SimilarityPercent(distance float64) float64 {
	pct := (1 - distance/2) * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
