// Package model defines the data types shared across biosentry's
// subsystems: the biometric identity core, the authenticated tool surface,
// and the voice orchestrator. Centralising them here avoids circular imports
// between internal/identity, internal/vectorindex, internal/keystore, and
// internal/audit.
package model

import "time"

// EmbeddingDims is the fixed dimensionality of a face embedding vector.
const EmbeddingDims = 512

// UserRecord is the durable identity unit managed by the identity service.
type UserRecord struct {
	UserID                   string            `json:"user_id"`
	Name                     string            `json:"name"`
	Metadata                 map[string]string `json:"metadata,omitempty"`
	RegistrationTimestamp    time.Time         `json:"registration_timestamp"`
	LastRecognizedTimestamp  time.Time         `json:"last_recognized_timestamp,omitzero"`
	RecognitionCount         int64             `json:"recognition_count"`
	DetectionScore           float64           `json:"detection_score"`
	FaceQuality              FaceQuality       `json:"face_quality"`
}

// FaceQuality captures the quality metrics returned alongside an embedding.
type FaceQuality struct {
	BBoxArea  float64 `json:"bbox_area"`
	Sharpness float64 `json:"sharpness"`
	Pose      float64 `json:"pose"`
}

// Embedding pairs a raw L2-normalized vector with the record it belongs to.
// It never crosses the tool surface — only UserRecord (minus this field) does.
type Embedding struct {
	UserID string
	Vector []float32
}

// OAuthClient is a registered caller of the tool surface.
type OAuthClient struct {
	ClientID         string            `json:"client_id"`
	Name             string            `json:"name"`
	ClientSecretHash string            `json:"client_secret_hash"`
	SecretParams     ClientSecretParams `json:"secret_params"`
	Enabled          bool              `json:"enabled"`
	CreatedAt        time.Time         `json:"created_at"`
}

// ClientSecretParams records the Argon2id KDF parameters used to hash a
// client's secret, stored alongside the hash so verification stays correct
// even if the package defaults change later.
type ClientSecretParams struct {
	Time    uint32 `json:"time"`
	Memory  uint32 `json:"memory"`
	Threads uint8  `json:"threads"`
	SaltLen uint32 `json:"salt_len"`
	KeyLen  uint32 `json:"key_len"`
	Salt    []byte `json:"salt"`
}

// AuditOutcome enumerates the terminal outcome of an audited decision.
type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "success"
	OutcomeFailure AuditOutcome = "failure"
	OutcomeQueued  AuditOutcome = "queued"
	OutcomeDenied  AuditOutcome = "denied"
)

// AuditEvent is a single append-only record describing one decision taken
// by the system. It never carries embeddings or raw image bytes.
type AuditEvent struct {
	Timestamp        time.Time    `json:"ts"`
	EventType        string       `json:"event_type"`
	Outcome          AuditOutcome `json:"outcome"`
	ClientID         string       `json:"client_id"`
	UserID           string       `json:"user_id,omitempty"`
	UserName         string       `json:"user_name,omitempty"`
	ConfidenceScore  *float64     `json:"confidence_score,omitempty"`
	Threshold        *float64     `json:"threshold,omitempty"`
	BiometricData    map[string]any `json:"biometric_data,omitempty"`
	AdditionalInfo   map[string]any `json:"additional_info,omitempty"`
	ErrorMessage     string       `json:"error_message,omitempty"`
}

// ComponentStatus enumerates the health states tracked by the health registry.
type ComponentStatus string

const (
	StatusHealthy     ComponentStatus = "Healthy"
	StatusDegraded    ComponentStatus = "Degraded"
	StatusUnavailable ComponentStatus = "Unavailable"
)

// Worse returns the more severe of two statuses, where
// Unavailable > Degraded > Healthy.
func (s ComponentStatus) Worse(other ComponentStatus) ComponentStatus {
	rank := map[ComponentStatus]int{StatusHealthy: 0, StatusDegraded: 1, StatusUnavailable: 2}
	if rank[other] > rank[s] {
		return other
	}
	return s
}

// ComponentState is the current state of one monitored component.
type ComponentState struct {
	Status      ComponentStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	LastChecked time.Time       `json:"last_checked"`
	Error       string          `json:"error,omitempty"`
}

// Capabilities is the derived capability map published in health snapshots.
type Capabilities struct {
	CanRegister          bool `json:"can_register"`
	CanRecognize         bool `json:"can_recognize"`
	CanQueueRegistration bool `json:"can_queue_registration"`
}

// HealthSnapshot is the result of [health.Registry.Snapshot].
type HealthSnapshot struct {
	Overall      ComponentStatus            `json:"overall"`
	Components   map[string]ComponentState  `json:"components"`
	Capabilities Capabilities               `json:"capabilities"`
	QueuedCount  int                        `json:"queued_count"`
}

// Component name constants used as keys into the health registry.
const (
	ComponentFaceModel     = "face_model"
	ComponentVectorIndex   = "vector_index"
	ComponentTokenAuthority = "token_authority"
)

// QueuedRegistration is a registration request held while the vector index
// is degraded, to be drained once it recovers.
type QueuedRegistration struct {
	Timestamp time.Time
	Name      string
	ImageData []byte
	Metadata  map[string]string
}
