// Package identity implements the Identity Service: the orchestration layer
// that composes the face embedder, vector index, health registry, and audit
// sink behind register/recognize/update/delete/list/stats operations.
package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/biosentry/biosentry/internal/audit"
	"github.com/biosentry/biosentry/internal/face"
	"github.com/biosentry/biosentry/internal/health"
	"github.com/biosentry/biosentry/internal/model"
	"github.com/biosentry/biosentry/internal/vectorindex"
)

// Index is the subset of [vectorindex.Index]'s operations the identity
// service depends on. Declared here (consumer side) so tests can supply an
// in-memory fake instead of a live PostgreSQL connection.
type Index interface {
	Upsert(ctx context.Context, rec model.UserRecord, embedding []float32) error
	UpdateMetadata(ctx context.Context, userID, name string, metadata map[string]string) error
	TouchRecognition(ctx context.Context, userID string, at time.Time) error
	Delete(ctx context.Context, userID string) error
	Get(ctx context.Context, userID string) (model.UserRecord, error)
	List(ctx context.Context, offset, limit int) (total int, users []model.UserRecord, hasMore bool, err error)
	Query(ctx context.Context, embedding []float32, k int) ([]vectorindex.Match, error)
	Stats(ctx context.Context) (count, dims int, indexType string, err error)
}

// Status values returned by [Service] operations.
const (
	StatusRegistered    = "registered"
	StatusQueued        = "queued"
	StatusAlreadyExists = "already_exists"
	StatusRecognized    = "recognized"
	StatusNotRecognized = "not_recognized"
	StatusOK            = "ok"
)

// Errors returned by [Service] operations, distinguished from tool-surface
// validation errors raised earlier at the boundary (C7).
var (
	ErrInvalidName    = errors.New("identity: invalid name")
	ErrUserNotFound   = errors.New("identity: user not found")
	ErrNameConflict   = errors.New("identity: name already exists")
)

var nameRe = regexp.MustCompile(`^[A-Za-z '.\-]{2,100}$`)

// RegisterResult is returned by [Service.Register].
type RegisterResult struct {
	Status        string
	User          model.UserRecord
	QueuePosition int
}

// RecognizeResult is returned by [Service.Recognize].
type RecognizeResult struct {
	Status   string
	User     *model.UserRecord
	Distance float64
}

// Service composes the biometric collaborators behind the operations the
// tool server exposes. Update and Delete of a given user_id are serialized
// through a per-id mutex, so they never interleave with each other.
// Register, Recognize, GetProfile, and List take no per-id lock and can
// run concurrently with an Update or Delete of the same id.
type Service struct {
	detector  face.Detector
	index     Index
	health    *health.Registry
	audit     *audit.Sink
	whitelist map[string]bool
	threshold float64

	userLocksMu sync.Mutex
	userLocks   map[string]*sync.Mutex
}

// Options configures [New].
type Options struct {
	Detector          face.Detector
	Index             Index
	Health            *health.Registry
	Audit             *audit.Sink
	MetadataWhitelist []string
	DistanceThreshold float64
}

// New constructs a [Service] from its collaborators.
func New(opts Options) *Service {
	wl := make(map[string]bool, len(opts.MetadataWhitelist))
	for _, k := range opts.MetadataWhitelist {
		wl[k] = true
	}
	threshold := opts.DistanceThreshold
	if threshold <= 0 {
		threshold = 0.4
	}
	return &Service{
		detector:  opts.Detector,
		index:     opts.Index,
		health:    opts.Health,
		audit:     opts.Audit,
		whitelist: wl,
		threshold: threshold,
		userLocks: make(map[string]*sync.Mutex),
	}
}

// DefaultThreshold returns the configured cosine-distance match cutoff
// used when a caller omits an explicit confidence_threshold.
func (s *Service) DefaultThreshold() float64 {
	return s.threshold
}

func (s *Service) lockFor(userID string) *sync.Mutex {
	s.userLocksMu.Lock()
	defer s.userLocksMu.Unlock()
	m, ok := s.userLocks[userID]
	if !ok {
		m = &sync.Mutex{}
		s.userLocks[userID] = m
	}
	return m
}

// ValidateName enforces the 2–100 char, restricted-charset rule from the
// data model.
func ValidateName(name string) error {
	if !nameRe.MatchString(name) {
		return ErrInvalidName
	}
	return nil
}

// filterMetadata drops any key not present in the configured whitelist.
func (s *Service) filterMetadata(in map[string]string) map[string]string {
	if len(s.whitelist) == 0 {
		return in
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		if s.whitelist[k] {
			out[k] = v
		}
	}
	return out
}

// slug lowercases name and replaces runs of non-alphanumerics with "_".
func slug(name string) string {
	var b strings.Builder
	prevUnderscore := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			prevUnderscore = false
		default:
			if !prevUnderscore {
				b.WriteByte('_')
				prevUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}

// nextUserID finds the smallest positive n making {slug}_{n} unique among
// existing user_ids, per the data model's id-generation rule. It queries
// List with a broad limit; callers hold no cross-operation lock, so two
// concurrent registrations of the same name can pick the same id, and the
// second Upsert then overwrites the first record.
func (s *Service) nextUserID(ctx context.Context, base string) (string, error) {
	existing := map[string]bool{}
	offset := 0
	const page = 100
	for {
		_, users, hasMore, err := s.index.List(ctx, offset, page)
		if err != nil {
			return "", fmt.Errorf("identity: list existing users: %w", err)
		}
		for _, u := range users {
			existing[u.UserID] = true
		}
		if !hasMore {
			break
		}
		offset += page
	}

	for n := 1; ; n++ {
		candidate := base + "_" + strconv.Itoa(n)
		if !existing[candidate] {
			return candidate, nil
		}
	}
}

// findBySlug returns the first existing user whose user_id is "{slug}_{n}"
// for an integer n, used to detect duplicate-name registrations.
func (s *Service) findBySlug(ctx context.Context, base string) (*model.UserRecord, error) {
	offset := 0
	const page = 100
	prefix := base + "_"
	for {
		_, users, hasMore, err := s.index.List(ctx, offset, page)
		if err != nil {
			return nil, err
		}
		for i := range users {
			if !strings.HasPrefix(users[i].UserID, prefix) {
				continue
			}
			if _, err := strconv.Atoi(strings.TrimPrefix(users[i].UserID, prefix)); err == nil {
				return &users[i], nil
			}
		}
		if !hasMore {
			return nil, nil
		}
		offset += page
	}
}

func ptrFloat(f float64) *float64 { return &f }

func (s *Service) auditLog(clientID string, evt model.AuditEvent) {
	evt.ClientID = clientID
	if s.audit != nil {
		s.audit.Log(evt)
	}
}
