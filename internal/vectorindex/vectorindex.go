// Package vectorindex implements the persistent HNSW cosine-distance index
// over 512-d face embeddings, plus the side metadata store keyed by
// user_id, backed by PostgreSQL + pgvector.
package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/biosentry/biosentry/internal/face"
	"github.com/biosentry/biosentry/internal/model"
)

// ErrNotFound is returned by [Index.Get], [Index.Delete], and
// [Index.UpdateMetadata] when no row matches the given user_id.
var ErrNotFound = errors.New("vectorindex: user not found")

// Match is one result row from [Index.Query].
type Match struct {
	UserID   string
	Distance float64
}

// Index is a pgvector-backed nearest-neighbor index over 512-d embeddings
// with a co-located metadata store. Safe for concurrent use. Index does not
// serialize writes itself: each statement runs on whichever pool connection
// is free, so concurrent writers reach PostgreSQL in parallel.
type Index struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, registers the pgvector wire codec on every new
// connection, and ensures the schema exists.
func Open(ctx context.Context, dsn string) (*Index, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: parse dsn: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: connect: %w", err)
	}

	idx := &Index{pool: pool}
	if err := idx.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

// Close releases the underlying connection pool.
func (idx *Index) Close() { idx.pool.Close() }

func (idx *Index) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}',
			embedding vector(%d) NOT NULL,
			registration_timestamp TIMESTAMPTZ NOT NULL,
			last_recognized_timestamp TIMESTAMPTZ,
			recognition_count BIGINT NOT NULL DEFAULT 0,
			detection_score DOUBLE PRECISION NOT NULL,
			face_quality JSONB NOT NULL DEFAULT '{}'
		)`, face.Dims),
		`CREATE INDEX IF NOT EXISTS users_embedding_hnsw_idx
			ON users USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := idx.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("vectorindex: migrate: %w", err)
		}
	}
	return nil
}

// Upsert inserts the record for user_id, writing the vector and its
// metadata in one row. If user_id already exists, it overwrites name,
// metadata, embedding, last_recognized_timestamp and recognition_count,
// and keeps the existing registration_timestamp, detection_score and
// face_quality.
func (idx *Index) Upsert(ctx context.Context, rec model.UserRecord, embedding []float32) error {
	metaJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("vectorindex: marshal metadata: %w", err)
	}
	qualJSON, err := json.Marshal(rec.FaceQuality)
	if err != nil {
		return fmt.Errorf("vectorindex: marshal quality: %w", err)
	}

	_, err = idx.pool.Exec(ctx, `
		INSERT INTO users (user_id, name, metadata, embedding, registration_timestamp,
			last_recognized_timestamp, recognition_count, detection_score, face_quality)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			name = EXCLUDED.name,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding,
			last_recognized_timestamp = EXCLUDED.last_recognized_timestamp,
			recognition_count = EXCLUDED.recognition_count
	`, rec.UserID, rec.Name, metaJSON, pgvector.NewVector(embedding), rec.RegistrationTimestamp,
		nullTime(rec.LastRecognizedTimestamp), rec.RecognitionCount, rec.DetectionScore, qualJSON)
	if err != nil {
		return fmt.Errorf("vectorindex: upsert %q: %w", rec.UserID, err)
	}
	return nil
}

// UpdateMetadata updates name/metadata in place without touching the
// embedding. Returns [ErrNotFound] if user_id does not exist.
func (idx *Index) UpdateMetadata(ctx context.Context, userID, name string, metadata map[string]string) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("vectorindex: marshal metadata: %w", err)
	}
	tag, err := idx.pool.Exec(ctx, `UPDATE users SET name = $2, metadata = $3 WHERE user_id = $1`, userID, name, metaJSON)
	if err != nil {
		return fmt.Errorf("vectorindex: update %q: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchRecognition bumps recognition_count and last_recognized_timestamp
// atomically on a successful recognize.
func (idx *Index) TouchRecognition(ctx context.Context, userID string, at time.Time) error {
	tag, err := idx.pool.Exec(ctx, `
		UPDATE users SET recognition_count = recognition_count + 1, last_recognized_timestamp = $2
		WHERE user_id = $1
	`, userID, at)
	if err != nil {
		return fmt.Errorf("vectorindex: touch %q: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete atomically removes the vector and metadata row for user_id.
func (idx *Index) Delete(ctx context.Context, userID string) error {
	tag, err := idx.pool.Exec(ctx, `DELETE FROM users WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("vectorindex: delete %q: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Get returns the full record (minus embedding) for user_id.
func (idx *Index) Get(ctx context.Context, userID string) (model.UserRecord, error) {
	rows, _ := idx.pool.Query(ctx, `
		SELECT user_id, name, metadata, registration_timestamp, last_recognized_timestamp,
			recognition_count, detection_score, face_quality
		FROM users WHERE user_id = $1
	`, userID)
	rec, err := pgx.CollectExactlyOneRow(rows, scanUserRecord)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.UserRecord{}, ErrNotFound
		}
		return model.UserRecord{}, fmt.Errorf("vectorindex: get %q: %w", userID, err)
	}
	return rec, nil
}

// List returns up to limit records starting at offset, ordered by user_id,
// together with the total row count. The count and the page are read by two
// separate statements under read-committed semantics, so a concurrent write
// between them can make total disagree with the page.
func (idx *Index) List(ctx context.Context, offset, limit int) (total int, users []model.UserRecord, hasMore bool, err error) {
	if err := idx.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&total); err != nil {
		return 0, nil, false, fmt.Errorf("vectorindex: count: %w", err)
	}

	rows, _ := idx.pool.Query(ctx, `
		SELECT user_id, name, metadata, registration_timestamp, last_recognized_timestamp,
			recognition_count, detection_score, face_quality
		FROM users ORDER BY user_id LIMIT $1 OFFSET $2
	`, limit, offset)
	users, err = pgx.CollectRows(rows, scanUserRecord)
	if err != nil {
		return 0, nil, false, fmt.Errorf("vectorindex: list: %w", err)
	}
	return total, users, offset+len(users) < total, nil
}

// Query returns the k nearest neighbors of embedding by cosine distance.
func (idx *Index) Query(ctx context.Context, embedding []float32, k int) ([]Match, error) {
	rows, err := idx.pool.Query(ctx, `
		SELECT user_id, embedding <=> $1 AS distance
		FROM users ORDER BY distance LIMIT $2
	`, pgvector.NewVector(embedding), k)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: query: %w", err)
	}
	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Match, error) {
		var m Match
		err := row.Scan(&m.UserID, &m.Distance)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("vectorindex: query: %w", err)
	}
	return matches, nil
}

// Stats reports index size and configuration.
func (idx *Index) Stats(ctx context.Context) (count int, dims int, indexType string, err error) {
	if err := idx.pool.QueryRow(ctx, `SELECT count(*) FROM users`).Scan(&count); err != nil {
		return 0, 0, "", fmt.Errorf("vectorindex: stats: %w", err)
	}
	return count, face.Dims, "hnsw/vector_cosine_ops", nil
}

func scanUserRecord(row pgx.CollectableRow) (model.UserRecord, error) {
	var (
		rec        model.UserRecord
		metaJSON   []byte
		qualJSON   []byte
		lastRecog  *time.Time
	)
	if err := row.Scan(&rec.UserID, &rec.Name, &metaJSON, &rec.RegistrationTimestamp, &lastRecog,
		&rec.RecognitionCount, &rec.DetectionScore, &qualJSON); err != nil {
		return model.UserRecord{}, err
	}
	if lastRecog != nil {
		rec.LastRecognizedTimestamp = *lastRecog
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &rec.Metadata)
	}
	if len(qualJSON) > 0 {
		_ = json.Unmarshal(qualJSON, &rec.FaceQuality)
	}
	return rec, nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
