package identity_test

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/biosentry/biosentry/internal/model"
	"github.com/biosentry/biosentry/internal/vectorindex"
)

// fakeIndex is an in-memory stand-in for [vectorindex.Index] used to unit
// test the identity service without a live PostgreSQL connection.
type fakeIndex struct {
	mu         sync.Mutex
	records    map[string]model.UserRecord
	embeddings map[string][]float32
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		records:    map[string]model.UserRecord{},
		embeddings: map[string][]float32{},
	}
}

func (f *fakeIndex) Upsert(_ context.Context, rec model.UserRecord, embedding []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.UserID] = rec
	f.embeddings[rec.UserID] = embedding
	return nil
}

func (f *fakeIndex) UpdateMetadata(_ context.Context, userID, name string, metadata map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[userID]
	if !ok {
		return vectorindex.ErrNotFound
	}
	rec.Name = name
	rec.Metadata = metadata
	f.records[userID] = rec
	return nil
}

func (f *fakeIndex) TouchRecognition(_ context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[userID]
	if !ok {
		return vectorindex.ErrNotFound
	}
	rec.RecognitionCount++
	rec.LastRecognizedTimestamp = at
	f.records[userID] = rec
	return nil
}

func (f *fakeIndex) Delete(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[userID]; !ok {
		return vectorindex.ErrNotFound
	}
	delete(f.records, userID)
	delete(f.embeddings, userID)
	return nil
}

func (f *fakeIndex) Get(_ context.Context, userID string) (model.UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[userID]
	if !ok {
		return model.UserRecord{}, vectorindex.ErrNotFound
	}
	return rec, nil
}

func (f *fakeIndex) List(_ context.Context, offset, limit int) (int, []model.UserRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.records))
	for id := range f.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	total := len(ids)
	end := offset + limit
	if end > total {
		end = total
	}
	if offset > total {
		offset = total
	}
	out := make([]model.UserRecord, 0, end-offset)
	for _, id := range ids[offset:end] {
		out = append(out, f.records[id])
	}
	return total, out, end < total, nil
}

func (f *fakeIndex) Query(_ context.Context, embedding []float32, k int) ([]vectorindex.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	matches := make([]vectorindex.Match, 0, len(f.embeddings))
	for id, vec := range f.embeddings {
		matches = append(matches, vectorindex.Match{UserID: id, Distance: cosineDistance(embedding, vec)})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (f *fakeIndex) Stats(_ context.Context) (int, int, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records), 512, "fake", nil
}

func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return 1 - cos
}
