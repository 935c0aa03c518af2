package mcpserver_test

import (
	"context"
	"encoding/base64"
	"math"
	"sort"
	"sync"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/biosentry/biosentry/internal/audit"
	"github.com/biosentry/biosentry/internal/face"
	"github.com/biosentry/biosentry/internal/health"
	"github.com/biosentry/biosentry/internal/identity"
	"github.com/biosentry/biosentry/internal/keystore"
	"github.com/biosentry/biosentry/internal/mcpserver"
	"github.com/biosentry/biosentry/internal/model"
	"github.com/biosentry/biosentry/internal/vectorindex"
)

// fakeIndex is a minimal in-memory stand-in for [vectorindex.Index], kept
// local to this package so the tool-server tests don't require a live
// PostgreSQL connection.
type fakeIndex struct {
	mu         sync.Mutex
	records    map[string]model.UserRecord
	embeddings map[string][]float32
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{records: map[string]model.UserRecord{}, embeddings: map[string][]float32{}}
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
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// testHarness wires a real [mcpserver.Server] behind an in-memory MCP
// transport pair, connected to a throwaway keystore/audit sink under t.TempDir.
type testHarness struct {
	session  *mcpsdk.ClientSession
	keystore *keystore.Keystore
	health   *health.Registry
	token    string
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	ks, err := keystore.Open(keystore.Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("keystore.Open: %v", err)
	}
	clientID, secret, err := ks.CreateClient("test-client")
	if err != nil {
		t.Fatalf("CreateClient: %v", err)
	}
	token, err := ks.IssueToken(clientID, secret)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	auditSink, err := audit.New(audit.Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("audit.New: %v", err)
	}
	t.Cleanup(func() { auditSink.Close() })

	h := health.New()
	h.Update(model.ComponentFaceModel, model.StatusHealthy, "ok", nil)
	h.Update(model.ComponentVectorIndex, model.StatusHealthy, "ok", nil)
	h.Update(model.ComponentTokenAuthority, model.StatusHealthy, "ok", nil)

	svc := identity.New(identity.Options{
		Detector:          face.NewDeterministicDetector(),
		Index:             newFakeIndex(),
		Health:            h,
		Audit:             auditSink,
		DistanceThreshold: 0.4,
	})

	srv := mcpserver.New(mcpserver.Options{Keystore: ks, Identity: svc, Health: h, Audit: auditSink})

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()

	go func() {
		_, _ = srv.Connect(context.Background(), serverTransport)
	}()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(context.Background(), clientTransport, nil)
	if err != nil {
		t.Fatalf("client.Connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })

	return &testHarness{session: session, keystore: ks, health: h, token: token}
}

func testImageB64(seed byte) string {
	raw := make([]byte, 200)
	for i := range raw {
		raw[i] = seed
	}
	return base64.StdEncoding.EncodeToString(raw)
}

func callTool(t *testing.T, h *testHarness, name string, args map[string]any) map[string]any {
	t.Helper()
	res, err := h.session.CallTool(context.Background(), &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	out, ok := res.StructuredContent.(map[string]any)
	if !ok {
		t.Fatalf("CallTool(%s): structured content is %T, want map[string]any", name, res.StructuredContent)
	}
	return out
}

func TestRegisterThenRecognizeOverMCP(t *testing.T) {
	h := newHarness(t)

	regOut := callTool(t, h, "register_user", map[string]any{
		"access_token": h.token,
		"name":         "Ada Lovelace",
		"image_data":   testImageB64(5),
	})
	if regOut["status"] != "registered" {
		t.Fatalf("register status = %v, want registered", regOut["status"])
	}

	recOut := callTool(t, h, "recognize_face", map[string]any{
		"access_token": h.token,
		"image_data":   testImageB64(5),
	})
	if recOut["status"] != "recognized" {
		t.Fatalf("recognize status = %v, want recognized", recOut["status"])
	}
}

func TestRegisterUserRejectsBadAccessToken(t *testing.T) {
	h := newHarness(t)

	out := callTool(t, h, "register_user", map[string]any{
		"access_token": "not-a-real-token",
		"name":         "Ada Lovelace",
		"image_data":   testImageB64(5),
	})
	if out["status"] != "error" || out["kind"] != "unauthenticated" {
		t.Fatalf("out = %v, want status=error kind=unauthenticated", out)
	}
}

func TestRecognizeFaceUnavailableWhenVectorIndexDown(t *testing.T) {
	h := newHarness(t)
	h.health.Update(model.ComponentVectorIndex, model.StatusUnavailable, "down", nil)

	out := callTool(t, h, "recognize_face", map[string]any{
		"access_token": h.token,
		"image_data":   testImageB64(9),
	})
	if out["status"] != "error" || out["kind"] != "unavailable" {
		t.Fatalf("out = %v, want status=error kind=unavailable", out)
	}
}

func TestGetHealthStatusAlwaysAvailable(t *testing.T) {
	h := newHarness(t)
	h.health.Update(model.ComponentVectorIndex, model.StatusUnavailable, "down", nil)

	out := callTool(t, h, "get_health_status", map[string]any{"access_token": h.token})
	if out["overall"] == nil {
		t.Fatalf("out = %v, want an overall field", out)
	}
}
