package face_test

import (
	"math"
	"testing"

	"github.com/biosentry/biosentry/internal/face"
)

func TestAnalyzeReturnsNormalizedEmbedding(t *testing.T) {
	d := face.NewDeterministicDetector()
	res, err := d.Analyze(make([]byte, 200))
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if len(res.Embedding) != face.Dims {
		t.Fatalf("len(Embedding) = %d, want %d", len(res.Embedding), face.Dims)
	}

	var sumSq float64
	for _, x := range res.Embedding {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if math.Abs(norm-1) > 1e-4 {
		t.Errorf("‖embedding‖₂ = %v, want ≈1", norm)
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	d := face.NewDeterministicDetector()
	img := []byte("same image bytes same image bytes same image bytes")
	r1, err := d.Analyze(img)
	if err != nil {
		t.Fatalf("Analyze (1): %v", err)
	}
	r2, err := d.Analyze(img)
	if err != nil {
		t.Fatalf("Analyze (2): %v", err)
	}
	for i := range r1.Embedding {
		if r1.Embedding[i] != r2.Embedding[i] {
			t.Fatalf("embeddings differ at index %d for identical input", i)
			break
		}
	}
}

func TestAnalyzeRejectsTooSmallImage(t *testing.T) {
	d := face.NewDeterministicDetector()
	if _, err := d.Analyze(make([]byte, 4)); err != face.ErrDecodeFailed {
		t.Errorf("Analyze(small) = %v, want ErrDecodeFailed", err)
	}
}
