package vectormath

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"minimemori/internal/errs"
)

func TestDotBasic(t *testing.T) {
	got, err := Dot([]float32{1, 2, 3}, []float32{4, 5, 6})
	if err != nil {
		t.Fatalf("Dot error: %v", err)
	}
	if got != 32 {
		t.Fatalf("Dot = %v, want 32", got)
	}
}

func TestDotDimensionMismatch(t *testing.T) {
	_, err := Dot([]float32{1, 2}, []float32{1, 2, 3})
	if !errors.Is(err, errs.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	_, err = Cosine([]float32{1}, []float32{1, 0})
	if !errors.Is(err, errs.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch from Cosine, got %v", err)
	}
}

func TestMagnitude(t *testing.T) {
	if got := Magnitude([]float32{3, 4}); got != 5 {
		t.Fatalf("Magnitude = %v, want 5", got)
	}
	if got := Magnitude([]float32{0, 0, 0}); got != 0 {
		t.Fatalf("Magnitude of zero vector = %v, want 0", got)
	}
}

func TestCosineSelfSimilarity(t *testing.T) {
	v := []float32{0.3, -1.2, 4.5, 0.01}
	got, err := Cosine(v, v)
	if err != nil {
		t.Fatalf("Cosine error: %v", err)
	}
	if math.Abs(got-1.0) > 1e-9 {
		t.Fatalf("self similarity = %v, want 1.0", got)
	}
}

func TestCosineSymmetry(t *testing.T) {
	a := []float32{1, 2, -3, 0.5}
	b := []float32{-2, 0.1, 7, 4}
	ab, err := Cosine(a, b)
	if err != nil {
		t.Fatalf("Cosine error: %v", err)
	}
	ba, err := Cosine(b, a)
	if err != nil {
		t.Fatalf("Cosine error: %v", err)
	}
	if ab != ba {
		t.Fatalf("cosine not symmetric: %v vs %v", ab, ba)
	}
}

func TestCosineZeroVector(t *testing.T) {
	got, err := Cosine([]float32{0, 0, 0}, []float32{1, 2, 3})
	if err != nil {
		t.Fatalf("Cosine error: %v", err)
	}
	if got != 0.0 {
		t.Fatalf("cosine with zero vector = %v, want exactly 0.0", got)
	}
}

func TestCosineOrthogonalAndOpposite(t *testing.T) {
	got, err := Cosine([]float32{1, 0}, []float32{0, 1})
	if err != nil {
		t.Fatalf("Cosine error: %v", err)
	}
	if math.Abs(got) > 1e-9 {
		t.Fatalf("orthogonal cosine = %v, want 0", got)
	}
	got, err = Cosine([]float32{1, 0}, []float32{-1, 0})
	if err != nil {
		t.Fatalf("Cosine error: %v", err)
	}
	if math.Abs(got+1.0) > 1e-9 {
		t.Fatalf("opposite cosine = %v, want -1", got)
	}
}

// High-dimensional vectors must stay numerically stable and inside [-1, 1]
// even though the accumulation runs over float32 inputs.
func TestCosineHighDimensionalStability(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const dim = 1536
	a := make([]float32, dim)
	b := make([]float32, dim)
	for i := 0; i < dim; i++ {
		a[i] = rng.Float32()*2 - 1
		b[i] = rng.Float32()*2 - 1
	}
	got, err := Cosine(a, b)
	if err != nil {
		t.Fatalf("Cosine error: %v", err)
	}
	if got < -1.0 || got > 1.0 {
		t.Fatalf("cosine %v out of [-1, 1]", got)
	}
	self, err := Cosine(a, a)
	if err != nil {
		t.Fatalf("Cosine error: %v", err)
	}
	if math.Abs(self-1.0) > 1e-6 {
		t.Fatalf("high-dim self similarity = %v, want 1.0", self)
	}
}
