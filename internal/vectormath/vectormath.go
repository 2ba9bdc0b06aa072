// Package vectormath holds the pure scoring primitives used by retrieval.
// Inputs are []float32 as produced by embedding providers; accumulation runs
// in float64 so scores stay stable at embedding dimensionalities (1536+).
package vectormath

import (
	"fmt"
	"math"

	"minimemori/internal/errs"
)

// Dot returns the dot product of a and b. Lengths must match.
func Dot(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: dot %d vs %d", errs.ErrDimensionMismatch, len(a), len(b))
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum, nil
}

// Magnitude returns the Euclidean norm of v.
func Magnitude(v []float32) float64 {
	var sum float64
	for i := range v {
		sum += float64(v[i]) * float64(v[i])
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine similarity of a and b in [-1, 1]. A zero-magnitude
// operand yields exactly 0 so degenerate vectors neither rank above real
// matches nor produce NaN.
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: cosine %d vs %d", errs.ErrDimensionMismatch, len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// clamp float roundoff back into range
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return s, nil
}
