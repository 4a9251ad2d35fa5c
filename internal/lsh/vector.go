// Package lsh implements the approximate vector index: random-hyperplane
// locality-sensitive hashing banded into buckets, with exact cosine
// similarity left to the caller for final scoring.
package lsh

import "math"

// Vector is a dense embedding with its cached L2 norm.
type Vector struct {
	Values    []float32
	Magnitude float64
}

// NewVector validates v and caches its magnitude. It rejects empty vectors,
// vectors with NaN or infinite components and zero vectors.
func NewVector(v []float32) (Vector, bool) {
	if len(v) == 0 {
		return Vector{}, false
	}
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Vector{}, false
		}
		sum += f * f
	}
	mag := math.Sqrt(sum)
	if mag == 0 || math.IsInf(mag, 0) {
		return Vector{}, false
	}
	return Vector{Values: v, Magnitude: mag}, true
}

// Dim returns the vector dimension.
func (v Vector) Dim() int { return len(v.Values) }

// Cosine returns the cosine similarity of a and b in [-1, 1], or 0 when the
// dimensions differ or either vector is zero.
func Cosine(a, b Vector) float64 {
	if len(a.Values) != len(b.Values) || a.Magnitude == 0 || b.Magnitude == 0 {
		return 0
	}
	var dot float64
	for i := range a.Values {
		dot += float64(a.Values[i]) * float64(b.Values[i])
	}
	return dot / (a.Magnitude * b.Magnitude)
}
