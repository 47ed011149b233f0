package cache

import (
	"math"
	"testing"
)

func TestCosineIdentical(t *testing.T) {
	v := []float32{1, 2, 3}
	if got := Cosine(v, v); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("got %f, want 1.0", got)
	}
}

func TestCosineOrthogonal(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{0, 1}); math.Abs(got) > 1e-9 {
		t.Errorf("got %f, want 0", got)
	}
}

func TestCosineOpposite(t *testing.T) {
	if got := Cosine([]float32{1, 0}, []float32{-1, 0}); math.Abs(got+1.0) > 1e-9 {
		t.Errorf("got %f, want -1.0", got)
	}
}

func TestCosineSymmetric(t *testing.T) {
	a := []float32{0.3, -0.7, 0.2}
	b := []float32{0.1, 0.9, -0.4}
	if Cosine(a, b) != Cosine(b, a) {
		t.Error("cosine must be symmetric")
	}
}

func TestCosineLengthMismatch(t *testing.T) {
	if got := Cosine([]float32{1, 2}, []float32{1, 2, 3}); got != 0 {
		t.Errorf("got %f, want 0 for mismatched lengths", got)
	}
}

func TestCosineZeroMagnitude(t *testing.T) {
	if got := Cosine([]float32{0, 0}, []float32{1, 2}); got != 0 {
		t.Errorf("got %f, want 0 for zero-magnitude input", got)
	}
	if got := Cosine(nil, nil); got != 0 {
		t.Errorf("got %f, want 0 for empty input", got)
	}
}

func TestCosineBounded(t *testing.T) {
	a := []float32{3, -1, 2, 0.5}
	b := []float32{-2, 4, 1, 1}
	got := Cosine(a, b)
	if got < -1.0-1e-9 || got > 1.0+1e-9 {
		t.Errorf("got %f, want value in [-1, 1]", got)
	}
}
