package face

import (
	"math"
	"testing"
)

func TestDistanceIdenticalDescriptorsIsZero(t *testing.T) {
	a := Descriptor{0.1, 0.2, 0.3, 0.4}
	if d := Distance(a, a); d != 0 {
		t.Fatalf("expected zero distance, got %f", d)
	}
}

func TestDistanceEuclidean(t *testing.T) {
	a := Descriptor{0, 0}
	b := Descriptor{3, 4}
	if d := Distance(a, b); math.Abs(d-5) > 1e-12 {
		t.Fatalf("expected distance 5, got %f", d)
	}
}

func TestDistanceSymmetric(t *testing.T) {
	a := Descriptor{1, 2, 3}
	b := Descriptor{4, 6, 8}
	if Distance(a, b) != Distance(b, a) {
		t.Fatal("distance must be symmetric")
	}
}

func TestDefaultMatchThreshold(t *testing.T) {
	if DefaultMatchThreshold != 0.5 {
		t.Fatalf("unexpected default threshold: %f", DefaultMatchThreshold)
	}
}
