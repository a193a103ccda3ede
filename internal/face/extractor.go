package face

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// DescriptorDim is the embedding length produced by the w600k_r50 ArcFace
// model. Stored descriptors always have exactly this length.
const DescriptorDim = 512

// DefaultMatchThreshold is the maximum Euclidean distance at which two
// descriptors are considered the same identity. Empirical default; tune via
// FACEPONTO_MATCH_THRESHOLD against your own false-accept/false-reject data.
const DefaultMatchThreshold = 0.5

// DefaultMaxImageEdge bounds input images before detection: anything with a
// longer edge is downscaled, trading small/far-face recall for throughput.
const DefaultMaxImageEdge = 800

// Descriptor is a point in embedding space summarizing one face.
type Descriptor []float64

// Extractor turns raw image bytes into a face descriptor.
type Extractor interface {
	// Extract returns the descriptor of the most confident face in the
	// image. It returns a *DecodeError for undecodable bytes and a
	// *NoFaceError when the image contains no detectable face.
	Extract(ctx context.Context, imageData []byte) (Descriptor, error)
	// Dim reports the descriptor length the extractor produces.
	Dim() int
}

// Distance is the Euclidean (L2) distance between two descriptors.
func Distance(a, b Descriptor) float64 {
	return floats.Distance(a, b, 2)
}

// NoFaceError reports that an otherwise valid image contained no detectable
// face. Reason is safe to show to callers.
type NoFaceError struct {
	Reason string
}

func (e *NoFaceError) Error() string {
	return e.Reason
}

// DecodeError reports that the submitted bytes do not form a valid image.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("invalid image: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
