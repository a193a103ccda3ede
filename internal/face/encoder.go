package face

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/faceponto/internal/observability"
)

const cropPaddingFrac = 0.1

// Normalization constants for the two model inputs.
const (
	detMean = 127.5
	detStd  = 128.0
	embMean = 127.5
	embStd  = 127.5
)

// EncoderConfig tunes the extraction pipeline.
type EncoderConfig struct {
	// ModelsDir must contain det_10g.onnx and w600k_r50.onnx.
	ModelsDir string
	// MaxImageEdge bounds the decoded image before detection.
	// Zero means DefaultMaxImageEdge.
	MaxImageEdge int
	// DetectionThreshold is the minimum face confidence. Zero keeps the
	// model default.
	DetectionThreshold float32
}

// Encoder is the ONNX-backed Extractor: decode, downscale, localize the most
// confident face, crop, embed. Safe for concurrent use; the underlying ONNX
// sessions reuse fixed input tensors, so inference is serialized.
type Encoder struct {
	det     *detector
	emb     *embedder
	maxEdge int
	logger  *zap.Logger
	mu      sync.Mutex
}

// NewEncoder loads both ONNX models. The ONNX runtime environment must have
// been initialized by the caller.
func NewEncoder(cfg EncoderConfig, logger *zap.Logger) (*Encoder, error) {
	maxEdge := cfg.MaxImageEdge
	if maxEdge <= 0 {
		maxEdge = DefaultMaxImageEdge
	}

	det, err := newDetector(filepath.Join(cfg.ModelsDir, "det_10g.onnx"), cfg.DetectionThreshold)
	if err != nil {
		return nil, err
	}

	emb, err := newEmbedder(filepath.Join(cfg.ModelsDir, "w600k_r50.onnx"))
	if err != nil {
		det.Close()
		return nil, err
	}

	return &Encoder{
		det:     det,
		emb:     emb,
		maxEdge: maxEdge,
		logger:  logger.Named("face_encoder"),
	}, nil
}

// Extract implements Extractor.
func (e *Encoder) Extract(ctx context.Context, imageData []byte) (Descriptor, error) {
	img, err := decodeImage(imageData)
	if err != nil {
		return nil, err
	}
	img = downscale(img, e.maxEdge)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	bounds := img.Bounds()
	start := time.Now()
	dets, err := e.det.detect(toCHW(stretchTo(img, detInputSize, detInputSize), detMean, detStd), bounds.Dx(), bounds.Dy())
	observability.ExtractionDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	if len(dets) == 0 {
		return nil, &NoFaceError{Reason: "Nenhum rosto detectado na imagem"}
	}

	// suppress returns confidence-ordered candidates; take the best one.
	best := dets[0]
	if len(dets) > 1 {
		e.logger.Debug("multiple faces located, using most confident",
			zap.Int("faces", len(dets)),
			zap.Float32("confidence", best.confidence))
	}

	crop := cropPadded(img, best.box, cropPaddingFrac)
	if crop == nil {
		return nil, &NoFaceError{Reason: "Nenhum rosto detectado na imagem"}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start = time.Now()
	desc, err := e.emb.embed(toCHW(stretchTo(crop, embInputSize, embInputSize), embMean, embStd))
	observability.ExtractionDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	return desc, nil
}

// Dim implements Extractor.
func (e *Encoder) Dim() int {
	return DescriptorDim
}

// Close releases the ONNX sessions.
func (e *Encoder) Close() {
	if e.det != nil {
		e.det.Close()
	}
	if e.emb != nil {
		e.emb.Close()
	}
}
