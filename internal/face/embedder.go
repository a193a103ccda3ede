package face

import (
	"fmt"
	"math"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	embInputSize = 112 // w600k_r50 expects 112×112 face crops
)

// embedder produces identity embeddings from aligned face crops.
type embedder struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

func newEmbedder(modelPath string) (*embedder, error) {
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, embInputSize, embInputSize))
	if err != nil {
		return nil, fmt.Errorf("create embedder input: %w", err)
	}

	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, DescriptorDim))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("create embedder output: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, []string{"683"},
		[]ort.Value{input}, []ort.Value{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}

	return &embedder{session: session, input: input, output: output}, nil
}

// embed runs the model on a CHW face tensor and returns an L2-normalized
// descriptor.
func (e *embedder) embed(tensor []float32) (Descriptor, error) {
	copy(e.input.GetData(), tensor)

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	raw := e.output.GetData()
	desc := make(Descriptor, DescriptorDim)
	var sum float64
	for i, v := range raw {
		desc[i] = float64(v)
		sum += float64(v) * float64(v)
	}

	if norm := math.Sqrt(sum); norm > 0 {
		for i := range desc {
			desc[i] /= norm
		}
	}
	return desc, nil
}

func (e *embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.input != nil {
		e.input.Destroy()
	}
	if e.output != nil {
		e.output.Destroy()
	}
}
