package face

import (
	"fmt"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	detInputSize     = 640
	anchorsPerCell   = 2
	nmsIoUThreshold  = 0.45
	defaultDetThresh = 0.5
)

// detStrides are the feature-map strides of the det_10g SCRFD model.
var detStrides = []int{8, 16, 32}

// detection is one face candidate in original-image pixel coordinates.
type detection struct {
	box        [4]float32 // x1, y1, x2, y2
	confidence float32
}

// detector runs SCRFD face localization through ONNX Runtime. Only the score
// and bbox heads are fetched; landmarks are not needed for enrollment.
type detector struct {
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	scores    [3]*ort.Tensor[float32] // one per stride
	boxes     [3]*ort.Tensor[float32]
	threshold float32
}

func newDetector(modelPath string, threshold float32) (*detector, error) {
	if threshold <= 0 {
		threshold = defaultDetThresh
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, detInputSize, detInputSize))
	if err != nil {
		return nil, fmt.Errorf("create detector input: %w", err)
	}

	d := &detector{input: input, threshold: threshold}

	// det_10g heads per stride (no batch dimension in outputs):
	// 12800 = (640/8)^2 * 2, 3200 = (640/16)^2 * 2, 800 = (640/32)^2 * 2
	scoreNames := [3]string{"448", "471", "494"}
	boxNames := [3]string{"451", "474", "497"}
	rowCounts := [3]int64{12800, 3200, 800}

	outputNames := make([]string, 0, 6)
	outputValues := make([]ort.Value, 0, 6)
	for i := range detStrides {
		st, err := ort.NewEmptyTensor[float32](ort.NewShape(rowCounts[i], 1))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("create score tensor: %w", err)
		}
		d.scores[i] = st

		bt, err := ort.NewEmptyTensor[float32](ort.NewShape(rowCounts[i], 4))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("create bbox tensor: %w", err)
		}
		d.boxes[i] = bt

		outputNames = append(outputNames, scoreNames[i], boxNames[i])
		outputValues = append(outputValues, st, bt)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, outputNames,
		[]ort.Value{input}, outputValues, nil)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	d.session = session

	return d, nil
}

// detect runs the model on a CHW tensor and returns candidates scaled back to
// an origW×origH image, suppressed and sorted by confidence.
func (d *detector) detect(tensor []float32, origW, origH int) ([]detection, error) {
	copy(d.input.GetData(), tensor)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	scaleW := float32(origW) / detInputSize
	scaleH := float32(origH) / detInputSize

	var candidates []detection
	for si, stride := range detStrides {
		scores := d.scores[si].GetData()
		boxes := d.boxes[si].GetData()
		cells := detInputSize / stride

		for row := range scores {
			score := scores[row]
			if score < d.threshold {
				continue
			}

			// Anchor center from the row index: rows iterate cells in
			// raster order with anchorsPerCell rows per cell.
			cell := row / anchorsPerCell
			cx := float32(cell%cells) * float32(stride)
			cy := float32(cell/cells) * float32(stride)

			// Box head encodes distances from the anchor center to the
			// four edges, in stride units.
			st := float32(stride)
			candidates = append(candidates, detection{
				box: [4]float32{
					clamp((cx-boxes[row*4]*st)*scaleW, 0, float32(origW)),
					clamp((cy-boxes[row*4+1]*st)*scaleH, 0, float32(origH)),
					clamp((cx+boxes[row*4+2]*st)*scaleW, 0, float32(origW)),
					clamp((cy+boxes[row*4+3]*st)*scaleH, 0, float32(origH)),
				},
				confidence: score,
			})
		}
	}

	return suppress(candidates, nmsIoUThreshold), nil
}

func (d *detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	for _, t := range d.scores {
		if t != nil {
			t.Destroy()
		}
	}
	for _, t := range d.boxes {
		if t != nil {
			t.Destroy()
		}
	}
}

// suppress applies non-maximum suppression, keeping the highest-confidence
// candidate of each overlapping cluster. The result is confidence-ordered.
func suppress(dets []detection, iouThreshold float32) []detection {
	if len(dets) == 0 {
		return nil
	}

	sort.Slice(dets, func(i, j int) bool {
		return dets[i].confidence > dets[j].confidence
	})

	kept := dets[:0:0]
	for _, cand := range dets {
		overlaps := false
		for _, k := range kept {
			if iou(cand.box, k.box) > iouThreshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, cand)
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	ix := minF(a[2], b[2]) - maxF(a[0], b[0])
	iy := minF(a[3], b[3]) - maxF(a[1], b[1])
	if ix <= 0 || iy <= 0 {
		return 0
	}
	inter := ix * iy

	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minF(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
