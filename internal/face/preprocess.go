package face

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// decodeImage decodes raw bytes into an image, accepting JPEG, PNG, GIF and
// BMP. Failures come back as *DecodeError, never a panic.
func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return img, nil
}

// downscale shrinks img so neither edge exceeds maxEdge, preserving aspect
// ratio. Images already within bounds are returned unchanged.
func downscale(img image.Image, maxEdge int) image.Image {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	if w <= maxEdge && h <= maxEdge {
		return img
	}

	var nw, nh int
	if w > h {
		nw = maxEdge
		nh = h * maxEdge / w
	} else {
		nh = maxEdge
		nw = w * maxEdge / h
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// stretchTo resizes img to exactly w×h without preserving aspect ratio, the
// way the detection model expects its input.
func stretchTo(img image.Image, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Over, nil)
	return dst
}

// toCHW converts an RGBA image into a CHW float32 tensor with per-channel
// normalization: pixel = (pixel - mean) / std.
func toCHW(img *image.RGBA, mean, std float32) []float32 {
	bounds := img.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()

	data := make([]float32, 3*w*h)
	plane := w * h
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		for x := 0; x < w; x++ {
			idx := y*w + x
			data[idx] = (float32(row[x*4]) - mean) / std
			data[plane+idx] = (float32(row[x*4+1]) - mean) / std
			data[2*plane+idx] = (float32(row[x*4+2]) - mean) / std
		}
	}
	return data
}

// cropPadded extracts the face region with paddingFrac extra on every side,
// clamped to the image bounds. Returns nil for degenerate boxes.
func cropPadded(img image.Image, box [4]float32, paddingFrac float32) image.Image {
	bounds := img.Bounds()

	w := box[2] - box[0]
	h := box[3] - box[1]
	if w <= 0 || h <= 0 {
		return nil
	}

	x1 := int(box[0] - w*paddingFrac)
	y1 := int(box[1] - h*paddingFrac)
	x2 := int(box[2] + w*paddingFrac)
	y2 := int(box[3] + h*paddingFrac)

	if x1 < bounds.Min.X {
		x1 = bounds.Min.X
	}
	if y1 < bounds.Min.Y {
		y1 = bounds.Min.Y
	}
	if x2 > bounds.Max.X {
		x2 = bounds.Max.X
	}
	if y2 > bounds.Max.Y {
		y2 = bounds.Max.Y
	}
	if x2-x1 <= 0 || y2-y1 <= 0 {
		return nil
	}

	rect := image.Rect(x1, y1, x2, y2)
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Copy(dst, image.Point{}, img, rect, draw.Src, nil)
	return dst
}
