package scoring

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"

	"github.com/idemdrem-diagnosis-server/internal/domain"
)

// Default model input size.
const (
	DefaultInputWidth  = 224
	DefaultInputHeight = 224
)

// Per-channel normalization applied after scaling pixels to [0,1].
var (
	channelMean = [3]float32{0.485, 0.456, 0.406}
	channelStd  = [3]float32{0.229, 0.224, 0.225}
)

// Layout is the memory order of a preprocessed image tensor.
type Layout int

const (
	// LayoutNCHW is channels-first, used by ONNX exports.
	LayoutNCHW Layout = iota
	// LayoutNHWC is channels-last, used by TensorFlow models.
	LayoutNHWC
)

// Tensor is a single preprocessed RGB image with batch size 1.
type Tensor struct {
	Width  int
	Height int
	Layout Layout
	Data   []float32
}

// Shape returns the tensor dimensions including the batch axis.
func (t *Tensor) Shape() []int64 {
	if t.Layout == LayoutNHWC {
		return []int64{1, int64(t.Height), int64(t.Width), 3}
	}
	return []int64{1, 3, int64(t.Height), int64(t.Width)}
}

// Nested returns the tensor without the batch axis as nested slices, the form TF-Serving expects
// for one instance.
func (t *Tensor) Nested() any {
	if t.Layout == LayoutNHWC {
		rows := make([][][]float32, t.Height)
		for y := range rows {
			rows[y] = make([][]float32, t.Width)
			for x := range rows[y] {
				base := (y*t.Width + x) * 3
				rows[y][x] = t.Data[base : base+3]
			}
		}
		return rows
	}

	plane := t.Width * t.Height
	channels := make([][][]float32, 3)
	for c := range channels {
		channels[c] = make([][]float32, t.Height)
		for y := range channels[c] {
			start := c*plane + y*t.Width
			channels[c][y] = t.Data[start : start+t.Width]
		}
	}
	return channels
}

// Preprocess resizes the image with bilinear interpolation and normalizes every channel.
func Preprocess(img image.Image, width, height int, layout Layout) (*Tensor, error) {
	if img == nil {
		return nil, domain.NewInputError("image", "image is required", nil)
	}
	if width <= 0 {
		width = DefaultInputWidth
	}
	if height <= 0 {
		height = DefaultInputHeight
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)

	data := make([]float32, 3*width*height)
	plane := width * height
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			off := dst.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				v := (float32(dst.Pix[off+c])/255 - channelMean[c]) / channelStd[c]
				if layout == LayoutNHWC {
					data[(y*width+x)*3+c] = v
				} else {
					data[c*plane+y*width+x] = v
				}
			}
		}
	}

	return &Tensor{Width: width, Height: height, Layout: layout, Data: data}, nil
}

// Softmax converts logits into probabilities.
func Softmax(logits []float64) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	peak := logits[0]
	for _, v := range logits[1:] {
		if v > peak {
			peak = v
		}
	}
	sum := 0.0
	for i, v := range logits {
		out[i] = math.Exp(v - peak)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// ToScoreVector maps a model's raw output row onto its ordered label list. The row length must
// equal the label count and, after the optional softmax, every value must lie in [0,1].
func ToScoreVector(labels []string, row []float64, applySoftmax bool) (domain.ScoreVector, error) {
	if len(row) != len(labels) {
		return nil, fmt.Errorf("model returned %d scores for %d labels", len(row), len(labels))
	}
	if applySoftmax {
		row = Softmax(row)
	}

	vector := make(domain.ScoreVector, len(labels))
	for i, label := range labels {
		v := row[i]
		if math.IsNaN(v) || v < 0 || v > 1 {
			return nil, fmt.Errorf("score %v for %s is outside [0,1]", v, label)
		}
		id := domain.DiseaseID(label)
		if _, dup := vector[id]; dup {
			return nil, fmt.Errorf("duplicate label %s", label)
		}
		vector[id] = v
	}
	return vector, nil
}
