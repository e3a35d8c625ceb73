// Package preprocess turns uploaded leaf photographs into model input tensors.
package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"math"

	"github.com/Brownie44l1/plant-api/internal/model"
	"github.com/Brownie44l1/plant-api/internal/tensor"
)

// ErrDecode is returned when the bytes are not a supported image.
var ErrDecode = errors.New("image decode failed")

// Preprocessor converts raw image bytes into a [1,128,128,3] tensor.
type Preprocessor struct {
	logger *slog.Logger
}

// New creates a preprocessor. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Preprocessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preprocessor{logger: logger}
}

// Preprocess decodes data, drops any alpha channel, resizes to 128x128 with
// point-sampled bilinear interpolation and returns the float32 pixels unscaled (0-255)
// with a leading batch dimension.
func (p *Preprocessor) Preprocess(data []byte) (*tensor.Tensor, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, fmt.Errorf("%w: image has no pixels", ErrDecode)
	}
	p.logger.Debug("Decoded image",
		"format", format,
		"width", bounds.Dx(),
		"height", bounds.Dy(),
	)

	return FromImage(img), nil
}

// FromImage builds the model input tensor from an already decoded image.
func FromImage(img image.Image) *tensor.Tensor {
	plane, width, height := dropAlpha(img)

	out := tensor.Zeros(model.InputShape)
	resizeBilinear(plane, width, height, out.Data(), model.ImageSize, model.ImageSize)
	return out
}

// resizeBilinear point-samples src (HWC, 3 channels) into dst. Output pixel
// (x, y) reads source position (x*inW/outW, y*inH/outH) with corners
// unaligned and no antialiasing when shrinking, so results stay fractional.
func resizeBilinear(src []float64, inW, inH int, dst []float32, outW, outH int) {
	const ch = model.Channels

	rowScale := float64(inH) / float64(outH)
	colScale := float64(inW) / float64(outW)

	for y := 0; y < outH; y++ {
		sy := float64(y) * rowScale
		y0 := int(math.Floor(sy))
		y1 := min(inH-1, int(math.Ceil(sy)))
		fy := sy - float64(y0)

		for x := 0; x < outW; x++ {
			sx := float64(x) * colScale
			x0 := int(math.Floor(sx))
			x1 := min(inW-1, int(math.Ceil(sx)))
			fx := sx - float64(x0)

			tl := (y0*inW + x0) * ch
			tr := (y0*inW + x1) * ch
			bl := (y1*inW + x0) * ch
			br := (y1*inW + x1) * ch
			o := (y*outW + x) * ch

			for c := 0; c < ch; c++ {
				top := src[tl+c] + (src[tr+c]-src[tl+c])*fx
				bottom := src[bl+c] + (src[br+c]-src[bl+c])*fx
				dst[o+c] = float32(top + (bottom-top)*fy)
			}
		}
	}
}

// dropAlpha returns the straight (non-premultiplied) 8-bit RGB channels as an
// HWC plane. Alpha is discarded, not blended.
func dropAlpha(img image.Image) (plane []float64, width, height int) {
	bounds := img.Bounds()
	width, height = bounds.Dx(), bounds.Dy()
	plane = make([]float64, width*height*model.Channels)

	i := 0
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			plane[i] = float64(c.R)
			plane[i+1] = float64(c.G)
			plane[i+2] = float64(c.B)
			i += model.Channels
		}
	}

	return plane, width, height
}
