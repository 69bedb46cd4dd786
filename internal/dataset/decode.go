package dataset

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"cae-forge/internal/model"
	"cae-forge/internal/tensor"
)

// ColorMode selects the number of channels images are loaded with.
type ColorMode string

const (
	Grayscale ColorMode = "grayscale"
	RGB       ColorMode = "rgb"
)

// ErrInvalidColorMode is returned for modes other than grayscale and rgb.
var ErrInvalidColorMode = errors.New("dataset: invalid color mode")

// ParseColorMode accepts a color mode in any case.
func ParseColorMode(s string) (ColorMode, error) {
	switch m := ColorMode(strings.ToLower(s)); m {
	case Grayscale, RGB:
		return m, nil
	}
	return "", errors.Wrapf(ErrInvalidColorMode, "%q", s)
}

// Channels is 1 for grayscale and 3 for rgb.
func (m ColorMode) Channels() int {
	if m == RGB {
		return 3
	}
	return 1
}

// DecodeOptions controls how raw image bytes become network input.
type DecodeOptions struct {
	Shape         model.Shape
	Color         ColorMode
	Preprocessing model.Preprocessing
}

// decodeRaw decodes, resizes with nearest-neighbour sampling and converts the
// color mode. Values stay in [0, 255].
func decodeRaw(data []byte, opts DecodeOptions) (tensor.Batch, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return tensor.Batch{}, errors.Wrap(err, "decode image")
	}
	h, w := opts.Shape.Height, opts.Shape.Width
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	c := opts.Color.Channels()
	out := tensor.New(1, h, w, c)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := dst.PixOffset(x, y)
			r, g, b := float32(dst.Pix[i]), float32(dst.Pix[i+1]), float32(dst.Pix[i+2])
			if c == 1 {
				// ITU-R 601-2 luma, as PIL's "L" conversion
				out.Set(0, y, x, 0, r*299/1000+g*587/1000+b*114/1000)
				continue
			}
			out.Set(0, y, x, 0, r)
			out.Set(0, y, x, 1, g)
			out.Set(0, y, x, 2, b)
		}
	}
	return out, nil
}

func preprocess(img tensor.Batch, p model.Preprocessing) {
	for i, v := range img.Data {
		img.Data[i] = p.Apply(float64(v))
	}
}

// Decode turns encoded image bytes into one preprocessed image.
func Decode(data []byte, opts DecodeOptions) (tensor.Batch, error) {
	img, err := decodeRaw(data, opts)
	if err != nil {
		return tensor.Batch{}, err
	}
	preprocess(img, opts.Preprocessing)
	return img, nil
}
