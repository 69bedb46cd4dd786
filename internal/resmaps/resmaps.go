// Package resmaps turns pairs of input and reconstructed images into
// per-pixel anomaly scores.
package resmaps

import (
	"strings"

	"github.com/pkg/errors"

	"cae-forge/internal/ssim"
	"cae-forge/internal/tensor"
)

// Method selects how residual maps are computed.
type Method string

const (
	MethodSSIM Method = "SSIM"
	MethodL2   Method = "L2"
)

var (
	// ErrInvalidMethod is returned for method tags other than SSIM and L2.
	ErrInvalidMethod = errors.New("resmaps: invalid method")
	// ErrShapeMismatch is returned when the two batches differ in shape.
	ErrShapeMismatch = tensor.ErrShapeMismatch
)

// ParseMethod accepts a method tag in any case.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToUpper(s)); m {
	case MethodSSIM, MethodL2:
		return m, nil
	}
	return "", errors.Wrapf(ErrInvalidMethod, "%q", s)
}

// Options tunes the residual computation.
type Options struct {
	// SumChannels collapses L2 maps to one channel by summing.
	SumChannels bool
	// Window for the SSIM method; zero value means the 11x11 Gaussian.
	Window ssim.Window
	// DynamicRange of the pixel values; zero means 1.
	DynamicRange float64
}

// Calculate returns one residual map per image of imgsInput/imgsPred. Higher
// values indicate more anomalous pixels. SSIM maps lie in [0, 2] and keep the
// channel count; L2 maps keep it unless SumChannels is set.
func Calculate(imgsInput, imgsPred tensor.Batch, method Method, opts Options) (tensor.Batch, error) {
	if err := tensor.CheckSameShape(imgsInput, imgsPred); err != nil {
		return tensor.Batch{}, err
	}
	switch method {
	case MethodL2:
		return l2Maps(imgsInput, imgsPred, opts.SumChannels), nil
	case MethodSSIM:
		return ssimMaps(imgsInput, imgsPred, opts), nil
	default:
		return tensor.Batch{}, errors.Wrapf(ErrInvalidMethod, "%q", string(method))
	}
}

func l2Maps(imgsInput, imgsPred tensor.Batch, sum bool) tensor.Batch {
	if !sum {
		out := tensor.New(imgsInput.N, imgsInput.H, imgsInput.W, imgsInput.C)
		for i, v := range imgsInput.Data {
			d := v - imgsPred.Data[i]
			out.Data[i] = d * d
		}
		return out
	}
	out := tensor.New(imgsInput.N, imgsInput.H, imgsInput.W, 1)
	for n := 0; n < imgsInput.N; n++ {
		for y := 0; y < imgsInput.H; y++ {
			for x := 0; x < imgsInput.W; x++ {
				var s float32
				for c := 0; c < imgsInput.C; c++ {
					d := imgsInput.At(n, y, x, c) - imgsPred.At(n, y, x, c)
					s += d * d
				}
				out.Set(n, y, x, 0, s)
			}
		}
	}
	return out
}

func ssimMaps(imgsInput, imgsPred tensor.Batch, opts Options) tensor.Batch {
	o := ssim.DefaultOptions(opts.DynamicRange)
	if opts.Window.Size > 0 {
		o.Window = opts.Window
	}
	out := tensor.New(imgsInput.N, imgsInput.H, imgsInput.W, imgsInput.C)
	for n := 0; n < imgsInput.N; n++ {
		for c := 0; c < imgsInput.C; c++ {
			x := ssim.Plane{H: imgsInput.H, W: imgsInput.W, Pix: imgsInput.Plane(n, c)}
			y := ssim.Plane{H: imgsPred.H, W: imgsPred.W, Pix: imgsPred.Plane(n, c)}
			m := ssim.Map(x, y, ssim.Same, o)
			for i, v := range m.Pix {
				r := 1 - v
				if r < 0 {
					r = 0
				} else if r > 2 {
					r = 2
				}
				m.Pix[i] = r
			}
			out.SetPlane(n, c, m.Pix)
		}
	}
	return out
}
