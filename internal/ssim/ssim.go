// Package ssim computes the structural similarity index between image planes:
// local SSIM maps, their means, the multi-scale variant and the exact gradients
// of the means with respect to the second (reconstructed) plane.
package ssim

import (
	"gonum.org/v1/gonum/floats"
)

// Mode selects how windows are placed over the plane.
type Mode int

const (
	// Valid only evaluates windows that fit entirely inside the plane.
	Valid Mode = iota
	// Same pads the plane by reflection so that the map has one value per pixel.
	Same
)

// Options carries the SSIM constants.
type Options struct {
	Window       Window
	DynamicRange float64
	K1, K2       float64
}

// DefaultOptions returns the usual constants for values spanning dynamicRange.
func DefaultOptions(dynamicRange float64) Options {
	if dynamicRange <= 0 {
		dynamicRange = 1
	}
	return Options{Window: DefaultWindow(), DynamicRange: dynamicRange, K1: 0.01, K2: 0.03}
}

func (o Options) constants() (float64, float64) {
	l := o.DynamicRange
	if l <= 0 {
		l = 1
	}
	k1, k2 := o.K1, o.K2
	if k1 <= 0 {
		k1 = 0.01
	}
	if k2 <= 0 {
		k2 = 0.03
	}
	return (k1 * l) * (k1 * l), (k2 * l) * (k2 * l)
}

// stats holds the per-window quantities shared by the maps and gradients.
type stats struct {
	g          []float64
	muX, muY   Plane
	a1, a2     Plane // 2 mx my + C1, 2 sxy + C2
	b1, b2     Plane // mx² + my² + C1, sx² + sy² + C2
	ssim, cs   Plane
	windowSize int
}

func compute(x, y Plane, o Options) stats {
	k := o.Window.size(x.H, x.W)
	g := o.Window.kernel(k)
	c1, c2 := o.constants()

	muX := filterValid(x, g)
	muY := filterValid(y, g)
	exx := filterValid(mul(x, x), g)
	eyy := filterValid(mul(y, y), g)
	exy := filterValid(mul(x, y), g)

	n := len(muX.Pix)
	s := stats{
		g: g, muX: muX, muY: muY, windowSize: k,
		a1: NewPlane(muX.H, muX.W), a2: NewPlane(muX.H, muX.W),
		b1: NewPlane(muX.H, muX.W), b2: NewPlane(muX.H, muX.W),
		ssim: NewPlane(muX.H, muX.W), cs: NewPlane(muX.H, muX.W),
	}
	for i := 0; i < n; i++ {
		mx, my := muX.Pix[i], muY.Pix[i]
		vx := exx.Pix[i] - mx*mx
		vy := eyy.Pix[i] - my*my
		cov := exy.Pix[i] - mx*my
		s.a1.Pix[i] = 2*mx*my + c1
		s.a2.Pix[i] = 2*cov + c2
		s.b1.Pix[i] = mx*mx + my*my + c1
		s.b2.Pix[i] = vx + vy + c2
		s.cs.Pix[i] = s.a2.Pix[i] / s.b2.Pix[i]
		s.ssim.Pix[i] = s.a1.Pix[i] / s.b1.Pix[i] * s.cs.Pix[i]
	}
	return s
}

// Map returns the local SSIM map of x and y. In Valid mode the map is
// (H-k+1) x (W-k+1); in Same mode it has the size of the inputs.
func Map(x, y Plane, mode Mode, o Options) Plane {
	if mode == Same {
		k := o.Window.size(x.H, x.W)
		if k%2 == 0 {
			k--
		}
		o.Window.Size = k
		r := k / 2
		return compute(padReflect(x, r), padReflect(y, r), o).ssim
	}
	return compute(x, y, o).ssim
}

// Mean returns the mean SSIM over all valid windows.
func Mean(x, y Plane, o Options) float64 {
	s := compute(x, y, o)
	return floats.Sum(s.ssim.Pix) / float64(len(s.ssim.Pix))
}

// MeanGrad returns the mean SSIM and its gradient with respect to y.
func MeanGrad(x, y Plane, o Options) (float64, Plane) {
	s := compute(x, y, o)
	return floats.Sum(s.ssim.Pix) / float64(len(s.ssim.Pix)), s.ssimGrad(x, y)
}

// ssimGrad differentiates mean(ssim map) with respect to y.
//
// For a window with weights w_i the derivative of its SSIM value is
// w_i (alpha + beta x_i + gamma y_i), so the full gradient is a sum of three
// adjoint filters of per-window coefficient maps.
func (s stats) ssimGrad(x, y Plane) Plane {
	n := float64(len(s.ssim.Pix))
	alpha := NewPlane(s.ssim.H, s.ssim.W)
	beta := NewPlane(s.ssim.H, s.ssim.W)
	gamma := NewPlane(s.ssim.H, s.ssim.W)
	for i := range s.ssim.Pix {
		mx, my := s.muX.Pix[i], s.muY.Pix[i]
		a1, a2, b1, b2 := s.a1.Pix[i], s.a2.Pix[i], s.b1.Pix[i], s.b2.Pix[i]
		v := s.ssim.Pix[i]
		den := b1 * b2
		be := 2 * a1 / den
		ga := -2 * v / b2
		al := 2*mx*a2/den - 2*v*my/b1 - be*mx - ga*my
		alpha.Pix[i] = al / n
		beta.Pix[i] = be / n
		gamma.Pix[i] = ga / n
	}
	return s.combine(x, y, alpha, beta, gamma)
}

// csGrad differentiates mean(cs map) with respect to y.
func (s stats) csGrad(x, y Plane) Plane {
	n := float64(len(s.cs.Pix))
	alpha := NewPlane(s.cs.H, s.cs.W)
	beta := NewPlane(s.cs.H, s.cs.W)
	gamma := NewPlane(s.cs.H, s.cs.W)
	for i := range s.cs.Pix {
		b2 := s.b2.Pix[i]
		be := 2 / b2
		ga := -2 * s.cs.Pix[i] / b2
		alpha.Pix[i] = (-be*s.muX.Pix[i] - ga*s.muY.Pix[i]) / n
		beta.Pix[i] = be / n
		gamma.Pix[i] = ga / n
	}
	return s.combine(x, y, alpha, beta, gamma)
}

func (s stats) combine(x, y, alpha, beta, gamma Plane) Plane {
	grad := filterValidT(alpha, s.g, x.H, x.W)
	tb := filterValidT(beta, s.g, x.H, x.W)
	tg := filterValidT(gamma, s.g, x.H, x.W)
	for i := range grad.Pix {
		grad.Pix[i] += x.Pix[i]*tb.Pix[i] + y.Pix[i]*tg.Pix[i]
	}
	return grad
}
