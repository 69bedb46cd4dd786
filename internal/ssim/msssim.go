package ssim

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// PowerFactors weight the five scales of MS-SSIM, finest first.
var PowerFactors = []float64{0.0448, 0.2856, 0.3001, 0.2363, 0.1333}

// Scales returns how many MS-SSIM scales a plane of h x w supports: the
// coarsest scale must still hold a full window.
func Scales(h, w int, o Options) int {
	k := o.Window.Size
	if k <= 0 {
		k = 11
	}
	m := 1
	for m < len(PowerFactors) {
		nh, nw := h, w
		for i := 0; i < m; i++ {
			nh, nw = (nh+1)/2, (nw+1)/2
		}
		if nh < k || nw < k {
			break
		}
		m++
	}
	return m
}

func pyramid(p Plane, levels int) []Plane {
	out := make([]Plane, levels)
	out[0] = p
	for i := 1; i < levels; i++ {
		out[i] = downsample(out[i-1])
	}
	return out
}

// MultiScale returns the multi-scale SSIM of x and y.
func MultiScale(x, y Plane, o Options) float64 {
	v, _ := multiScale(x, y, o, false)
	return v
}

// MultiScaleGrad returns the multi-scale SSIM and its gradient with respect to y.
func MultiScaleGrad(x, y Plane, o Options) (float64, Plane) {
	return multiScale(x, y, o, true)
}

func multiScale(x, y Plane, o Options, withGrad bool) (float64, Plane) {
	m := Scales(x.H, x.W, o)
	xs := pyramid(x, m)
	ys := pyramid(y, m)

	terms := make([]float64, m)
	st := make([]stats, m)
	for j := 0; j < m; j++ {
		st[j] = compute(xs[j], ys[j], o)
		if j == m-1 {
			terms[j] = floats.Sum(st[j].ssim.Pix) / float64(len(st[j].ssim.Pix))
		} else {
			terms[j] = floats.Sum(st[j].cs.Pix) / float64(len(st[j].cs.Pix))
		}
	}

	value := 1.0
	clipped := false
	for j, t := range terms {
		if t <= 0 {
			clipped = true
			value = 0
			break
		}
		value *= math.Pow(t, PowerFactors[j])
	}
	if !withGrad {
		return value, Plane{}
	}
	if clipped {
		return value, NewPlane(x.H, x.W)
	}

	// Accumulate from the coarsest scale back to full resolution.
	var acc Plane
	for j := m - 1; j >= 0; j-- {
		var g Plane
		if j == m-1 {
			g = st[j].ssimGrad(xs[j], ys[j])
		} else {
			g = st[j].csGrad(xs[j], ys[j])
		}
		floats.Scale(value*PowerFactors[j]/terms[j], g.Pix)
		if acc.Pix != nil {
			floats.Add(g.Pix, upsampleT(acc, ys[j].H, ys[j].W).Pix)
		}
		acc = g
	}
	return value, acc
}
