package ssim

import "math"

// Kind selects the weighting of the local statistics window.
type Kind int

const (
	Gaussian Kind = iota
	Uniform
)

func (k Kind) String() string {
	if k == Uniform {
		return "uniform"
	}
	return "gaussian"
}

// Window describes the sliding window used for local means and variances.
type Window struct {
	Size  int
	Sigma float64
	Kind  Kind
}

// DefaultWindow is the 11x11 Gaussian window with sigma 1.5.
func DefaultWindow() Window {
	return Window{Size: 11, Sigma: 1.5, Kind: Gaussian}
}

// size returns the effective window size for a plane of h x w.
func (w Window) size(h, wd int) int {
	k := w.Size
	if k <= 0 {
		k = 11
	}
	if h < k {
		k = h
	}
	if wd < k {
		k = wd
	}
	if k < 1 {
		k = 1
	}
	return k
}

// kernel returns the normalized 1-D weights of length k.
func (w Window) kernel(k int) []float64 {
	g := make([]float64, k)
	if w.Kind == Uniform {
		for i := range g {
			g[i] = 1 / float64(k)
		}
		return g
	}
	sigma := w.Sigma
	if sigma <= 0 {
		sigma = 1.5
	}
	center := float64(k-1) / 2
	sum := 0.0
	for i := range g {
		d := float64(i) - center
		g[i] = math.Exp(-(d * d) / (2 * sigma * sigma))
		sum += g[i]
	}
	for i := range g {
		g[i] /= sum
	}
	return g
}

// Plane is a single-channel image in row-major order.
type Plane struct {
	H, W int
	Pix  []float64
}

// NewPlane allocates a zeroed plane.
func NewPlane(h, w int) Plane {
	return Plane{H: h, W: w, Pix: make([]float64, h*w)}
}

func (p Plane) at(y, x int) float64 { return p.Pix[y*p.W+x] }

func mul(a, b Plane) Plane {
	out := NewPlane(a.H, a.W)
	for i := range out.Pix {
		out.Pix[i] = a.Pix[i] * b.Pix[i]
	}
	return out
}

// filterValid correlates p with the separable kernel g⊗g without padding.
func filterValid(p Plane, g []float64) Plane {
	k := len(g)
	oh, ow := p.H-k+1, p.W-k+1
	rows := NewPlane(p.H, ow)
	for y := 0; y < p.H; y++ {
		src := p.Pix[y*p.W : (y+1)*p.W]
		dst := rows.Pix[y*ow : (y+1)*ow]
		for x := range dst {
			s := 0.0
			for a, wa := range g {
				s += wa * src[x+a]
			}
			dst[x] = s
		}
	}
	out := NewPlane(oh, ow)
	for y := 0; y < oh; y++ {
		for x := 0; x < ow; x++ {
			s := 0.0
			for a, wa := range g {
				s += wa * rows.Pix[(y+a)*ow+x]
			}
			out.Pix[y*ow+x] = s
		}
	}
	return out
}

// filterValidT is the adjoint of filterValid: it spreads a map of window
// coefficients back onto the h x w pixel grid.
func filterValidT(q Plane, g []float64, h, w int) Plane {
	k := len(g)
	cols := NewPlane(h, q.W)
	for y := 0; y < q.H; y++ {
		for x := 0; x < q.W; x++ {
			v := q.Pix[y*q.W+x]
			if v == 0 {
				continue
			}
			for a, wa := range g {
				cols.Pix[(y+a)*q.W+x] += wa * v
			}
		}
	}
	out := NewPlane(h, w)
	for y := 0; y < h; y++ {
		src := cols.Pix[y*q.W : (y+1)*q.W]
		dst := out.Pix[y*w : (y+1)*w]
		for x, v := range src {
			if v == 0 {
				continue
			}
			for a := 0; a < k; a++ {
				dst[x+a] += g[a] * v
			}
		}
	}
	return out
}

// reflect maps an out-of-range index back into [0, n) mirroring about the
// edges with the edge sample repeated (d c b a | a b c d | d c b a).
func reflect(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * n
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - 1 - i
	}
	return i
}

func padReflect(p Plane, r int) Plane {
	out := NewPlane(p.H+2*r, p.W+2*r)
	for y := 0; y < out.H; y++ {
		sy := reflect(y-r, p.H)
		for x := 0; x < out.W; x++ {
			out.Pix[y*out.W+x] = p.at(sy, reflect(x-r, p.W))
		}
	}
	return out
}

// downsample halves each dimension with 2x2 averaging. Odd trailing rows and
// columns are paired with themselves.
func downsample(p Plane) Plane {
	oh, ow := (p.H+1)/2, (p.W+1)/2
	out := NewPlane(oh, ow)
	for y := 0; y < oh; y++ {
		y0, y1 := 2*y, min(2*y+1, p.H-1)
		for x := 0; x < ow; x++ {
			x0, x1 := 2*x, min(2*x+1, p.W-1)
			out.Pix[y*ow+x] = 0.25 * (p.at(y0, x0) + p.at(y0, x1) + p.at(y1, x0) + p.at(y1, x1))
		}
	}
	return out
}

// upsampleT is the adjoint of downsample.
func upsampleT(g Plane, h, w int) Plane {
	out := NewPlane(h, w)
	for y := 0; y < g.H; y++ {
		y0, y1 := 2*y, min(2*y+1, h-1)
		for x := 0; x < g.W; x++ {
			x0, x1 := 2*x, min(2*x+1, w-1)
			v := 0.25 * g.Pix[y*g.W+x]
			out.Pix[y0*w+x0] += v
			out.Pix[y0*w+x1] += v
			out.Pix[y1*w+x0] += v
			out.Pix[y1*w+x1] += v
		}
	}
	return out
}
