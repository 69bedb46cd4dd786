package tensor

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrShapeMismatch is returned when two batches must share a shape and do not.
var ErrShapeMismatch = errors.New("tensor: shape mismatch")

// Batch is a stack of images in NHWC order with values stored as float32.
type Batch struct {
	N, H, W, C int
	Data       []float32
}

// New allocates a zeroed batch.
func New(n, h, w, c int) Batch {
	return Batch{N: n, H: h, W: w, C: c, Data: make([]float32, n*h*w*c)}
}

// FromSlice wraps data without copying. The length must match the shape.
func FromSlice(n, h, w, c int, data []float32) (Batch, error) {
	if len(data) != n*h*w*c {
		return Batch{}, errors.Errorf("tensor: %d values do not fit shape %dx%dx%dx%d", len(data), n, h, w, c)
	}
	return Batch{N: n, H: h, W: w, C: c, Data: data}, nil
}

// ImageSize is the number of values in one image.
func (b Batch) ImageSize() int { return b.H * b.W * b.C }

// Shape returns the shape as a printable string.
func (b Batch) Shape() string {
	return fmt.Sprintf("(%d, %d, %d, %d)", b.N, b.H, b.W, b.C)
}

// SameShape reports whether b and o have identical dimensions.
func (b Batch) SameShape(o Batch) bool {
	return b.N == o.N && b.H == o.H && b.W == o.W && b.C == o.C
}

// CheckSameShape returns ErrShapeMismatch (wrapped with both shapes) unless b and o match.
func CheckSameShape(b, o Batch) error {
	if !b.SameShape(o) || len(b.Data) != len(o.Data) {
		return errors.Wrapf(ErrShapeMismatch, "%s vs %s", b.Shape(), o.Shape())
	}
	return nil
}

func (b Batch) index(n, y, x, c int) int {
	return ((n*b.H+y)*b.W+x)*b.C + c
}

// At returns the value at (n, y, x, c).
func (b Batch) At(n, y, x, c int) float32 { return b.Data[b.index(n, y, x, c)] }

// Set stores v at (n, y, x, c).
func (b Batch) Set(n, y, x, c int, v float32) { b.Data[b.index(n, y, x, c)] = v }

// Image returns image i as a single-image batch sharing storage with b.
func (b Batch) Image(i int) Batch {
	size := b.ImageSize()
	return Batch{N: 1, H: b.H, W: b.W, C: b.C, Data: b.Data[i*size : (i+1)*size]}
}

// Images returns images [lo, hi) as a batch sharing storage with b.
func (b Batch) Images(lo, hi int) Batch {
	size := b.ImageSize()
	return Batch{N: hi - lo, H: b.H, W: b.W, C: b.C, Data: b.Data[lo*size : hi*size]}
}

// Plane copies channel c of image i into a row-major float64 plane.
func (b Batch) Plane(i, c int) []float64 {
	out := make([]float64, b.H*b.W)
	for y := 0; y < b.H; y++ {
		for x := 0; x < b.W; x++ {
			out[y*b.W+x] = float64(b.At(i, y, x, c))
		}
	}
	return out
}

// SetPlane writes a row-major plane into channel c of image i.
func (b Batch) SetPlane(i, c int, plane []float64) {
	for y := 0; y < b.H; y++ {
		for x := 0; x < b.W; x++ {
			b.Set(i, y, x, c, float32(plane[y*b.W+x]))
		}
	}
}

// Clone returns a deep copy.
func (b Batch) Clone() Batch {
	out := b
	out.Data = append([]float32(nil), b.Data...)
	return out
}

// Sub returns b - o element-wise.
func Sub(b, o Batch) (Batch, error) {
	if err := CheckSameShape(b, o); err != nil {
		return Batch{}, err
	}
	out := New(b.N, b.H, b.W, b.C)
	for i := range b.Data {
		out.Data[i] = b.Data[i] - o.Data[i]
	}
	return out, nil
}

// Stack concatenates single images (or batches) of identical H, W, C.
func Stack(images ...Batch) (Batch, error) {
	if len(images) == 0 {
		return Batch{}, errors.New("tensor: nothing to stack")
	}
	first := images[0]
	n := 0
	for _, img := range images {
		if img.H != first.H || img.W != first.W || img.C != first.C {
			return Batch{}, errors.Wrapf(ErrShapeMismatch, "stack %s with %s", first.Shape(), img.Shape())
		}
		n += img.N
	}
	data := make([]float32, 0, n*first.ImageSize())
	for _, img := range images {
		data = append(data, img.Data...)
	}
	return Batch{N: n, H: first.H, W: first.W, C: first.C, Data: data}, nil
}

// MinMax returns the smallest and largest value in the batch.
func (b Batch) MinMax() (float32, float32) {
	if len(b.Data) == 0 {
		return 0, 0
	}
	lo, hi := b.Data[0], b.Data[0]
	for _, v := range b.Data[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
