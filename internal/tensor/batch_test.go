package tensor

import (
	"testing"

	"github.com/pkg/errors"
)

func TestBatchIndexing(t *testing.T) {
	b := New(2, 3, 4, 2)
	b.Set(1, 2, 3, 1, 0.5)
	if got := b.At(1, 2, 3, 1); got != 0.5 {
		t.Fatalf("At=%f want 0.5", got)
	}
	if got := b.Data[len(b.Data)-1]; got != 0.5 {
		t.Fatalf("last element=%f want 0.5", got)
	}
	img := b.Image(1)
	if img.N != 1 || img.At(0, 2, 3, 1) != 0.5 {
		t.Fatalf("image view does not share storage")
	}
}

func TestSubShapeMismatch(t *testing.T) {
	_, err := Sub(New(1, 2, 2, 1), New(1, 2, 2, 3))
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestStackAndPlane(t *testing.T) {
	a := New(1, 2, 2, 1)
	b := New(1, 2, 2, 1)
	b.SetPlane(0, 0, []float64{1, 2, 3, 4})
	s, err := Stack(a, b)
	if err != nil {
		t.Fatalf("Stack: %v", err)
	}
	if s.N != 2 {
		t.Fatalf("N=%d want 2", s.N)
	}
	plane := s.Plane(1, 0)
	if plane[3] != 4 {
		t.Fatalf("plane[3]=%f want 4", plane[3])
	}
	lo, hi := s.MinMax()
	if lo != 0 || hi != 4 {
		t.Fatalf("MinMax=(%f,%f)", lo, hi)
	}
}

func TestFromSliceLength(t *testing.T) {
	if _, err := FromSlice(1, 2, 2, 1, make([]float32, 3)); err == nil {
		t.Fatal("expected length error")
	}
}

func TestImagesSharesStorage(t *testing.T) {
	b := New(4, 2, 2, 1)
	for i := range b.Data {
		b.Data[i] = float32(i)
	}
	sub := b.Images(1, 3)
	if sub.N != 2 || len(sub.Data) != 8 || sub.Data[0] != 4 {
		t.Fatalf("sub batch %s starts at %f", sub.Shape(), sub.Data[0])
	}
	sub.Set(1, 1, 1, 0, -1)
	if b.At(2, 1, 1, 0) != -1 {
		t.Fatalf("Images must share storage")
	}
}
