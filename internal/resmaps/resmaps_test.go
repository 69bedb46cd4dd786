package resmaps

import (
	"math/rand"
	"testing"

	"github.com/pkg/errors"

	"cae-forge/internal/ssim"
	"cae-forge/internal/tensor"
)

func randomBatch(seed int64, n, h, w, c int) tensor.Batch {
	rng := rand.New(rand.NewSource(seed))
	b := tensor.New(n, h, w, c)
	for i := range b.Data {
		b.Data[i] = rng.Float32()
	}
	return b
}

func TestIdenticalInputsGiveZeroMaps(t *testing.T) {
	b := randomBatch(1, 2, 20, 18, 3)
	for _, m := range []Method{MethodL2, MethodSSIM} {
		out, err := Calculate(b, b.Clone(), m, Options{})
		if err != nil {
			t.Fatalf("%s: %v", m, err)
		}
		if !out.SameShape(b) {
			t.Fatalf("%s: shape %s want %s", m, out.Shape(), b.Shape())
		}
		for _, v := range out.Data {
			if v < 0 || v > 1e-6 {
				t.Fatalf("%s: expected ~0, got %f", m, v)
			}
		}
	}
}

func TestSSIMRange(t *testing.T) {
	a := randomBatch(2, 1, 24, 24, 1)
	b := randomBatch(3, 1, 24, 24, 1)
	for _, w := range []ssim.Window{ssim.DefaultWindow(), {Size: 7, Kind: ssim.Uniform}} {
		out, err := Calculate(a, b, MethodSSIM, Options{Window: w})
		if err != nil {
			t.Fatalf("Calculate: %v", err)
		}
		for _, v := range out.Data {
			if v < 0 || v > 2 {
				t.Fatalf("residual %f outside [0, 2]", v)
			}
		}
	}
}

func TestL2SumChannels(t *testing.T) {
	a := tensor.New(1, 1, 1, 3)
	b := tensor.New(1, 1, 1, 3)
	b.Data[0], b.Data[1], b.Data[2] = 1, 2, 3
	out, err := Calculate(a, b, MethodL2, Options{SumChannels: true})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	if out.C != 1 || out.Data[0] != 14 {
		t.Fatalf("got C=%d value=%f, want 1 and 14", out.C, out.Data[0])
	}
}

func TestInvalidArguments(t *testing.T) {
	a := tensor.New(1, 4, 4, 1)
	if _, err := Calculate(a, a, Method("MSSIM"), Options{}); !errors.Is(err, ErrInvalidMethod) {
		t.Fatalf("expected ErrInvalidMethod, got %v", err)
	}
	if _, err := Calculate(a, tensor.New(2, 4, 4, 1), MethodL2, Options{}); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	if _, err := ParseMethod("diff"); !errors.Is(err, ErrInvalidMethod) {
		t.Fatalf("expected ErrInvalidMethod, got %v", err)
	}
	if m, err := ParseMethod("ssim"); err != nil || m != MethodSSIM {
		t.Fatalf("ParseMethod(ssim)=%q, %v", m, err)
	}
}
