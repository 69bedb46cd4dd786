package ssim

import (
	"math"
	"math/rand"
	"testing"
)

func randomPlane(rng *rand.Rand, h, w int) Plane {
	p := NewPlane(h, w)
	for i := range p.Pix {
		p.Pix[i] = rng.Float64()
	}
	return p
}

func perturbed(rng *rand.Rand, p Plane, amount float64) Plane {
	out := NewPlane(p.H, p.W)
	for i, v := range p.Pix {
		out.Pix[i] = math.Min(1, math.Max(0, v+(rng.Float64()-0.5)*amount))
	}
	return out
}

func TestMeanIdenticalIsOne(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	x := randomPlane(rng, 24, 20)
	if got := Mean(x, x, DefaultOptions(1)); math.Abs(got-1) > 1e-12 {
		t.Fatalf("Mean(x, x)=%f want 1", got)
	}
	if got := MultiScale(x, x, DefaultOptions(1)); math.Abs(got-1) > 1e-12 {
		t.Fatalf("MultiScale(x, x)=%f want 1", got)
	}
}

func TestMapShapes(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	x := randomPlane(rng, 16, 14)
	y := perturbed(rng, x, 0.3)
	o := DefaultOptions(1)

	valid := Map(x, y, Valid, o)
	if valid.H != 16-11+1 || valid.W != 14-11+1 {
		t.Fatalf("valid map %dx%d", valid.H, valid.W)
	}
	same := Map(x, y, Same, o)
	if same.H != 16 || same.W != 14 {
		t.Fatalf("same map %dx%d", same.H, same.W)
	}
	for _, v := range same.Pix {
		if v < -1-1e-9 || v > 1+1e-9 {
			t.Fatalf("ssim value out of range: %f", v)
		}
	}
}

func TestWindowShrinksToPlane(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	x := randomPlane(rng, 6, 6)
	m := Map(x, perturbed(rng, x, 0.2), Valid, DefaultOptions(1))
	if m.H != 1 || m.W != 1 {
		t.Fatalf("expected a single window, got %dx%d", m.H, m.W)
	}
}

func TestUniformKernelSumsToOne(t *testing.T) {
	for _, w := range []Window{{Size: 7, Kind: Uniform}, {Size: 11, Sigma: 1.5}} {
		sum := 0.0
		for _, v := range w.kernel(w.Size) {
			sum += v
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Fatalf("%s kernel sums to %f", w.Kind, sum)
		}
	}
}

func TestReflect(t *testing.T) {
	cases := []struct{ i, n, want int }{
		{-1, 4, 0}, {-2, 4, 1}, {4, 4, 3}, {5, 4, 2}, {2, 4, 2}, {-3, 1, 0},
	}
	for _, tc := range cases {
		if got := reflect(tc.i, tc.n); got != tc.want {
			t.Errorf("reflect(%d,%d)=%d want %d", tc.i, tc.n, got, tc.want)
		}
	}
}

func checkGradient(t *testing.T, name string, f func(y Plane) float64, grad Plane, y Plane) {
	t.Helper()
	const h = 1e-6
	rng := rand.New(rand.NewSource(99))
	for n := 0; n < 25; n++ {
		i := rng.Intn(len(y.Pix))
		orig := y.Pix[i]
		y.Pix[i] = orig + h
		up := f(y)
		y.Pix[i] = orig - h
		down := f(y)
		y.Pix[i] = orig
		numeric := (up - down) / (2 * h)
		if diff := math.Abs(numeric - grad.Pix[i]); diff > 1e-5+1e-3*math.Abs(numeric) {
			t.Fatalf("%s: pixel %d analytic=%g numeric=%g", name, i, grad.Pix[i], numeric)
		}
	}
}

func TestMeanGradMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	for _, w := range []Window{{Size: 5, Sigma: 1.5, Kind: Gaussian}, {Size: 4, Kind: Uniform}} {
		o := DefaultOptions(1)
		o.Window = w
		x := randomPlane(rng, 12, 10)
		y := perturbed(rng, x, 0.4)
		_, grad := MeanGrad(x, y, o)
		checkGradient(t, "ssim/"+w.Kind.String(), func(y Plane) float64 { return Mean(x, y, o) }, grad, y)
	}
}

func TestMultiScaleGradMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	o := DefaultOptions(1)
	o.Window = Window{Size: 3, Sigma: 1.5}
	x := randomPlane(rng, 17, 16)
	y := perturbed(rng, x, 0.2)
	if m := Scales(x.H, x.W, o); m != 3 {
		t.Fatalf("Scales=%d want 3", m)
	}
	v, grad := MultiScaleGrad(x, y, o)
	if v <= 0 || v > 1 {
		t.Fatalf("MS-SSIM=%f outside (0,1]", v)
	}
	checkGradient(t, "msssim", func(y Plane) float64 { return MultiScale(x, y, o) }, grad, y)
}

func TestScalesLimitedByWindow(t *testing.T) {
	o := DefaultOptions(1)
	cases := []struct{ h, w, want int }{
		{256, 256, 5}, {64, 64, 3}, {16, 16, 1}, {8, 8, 1},
	}
	for _, tc := range cases {
		if got := Scales(tc.h, tc.w, o); got != tc.want {
			t.Errorf("Scales(%d,%d)=%d want %d", tc.h, tc.w, got, tc.want)
		}
	}
}
