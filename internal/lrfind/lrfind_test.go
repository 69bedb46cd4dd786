package lrfind

import (
	"context"
	"math"
	"testing"

	"github.com/pkg/errors"

	"cae-forge/internal/losses"
	"cae-forge/internal/tensor"
)

type fakeTrainer struct {
	lossAt   func(lr float64) float64
	steps    int
	restored string
}

func (f *fakeTrainer) TrainStep(_ tensor.Batch, _ losses.Loss, lr float64) (float64, error) {
	f.steps++
	return f.lossAt(lr), nil
}

func (f *fakeTrainer) Snapshot() (string, error) { return "weights-0", nil }

func (f *fakeTrainer) Restore(s string) error {
	f.restored = s
	return nil
}

func source(batches int) BatchSource {
	return func(ctx context.Context, _ int, fn func(tensor.Batch) error) error {
		for i := 0; i < batches; i++ {
			if err := fn(tensor.New(1, 2, 2, 1)); err != nil {
				return err
			}
		}
		return nil
	}
}

func TestFindStopsOnDivergence(t *testing.T) {
	f := &fakeTrainer{lossAt: func(lr float64) float64 {
		d := math.Log10(lr) + 3
		return 1 + d*d
	}}
	res, err := Find(context.Background(), f, losses.L2(), source(100), DefaultOptions("L2"))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if res.StopReason != StopDiverged {
		t.Fatalf("stop reason %q want %q", res.StopReason, StopDiverged)
	}
	if f.restored != "weights-0" {
		t.Fatalf("weights were not restored")
	}
	if len(res.LRs) != len(res.Losses) || len(res.LRs) != f.steps {
		t.Fatalf("series lengths lrs=%d losses=%d steps=%d", len(res.LRs), len(res.Losses), f.steps)
	}
	if res.MinLossLR < 1e-5 || res.MinLossLR > 1e-2 {
		t.Fatalf("min loss suggestion %g not near 1e-4", res.MinLossLR)
	}
	if res.SteepestLR <= 0 || res.SteepestLR > 1e-3 {
		t.Fatalf("steepest suggestion %g should be below the minimum", res.SteepestLR)
	}
	for i := 1; i < len(res.LRs); i++ {
		if r := res.LRs[i] / res.LRs[i-1]; math.Abs(r-1.01) > 1e-9 {
			t.Fatalf("lr ratio %f at %d", r, i)
		}
	}
}

func TestFindStopsAfterMaxEpochs(t *testing.T) {
	f := &fakeTrainer{lossAt: func(float64) float64 { return -0.5 }}
	res, err := Find(context.Background(), f, losses.SSIM(1), source(5), DefaultOptions("SSIM"))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if res.StopReason != StopMaxEpochs || res.Epochs != 10 || f.steps != 50 {
		t.Fatalf("reason=%q epochs=%d steps=%d", res.StopReason, res.Epochs, f.steps)
	}
}

func TestFindStopsOnNonFiniteLoss(t *testing.T) {
	f := &fakeTrainer{lossAt: func(lr float64) float64 {
		if lr > 1e-6 {
			return math.NaN()
		}
		return 1
	}}
	res, err := Find(context.Background(), f, losses.MSE(), source(1000), DefaultOptions("MSE"))
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if res.StopReason != StopNotFinite {
		t.Fatalf("stop reason %q", res.StopReason)
	}
}

func TestFindPropagatesErrors(t *testing.T) {
	f := &fakeTrainer{lossAt: func(float64) float64 { return 1 }}
	boom := errors.New("boom")
	src := func(context.Context, int, func(tensor.Batch) error) error { return boom }
	if _, err := Find(context.Background(), f, losses.L2(), src, DefaultOptions("L2")); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := Find(context.Background(), f, losses.L2(), source(0), DefaultOptions("L2")); err == nil {
		t.Fatalf("expected error for empty source")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Find(ctx, f, losses.L2(), source(3), DefaultOptions("L2")); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f.restored != "weights-0" {
		t.Fatalf("weights were not restored after failure")
	}
}

func TestSuggestShortSeries(t *testing.T) {
	s, m := suggest([]float64{1, 2}, []float64{3, 1})
	if s != 1 || m != 0.2 {
		t.Fatalf("suggest=%g, %g", s, m)
	}
	if s, m := suggest(nil, nil); s != 0 || m != 0 {
		t.Fatalf("empty suggest=%g, %g", s, m)
	}
}
