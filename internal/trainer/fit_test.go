package trainer

import (
	"math"
	"testing"

	"cae-forge/internal/config"
	"cae-forge/internal/losses"
	"cae-forge/internal/tensor"
)

func constantImages(n int, v float32) tensor.Batch {
	b := tensor.New(n, 8, 8, 1)
	for i := range b.Data {
		b.Data[i] = v
	}
	return b
}

func TestValidateAveragesBatchChunks(t *testing.T) {
	cfg := config.Default()
	cfg.BatchSize = 4
	fm := &fakeModel{}
	r := &run{cfg: cfg, loss: losses.L2(), metric: losses.SSIMMetric(1), mdl: fm}

	// loss of one full training batch
	batch := constantImages(4, 0.5)
	pred, _ := fm.Reconstruct(batch)
	want, err := losses.L2().Compute(batch, pred)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	for _, n := range []int{1, 4, 8, 10} {
		got, metric, err := r.validate(constantImages(n, 0.5))
		if err != nil {
			t.Fatalf("n=%d: %v", n, err)
		}
		// sum-reduced chunks of 4, 4 and 2 images weighted by their size
		expect := want
		switch n {
		case 1:
			expect = want / 4
		case 10:
			expect = (want*4 + want*4 + want/2*2) / 10
		}
		if math.Abs(got-expect) > 1e-6*math.Abs(want) {
			t.Fatalf("n=%d: val loss %g want %g", n, got, expect)
		}
		if metric <= 0 || metric > 1 {
			t.Fatalf("n=%d: metric %g", n, metric)
		}
	}
}
