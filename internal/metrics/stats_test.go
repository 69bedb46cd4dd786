package metrics

import (
	"math"
	"testing"
	"time"
)

func TestWindowSnapshot(t *testing.T) {
	var w Window
	w.Record(64, 20*time.Millisecond, 10*time.Millisecond, 1.2, 1e-3)
	w.Record(64, 10*time.Millisecond, 20*time.Millisecond, 0.8, 2e-3)
	snap := w.Snapshot()
	if math.Abs(snap.ImagesPerSec-2133.3333) > 1 {
		t.Fatalf("unexpected throughput %.2f", snap.ImagesPerSec)
	}
	if w.samples != 0 || w.steps != 0 {
		t.Fatalf("window was not reset")
	}
	if snap.LastLoss != 0.8 || snap.LastLR != 2e-3 {
		t.Fatalf("expected last loss 0.8 and lr 2e-3, got %.2f %g", snap.LastLoss, snap.LastLR)
	}
}

func TestHistory(t *testing.T) {
	var h History
	h.AddStep(1e-4, 2)
	if i := h.AddStep(2e-4, 1); i != 1 {
		t.Fatalf("second step index %d", i)
	}
	h.AddEpoch(EpochRecord{Loss: 1.5, ValLoss: 1.4})
	h.AddEpoch(EpochRecord{Loss: 1.0, ValLoss: 0.9})
	h.AddEpoch(EpochRecord{Loss: 0.8, ValLoss: 1.1})
	if got := h.BestEpoch(); got != 1 {
		t.Fatalf("best epoch %d want 1", got)
	}
	loss, val := h.EpochLosses()
	if len(loss) != 3 || val[2] != 1.1 || h.Epochs[2].Epoch != 2 {
		t.Fatalf("unexpected epoch losses %v %v", loss, val)
	}
	if lrs := h.LRs(); len(lrs) != 2 || lrs[1] != 2e-4 {
		t.Fatalf("lrs %v", lrs)
	}
	if m := Mean([]float64{1, 2, 3}); m != 2 {
		t.Fatalf("mean %f", m)
	}
	if (&History{}).BestEpoch() != -1 || Mean(nil) != 0 {
		t.Fatalf("empty history")
	}
}

func TestEarlyStopping(t *testing.T) {
	e := EarlyStopping{Patience: 2}
	for i, tc := range []struct {
		v    float64
		stop bool
	}{
		{1.0, false}, {0.9, false}, {0.95, false}, {0.91, true},
	} {
		if got := e.Update(tc.v); got != tc.stop {
			t.Fatalf("update %d (%f): stop=%v want %v", i, tc.v, got, tc.stop)
		}
	}
	if e.Best() != 0.9 {
		t.Fatalf("best %f", e.Best())
	}
}
