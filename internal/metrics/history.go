package metrics

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// StepRecord is one optimisation step.
type StepRecord struct {
	Step int     `json:"step"`
	LR   float64 `json:"lr"`
	Loss float64 `json:"loss"`
}

// EpochRecord summarises one epoch.
type EpochRecord struct {
	Epoch     int           `json:"epoch"`
	Loss      float64       `json:"loss"`
	ValLoss   float64       `json:"val_loss"`
	ValMetric float64       `json:"val_metric"`
	Duration  time.Duration `json:"duration"`
}

// History is the record of a fit.
type History struct {
	MetricName string        `json:"metric_name"`
	Steps      []StepRecord  `json:"steps"`
	Epochs     []EpochRecord `json:"epochs"`
}

// AddStep appends a step record and returns its index.
func (h *History) AddStep(lr, loss float64) int {
	step := len(h.Steps)
	h.Steps = append(h.Steps, StepRecord{Step: step, LR: lr, Loss: loss})
	return step
}

// AddEpoch appends an epoch record.
func (h *History) AddEpoch(r EpochRecord) {
	r.Epoch = len(h.Epochs)
	h.Epochs = append(h.Epochs, r)
}

// LRs returns the learning rate of every step.
func (h *History) LRs() []float64 {
	out := make([]float64, len(h.Steps))
	for i, s := range h.Steps {
		out[i] = s.LR
	}
	return out
}

// EpochLosses returns the training and validation loss of every epoch.
func (h *History) EpochLosses() (loss, valLoss []float64) {
	for _, e := range h.Epochs {
		loss = append(loss, e.Loss)
		valLoss = append(valLoss, e.ValLoss)
	}
	return loss, valLoss
}

// BestEpoch returns the epoch with the lowest validation loss, or -1.
func (h *History) BestEpoch() int {
	best, idx := math.Inf(1), -1
	for i, e := range h.Epochs {
		if e.ValLoss < best {
			best, idx = e.ValLoss, i
		}
	}
	return idx
}

// Mean returns the mean of xs, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

// EarlyStopping tracks a monitored value and signals when it has not
// improved by more than MinDelta for Patience consecutive checks.
type EarlyStopping struct {
	Patience int
	MinDelta float64

	best  float64
	wait  int
	begun bool
}

// Update records a value and reports whether training should stop.
func (e *EarlyStopping) Update(v float64) bool {
	if !e.begun || v < e.best-e.MinDelta {
		e.best, e.wait, e.begun = v, 0, true
		return false
	}
	e.wait++
	return e.Patience > 0 && e.wait >= e.Patience
}

// Best returns the lowest value seen.
func (e *EarlyStopping) Best() float64 { return e.best }
