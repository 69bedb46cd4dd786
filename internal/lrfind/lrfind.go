// Package lrfind runs a learning-rate range test: the learning rate grows
// exponentially batch after batch while the smoothed loss is recorded, and
// the model weights are put back afterwards.
package lrfind

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"cae-forge/internal/losses"
	"cae-forge/internal/tensor"
)

// Trainer is the part of a model the range test needs.
type Trainer interface {
	TrainStep(b tensor.Batch, loss losses.Loss, lr float64) (float64, error)
	Snapshot() (string, error)
	Restore(snapshot string) error
}

// BatchSource feeds every training batch of one epoch to fn. It must stop and
// return fn's error as soon as fn fails.
type BatchSource func(ctx context.Context, epoch int, fn func(b tensor.Batch) error) error

// Options tunes the sweep.
type Options struct {
	StartLR    float64 `json:"start_lr"`
	EndLR      float64 `json:"end_lr"`
	Multiplier float64 `json:"lr_mult"`
	Beta       float64 `json:"beta"`
	// StopFactor ends the sweep once the smoothed loss exceeds
	// StopFactor times the best smoothed loss. Zero disables the check.
	StopFactor float64 `json:"stop_factor"`
	// MaxEpochs caps the sweep; zero means no cap.
	MaxEpochs int `json:"max_epochs"`
}

// DefaultOptions returns the sweep settings used for a loss. Similarity losses
// are negative, which is why their stop factor is negative too.
func DefaultOptions(lossName string) Options {
	o := Options{StartLR: 1e-7, EndLR: 10, Multiplier: 1.01, Beta: 0.98}
	switch lossName {
	case "SSIM", "MSSIM":
		o.MaxEpochs = 10
		o.StopFactor = -6
	default:
		o.StopFactor = 6
	}
	return o
}

// Stop reasons.
const (
	StopDiverged  = "diverged"
	StopNotFinite = "not_finite"
	StopMaxLR     = "max_lr"
	StopMaxEpochs = "max_epochs"
)

// Result is the recorded sweep.
type Result struct {
	LRs      []float64 `json:"lrs"`
	Losses   []float64 `json:"losses"`
	Raw      []float64 `json:"raw_losses"`
	BestLoss float64   `json:"best_loss"`
	// SteepestLR is where the smoothed loss falls fastest.
	SteepestLR float64 `json:"steepest_lr"`
	// MinLossLR is one tenth of the learning rate at the lowest loss.
	MinLossLR  float64 `json:"min_loss_lr"`
	StopReason string  `json:"stop_reason"`
	Epochs     int     `json:"epochs"`
}

var errStop = errors.New("lrfind: stop")

// Find sweeps the learning rate and restores the weights before returning.
func Find(ctx context.Context, m Trainer, loss losses.Loss, src BatchSource, opts Options) (res Result, err error) {
	if opts.StartLR <= 0 || opts.Multiplier <= 1 {
		return Result{}, errors.Errorf("lrfind: invalid start_lr=%g lr_mult=%g", opts.StartLR, opts.Multiplier)
	}
	snapshot, err := m.Snapshot()
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if rerr := m.Restore(snapshot); rerr != nil && err == nil {
			err = rerr
		}
	}()

	lr := opts.StartLR
	avg := 0.0
	res.BestLoss = math.Inf(1)
	step := 0
	for epoch := 0; opts.MaxEpochs == 0 || epoch < opts.MaxEpochs; epoch++ {
		batches := 0
		err := src(ctx, epoch, func(b tensor.Batch) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			batches++
			v, err := m.TrainStep(b, loss, lr)
			if err != nil {
				return err
			}
			step++
			avg = opts.Beta*avg + (1-opts.Beta)*v
			smoothed := avg / (1 - math.Pow(opts.Beta, float64(step)))
			res.LRs = append(res.LRs, lr)
			res.Raw = append(res.Raw, v)
			res.Losses = append(res.Losses, smoothed)

			switch {
			case math.IsNaN(smoothed) || math.IsInf(smoothed, 0):
				res.StopReason = StopNotFinite
				return errStop
			case step > 1 && opts.StopFactor != 0 && smoothed > opts.StopFactor*res.BestLoss:
				res.StopReason = StopDiverged
				return errStop
			}
			if smoothed < res.BestLoss || step == 1 {
				res.BestLoss = smoothed
			}
			lr *= opts.Multiplier
			if opts.EndLR > 0 && lr > opts.EndLR {
				res.StopReason = StopMaxLR
				return errStop
			}
			return nil
		})
		res.Epochs = epoch + 1
		if errors.Is(err, errStop) {
			break
		}
		if err != nil {
			return res, errors.Wrap(err, "lr finder")
		}
		if batches == 0 {
			return res, errors.New("lr finder: no training batches")
		}
	}
	if res.StopReason == "" {
		res.StopReason = StopMaxEpochs
	}
	res.SteepestLR, res.MinLossLR = suggest(res.LRs, res.Losses)
	return res, nil
}

// suggest returns the learning rate of steepest descent and the minimum-loss
// learning rate divided by ten. The first ten and the last point are ignored
// for the steepest slope when enough points exist.
func suggest(lrs, losses []float64) (steepest, minLoss float64) {
	if len(losses) == 0 {
		return 0, 0
	}
	minLoss = lrs[floats.MinIdx(losses)] / 10
	if len(losses) < 3 {
		return lrs[0], minLoss
	}
	begin, end := 0, len(losses)
	if len(losses) > 12 {
		begin, end = 10, len(losses)-1
	}
	grads := make([]float64, 0, end-begin-1)
	for i := begin; i < end-1; i++ {
		grads = append(grads, losses[i+1]-losses[i])
	}
	steepest = lrs[begin+floats.MinIdx(grads)]
	return steepest, minLoss
}
