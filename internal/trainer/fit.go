package trainer

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/pkg/errors"

	"cae-forge/internal/dataset"
	"cae-forge/internal/metrics"
	"cae-forge/internal/schedule"
	"cae-forge/internal/tensor"
)

func (r *run) metricName() string {
	if r.color == dataset.RGB {
		return "mssim"
	}
	return "ssim"
}

// fit trains for at most epochs passes under a one-cycle schedule peaking at
// maxLR. The model is checkpointed to ckptPath after every epoch.
func (r *run) fit(ctx context.Context, maxLR float64, epochs int, ckptPath string) error {
	stepsPerEpoch := (len(r.train) + r.cfg.BatchSize - 1) / r.cfg.BatchSize
	sched, err := schedule.NewOneCycle(maxLR, stepsPerEpoch*epochs)
	if err != nil {
		return err
	}
	r.history = &metrics.History{MetricName: r.metricName()}

	var val tensor.Batch
	if len(r.val) > 0 {
		if val, err = dataset.LoadAll(ctx, r.val, r.decode, r.cfg.NumWorkers); err != nil {
			return errors.Wrap(err, "load validation images")
		}
	}

	log.Printf("fit max_lr=%.3g min_lr=%.3g epochs=%d steps_per_epoch=%d batch=%d",
		sched.MaxLR, sched.MinLR(), epochs, stepsPerEpoch, r.cfg.BatchSize)

	src := r.trainSource()
	stopper := metrics.EarlyStopping{Patience: r.cfg.Patience}
	window := &metrics.Window{}
	step := 0
	for epoch := 0; epoch < epochs; epoch++ {
		start := time.Now()
		var batchLosses []float64
		last := time.Now()
		err := src(ctx, epoch, func(b tensor.Batch) error {
			dataTime := time.Since(last)
			lr := sched.LR(step)

			computeStart := time.Now()
			loss, err := r.mdl.TrainStep(b, r.loss, lr)
			if err != nil {
				return errors.Wrapf(err, "train step %d", step)
			}
			computeTime := time.Since(computeStart)
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				return errors.Errorf("trainer: loss is %v at step %d", loss, step)
			}

			batchLosses = append(batchLosses, loss)
			r.history.AddStep(lr, loss)
			window.Record(b.N, dataTime, computeTime, loss, lr)
			step++
			if step%r.cfg.LogEvery == 0 {
				snap := window.Snapshot()
				log.Printf("step=%d epoch=%d lr=%.3g images_per_sec=%.1f data_ms=%.2f compute_ms=%.2f loss=%.4f",
					step, epoch+1, snap.LastLR, snap.ImagesPerSec, snap.AvgDataMS, snap.AvgComputeMS, snap.LastLoss)
			}
			last = time.Now()
			return nil
		})
		if err != nil {
			return err
		}

		rec := metrics.EpochRecord{Loss: metrics.Mean(batchLosses)}
		monitor := rec.Loss
		if val.N > 0 {
			if rec.ValLoss, rec.ValMetric, err = r.validate(val); err != nil {
				return err
			}
			monitor = rec.ValLoss
		}
		rec.Duration = time.Since(start)
		r.history.AddEpoch(rec)
		log.Printf("epoch=%d/%d loss=%.5f val_loss=%.5f val_%s=%.4f duration=%s",
			epoch+1, epochs, rec.Loss, rec.ValLoss, r.history.MetricName, rec.ValMetric, rec.Duration.Round(time.Millisecond))

		if err := r.mdl.Save(ckptPath); err != nil {
			return errors.Wrapf(err, "checkpoint epoch %d", epoch+1)
		}
		if stopper.Update(monitor) {
			r.stopped = true
			log.Printf("early stopping after epoch %d, best val_loss=%.5f", epoch+1, stopper.Best())
			break
		}
	}
	return nil
}

// validate returns the loss and the similarity metric on the held-out images.
// Both are computed on BatchSize chunks and averaged weighted by chunk size.
func (r *run) validate(val tensor.Batch) (loss, metric float64, err error) {
	pred, err := r.mdl.Reconstruct(val)
	if err != nil {
		return 0, 0, errors.Wrap(err, "reconstruct validation images")
	}
	for lo := 0; lo < val.N; lo += r.cfg.BatchSize {
		hi := min(lo+r.cfg.BatchSize, val.N)
		imgs, preds := val.Images(lo, hi), pred.Images(lo, hi)
		l, err := r.loss.Compute(imgs, preds)
		if err != nil {
			return 0, 0, err
		}
		m, err := r.metric(imgs, preds)
		if err != nil {
			return 0, 0, err
		}
		w := float64(hi-lo) / float64(val.N)
		loss += l * w
		metric += m * w
	}
	return loss, metric, nil
}
