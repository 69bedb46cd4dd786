package trainer

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"cae-forge/internal/config"
	"cae-forge/internal/dataset"
	"cae-forge/internal/logging"
	"cae-forge/internal/losses"
	"cae-forge/internal/lrfind"
	"cae-forge/internal/metrics"
	"cae-forge/internal/model"
	"cae-forge/internal/plots"
	"cae-forge/internal/report"
	"cae-forge/internal/runstore"
	"cae-forge/internal/tensor"
)

// MaxLRFunc picks the maximum learning rate of the one-cycle policy after
// the range test. It replaces the console prompt of an interactive session.
type MaxLRFunc func(ctx context.Context, res lrfind.Result) (float64, error)

// FixedMaxLR always returns lr.
func FixedMaxLR(lr float64) MaxLRFunc {
	return func(context.Context, lrfind.Result) (float64, error) { return lr, nil }
}

// BuildFunc constructs the network to train.
type BuildFunc func(arch model.Architecture, channels int, shape model.Shape) (model.Model, error)

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Config *config.Config
	// MaxLR is consulted when Config.MaxLR is zero.
	MaxLR MaxLRFunc
	// LRFind overrides the range test settings derived from the loss.
	LRFind *lrfind.Options
	// Build defaults to model.Build.
	Build BuildFunc
	// Now defaults to time.Now and stamps the save directory.
	Now func() time.Time
	// Console receives log output; nil means os.Stderr.
	Console io.Writer
}

// Result describes a finished run.
type Result struct {
	RunID     string
	SaveDir   string
	ModelPath string
	Epochs    int
	MaxLR     float64
	LRFind    lrfind.Result
	History   *metrics.History
}

func defaultBuild(arch model.Architecture, channels int, shape model.Shape) (model.Model, error) {
	return model.Build(arch, channels, shape)
}

// run carries the state shared by the stages of one training run.
type run struct {
	cfg      *config.Config
	arch     model.Architecture
	color    dataset.ColorMode
	prep     model.Preprocessing
	loss     losses.Loss
	metric   losses.Metric
	mdl      model.Model
	decode   dataset.DecodeOptions
	train    []dataset.Entry
	val      []dataset.Entry
	saveDir  string
	store    *runstore.Store
	runID    string
	setup    Setup
	history  *metrics.History
	stopped  bool
	lrResult lrfind.Result
}

// Run executes configure, data, model, learning-rate search, one-cycle fit,
// artifact and inspection stages in order. Any failure aborts the run.
func Run(ctx context.Context, rc RunConfig) (res Result, err error) {
	cfg := rc.Config
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	if rc.Build == nil {
		rc.Build = defaultBuild
	}
	if rc.Now == nil {
		rc.Now = time.Now
	}
	if cfg.MaxLR == 0 && rc.MaxLR == nil {
		return Result{}, errors.New("trainer: no max learning rate and no way to choose one")
	}

	r := &run{cfg: cfg, arch: model.Architecture(cfg.Architecture), color: dataset.ColorMode(cfg.Color)}
	if r.prep, err = cfg.Preprocessing(); err != nil {
		return Result{}, err
	}
	if r.loss, err = losses.New(cfg.Loss, r.prep.DynamicRange()); err != nil {
		return Result{}, err
	}
	if r.color == dataset.RGB {
		r.metric = losses.MSSIMMetric(r.prep.DynamicRange())
	} else {
		r.metric = losses.SSIMMetric(r.prep.DynamicRange())
	}
	r.decode = dataset.DecodeOptions{Shape: r.prep.Shape, Color: r.color, Preprocessing: r.prep}

	entries, err := dataset.DiscoverImages(filepath.Join(cfg.Directory, "train"))
	if err != nil {
		return Result{}, err
	}
	r.train, r.val = dataset.Split(entries, cfg.ValidationSplit)
	if len(r.train) == 0 {
		return Result{}, errors.Errorf("trainer: no training images left after a %g validation split", cfg.ValidationSplit)
	}
	epochs := cfg.NbImages / len(r.train)
	if epochs < 1 {
		epochs = 1
	}
	if r.mdl, err = rc.Build(r.arch, r.color.Channels(), r.prep.Shape); err != nil {
		return Result{}, err
	}

	r.saveDir = SaveDir(cfg.OutDir, cfg.Directory, cfg.Architecture, cfg.Loss, rc.Now())
	if err := os.MkdirAll(r.saveDir, 0o755); err != nil {
		return Result{}, errors.Wrap(err, "create save dir")
	}
	logs, err := logging.Setup(logging.Options{Dir: filepath.Join(r.saveDir, "logs"), Console: rc.Console})
	if err != nil {
		return Result{}, err
	}
	defer logs.Close()

	if cfg.Registry != "" {
		if r.store, err = runstore.Open(cfg.Registry); err != nil {
			return Result{}, err
		}
		defer r.store.Close()
		r.runID, err = r.store.Create(ctx, runstore.Run{
			Directory:    cfg.Directory,
			Architecture: cfg.Architecture,
			Loss:         cfg.Loss,
			Color:        cfg.Color,
			BatchSize:    cfg.BatchSize,
			Epochs:       epochs,
			Tag:          cfg.Tag,
			SaveDir:      r.saveDir,
		})
		if err != nil {
			return Result{}, err
		}
		defer func() { r.finishRecord(err) }()
	}

	log.Printf("run=%s arch=%s loss=%s color=%s train_images=%d val_images=%d epochs=%d save_dir=%s",
		r.runID, r.arch, cfg.Loss, r.color, len(r.train), len(r.val), epochs, r.saveDir)

	r.initSetup(epochs)

	// learning-rate range test
	opts := lrfind.DefaultOptions(cfg.Loss)
	if rc.LRFind != nil {
		opts = *rc.LRFind
	}
	log.Printf("lr_find start_lr=%g lr_mult=%g stop_factor=%g max_epochs=%d", opts.StartLR, opts.Multiplier, opts.StopFactor, opts.MaxEpochs)
	r.lrResult, err = lrfind.Find(ctx, r.mdl, r.loss, r.trainSource(), opts)
	if err != nil {
		return Result{}, err
	}
	log.Printf("lr_find steps=%d stop=%s steepest_lr=%.3g min_loss_lr=%.3g",
		len(r.lrResult.LRs), r.lrResult.StopReason, r.lrResult.SteepestLR, r.lrResult.MinLossLR)
	if err := plots.LRFinder(filepath.Join(r.saveDir, lrFindPlot), r.lrResult.LRs, r.lrResult.Losses, 10, 5,
		plots.Marker{Label: "steepest", X: r.lrResult.SteepestLR},
		plots.Marker{Label: "min loss / 10", X: r.lrResult.MinLossLR}); err != nil {
		log.Printf("lr_find plot skipped: %v", err)
	}
	r.recordLRFinder(opts)

	maxLR := cfg.MaxLR
	if maxLR == 0 {
		if maxLR, err = rc.MaxLR(ctx, r.lrResult); err != nil {
			return Result{}, errors.Wrap(err, "choose max learning rate")
		}
	}
	if maxLR <= 0 {
		return Result{}, errors.Errorf("trainer: max learning rate must be positive, got %g", maxLR)
	}
	if r.store != nil {
		if err := r.store.SetMaxLR(ctx, r.runID, maxLR, epochs); err != nil {
			return Result{}, err
		}
	}

	modelPath := filepath.Join(r.saveDir, ModelName(cfg.Architecture, cfg.BatchSize)+".json")
	if err := r.fit(ctx, maxLR, epochs, modelPath); err != nil {
		return Result{}, err
	}
	if err := r.mdl.Save(modelPath); err != nil {
		return Result{}, err
	}
	log.Printf("saved model at %s", modelPath)

	if err := r.saveArtifacts(maxLR, epochs, filepath.Base(modelPath)); err != nil {
		return Result{}, err
	}

	if cfg.Inspect {
		if err := r.inspect(ctx, "validation", r.val, filepath.Join(r.saveDir, inspectValDir)); err != nil {
			return Result{}, err
		}
		test, err := dataset.DiscoverImages(filepath.Join(cfg.Directory, "test"))
		switch {
		case errors.Is(err, os.ErrNotExist), errors.Is(err, dataset.ErrNoImages):
			log.Printf("no test images under %s, skipping test inspection", cfg.Directory)
		case err != nil:
			return Result{}, err
		default:
			if err := r.inspect(ctx, "test", test, filepath.Join(r.saveDir, inspectTstDir)); err != nil {
				return Result{}, err
			}
		}
	}
	log.Printf("all generated files are saved at %s", r.saveDir)

	return Result{
		RunID:     r.runID,
		SaveDir:   r.saveDir,
		ModelPath: modelPath,
		Epochs:    len(r.history.Epochs),
		MaxLR:     maxLR,
		LRFind:    r.lrResult,
		History:   r.history,
	}, nil
}

// trainSource feeds shuffled, augmented training batches.
func (r *run) trainSource() lrfind.BatchSource {
	var aug *dataset.Augmenter
	if r.cfg.Augment {
		aug = dataset.DefaultAugmenter()
	}
	return func(ctx context.Context, epoch int, fn func(tensor.Batch) error) error {
		return dataset.ForEachBatch(ctx, dataset.SamplerOptions{
			Entries:    r.train,
			Decode:     r.decode,
			Augment:    aug,
			Shuffle:    true,
			Seed:       r.cfg.Seed,
			Epoch:      epoch,
			NumWorkers: r.cfg.NumWorkers,
		}, r.cfg.BatchSize, func(b tensor.Batch, _ []dataset.Entry) error {
			return fn(b)
		})
	}
}

func (r *run) finishRecord(runErr error) {
	status := runstore.StatusCompleted
	switch {
	case errors.Is(runErr, context.Canceled):
		status = runstore.StatusCanceled
	case runErr != nil:
		status = runstore.StatusFailed
	}
	var loss, valLoss float64
	if r.history != nil && len(r.history.Epochs) > 0 {
		last := r.history.Epochs[len(r.history.Epochs)-1]
		loss, valLoss = last.Loss, last.ValLoss
	}
	// the run context may already be canceled
	if err := r.store.Finish(context.Background(), r.runID, status, loss, valLoss); err != nil {
		log.Printf("run registry update failed: %v", err)
	}
}

func (r *run) initSetup(epochs int) {
	s := &r.setup
	s.RunID = r.runID
	s.DataSetup.Directory = r.cfg.Directory
	s.DataSetup.NbTrainingImages = len(r.train)
	s.DataSetup.NbValidationImages = len(r.val)
	s.PreprocessingSetup.Rescale = r.prep.Scale
	s.PreprocessingSetup.Offset = r.prep.Offset
	s.PreprocessingSetup.Shape = [2]int{r.prep.Shape.Height, r.prep.Shape.Width}
	s.PreprocessingSetup.Preprocessing = r.prep.Name
	s.TrainSetup.Architecture = r.cfg.Architecture
	s.TrainSetup.NbTrainingImagesAug = r.cfg.NbImages
	s.TrainSetup.Epochs = epochs
	s.TrainSetup.BatchSize = r.cfg.BatchSize
	s.TrainSetup.Loss = r.cfg.Loss
	s.TrainSetup.ColorMode = r.cfg.Color
	s.TrainSetup.Channels = r.color.Channels()
	s.TrainSetup.ValidationSplit = r.cfg.ValidationSplit
	s.Tag = r.cfg.Tag
}

func (r *run) recordLRFinder(opts lrfind.Options) {
	lf := &r.setup.LRFinder
	lf.StartLR = opts.StartLR
	lf.StopFactor = opts.StopFactor
	if opts.MaxEpochs > 0 {
		me := opts.MaxEpochs
		lf.MaxEpochs = &me
	}
	lf.SteepestLR = r.lrResult.SteepestLR
	lf.MinLossLR = r.lrResult.MinLossLR
}

func (r *run) saveArtifacts(maxLR float64, epochs int, modelFile string) error {
	loss, valLoss := r.history.EpochLosses()
	if err := plots.Loss(filepath.Join(r.saveDir, lossPlot), loss, valLoss); err != nil {
		return err
	}
	if err := plots.LR(filepath.Join(r.saveDir, lrPlot), r.history.LRs()); err != nil {
		return err
	}
	log.Printf("loss and learning rate plots saved at %s", r.saveDir)

	r.setup.LRFinder.MaxLR = maxLR
	ts := &r.setup.TrainSetup
	ts.MaxLR = maxLR
	ts.MinLR = maxLR / 10
	ts.EpochsRun = len(r.history.Epochs)
	ts.ModelFile = modelFile
	if err := writeJSON(filepath.Join(r.saveDir, setupFile), r.setup); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(r.saveDir, historyFile), r.history); err != nil {
		return err
	}

	summary := report.Summary{
		RunID:        r.runID,
		Directory:    r.cfg.Directory,
		Architecture: r.cfg.Architecture,
		Loss:         r.cfg.Loss,
		Color:        r.cfg.Color,
		BatchSize:    r.cfg.BatchSize,
		Tag:          r.cfg.Tag,
		TrainImages:  len(r.train),
		ValImages:    len(r.val),
		Epochs:       epochs,
		MaxLR:        maxLR,
		SteepestLR:   r.lrResult.SteepestLR,
		MinLossLR:    r.lrResult.MinLossLR,
		MetricName:   r.history.MetricName,
		StoppedEarly: r.stopped,
		Images:       []string{lrFindPlot, lossPlot, lrPlot},
	}
	for _, e := range r.history.Epochs {
		summary.History = append(summary.History, report.Epoch{Loss: e.Loss, ValLoss: e.ValLoss, ValMetric: e.ValMetric})
	}
	if len(r.val) > 0 {
		if best := r.history.BestEpoch(); best >= 0 {
			summary.BestEpoch = best + 1
			log.Printf("best val_loss=%.5f at epoch %d", r.history.Epochs[best].ValLoss, best+1)
		}
	}
	return report.Write(r.saveDir, summary)
}
