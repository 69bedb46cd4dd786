package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"

	"cae-forge/internal/config"
	"cae-forge/internal/trainer"
)

// boolFlag records whether a boolean flag was set on the command line.
type boolFlag struct {
	set   bool
	value bool
}

func (b *boolFlag) String() string   { return strconv.FormatBool(b.value) }
func (b *boolFlag) IsBoolFlag() bool { return true }

func (b *boolFlag) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	b.set, b.value = true, v
	return nil
}

// parseShape accepts HxW, e.g. 256x256.
func parseShape(s string) (int, int, error) {
	if s == "" {
		return 0, 0, nil
	}
	h, w, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, errors.Errorf("shape %q is not HxW", s)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "shape %q", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "shape %q", s)
	}
	return height, width, nil
}

func main() {
	var (
		cfgPath, directory, arch, loss, colorMode, tag, outDir, shape, registry, showID string
		nbImages, batch, workers, logEvery                                              int
		seed                                                                            int64
		maxLR                                                                           float64
		inspect                                                                         boolFlag
		listOnly                                                                        bool
	)
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config")
	flag.StringVar(&directory, "directory", "", "Dataset directory holding train/ and test/")
	flag.StringVar(&directory, "d", "", "Shorthand for -directory")
	flag.StringVar(&arch, "architecture", "", "Model architecture: mvtec, mvtec2, resnet, nasnet")
	flag.StringVar(&arch, "a", "", "Shorthand for -architecture")
	flag.IntVar(&nbImages, "nb-images", 0, "Number of training images to generate with augmentation")
	flag.IntVar(&nbImages, "n", 0, "Shorthand for -nb-images")
	flag.IntVar(&batch, "batch", 0, "Batch size")
	flag.IntVar(&batch, "b", 0, "Shorthand for -batch")
	flag.StringVar(&loss, "loss", "", "Loss function: ssim, mssim, l2, mse")
	flag.StringVar(&loss, "l", "", "Shorthand for -loss")
	flag.StringVar(&colorMode, "color", "", "Color mode: grayscale, rgb")
	flag.StringVar(&colorMode, "c", "", "Shorthand for -color")
	flag.Var(&inspect, "inspect", "Generate inspection plots after training")
	flag.Var(&inspect, "i", "Shorthand for -inspect")
	flag.StringVar(&tag, "tag", "", "Tag stored in setup.json")
	flag.StringVar(&tag, "t", "", "Shorthand for -tag")
	flag.Float64Var(&maxLR, "max-lr", 0, "Maximum learning rate; skips the interactive choice")
	flag.IntVar(&workers, "workers", 0, "Number of image loader workers")
	flag.Int64Var(&seed, "seed", 0, "PRNG seed")
	flag.StringVar(&outDir, "out", "", "Output root for saved_models")
	flag.StringVar(&shape, "shape", "", "Override the input shape as HxW")
	flag.StringVar(&registry, "registry", "", "SQLite run registry path")
	flag.IntVar(&logEvery, "log-every", 0, "Log every N steps")
	flag.BoolVar(&listOnly, "list-runs", false, "List the runs in the registry, filtered by -architecture, and exit")
	flag.StringVar(&showID, "show-run", "", "Print one run of the registry and exit")

	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	height, width, err := parseShape(shape)
	if err != nil {
		log.Fatalf("invalid flags: %v", err)
	}

	o := config.Overrides{
		Directory:    directory,
		Architecture: arch,
		NbImages:     nbImages,
		BatchSize:    batch,
		Loss:         loss,
		Color:        colorMode,
		Tag:          tag,
		MaxLR:        maxLR,
		NumWorkers:   workers,
		Seed:         seed,
		OutDir:       outDir,
		Height:       height,
		Width:        width,
		Registry:     registry,
		LogEvery:     logEvery,
	}
	if listOnly || showID != "" {
		cfg.ApplyOverrides(config.Overrides{Registry: registry})
		if cfg.Registry == "" {
			log.Fatalf("-list-runs and -show-run need a -registry")
		}
		ctx := context.Background()
		if listOnly {
			err = listRuns(ctx, os.Stdout, cfg.Registry, arch)
		} else {
			err = showRun(ctx, os.Stdout, cfg.Registry, showID)
		}
		if err != nil {
			log.Fatalf("registry: %v", err)
		}
		return
	}
	if inspect.set {
		o.Inspect = &inspect.value
	}
	cfg.ApplyOverrides(o)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := trainer.Run(ctx, trainer.RunConfig{
		Config: cfg,
		MaxLR:  consoleMaxLR(os.Stdin, os.Stdout),
	})
	if err != nil {
		log.Fatalf("training failed: %v", err)
	}
	log.Printf("done run=%s epochs=%d max_lr=%g save_dir=%s", res.RunID, res.Epochs, res.MaxLR, res.SaveDir)
}
