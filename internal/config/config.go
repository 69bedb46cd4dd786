package config

import (
	"bytes"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"cae-forge/internal/dataset"
	"cae-forge/internal/losses"
	"cae-forge/internal/model"
)

// ErrInvalidCombination is returned for architecture, color mode and loss
// combinations that cannot be trained together.
var ErrInvalidCombination = errors.New("invalid combination")

// Config captures the runtime knobs for a training run.
type Config struct {
	Directory       string  `yaml:"directory"`
	Architecture    string  `yaml:"architecture"`
	NbImages        int     `yaml:"nb_images"`
	BatchSize       int     `yaml:"batch_size"`
	Loss            string  `yaml:"loss"`
	Color           string  `yaml:"color"`
	Inspect         bool    `yaml:"inspect"`
	Tag             string  `yaml:"tag"`
	MaxLR           float64 `yaml:"max_lr"`
	NumWorkers      int     `yaml:"num_workers"`
	Seed            int64   `yaml:"seed"`
	OutDir          string  `yaml:"out_dir"`
	Height          int     `yaml:"height"`
	Width           int     `yaml:"width"`
	Registry        string  `yaml:"registry"`
	ValidationSplit float64 `yaml:"validation_split"`
	Patience        int     `yaml:"patience"`
	LogEvery        int     `yaml:"log_every"`
	Augment         bool    `yaml:"augment"`
}

// Default returns the settings used when neither file nor flags set a value.
func Default() *Config {
	return &Config{
		NbImages:        10000,
		Inspect:         true,
		NumWorkers:      4,
		Seed:            42,
		OutDir:          ".",
		ValidationSplit: 0.1,
		Patience:        12,
		LogEvery:        10,
		Augment:         true,
	}
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Directory    string
	Architecture string
	NbImages     int
	BatchSize    int
	Loss         string
	Color        string
	Inspect      *bool
	Tag          string
	MaxLR        float64
	NumWorkers   int
	Seed         int64
	OutDir       string
	Height       int
	Width        int
	Registry     string
	LogEvery     int
}

// Load reads a Config from YAML on top of the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Directory != "" {
		c.Directory = o.Directory
	}
	if o.Architecture != "" {
		c.Architecture = o.Architecture
	}
	if o.NbImages > 0 {
		c.NbImages = o.NbImages
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.Loss != "" {
		c.Loss = o.Loss
	}
	if o.Color != "" {
		c.Color = o.Color
	}
	if o.Inspect != nil {
		c.Inspect = *o.Inspect
	}
	if o.Tag != "" {
		c.Tag = o.Tag
	}
	if o.MaxLR > 0 {
		c.MaxLR = o.MaxLR
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.OutDir != "" {
		c.OutDir = o.OutDir
	}
	if o.Height > 0 {
		c.Height = o.Height
	}
	if o.Width > 0 {
		c.Width = o.Width
	}
	if o.Registry != "" {
		c.Registry = o.Registry
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
}

// Validate verifies the config is runnable and normalises the architecture,
// loss and color names.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Directory == "" {
		return errors.New("directory must be set")
	}
	arch, err := model.ParseArchitecture(c.Architecture)
	if err != nil {
		return err
	}
	color, err := dataset.ParseColorMode(c.Color)
	if err != nil {
		return err
	}
	loss := strings.ToUpper(c.Loss)
	if _, err := losses.New(loss, 1); err != nil {
		return err
	}
	c.Architecture, c.Color, c.Loss = string(arch), string(color), loss

	if err := CheckCombination(arch, color, loss); err != nil {
		return err
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.NbImages <= 0 {
		return errors.Errorf("nb_images must be > 0 (got %d)", c.NbImages)
	}
	if c.NumWorkers <= 0 {
		return errors.Errorf("num_workers must be > 0 (got %d)", c.NumWorkers)
	}
	if c.ValidationSplit < 0 || c.ValidationSplit >= 1 {
		return errors.Errorf("validation_split must be in [0, 1) (got %g)", c.ValidationSplit)
	}
	if c.MaxLR < 0 {
		return errors.Errorf("max_lr must be >= 0 (got %g)", c.MaxLR)
	}
	if (c.Height > 0) != (c.Width > 0) {
		return errors.Errorf("height and width must be set together (got %dx%d)", c.Height, c.Width)
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 10
	}
	return nil
}

// CheckCombination applies the compatibility table:
//
//	                 mvtec, mvtec2    resnet, nasnet
//	grayscale        SSIM, L2, MSE    not valid
//	rgb              MSSIM, L2, MSE   MSSIM, L2, MSE
func CheckCombination(arch model.Architecture, color dataset.ColorMode, loss string) error {
	switch {
	case arch == model.ResNet && color == dataset.Grayscale:
		return errors.Wrap(ErrInvalidCombination, "resnet expects rgb images")
	case arch == model.NASNet && color == dataset.Grayscale:
		return errors.Wrap(ErrInvalidCombination, "nasnet expects rgb images")
	case loss == "MSSIM" && color == dataset.Grayscale:
		return errors.Wrap(ErrInvalidCombination, "mssim works only with rgb images")
	case loss == "SSIM" && color == dataset.RGB:
		return errors.Wrap(ErrInvalidCombination, "ssim works only with grayscale images")
	}
	return nil
}

// Preprocessing returns the architecture's preprocessing with the configured
// shape applied.
func (c *Config) Preprocessing() (model.Preprocessing, error) {
	p, err := model.PreprocessingFor(model.Architecture(c.Architecture))
	if err != nil {
		return model.Preprocessing{}, err
	}
	if c.Height > 0 && c.Width > 0 {
		p.Shape = model.Shape{Height: c.Height, Width: c.Width}
	}
	return p, nil
}
