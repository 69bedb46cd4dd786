package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"cae-forge/internal/model"
)

func validConfig() *Config {
	c := Default()
	c.Directory = "mvtec/capsule"
	c.Architecture = "mvtec2"
	c.BatchSize = 8
	c.Loss = "ssim"
	c.Color = "grayscale"
	return c
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.yaml")
	yml := "directory: mvtec/bottle\narchitecture: resnet\nbatch_size: 12\nloss: mssim\ncolor: rgb\ninspect: false\n"
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NbImages != 10000 || cfg.Patience != 12 || cfg.ValidationSplit != 0.1 || cfg.Inspect {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Loss != "MSSIM" {
		t.Fatalf("loss not normalised: %q", cfg.Loss)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.yaml")
	if err := os.WriteFile(path, []byte("epochs: 3\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected error for unknown key")
	}
}

func TestApplyOverrides(t *testing.T) {
	cfg := validConfig()
	off := false
	cfg.ApplyOverrides(Overrides{BatchSize: 4, Inspect: &off, MaxLR: 1e-3, Tag: "run1"})
	if cfg.BatchSize != 4 || cfg.Inspect || cfg.MaxLR != 1e-3 || cfg.Tag != "run1" || cfg.Architecture != "mvtec2" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestValidityTable(t *testing.T) {
	cases := []struct {
		arch, color, loss string
		msg               string
	}{
		{"mvtec", "grayscale", "ssim", ""},
		{"mvtec", "grayscale", "l2", ""},
		{"mvtec2", "grayscale", "mse", ""},
		{"mvtec", "rgb", "mssim", ""},
		{"mvtec2", "rgb", "l2", ""},
		{"resnet", "rgb", "mse", ""},
		{"nasnet", "rgb", "mssim", ""},
		{"resnet", "grayscale", "l2", "resnet expects rgb images"},
		{"nasnet", "grayscale", "l2", "nasnet expects rgb images"},
		{"mvtec", "grayscale", "mssim", "mssim works only with rgb images"},
		{"mvtec", "rgb", "ssim", "ssim works only with grayscale images"},
	}
	for _, tc := range cases {
		cfg := validConfig()
		cfg.Architecture, cfg.Color, cfg.Loss = tc.arch, tc.color, tc.loss
		err := cfg.Validate()
		if tc.msg == "" {
			if err != nil {
				t.Fatalf("%s/%s/%s: unexpected error %v", tc.arch, tc.color, tc.loss, err)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidCombination) || !strings.Contains(err.Error(), tc.msg) {
			t.Fatalf("%s/%s/%s: got %v want %q", tc.arch, tc.color, tc.loss, err, tc.msg)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"directory":    func(c *Config) { c.Directory = "" },
		"architecture": func(c *Config) { c.Architecture = "vgg16" },
		"color":        func(c *Config) { c.Color = "cmyk" },
		"loss":         func(c *Config) { c.Loss = "perceptual" },
		"batch":        func(c *Config) { c.BatchSize = 0 },
		"split":        func(c *Config) { c.ValidationSplit = 1 },
		"shape":        func(c *Config) { c.Height = 64 },
	} {
		cfg := validConfig()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestPreprocessingShapeOverride(t *testing.T) {
	cfg := validConfig()
	p, err := cfg.Preprocessing()
	if err != nil || p.Shape != (model.Shape{Height: 256, Width: 256}) {
		t.Fatalf("default shape %+v, %v", p.Shape, err)
	}
	cfg.Height, cfg.Width = 64, 48
	p, _ = cfg.Preprocessing()
	if p.Shape != (model.Shape{Height: 64, Width: 48}) {
		t.Fatalf("override shape %+v", p.Shape)
	}
}
