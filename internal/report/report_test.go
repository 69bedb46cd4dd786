package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	s := Summary{
		RunID:        "abc",
		Directory:    "mvtec/capsule",
		Architecture: "mvtec2",
		Loss:         "SSIM",
		Color:        "grayscale",
		BatchSize:    8,
		Epochs:       2,
		MaxLR:        1e-3,
		MetricName:   "ssim",
		History:      []Epoch{{Loss: -0.5, ValLoss: -0.4, ValMetric: 0.4}, {Loss: -0.6, ValLoss: -0.55}},
		BestEpoch:    2,
		Images:       []string{"loss_plot.png"},
	}
	if err := Write(dir, s); err != nil {
		t.Fatalf("Write: %v", err)
	}
	md, err := os.ReadFile(filepath.Join(dir, "report.md"))
	if err != nil {
		t.Fatalf("read md: %v", err)
	}
	if !strings.Contains(string(md), "| val_ssim |") || !strings.Contains(string(md), "| 2 | -0.60000 |") {
		t.Fatalf("markdown missing history:\n%s", md)
	}
	if !strings.Contains(string(md), "Best validation loss at epoch 2.") {
		t.Fatalf("markdown missing best epoch:\n%s", md)
	}
	html, err := os.ReadFile(filepath.Join(dir, "report.html"))
	if err != nil {
		t.Fatalf("read html: %v", err)
	}
	for _, want := range []string{"<table>", "<h1", `<img src="loss_plot.png"`} {
		if !strings.Contains(string(html), want) {
			t.Fatalf("html missing %q:\n%s", want, html)
		}
	}
}
