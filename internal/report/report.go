// Package report writes a human readable summary of a training run as
// markdown and as HTML rendered from it.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomarkdown/markdown"
	mhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/pkg/errors"
)

// Epoch is one row of the history table.
type Epoch struct {
	Loss, ValLoss, ValMetric float64
}

// Summary is the content of a report.
type Summary struct {
	RunID        string
	Directory    string
	Architecture string
	Loss         string
	Color        string
	BatchSize    int
	Tag          string
	TrainImages  int
	ValImages    int
	Epochs       int
	MaxLR        float64
	SteepestLR   float64
	MinLossLR    float64
	MetricName   string
	History      []Epoch
	BestEpoch    int // 1-based, 0 when no validation loss was recorded
	StoppedEarly bool
	Images       []string
}

// Markdown renders the summary.
func Markdown(s Summary) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Training run %s\n\n", s.RunID)
	b.WriteString("| setting | value |\n|---|---|\n")
	for _, row := range [][2]string{
		{"directory", s.Directory},
		{"architecture", s.Architecture},
		{"loss", s.Loss},
		{"color mode", s.Color},
		{"batch size", fmt.Sprint(s.BatchSize)},
		{"tag", s.Tag},
		{"training images", fmt.Sprint(s.TrainImages)},
		{"validation images", fmt.Sprint(s.ValImages)},
		{"epochs", fmt.Sprint(s.Epochs)},
	} {
		fmt.Fprintf(&b, "| %s | %s |\n", row[0], row[1])
	}

	b.WriteString("\n## Learning rate\n\n")
	fmt.Fprintf(&b, "- steepest descent suggestion: `%.3g`\n", s.SteepestLR)
	fmt.Fprintf(&b, "- minimum loss / 10 suggestion: `%.3g`\n", s.MinLossLR)
	fmt.Fprintf(&b, "- chosen maximum: `%.3g`\n", s.MaxLR)

	if len(s.History) > 0 {
		metric := s.MetricName
		if metric == "" {
			metric = "metric"
		}
		b.WriteString("\n## History\n\n")
		fmt.Fprintf(&b, "| epoch | loss | val_loss | val_%s |\n|---|---|---|---|\n", metric)
		for i, e := range s.History {
			fmt.Fprintf(&b, "| %d | %.5f | %.5f | %.4f |\n", i+1, e.Loss, e.ValLoss, e.ValMetric)
		}
		if s.BestEpoch > 0 {
			fmt.Fprintf(&b, "\nBest validation loss at epoch %d.\n", s.BestEpoch)
		}
		if s.StoppedEarly {
			b.WriteString("\nTraining stopped early: validation loss did not improve.\n")
		}
	}

	if len(s.Images) > 0 {
		b.WriteString("\n## Plots\n\n")
		for _, img := range s.Images {
			fmt.Fprintf(&b, "![%s](%s)\n\n", strings.TrimSuffix(img, filepath.Ext(img)), img)
		}
	}
	return []byte(b.String())
}

// HTML converts markdown to an HTML fragment.
func HTML(md []byte) []byte {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse(md)

	htmlFlags := mhtml.CommonFlags | mhtml.HrefTargetBlank
	renderer := mhtml.NewRenderer(mhtml.RendererOptions{Flags: htmlFlags})
	return markdown.Render(doc, renderer)
}

// Write stores report.md and report.html in dir.
func Write(dir string, s Summary) error {
	md := Markdown(s)
	if err := os.WriteFile(filepath.Join(dir, "report.md"), md, 0o644); err != nil {
		return errors.Wrap(err, "write markdown report")
	}
	if err := os.WriteFile(filepath.Join(dir, "report.html"), HTML(md), 0o644); err != nil {
		return errors.Wrap(err, "write html report")
	}
	return nil
}
