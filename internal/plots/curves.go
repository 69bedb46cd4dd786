// Package plots renders training curves and inspection panels as PNG files.
package plots

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const (
	plotWidth  = 6 * vg.Inch
	plotHeight = 4 * vg.Inch
)

// finiteXYs keeps the points whose coordinates are finite and, when logX is
// set, whose x is positive.
func finiteXYs(xs, ys []float64, logX bool) plotter.XYs {
	pts := make(plotter.XYs, 0, len(xs))
	for i := range xs {
		if i >= len(ys) {
			break
		}
		x, y := xs[i], ys[i]
		if math.IsNaN(x) || math.IsInf(x, 0) || math.IsNaN(y) || math.IsInf(y, 0) {
			continue
		}
		if logX && x <= 0 {
			continue
		}
		pts = append(pts, plotter.XY{X: x, Y: y})
	}
	return pts
}

// Marker is a labelled point drawn on top of a curve.
type Marker struct {
	Label string
	X     float64
}

// LRFinder plots smoothed loss against a log-scaled learning rate. The first
// skipBegin and last skipEnd points are left out, as they are dominated by
// smoothing warm-up and divergence.
func LRFinder(path string, lrs, losses []float64, skipBegin, skipEnd int, markers ...Marker) error {
	if len(lrs) > skipBegin+skipEnd {
		lrs = lrs[skipBegin : len(lrs)-skipEnd]
		losses = losses[skipBegin : len(losses)-skipEnd]
	}
	pts := finiteXYs(lrs, losses, true)
	if len(pts) == 0 {
		return errors.New("plots: no finite learning-rate points")
	}

	p := plot.New()
	p.Title.Text = "Learning rate finder"
	p.X.Label.Text = "learning rate (log scale)"
	p.Y.Label.Text = "loss"
	p.X.Scale = plot.LogScale{}
	p.X.Tick.Marker = plot.LogTicks{Prec: -1}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return errors.Wrap(err, "lr finder line")
	}
	p.Add(line)

	for i, m := range markers {
		y, ok := nearestY(pts, m.X)
		if !ok {
			continue
		}
		sc, err := plotter.NewScatter(plotter.XYs{{X: m.X, Y: y}})
		if err != nil {
			return errors.Wrap(err, "lr finder marker")
		}
		sc.GlyphStyle.Color = palette(i)
		sc.GlyphStyle.Radius = vg.Points(4)
		p.Add(sc)
		p.Legend.Add(m.Label, sc)
	}
	return save(p, path)
}

func nearestY(pts plotter.XYs, x float64) (float64, bool) {
	if x <= 0 || len(pts) == 0 {
		return 0, false
	}
	best, y := math.Inf(1), 0.0
	for _, pt := range pts {
		if d := math.Abs(math.Log(pt.X) - math.Log(x)); d < best {
			best, y = d, pt.Y
		}
	}
	return y, true
}

// Loss plots training and validation loss per epoch.
func Loss(path string, loss, valLoss []float64) error {
	p := plot.New()
	p.Title.Text = "Model loss"
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "loss"
	p.Legend.Top = true

	for i, series := range []struct {
		name string
		ys   []float64
	}{{"train", loss}, {"validation", valLoss}} {
		xs := make([]float64, len(series.ys))
		for j := range xs {
			xs[j] = float64(j + 1)
		}
		pts := finiteXYs(xs, series.ys, false)
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return errors.Wrapf(err, "%s loss line", series.name)
		}
		line.Color = palette(i)
		p.Add(line)
		p.Legend.Add(series.name, line)
	}
	return save(p, path)
}

// LR plots the learning rate of every step.
func LR(path string, lrs []float64) error {
	xs := make([]float64, len(lrs))
	for i := range xs {
		xs[i] = float64(i)
	}
	pts := finiteXYs(xs, lrs, false)
	if len(pts) == 0 {
		return errors.New("plots: no learning rates to plot")
	}
	p := plot.New()
	p.Title.Text = "Learning rate schedule"
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "learning rate"
	line, err := plotter.NewLine(pts)
	if err != nil {
		return errors.Wrap(err, "lr line")
	}
	p.Add(line)
	return save(p, path)
}

func save(p *plot.Plot, path string) error {
	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return errors.Wrapf(err, "save plot %s", path)
	}
	return nil
}
