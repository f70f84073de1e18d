// Package report renders fit runs as PNG convergence plots and HTML
// pages.
package report

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/sqfit/internal/fsutil"
)

// Plot dimensions for WriteConvergencePlot.
var (
	PlotWidth  = 10 * vg.Inch
	PlotHeight = 5 * vg.Inch
)

// stepPoints pairs each usable step with its 1-based iteration number.
// Non-finite and non-positive steps cannot be placed on a log axis and
// are dropped.
func stepPoints(steps []float64) plotter.XYs {
	pts := make(plotter.XYs, 0, len(steps))
	for i, s := range steps {
		if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			continue
		}
		pts = append(pts, plotter.XY{X: float64(i + 1), Y: s})
	}
	return pts
}

// ConvergencePlot builds a step-size vs iteration plot with a log-scale Y
// axis. threshold, when positive, is drawn as a horizontal reference
// line.
func ConvergencePlot(title string, steps []float64, threshold float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "Step size"
	p.Add(plotter.NewGrid())

	pts := stepPoints(steps)
	if len(pts) == 0 {
		// Nothing to put on a log axis; leave an empty linear plot.
		return p, nil
	}

	line, points, err := plotter.NewLinePoints(pts)
	if err != nil {
		return nil, err
	}
	line.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	line.Width = vg.Points(1)
	points.Color = line.Color
	points.Radius = vg.Points(2)
	p.Add(line, points)
	p.Legend.Add("step", line, points)

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, pt := range pts {
		lo = math.Min(lo, pt.Y)
		hi = math.Max(hi, pt.Y)
	}

	if threshold > 0 && !math.IsInf(threshold, 0) {
		last := math.Max(float64(len(steps)), 2)
		ref, err := plotter.NewLine(plotter.XYs{{X: 1, Y: threshold}, {X: last, Y: threshold}})
		if err != nil {
			return nil, err
		}
		ref.Color = color.RGBA{R: 214, G: 39, B: 40, A: 255}
		ref.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(ref)
		p.Legend.Add("threshold", ref)
		lo = math.Min(lo, threshold)
		hi = math.Max(hi, threshold)
	}

	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	// Explicit bounds keep a single-valued series off zero.
	p.Y.Min = lo / 2
	p.Y.Max = hi * 2

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WriteConvergencePNG renders ConvergencePlot to w as PNG.
func WriteConvergencePNG(w io.Writer, title string, steps []float64, threshold float64) error {
	p, err := ConvergencePlot(title, steps, threshold)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(PlotWidth, PlotHeight, "png")
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}

// WriteConvergencePlot writes the PNG to path on fsys, creating the
// parent directory.
func WriteConvergencePlot(fsys fsutil.FileSystem, path, title string, steps []float64, threshold float64) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create plot dir: %w", err)
		}
	}
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteConvergencePNG(f, title, steps, threshold); err != nil {
		f.Close()
		return fmt.Errorf("save convergence plot: %w", err)
	}
	return f.Close()
}
