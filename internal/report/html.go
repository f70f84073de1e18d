package report

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/sqfit/internal/cloud"
	"github.com/banshee-data/sqfit/internal/storage"
	"github.com/banshee-data/sqfit/internal/superquadric"
)

// AssetsHost overrides where the rendered pages load echarts from. Empty
// uses the go-echarts default CDN.
var AssetsHost = ""

// MaxScatterPoints bounds the residual scatter; larger clouds are
// strided.
const MaxScatterPoints = 8000

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

func initOpts(title string) opts.Initialization {
	return opts.Initialization{PageTitle: title, Width: "900px", Height: "500px", AssetsHost: AssetsHost}
}

// StepChart is a line chart of the step size of each iteration on a log
// axis. Steps that cannot be drawn on a log axis are left out.
func StepChart(run *storage.FitRun, steps []float64) *charts.Line {
	x := make([]int, 0, len(steps))
	y := make([]opts.LineData, 0, len(steps))
	for _, pt := range stepPoints(steps) {
		x = append(x, int(pt.X))
		y = append(y, opts.LineData{Value: pt.Y})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(initOpts("Convergence")),
		charts.WithTitleOpts(opts.Title{
			Title:    "Step size",
			Subtitle: fmt.Sprintf("run=%s iterations=%d converged=%t", run.RunID, run.Iterations, run.Converged),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Iteration", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Step", Type: "log"}),
	)
	line.SetXAxis(x).AddSeries("step", y, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))
	return line
}

// ResidualScatter projects the cloud onto the X-Y plane and colours each
// point by |F^e1 − 1| under p. Non-finite points and residuals are
// skipped.
func ResidualScatter(p superquadric.Params, set *cloud.SampleSet) *charts.Scatter {
	n := set.Len()
	stride := 1
	if n > MaxScatterPoints {
		stride = int(math.Ceil(float64(n) / float64(MaxScatterPoints)))
	}

	data := make([]opts.ScatterData, 0, n/stride+1)
	maxRes := 0.0
	for i := 0; i < n; i += stride {
		pt := set.At(i)
		r := math.Abs(superquadric.Residual(p, pt))
		if math.IsNaN(r) || math.IsInf(r, 0) || math.IsNaN(pt.X) || math.IsNaN(pt.Y) || math.IsNaN(pt.Z) {
			continue
		}
		maxRes = math.Max(maxRes, r)
		data = append(data, opts.ScatterData{Value: []interface{}{pt.X, pt.Y, r}})
	}
	if maxRes == 0 {
		maxRes = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Residuals", Width: "900px", Height: "900px", AssetsHost: AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Residuals", Subtitle: fmt.Sprintf("points=%d stride=%d", len(data), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "X", NameLocation: "middle", NameGap: 25, Scale: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Y", NameLocation: "middle", NameGap: 30, Scale: opts.Bool(true)}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxRes),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	scatter.AddSeries("residual", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	return scatter
}

// WriteHTML renders a page with the step chart and, when set is non-empty,
// the residual scatter of the run's final parameters.
func WriteHTML(w io.Writer, run *storage.FitRun, steps []float64, set *cloud.SampleSet) error {
	page := components.NewPage()
	page.SetPageTitle("Fit " + run.RunID)
	if AssetsHost != "" {
		page.SetAssetsHost(AssetsHost)
	}
	page.AddCharts(StepChart(run, steps))
	if set.Len() > 0 {
		page.AddCharts(ResidualScatter(run.Final, set))
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("failed to render chart: %w", err)
	}
	return nil
}

// Steps extracts the step sizes of a stored history.
func Steps(history []storage.IterationRecord) []float64 {
	out := make([]float64, len(history))
	for i, it := range history {
		out[i] = it.Step
	}
	return out
}
