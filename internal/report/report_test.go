package report

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sqfit/internal/cloud"
	"github.com/banshee-data/sqfit/internal/fsutil"
	"github.com/banshee-data/sqfit/internal/storage"
	"github.com/banshee-data/sqfit/internal/testutil"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func TestStepPoints_DropsUnplottable(t *testing.T) {
	t.Parallel()
	pts := stepPoints([]float64{0.5, math.NaN(), 0, -1, math.Inf(1), 0.01})
	require.Len(t, pts, 2)
	assert.Equal(t, 1.0, pts[0].X)
	assert.Equal(t, 6.0, pts[1].X)
	assert.Equal(t, 0.01, pts[1].Y)
}

func TestConvergencePlot_LogAxis(t *testing.T) {
	t.Parallel()
	p, err := ConvergencePlot("fit", []float64{1, 0.1, 0.001}, 0.005)
	require.NoError(t, err)
	assert.Equal(t, 0.0005, p.Y.Min)
	assert.Equal(t, 2.0, p.Y.Max)

	// A single step still gets a positive, non-degenerate range.
	p, err = ConvergencePlot("fit", []float64{0.001}, 0)
	require.NoError(t, err)
	assert.Greater(t, p.Y.Min, 0.0)
	assert.Less(t, p.Y.Min, p.Y.Max)
}

func TestWriteConvergencePNG(t *testing.T) {
	t.Parallel()
	for _, steps := range [][]float64{
		{0.8, 0.2, 0.03, 0.004},
		{0.001},
		nil,
		{math.NaN(), math.NaN()},
	} {
		var buf bytes.Buffer
		require.NoError(t, WriteConvergencePNG(&buf, "fit", steps, 0.005))
		assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic), "steps %v", steps)
	}
}

func TestWriteConvergencePlot_FileSystem(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()
	require.NoError(t, WriteConvergencePlot(fsys, "plots/run.png", "fit", []float64{0.5, 0.05}, 0.005))

	assert.True(t, fsys.Exists("plots"))
	data, err := fsys.ReadFile("plots/run.png")
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, pngMagic))
}

func TestWriteHTML(t *testing.T) {
	t.Parallel()
	run := &storage.FitRun{RunID: "run-1", Final: testutil.ReferenceShape, Iterations: 3, Converged: true}
	set := testutil.SuperquadricCloud(testutil.ReferenceShape, 100, 0.01, 4)

	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, run, []float64{0.5, 0.05, 0.001}, set))
	html := buf.String()
	assert.Contains(t, html, "Fit run-1")
	assert.Contains(t, html, "Step size")
	assert.Contains(t, html, "Residuals")
	assert.Contains(t, html, "iterations=3")
}

func TestWriteHTML_WithoutPoints(t *testing.T) {
	t.Parallel()
	run := &storage.FitRun{RunID: "run-2", Final: testutil.ReferenceShape}

	var buf bytes.Buffer
	require.NoError(t, WriteHTML(&buf, run, []float64{math.NaN()}, nil))
	assert.Contains(t, buf.String(), "Step size")
	assert.NotContains(t, buf.String(), "Residuals")
}

func TestResidualScatter_StridesAndSkipsNaN(t *testing.T) {
	t.Parallel()
	pts := testutil.UnitSpherePoints(MaxScatterPoints*2+10, 1)
	pts[0].X = math.NaN()
	set := cloud.NewSampleSet(pts)

	var buf bytes.Buffer
	require.NoError(t, ResidualScatter(testutil.ReferenceShape, set).Render(&buf))
	assert.Contains(t, buf.String(), "stride=3")
	assert.False(t, strings.Contains(buf.String(), "NaN"))
}

func TestSteps(t *testing.T) {
	t.Parallel()
	got := Steps([]storage.IterationRecord{{Step: 0.5}, {Step: 0.25}})
	assert.Equal(t, []float64{0.5, 0.25}, got)
	assert.Empty(t, Steps(nil))
}
