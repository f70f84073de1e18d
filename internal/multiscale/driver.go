// Package multiscale runs superquadric fits coarse-to-fine over voxel
// downsampled copies of a cloud, and optionally from several perturbed
// starting points at once.
package multiscale

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/sqfit/internal/cloud"
	"github.com/banshee-data/sqfit/internal/fit"
	"github.com/banshee-data/sqfit/internal/superquadric"
)

// Defaults for Config.
const (
	DefaultLevels            = 3
	DefaultResidualThreshold = 0.01
	DefaultRestartJitter     = 0.1

	// Fractions of the bounding-box diagonal used when the voxel sizes
	// are not configured.
	autoVoxelMaxFraction = 1.0 / 10
	autoVoxelMinFraction = 1.0 / 40
)

// ErrInvalidConfig is returned when voxel sizes are inconsistent.
var ErrInvalidConfig = errors.New("multiscale: invalid configuration")

// Config controls the coarse-to-fine schedule.
type Config struct {
	// Solver is the tuning of every per-level fit.
	Solver fit.Config
	// VoxelMax and VoxelMin are the coarsest and finest leaf sizes. Zero
	// derives them from the cloud's bounding-box diagonal.
	VoxelMax float64
	VoxelMin float64
	// Levels is the number of geometric steps from VoxelMax to VoxelMin.
	Levels int
	// ResidualThreshold stops the schedule once the mean |F^e1 − 1| over
	// the full cloud is at or below it.
	ResidualThreshold float64
	// Restarts is the number of additional perturbed starts RunRestarts
	// tries besides the PCA guess.
	Restarts int
	// RestartJitter scales the perturbation of each restart.
	RestartJitter float64
	// Seed makes restarts reproducible.
	Seed int64
	// Parallelism bounds concurrent restarts; zero means unbounded.
	Parallelism int
}

func (c Config) withDefaults() Config {
	if c.Levels <= 0 {
		c.Levels = DefaultLevels
	}
	if c.ResidualThreshold <= 0 {
		c.ResidualThreshold = DefaultResidualThreshold
	}
	if c.RestartJitter <= 0 {
		c.RestartJitter = DefaultRestartJitter
	}
	if c.Restarts < 0 {
		c.Restarts = 0
	}
	return c
}

// VoxelSizes returns the leaf sizes of the schedule, coarsest first.
// Sizes shrink geometrically from hi to lo over levels steps; a single
// level uses hi alone.
func VoxelSizes(hi, lo float64, levels int) []float64 {
	if levels <= 1 {
		return []float64{hi}
	}
	sizes := make([]float64, levels)
	ratio := lo / hi
	for k := range sizes {
		sizes[k] = hi * math.Pow(ratio, float64(k)/float64(levels-1))
	}
	sizes[levels-1] = lo
	return sizes
}

// Level records one step of the schedule.
type Level struct {
	Index        int
	Leaf         float64
	Points       int
	Result       fit.Result
	MeanResidual float64
}

// Report is the outcome of a multiscale run.
type Report struct {
	Restart      int
	Initial      superquadric.Params
	Params       superquadric.Params
	Levels       []Level
	MeanResidual float64
	// ThresholdReached is true when some level met ResidualThreshold.
	ThresholdReached bool
}

// Converged reports whether the last level's fit converged.
func (r Report) Converged() bool {
	if len(r.Levels) == 0 {
		return false
	}
	return r.Levels[len(r.Levels)-1].Result.Converged
}

// Iterations returns the total Newton rounds over all levels.
func (r Report) Iterations() int {
	n := 0
	for _, l := range r.Levels {
		n += l.Result.Iterations
	}
	return n
}

// Steps concatenates the step norms of all levels in order.
func (r Report) Steps() []float64 {
	var steps []float64
	for _, l := range r.Levels {
		steps = append(steps, l.Result.Steps...)
	}
	return steps
}

// Skipped returns the total of skipped NaN elements over all levels.
func (r Report) Skipped() int {
	n := 0
	for _, l := range r.Levels {
		n += l.Result.SkippedTotal
	}
	return n
}

// Observer receives every Newton round of every level. RunRestarts may
// call it from several goroutines at once.
type Observer func(restart, level int, it fit.Iteration)

// Driver runs the schedule. It is safe for concurrent use once
// configured.
type Driver struct {
	cfg      Config
	oracle   superquadric.Oracle
	observer Observer
}

// NewDriver creates a driver. A nil oracle selects the analytic one.
func NewDriver(cfg Config, oracle superquadric.Oracle) *Driver {
	return &Driver{cfg: cfg.withDefaults(), oracle: oracle}
}

// OnIteration installs fn as the observer; nil removes it.
func (d *Driver) OnIteration(fn Observer) {
	d.observer = fn
}

// Config returns the effective configuration.
func (d *Driver) Config() Config {
	return d.cfg
}

// Run fits set starting from its PCA guess.
func (d *Driver) Run(ctx context.Context, set *cloud.SampleSet) (Report, error) {
	finite := set.Finite()
	guess, err := superquadric.InitialGuess(finite.Points())
	if err != nil {
		return Report{}, err
	}
	return d.run(ctx, 0, guess, finite)
}

// RunFrom fits set starting from initial.
func (d *Driver) RunFrom(ctx context.Context, initial superquadric.Params, set *cloud.SampleSet) (Report, error) {
	finite := set.Finite()
	if finite.Len() == 0 {
		return Report{}, superquadric.ErrEmptySampleSet
	}
	return d.run(ctx, 0, initial, finite)
}

func (d *Driver) schedule(set *cloud.SampleSet) ([]float64, error) {
	vmax, vmin := d.cfg.VoxelMax, d.cfg.VoxelMin
	if vmax == 0 || vmin == 0 {
		b := set.Bounds()
		diag := math.Sqrt(math.Pow(b.Max.X-b.Min.X, 2) + math.Pow(b.Max.Y-b.Min.Y, 2) + math.Pow(b.Max.Z-b.Min.Z, 2))
		if vmax == 0 {
			vmax = diag * autoVoxelMaxFraction
		}
		if vmin == 0 {
			vmin = diag * autoVoxelMinFraction
		}
	}
	if vmax < 0 || vmin < 0 || vmin > vmax {
		return nil, fmt.Errorf("%w: voxel_min %g, voxel_max %g", ErrInvalidConfig, vmin, vmax)
	}
	if vmin == 0 {
		// Degenerate cloud: every point in one spot. Fit it whole.
		return []float64{0}, nil
	}
	return VoxelSizes(vmax, vmin, d.cfg.Levels), nil
}

func (d *Driver) run(ctx context.Context, restart int, initial superquadric.Params, set *cloud.SampleSet) (Report, error) {
	sizes, err := d.schedule(set)
	if err != nil {
		return Report{}, err
	}

	rep := Report{Restart: restart, Initial: initial, Params: initial, MeanResidual: math.NaN()}
	p := initial
	for k, leaf := range sizes {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		sub := cloud.VoxelDownsample(set, leaf)
		if sub.Len() < superquadric.NumParams && k < len(sizes)-1 {
			opsf("restart %d level %d: %d points at leaf %.4g, skipping", restart, k, sub.Len(), leaf)
			continue
		}

		solver := fit.NewSolver(d.cfg.Solver, d.oracle)
		if d.observer != nil {
			obs, level := d.observer, k
			solver.OnIteration(func(it fit.Iteration) {
				tracef("restart %d level %d iteration %d: step=%.6g", restart, level, it.N, it.Step)
				obs(restart, level, it)
			})
		}
		res := solver.Minimize(p, sub)
		mr := fit.MeanResidual(res.Params, set)
		rep.Levels = append(rep.Levels, Level{Index: k, Leaf: leaf, Points: sub.Len(), Result: res, MeanResidual: mr})
		diagf("restart %d level %d: leaf=%.4g points=%d iterations=%d converged=%t residual=%.6g",
			restart, k, leaf, sub.Len(), res.Iterations, res.Converged, mr)

		if res.Params.HasNaN() {
			opsf("restart %d level %d: fit diverged to NaN; keeping previous parameters", restart, k)
			continue
		}
		p = res.Params
		rep.Params = p
		rep.MeanResidual = mr
		if mr <= d.cfg.ResidualThreshold {
			rep.ThresholdReached = true
			break
		}
	}
	return rep, nil
}

// RunRestarts runs the schedule from the PCA guess and from Restarts
// perturbations of it concurrently, and returns the report with the
// lowest mean residual. Ties go to the lower restart index, so the
// outcome does not depend on goroutine scheduling.
func (d *Driver) RunRestarts(ctx context.Context, set *cloud.SampleSet) (Report, error) {
	finite := set.Finite()
	guess, err := superquadric.InitialGuess(finite.Points())
	if err != nil {
		return Report{}, err
	}

	starts := make([]superquadric.Params, d.cfg.Restarts+1)
	starts[0] = guess
	for i := 1; i < len(starts); i++ {
		rng := rand.New(rand.NewSource(d.cfg.Seed + int64(i)))
		starts[i] = superquadric.Perturb(guess, d.cfg.RestartJitter, rng)
	}

	reports := make([]Report, len(starts))
	g, ctx := errgroup.WithContext(ctx)
	if d.cfg.Parallelism > 0 {
		g.SetLimit(d.cfg.Parallelism)
	}
	for i, start := range starts {
		g.Go(func() error {
			rep, err := d.run(ctx, i, start, finite)
			if err != nil {
				return err
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Report{}, err
	}

	best := 0
	for i := 1; i < len(reports); i++ {
		if better(reports[i].MeanResidual, reports[best].MeanResidual) {
			best = i
		}
	}
	diagf("best of %d starts: restart %d residual=%.6g", len(reports), best, reports[best].MeanResidual)
	return reports[best], nil
}

// better orders residuals ascending with NaN last.
func better(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	return math.IsNaN(b) || a < b
}
