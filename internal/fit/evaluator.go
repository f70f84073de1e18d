package fit

import (
	"context"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/sqfit/internal/cloud"
	"github.com/banshee-data/sqfit/internal/superquadric"
)

// ElementKind tells which derivative a skipped element belongs to.
type ElementKind int

const (
	GradientElement ElementKind = iota
	HessianElement
)

func (k ElementKind) String() string {
	switch k {
	case GradientElement:
		return "gradient"
	case HessianElement:
		return "hessian"
	default:
		return "unknown"
	}
}

// SkippedElement identifies one NaN derivative element that was left out
// of the sums. Col is -1 for gradient elements.
type SkippedElement struct {
	Point int
	Kind  ElementKind
	Row   int
	Col   int
}

// Accumulation is the running fold of per-point derivatives.
type Accumulation struct {
	Gradient superquadric.Vector
	Hessian  superquadric.Matrix
	Points   int
	Skipped  []SkippedElement
}

// Add folds the derivatives of the point at index into the sums. NaN
// elements are recorded in Skipped instead.
func (a *Accumulation) Add(index int, g *superquadric.Vector, h *superquadric.Matrix) {
	a.Points++
	if g != nil {
		for i, v := range g {
			if math.IsNaN(v) {
				a.skip(SkippedElement{Point: index, Kind: GradientElement, Row: i, Col: -1})
				continue
			}
			a.Gradient[i] += v
		}
	}
	if h != nil {
		for i := range h {
			for k, v := range h[i] {
				if math.IsNaN(v) {
					a.skip(SkippedElement{Point: index, Kind: HessianElement, Row: i, Col: k})
					continue
				}
				a.Hessian[i][k] += v
			}
		}
	}
}

// ElementsPerPoint is the number of derivative elements one point adds:
// the gradient plus the full Hessian.
const ElementsPerPoint = superquadric.NumParams * (1 + superquadric.NumParams)

// Contributed reports whether at least one finite derivative element was
// summed. It assumes every Add carried both derivative orders.
func (a *Accumulation) Contributed() bool {
	return a.Points*ElementsPerPoint > len(a.Skipped)
}

func (a *Accumulation) skip(e SkippedElement) {
	tracef("skipping NaN %s element [%d,%d] of point %d", e.Kind, e.Row, e.Col, e.Point)
	a.Skipped = append(a.Skipped, e)
}

// Merge adds the sums and skip records of o into a.
func (a *Accumulation) Merge(o Accumulation) {
	a.Gradient.Add(&o.Gradient)
	a.Hessian.Add(&o.Hessian)
	a.Points += o.Points
	a.Skipped = append(a.Skipped, o.Skipped...)
}

// Evaluator sums per-point derivatives over a sample set. The zero value
// uses superquadric.AnalyticOracle.
type Evaluator struct {
	Oracle superquadric.Oracle
}

func (e Evaluator) oracle() superquadric.Oracle {
	if e.Oracle == nil {
		return superquadric.AnalyticOracle{}
	}
	return e.Oracle
}

// Gradient returns J = Σ ∂e/∂p over the set, NaN elements excluded.
func (e Evaluator) Gradient(p superquadric.Params, set *cloud.SampleSet) superquadric.Vector {
	o := e.oracle()
	var acc Accumulation
	for i := 0; i < set.Len(); i++ {
		g := o.FirstDerivative(p, set.At(i))
		acc.Add(i, &g, nil)
	}
	return acc.Gradient
}

// Hessian returns H = Σ ∂²e/∂p² over the set, NaN elements excluded.
func (e Evaluator) Hessian(p superquadric.Params, set *cloud.SampleSet) superquadric.Matrix {
	o := e.oracle()
	var acc Accumulation
	for i := 0; i < set.Len(); i++ {
		h := o.SecondDerivative(p, set.At(i))
		acc.Add(i, nil, &h)
	}
	return acc.Hessian
}

// Evaluate computes J and H in one pass over the set, in point order.
// An empty set yields zero sums.
func (e Evaluator) Evaluate(p superquadric.Params, set *cloud.SampleSet) Accumulation {
	return e.evaluateRange(p, set, 0, set.Len())
}

func (e Evaluator) evaluateRange(p superquadric.Params, set *cloud.SampleSet, lo, hi int) Accumulation {
	o := e.oracle()
	d, both := o.(superquadric.Differentiator)
	derivs := func(pt r3.Vec) (superquadric.Vector, superquadric.Matrix) {
		if both {
			return d.Derivatives(p, pt)
		}
		return o.FirstDerivative(p, pt), o.SecondDerivative(p, pt)
	}

	var acc Accumulation
	for i := lo; i < hi; i++ {
		g, h := derivs(set.At(i))
		acc.Add(i, &g, &h)
	}
	return acc
}

// EvaluateParallel splits the set into workers contiguous chunks, folds
// each chunk in its own goroutine and merges the partial sums in chunk
// order. The result is deterministic for a fixed worker count and equals
// Evaluate up to floating-point reassociation. The only error is ctx's.
func (e Evaluator) EvaluateParallel(ctx context.Context, p superquadric.Params, set *cloud.SampleSet, workers int) (Accumulation, error) {
	n := set.Len()
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		if err := ctx.Err(); err != nil {
			return Accumulation{}, err
		}
		return e.Evaluate(p, set), nil
	}

	chunk := (n + workers - 1) / workers
	partials := make([]Accumulation, workers)
	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := min(lo+chunk, n)
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			partials[w] = e.evaluateRange(p, set, lo, hi)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Accumulation{}, err
	}

	var acc Accumulation
	for _, part := range partials {
		acc.Merge(part)
	}
	return acc, nil
}

// MeanResidual returns the mean of |F^e1 − 1| over the points whose
// residual is finite, or NaN when there are none.
func MeanResidual(p superquadric.Params, set *cloud.SampleSet) float64 {
	var sum float64
	n := 0
	for i := 0; i < set.Len(); i++ {
		r := superquadric.Residual(p, set.At(i))
		if math.IsNaN(r) || math.IsInf(r, 0) {
			continue
		}
		sum += math.Abs(r)
		n++
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}
