package superquadric

import (
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Oracle supplies the per-point first and second partial derivatives of
// the squared-error term with respect to the 11 parameters. Implementations
// must be pure functions of their inputs and safe for concurrent use.
type Oracle interface {
	// FirstDerivative returns ∂e/∂pᵢ for every slot i.
	FirstDerivative(p Params, pt r3.Vec) Vector
	// SecondDerivative returns ∂²e/∂pᵢ∂pⱼ, row-major.
	SecondDerivative(p Params, pt r3.Vec) Matrix
}

// Differentiator is implemented by oracles that can produce both
// derivative orders in a single pass. Evaluators prefer it when present.
type Differentiator interface {
	Derivatives(p Params, pt r3.Vec) (Vector, Matrix)
}

// AnalyticOracle differentiates the closed-form error term with a
// second-order Jet. It has no state.
type AnalyticOracle struct{}

var (
	_ Oracle         = AnalyticOracle{}
	_ Differentiator = AnalyticOracle{}
)

// FirstDerivative implements Oracle.
func (AnalyticOracle) FirstDerivative(p Params, pt r3.Vec) Vector {
	return PointErrorJet(p, pt).G
}

// SecondDerivative implements Oracle.
func (AnalyticOracle) SecondDerivative(p Params, pt r3.Vec) Matrix {
	return PointErrorJet(p, pt).H
}

// Derivatives implements Differentiator.
func (AnalyticOracle) Derivatives(p Params, pt r3.Vec) (Vector, Matrix) {
	j := PointErrorJet(p, pt)
	return j.G, j.H
}

// NumericOracle approximates the same derivatives by central finite
// differences. It is much slower than AnalyticOracle and loses several
// digits; it exists to cross-check analytic derivatives.
type NumericOracle struct {
	// Step is the finite-difference step. Zero selects gonum's default
	// for each formula.
	Step float64
}

var _ Oracle = NumericOracle{}

func errorFunc(pt r3.Vec) func(x []float64) float64 {
	return func(x []float64) float64 {
		var v Vector
		copy(v[:], x)
		return PointError(FromVector(v), pt)
	}
}

// FirstDerivative implements Oracle.
func (o NumericOracle) FirstDerivative(p Params, pt r3.Vec) Vector {
	grad := fd.Gradient(nil, errorFunc(pt), p.Slice(), &fd.Settings{
		Formula: fd.Central,
		Step:    o.Step,
	})
	var v Vector
	copy(v[:], grad)
	return v
}

// SecondDerivative implements Oracle.
func (o NumericOracle) SecondDerivative(p Params, pt r3.Vec) Matrix {
	h := mat.NewSymDense(NumParams, nil)
	fd.Hessian(h, errorFunc(pt), p.Slice(), &fd.Settings{
		Formula: fd.Central,
		Step:    o.Step,
	})
	var m Matrix
	for i := 0; i < NumParams; i++ {
		for j := 0; j < NumParams; j++ {
			m[i][j] = h.At(i, j)
		}
	}
	return m
}
