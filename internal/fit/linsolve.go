package fit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/sqfit/internal/superquadric"
)

// LinearSolver names a method for the damped Newton system.
type LinearSolver string

const (
	// SolverSVD takes the minimum-norm least-squares solution, discarding
	// singular values below RCond times the largest.
	SolverSVD LinearSolver = "svd"
	// SolverLU solves by LU with partial pivoting. An exactly singular
	// system yields a NaN step.
	SolverLU LinearSolver = "lu"
)

// ParseLinearSolver validates a solver name.
func ParseLinearSolver(s string) (LinearSolver, error) {
	switch LinearSolver(s) {
	case SolverSVD, SolverLU:
		return LinearSolver(s), nil
	}
	return "", fmt.Errorf("fit: unknown linear solver %q (want svd or lu)", s)
}

// dampedSystem builds A = H + λ·diag(H) and b = J.
func dampedSystem(lambda float64, acc *Accumulation) (*mat.Dense, *mat.VecDense) {
	a := mat.NewDense(superquadric.NumParams, superquadric.NumParams, nil)
	for i := range acc.Hessian {
		for k, v := range acc.Hessian[i] {
			a.Set(i, k, v)
		}
		a.Set(i, i, acc.Hessian[i][i]*(1+lambda))
	}
	b := mat.NewVecDense(superquadric.NumParams, nil)
	for i, v := range acc.Gradient {
		b.SetVec(i, v)
	}
	return a, b
}

// solveDamped returns Δ with (H + λ·diag(H))·Δ = J and the condition
// number of the damped matrix. Δ is all NaN when the system cannot be
// solved.
func solveDamped(cfg Config, acc *Accumulation) (superquadric.Vector, float64) {
	a, b := dampedSystem(cfg.Lambda, acc)
	if !allFinite(a.RawMatrix().Data) || !allFinite(b.RawVector().Data) {
		opsf("damped system has non-finite entries; step is NaN")
		return nanVector(), math.NaN()
	}

	var x mat.VecDense
	var cond float64
	switch cfg.LinearSolver {
	case SolverLU:
		var lu mat.LU
		lu.Factorize(a)
		cond = lu.Cond()
		if err := lu.SolveVecTo(&x, false, b); err != nil {
			var c mat.Condition
			if !errors.As(err, &c) || math.IsInf(float64(c), 1) {
				opsf("lu solve failed: %v", err)
				return nanVector(), cond
			}
			opsf("warning: damped system is ill-conditioned: %v", err)
		}
	default:
		if allZero(a.RawMatrix().Data) {
			opsf("warning: damped system is all zero; step is zero")
			return superquadric.Vector{}, math.Inf(1)
		}
		var svd mat.SVD
		if !svd.Factorize(a, mat.SVDFull) {
			opsf("svd factorization failed")
			return nanVector(), math.NaN()
		}
		rank := svd.Rank(cfg.RCond)
		if rank == 0 {
			opsf("warning: damped system has rank 0; step is zero")
			return superquadric.Vector{}, math.Inf(1)
		}
		cond = svd.Cond()
		if rank < superquadric.NumParams {
			opsf("warning: damped system is rank deficient (%d of %d, cond %.3g); using the minimum-norm step", rank, superquadric.NumParams, cond)
		}
		svd.SolveVecTo(&x, b, rank)
	}

	var delta superquadric.Vector
	for i := range delta {
		delta[i] = x.AtVec(i)
	}
	return delta, cond
}

func allFinite(s []float64) bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func allZero(s []float64) bool {
	for _, v := range s {
		if v != 0 {
			return false
		}
	}
	return true
}

func nanVector() superquadric.Vector {
	var v superquadric.Vector
	for i := range v {
		v[i] = math.NaN()
	}
	return v
}
