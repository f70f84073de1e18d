package superquadric

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// InsideOutside evaluates the superquadric inside-outside function at a
// world point:
//
//	q = Rᵀ(x − c)
//	F = (|q₁/a1|^(2/e2) + |q₂/a2|^(2/e2))^(e2/e1) + |q₃/a3|^(2/e1)
//
// F is 1 on the surface, below 1 inside and above 1 outside.
func InsideOutside(p Params, pt r3.Vec) float64 {
	q := p.ToLocal(pt)
	u1 := math.Abs(q.X / p.A1)
	u2 := math.Abs(q.Y / p.A2)
	u3 := math.Abs(q.Z / p.A3)
	a := math.Pow(u1, 2/p.E2) + math.Pow(u2, 2/p.E2)
	return math.Pow(a, p.E2/p.E1) + math.Pow(u3, 2/p.E1)
}

// Residual returns F^e1 − 1, the signed per-point fitting residual. The
// e1 power makes the residual roughly proportional to radial distance
// from the surface, independent of the shape exponents.
func Residual(p Params, pt r3.Vec) float64 {
	return math.Pow(InsideOutside(p, pt), p.E1) - 1
}

// PointError returns the squared residual (F^e1 − 1)² of one point.
func PointError(p Params, pt r3.Vec) float64 {
	r := Residual(p, pt)
	return r * r
}

// PointErrorJet evaluates PointError as a Jet seeded on all 11
// parameters, so the result carries the exact gradient and Hessian of the
// point's squared error.
func PointErrorJet(p Params, pt r3.Vec) Jet {
	v := p.Vector()
	var x [NumParams]Jet
	for i := range x {
		x[i] = Variable(v[i], i)
	}
	a1, a2, a3 := x[IdxA1], x[IdxA2], x[IdxA3]
	e1, e2 := x[IdxE1], x[IdxE2]

	tx := Constant(pt.X).Sub(x[IdxPX])
	ty := Constant(pt.Y).Sub(x[IdxPY])
	tz := Constant(pt.Z).Sub(x[IdxPZ])

	cr, sr := x[IdxRoll].Cos(), x[IdxRoll].Sin()
	cp, sp := x[IdxPitch].Cos(), x[IdxPitch].Sin()
	cy, sy := x[IdxYaw].Cos(), x[IdxYaw].Sin()

	// Columns of R = Rz·Ry·Rx; q = Rᵀt takes the dot product of each
	// column with t.
	cysp := cy.Mul(sp)
	sysp := sy.Mul(sp)
	r00, r10, r20 := cy.Mul(cp), sy.Mul(cp), sp.Neg()
	r01 := cysp.Mul(sr).Sub(sy.Mul(cr))
	r11 := sysp.Mul(sr).Add(cy.Mul(cr))
	r21 := cp.Mul(sr)
	r02 := cysp.Mul(cr).Add(sy.Mul(sr))
	r12 := sysp.Mul(cr).Sub(cy.Mul(sr))
	r22 := cp.Mul(cr)

	q1 := r00.Mul(tx).Add(r10.Mul(ty)).Add(r20.Mul(tz))
	q2 := r01.Mul(tx).Add(r11.Mul(ty)).Add(r21.Mul(tz))
	q3 := r02.Mul(tx).Add(r12.Mul(ty)).Add(r22.Mul(tz))

	u1 := q1.Div(a1).Abs()
	u2 := q2.Div(a2).Abs()
	u3 := q3.Div(a3).Abs()

	two := Constant(2)
	k2 := two.Div(e2)
	k1 := two.Div(e1)

	a := u1.Pow(k2).Add(u2.Pow(k2))
	f := a.Pow(e2.Div(e1)).Add(u3.Pow(k1))
	r := f.Pow(e1).AddConst(-1)
	return r.Mul(r)
}
