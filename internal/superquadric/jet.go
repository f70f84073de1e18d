package superquadric

import "math"

// Jet is a second-order forward-mode value: a scalar together with its
// gradient and Hessian with respect to the 11 superquadric parameters.
// Every operation applies the chain rule to both derivative orders, so a
// Jet computed from Variable inputs carries exact first and second
// partial derivatives of the expression that produced it.
//
// H is kept exactly symmetric: every update adds symmetric terms only.
type Jet struct {
	V float64
	G Vector
	H Matrix
}

// Constant returns a Jet with zero derivatives.
func Constant(v float64) Jet {
	return Jet{V: v}
}

// Variable returns the Jet of parameter slot i evaluated at v.
func Variable(v float64, i int) Jet {
	j := Jet{V: v}
	j.G[i] = 1
	return j
}

// Add returns a + b.
func (a Jet) Add(b Jet) Jet {
	r := Jet{V: a.V + b.V}
	for i := 0; i < NumParams; i++ {
		r.G[i] = a.G[i] + b.G[i]
		for k := 0; k < NumParams; k++ {
			r.H[i][k] = a.H[i][k] + b.H[i][k]
		}
	}
	return r
}

// Sub returns a − b.
func (a Jet) Sub(b Jet) Jet {
	r := Jet{V: a.V - b.V}
	for i := 0; i < NumParams; i++ {
		r.G[i] = a.G[i] - b.G[i]
		for k := 0; k < NumParams; k++ {
			r.H[i][k] = a.H[i][k] - b.H[i][k]
		}
	}
	return r
}

// AddConst returns a + c.
func (a Jet) AddConst(c float64) Jet {
	a.V += c
	return a
}

// Neg returns −a.
func (a Jet) Neg() Jet {
	return a.Scale(-1)
}

// Scale returns c·a.
func (a Jet) Scale(c float64) Jet {
	r := Jet{V: c * a.V}
	for i := 0; i < NumParams; i++ {
		r.G[i] = c * a.G[i]
		for k := 0; k < NumParams; k++ {
			r.H[i][k] = c * a.H[i][k]
		}
	}
	return r
}

// Mul returns a·b.
func (a Jet) Mul(b Jet) Jet {
	r := Jet{V: a.V * b.V}
	for i := 0; i < NumParams; i++ {
		r.G[i] = a.V*b.G[i] + b.V*a.G[i]
		for k := 0; k < NumParams; k++ {
			cross := a.G[i]*b.G[k] + a.G[k]*b.G[i]
			r.H[i][k] = a.V*b.H[i][k] + b.V*a.H[i][k] + cross
		}
	}
	return r
}

// Div returns a / b.
func (a Jet) Div(b Jet) Jet {
	return a.Mul(b.Recip())
}

// chain applies a scalar function f with derivatives d1 = f'(a.V) and
// d2 = f''(a.V).
func (a Jet) chain(f, d1, d2 float64) Jet {
	r := Jet{V: f}
	for i := 0; i < NumParams; i++ {
		r.G[i] = d1 * a.G[i]
		for k := 0; k < NumParams; k++ {
			r.H[i][k] = d1*a.H[i][k] + d2*(a.G[i]*a.G[k])
		}
	}
	return r
}

// Recip returns 1/a.
func (a Jet) Recip() Jet {
	x := a.V
	return a.chain(1/x, -1/(x*x), 2/(x*x*x))
}

// Log returns ln a. At a = 0 the value is −Inf and the derivatives are
// not finite, which surfaces as NaN partials downstream.
func (a Jet) Log() Jet {
	x := a.V
	return a.chain(math.Log(x), 1/x, -1/(x*x))
}

// Exp returns eᵃ.
func (a Jet) Exp() Jet {
	e := math.Exp(a.V)
	return a.chain(e, e, e)
}

// Pow returns aᵇ for a ≥ 0, computed as exp(b·ln a) so that the exponent
// may itself depend on the parameters. A zero base with b ≥ 1 takes the
// limits instead: the b partials vanish there, the first a partial is
// [b = 1] and the second is 2·[b = 2]. For 1 < b < 2 the second a partial
// is unbounded and is taken as zero.
func (a Jet) Pow(b Jet) Jet {
	if a.V == 0 && b.V >= 1 {
		return a.powZeroBase(b.V)
	}
	return b.Mul(a.Log()).Exp()
}

func (a Jet) powZeroBase(b float64) Jet {
	var d1, d2 float64
	switch b {
	case 1:
		d1 = 1
	case 2:
		d2 = 2
	}
	return a.chain(0, d1, d2)
}

// Abs returns |a|. At zero the right derivative is used, so |a|ᵏ for
// k > 1 keeps its curvature there.
func (a Jet) Abs() Jet {
	s := 1.0
	if a.V < 0 {
		s = -1
	}
	return a.chain(math.Abs(a.V), s, 0)
}

// Sin returns sin a.
func (a Jet) Sin() Jet {
	s, c := math.Sincos(a.V)
	return a.chain(s, c, -s)
}

// Cos returns cos a.
func (a Jet) Cos() Jet {
	s, c := math.Sincos(a.V)
	return a.chain(c, -s, -c)
}
