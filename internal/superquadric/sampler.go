package superquadric

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r3"
)

// Sample draws n points on the surface of p using the parametric form
//
//	q = (a1·c(η)^e1·c(ω)^e2, a2·c(η)^e1·s(ω)^e2, a3·s(η)^e1)
//
// with η uniform in [−π/2, π/2], ω uniform in [−π, π) and signed powers,
// then maps them to world coordinates. When noise > 0 every coordinate
// receives independent Gaussian noise with that standard deviation.
// The output is fully determined by rng.
func Sample(p Params, n int, noise float64, rng *rand.Rand) []r3.Vec {
	if n <= 0 {
		return nil
	}
	pts := make([]r3.Vec, n)
	for i := range pts {
		eta := SampleUniform(rng, -math.Pi/2, math.Pi/2)
		omega := SampleUniform(rng, -math.Pi, math.Pi)
		se, ce := math.Sincos(eta)
		so, co := math.Sincos(omega)
		q := r3.Vec{
			X: p.A1 * signedPow(ce, p.E1) * signedPow(co, p.E2),
			Y: p.A2 * signedPow(ce, p.E1) * signedPow(so, p.E2),
			Z: p.A3 * signedPow(se, p.E1),
		}
		w := p.ToWorld(q)
		if noise > 0 {
			w.X += rng.NormFloat64() * noise
			w.Y += rng.NormFloat64() * noise
			w.Z += rng.NormFloat64() * noise
		}
		pts[i] = w
	}
	return pts
}

// SampleUniform returns a uniform value in [lo, hi).
func SampleUniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + (hi-lo)*rng.Float64()
}

// Perturb returns p with each slot moved by a uniform offset in
// [−scale·width[i], scale·width[i]). Scales and exponents are kept
// positive.
func Perturb(p Params, scale float64, rng *rand.Rand) Params {
	width := Vector{1, 1, 1, 0.5, 0.5, 1, 1, 1, math.Pi / 4, math.Pi / 4, math.Pi / 4}
	v := p.Vector()
	for i := range v {
		v[i] += SampleUniform(rng, -scale*width[i], scale*width[i])
	}
	for _, i := range []int{IdxA1, IdxA2, IdxA3, IdxE1, IdxE2} {
		if v[i] < minPositive {
			v[i] = minPositive
		}
	}
	return FromVector(v)
}

const minPositive = 1e-3

func signedPow(b, e float64) float64 {
	return math.Copysign(math.Pow(math.Abs(b), e), b)
}
