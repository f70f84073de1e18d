// Package superquadric owns the geometric model fitted by sqfit.
//
// Responsibilities: the 11-slot parameter vector (scales, shape exponents,
// centre, roll/pitch/yaw), the inside-outside function, the per-point
// squared-error term and its first and second derivatives, surface
// sampling, and the PCA initial guess.
// Key types: Params, Vector, Matrix, Jet, Oracle.
//
// The derivative oracle is a pure function of (parameters, point). The
// analytic oracle carries a second-order jet through the closed-form
// inside-outside function, so every derivative is exact to rounding.
//
// No fitting loop lives here; see internal/fit.
package superquadric
