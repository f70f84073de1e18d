// Package fit fits superquadric parameters to a point sample set by
// damped Newton iteration.
//
// # Responsibilities
//
//   - Evaluator: folds per-point derivatives from a superquadric.Oracle
//     into the total gradient J and Hessian H, skipping NaN elements
//   - Solver: repeats evaluate, solve (H + λ·diag(H))·Δ = J, p ← p − Δ
//     until ‖Δ‖₂ ≤ MinThreshold or MaxIterations is reached
//   - IterationObserver: per-iteration diagnostics for callers that
//     record or plot convergence
//
// Numerical outcomes are values, not errors: non-convergence is reported
// through Result.Converged and NaN contributions through Result.Skipped.
// A single Minimize call cannot be cancelled; bound it with MaxIterations.
package fit
