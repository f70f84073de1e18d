package superquadric

import "errors"

// Sentinel errors for the superquadric package.
// Use errors.Is to check: errors.Is(err, superquadric.ErrInvalidParams)
var (
	ErrInvalidParams  = errors.New("superquadric: parameter vector must have 11 elements")
	ErrEmptySampleSet = errors.New("superquadric: no sample points")
	ErrTooFewPoints   = errors.New("superquadric: too few sample points for an initial guess")
)
