package cloud

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// SampleSet is an ordered collection of 3D points. The zero value and a
// nil *SampleSet are both empty sets. A SampleSet is never mutated after
// construction and is safe for concurrent reads.
type SampleSet struct {
	pts []r3.Vec
}

// NewSampleSet copies pts into a new set.
func NewSampleSet(pts []r3.Vec) *SampleSet {
	cp := make([]r3.Vec, len(pts))
	copy(cp, pts)
	return &SampleSet{pts: cp}
}

// Len returns the number of points.
func (s *SampleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.pts)
}

// At returns the i-th point.
func (s *SampleSet) At(i int) r3.Vec {
	return s.pts[i]
}

// Points returns a copy of the points in order.
func (s *SampleSet) Points() []r3.Vec {
	if s.Len() == 0 {
		return nil
	}
	cp := make([]r3.Vec, len(s.pts))
	copy(cp, s.pts)
	return cp
}

// Finite returns the subset of points whose coordinates are all finite,
// preserving order. It returns s itself when nothing is dropped.
func (s *SampleSet) Finite() *SampleSet {
	n := s.Len()
	keep := make([]r3.Vec, 0, n)
	for i := 0; i < n; i++ {
		if isFinite(s.pts[i]) {
			keep = append(keep, s.pts[i])
		}
	}
	if len(keep) == n {
		return s
	}
	return &SampleSet{pts: keep}
}

// Bounds returns the axis-aligned box enclosing the finite points. The
// box is zero for a set with no finite points.
func (s *SampleSet) Bounds() r3.Box {
	lo := r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi := r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	seen := false
	for i := 0; i < s.Len(); i++ {
		p := s.pts[i]
		if !isFinite(p) {
			continue
		}
		seen = true
		lo = r3.Vec{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vec{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	if !seen {
		return r3.Box{}
	}
	return r3.Box{Min: lo, Max: hi}
}

// Centroid returns the mean of the finite points, or the zero vector when
// there are none.
func (s *SampleSet) Centroid() r3.Vec {
	var sum r3.Vec
	n := 0
	for i := 0; i < s.Len(); i++ {
		if !isFinite(s.pts[i]) {
			continue
		}
		sum = r3.Add(sum, s.pts[i])
		n++
	}
	if n == 0 {
		return r3.Vec{}
	}
	return r3.Scale(1/float64(n), sum)
}

func isFinite(p r3.Vec) bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsNaN(p.Z) &&
		!math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0) && !math.IsInf(p.Z, 0)
}
