package cloud

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

type voxelKey struct{ x, y, z int64 }

type voxelAcc struct {
	sum   r3.Vec
	count int
	best  int
	dist  float64
}

// VoxelDownsample partitions space into cubes of edge leaf anchored at
// the origin and keeps, per occupied cube, the input point closest to the
// mean of that cube's points. Output order follows the first appearance
// of each cube in s. Non-finite points are dropped. A non-positive leaf
// returns s unchanged.
func VoxelDownsample(s *SampleSet, leaf float64) *SampleSet {
	if leaf <= 0 || math.IsNaN(leaf) || s.Len() == 0 {
		return s
	}

	key := func(p r3.Vec) voxelKey {
		return voxelKey{
			x: int64(math.Floor(p.X / leaf)),
			y: int64(math.Floor(p.Y / leaf)),
			z: int64(math.Floor(p.Z / leaf)),
		}
	}

	cells := make(map[voxelKey]*voxelAcc)
	var order []voxelKey
	for i := 0; i < s.Len(); i++ {
		p := s.pts[i]
		if !isFinite(p) {
			continue
		}
		k := key(p)
		acc, ok := cells[k]
		if !ok {
			acc = &voxelAcc{best: -1}
			cells[k] = acc
			order = append(order, k)
		}
		acc.sum = r3.Add(acc.sum, p)
		acc.count++
	}

	for i := 0; i < s.Len(); i++ {
		p := s.pts[i]
		if !isFinite(p) {
			continue
		}
		acc := cells[key(p)]
		mean := r3.Scale(1/float64(acc.count), acc.sum)
		d := r3.Norm2(r3.Sub(p, mean))
		if acc.best < 0 || d < acc.dist {
			acc.best, acc.dist = i, d
		}
	}

	out := make([]r3.Vec, 0, len(order))
	for _, k := range order {
		out = append(out, s.pts[cells[k].best])
	}
	return &SampleSet{pts: out}
}
