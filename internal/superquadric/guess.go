package superquadric

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// minGuessPoints is the smallest cloud for which a 3D covariance is
// meaningful.
const minGuessPoints = 4

// InitialGuess estimates starting parameters from the principal axes of
// the points (PCA):
//
//  1. Build the 3×3 covariance of the coordinates
//  2. Eigen-decompose it; the eigenvector of the largest eigenvalue becomes
//     local x, the smallest local z, completed to a right-handed frame
//  3. Project the points onto the axes; the half-extent along each axis is
//     the scale and the box midpoint is the centre
//  4. Shape exponents start at 1 (ellipsoid)
//
// Returns ErrEmptySampleSet for no points and ErrTooFewPoints below 4.
func InitialGuess(pts []r3.Vec) (Params, error) {
	n := len(pts)
	if n == 0 {
		return Params{}, ErrEmptySampleSet
	}
	if n < minGuessPoints {
		return Params{}, fmt.Errorf("%w: have %d, need %d", ErrTooFewPoints, n, minGuessPoints)
	}

	data := mat.NewDense(n, 3, nil)
	for i, pt := range pts {
		data.Set(i, 0, pt.X)
		data.Set(i, 1, pt.Y)
		data.Set(i, 2, pt.Z)
	}
	cov := mat.NewSymDense(3, nil)
	stat.CovarianceMatrix(cov, data, nil)

	var es mat.EigenSym
	if !es.Factorize(cov, true) {
		return Params{}, fmt.Errorf("superquadric: covariance eigendecomposition failed")
	}
	var vecs mat.Dense
	es.VectorsTo(&vecs)

	// Eigenvalues are ascending; reverse so column 0 is the major axis.
	var R [3][3]float64
	for c := 0; c < 3; c++ {
		for r := 0; r < 3; r++ {
			R[r][c] = vecs.At(r, 2-c)
		}
	}
	if det3(R) < 0 {
		for r := 0; r < 3; r++ {
			R[r][2] = -R[r][2]
		}
	}

	var mean r3.Vec
	for _, pt := range pts {
		mean = r3.Add(mean, pt)
	}
	mean = r3.Scale(1/float64(n), mean)

	lo := [3]float64{math.Inf(1), math.Inf(1), math.Inf(1)}
	hi := [3]float64{math.Inf(-1), math.Inf(-1), math.Inf(-1)}
	for _, pt := range pts {
		d := r3.Sub(pt, mean)
		for c := 0; c < 3; c++ {
			proj := R[0][c]*d.X + R[1][c]*d.Y + R[2][c]*d.Z
			lo[c] = math.Min(lo[c], proj)
			hi[c] = math.Max(hi[c], proj)
		}
	}

	var scale, mid [3]float64
	for c := 0; c < 3; c++ {
		scale[c] = math.Max((hi[c]-lo[c])/2, minPositive)
		mid[c] = (hi[c] + lo[c]) / 2
	}
	center := r3.Vec{
		X: mean.X + R[0][0]*mid[0] + R[0][1]*mid[1] + R[0][2]*mid[2],
		Y: mean.Y + R[1][0]*mid[0] + R[1][1]*mid[1] + R[1][2]*mid[2],
		Z: mean.Z + R[2][0]*mid[0] + R[2][1]*mid[1] + R[2][2]*mid[2],
	}

	roll, pitch, yaw := eulerFromRotation(R)
	return Params{
		A1: scale[0], A2: scale[1], A3: scale[2],
		E1: 1, E2: 1,
		PX: center.X, PY: center.Y, PZ: center.Z,
		Roll: roll, Pitch: pitch, Yaw: yaw,
	}, nil
}

// eulerFromRotation inverts R = Rz(yaw)·Ry(pitch)·Rx(roll).
func eulerFromRotation(R [3][3]float64) (roll, pitch, yaw float64) {
	s := math.Max(-1, math.Min(1, -R[2][0]))
	pitch = math.Asin(s)
	roll = math.Atan2(R[2][1], R[2][2])
	yaw = math.Atan2(R[1][0], R[0][0])
	return roll, pitch, yaw
}

func det3(m [3][3]float64) float64 {
	return m[0][0]*(m[1][1]*m[2][2]-m[1][2]*m[2][1]) -
		m[0][1]*(m[1][0]*m[2][2]-m[1][2]*m[2][0]) +
		m[0][2]*(m[1][0]*m[2][1]-m[1][1]*m[2][0])
}
