package superquadric

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// NumParams is the length of the superquadric parameter vector.
const NumParams = 11

// Index of each parameter inside a Vector. The order is fixed and matches
// the row/column order of every gradient and Hessian in this module.
const (
	IdxA1    = iota // scale along local x
	IdxA2           // scale along local y
	IdxA3           // scale along local z
	IdxE1           // north-south shape exponent
	IdxE2           // east-west shape exponent
	IdxPX           // centre x (world frame)
	IdxPY           // centre y
	IdxPZ           // centre z
	IdxRoll         // rotation about x (radians)
	IdxPitch        // rotation about y (radians)
	IdxYaw          // rotation about z (radians)
)

// ParamNames holds the short name of each slot, indexed by Idx* constants.
var ParamNames = [NumParams]string{"a1", "a2", "a3", "e1", "e2", "px", "py", "pz", "ra", "pa", "ya"}

// Vector is a length-11 value indexed by the Idx* constants: a parameter
// vector, a gradient, or a parameter correction.
type Vector [NumParams]float64

// Matrix is an 11×11 value indexed by the Idx* constants on both axes.
type Matrix [NumParams][NumParams]float64

// Params is the named-field form of the superquadric parameter vector.
type Params struct {
	A1 float64 `json:"a1"`
	A2 float64 `json:"a2"`
	A3 float64 `json:"a3"`
	E1 float64 `json:"e1"`
	E2 float64 `json:"e2"`
	PX float64 `json:"px"`
	PY float64 `json:"py"`
	PZ float64 `json:"pz"`

	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// UnitSphere is the superquadric x²+y²+z² = 1 at the origin.
var UnitSphere = Params{A1: 1, A2: 1, A3: 1, E1: 1, E2: 1}

// Vector returns p in fixed slot order.
func (p Params) Vector() Vector {
	return Vector{p.A1, p.A2, p.A3, p.E1, p.E2, p.PX, p.PY, p.PZ, p.Roll, p.Pitch, p.Yaw}
}

// FromVector is the inverse of Params.Vector.
func FromVector(v Vector) Params {
	return Params{
		A1: v[IdxA1], A2: v[IdxA2], A3: v[IdxA3],
		E1: v[IdxE1], E2: v[IdxE2],
		PX: v[IdxPX], PY: v[IdxPY], PZ: v[IdxPZ],
		Roll: v[IdxRoll], Pitch: v[IdxPitch], Yaw: v[IdxYaw],
	}
}

// ParamsFromSlice converts a slice in slot order. Any length other than
// NumParams returns ErrInvalidParams.
func ParamsFromSlice(s []float64) (Params, error) {
	if len(s) != NumParams {
		return Params{}, fmt.Errorf("%w: got %d", ErrInvalidParams, len(s))
	}
	var v Vector
	copy(v[:], s)
	return FromVector(v), nil
}

// Slice returns a freshly allocated slice in slot order.
func (p Params) Slice() []float64 {
	v := p.Vector()
	return v[:]
}

// Sub returns p with every slot decreased by the matching slot of d.
func (p Params) Sub(d Vector) Params {
	v := p.Vector()
	for i := range v {
		v[i] -= d[i]
	}
	return FromVector(v)
}

// Center returns the centre position.
func (p Params) Center() r3.Vec {
	return r3.Vec{X: p.PX, Y: p.PY, Z: p.PZ}
}

// HasNaN reports whether any slot is not-a-number.
func (p Params) HasNaN() bool {
	for _, x := range p.Vector() {
		if math.IsNaN(x) {
			return true
		}
	}
	return false
}

// String formats p as "a1=… a2=… … ya=…".
func (p Params) String() string {
	v := p.Vector()
	parts := make([]string, NumParams)
	for i, x := range v {
		parts[i] = fmt.Sprintf("%s=%.6g", ParamNames[i], x)
	}
	return strings.Join(parts, " ")
}

// Rotation returns R = Rz(yaw)·Ry(pitch)·Rx(roll), mapping local
// coordinates to world coordinates.
func (p Params) Rotation() [3][3]float64 {
	return rotation(p.Roll, p.Pitch, p.Yaw)
}

func rotation(roll, pitch, yaw float64) [3][3]float64 {
	sr, cr := math.Sincos(roll)
	sp, cp := math.Sincos(pitch)
	sy, cy := math.Sincos(yaw)
	return [3][3]float64{
		{cy * cp, cy*sp*sr - sy*cr, cy*sp*cr + sy*sr},
		{sy * cp, sy*sp*sr + cy*cr, sy*sp*cr - cy*sr},
		{-sp, cp * sr, cp * cr},
	}
}

// ToLocal maps a world point into the superquadric's local frame:
// q = Rᵀ(x − c).
func (p Params) ToLocal(pt r3.Vec) r3.Vec {
	R := p.Rotation()
	t := r3.Sub(pt, p.Center())
	return r3.Vec{
		X: R[0][0]*t.X + R[1][0]*t.Y + R[2][0]*t.Z,
		Y: R[0][1]*t.X + R[1][1]*t.Y + R[2][1]*t.Z,
		Z: R[0][2]*t.X + R[1][2]*t.Y + R[2][2]*t.Z,
	}
}

// ToWorld maps a local-frame point to world coordinates: x = R·q + c.
func (p Params) ToWorld(q r3.Vec) r3.Vec {
	R := p.Rotation()
	return r3.Add(r3.Vec{
		X: R[0][0]*q.X + R[0][1]*q.Y + R[0][2]*q.Z,
		Y: R[1][0]*q.X + R[1][1]*q.Y + R[1][2]*q.Z,
		Z: R[2][0]*q.X + R[2][1]*q.Y + R[2][2]*q.Z,
	}, p.Center())
}

// Diagonal returns the main diagonal of m.
func (m *Matrix) Diagonal() Vector {
	var d Vector
	for i := range d {
		d[i] = m[i][i]
	}
	return d
}

// Add accumulates o into m element-wise.
func (m *Matrix) Add(o *Matrix) {
	for i := range m {
		for j := range m[i] {
			m[i][j] += o[i][j]
		}
	}
}

// Add accumulates o into v element-wise.
func (v *Vector) Add(o *Vector) {
	for i := range v {
		v[i] += o[i]
	}
}
