// Package testutil provides shared test utilities and fixtures.
//
// This package centralises common test helpers to reduce code duplication
// across test files and improve test maintainability.
package testutil

import (
	"math"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/sqfit/internal/cloud"
	"github.com/banshee-data/sqfit/internal/superquadric"
)

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, path string) *http.Request {
	return httptest.NewRequest(method, path, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}

// TempDBPath returns a fresh SQLite path inside t.TempDir().
func TempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "sqfit.db")
}

// UnitSpherePoints returns n points distributed uniformly on the unit
// sphere centred at the origin.
func UnitSpherePoints(n int, seed int64) []r3.Vec {
	rng := rand.New(rand.NewSource(seed))
	pts := make([]r3.Vec, 0, n)
	for len(pts) < n {
		v := r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
		norm := r3.Norm(v)
		if norm < 1e-9 || math.IsNaN(norm) {
			continue
		}
		pts = append(pts, r3.Scale(1/norm, v))
	}
	return pts
}

// UnitSphereCloud wraps UnitSpherePoints in a SampleSet.
func UnitSphereCloud(n int, seed int64) *cloud.SampleSet {
	return cloud.NewSampleSet(UnitSpherePoints(n, seed))
}

// SuperquadricCloud samples n surface points of p with Gaussian noise.
func SuperquadricCloud(p superquadric.Params, n int, noise float64, seed int64) *cloud.SampleSet {
	rng := rand.New(rand.NewSource(seed))
	return cloud.NewSampleSet(superquadric.Sample(p, n, noise, rng))
}

// ReferenceShape is a rotated, translated superquadric with distinct
// scales and non-unit exponents.
var ReferenceShape = superquadric.Params{
	A1: 1.0, A2: 1.5, A3: 2.0,
	E1: 0.8, E2: 0.6,
	PX: 0.5, PY: -0.2, PZ: 0.3,
	Roll: 0.3, Pitch: 0.2, Yaw: 0.1,
}
