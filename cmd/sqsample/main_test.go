package main

import (
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sqfit/internal/cloud"
	"github.com/banshee-data/sqfit/internal/fsutil"
	"github.com/banshee-data/sqfit/internal/superquadric"
)

func TestParseFlags(t *testing.T) {
	t.Parallel()
	o, err := parseFlags([]string{
		"-a", "1, 1.5, 2", "-e", "0.8,0.6", "-pos", "0.5,-0.2,0.3", "-rpy", "0.3,0.2,0.1",
		"-n", "50", "-noise", "0.01", "-seed", "9", "-out", "shape.pcd",
	}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, superquadric.Params{
		A1: 1, A2: 1.5, A3: 2, E1: 0.8, E2: 0.6,
		PX: 0.5, PY: -0.2, PZ: 0.3, Roll: 0.3, Pitch: 0.2, Yaw: 0.1,
	}, o.params)
	assert.Equal(t, 50, o.n)
	assert.Equal(t, int64(9), o.seed)
}

func TestParseFlags_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no output", nil, "-out is required"},
		{"bad n", []string{"-out", "x.pcd", "-n", "0"}, "-n must be positive"},
		{"bad noise", []string{"-out", "x.pcd", "-noise", "-1"}, "-noise must be non-negative"},
		{"short scales", []string{"-out", "x.pcd", "-a", "1,2"}, "-a wants 3"},
		{"bad exponent", []string{"-out", "x.pcd", "-e", "1,x"}, "-e:"},
		{"three exponents", []string{"-out", "x.pcd", "-e", "1,1,1"}, "-e wants 2"},
		{"zero scale", []string{"-out", "x.pcd", "-a", "0,1,1"}, "must be positive"},
		{"bad rpy", []string{"-out", "x.pcd", "-rpy", "a,b,c"}, "-rpy:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args, io.Discard)
			assert.ErrorContains(t, err, tt.want)
		})
	}
}

func TestGenerate(t *testing.T) {
	t.Parallel()
	fsys := fsutil.NewMemoryFileSystem()
	o := options{params: superquadric.UnitSphere, n: 100, seed: 2, out: "clouds/sphere.pcd"}

	set, err := generate(fsys, o)
	require.NoError(t, err)
	require.Equal(t, 100, set.Len())

	back, err := cloud.Load(fsys, o.out)
	require.NoError(t, err)
	assert.Equal(t, set.Points(), back.Points())
	for _, p := range back.Points() {
		assert.InDelta(t, 1, math.Sqrt(p.X*p.X+p.Y*p.Y+p.Z*p.Z), 1e-9)
	}

	// Same seed, same cloud.
	again, err := generate(fsys, o)
	require.NoError(t, err)
	assert.Equal(t, set.Points(), again.Points())
}
