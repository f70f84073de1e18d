package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sqfit/internal/fit"
	"github.com/banshee-data/sqfit/internal/multiscale"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestEmptyFitConfig_Getters(t *testing.T) {
	t.Parallel()
	cfg := EmptyFitConfig()
	assert.Equal(t, 0.1, cfg.GetLambda())
	assert.Equal(t, 1000, cfg.GetMaxIterations())
	assert.Equal(t, 0.005, cfg.GetMinThreshold())
	assert.Equal(t, "svd", cfg.GetLinearSolver())
	assert.Equal(t, 1, cfg.GetWorkers())
	assert.Equal(t, 3, cfg.GetLevels())
	assert.Zero(t, cfg.GetVoxelMax())
	assert.Equal(t, DefaultParallelism, cfg.GetParallelism())
	assert.Equal(t, DefaultParallelism, cfg.ToDriverConfig().Parallelism)
	assert.NoError(t, cfg.Validate())
}

func TestDefaultFitConfig_MatchesDefaultsFile(t *testing.T) {
	t.Parallel()
	fromFile := MustLoadDefaultConfig()
	if diff := cmp.Diff(DefaultFitConfig(), fromFile); diff != "" {
		t.Errorf("config/fit.defaults.json differs from DefaultFitConfig (-code +file):\n%s", diff)
	}
}

func TestLoadFitConfig_Partial(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "fit.json", `{"lambda": 0.5, "linear_solver": "lu", "restarts": 4}`)
	cfg, err := LoadFitConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 0.5, cfg.GetLambda())
	assert.Equal(t, "lu", cfg.GetLinearSolver())
	assert.Equal(t, 4, cfg.GetRestarts())
	assert.Equal(t, 1000, cfg.GetMaxIterations())
	assert.Nil(t, cfg.MaxIterations)
}

func TestLoadFitConfig_Errors(t *testing.T) {
	t.Parallel()
	_, err := LoadFitConfig(writeConfig(t, "fit.yaml", `{}`))
	assert.ErrorContains(t, err, ".json extension")

	_, err = LoadFitConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "stat")

	_, err = LoadFitConfig(writeConfig(t, "bad.json", `{"lambda": "high"}`))
	assert.ErrorContains(t, err, "parse")

	_, err = LoadFitConfig(writeConfig(t, "big.json", `{"seed": 1`+strings.Repeat(" ", 1024*1024)+`}`))
	assert.ErrorContains(t, err, "too large")

	_, err = LoadFitConfig(writeConfig(t, "neg.json", `{"max_iterations": 0}`))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  FitConfig
	}{
		{"zero lambda", FitConfig{Lambda: ptrFloat64(0)}},
		{"negative threshold", FitConfig{MinThreshold: ptrFloat64(-1)}},
		{"rcond one", FitConfig{RCond: ptrFloat64(1)}},
		{"unknown solver", FitConfig{LinearSolver: ptrString("cholesky")}},
		{"zero workers", FitConfig{Workers: ptrInt(0)}},
		{"negative voxel", FitConfig{VoxelMin: ptrFloat64(-0.1)}},
		{"min above max", FitConfig{VoxelMax: ptrFloat64(0.1), VoxelMin: ptrFloat64(0.2)}},
		{"zero levels", FitConfig{Levels: ptrInt(0)}},
		{"zero residual", FitConfig{ResidualThreshold: ptrFloat64(0)}},
		{"negative restarts", FitConfig{Restarts: ptrInt(-1)}},
		{"zero jitter", FitConfig{RestartJitter: ptrFloat64(0)}},
		{"infinite threshold", FitConfig{MinThreshold: ptrFloat64(math.Inf(1))}},
		{"nan threshold", FitConfig{MinThreshold: ptrFloat64(math.NaN())}},
		{"infinite lambda", FitConfig{Lambda: ptrFloat64(math.Inf(1))}},
		{"nan rcond", FitConfig{RCond: ptrFloat64(math.NaN())}},
		{"infinite voxel", FitConfig{VoxelMax: ptrFloat64(math.Inf(1))}},
		{"nan voxel", FitConfig{VoxelMin: ptrFloat64(math.NaN())}},
		{"infinite residual", FitConfig{ResidualThreshold: ptrFloat64(math.Inf(1))}},
		{"zero parallelism", FitConfig{Parallelism: ptrInt(0)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.cfg.Validate(), ErrInvalidConfig)
		})
	}

	ok := FitConfig{VoxelMax: ptrFloat64(0), VoxelMin: ptrFloat64(0.2)}
	assert.NoError(t, ok.Validate(), "zero voxel_max derives from bounds")
}

func TestToDriverConfig(t *testing.T) {
	t.Parallel()
	cfg := FitConfig{
		Lambda:        ptrFloat64(0.2),
		LinearSolver:  ptrString("lu"),
		Workers:       ptrInt(4),
		VoxelMax:      ptrFloat64(0.5),
		VoxelMin:      ptrFloat64(0.05),
		Restarts:      ptrInt(2),
		Seed:          ptrInt64(9),
		MaxIterations: ptrInt(50),
		Parallelism:   ptrInt(2),
	}
	want := multiscale.Config{
		Solver: fit.Config{
			Lambda:        0.2,
			MaxIterations: 50,
			MinThreshold:  fit.DefaultMinThreshold,
			RCond:         fit.DefaultRCond,
			LinearSolver:  fit.SolverLU,
			Workers:       4,
		},
		VoxelMax:          0.5,
		VoxelMin:          0.05,
		Levels:            multiscale.DefaultLevels,
		ResidualThreshold: multiscale.DefaultResidualThreshold,
		Restarts:          2,
		RestartJitter:     multiscale.DefaultRestartJitter,
		Seed:              9,
		Parallelism:       2,
	}
	if diff := cmp.Diff(want, cfg.ToDriverConfig()); diff != "" {
		t.Errorf("ToDriverConfig mismatch (-want +got):\n%s", diff)
	}
}

func TestFitConfig_JSON(t *testing.T) {
	t.Parallel()
	cfg := FitConfig{Lambda: ptrFloat64(0.3)}
	assert.JSONEq(t, `{"lambda": 0.3}`, cfg.JSON())
}
