package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/banshee-data/sqfit/internal/fit"
	"github.com/banshee-data/sqfit/internal/multiscale"
)

// DefaultConfigPath is the path to the canonical fit defaults file.
const DefaultConfigPath = "config/fit.defaults.json"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// FitConfig is the JSON document that tunes the solver and the
// multiscale driver. Omitted fields fall back to the Get* defaults, so
// partial files are safe.
type FitConfig struct {
	// Solver params
	Lambda        *float64 `json:"lambda,omitempty"`
	MaxIterations *int     `json:"max_iterations,omitempty"`
	MinThreshold  *float64 `json:"min_threshold,omitempty"`
	RCond         *float64 `json:"rcond,omitempty"`
	LinearSolver  *string  `json:"linear_solver,omitempty"` // "svd" or "lu"
	Workers       *int     `json:"workers,omitempty"`

	// Multiscale params; zero voxel sizes derive from the cloud bounds
	VoxelMax          *float64 `json:"voxel_max,omitempty"`
	VoxelMin          *float64 `json:"voxel_min,omitempty"`
	Levels            *int     `json:"levels,omitempty"`
	ResidualThreshold *float64 `json:"residual_threshold,omitempty"`

	// Restart params
	Restarts      *int     `json:"restarts,omitempty"`
	RestartJitter *float64 `json:"restart_jitter,omitempty"`
	Seed          *int64   `json:"seed,omitempty"`
	Parallelism   *int     `json:"parallelism,omitempty"` // concurrent restarts
}

// DefaultParallelism bounds how many restarts run at once.
const DefaultParallelism = 4

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyFitConfig returns a FitConfig with all fields nil.
func EmptyFitConfig() *FitConfig {
	return &FitConfig{}
}

// DefaultFitConfig returns a FitConfig with every field set to its
// default. It matches config/fit.defaults.json.
func DefaultFitConfig() *FitConfig {
	empty := EmptyFitConfig()
	return &FitConfig{
		Lambda:            ptrFloat64(empty.GetLambda()),
		MaxIterations:     ptrInt(empty.GetMaxIterations()),
		MinThreshold:      ptrFloat64(empty.GetMinThreshold()),
		RCond:             ptrFloat64(empty.GetRCond()),
		LinearSolver:      ptrString(empty.GetLinearSolver()),
		Workers:           ptrInt(empty.GetWorkers()),
		VoxelMax:          ptrFloat64(empty.GetVoxelMax()),
		VoxelMin:          ptrFloat64(empty.GetVoxelMin()),
		Levels:            ptrInt(empty.GetLevels()),
		ResidualThreshold: ptrFloat64(empty.GetResidualThreshold()),
		Restarts:          ptrInt(empty.GetRestarts()),
		RestartJitter:     ptrFloat64(empty.GetRestartJitter()),
		Seed:              ptrInt64(empty.GetSeed()),
		Parallelism:       ptrInt(empty.GetParallelism()),
	}
}

// LoadFitConfig loads a FitConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadFitConfig(path string) (*FitConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyFitConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded,
// intended for test setup.
func MustLoadDefaultConfig() *FitConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadFitConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks the values that are set.
func (c *FitConfig) Validate() error {
	invalid := func(format string, args ...interface{}) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.Lambda != nil && !positiveFinite(*c.Lambda) {
		return invalid("lambda must be positive and finite, got %g", *c.Lambda)
	}
	if c.MaxIterations != nil && *c.MaxIterations < 1 {
		return invalid("max_iterations must be at least 1, got %d", *c.MaxIterations)
	}
	if c.MinThreshold != nil && !positiveFinite(*c.MinThreshold) {
		return invalid("min_threshold must be positive and finite, got %g", *c.MinThreshold)
	}
	if c.RCond != nil && !(*c.RCond > 0 && *c.RCond < 1) {
		return invalid("rcond must be in (0, 1), got %g", *c.RCond)
	}
	if c.LinearSolver != nil {
		if _, err := fit.ParseLinearSolver(*c.LinearSolver); err != nil {
			return invalid("linear_solver: %v", err)
		}
	}
	if c.Workers != nil && *c.Workers < 1 {
		return invalid("workers must be at least 1, got %d", *c.Workers)
	}
	if c.VoxelMax != nil && !(*c.VoxelMax == 0 || positiveFinite(*c.VoxelMax)) {
		return invalid("voxel_max must be non-negative and finite, got %g", *c.VoxelMax)
	}
	if c.VoxelMin != nil && !(*c.VoxelMin == 0 || positiveFinite(*c.VoxelMin)) {
		return invalid("voxel_min must be non-negative and finite, got %g", *c.VoxelMin)
	}
	if vmax, vmin := c.GetVoxelMax(), c.GetVoxelMin(); vmax > 0 && vmin > vmax {
		return invalid("voxel_min %g exceeds voxel_max %g", vmin, vmax)
	}
	if c.Levels != nil && *c.Levels < 1 {
		return invalid("levels must be at least 1, got %d", *c.Levels)
	}
	if c.ResidualThreshold != nil && !positiveFinite(*c.ResidualThreshold) {
		return invalid("residual_threshold must be positive and finite, got %g", *c.ResidualThreshold)
	}
	if c.Restarts != nil && *c.Restarts < 0 {
		return invalid("restarts must be non-negative, got %d", *c.Restarts)
	}
	if c.RestartJitter != nil && !positiveFinite(*c.RestartJitter) {
		return invalid("restart_jitter must be positive and finite, got %g", *c.RestartJitter)
	}
	if c.Parallelism != nil && *c.Parallelism < 1 {
		return invalid("parallelism must be at least 1, got %d", *c.Parallelism)
	}
	return nil
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

// GetLambda returns the lambda value or the default.
func (c *FitConfig) GetLambda() float64 {
	if c.Lambda == nil {
		return fit.DefaultLambda
	}
	return *c.Lambda
}

// GetMaxIterations returns the max_iterations value or the default.
func (c *FitConfig) GetMaxIterations() int {
	if c.MaxIterations == nil {
		return fit.DefaultMaxIterations
	}
	return *c.MaxIterations
}

// GetMinThreshold returns the min_threshold value or the default.
func (c *FitConfig) GetMinThreshold() float64 {
	if c.MinThreshold == nil {
		return fit.DefaultMinThreshold
	}
	return *c.MinThreshold
}

// GetRCond returns the rcond value or the default.
func (c *FitConfig) GetRCond() float64 {
	if c.RCond == nil {
		return fit.DefaultRCond
	}
	return *c.RCond
}

// GetLinearSolver returns the linear_solver value or the default.
func (c *FitConfig) GetLinearSolver() string {
	if c.LinearSolver == nil || *c.LinearSolver == "" {
		return string(fit.SolverSVD)
	}
	return *c.LinearSolver
}

// GetWorkers returns the workers value or the default.
func (c *FitConfig) GetWorkers() int {
	if c.Workers == nil {
		return 1 // sequential fold
	}
	return *c.Workers
}

// GetVoxelMax returns the voxel_max value or the default.
func (c *FitConfig) GetVoxelMax() float64 {
	if c.VoxelMax == nil {
		return 0 // derive from cloud bounds
	}
	return *c.VoxelMax
}

// GetVoxelMin returns the voxel_min value or the default.
func (c *FitConfig) GetVoxelMin() float64 {
	if c.VoxelMin == nil {
		return 0 // derive from cloud bounds
	}
	return *c.VoxelMin
}

// GetLevels returns the levels value or the default.
func (c *FitConfig) GetLevels() int {
	if c.Levels == nil {
		return multiscale.DefaultLevels
	}
	return *c.Levels
}

// GetResidualThreshold returns the residual_threshold value or the default.
func (c *FitConfig) GetResidualThreshold() float64 {
	if c.ResidualThreshold == nil {
		return multiscale.DefaultResidualThreshold
	}
	return *c.ResidualThreshold
}

// GetRestarts returns the restarts value or the default.
func (c *FitConfig) GetRestarts() int {
	if c.Restarts == nil {
		return 0
	}
	return *c.Restarts
}

// GetRestartJitter returns the restart_jitter value or the default.
func (c *FitConfig) GetRestartJitter() float64 {
	if c.RestartJitter == nil {
		return multiscale.DefaultRestartJitter
	}
	return *c.RestartJitter
}

// GetSeed returns the seed value or the default.
func (c *FitConfig) GetSeed() int64 {
	if c.Seed == nil {
		return 1
	}
	return *c.Seed
}

// GetParallelism returns the parallelism value or the default.
func (c *FitConfig) GetParallelism() int {
	if c.Parallelism == nil {
		return DefaultParallelism
	}
	return *c.Parallelism
}

// ToSolverConfig converts to the solver's tuning.
func (c *FitConfig) ToSolverConfig() fit.Config {
	return fit.Config{
		Lambda:        c.GetLambda(),
		MaxIterations: c.GetMaxIterations(),
		MinThreshold:  c.GetMinThreshold(),
		RCond:         c.GetRCond(),
		LinearSolver:  fit.LinearSolver(c.GetLinearSolver()),
		Workers:       c.GetWorkers(),
	}
}

// ToDriverConfig converts to the multiscale driver's tuning, embedding
// ToSolverConfig.
func (c *FitConfig) ToDriverConfig() multiscale.Config {
	return multiscale.Config{
		Solver:            c.ToSolverConfig(),
		VoxelMax:          c.GetVoxelMax(),
		VoxelMin:          c.GetVoxelMin(),
		Levels:            c.GetLevels(),
		ResidualThreshold: c.GetResidualThreshold(),
		Restarts:          c.GetRestarts(),
		RestartJitter:     c.GetRestartJitter(),
		Seed:              c.GetSeed(),
		Parallelism:       c.GetParallelism(),
	}
}

// JSON returns the indented JSON encoding of c, as stored alongside each
// fit run.
func (c *FitConfig) JSON() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
