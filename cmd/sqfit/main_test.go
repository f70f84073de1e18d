package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sqfit/internal/cloud"
	"github.com/banshee-data/sqfit/internal/config"
	"github.com/banshee-data/sqfit/internal/fsutil"
	"github.com/banshee-data/sqfit/internal/storage"
	"github.com/banshee-data/sqfit/internal/superquadric"
	"github.com/banshee-data/sqfit/internal/testutil"
)

// These tests replace process-wide loggers and so do not run in parallel.

var ellipsoid = superquadric.Params{
	A1: 2, A2: 1.2, A3: 0.6,
	E1: 1, E2: 1,
	PX: 1, PY: -1, PZ: 0.5,
	Yaw: 0.4,
}

const testConfig = `{
  "max_iterations": 200,
  "voxel_max": 0.4,
  "voxel_min": 0.1,
  "levels": 3
}`

func writeCloud(t *testing.T, dir, name string, set *cloud.SampleSet) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, cloud.Save(fsutil.OSFileSystem{}, path, set))
	return path
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "fit.json")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))
	return path
}

func testEnv() (env, *bytes.Buffer) {
	var stdout bytes.Buffer
	return env{fs: fsutil.OSFileSystem{}, stdout: &stdout, stderr: io.Discard}, &stdout
}

// ---------------------------------------------------------------------------
// Flags
// ---------------------------------------------------------------------------

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{"-cloud", "a.pcd", "-db", "x.db", "-listen", ":0", "-single", "-v"}, io.Discard)
	require.NoError(t, err)
	assert.Equal(t, "a.pcd", opts.cloud)
	assert.True(t, opts.single)
	assert.True(t, opts.verbose)

	_, err = parseFlags(nil, io.Discard)
	assert.EqualError(t, err, "-cloud is required")

	_, err = parseFlags([]string{"-cloud", "a.pcd", "-listen", ":0"}, io.Discard)
	assert.EqualError(t, err, "-listen requires -db")

	opts, err = parseFlags([]string{"-version"}, io.Discard)
	require.NoError(t, err)
	assert.True(t, opts.version)

	_, err = parseFlags([]string{"-h"}, io.Discard)
	assert.True(t, errors.Is(err, flag.ErrHelp))
}

// ---------------------------------------------------------------------------
// Fitting
// ---------------------------------------------------------------------------

func TestRun_MultiscaleWithOutputs(t *testing.T) {
	dir := t.TempDir()
	opts := options{
		cloud:  writeCloud(t, dir, "ellipsoid.pcd", testutil.SuperquadricCloud(ellipsoid, 1500, 0.001, 21)),
		config: writeConfig(t, dir),
		db:     filepath.Join(dir, "fits.db"),
		plot:   filepath.Join(dir, "out", "convergence.png"),
		html:   filepath.Join(dir, "out", "report.html"),
	}
	e, stdout := testEnv()
	require.NoError(t, run(context.Background(), opts, e))

	assert.Contains(t, stdout.String(), "status:        converged")
	assert.Contains(t, stdout.String(), "ellipsoid.pcd (1500 points)")
	assert.FileExists(t, opts.plot)
	assert.FileExists(t, opts.html)

	db, err := storage.Open(opts.db)
	require.NoError(t, err)
	defer db.Close()
	store := storage.NewFitRunStore(db.DB)
	runs, err := store.List(0)
	require.NoError(t, err)
	require.Len(t, runs, 1)

	got := runs[0]
	assert.True(t, got.Converged)
	assert.Equal(t, "ellipsoid.pcd", got.Source)
	assert.Less(t, got.MeanResidual, 0.01)
	assert.InDelta(t, ellipsoid.PX, got.Final.PX, 0.02)

	var cfg map[string]interface{}
	require.NoError(t, json.Unmarshal(got.ConfigJSON, &cfg))
	assert.Equal(t, 200.0, cfg["max_iterations"])

	hist, err := store.Iterations(got.RunID)
	require.NoError(t, err)
	assert.Len(t, hist, got.Iterations)
}

func TestRun_Single(t *testing.T) {
	dir := t.TempDir()
	opts := options{
		cloud:  writeCloud(t, dir, "sphere.asc", testutil.UnitSphereCloud(400, 3)),
		single: true,
	}
	e, stdout := testEnv()
	require.NoError(t, run(context.Background(), opts, e))
	assert.Contains(t, stdout.String(), "status:        converged")
	assert.NotContains(t, stdout.String(), "run id:")
}

func TestFitSingle_RecordsHistory(t *testing.T) {
	out, err := fitSingle(mustDefaultConfig(t), testutil.UnitSphereCloud(400, 3))
	require.NoError(t, err)
	require.Len(t, out.run.History, out.run.Iterations)
	assert.Len(t, out.steps, out.run.Iterations)
	for i, it := range out.run.History {
		assert.Equal(t, i+1, it.Iteration)
		assert.Equal(t, out.steps[i], it.Step)
	}
	assert.InDelta(t, 1, out.run.Final.A1, 1e-2)
}

func TestRun_Errors(t *testing.T) {
	dir := t.TempDir()
	e, _ := testEnv()

	err := run(context.Background(), options{cloud: filepath.Join(dir, "missing.pcd")}, e)
	assert.Error(t, err)

	err = run(context.Background(), options{cloud: filepath.Join(dir, "a.pcd"), config: filepath.Join(dir, "fit.yaml")}, e)
	assert.ErrorContains(t, err, ".json extension")

	empty := writeCloud(t, dir, "empty.asc", cloud.NewSampleSet(nil))
	err = run(context.Background(), options{cloud: empty}, e)
	assert.ErrorIs(t, err, superquadric.ErrEmptySampleSet)
}

// ---------------------------------------------------------------------------
// Serving
// ---------------------------------------------------------------------------

func TestRun_ListenServesStoredRun(t *testing.T) {
	dir := t.TempDir()
	opts := options{
		cloud:  writeCloud(t, dir, "sphere.pcd", testutil.UnitSphereCloud(300, 5)),
		db:     filepath.Join(dir, "fits.db"),
		single: true,
		listen: "127.0.0.1:0",
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, _ := testEnv()
	var status int
	var body struct {
		Count int `json:"count"`
	}
	e.ready = func(addr string) {
		defer cancel()
		resp, err := http.Get("http://" + addr + "/api/runs")
		if !assert.NoError(t, err) {
			return
		}
		defer resp.Body.Close()
		status = resp.StatusCode
		assert.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	}

	require.NoError(t, run(ctx, opts, e))
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, body.Count)
}

// ---------------------------------------------------------------------------
// Migrate subcommand
// ---------------------------------------------------------------------------

func TestRunMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fits.db")

	var out bytes.Buffer
	require.NoError(t, runMigrate([]string{"-db", path, "status"}, &out, io.Discard))
	assert.Equal(t, "version: 0 (dirty: false)\n", out.String())

	out.Reset()
	require.NoError(t, runMigrate([]string{"-db", path, "up"}, &out, io.Discard))
	assert.Equal(t, "version: 1 (dirty: false)\n", out.String())

	out.Reset()
	require.NoError(t, runMigrate([]string{"-db", path, "down"}, &out, io.Discard))
	assert.Equal(t, "version: 0 (dirty: false)\n", out.String())
}

func TestRunMigrate_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fits.db")

	assert.EqualError(t, runMigrate([]string{"up"}, io.Discard, io.Discard), "migrate: -db is required")
	assert.EqualError(t, runMigrate([]string{"-db", path}, io.Discard, io.Discard), "migrate: expected exactly one action")
	assert.EqualError(t, runMigrate([]string{"-db", path, "sideways"}, io.Discard, io.Discard), `migrate: unknown action "sideways"`)
	assert.True(t, errors.Is(runMigrate([]string{"-h"}, io.Discard, io.Discard), flag.ErrHelp))
}

func mustDefaultConfig(t *testing.T) *config.FitConfig {
	t.Helper()
	cfg, err := loadConfig("")
	require.NoError(t, err)
	return cfg
}
