package api

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/sqfit/internal/storage"
	"github.com/banshee-data/sqfit/internal/superquadric"
	"github.com/banshee-data/sqfit/internal/testutil"
)

func setupServer(t *testing.T) (*storage.DB, *storage.FitRunStore, *http.ServeMux) {
	t.Helper()
	db, err := storage.Open(testutil.TempDBPath(t))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := storage.NewFitRunStore(db.DB)
	return db, store, NewServer(store).ServeMux()
}

func insertRun(t *testing.T, store *storage.FitRunStore, id string, createdAt int64) *storage.FitRun {
	t.Helper()
	run := &storage.FitRun{
		RunID:        id,
		Source:       id + ".pcd",
		Points:       200,
		Initial:      superquadric.UnitSphere,
		Final:        testutil.ReferenceShape,
		Converged:    true,
		Iterations:   2,
		FinalStep:    0.001,
		MeanResidual: math.NaN(),
		CreatedAt:    createdAt,
		History: []storage.IterationRecord{
			{Iteration: 1, Step: 0.3, Cond: math.Inf(1), Params: superquadric.UnitSphere},
			{Iteration: 2, Step: 0.001, Cond: 20, Params: testutil.ReferenceShape},
		},
	}
	require.NoError(t, store.Insert(run))
	return run
}

func serve(mux http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// Run endpoints
// ---------------------------------------------------------------------------

func TestListRuns(t *testing.T) {
	t.Parallel()
	_, store, mux := setupServer(t)
	insertRun(t, store, "old", 1)
	insertRun(t, store, "new", 2)

	rec := serve(mux, http.MethodGet, "/api/runs")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var resp struct {
		Runs  []RunJSON `json:"runs"`
		Count int       `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, 2, resp.Count)
	assert.Equal(t, "new", resp.Runs[0].RunID)
	assert.Nil(t, resp.Runs[0].MeanResidual)
	require.NotNil(t, resp.Runs[0].FinalStep)
	assert.Equal(t, 0.001, *resp.Runs[0].FinalStep)

	rec = serve(mux, http.MethodGet, "/api/runs?limit=1")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 1, resp.Count)
}

func TestListRuns_BadLimit(t *testing.T) {
	t.Parallel()
	_, _, mux := setupServer(t)
	for _, q := range []string{"0", "-3", "abc", "5000"} {
		rec := serve(mux, http.MethodGet, "/api/runs?limit="+q)
		testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	}
}

func TestGetRun(t *testing.T) {
	t.Parallel()
	_, store, mux := setupServer(t)
	run := insertRun(t, store, "abc", 1)

	rec := serve(mux, http.MethodGet, "/api/runs/abc")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var got RunJSON
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, run.Source, got.Source)
	require.NotNil(t, got.Final.E2)
	assert.Equal(t, testutil.ReferenceShape.E2, *got.Final.E2)
	assert.True(t, got.Converged)

	rec = serve(mux, http.MethodGet, "/api/runs/missing")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestListIterations(t *testing.T) {
	t.Parallel()
	_, store, mux := setupServer(t)
	insertRun(t, store, "abc", 1)

	rec := serve(mux, http.MethodGet, "/api/runs/abc/iterations")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	var resp struct {
		Iterations []IterationJSON `json:"iterations"`
		Count      int             `json:"count"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, 2, resp.Count)
	assert.Nil(t, resp.Iterations[0].Cond)
	require.NotNil(t, resp.Iterations[1].Cond)
	assert.Equal(t, 20.0, *resp.Iterations[1].Cond)

	rec = serve(mux, http.MethodGet, "/api/runs/missing/iterations")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestRunChart(t *testing.T) {
	t.Parallel()
	_, store, mux := setupServer(t)
	insertRun(t, store, "abc", 1)

	rec := serve(mux, http.MethodGet, "/api/runs/abc/chart")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "Step size")

	rec = serve(mux, http.MethodGet, "/api/runs/missing/chart")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestRunPlot(t *testing.T) {
	t.Parallel()
	_, store, mux := setupServer(t)
	insertRun(t, store, "abc", 1)

	rec := serve(mux, http.MethodGet, "/api/runs/abc/plot.png")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, `inline; filename="abc-convergence.png"`, rec.Header().Get("Content-Disposition"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), "\x89PNG"))

	rec = serve(mux, http.MethodGet, "/api/runs/missing/plot.png")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestDeleteRun(t *testing.T) {
	t.Parallel()
	_, store, mux := setupServer(t)
	insertRun(t, store, "abc", 1)

	rec := serve(mux, http.MethodDelete, "/api/runs/abc")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNoContent)

	rec = serve(mux, http.MethodDelete, "/api/runs/abc")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()
	_, _, mux := setupServer(t)
	rec := serve(mux, http.MethodPost, "/api/runs")
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestLoggingMiddleware(t *testing.T) {
	var lines []string
	restore := captureLogs(&lines)
	defer restore()

	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := serve(h, http.MethodGet, "/api/runs?limit=2")
	testutil.AssertStatusCode(t, rec.Code, http.StatusTeapot)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "/api/runs?limit=2")
	assert.Contains(t, lines[0], "418")
}

func TestStatusCodeColor(t *testing.T) {
	t.Parallel()
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(304))
	assert.Equal(t, colorBoldRed+"500"+colorReset, statusCodeColor(500))
	assert.Equal(t, "100", statusCodeColor(100))
}

// ---------------------------------------------------------------------------
// JSON conversion
// ---------------------------------------------------------------------------

func TestNewParamsJSON_NonFiniteIsNull(t *testing.T) {
	t.Parallel()
	p := superquadric.Params{A1: math.NaN(), A2: math.Inf(-1), A3: 2}
	data, err := json.Marshal(NewParamsJSON(p))
	require.NoError(t, err)
	s := string(data)
	assert.Contains(t, s, `"a1":null`)
	assert.Contains(t, s, `"a2":null`)
	assert.Contains(t, s, `"a3":2`)
	assert.Contains(t, s, `"yaw":0`)
}

// ---------------------------------------------------------------------------
// Admin routes
// ---------------------------------------------------------------------------

func TestAttachAdminRoutes(t *testing.T) {
	t.Parallel()
	db, store, _ := setupServer(t)
	insertRun(t, store, "abc", 1)

	mux := http.NewServeMux()
	require.NoError(t, AttachAdminRoutes(mux, db))

	t.Run("index", func(t *testing.T) {
		rec := serve(mux, http.MethodGet, "/debug/")
		testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
		assert.Contains(t, rec.Body.String(), "fit-stats")
	})

	t.Run("tailsql", func(t *testing.T) {
		rec := serve(mux, http.MethodGet, "/debug/tailsql/")
		assert.NotEqual(t, http.StatusNotFound, rec.Code)
	})

	t.Run("fit-stats", func(t *testing.T) {
		rec := serve(mux, http.MethodGet, "/debug/fit-stats")
		testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
		var stats FitStats
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
		assert.Equal(t, FitStats{Runs: 1, Converged: 1, Iterations: 2, SchemaVersion: 1}, stats)
	})

	t.Run("backup", func(t *testing.T) {
		rec := serve(mux, http.MethodGet, "/debug/backup")
		testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
		assert.True(t, strings.HasSuffix(rec.Header().Get("Content-Disposition"), ".db.gz"))

		zr, err := gzip.NewReader(rec.Body)
		require.NoError(t, err)
		data, err := io.ReadAll(zr)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(string(data), "SQLite format 3"))
	})
}
