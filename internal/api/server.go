// Package api serves stored fit runs over HTTP and mounts the admin
// debug routes.
package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/sqfit/internal/httputil"
	"github.com/banshee-data/sqfit/internal/monitoring"
	"github.com/banshee-data/sqfit/internal/report"
	"github.com/banshee-data/sqfit/internal/security"
	"github.com/banshee-data/sqfit/internal/storage"
)

// ANSI escape codes for request logging
const (
	colorCyan      = "\033[36m"
	colorReset     = "\033[0m"
	colorYellow    = "\033[33m"
	colorBoldGreen = "\033[1;32m"
	colorBoldRed   = "\033[1;31m"
)

// maxListLimit caps the limit query parameter of GET /api/runs.
const maxListLimit = 1000

// Server serves the fit run endpoints.
type Server struct {
	store *storage.FitRunStore
}

// NewServer creates a Server reading from store.
func NewServer(store *storage.FitRunStore) *Server {
	return &Server{store: store}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns a mux with the run endpoints registered.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	s.Register(mux)
	return mux
}

// Register adds the run endpoints to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/runs", s.listRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("DELETE /api/runs/{id}", s.deleteRun)
	mux.HandleFunc("GET /api/runs/{id}/iterations", s.listIterations)
	mux.HandleFunc("GET /api/runs/{id}/chart", s.runChart)
	mux.HandleFunc("GET /api/runs/{id}/plot.png", s.runPlot)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := storage.DefaultListLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		v, err := strconv.Atoi(l)
		if err != nil || v <= 0 || v > maxListLimit {
			httputil.BadRequest(w, fmt.Sprintf("limit must be an integer in 1..%d", maxListLimit))
			return
		}
		limit = v
	}

	runs, err := s.store.List(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list runs: %v", err))
		return
	}
	out := make([]RunJSON, len(runs))
	for i, run := range runs {
		out[i] = NewRunJSON(run)
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"runs": out, "count": len(out)})
}

// writeLookupError maps store errors to 404 or 500.
func writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrRunNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.InternalServerError(w, err.Error())
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	httputil.WriteJSONOK(w, NewRunJSON(run))
}

func (s *Server) deleteRun(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.PathValue("id")); err != nil {
		writeLookupError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listIterations(w http.ResponseWriter, r *http.Request) {
	history, err := s.store.Iterations(r.PathValue("id"))
	if err != nil {
		writeLookupError(w, err)
		return
	}
	out := make([]IterationJSON, len(history))
	for i, it := range history {
		out[i] = NewIterationJSON(it)
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"iterations": out, "count": len(out)})
}

func (s *Server) runChart(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.store.Get(id)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	history, err := s.store.Iterations(id)
	if err != nil {
		writeLookupError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := report.WriteHTML(w, run, report.Steps(history), nil); err != nil {
		monitoring.Logf("render chart for %s: %v", id, err)
	}
}

func (s *Server) runPlot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	run, err := s.store.Get(id)
	if err != nil {
		writeLookupError(w, err)
		return
	}
	history, err := s.store.Iterations(id)
	if err != nil {
		writeLookupError(w, err)
		return
	}

	var buf bytes.Buffer
	title := fmt.Sprintf("%s (%d points)", run.Source, run.Points)
	if err := report.WriteConvergencePNG(&buf, title, report.Steps(history), 0); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", security.DownloadName(run.Source, "-convergence.png")))
	_, _ = w.Write(buf.Bytes())
}
