package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/banshee-data/sqfit/internal/api"
	"github.com/banshee-data/sqfit/internal/cloud"
	"github.com/banshee-data/sqfit/internal/config"
	"github.com/banshee-data/sqfit/internal/fit"
	"github.com/banshee-data/sqfit/internal/fsutil"
	"github.com/banshee-data/sqfit/internal/monitoring"
	"github.com/banshee-data/sqfit/internal/multiscale"
	"github.com/banshee-data/sqfit/internal/report"
	"github.com/banshee-data/sqfit/internal/storage"
	"github.com/banshee-data/sqfit/internal/superquadric"
)

// env carries the process boundaries so tests can substitute them.
type env struct {
	fs     fsutil.FileSystem
	stdout io.Writer
	stderr io.Writer
	// ready, when set, receives the bound address once -listen is serving.
	ready func(addr string)
}

func newEnv(stdout, stderr io.Writer) env {
	return env{fs: fsutil.OSFileSystem{}, stdout: stdout, stderr: stderr}
}

func setupLogging(e env, verbose bool) {
	monitoring.SetLogger(monitoring.WriterLogger(e.stderr, "sqfit: "))
	var diag, trace io.Writer
	if verbose {
		diag, trace = e.stderr, e.stderr
	}
	fit.SetLogWriters(e.stderr, diag, trace)
	multiscale.SetLogWriters(e.stderr, diag, trace)
}

func loadConfig(path string) (*config.FitConfig, error) {
	if path == "" {
		return config.DefaultFitConfig(), nil
	}
	return config.LoadFitConfig(path)
}

// outcome is a finished fit in the shape the store and reports need.
type outcome struct {
	run   *storage.FitRun
	steps []float64
}

// historyRecorder collects iteration records per restart. Iteration
// numbers run on across levels.
type historyRecorder struct {
	mu   sync.Mutex
	runs map[int][]storage.IterationRecord
}

func newHistoryRecorder() *historyRecorder {
	return &historyRecorder{runs: make(map[int][]storage.IterationRecord)}
}

func (h *historyRecorder) record(restart int, it fit.Iteration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hist := h.runs[restart]
	h.runs[restart] = append(hist, storage.IterationRecord{
		Iteration: len(hist) + 1,
		Step:      it.Step,
		Cond:      it.Cond,
		Skipped:   it.Skipped,
		Params:    it.Params,
	})
}

func (h *historyRecorder) get(restart int) []storage.IterationRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.runs[restart]
}

func fitSingle(cfg *config.FitConfig, set *cloud.SampleSet) (outcome, error) {
	finite := set.Finite()
	guess, err := superquadric.InitialGuess(finite.Points())
	if err != nil {
		return outcome{}, err
	}

	hist := newHistoryRecorder()
	solver := fit.NewSolver(cfg.ToSolverConfig(), nil)
	solver.OnIteration(func(it fit.Iteration) { hist.record(0, it) })
	res := solver.Minimize(guess, finite)

	return outcome{
		run: &storage.FitRun{
			Points:       set.Len(),
			Initial:      guess,
			Final:        res.Params,
			Converged:    res.Converged,
			Iterations:   res.Iterations,
			FinalStep:    res.FinalStep(),
			MeanResidual: fit.MeanResidual(res.Params, finite),
			Skipped:      res.SkippedTotal,
			History:      hist.get(0),
		},
		steps: res.Steps,
	}, nil
}

func fitMultiscale(ctx context.Context, cfg *config.FitConfig, set *cloud.SampleSet) (outcome, error) {
	hist := newHistoryRecorder()
	driver := multiscale.NewDriver(cfg.ToDriverConfig(), nil)
	driver.OnIteration(func(restart, _ int, it fit.Iteration) { hist.record(restart, it) })

	rep, err := driver.RunRestarts(ctx, set)
	if err != nil {
		return outcome{}, err
	}
	return outcome{
		run: &storage.FitRun{
			Points:       set.Len(),
			Initial:      rep.Initial,
			Final:        rep.Params,
			Converged:    rep.Converged(),
			Iterations:   rep.Iterations(),
			FinalStep:    finalStep(rep.Steps()),
			MeanResidual: rep.MeanResidual,
			Skipped:      rep.Skipped(),
			History:      hist.get(rep.Restart),
		},
		steps: rep.Steps(),
	}, nil
}

func finalStep(steps []float64) float64 {
	if len(steps) == 0 {
		return 0
	}
	return steps[len(steps)-1]
}

func printSummary(w io.Writer, run *storage.FitRun) {
	status := "converged"
	if !run.Converged {
		status = "not converged"
	}
	fmt.Fprintf(w, "source:        %s (%d points)\n", run.Source, run.Points)
	fmt.Fprintf(w, "status:        %s after %d iterations (final step %.6g)\n", status, run.Iterations, run.FinalStep)
	fmt.Fprintf(w, "mean residual: %.6g\n", run.MeanResidual)
	fmt.Fprintf(w, "skipped NaN:   %d\n", run.Skipped)
	fmt.Fprintf(w, "initial:       %s\n", run.Initial)
	fmt.Fprintf(w, "final:         %s\n", run.Final)
	if run.RunID != "" {
		fmt.Fprintf(w, "run id:        %s\n", run.RunID)
	}
}

func run(ctx context.Context, opts options, e env) error {
	setupLogging(e, opts.verbose)

	cfg, err := loadConfig(opts.config)
	if err != nil {
		return err
	}
	set, err := cloud.Load(e.fs, opts.cloud)
	if err != nil {
		return err
	}
	monitoring.Logf("loaded %d points from %s", set.Len(), opts.cloud)

	var out outcome
	if opts.single {
		out, err = fitSingle(cfg, set)
	} else {
		out, err = fitMultiscale(ctx, cfg, set)
	}
	if err != nil {
		return fmt.Errorf("fit %s: %w", opts.cloud, err)
	}
	out.run.Source = filepath.Base(opts.cloud)
	out.run.ConfigJSON = json.RawMessage(cfg.JSON())

	var db *storage.DB
	if opts.db != "" {
		db, err = storage.Open(opts.db)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if err := storage.NewFitRunStore(db.DB).Insert(out.run); err != nil {
			return err
		}
	}
	printSummary(e.stdout, out.run)

	title := fmt.Sprintf("%s (%d points)", out.run.Source, out.run.Points)
	if opts.plot != "" {
		if err := report.WriteConvergencePlot(e.fs, opts.plot, title, out.steps, cfg.GetMinThreshold()); err != nil {
			return err
		}
		monitoring.Logf("wrote convergence plot to %s", opts.plot)
	}
	if opts.html != "" {
		if err := writeHTML(e.fs, opts.html, out, set); err != nil {
			return err
		}
		monitoring.Logf("wrote report to %s", opts.html)
	}

	if opts.listen != "" {
		return serve(ctx, opts.listen, db, e)
	}
	return nil
}

func writeHTML(fsys fsutil.FileSystem, path string, out outcome, set *cloud.SampleSet) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := fsys.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteHTML(f, out.run, out.steps, set); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func serve(ctx context.Context, addr string, db *storage.DB, e env) error {
	mux := http.NewServeMux()
	api.NewServer(storage.NewFitRunStore(db.DB)).Register(mux)
	if err := api.AttachAdminRoutes(mux, db); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: api.LoggingMiddleware(mux)}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	monitoring.Logf("serving on http://%s", ln.Addr())
	if e.ready != nil {
		e.ready(ln.Addr().String())
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
