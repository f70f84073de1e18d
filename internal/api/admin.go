package api

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/sqfit/internal/httputil"
	"github.com/banshee-data/sqfit/internal/monitoring"
	"github.com/banshee-data/sqfit/internal/storage"
)

// FitStats summarises the fit database for the debug page.
type FitStats struct {
	Runs          int  `json:"runs"`
	Converged     int  `json:"converged"`
	Iterations    int  `json:"iterations"`
	SchemaVersion uint `json:"schema_version"`
}

// Stats counts stored runs and iterations.
func Stats(db *storage.DB) (FitStats, error) {
	var s FitStats
	err := db.QueryRow(`SELECT COUNT(*), COALESCE(SUM(converged), 0) FROM fit_runs`).Scan(&s.Runs, &s.Converged)
	if err != nil {
		return s, fmt.Errorf("count runs: %w", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM fit_iterations`).Scan(&s.Iterations); err != nil {
		return s, fmt.Errorf("count iterations: %w", err)
	}
	if s.SchemaVersion, _, err = db.MigrateVersion(); err != nil {
		return s, fmt.Errorf("schema version: %w", err)
	}
	return s, nil
}

// AttachAdminRoutes mounts the tsweb debug index on mux with a tailsql
// browser over db, a stats page and a gzipped backup download.
func AttachAdminRoutes(mux *http.ServeMux, db *storage.DB) error {
	debug := tsweb.Debugger(mux)
	// create a tailSQL instance and point it to our DB
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+filepath.Base(db.Path()), db.DB, &tailsql.DBOptions{
		Label: "Fit DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("fit-stats", "Stored run and iteration counts", func(w http.ResponseWriter, r *http.Request) {
		stats, err := Stats(db)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, stats)
	})

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("sqfit-backup-%d.db", time.Now().UnixNano()))
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			if err := os.Remove(backupPath); err != nil {
				monitoring.Logf("Failed to remove backup file: %v", err)
			}
		}()

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer backupFile.Close()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", filepath.Base(backupPath)))
		w.Header().Set("Content-Type", "application/gzip")

		gzipWriter := gzip.NewWriter(w)
		defer gzipWriter.Close()
		if _, err := io.Copy(gzipWriter, backupFile); err != nil {
			monitoring.Logf("Failed to write backup file: %v", err)
		}
	}))
	return nil
}
