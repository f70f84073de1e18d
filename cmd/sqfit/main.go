// Command sqfit fits a superquadric to a point cloud file, optionally
// storing the run, writing reports and serving the results over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/sqfit/internal/version"
)

type options struct {
	cloud   string
	config  string
	db      string
	plot    string
	html    string
	single  bool
	listen  string
	verbose bool
	version bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("sqfit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.cloud, "cloud", "", "Point cloud to fit (.pcd, .asc, .xyz or .txt)")
	fs.StringVar(&o.config, "config", "", "Fit tuning JSON (defaults built in)")
	fs.StringVar(&o.db, "db", "", "SQLite database to record the run in")
	fs.StringVar(&o.plot, "plot", "", "Write a PNG convergence plot to this path")
	fs.StringVar(&o.html, "html", "", "Write an HTML report to this path")
	fs.BoolVar(&o.single, "single", false, "Run one damped Newton fit from the PCA guess instead of the multiscale schedule")
	fs.StringVar(&o.listen, "listen", "", "After fitting, serve the run API and debug pages on this address (requires -db)")
	fs.BoolVar(&o.verbose, "v", false, "Log per-iteration progress and skipped NaN elements")
	fs.BoolVar(&o.version, "version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}

	if o.version {
		return o, nil
	}
	if o.cloud == "" {
		return o, errors.New("-cloud is required")
	}
	if o.listen != "" && o.db == "" {
		return o, errors.New("-listen requires -db")
	}
	return o, nil
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := runMigrate(os.Args[2:], os.Stdout, os.Stderr); err != nil && !errors.Is(err, flag.ErrHelp) {
			log.Fatalf("sqfit: %v", err)
		}
		return
	}

	opts, err := parseFlags(os.Args[1:], os.Stderr)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatalf("sqfit: %v", err)
	}
	if opts.version {
		fmt.Println(version.String("sqfit"))
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, newEnv(os.Stdout, os.Stderr)); err != nil {
		log.Fatalf("sqfit: %v", err)
	}
}
