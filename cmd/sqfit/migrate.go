package main

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/banshee-data/sqfit/internal/storage"
)

const migrateUsage = `Usage: sqfit migrate -db <path> <action>

Actions:
  up        Apply all pending migrations
  down      Roll back the most recent migration
  status    Print the current schema version
`

// runMigrate handles the 'migrate' subcommand.
func runMigrate(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("sqfit migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, migrateUsage) }
	dbPath := fs.String("db", "", "SQLite database to migrate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dbPath == "" {
		return errors.New("migrate: -db is required")
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("migrate: expected exactly one action")
	}

	db, err := storage.OpenUnmigrated(*dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	switch action := fs.Arg(0); action {
	case "up":
		if err := db.MigrateUp(); err != nil {
			return err
		}
	case "down":
		if err := db.MigrateDown(); err != nil {
			return err
		}
	case "status":
	default:
		fs.Usage()
		return fmt.Errorf("migrate: unknown action %q", action)
	}

	version, dirty, err := db.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "version: %d (dirty: %v)\n", version, dirty)
	if dirty {
		fmt.Fprintln(stdout, "WARNING: a migration failed mid-execution; inspect the database before retrying")
	}
	return nil
}
