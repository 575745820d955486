// Command gitflow-migrate applies and reports on the database schema
// migrations under migrations/.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"

	"github.com/gitflow-mcp/gitflow-mcp/internal/migrate"
)

func main() {
	logger := log.New(os.Stderr, "gitflow-migrate ", log.LstdFlags|log.LUTC)

	dir := flag.String("dir", "migrations", "migrations directory")
	dsn := flag.String("dsn", os.Getenv("DATABASE_URL"), "Postgres connection string")
	dryRun := flag.Bool("dry-run", false, "preview pending migrations without applying them")
	flag.Parse()

	if *dsn == "" {
		logger.Fatal("missing -dsn (or DATABASE_URL)")
	}
	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}

	db, err := sql.Open("postgres", *dsn)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	runner := migrate.NewRunner(db, *dir, logger)
	ctx := context.Background()

	switch cmd {
	case "up":
		applied, err := runner.Run(ctx, *dryRun)
		if err != nil {
			logger.Fatalf("migrate: %v", err)
		}
		if len(applied) == 0 {
			fmt.Fprintln(os.Stderr, "nothing to apply")
			return
		}
		verb := "applied"
		if *dryRun {
			verb = "would apply"
		}
		for _, v := range applied {
			fmt.Fprintf(os.Stderr, "%s %s\n", verb, v)
		}
	case "status":
		entries, err := runner.Status(ctx)
		if err != nil {
			logger.Fatalf("migrate: %v", err)
		}
		for _, e := range entries {
			state := "pending"
			if e.Applied {
				state = "applied"
			}
			fmt.Fprintf(os.Stderr, "%-20s %s\n", e.Version, state)
		}
	case "check-drift":
		if err := runner.CheckDrift(ctx); err != nil {
			logger.Fatalf("%v", err)
		}
		fmt.Fprintln(os.Stderr, "no drift detected")
	default:
		logger.Fatalf("unknown command %q (want up, status, or check-drift)", cmd)
	}
}
