// Package migrate implements the migration runner of spec §4.2: an
// ordered set of versioned SQL files tracked in a schema_migrations
// table, with SHA-256 drift detection.
package migrate

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// File is one migration on disk.
type File struct {
	Version  string
	Slug     string
	Path     string
	Contents string
	Checksum string
}

// AppliedRecord is a row already present in schema_migrations.
type AppliedRecord struct {
	Version         string
	AppliedAt       time.Time
	ExecutionTimeMs int64
	Checksum        string
}

// StatusEntry describes one migration's state for the `status` command.
type StatusEntry struct {
	Version string
	Applied bool
}

// ErrDrift is returned when an applied migration's on-disk content no
// longer matches the checksum recorded at apply time.
type ErrDrift struct {
	Version      string
	StoredSHA256 string
	FileSHA256   string
}

func (e *ErrDrift) Error() string {
	return fmt.Sprintf("migration drift detected for %s: stored checksum %s does not match file checksum %s",
		e.Version, short(e.StoredSHA256), short(e.FileSHA256))
}

func short(sum string) string {
	if len(sum) <= 12 {
		return sum
	}
	return sum[:12]
}

// Runner applies and reports on migrations found under Dir.
type Runner struct {
	db     *sql.DB
	dir    string
	logger *log.Logger
}

// NewRunner constructs a Runner over an already-open database handle.
func NewRunner(db *sql.DB, dir string, logger *log.Logger) *Runner {
	return &Runner{db: db, dir: dir, logger: logger}
}

// LoadFiles lists migration files in lexicographic order, the order
// spec §4.2 and §6 both specify filenames are meant to imply.
func LoadFiles(dir string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("migrate: read migrations dir: %w", err)
	}
	var files []File
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, slug, ok := splitMigrationName(entry.Name())
		if !ok {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("migrate: read %s: %w", entry.Name(), err)
		}
		sum := sha256.Sum256(contents)
		files = append(files, File{
			Version:  version,
			Slug:     slug,
			Path:     path,
			Contents: string(contents),
			Checksum: hex.EncodeToString(sum[:]),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

func splitMigrationName(name string) (version, slug string, ok bool) {
	base := strings.TrimSuffix(name, ".sql")
	idx := strings.Index(base, "_")
	if idx <= 0 {
		return "", "", false
	}
	return base[:idx], base[idx+1:], true
}

func (r *Runner) ensureMigrationsTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL,
			execution_time_ms BIGINT NOT NULL,
			checksum VARCHAR NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("migrate: ensure schema_migrations: %w", err)
	}
	return nil
}

func (r *Runner) applied(ctx context.Context) (map[string]AppliedRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT version, applied_at, execution_time_ms, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("migrate: list applied: %w", err)
	}
	defer rows.Close()

	out := map[string]AppliedRecord{}
	for rows.Next() {
		var rec AppliedRecord
		if err := rows.Scan(&rec.Version, &rec.AppliedAt, &rec.ExecutionTimeMs, &rec.Checksum); err != nil {
			return nil, fmt.Errorf("migrate: scan applied record: %w", err)
		}
		out[rec.Version] = rec
	}
	return out, rows.Err()
}

// CheckDrift compares every applied migration's stored checksum against
// its current on-disk checksum and refuses (returns *ErrDrift) on the
// first mismatch, per the testable property in spec §8 / scenario S5.
func (r *Runner) CheckDrift(ctx context.Context) error {
	if err := r.ensureMigrationsTable(ctx); err != nil {
		return err
	}
	files, err := LoadFiles(r.dir)
	if err != nil {
		return err
	}
	appliedRecords, err := r.applied(ctx)
	if err != nil {
		return err
	}
	byVersion := map[string]File{}
	for _, f := range files {
		byVersion[f.Version] = f
	}
	for version, rec := range appliedRecords {
		file, ok := byVersion[version]
		if !ok {
			continue // applied migration file removed from disk: not drift, just missing history.
		}
		if file.Checksum != rec.Checksum {
			return &ErrDrift{Version: version, StoredSHA256: rec.Checksum, FileSHA256: file.Checksum}
		}
	}
	return nil
}

// Run applies every pending migration in order, each inside its own
// transaction, halting on the first failure. dryRun previews without
// executing.
func (r *Runner) Run(ctx context.Context, dryRun bool) ([]string, error) {
	if err := r.CheckDrift(ctx); err != nil {
		return nil, err
	}
	files, err := LoadFiles(r.dir)
	if err != nil {
		return nil, err
	}
	appliedRecords, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, f := range files {
		if _, ok := appliedRecords[f.Version]; ok {
			continue
		}
		if dryRun {
			applied = append(applied, f.Version)
			continue
		}
		if err := r.applyOne(ctx, f); err != nil {
			return applied, fmt.Errorf("migrate: apply %s: %w", f.Version, err)
		}
		applied = append(applied, f.Version)
		r.logger.Printf("migrate: applied %s", f.Version)
	}
	return applied, nil
}

func (r *Runner) applyOne(ctx context.Context, f File) error {
	start := time.Now()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, f.Contents); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute %s: %w", filepath.Base(f.Path), err)
	}
	elapsed := time.Since(start).Milliseconds()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO schema_migrations (version, applied_at, execution_time_ms, checksum) VALUES ($1,$2,$3,$4)`,
		f.Version, time.Now().UTC(), elapsed, f.Checksum)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record %s: %w", f.Version, err)
	}
	return tx.Commit()
}

// Status reports per-version applied/pending state for the `status`
// subcommand.
func (r *Runner) Status(ctx context.Context) ([]StatusEntry, error) {
	if err := r.ensureMigrationsTable(ctx); err != nil {
		return nil, err
	}
	files, err := LoadFiles(r.dir)
	if err != nil {
		return nil, err
	}
	appliedRecords, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]StatusEntry, 0, len(files))
	for _, f := range files {
		_, ok := appliedRecords[f.Version]
		entries = append(entries, StatusEntry{Version: f.Version, Applied: ok})
	}
	return entries, nil
}
