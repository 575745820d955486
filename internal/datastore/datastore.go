// Package datastore is the thin SQL layer of spec §4.2: query,
// query-one, query-many and a transaction primitive over Postgres.
package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
)

const slowQueryThreshold = 100 * time.Millisecond

// Store wraps a pooled *sql.DB and the slow-query logger every method
// in this package and its sibling files (users.go, repositories.go,
// sessions.go) routes through.
type Store struct {
	db     *sql.DB
	logger *log.Logger
}

// Open establishes the Postgres connection pool per spec §5's pool
// knobs and verifies connectivity with a ping.
func Open(dsn string, poolMin, poolMax int, idleTime, connTime time.Duration, logger *log.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("datastore: DSN required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("datastore: open: %w", err)
	}
	db.SetMaxOpenConns(poolMax)
	db.SetMaxIdleConns(poolMin)
	db.SetConnMaxIdleTime(idleTime)
	db.SetConnMaxLifetime(connTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: ping: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// NewWithDB wraps an already-open *sql.DB, the way sqlx.NewDb does for
// callers that manage the underlying connection (or a sqlmock double)
// themselves rather than going through Open.
func NewWithDB(db *sql.DB, logger *log.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Close releases the pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying pool for the migration runner, which needs
// raw access to run arbitrary migration SQL.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) logSlow(ctx context.Context, query string, start time.Time) {
	_ = ctx
	if elapsed := time.Since(start); elapsed > slowQueryThreshold {
		s.logger.Printf("datastore: slow query (%s): %s", elapsed, query)
	}
}

// query runs a statement and returns the raw *sql.Rows; callers own
// closing it.
func (s *Store) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, q, args...)
	s.logSlow(ctx, q, start)
	return rows, err
}

// queryRow runs a statement expected to return at most one row.
func (s *Store) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	start := time.Now()
	row := s.db.QueryRowContext(ctx, q, args...)
	s.logSlow(ctx, q, start)
	return row
}

// exec runs a statement that returns no rows.
func (s *Store) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, q, args...)
	s.logSlow(ctx, q, start)
	return res, err
}

// Querier is the subset of *sql.Tx / *sql.DB that entity methods need,
// so the same code works inside and outside a transaction.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Transaction guarantees begin / commit-on-success / rollback-on-error
// / connection-release on every exit path, per spec §4.2. fn receives a
// Querier bound to the transaction; it must use that, not s, for every
// statement it issues.
func (s *Store) Transaction(ctx context.Context, fn func(ctx context.Context, q Querier) error) (err error) {
	tx, beginErr := s.db.BeginTx(ctx, nil)
	if beginErr != nil {
		return fmt.Errorf("datastore: begin transaction: %w", beginErr)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()

	err = fn(ctx, tx)
	return err
}
