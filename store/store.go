// Package store persists translations and model suggestions in SQLite.
//
// Every operation holds one permit of the database-connection gate for its
// whole duration, and every write commits before the permit is released.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/kawashirov/vrc-localization-checker/gate"
	"github.com/kawashirov/vrc-localization-checker/logging"
	"github.com/kawashirov/vrc-localization-checker/telemetry"
)

var (
	// ErrUnknownView is returned by RefreshViews for names it cannot rebuild.
	ErrUnknownView = errors.New("unknown view")

	// ErrSchemaTooNew is returned by Migrate when the database was written
	// by a newer schema.
	ErrSchemaTooNew = errors.New("database schema is newer than supported")
)

// Store is a SQLite-backed translation store. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	gate *gate.Gate
	log  *logging.Logger
	now  func() time.Time
}

// Open opens (creating if needed) the database at path. Concurrency is
// bounded by g; the connection pool is sized to its capacity.
func Open(path string, g *gate.Gate, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.Nop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := "file:" + filepath.ToSlash(path) +
		"?_pragma=busy_timeout(10000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=foreign_keys(1)" +
		"&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(g.Capacity())
	db.SetMaxIdleConns(g.Capacity())
	db.SetConnMaxLifetime(0)

	return &Store{
		db:   db,
		gate: g,
		log:  log.WithComponent("store"),
		now:  time.Now,
	}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// op runs fn holding a database permit inside a store span. When ctx ends
// during fn, its cause replaces whatever error the driver reported.
func (s *Store) op(ctx context.Context, name string, fn func(ctx context.Context) (int64, error)) error {
	permit, err := s.gate.Acquire(ctx)
	if err != nil {
		return err
	}
	defer permit.Release()

	ctx, span := telemetry.GetTracer().StartStoreSpan(ctx, name)
	begin := time.Now()
	rows, err := fn(ctx)
	if err != nil && ctx.Err() != nil {
		err = context.Cause(ctx)
	}
	telemetry.GetTracer().EndStoreSpan(span, rows, err)

	fields := logging.Fields{"op": name, "rows": rows, "duration_ms": time.Since(begin).Milliseconds()}
	if err != nil {
		fields["error"] = err.Error()
	}
	s.log.Debug("Store operation", fields)
	return err
}

// tx runs fn in one transaction, committing only if fn succeeds.
func (s *Store) tx(ctx context.Context, fn func(tx *sql.Tx) (int64, error)) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	rows, err := fn(tx)
	if err != nil {
		_ = tx.Rollback()
		return rows, err
	}
	if err := tx.Commit(); err != nil {
		return rows, fmt.Errorf("commit: %w", err)
	}
	return rows, nil
}

// Version returns the SQLite library version.
func (s *Store) Version(ctx context.Context) (string, error) {
	var version string
	err := s.op(ctx, "version", func(ctx context.Context) (int64, error) {
		return 1, s.db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version)
	})
	if err != nil {
		return "", fmt.Errorf("failed to query database version: %w", err)
	}
	return version, nil
}

// Migrate creates every table and index that does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	err := s.op(ctx, "migrate", func(ctx context.Context) (int64, error) {
		var current int
		if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
			return 0, err
		}
		if current > schemaVersion {
			return 0, fmt.Errorf("%w: %d > %d", ErrSchemaTooNew, current, schemaVersion)
		}
		return s.tx(ctx, func(tx *sql.Tx) (int64, error) {
			for _, stmt := range schema {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return 0, err
				}
			}
			_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
			return int64(len(schema)), err
		})
	})
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// RefreshViews rebuilds the named derived tables, in order, one transaction
// each.
func (s *Store) RefreshViews(ctx context.Context, views ...string) error {
	for _, v := range views {
		if _, ok := refresh[v]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownView, v)
		}
	}
	return s.op(ctx, "refresh_views", func(ctx context.Context) (int64, error) {
		var total int64
		for _, v := range views {
			n, err := s.tx(ctx, func(tx *sql.Tx) (int64, error) {
				var rows int64
				for _, stmt := range refresh[v] {
					res, err := tx.ExecContext(ctx, stmt)
					if err != nil {
						return 0, err
					}
					rows, _ = res.RowsAffected()
				}
				return rows, nil
			})
			if err != nil {
				return total, fmt.Errorf("failed to refresh %s: %w", v, err)
			}
			total += n
		}
		return total, nil
	})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
