package trackdb

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // CGo-based SQLite driver

	"bustracker.campus.org/internal/appconf"
	"bustracker.campus.org/internal/logging"
)

//go:embed schema.sql
var ddl string

const memoryPath = ":memory:"

// createDB opens the SQLite database and brings its schema up to date.
func createDB(config Config) (*sql.DB, error) {
	inMemory := config.DBPath == memoryPath
	if config.Env == appconf.Test && !inMemory {
		return nil, fmt.Errorf("test database must use in-memory storage, got path: %s", config.DBPath)
	}

	db, err := sql.Open("sqlite3", dataSourceName(config.DBPath))
	if err != nil {
		return nil, err
	}

	// a :memory: database lives on exactly one connection
	if inMemory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(16)
		db.SetMaxIdleConns(4)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	if err := migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if config.verbose {
		logging.LogOperation(slog.Default().With(slog.String("component", "trackdb")), "schema_ready",
			slog.String("path", config.DBPath),
			slog.Bool("in_memory", inMemory))
	}
	return db, nil
}

// dataSourceName carries every pragma in the DSN so each pooled connection
// gets them, not just the first one.
func dataSourceName(path string) string {
	opts := url.Values{}
	opts.Set("_foreign_keys", "on")
	opts.Set("_busy_timeout", "5000")
	opts.Set("_synchronous", "NORMAL")
	opts.Set("_cache_size", "-16000")
	if path != memoryPath {
		opts.Set("_journal_mode", "WAL")
	}

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + opts.Encode()
}

// migrate applies schema.sql in one transaction. Every statement is written to
// be re-runnable, so startup always calls it.
func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema migration: %w", err)
	}
	defer logging.SafeRollbackWithLogging(tx, slog.Default(), "schema_migration")

	for i, stmt := range strings.Split(ddl, "-- migrate") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d failed: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema migration: %w", err)
	}
	return nil
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// ToNullString maps "" to NULL.
func ToNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func ToNullFloat64(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func ToNullInt64(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

// firstNonEmpty returns the first non-empty value.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
