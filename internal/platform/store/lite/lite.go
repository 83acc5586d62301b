// Package lite opens single-writer SQLite databases for local process state
package lite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Config configures the sqlite file
type Config struct {
	// Path is a filesystem path or ":memory:"
	Path string

	// BusyTimeoutMs bounds lock waits, default 5000
	BusyTimeoutMs int
}

// Open opens (or creates) the database with WAL journaling and a single connection
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("lite: empty path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("lite: open %s: %w", path, err)
	}

	// single writer; also keeps :memory: databases on one connection
	db.SetMaxOpenConns(1)

	busy := cfg.BusyTimeoutMs
	if busy <= 0 {
		busy = 5000
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busy),
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("lite: exec %q on %s: %w", p, path, err)
		}
	}
	return db, nil
}

// Init executes DDL statements on the given database
func Init(ctx context.Context, db *sql.DB, ddl string) error {
	if db == nil {
		return errors.New("lite: nil db")
	}
	_, err := db.ExecContext(ctx, ddl)
	return err
}
