// Package store opens the updater's storage backends behind small seams
//
// Postgres holds titles and dead letters, ClickHouse receives disposition
// events and a local SQLite file keeps the resource registry. Each backend is
// optional; a disabled one stays nil on the Store
package store

import (
	"context"
	"errors"
	"fmt"

	perr "shinga/internal/platform/errors"
	"shinga/internal/platform/logger"
)

// Store carries the opened backends
type Store struct {
	// Log is handed to backend tracers; the zero value discards
	Log logger.Logger

	PG   TxRunner   // nil when disabled
	CH   Clickhouse // nil when disabled
	Lite TxRunner   // nil when disabled
}

// Row is a single scannable result
type Row interface {
	Scan(dest ...any) error
}

// Rows iterates a result set
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
	Columns() []string
}

// CommandTag reports what a statement changed
type CommandTag interface {
	String() string
	RowsAffected() int64
}

// RowQuerier runs statements against one SQL backend
type RowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// TxRunner is a RowQuerier that can also run fn in a transaction
type TxRunner interface {
	RowQuerier
	Tx(ctx context.Context, fn func(q RowQuerier) error) error
}

// Clickhouse appends row batches to a table
type Clickhouse interface {
	Insert(ctx context.Context, table string, rows [][]any) error
	Close() error
}

// Pinger reports readiness
type Pinger interface{ Ping(context.Context) error }

// Open connects every backend cfg enables; on failure the ones already
// opened are closed again
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	s := &Store{}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}

	var err error
	if cfg.PG.Enabled {
		if s.PG, err = openPG(ctx, cfg, s); err != nil {
			return nil, err
		}
	}
	if cfg.CH.Enabled {
		if s.CH, err = openCH(ctx, cfg); err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
	}
	if cfg.Lite.Enabled {
		if s.Lite, err = openLite(ctx, cfg); err != nil {
			_ = s.Close(ctx)
			return nil, err
		}
	}
	return s, nil
}

type seam struct {
	name string
	v    any
}

// seams lists the opened backends in close order
func (s *Store) seams() []seam {
	var out []seam
	if s.CH != nil {
		out = append(out, seam{"ch", s.CH})
	}
	if s.PG != nil {
		out = append(out, seam{"pg", s.PG})
	}
	if s.Lite != nil {
		out = append(out, seam{"lite", s.Lite})
	}
	return out
}

// Guard pings every opened backend that can be pinged and joins the failures
func (s *Store) Guard(ctx context.Context) error {
	if s == nil {
		return perr.Internalf("store: nil")
	}
	var errs []error
	for _, b := range s.seams() {
		p, ok := b.v.(Pinger)
		if !ok {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every opened backend and joins the errors
func (s *Store) Close(_ context.Context) error {
	var errs []error
	for _, b := range s.seams() {
		c, ok := b.v.(interface{ Close() error })
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.name, err))
		}
	}
	return errors.Join(errs...)
}
