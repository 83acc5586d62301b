// Package pg opens the pgxpool backing the updater's title store
package pg

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Config configures the pool
type Config struct {
	URL      string
	MaxConns int32
	SlowMs   int
}

// PG owns the pool plus the tracer every adapter query reports to
type PG struct {
	Pool   *pgxpool.Pool
	Tracer QueryTracer
	SlowMs int
}

// Option adjusts PG or the pool config before the pool is created
type Option func(*PG, *pgxpool.Config)

// WithTracer reports every query to t
func WithTracer(t QueryTracer) Option {
	return func(p *PG, _ *pgxpool.Config) { p.Tracer = t }
}

// WithPoolConfig hands the parsed pool config to fn
func WithPoolConfig(fn func(*pgxpool.Config)) Option {
	return func(_ *PG, c *pgxpool.Config) { fn(c) }
}

var newPool = pgxpool.NewWithConfig

// Open parses cfg.URL and creates the pool; it does not ping
func Open(ctx context.Context, cfg Config, opts ...Option) (*PG, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	p := &PG{SlowMs: cfg.SlowMs}
	for _, o := range opts {
		o(p, pcfg)
	}
	if p.Pool, err = newPool(ctx, pcfg); err != nil {
		return nil, err
	}
	return p, nil
}

// Close closes the pool; safe on nil
func (p *PG) Close() {
	if p != nil && p.Pool != nil {
		p.Pool.Close()
	}
}
