// Package ch writes batches to ClickHouse over the native protocol
package ch

import (
	"context"
	"os"
	"runtime"
	"strings"

	"shinga/internal/core/version"
	perr "shinga/internal/platform/errors"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Config configures the client
type Config struct {
	URL string
	// Role is reported to the server in the client info, e.g. "updater"
	Role string
}

// CH is a native ClickHouse connection
type CH struct {
	conn driver.Conn
}

var openConn = clickhouse.Open

// Open parses the DSN and opens a lazy connection; Ping verifies it
func Open(_ context.Context, cfg Config) (*CH, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, perr.InvalidArgf("ch: empty url")
	}
	opts, err := clickhouse.ParseDSN(cfg.URL)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeInvalidArgument, "ch: parse dsn")
	}
	opts.ClientInfo = clientInfo(cfg.Role)
	conn, err := openConn(opts)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeUnavailable, "ch: open")
	}
	return &CH{conn: conn}, nil
}

func clientInfo(role string) clickhouse.ClientInfo {
	bi := version.Info()
	host, _ := os.Hostname()
	dash := func(s string) string {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
		return "-"
	}
	return clickhouse.ClientInfo{Products: []struct{ Name, Version string }{
		{Name: bi.Service, Version: dash(bi.Version)},
		{Name: "role", Version: dash(role)},
		{Name: "commit", Version: dash(bi.Commit)},
		{Name: "go", Version: runtime.Version()},
		{Name: "host", Version: dash(host)},
	}}
}

// Insert appends rows to table as one batch; columns follow the table order
func (c *CH) Insert(ctx context.Context, table string, rows [][]any) error {
	if c == nil || c.conn == nil {
		return perr.Unavailablef("ch: not connected")
	}
	if len(rows) == 0 {
		return nil
	}
	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO "+table)
	if err != nil {
		return perr.Wrapf(err, perr.ErrorCodeDB, "ch: prepare %s", table)
	}
	for i, r := range rows {
		if err := batch.Append(r...); err != nil {
			_ = batch.Abort()
			return perr.Wrapf(err, perr.ErrorCodeDB, "ch: append row %d to %s", i, table)
		}
	}
	if err := batch.Send(); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeDB, "ch: send %d rows to %s", len(rows), table)
	}
	return nil
}

// Ping checks the server answers
func (c *CH) Ping(ctx context.Context) error {
	if c == nil || c.conn == nil {
		return perr.Unavailablef("ch: not connected")
	}
	return c.conn.Ping(ctx)
}

// Close closes the connection; nil clients are a no-op
func (c *CH) Close() error {
	if c == nil || c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
