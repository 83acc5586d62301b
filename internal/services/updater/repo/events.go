package repo

import (
	"context"
	"sync"
	"time"

	perr "shinga/internal/platform/errors"
	"shinga/internal/platform/store"
	"shinga/internal/services/updater/domain"
)

// EventsTable is the ClickHouse table dispositions land in
//
//	CREATE TABLE updater_dispositions (
//	    at          DateTime64(3, 'UTC'),
//	    source      LowCardinality(String),
//	    external_id String,
//	    outcome     LowCardinality(String),
//	    kind        LowCardinality(String),
//	    attempts    UInt16,
//	    delay_ms    Int64,
//	    cached      Bool,
//	    last_error  String
//	) ENGINE = MergeTree ORDER BY (source, at)
const EventsTable = "updater_dispositions"

// Events buffers dispositions and writes them to ClickHouse in batches
type Events struct {
	ch    store.Clickhouse
	table string
	batch int

	mu  sync.Mutex
	buf [][]any
}

var _ domain.EventSink = (*Events)(nil)

// NewEvents builds a ClickHouse sink flushing every batch records
func NewEvents(ch store.Clickhouse, batch int) *Events {
	if batch <= 0 {
		batch = 200
	}
	return &Events{ch: ch, table: EventsTable, batch: batch}
}

// Record buffers d and flushes once the batch is full
func (e *Events) Record(ctx context.Context, d domain.Disposition) error {
	at := d.At
	if at.IsZero() {
		at = time.Now()
	}
	row := []any{
		at.UTC(),
		string(d.Item.Source),
		d.Item.ExternalID,
		string(d.Outcome),
		string(d.Kind),
		uint16(min(max(d.Attempts, 0), 65535)),
		d.Delay.Milliseconds(),
		d.Cached,
		d.Item.LastError,
	}

	e.mu.Lock()
	e.buf = append(e.buf, row)
	if len(e.buf) < e.batch {
		e.mu.Unlock()
		return nil
	}
	rows := e.buf
	e.buf = nil
	e.mu.Unlock()

	return e.insert(ctx, rows)
}

// Flush writes whatever is buffered
func (e *Events) Flush(ctx context.Context) error {
	e.mu.Lock()
	rows := e.buf
	e.buf = nil
	e.mu.Unlock()
	return e.insert(ctx, rows)
}

// Pending reports buffered rows not yet written
func (e *Events) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buf)
}

func (e *Events) insert(ctx context.Context, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	if err := e.ch.Insert(ctx, e.table, rows); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeDB, "insert %d dispositions", len(rows))
	}
	return nil
}

// NoopEvents drops every disposition; used when ClickHouse is disabled
type NoopEvents struct{}

// Record implements domain.EventSink
func (NoopEvents) Record(context.Context, domain.Disposition) error { return nil }
