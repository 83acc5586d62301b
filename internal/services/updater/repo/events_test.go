package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	perr "shinga/internal/platform/errors"
	"shinga/internal/platform/store"
	"shinga/internal/services/updater/domain"
)

type fakeCH struct {
	tables  []string
	batches [][][]any
	err     error
}

func (f *fakeCH) Insert(_ context.Context, table string, rows [][]any) error {
	if f.err != nil {
		return f.err
	}
	f.tables = append(f.tables, table)
	f.batches = append(f.batches, rows)
	return nil
}

func (f *fakeCH) Close() error { return nil }

var _ store.Clickhouse = (*fakeCH)(nil)

func TestEvents_BatchesAndFlushes(t *testing.T) {
	t.Parallel()

	ch := &fakeCH{}
	e := NewEvents(ch, 2)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	d := domain.Disposition{
		Item:     domain.WorkItem{Source: domain.SourceMAL, ExternalID: "1", LastError: "boom"},
		Outcome:  domain.OutcomeRequeued,
		Kind:     domain.KindNetwork,
		Attempts: 2,
		Delay:    1500 * time.Millisecond,
		At:       at,
	}

	if err := e.Record(ctx, d); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(ch.batches) != 0 || e.Pending() != 1 {
		t.Fatalf("flushed early: batches=%d pending=%d", len(ch.batches), e.Pending())
	}
	if err := e.Record(ctx, d); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if len(ch.batches) != 1 || len(ch.batches[0]) != 2 || ch.tables[0] != EventsTable {
		t.Fatalf("batches = %v", ch.batches)
	}
	row := ch.batches[0][0]
	if row[0] != at || row[1] != "MAL" || row[3] != "requeued" || row[4] != "network" || row[5] != uint16(2) || row[6] != int64(1500) || row[8] != "boom" {
		t.Fatalf("row = %v", row)
	}

	if err := e.Record(ctx, d); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := e.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if len(ch.batches) != 2 || e.Pending() != 0 {
		t.Fatalf("after flush batches=%d pending=%d", len(ch.batches), e.Pending())
	}
	if err := e.Flush(ctx); err != nil || len(ch.batches) != 2 {
		t.Fatalf("empty flush wrote a batch")
	}
}

func TestEvents_InsertErrorIsStorage(t *testing.T) {
	t.Parallel()

	e := NewEvents(&fakeCH{err: errors.New("ch down")}, 1)
	err := e.Record(context.Background(), domain.Disposition{})
	if !perr.IsCode(err, perr.ErrorCodeDB) {
		t.Fatalf("err = %v, want db", err)
	}
	if err := (NoopEvents{}).Record(context.Background(), domain.Disposition{}); err != nil {
		t.Fatalf("noop: %v", err)
	}
}
