package store

import (
	"context"
	"errors"
	"testing"
)

type listRows struct {
	data   [][2]any
	idx    int
	err    error
	closed bool
}

func (r *listRows) Columns() []string { return []string{"id", "name"} }
func (r *listRows) Next() bool        { r.idx++; return r.idx <= len(r.data) }
func (r *listRows) Err() error        { return r.err }
func (r *listRows) Close()            { r.closed = true }

func (r *listRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	*dest[0].(*int) = row[0].(int)
	*dest[1].(*string) = row[1].(string)
	return nil
}

type listQuerier struct {
	rows *listRows
	err  error
	sql  string
}

func (q *listQuerier) Exec(context.Context, string, ...any) (CommandTag, error) { return nil, nil }
func (q *listQuerier) QueryRow(context.Context, string, ...any) Row              { return nil }
func (q *listQuerier) Query(_ context.Context, sql string, _ ...any) (Rows, error) {
	q.sql = sql
	if q.err != nil {
		return nil, q.err
	}
	return q.rows, nil
}

type named struct {
	ID   int
	Name string
}

func scanNamed(r Row) (named, error) {
	var n named
	err := r.Scan(&n.ID, &n.Name)
	return n, err
}

func TestMany_ScansEveryRow(t *testing.T) {
	t.Parallel()

	rows := &listRows{data: [][2]any{{1, "a"}, {2, "b"}}}
	q := &listQuerier{rows: rows}
	got, err := Many(context.Background(), q, scanNamed, "SELECT id, name FROM t")
	if err != nil {
		t.Fatalf("Many: %v", err)
	}
	if len(got) != 2 || got[0] != (named{1, "a"}) || got[1] != (named{2, "b"}) {
		t.Fatalf("got %+v", got)
	}
	if !rows.closed {
		t.Fatal("rows not closed")
	}
}

func TestMany_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	if _, err := Many(context.Background(), &listQuerier{err: boom}, scanNamed, "q"); !errors.Is(err, boom) {
		t.Fatalf("query error: %v", err)
	}

	rows := &listRows{data: [][2]any{{1, "a"}}}
	failing := func(Row) (named, error) { return named{}, boom }
	if _, err := Many(context.Background(), &listQuerier{rows: rows}, failing, "q"); !errors.Is(err, boom) {
		t.Fatalf("scan error: %v", err)
	}
	if !rows.closed {
		t.Fatal("rows not closed after scan error")
	}

	iter := &listRows{err: boom}
	if _, err := Many(context.Background(), &listQuerier{rows: iter}, scanNamed, "q"); !errors.Is(err, boom) {
		t.Fatalf("iteration error: %v", err)
	}
}

func TestMany_Empty(t *testing.T) {
	t.Parallel()

	got, err := Many(context.Background(), &listQuerier{rows: &listRows{}}, scanNamed, "q")
	if err != nil || len(got) != 0 {
		t.Fatalf("got %v, %v", got, err)
	}
}
