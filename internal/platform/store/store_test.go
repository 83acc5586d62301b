package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// pingRunner is a TxRunner that optionally answers Ping
type pingRunner struct {
	listQuerier
	ping   func() error
	closed bool
}

func (p *pingRunner) Tx(_ context.Context, fn func(RowQuerier) error) error { return fn(p) }
func (p *pingRunner) Close() error                                          { p.closed = true; return nil }

type pingable struct{ *pingRunner }

type fakeCH struct {
	pingErr error
	closed  bool
}

func (f *fakeCH) Insert(context.Context, string, [][]any) error { return nil }
func (f *fakeCH) Ping(context.Context) error                    { return f.pingErr }
func (f *fakeCH) Close() error                                  { f.closed = true; return nil }

func (p pingable) Ping(context.Context) error { return p.ping() }

func TestOpen_DisabledBackendsStayNil(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s, err := Open(context.Background(), Config{}, WithLogger(zerolog.New(&buf)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.PG != nil || s.CH != nil || s.Lite != nil {
		t.Fatalf("seams = %+v", s)
	}
	s.Log.Info().Msg("hello")
	if !strings.Contains(buf.String(), "hello") {
		t.Fatalf("logger option not applied")
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOpen_CHConnectsLazily(t *testing.T) {
	t.Parallel()

	s, err := Open(context.Background(), Config{AppName: "shinga-updater", CH: CHConfig{Enabled: true, URL: "clickhouse://127.0.0.1:1/default"}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.CH == nil || s.PG != nil {
		t.Fatalf("seams = %+v", s)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOpen_PGFailureStopsEarly(t *testing.T) {
	t.Parallel()

	cfg := Config{
		PG:   PGConfig{Enabled: true, URL: "://bad"},
		Lite: LiteConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "never.db")},
	}
	s, err := Open(context.Background(), cfg)
	if err == nil || s != nil {
		t.Fatalf("Open = %v, %v", s, err)
	}
}

func TestGuard(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var nilStore *Store
	if err := nilStore.Guard(ctx); err == nil {
		t.Fatalf("nil store should fail")
	}

	quiet := &pingRunner{}
	if err := (&Store{PG: quiet}).Guard(ctx); err != nil {
		t.Fatalf("seams without Ping are skipped: %v", err)
	}

	s := &Store{
		PG:   pingable{&pingRunner{ping: func() error { return errors.New("pg down") }}},
		CH:   &fakeCH{pingErr: errors.New("ch down")},
		Lite: pingable{&pingRunner{ping: func() error { return nil }}},
	}
	err := s.Guard(ctx)
	if err == nil {
		t.Fatalf("expected joined failures")
	}
	msg := err.Error()
	if !strings.Contains(msg, "pg: pg down") || !strings.Contains(msg, "ch: ch down") || strings.Contains(msg, "lite") {
		t.Fatalf("guard error = %q", msg)
	}
}

func TestClose_ClosesEverySeam(t *testing.T) {
	t.Parallel()

	pgr, lite := &pingRunner{}, &pingRunner{}
	chf := &fakeCH{}
	s := &Store{PG: pgr, CH: chf, Lite: lite}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !pgr.closed || !lite.closed || !chf.closed {
		t.Fatalf("closed pg=%v lite=%v ch=%v", pgr.closed, lite.closed, chf.closed)
	}
}
