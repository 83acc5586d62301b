package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func fastFailPGURL() string {
	// 127.0.0.1:1 is a closed port on all systems
	return "postgres://u:p@127.0.0.1:1/db?sslmode=disable&connect_timeout=1"
}

func TestOpenPG_ParentAlreadyCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := Config{PG: PGConfig{URL: fastFailPGURL(), MaxConns: 1}}
	start := time.Now()
	txr, err := openPG(ctx, cfg, &Store{})
	if err == nil || txr != nil {
		t.Fatalf("expected error and nil runner, got %T %v", txr, err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("expected quick failure, got %v", elapsed)
	}
}

func TestOpenPG_RetriesExhausted(t *testing.T) {
	t.Parallel()

	cfg := Config{PG: PGConfig{
		URL:            fastFailPGURL(),
		MaxConns:       1,
		ConnectRetries: 2,
		PingTimeout:    500 * time.Millisecond,
	}}
	txr, err := openPG(context.Background(), cfg, &Store{})
	if err == nil || txr != nil {
		t.Fatalf("expected retries to give up, got %T %v", txr, err)
	}
}

func TestOpenLite(t *testing.T) {
	t.Parallel()

	cfg := Config{Lite: LiteConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "reg.db")}}
	s, err := Open(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.Lite == nil || s.PG != nil || s.CH != nil {
		t.Fatalf("unexpected seams: %+v", s)
	}
	if err := s.Guard(context.Background()); err != nil {
		t.Fatalf("Guard: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestOpenLite_EmptyPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), Config{Lite: LiteConfig{Enabled: true}}); err == nil {
		t.Fatalf("expected error for empty sqlite path")
	}
}
