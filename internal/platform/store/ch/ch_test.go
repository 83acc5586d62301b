package ch

import (
	"context"
	"testing"

	perr "shinga/internal/platform/errors"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, Config{URL: "  "}); perr.CodeOf(err) != perr.ErrorCodeInvalidArgument {
		t.Fatalf("empty url: %v", err)
	}
	if _, err := Open(ctx, Config{URL: "://nope"}); perr.CodeOf(err) != perr.ErrorCodeInvalidArgument {
		t.Fatalf("bad dsn: %v", err)
	}

	// the driver connects on first use, so an unreachable port still opens
	c, err := Open(ctx, Config{URL: "clickhouse://127.0.0.1:1/default", Role: "updater"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = c.Close()
}

func TestNilClient(t *testing.T) {
	var c *CH
	ctx := context.Background()
	if err := c.Insert(ctx, "updater_dispositions", [][]any{{1}}); perr.CodeOf(err) != perr.ErrorCodeUnavailable {
		t.Fatalf("Insert: %v", err)
	}
	if err := c.Ping(ctx); err == nil {
		t.Fatal("Ping on nil client should fail")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestClientInfo(t *testing.T) {
	info := clientInfo("")
	if len(info.Products) != 5 {
		t.Fatalf("products %v", info.Products)
	}
	if info.Products[0].Name != "shinga-updater" || info.Products[0].Version != "dev" {
		t.Fatalf("service product %+v", info.Products[0])
	}
	if info.Products[1].Version != "-" {
		t.Fatalf("blank role should read -: %+v", info.Products[1])
	}
}
