package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

// capture swaps in a json root logger for the test
func capture(t *testing.T, opt Options) *bytes.Buffer {
	t.Helper()
	prev := root.Load()
	t.Cleanup(func() { root.Store(prev) })
	var buf bytes.Buffer
	opt.Writer = &buf
	opt.Format = "json"
	Init(opt)
	return &buf
}

func lines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, ln := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if ln == "" {
			continue
		}
		m := map[string]any{}
		if err := json.Unmarshal([]byte(ln), &m); err != nil {
			t.Fatalf("decode %q: %v", ln, err)
		}
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":    zerolog.TraceLevel,
		" INFO ":   zerolog.InfoLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"":         zerolog.DebugLevel,
		"nonsense": zerolog.DebugLevel,
		"disabled": zerolog.Disabled,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestContextFields(t *testing.T) {
	buf := capture(t, Options{Level: "debug", Service: "shinga-updater"})

	run := WithRun(context.Background(), "run-7")
	item := WithItem(WithWorker(run, 3), "MAL", "42")
	C(item).Info().Msg("title stored")
	C(run).Info().Msg("sweep")
	C(context.Background()).Info().Msg("bare")
	Named("http").Info().Msg("listening")

	got := lines(t, buf)
	if len(got) != 4 {
		t.Fatalf("got %d lines", len(got))
	}
	stored := got[0]
	if stored["run_id"] != "run-7" || stored["worker"] != float64(3) || stored["source"] != "MAL" || stored["external_id"] != "42" {
		t.Fatalf("item line %v", stored)
	}
	if stored["service"] != "shinga-updater" {
		t.Fatalf("service missing: %v", stored)
	}
	if _, ok := got[1]["worker"]; ok || got[1]["run_id"] != "run-7" {
		t.Fatalf("run line %v", got[1])
	}
	if _, ok := got[2]["run_id"]; ok {
		t.Fatalf("bare line %v", got[2])
	}
	if got[3]["component"] != "http" {
		t.Fatalf("named line %v", got[3])
	}
}

func TestEmptyFieldsAreSkipped(t *testing.T) {
	buf := capture(t, Options{Level: "debug"})
	ctx := WithItem(WithRun(context.Background(), ""), "", "")
	C(ctx).Debug().Msg("x")
	line := lines(t, buf)[0]
	for _, k := range []string{"run_id", "source", "external_id"} {
		if _, ok := line[k]; ok {
			t.Fatalf("unexpected %s in %v", k, line)
		}
	}
}

func TestLevelFilters(t *testing.T) {
	buf := capture(t, Options{Level: "warn"})
	Get().Info().Msg("hidden")
	Get().Warn().Msg("shown")
	got := lines(t, buf)
	if len(got) != 1 || got[0]["message"] != "shown" {
		t.Fatalf("got %v", got)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("LOG_SERVICE", "shinga-updater")
	t.Setenv("LOG_CALLER", "yes")
	t.Setenv("LOG_SAMPLE_EVERY", "5")

	opt := FromEnv()
	if opt.Level != "warn" || opt.Format != "json" || opt.Service != "shinga-updater" {
		t.Fatalf("opts %+v", opt)
	}
	if !opt.WithCaller || opt.SampleEvery != 5 {
		t.Fatalf("opts %+v", opt)
	}
}
