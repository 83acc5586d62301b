package pg

import (
	"context"
	"strings"

	"shinga/internal/platform/logger"

	"github.com/rs/zerolog"
)

// QueryEvent describes one finished statement
type QueryEvent struct {
	SQL       string
	Args      []any
	ElapsedUS int64
	Err       error
	Slow      bool
}

// QueryTracer receives an event per statement
type QueryTracer interface {
	OnQuery(ctx context.Context, ev QueryEvent)
}

// maxLoggedSQL bounds the statement text written per line; title upserts are long
const maxLoggedSQL = 512

// Tracer logs statements at debug and slow ones at warn, regardless of the root level
func Tracer(root logger.Logger) QueryTracer {
	return zlTracer{log: root.Level(zerolog.DebugLevel).With().Str("component", "pg").Logger()}
}

type zlTracer struct{ log logger.Logger }

func (z zlTracer) OnQuery(_ context.Context, ev QueryEvent) {
	evt := z.log.Debug()
	if ev.Slow || ev.Err != nil {
		evt = z.log.Warn()
	}
	// args are counted, not logged; upserts carry whole raw payloads
	evt.Float64("elapsed_ms", float64(ev.ElapsedUS)/1000).
		Bool("slow", ev.Slow).
		Int("args", len(ev.Args)).
		Str("sql", squash(ev.SQL, maxLoggedSQL)).
		Err(ev.Err).
		Msg("pg query")
}

// squash collapses whitespace runs and cuts the result at max bytes
func squash(s string, max int) string {
	out := strings.Join(strings.Fields(s), " ")
	if len(out) > max {
		out = out[:max] + "..."
	}
	return out
}
