// Package modkit holds the contract between cmd wiring and service modules
package modkit

import (
	"shinga/internal/modkit/repokit"
	"shinga/internal/platform/config"
	"shinga/internal/platform/logger"
	"shinga/internal/platform/store"
)

// Deps is what main hands every module; optional backends may be nil
type Deps struct {
	Log *logger.Logger // nil means the root logger
	Cfg config.Conf

	PG   repokit.TxRunner // titles, bookkeeping, dead letters
	CH   store.Clickhouse // disposition events
	Lite repokit.TxRunner // resource registry
}

// Named returns a component logger derived from Log
func (d Deps) Named(component string) logger.Logger {
	if d.Log == nil {
		return *logger.Named(component)
	}
	return d.Log.With().Str("component", component).Logger()
}
