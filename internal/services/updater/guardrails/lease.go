package guardrails

import (
	"context"
	"errors"
	"time"

	"shinga/internal/platform/store"
	"shinga/internal/services/updater/domain"
)

// ErrSweepHeld signals another instance already swept this slot
var ErrSweepHeld = errors.New("updater: sweep slot already claimed")

// SweepLease runs do only for the first caller to claim a (source, slot)
type SweepLease func(ctx context.Context, src domain.Source, slot time.Time, do func(context.Context) error) error

// MakeSweepLease claims sweep slots in updater_sweep_leases so that several
// updater instances sharing one database do not enqueue the same stale set
// The claim is never released; slots are expected to be truncated times
func MakeSweepLease(db store.TxRunner) SweepLease {
	return func(ctx context.Context, src domain.Source, slot time.Time, do func(context.Context) error) error {
		var claimed bool
		err := db.Tx(ctx, func(q store.RowQuerier) error {
			rows, err := q.Query(ctx, `
				insert into updater_sweep_leases (source, slot_utc)
				values ($1, $2)
				on conflict (source, slot_utc) do nothing
				returning true
			`, string(src), slot.UTC())
			if err != nil {
				return err
			}
			defer rows.Close()
			if rows.Next() {
				claimed = true
			}
			return rows.Err()
		})
		if err != nil {
			return err
		}
		if !claimed {
			return ErrSweepHeld
		}
		return do(ctx)
	}
}

// NoLease always runs do, for single instance setups without a database
func NoLease(ctx context.Context, _ domain.Source, _ time.Time, do func(context.Context) error) error {
	return do(ctx)
}
