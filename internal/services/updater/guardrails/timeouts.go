// Package guardrails bounds each step of a refresh with its own deadline
package guardrails

import (
	"context"
	"time"
)

// Timeouts is the per item budget bundle
// Zero values mean no extra timeout at that level
type Timeouts struct {
	// Item caps one work item end to end, lease waits included
	Item time.Duration

	// Fetch caps a single upstream request
	Fetch time.Duration

	// Media caps a cover download
	Media time.Duration

	// DB caps one storage call
	DB time.Duration
}

// Defaults returns the budgets used when nothing is configured
func Defaults() Timeouts {
	return Timeouts{
		Item:  2 * time.Minute,
		Fetch: 15 * time.Second,
		Media: 20 * time.Second,
		DB:    10 * time.Second,
	}
}

// ForItem returns a context limited by the item budget without extending any parent deadline
func ForItem(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Item)
}

// ForFetch returns a sub context for one upstream call
func ForFetch(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Fetch)
}

// ForMedia returns a sub context for the cover step
func ForMedia(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.Media)
}

// ForDB returns a sub context for one storage call
func ForDB(parent context.Context, t Timeouts) (context.Context, context.CancelFunc) {
	return withChildTimeout(parent, t.DB)
}

// Detached keeps ctx values but drops its cancellation, then applies d
// in flight items use it so a shutdown request lets them finish
func Detached(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return withChildTimeout(context.WithoutCancel(ctx), d)
}

// Remaining returns the time until the deadline on ctx or zero when none is set or already expired
func Remaining(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		d := time.Until(dl)
		if d > 0 {
			return d
		}
	}
	return 0
}

// withChildTimeout chooses the tighter of d and any parent remainder
// When d is zero it returns a cancelable child inheriting the parent deadline
func withChildTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(parent)
	}
	if rem := Remaining(parent); rem > 0 && rem < d {
		return context.WithTimeout(parent, rem)
	}
	return context.WithTimeout(parent, d)
}
