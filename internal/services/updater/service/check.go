package service

import (
	"context"

	"shinga/internal/services/updater/domain"
	"shinga/internal/services/updater/guardrails"
	"shinga/internal/services/updater/resources"
)

// ProxyCheck is the result of one CheckProxies pass
type ProxyCheck struct {
	Checked int `json:"checked"`
	Failed  int `json:"failed"`
}

// CheckProxies sends a test request through every proxy that is not
// blacklisted and charges the result against the pool, so dead proxies cool
// down and blacklist without a title paying for them
func (o *Orchestrator) CheckProxies(ctx context.Context) ProxyCheck {
	var res ProxyCheck
	if o.deps.Checker == nil || o.deps.Proxies == nil {
		return res
	}
	for _, r := range o.deps.Proxies.Snapshot() {
		if r.State == domain.StateBlacklisted {
			continue
		}
		pctx, cancel := guardrails.ForFetch(ctx, o.cfg.Timeouts)
		err := o.deps.Checker.CheckProxy(pctx, r.Value)
		cancel()
		if ctx.Err() != nil {
			break
		}

		out := resources.Success
		if domain.KindOf(err).ResourceFailure() {
			out = resources.Failure
			res.Failed++
			o.log.Debug().Err(err).Msg("proxy check failed")
		}
		res.Checked++
		if err := o.deps.Proxies.Report(r.Value, out); err != nil {
			o.log.Debug().Err(err).Msg("proxy check report")
		}
	}
	if res.Failed > 0 {
		o.log.Info().Int("checked", res.Checked).Int("failed", res.Failed).Msg("proxy check")
	}
	if at, ok := o.deps.Proxies.NextAvailableAt(); ok && !at.After(o.deps.Now()) {
		o.Resume(domain.ResourceProxy)
	}
	return res
}
