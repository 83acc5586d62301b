package module

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"strconv"

	"shinga/internal/modkit/httpkit"
	perr "shinga/internal/platform/errors"
	"shinga/internal/platform/net/middleware"
	"shinga/internal/services/updater/domain"
	"shinga/internal/services/updater/guardrails"
	"shinga/internal/services/updater/service"
)

// Status is the admin view of the running updater
type Status struct {
	service.Stats
	Limits   map[domain.Source][]string `json:"limits,omitempty"`
	Registry []domain.RegistryStat       `json:"registry,omitempty"`
}

// DeadLetters lists stored dead letters and those only held in memory
type DeadLetters struct {
	Stored     []domain.DeadLetter `json:"stored"`
	Unrecorded []domain.DeadLetter `json:"unrecorded"`
}

// AddResources is the body of PUT /resources
type AddResources struct {
	Kind   domain.ResourceKind `json:"kind" validate:"required,oneof=proxy credential"`
	Values []string            `json:"values" validate:"required,min=1,dive,required"`
}

func init() {
	httpkit.RegisterStructValidation(checkProxyValues, "proxy_url",
		"{0} must be http, https or socks5 URLs with a host", AddResources{})
}

// checkProxyValues rejects proxies the source clients could not dial
func checkProxyValues(sl httpkit.StructLevel) {
	in, ok := sl.Current().Interface().(AddResources)
	if !ok || in.Kind != domain.ResourceProxy {
		return
	}
	for _, v := range in.Values {
		u, err := url.Parse(v)
		if err != nil || u.Host == "" {
			sl.ReportError(in.Values, "values", "Values", "proxy_url", "")
			return
		}
		switch u.Scheme {
		case "http", "https", "socks5":
		default:
			sl.ReportError(in.Values, "values", "Values", "proxy_url", "")
			return
		}
	}
}

// MountRoutes registers the admin endpoints
// reads are open, anything that changes the run sits behind the admin token
// and is not mounted at all without one
func (m *Module) MountRoutes(r httpkit.Router) {
	httpkit.Get(r, "/healthz", m.health)
	httpkit.MountAPIV1(r, nil, func(api httpkit.Router) {
		httpkit.MountUnder(api, "/updater", nil, func(u httpkit.Router) {
			httpkit.Get(u, "/status", m.status)
			httpkit.Get(u, "/dead-letters", m.deadLetters)

			if m.opts.AdminToken == "" {
				m.log.Warn().Msg("UPDATER_ADMIN_TOKEN unset, mutating admin routes disabled")
				return
			}
			httpkit.Protected(u, m.auth(), func(p httpkit.Router) {
				httpkit.Post(p, "/drain", m.drain)
				httpkit.Post(p, "/dead-letters/replay", m.replay)
				httpkit.PutJSON(p, "/resources", m.addResources)
			})
		})
	})
}

func (m *Module) auth() middleware.AuthPort {
	want := []byte(m.opts.AdminToken)
	return httpkit.NewPortFunc(func(token string) (string, error) {
		if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			return "", perr.Unauthorizedf("bad admin token")
		}
		return "admin", nil
	})
}

// @Summary Liveness of the refresh run
// @Tags Updater
// @Produce json
// @Success 200 {object} map[string]string "ok"
// @Router /healthz [get]
func (m *Module) health(_ *http.Request) (any, error) {
	st := m.orch.State()
	if st == service.StateStopped {
		return nil, perr.Unavailablef("updater is %s", st)
	}
	return map[string]string{"status": "ok", "state": st.String()}, nil
}

// @Summary Run counters, pools, limits and registry totals
// @Tags Updater
// @Produce json
// @Success 200 {object} Status "ok"
// @Router /api/v1/updater/status [get]
func (m *Module) status(r *http.Request) (any, error) {
	out := Status{Stats: m.orch.Stats(), Limits: map[domain.Source][]string{}}
	for _, src := range domain.Sources() {
		for _, w := range m.limiter.Windows(src) {
			out.Limits[src] = append(out.Limits[src], w.String())
		}
	}
	if m.registry != nil {
		ctx, cancel := guardrails.ForDB(r.Context(), guardrails.Timeouts{DB: m.opts.DBTimeout})
		defer cancel()
		rs, err := m.registry.RegistryStats(ctx)
		if err != nil {
			return nil, err
		}
		out.Registry = rs
	}
	return out, nil
}

func queryLimit(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, perr.WithField(perr.InvalidArgf("limit must be a non negative integer"), "limit")
	}
	return n, nil
}

// @Summary Stored and unrecorded dead letters
// @Tags Updater
// @Produce json
// @Param limit query int false "max stored rows"
// @Success 200 {object} DeadLetters "ok"
// @Router /api/v1/updater/dead-letters [get]
func (m *Module) deadLetters(r *http.Request) (any, error) {
	limit, err := queryLimit(r, 100)
	if err != nil {
		return nil, err
	}
	ctx, cancel := guardrails.ForDB(r.Context(), guardrails.Timeouts{DB: m.opts.DBTimeout})
	defer cancel()
	stored, err := m.storage.ListDeadLetters(ctx, limit)
	if err != nil {
		return nil, err
	}
	return DeadLetters{Stored: stored, Unrecorded: m.orch.Unrecorded()}, nil
}

// drain starts a cooperative shutdown and answers before it completes
// @Summary Start a cooperative shutdown
// @Tags Updater
// @Produce json
// @Security BearerAuth
// @Success 202 {object} map[string]string "accepted"
// @Router /api/v1/updater/drain [post]
func (m *Module) drain(r *http.Request) (any, error) {
	st := m.orch.State()
	if st == service.StateRunning {
		who, _ := httpkit.User(r)
		m.log.Warn().Str("by", who).Msg("drain requested over admin api")
		go m.orch.RequestShutdown()
		st = service.StateDraining
	}
	return httpkit.Response{
		Status: http.StatusAccepted,
		Body:   map[string]string{"state": st.String()},
	}, nil
}

// @Summary Move dead letters back onto the queue
// @Tags Updater
// @Produce json
// @Security BearerAuth
// @Param limit query int false "max letters, 0 for all"
// @Success 200 {object} map[string]int "ok"
// @Router /api/v1/updater/dead-letters/replay [post]
func (m *Module) replay(r *http.Request) (any, error) {
	limit, err := queryLimit(r, 0)
	if err != nil {
		return nil, err
	}
	n, err := m.orch.Replay(r.Context(), limit)
	if err != nil {
		return nil, err
	}
	return map[string]int{"replayed": n}, nil
}

// addResources grows a pool at runtime and resumes sources paused on it
// values already in the pool are ignored
// @Summary Add proxies or credentials to a pool
// @Tags Updater
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body AddResources true "Resources"
// @Success 200 {object} map[string]int "ok"
// @Router /api/v1/updater/resources [put]
func (m *Module) addResources(_ *http.Request, in AddResources) (any, error) {
	return map[string]int{"added": m.orch.AddResources(in.Kind, in.Values...)}, nil
}
