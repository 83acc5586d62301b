package module

import (
	"shinga/internal/modkit"
	perr "shinga/internal/platform/errors"
	phttp "shinga/internal/platform/net/http"
)

// Registry holds the modules a binary runs, in registration order
type Registry struct {
	mods   []modkit.Module
	byName map[string]modkit.Module
}

// Add registers m; names must be unique
func (r *Registry) Add(m modkit.Module) error {
	if r.byName == nil {
		r.byName = map[string]modkit.Module{}
	}
	if _, dup := r.byName[m.Name()]; dup {
		return perr.Conflictf("module %s registered twice", m.Name())
	}
	r.byName[m.Name()] = m
	r.mods = append(r.mods, m)
	return nil
}

// MountAll mounts every module's routes on router
func (r *Registry) MountAll(router phttp.Router) {
	for _, m := range r.mods {
		m.MountRoutes(router)
	}
}

// CloseAll closes modules that hold resources, last registered first
func (r *Registry) CloseAll() {
	for i := len(r.mods) - 1; i >= 0; i-- {
		if c, ok := r.mods[i].(modkit.Closer); ok {
			c.Close()
		}
	}
}

// Lookup returns the T exposed by the module registered as name
func Lookup[T any](r *Registry, name string) (T, error) {
	var zero T
	m, ok := r.byName[name]
	if !ok {
		return zero, perr.NotFoundf("module %s not registered", name)
	}
	v, ok := PortsOf[T](m)
	if !ok {
		return zero, perr.NotFoundf("module %s exposes no such port", name)
	}
	return v, nil
}
