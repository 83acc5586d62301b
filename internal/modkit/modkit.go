package modkit

import (
	phttp "shinga/internal/platform/net/http"
)

// Module is a unit main can register, mount and look ports up on
type Module interface {
	// MountRoutes adds the module's admin endpoints
	MountRoutes(r phttp.Router)
	// Ports returns the module's port bundle for lookups by type
	Ports() any
	Name() string
	// Prefix is the env prefix the module reads, e.g. UPDATER_
	Prefix() string
}

// Closer is implemented by modules holding resources until shutdown
type Closer interface {
	Close()
}
