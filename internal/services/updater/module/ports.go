package module

import "shinga/internal/services/updater/domain"

// Ports defines updater module ports exposed via the registry
type Ports struct {
	Worker     domain.WorkerPort
	Refresher  domain.RefresherPort
	Discoverer domain.DiscovererPort
	Replay     domain.ReplayPort
	Batch      domain.BatchPort
}
