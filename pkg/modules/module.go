package modules

import (
	"context"
	"sync"

	"github.com/ilumeobrasil/desk-research/pkg/flowerr"
	"github.com/ilumeobrasil/desk-research/pkg/types"
)

// Module is the contract every research module must satisfy to be
// orchestrated. Execute is invoked at most once per run. Expected error
// conditions (timeouts, empty results) are returned as non-fatal errors;
// only configuration faults should be fatal.
type Module interface {
	ID() types.ModuleID
	Info() types.ModuleInfo
	Execute(ctx context.Context, topic string, params map[string]any) (any, error)
}

// Registry maps module IDs to their contracts. It is populated at process
// start and validated for completeness before a run begins.
type Registry struct {
	mu      sync.RWMutex
	modules map[types.ModuleID]Module
	order   []types.ModuleID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{modules: make(map[types.ModuleID]Module)}
}

// Register adds a module contract. Re-registering an ID replaces the
// contract but keeps its position in the catalog order.
func (r *Registry) Register(m Module) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := m.ID()
	if _, ok := r.modules[id]; !ok {
		r.order = append(r.order, id)
	}
	r.modules[id] = m
}

// Get returns the contract for an ID, or nil if none is registered.
func (r *Registry) Get(id types.ModuleID) Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.modules[id]
}

// IDs returns every registered module ID in registration order.
func (r *Registry) IDs() []types.ModuleID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]types.ModuleID, len(r.order))
	copy(ids, r.order)
	return ids
}

// List returns catalog metadata for every registered module.
func (r *Registry) List() []types.ModuleInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]types.ModuleInfo, 0, len(r.order))
	for _, id := range r.order {
		infos = append(infos, r.modules[id].Info())
	}
	return infos
}

// Validate checks that every selected ID has a registered contract. A
// selection naming an unknown module is a structural fault and aborts the
// run before anything executes.
func (r *Registry) Validate(selected []types.ModuleID) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range selected {
		if _, ok := r.modules[id]; !ok {
			return flowerr.Newf(flowerr.CodeUnknownModule, "no contract registered for module %q", id)
		}
	}
	return nil
}
