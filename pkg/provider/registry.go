package provider

import (
	"fmt"
	"sort"
	"sync"

	"github.com/opencurate/ferry/pkg/jobstore"
)

// UnsupportedActionError is returned by Lookup when no connector is
// registered for a (kind, action) pair. Unknown combinations fail at
// lookup time with this typed error, never at call time.
type UnsupportedActionError struct {
	Kind   Kind
	Action jobstore.Action
}

func (e *UnsupportedActionError) Error() string {
	return fmt.Sprintf("provider %q does not support the action %q", e.Kind, e.Action)
}

type registryKey struct {
	kind   Kind
	action jobstore.Action
}

// Registry maps explicit (Kind, Action) pairs to connectors.
//
// Both dimensions are closed enumerations; registration is the only
// way to enable a combination. This replaces name-pattern dynamic
// dispatch: capability is data, not naming convention.
type Registry struct {
	mu         sync.RWMutex
	connectors map[registryKey]Connector
}

func NewRegistry() *Registry {
	return &Registry{connectors: make(map[registryKey]Connector)}
}

// Register enables a connector for one action. Registering the same
// pair twice replaces the previous connector.
func (r *Registry) Register(kind Kind, action jobstore.Action, c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[registryKey{kind: kind, action: action}] = c
}

// RegisterAll enables a connector for every given action.
func (r *Registry) RegisterAll(kind Kind, c Connector, actions ...jobstore.Action) {
	for _, a := range actions {
		r.Register(kind, a, c)
	}
}

// Lookup resolves the connector for a (kind, action) pair.
func (r *Registry) Lookup(kind Kind, action jobstore.Action) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[registryKey{kind: kind, action: action}]
	if !ok {
		return nil, &UnsupportedActionError{Kind: kind, Action: action}
	}
	return c, nil
}

// Supports reports whether the pair is registered.
func (r *Registry) Supports(kind Kind, action jobstore.Action) bool {
	_, err := r.Lookup(kind, action)
	return err == nil
}

// Kinds returns the registered connector kinds, sorted, deduplicated.
func (r *Registry) Kinds() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[Kind]struct{})
	for k := range r.connectors {
		seen[k.kind] = struct{}{}
	}
	kinds := make([]Kind, 0, len(seen))
	for k := range seen {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
