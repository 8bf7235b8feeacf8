package lifecycle

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mesa-pos/livesync/internal/observability"
)

// RegistryConfig holds configuration for the subscription registry.
type RegistryConfig struct {
	// InitialTenant is the tenant id active at construction ("" = none).
	InitialTenant string

	// DedupOnCollision controls what happens when Add sees a key already
	// registered under a different scope: true transfers ownership silently
	// (last writer wins), false rejects the Add with ErrScopeCollision.
	DedupOnCollision bool
}

// ActiveSubscription describes one live subscription for introspection.
type ActiveSubscription struct {
	Scope Scope `json:"scope"`
	Key   Key   `json:"key"`
}

// Registry owns the map from logical key to subscription handle. It enforces
// at-most-one live handle per key within the current tenant generation, tracks
// which scope owns each key, and invalidates everything on a tenant switch.
//
// All mutation is serialized by an internal mutex; SourceFactory callbacks run
// while it is held and must not call back into the registry.
type Registry struct {
	config RegistryConfig

	handles    map[Key]*Handle
	scopes     map[Scope]map[Key]struct{}
	tenantID   string
	generation uint64
	mu         sync.RWMutex

	metrics *observability.Metrics
}

// NewRegistry creates a registry with no live subscriptions.
func NewRegistry(config RegistryConfig) *Registry {
	return &Registry{
		config:   config,
		handles:  make(map[Key]*Handle),
		scopes:   make(map[Scope]map[Key]struct{}),
		tenantID: config.InitialTenant,
	}
}

// SetMetrics sets the metrics instance for recording registry metrics.
func (r *Registry) SetMetrics(metrics *observability.Metrics) {
	r.metrics = metrics
}

// updateMetrics updates the registry gauges.
func (r *Registry) updateMetrics() {
	if r.metrics == nil {
		return
	}

	r.mu.RLock()
	handles := len(r.handles)
	scopes := len(r.scopes)
	r.mu.RUnlock()

	r.metrics.UpdateRegistryStats(handles, scopes)
}

// Add registers a subscription for key under scope. Any existing handle for
// the key is torn down first, then factory is invoked to open the new
// subscription. After Add returns successfully exactly one live handle exists
// for the key and it belongs to scope.
//
// If factory fails, nothing is registered (the old handle, if any, has still
// been torn down) and the error is returned to the caller.
func (r *Registry) Add(scope Scope, key Key, factory SourceFactory) (*Handle, error) {
	r.mu.Lock()

	if existing, ok := r.handles[key]; ok {
		if existing.Scope != scope && !r.config.DedupOnCollision {
			r.mu.Unlock()
			return nil, fmt.Errorf("add %q under scope %q: %w", key, scope, ErrScopeCollision)
		}
		if existing.Scope != scope {
			log.Debug().
				Str("key", string(key)).
				Str("old_scope", string(existing.Scope)).
				Str("new_scope", string(scope)).
				Msg("Subscription ownership transferred")
		}
		// Old teardown is initiated before the new subscription is opened so
		// two live subscriptions for the same key never coexist.
		existing.Teardown()
		r.discardLocked(existing)
	}

	teardown, err := factory(r.generation)
	if err != nil {
		r.mu.Unlock()
		r.updateMetrics()
		return nil, fmt.Errorf("%w for %q: %w", ErrSourceSubscribe, key, err)
	}

	handle := newHandle(scope, key, r.generation, teardown)
	r.handles[key] = handle
	if r.scopes[scope] == nil {
		r.scopes[scope] = make(map[Key]struct{})
	}
	r.scopes[scope][key] = struct{}{}

	r.mu.Unlock()
	r.updateMetrics()

	log.Debug().
		Str("scope", string(scope)).
		Str("key", string(key)).
		Uint64("generation", handle.Generation).
		Msg("Subscription registered")

	return handle, nil
}

// Remove tears down the handle for key if it is owned by scope. A key owned by
// a different scope, or not registered at all, is left untouched.
func (r *Registry) Remove(scope Scope, key Key) {
	r.mu.Lock()

	handle, ok := r.handles[key]
	if !ok || handle.Scope != scope {
		r.mu.Unlock()
		return
	}

	r.discardLocked(handle)
	r.mu.Unlock()

	handle.Teardown()
	r.updateMetrics()
}

// RemoveScope tears down and removes every handle owned by scope. Safe to call
// repeatedly and on scopes that were never registered.
func (r *Registry) RemoveScope(scope Scope) {
	r.mu.Lock()

	keys, ok := r.scopes[scope]
	if !ok {
		r.mu.Unlock()
		return
	}

	removed := make([]*Handle, 0, len(keys))
	for key := range keys {
		if handle, ok := r.handles[key]; ok {
			removed = append(removed, handle)
			delete(r.handles, key)
		}
	}
	delete(r.scopes, scope)

	r.mu.Unlock()

	for _, handle := range removed {
		handle.Teardown()
	}
	r.updateMetrics()

	log.Debug().
		Str("scope", string(scope)).
		Int("subscriptions", len(removed)).
		Msg("Scope released")
}

// Flush tears down every live handle regardless of owning scope, clears the
// scope index, and advances the tenant generation. Used by a tenant switch.
func (r *Registry) Flush() {
	r.mu.Lock()

	removed := make([]*Handle, 0, len(r.handles))
	for _, handle := range r.handles {
		removed = append(removed, handle)
	}
	r.handles = make(map[Key]*Handle)
	r.scopes = make(map[Scope]map[Key]struct{})
	r.generation++
	generation := r.generation

	r.mu.Unlock()

	for _, handle := range removed {
		handle.Teardown()
	}
	r.updateMetrics()

	log.Info().
		Int("subscriptions", len(removed)).
		Uint64("generation", generation).
		Msg("Registry flushed")
}

// SetTenant switches the active tenant. Setting the current tenant again is a
// no-op; otherwise the registry is flushed synchronously before the new tenant
// id takes effect, so no new-tenant subscription can observe old-tenant state.
func (r *Registry) SetTenant(tenantID string) {
	r.mu.Lock()
	if r.tenantID == tenantID {
		r.mu.Unlock()
		return
	}
	previous := r.tenantID
	r.mu.Unlock()

	r.Flush()

	r.mu.Lock()
	r.tenantID = tenantID
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RecordTenantSwitch()
	}

	log.Info().
		Str("previous", previous).
		Str("tenant", tenantID).
		Msg("Active tenant switched")
}

// Tenant returns the active tenant id.
func (r *Registry) Tenant() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tenantID
}

// Generation returns the current tenant generation.
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}

// IsCurrent reports whether a handle belongs to the current tenant generation.
// Asynchronous completions holding a stale handle must discard themselves.
func (r *Registry) IsCurrent(handle *Handle) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return handle.Generation == r.generation
}

// ActiveCount returns the number of live subscriptions.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// ListActive returns every live subscription, ordered by scope then key.
func (r *Registry) ListActive() []ActiveSubscription {
	r.mu.RLock()
	active := make([]ActiveSubscription, 0, len(r.handles))
	for _, handle := range r.handles {
		active = append(active, ActiveSubscription{Scope: handle.Scope, Key: handle.Key})
	}
	r.mu.RUnlock()

	sort.Slice(active, func(i, j int) bool {
		if active[i].Scope != active[j].Scope {
			return active[i].Scope < active[j].Scope
		}
		return active[i].Key < active[j].Key
	})
	return active
}

// discardLocked removes a handle from the primary map and the scope index,
// pruning the scope entry when it empties. Must be called with the lock held.
func (r *Registry) discardLocked(handle *Handle) {
	delete(r.handles, handle.Key)
	if keys, ok := r.scopes[handle.Scope]; ok {
		delete(keys, handle.Key)
		if len(keys) == 0 {
			delete(r.scopes, handle.Scope)
		}
	}
}
