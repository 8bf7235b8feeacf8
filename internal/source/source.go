// Package source defines the boundary to the push-data provider the POS client
// receives live updates from. The coordinator only depends on the Source
// interface; concrete backends fan incoming payloads out to per-resource
// callbacks.
package source

// DataFunc receives one raw payload pushed for a subscribed resource.
type DataFunc func(payload []byte)

// Teardown closes one subscription. It must be safe to call more than once;
// every call after the first is a no-op.
type Teardown func()

// Source is a push-data provider.
// Implementations must handle concurrent access safely.
type Source interface {
	// Subscribe opens a live subscription for a resource id. Every payload
	// pushed for that resource is delivered to onData until the returned
	// Teardown is called.
	Subscribe(resourceID string, onData DataFunc) (Teardown, error)

	// Close releases all resources and tears down all open subscriptions.
	Close() error
}
