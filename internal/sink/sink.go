// Package sink defines where batched change events are delivered: the
// client-side store that screens read from.
package sink

import (
	"github.com/mesa-pos/livesync/internal/event"
)

// Sink receives batched change events. Dispatch is always called with a
// non-empty slice in enqueue order.
type Sink interface {
	Dispatch(resource event.ResourceType, events []event.ChangeEvent)
}

// Func adapts a function to the Sink interface.
type Func func(resource event.ResourceType, events []event.ChangeEvent)

// Dispatch calls f.
func (f Func) Dispatch(resource event.ResourceType, events []event.ChangeEvent) {
	f(resource, events)
}
