// Package engine wires the subscription source, the lifecycle registry, the
// batch scheduler, and the sink into one coordinator: the single object a POS
// client holds to manage its live data.
package engine

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mesa-pos/livesync/internal/batch"
	"github.com/mesa-pos/livesync/internal/event"
	"github.com/mesa-pos/livesync/internal/lifecycle"
	"github.com/mesa-pos/livesync/internal/observability"
	"github.com/mesa-pos/livesync/internal/sink"
	"github.com/mesa-pos/livesync/internal/source"
)

// CoordinatorConfig holds configuration for the coordinator.
type CoordinatorConfig struct {
	Source source.Source // push-data provider (required)
	Sink   sink.Sink     // batch delivery target (required)

	DebounceWindow   time.Duration
	MaxQueueSize     int
	DedupOnCollision bool
	InitialTenant    string
}

// Coordinator owns one registry and one scheduler. It is constructed once per
// app session and passed to screens explicitly; there is no package-level
// instance.
type Coordinator struct {
	registry  *lifecycle.Registry
	scheduler *batch.Scheduler
	source    source.Source
	sink      sink.Sink

	metrics *observability.Metrics
}

// NewCoordinator creates a coordinator with no open subscriptions.
func NewCoordinator(config CoordinatorConfig) *Coordinator {
	registry := lifecycle.NewRegistry(lifecycle.RegistryConfig{
		InitialTenant:    config.InitialTenant,
		DedupOnCollision: config.DedupOnCollision,
	})
	scheduler := batch.NewScheduler(batch.SchedulerConfig{
		DebounceWindow: config.DebounceWindow,
		MaxQueueSize:   config.MaxQueueSize,
	}, config.Sink)

	return &Coordinator{
		registry:  registry,
		scheduler: scheduler,
		source:    config.Source,
		sink:      config.Sink,
	}
}

// SetMetrics sets the metrics instance for the coordinator and its parts.
func (c *Coordinator) SetMetrics(metrics *observability.Metrics) {
	c.metrics = metrics
	c.registry.SetMetrics(metrics)
	c.scheduler.SetMetrics(metrics)
}

// Watch opens a live subscription for a resource type under the given scope.
// Incoming payloads are decoded, stamped against the current tenant
// generation, and coalesced through the batch scheduler before reaching the
// sink. Watching a resource that is already watched replaces the existing
// subscription (lifecycle rules in the registry apply).
func (c *Coordinator) Watch(scope lifecycle.Scope, resource event.ResourceType) (*lifecycle.Handle, error) {
	resourceID := c.resourceID(resource)

	factory := func(generation uint64) (source.Teardown, error) {
		return c.source.Subscribe(resourceID, func(payload []byte) {
			c.onData(resource, generation, payload)
		})
	}

	return c.registry.Add(scope, lifecycle.Key(resource), factory)
}

// onData is the per-payload path from the source into the scheduler.
func (c *Coordinator) onData(resource event.ResourceType, generation uint64, payload []byte) {
	if c.registry.Generation() != generation {
		// A teardown for this subscription is in flight or already done;
		// the payload belongs to a superseded tenant.
		log.Debug().
			Str("resource", string(resource)).
			Uint64("generation", generation).
			Msg("Discarding payload from stale generation")
		if c.metrics != nil {
			c.metrics.RecordStaleCallback()
		}
		return
	}

	e, err := event.Decode(payload)
	if err != nil {
		log.Error().
			Err(err).
			Str("resource", string(resource)).
			Msg("Dropping undecodable payload")
		if c.metrics != nil {
			c.metrics.RecordDecodeError(string(resource))
		}
		return
	}

	if e.Type != resource {
		log.Error().
			Str("resource", string(resource)).
			Str("payload_type", string(e.Type)).
			Msg("Dropping payload tagged for a different resource")
		if c.metrics != nil {
			c.metrics.RecordDecodeError(string(resource))
		}
		return
	}

	c.scheduler.Enqueue(e)
}

// Unwatch closes the subscription for a resource if it is owned by scope.
func (c *Coordinator) Unwatch(scope lifecycle.Scope, resource event.ResourceType) {
	c.registry.Remove(scope, lifecycle.Key(resource))
}

// ReleaseScope closes every subscription owned by a scope. Called when a
// screen unmounts.
func (c *Coordinator) ReleaseScope(scope lifecycle.Scope) {
	c.registry.RemoveScope(scope)
}

// SwitchTenant flushes all subscriptions and activates a new tenant. Data from
// the previous tenant still in flight is discarded by the generation check,
// queued batches are dropped, and a sink that keeps state (such as the history
// store) is reset. Switching to the already-active tenant is a no-op.
func (c *Coordinator) SwitchTenant(tenantID string) {
	if c.registry.Tenant() == tenantID {
		return
	}
	c.registry.SetTenant(tenantID)
	c.scheduler.Reset()
	if resettable, ok := c.sink.(interface{ Reset() }); ok {
		resettable.Reset()
	}
}

// Tenant returns the active tenant id.
func (c *Coordinator) Tenant() string {
	return c.registry.Tenant()
}

// ActiveCount returns the number of live subscriptions.
func (c *Coordinator) ActiveCount() int {
	return c.registry.ActiveCount()
}

// ListActive returns every live subscription for introspection.
func (c *Coordinator) ListActive() []lifecycle.ActiveSubscription {
	return c.registry.ListActive()
}

// BatchStats returns the scheduler state for diagnostics.
func (c *Coordinator) BatchStats() batch.Stats {
	return c.scheduler.Stats()
}

// Shutdown tears down every subscription and flushes pending batches.
func (c *Coordinator) Shutdown() {
	c.registry.Flush()
	c.scheduler.Close()
	log.Info().Msg("Coordinator shut down")
}

// resourceID namespaces the source channel by tenant so two tenants never
// share a feed.
func (c *Coordinator) resourceID(resource event.ResourceType) string {
	if tenant := c.registry.Tenant(); tenant != "" {
		return tenant + "/" + string(resource)
	}
	return string(resource)
}
