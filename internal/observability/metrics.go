// Package observability provides Prometheus metrics for the subscription
// lifecycle. Metrics are instance-scoped (registered on an injected or private
// registry), so multiple coordinators can coexist in one process and in tests.
package observability

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for LiveSync
type Metrics struct {
	registry *prometheus.Registry

	// Registry metrics
	activeSubscriptions prometheus.Gauge
	activeScopes        prometheus.Gauge
	tenantSwitchesTotal prometheus.Counter

	// Batch metrics
	batchFlushesTotal *prometheus.CounterVec
	batchItemsTotal   *prometheus.CounterVec
	batchQueueDepth   *prometheus.GaugeVec

	// Data path metrics
	staleCallbacksTotal prometheus.Counter
	decodeErrorsTotal   *prometheus.CounterVec
}

// NewMetrics creates and registers all LiveSync metrics on a private registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		activeSubscriptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livesync_active_subscriptions",
			Help: "Number of live subscriptions in the registry",
		}),
		activeScopes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "livesync_active_scopes",
			Help: "Number of scopes owning at least one subscription",
		}),
		tenantSwitchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "livesync_tenant_switches_total",
			Help: "Total number of tenant switches",
		}),

		batchFlushesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livesync_batch_flushes_total",
				Help: "Total number of batch flushes by resource and reason",
			},
			[]string{"resource", "reason"},
		),
		batchItemsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livesync_batch_items_total",
				Help: "Total number of items delivered through batch flushes",
			},
			[]string{"resource"},
		),
		batchQueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "livesync_batch_queue_depth",
				Help: "Current number of items queued per resource",
			},
			[]string{"resource"},
		),

		staleCallbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "livesync_stale_callbacks_total",
			Help: "Total number of callbacks discarded for referencing a superseded tenant generation",
		}),
		decodeErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "livesync_decode_errors_total",
				Help: "Total number of payloads dropped because they failed to decode",
			},
			[]string{"resource"},
		),
	}
}

// UpdateRegistryStats updates the registry gauges.
func (m *Metrics) UpdateRegistryStats(subscriptions, scopes int) {
	m.activeSubscriptions.Set(float64(subscriptions))
	m.activeScopes.Set(float64(scopes))
}

// RecordTenantSwitch increments the tenant switch counter.
func (m *Metrics) RecordTenantSwitch() {
	m.tenantSwitchesTotal.Inc()
}

// RecordBatchFlush records one batch flush. reason is "timer" or "overflow".
func (m *Metrics) RecordBatchFlush(resource, reason string, items int) {
	m.batchFlushesTotal.WithLabelValues(resource, reason).Inc()
	m.batchItemsTotal.WithLabelValues(resource).Add(float64(items))
}

// UpdateQueueDepth sets the queued item gauge for a resource.
func (m *Metrics) UpdateQueueDepth(resource string, depth int) {
	m.batchQueueDepth.WithLabelValues(resource).Set(float64(depth))
}

// RecordStaleCallback increments the stale callback counter.
func (m *Metrics) RecordStaleCallback() {
	m.staleCallbacksTotal.Inc()
}

// RecordDecodeError increments the decode error counter for a resource.
func (m *Metrics) RecordDecodeError(resource string) {
	m.decodeErrorsTotal.WithLabelValues(resource).Inc()
}

// Handler returns a fiber handler serving the metrics in Prometheus format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
