// Package diag exposes the coordinator's introspection surface over HTTP for
// the diagnostics panel: which subscriptions are open, what the batch queues
// look like, and Prometheus metrics.
package diag

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mesa-pos/livesync/internal/engine"
	"github.com/mesa-pos/livesync/internal/observability"
)

// Handler handles diagnostics requests against one coordinator
type Handler struct {
	coordinator *engine.Coordinator
	metrics     *observability.Metrics
}

// NewHandler creates a new diagnostics handler
func NewHandler(coordinator *engine.Coordinator, metrics *observability.Metrics) *Handler {
	return &Handler{coordinator: coordinator, metrics: metrics}
}

// SubscriptionsResponse represents the open-subscriptions report
type SubscriptionsResponse struct {
	Tenant        string `json:"tenant"`
	ActiveCount   int    `json:"active_count"`
	Subscriptions []struct {
		Scope string `json:"scope"`
		Key   string `json:"key"`
	} `json:"subscriptions"`
}

// HandleSubscriptions reports every open subscription and its owning scope
func (h *Handler) HandleSubscriptions(c *fiber.Ctx) error {
	active := h.coordinator.ListActive()

	resp := SubscriptionsResponse{
		Tenant:      h.coordinator.Tenant(),
		ActiveCount: h.coordinator.ActiveCount(),
	}
	for _, sub := range active {
		resp.Subscriptions = append(resp.Subscriptions, struct {
			Scope string `json:"scope"`
			Key   string `json:"key"`
		}{Scope: string(sub.Scope), Key: string(sub.Key)})
	}

	return c.JSON(resp)
}

// HandleBatcher reports the batch scheduler state
func (h *Handler) HandleBatcher(c *fiber.Ctx) error {
	return c.JSON(h.coordinator.BatchStats())
}

// NewApp builds the diagnostics fiber app with all routes registered.
func NewApp(coordinator *engine.Coordinator, metrics *observability.Metrics) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	h := NewHandler(coordinator, metrics)
	app.Get("/diag/subscriptions", h.HandleSubscriptions)
	app.Get("/diag/batcher", h.HandleBatcher)
	if metrics != nil {
		app.Get("/metrics", metrics.Handler())
	}

	return app
}
