package diag

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesa-pos/livesync/internal/engine"
	"github.com/mesa-pos/livesync/internal/event"
	"github.com/mesa-pos/livesync/internal/observability"
	"github.com/mesa-pos/livesync/internal/sink"
	"github.com/mesa-pos/livesync/internal/source"
)

func TestHandleSubscriptions(t *testing.T) {
	src := source.NewLocal()
	defer src.Close()

	c := engine.NewCoordinator(engine.CoordinatorConfig{
		Source:           src,
		Sink:             sink.NewStore(100),
		DedupOnCollision: true,
	})
	defer c.Shutdown()
	c.SwitchTenant("rest-1")

	_, err := c.Watch("screen1", event.ResourceOrders)
	require.NoError(t, err)
	_, err = c.Watch("screen2", event.ResourceTables)
	require.NoError(t, err)

	app := NewApp(c, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/diag/subscriptions", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var got SubscriptionsResponse
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, "rest-1", got.Tenant)
	assert.Equal(t, 2, got.ActiveCount)
	require.Len(t, got.Subscriptions, 2)
	assert.Equal(t, "screen1", got.Subscriptions[0].Scope)
	assert.Equal(t, "orders", got.Subscriptions[0].Key)
}

func TestHandleBatcher(t *testing.T) {
	src := source.NewLocal()
	defer src.Close()

	c := engine.NewCoordinator(engine.CoordinatorConfig{
		Source:           src,
		Sink:             sink.NewStore(100),
		DedupOnCollision: true,
	})
	defer c.Shutdown()

	app := NewApp(c, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/diag/batcher", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "queues")
}

func TestMetricsEndpoint(t *testing.T) {
	src := source.NewLocal()
	defer src.Close()

	c := engine.NewCoordinator(engine.CoordinatorConfig{
		Source:           src,
		Sink:             sink.NewStore(100),
		DedupOnCollision: true,
	})
	defer c.Shutdown()

	metrics := observability.NewMetrics()
	c.SetMetrics(metrics)

	_, err := c.Watch("screen1", event.ResourceOrders)
	require.NoError(t, err)

	app := NewApp(c, metrics)

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "livesync_active_subscriptions 1")
}

func TestMetricsRouteAbsentWithoutMetrics(t *testing.T) {
	src := source.NewLocal()
	defer src.Close()

	c := engine.NewCoordinator(engine.CoordinatorConfig{
		Source:           src,
		Sink:             sink.NewStore(100),
		DedupOnCollision: true,
	})
	defer c.Shutdown()

	app := NewApp(c, nil)

	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	require.NoError(t, err)
	assert.Equal(t, 404, resp.StatusCode)
}
