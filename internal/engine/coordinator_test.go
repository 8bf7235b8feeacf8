package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesa-pos/livesync/internal/event"
	"github.com/mesa-pos/livesync/internal/sink"
	"github.com/mesa-pos/livesync/internal/source"
)

func testCoordinator(t *testing.T, src source.Source, store *sink.Store) *Coordinator {
	t.Helper()
	c := NewCoordinator(CoordinatorConfig{
		Source:           src,
		Sink:             store,
		DebounceWindow:   20 * time.Millisecond,
		MaxQueueSize:     64,
		DedupOnCollision: true,
	})
	t.Cleanup(c.Shutdown)
	return c
}

func publishOrder(src *source.Local, channel, id string) {
	payload := fmt.Sprintf(`{"type":"orders","action":"insert","record":{"id":%q},"timestamp":"2026-08-01T12:00:00Z"}`, id)
	src.Publish(channel, []byte(payload))
}

func TestCoordinatorEndToEnd(t *testing.T) {
	src := source.NewLocal()
	defer src.Close()
	store := sink.NewStore(100)
	c := testCoordinator(t, src, store)

	_, err := c.Watch("screen1", event.ResourceOrders)
	require.NoError(t, err)
	assert.Equal(t, 1, c.ActiveCount())

	publishOrder(src, "orders", "o1")
	publishOrder(src, "orders", "o2")

	require.Eventually(t, func() bool {
		return store.Len(event.ResourceOrders) == 2
	}, time.Second, 5*time.Millisecond)

	snapshot := store.Snapshot(event.ResourceOrders)
	assert.JSONEq(t, `{"id":"o1"}`, string(snapshot[0].Record))
	assert.JSONEq(t, `{"id":"o2"}`, string(snapshot[1].Record))
}

func TestCoordinatorUnwatch(t *testing.T) {
	src := source.NewLocal()
	defer src.Close()
	store := sink.NewStore(100)
	c := testCoordinator(t, src, store)

	_, err := c.Watch("screen1", event.ResourceOrders)
	require.NoError(t, err)

	c.Unwatch("screen1", event.ResourceOrders)
	assert.Equal(t, 0, c.ActiveCount())
	assert.Equal(t, 0, src.SubscriberCount("orders"))

	publishOrder(src, "orders", "o1")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, store.Len(event.ResourceOrders))
}

func TestCoordinatorReleaseScope(t *testing.T) {
	src := source.NewLocal()
	defer src.Close()
	store := sink.NewStore(100)
	c := testCoordinator(t, src, store)

	_, err := c.Watch("screen1", event.ResourceOrders)
	require.NoError(t, err)
	_, err = c.Watch("screen1", event.ResourceTables)
	require.NoError(t, err)
	_, err = c.Watch("screen2", event.ResourceMenu)
	require.NoError(t, err)

	c.ReleaseScope("screen1")

	assert.Equal(t, 1, c.ActiveCount())
	active := c.ListActive()
	require.Len(t, active, 1)
	assert.Equal(t, "screen2", string(active[0].Scope))
	assert.Equal(t, "menu", string(active[0].Key))
}

func TestCoordinatorRewatchReplacesSubscription(t *testing.T) {
	src := source.NewLocal()
	defer src.Close()
	store := sink.NewStore(100)
	c := testCoordinator(t, src, store)

	_, err := c.Watch("screen1", event.ResourceOrders)
	require.NoError(t, err)
	_, err = c.Watch("screen1", event.ResourceOrders)
	require.NoError(t, err)

	assert.Equal(t, 1, c.ActiveCount())
	assert.Equal(t, 1, src.SubscriberCount("orders"))

	// Events are not delivered twice through the replaced subscription
	publishOrder(src, "orders", "o1")
	require.Eventually(t, func() bool {
		return store.Len(event.ResourceOrders) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, store.Len(event.ResourceOrders))
}

func TestCoordinatorTenantNamespacing(t *testing.T) {
	src := source.NewLocal()
	defer src.Close()
	store := sink.NewStore(100)
	c := testCoordinator(t, src, store)
	c.SwitchTenant("rest-1")

	_, err := c.Watch("screen1", event.ResourceOrders)
	require.NoError(t, err)

	// Feed is namespaced by tenant
	assert.Equal(t, 1, src.SubscriberCount("rest-1/orders"))
	assert.Equal(t, 0, src.SubscriberCount("orders"))

	publishOrder(src, "rest-1/orders", "o1")
	require.Eventually(t, func() bool {
		return store.Len(event.ResourceOrders) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCoordinatorSwitchTenant(t *testing.T) {
	src := source.NewLocal()
	defer src.Close()
	store := sink.NewStore(100)
	c := testCoordinator(t, src, store)
	c.SwitchTenant("rest-1")

	_, err := c.Watch("screen1", event.ResourceOrders)
	require.NoError(t, err)

	c.SwitchTenant("rest-2")

	// Immediately after the switch nothing is live
	assert.Equal(t, 0, c.ActiveCount())
	assert.Equal(t, "rest-2", c.Tenant())
	assert.Equal(t, 0, src.SubscriberCount("rest-1/orders"))

	// New-tenant watches are independent of anything before the switch
	_, err = c.Watch("screen1", event.ResourceOrders)
	require.NoError(t, err)
	assert.Equal(t, 1, src.SubscriberCount("rest-2/orders"))

	publishOrder(src, "rest-2/orders", "n1")
	require.Eventually(t, func() bool {
		return store.Len(event.ResourceOrders) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestCoordinatorSwitchTenantClearsHistory(t *testing.T) {
	src := source.NewLocal()
	defer src.Close()
	store := sink.NewStore(100)
	c := testCoordinator(t, src, store)
	c.SwitchTenant("rest-1")

	_, err := c.Watch("screen1", event.ResourceOrders)
	require.NoError(t, err)

	publishOrder(src, "rest-1/orders", "o1")
	require.Eventually(t, func() bool {
		return store.Len(event.ResourceOrders) == 1
	}, time.Second, 5*time.Millisecond)

	// The previous tenant's history does not survive the switch
	c.SwitchTenant("rest-2")
	assert.Equal(t, 0, store.Len(event.ResourceOrders))

	_, err = c.Watch("screen1", event.ResourceOrders)
	require.NoError(t, err)
	publishOrder(src, "rest-2/orders", "n1")
	require.Eventually(t, func() bool {
		return store.Len(event.ResourceOrders) == 1
	}, time.Second, 5*time.Millisecond)

	// Switching to the already-active tenant keeps everything intact
	c.SwitchTenant("rest-2")
	assert.Equal(t, 1, c.ActiveCount())
	assert.Equal(t, 1, store.Len(event.ResourceOrders))
}

func TestCoordinatorSwitchTenantDropsQueuedBatches(t *testing.T) {
	src := source.NewLocal()
	defer src.Close()
	store := sink.NewStore(100)
	c := NewCoordinator(CoordinatorConfig{
		Source:           src,
		Sink:             store,
		DebounceWindow:   time.Hour,
		MaxQueueSize:     64,
		DedupOnCollision: true,
	})
	c.SwitchTenant("rest-1")

	_, err := c.Watch("screen1", event.ResourceOrders)
	require.NoError(t, err)

	// Queued behind the (distant) debounce timer, not yet delivered
	publishOrder(src, "rest-1/orders", "o1")
	assert.Equal(t, 0, store.Len(event.ResourceOrders))

	c.SwitchTenant("rest-2")

	// Shutdown flushes pending queues; the dropped batch must not reappear
	c.Shutdown()
	assert.Equal(t, 0, store.Len(event.ResourceOrders))
}

// leakySource keeps delivering after teardown, standing in for a backend whose
// asynchronous teardown acknowledgment lags behind a tenant switch.
type leakySource struct {
	callbacks map[string]source.DataFunc
}

func newLeakySource() *leakySource {
	return &leakySource{callbacks: make(map[string]source.DataFunc)}
}

func (l *leakySource) Subscribe(resourceID string, onData source.DataFunc) (source.Teardown, error) {
	l.callbacks[resourceID] = onData
	return func() {}, nil
}

func (l *leakySource) Close() error { return nil }

func (l *leakySource) push(resourceID string, payload []byte) {
	if cb, ok := l.callbacks[resourceID]; ok {
		cb(payload)
	}
}

func TestCoordinatorDiscardsStaleGenerationData(t *testing.T) {
	src := newLeakySource()
	store := sink.NewStore(100)
	c := testCoordinator(t, src, store)
	c.SwitchTenant("rest-1")

	_, err := c.Watch("screen1", event.ResourceOrders)
	require.NoError(t, err)

	c.SwitchTenant("rest-2")

	// A payload arriving through the not-yet-acknowledged old subscription
	// references a superseded generation and must be dropped.
	src.push("rest-1/orders", []byte(`{"type":"orders","action":"insert","record":{"id":"stale"},"timestamp":"2026-08-01T12:00:00Z"}`))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, store.Len(event.ResourceOrders))
}

func TestCoordinatorDropsBadPayloads(t *testing.T) {
	src := source.NewLocal()
	defer src.Close()
	store := sink.NewStore(100)
	c := testCoordinator(t, src, store)

	_, err := c.Watch("screen1", event.ResourceOrders)
	require.NoError(t, err)

	src.Publish("orders", []byte(`{not json`))
	src.Publish("orders", []byte(`{"type":"tables","action":"insert","record":{"id":"t1"},"timestamp":"2026-08-01T12:00:00Z"}`))
	publishOrder(src, "orders", "good")

	require.Eventually(t, func() bool {
		return store.Len(event.ResourceOrders) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, store.Len(event.ResourceTables))

	snapshot := store.Snapshot(event.ResourceOrders)
	require.Len(t, snapshot, 1)
	assert.JSONEq(t, `{"id":"good"}`, string(snapshot[0].Record))
}

func TestCoordinatorWatchFailure(t *testing.T) {
	store := sink.NewStore(100)
	c := NewCoordinator(CoordinatorConfig{
		Source: failingSource{},
		Sink:   store,
	})
	t.Cleanup(c.Shutdown)

	_, err := c.Watch("screen1", event.ResourceOrders)
	require.Error(t, err)
	assert.Equal(t, 0, c.ActiveCount())
}

type failingSource struct{}

func (failingSource) Subscribe(string, source.DataFunc) (source.Teardown, error) {
	return nil, fmt.Errorf("backend unreachable")
}

func (failingSource) Close() error { return nil }
