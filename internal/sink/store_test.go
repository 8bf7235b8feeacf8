package sink

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesa-pos/livesync/internal/event"
)

func orderEvent(id string) event.ChangeEvent {
	return event.ChangeEvent{
		Type:      event.ResourceOrders,
		Action:    event.ActionInsert,
		Record:    json.RawMessage(fmt.Sprintf(`{"id":%q}`, id)),
		Timestamp: time.Now(),
	}
}

func TestStoreDispatch(t *testing.T) {
	t.Run("keeps events in order", func(t *testing.T) {
		s := NewStore(10)

		s.Dispatch(event.ResourceOrders, []event.ChangeEvent{orderEvent("a"), orderEvent("b")})
		s.Dispatch(event.ResourceOrders, []event.ChangeEvent{orderEvent("c")})

		snapshot := s.Snapshot(event.ResourceOrders)
		require.Len(t, snapshot, 3)
		assert.JSONEq(t, `{"id":"a"}`, string(snapshot[0].Record))
		assert.JSONEq(t, `{"id":"c"}`, string(snapshot[2].Record))
	})

	t.Run("drops invalid events at the boundary", func(t *testing.T) {
		s := NewStore(10)

		bad := orderEvent("x")
		bad.Action = "upsert"
		s.Dispatch(event.ResourceOrders, []event.ChangeEvent{bad, orderEvent("ok")})

		assert.Equal(t, 1, s.Len(event.ResourceOrders))
	})

	t.Run("resources are independent", func(t *testing.T) {
		s := NewStore(10)

		s.Dispatch(event.ResourceOrders, []event.ChangeEvent{orderEvent("a")})

		assert.Equal(t, 1, s.Len(event.ResourceOrders))
		assert.Equal(t, 0, s.Len(event.ResourceTables))
	})
}

func TestStoreHistoryCap(t *testing.T) {
	s := NewStore(3)

	for i := 0; i < 5; i++ {
		s.Dispatch(event.ResourceOrders, []event.ChangeEvent{orderEvent(fmt.Sprintf("o%d", i))})
	}

	snapshot := s.Snapshot(event.ResourceOrders)
	require.Len(t, snapshot, 3)
	assert.JSONEq(t, `{"id":"o2"}`, string(snapshot[0].Record))
	assert.JSONEq(t, `{"id":"o4"}`, string(snapshot[2].Record))
	assert.Equal(t, uint64(2), s.Dropped())
}

func TestStoreReset(t *testing.T) {
	s := NewStore(10)
	s.Dispatch(event.ResourceOrders, []event.ChangeEvent{orderEvent("a")})

	s.Reset()

	assert.Equal(t, 0, s.Len(event.ResourceOrders))
	assert.Empty(t, s.Snapshot(event.ResourceOrders))
}

func TestSinkFunc(t *testing.T) {
	var gotResource event.ResourceType
	var gotCount int

	var sink Sink = Func(func(resource event.ResourceType, events []event.ChangeEvent) {
		gotResource = resource
		gotCount = len(events)
	})

	sink.Dispatch(event.ResourceMenu, []event.ChangeEvent{orderEvent("a")})

	assert.Equal(t, event.ResourceMenu, gotResource)
	assert.Equal(t, 1, gotCount)
}
