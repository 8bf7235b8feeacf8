package sink

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/mesa-pos/livesync/internal/event"
)

// Store is an in-memory sink keeping an ordered, bounded history of change
// events per resource. Screens and the diagnostics panel read snapshots from
// it; the demo daemon uses it as its only sink.
type Store struct {
	historyLimit int
	history      map[event.ResourceType][]event.ChangeEvent
	dropped      uint64
	mu           sync.RWMutex
}

// NewStore creates a store keeping at most historyLimit events per resource.
func NewStore(historyLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = 256
	}
	return &Store{
		historyLimit: historyLimit,
		history:      make(map[event.ResourceType][]event.ChangeEvent),
	}
}

// Dispatch appends a batch to the resource history, validating each event at
// the boundary. Invalid events are logged and dropped, never stored.
func (s *Store) Dispatch(resource event.ResourceType, events []event.ChangeEvent) {
	accepted := make([]event.ChangeEvent, 0, len(events))
	for i := range events {
		if err := events[i].Validate(); err != nil {
			log.Error().
				Err(err).
				Str("resource", string(resource)).
				Msg("Dropping invalid change event at sink boundary")
			continue
		}
		accepted = append(accepted, events[i])
	}
	if len(accepted) == 0 {
		return
	}

	s.mu.Lock()
	history := append(s.history[resource], accepted...)
	if overflow := len(history) - s.historyLimit; overflow > 0 {
		history = history[overflow:]
		s.dropped += uint64(overflow)
	}
	s.history[resource] = history
	s.mu.Unlock()

	log.Debug().
		Str("resource", string(resource)).
		Int("events", len(accepted)).
		Msg("Batch applied to store")
}

// Snapshot returns a copy of the current history for a resource, oldest first.
func (s *Store) Snapshot(resource event.ResourceType) []event.ChangeEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.history[resource]
	snapshot := make([]event.ChangeEvent, len(history))
	copy(snapshot, history)
	return snapshot
}

// Len returns the number of retained events for a resource.
func (s *Store) Len(resource event.ResourceType) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history[resource])
}

// Dropped returns how many events have been evicted by the history cap.
func (s *Store) Dropped() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// Reset clears all history, e.g. after a tenant switch.
func (s *Store) Reset() {
	s.mu.Lock()
	s.history = make(map[event.ResourceType][]event.ChangeEvent)
	s.mu.Unlock()
}
