// Package batch coalesces bursts of change events into bounded, ordered
// deliveries. Each resource type has its own queue with a single pending
// debounce timer; a queue that fills up before the timer fires is flushed
// immediately.
package batch

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mesa-pos/livesync/internal/event"
	"github.com/mesa-pos/livesync/internal/observability"
	"github.com/mesa-pos/livesync/internal/sink"
)

// SchedulerConfig holds configuration for the batch scheduler.
type SchedulerConfig struct {
	DebounceWindow time.Duration // delay after the first queued item before auto-flush (default: 100ms)
	MaxQueueSize   int           // forced-flush threshold per resource (default: 64)
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		DebounceWindow: 100 * time.Millisecond,
		MaxQueueSize:   64,
	}
}

// queue is the pending state for one resource type.
//
// The timer is armed when the first item lands in an empty queue and is NOT
// re-armed by later items; resetting on every item would starve delivery under
// a continuous stream. flushGen invalidates timer callbacks that lost the race
// against an overflow flush. lastDelivery chains flushes for the resource so
// batches reach the sink in the order their items were taken off the queue,
// even when a timer flush and an overflow flush race.
type queue struct {
	items        []event.ChangeEvent
	timerPending bool
	flushGen     uint64
	lastDelivery chan struct{}
}

// Scheduler owns the per-resource queues and delivers batches to the sink.
type Scheduler struct {
	config SchedulerConfig
	sink   sink.Sink

	queues map[event.ResourceType]*queue
	closed bool
	mu     sync.Mutex

	// Flush counters by trigger
	timerFlushes    uint64
	overflowFlushes uint64

	metrics *observability.Metrics
}

// NewScheduler creates a scheduler delivering to the given sink.
func NewScheduler(config SchedulerConfig, s sink.Sink) *Scheduler {
	if config.DebounceWindow <= 0 {
		config.DebounceWindow = 100 * time.Millisecond
	}
	if config.MaxQueueSize <= 0 {
		config.MaxQueueSize = 64
	}

	return &Scheduler{
		config: config,
		sink:   s,
		queues: make(map[event.ResourceType]*queue),
	}
}

// SetMetrics sets the metrics instance for recording batch metrics.
func (s *Scheduler) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

// Enqueue appends an event to the queue for its resource type. The first item
// in an empty queue arms the debounce timer; reaching MaxQueueSize flushes the
// queue immediately and cancels the pending timer.
func (s *Scheduler) Enqueue(e event.ChangeEvent) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	q := s.queues[e.Type]
	if q == nil {
		q = &queue{}
		s.queues[e.Type] = q
	}
	q.items = append(q.items, e)

	if len(q.items) >= s.config.MaxQueueSize {
		items := s.takeLocked(q)
		s.overflowFlushes++
		prev, done := s.chainLocked(q)
		s.mu.Unlock()

		log.Debug().
			Str("resource", string(e.Type)).
			Int("items", len(items)).
			Msg("Queue reached capacity, flushing early")
		s.deliverOrdered(e.Type, items, "overflow", prev, done)
		return
	}

	if !q.timerPending {
		q.timerPending = true
		gen := q.flushGen
		resource := e.Type
		time.AfterFunc(s.config.DebounceWindow, func() {
			s.flushTimer(resource, gen)
		})
	}

	depth := len(q.items)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.UpdateQueueDepth(string(e.Type), depth)
	}
}

// flushTimer is the debounce timer callback. A generation mismatch means the
// queue was already flushed by overflow (or Close) and this timer is stale.
func (s *Scheduler) flushTimer(resource event.ResourceType, gen uint64) {
	s.mu.Lock()
	q := s.queues[resource]
	if q == nil || q.flushGen != gen || len(q.items) == 0 {
		s.mu.Unlock()
		return
	}
	items := s.takeLocked(q)
	s.timerFlushes++
	prev, done := s.chainLocked(q)
	s.mu.Unlock()

	s.deliverOrdered(resource, items, "timer", prev, done)
}

// takeLocked empties a queue for delivery, invalidating any pending timer.
// Must be called with the lock held.
func (s *Scheduler) takeLocked(q *queue) []event.ChangeEvent {
	items := q.items
	q.items = nil
	q.timerPending = false
	q.flushGen++
	return items
}

// chainLocked reserves the next delivery slot for a queue. Slots are handed
// out under the scheduler lock, in the same order items are taken off the
// queue, so waiting on prev before dispatching keeps batches FIFO per
// resource. Must be called with the lock held.
func (s *Scheduler) chainLocked(q *queue) (prev, done chan struct{}) {
	prev = q.lastDelivery
	done = make(chan struct{})
	q.lastDelivery = done
	return prev, done
}

// deliverOrdered waits for the previous delivery on the same queue to finish,
// then hands the batch to the sink and releases the next slot.
func (s *Scheduler) deliverOrdered(resource event.ResourceType, items []event.ChangeEvent, reason string, prev, done chan struct{}) {
	if prev != nil {
		<-prev
	}
	s.sink.Dispatch(resource, items)
	close(done)

	if s.metrics != nil {
		s.metrics.RecordBatchFlush(string(resource), reason, len(items))
		s.metrics.UpdateQueueDepth(string(resource), 0)
	}
}

// Close flushes every pending queue and stops accepting new events.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true

	type pending struct {
		resource   event.ResourceType
		items      []event.ChangeEvent
		prev, done chan struct{}
	}
	remaining := make([]pending, 0, len(s.queues))
	for resource, q := range s.queues {
		if len(q.items) > 0 {
			items := s.takeLocked(q)
			prev, done := s.chainLocked(q)
			remaining = append(remaining, pending{resource, items, prev, done})
		}
	}
	s.mu.Unlock()

	for _, p := range remaining {
		s.deliverOrdered(p.resource, p.items, "close", p.prev, p.done)
	}

	log.Debug().Int("queues", len(remaining)).Msg("Batch scheduler closed")
}

// Reset discards every pending item and invalidates pending timers without
// delivering anything, for when a tenant switch makes queued data obsolete.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	dropped := 0
	for resource, q := range s.queues {
		if n := len(q.items); n > 0 {
			dropped += n
			s.takeLocked(q)
		}
		if s.metrics != nil {
			s.metrics.UpdateQueueDepth(string(resource), 0)
		}
	}
	s.mu.Unlock()

	if dropped > 0 {
		log.Debug().Int("items", dropped).Msg("Discarded pending batches")
	}
}

// QueueStats describes one pending queue.
type QueueStats struct {
	Depth        int  `json:"depth"`
	TimerPending bool `json:"timer_pending"`
}

// Stats describes the scheduler state for diagnostics.
type Stats struct {
	Queues          map[string]QueueStats `json:"queues"`
	TimerFlushes    uint64                `json:"timer_flushes"`
	OverflowFlushes uint64                `json:"overflow_flushes"`
}

// Stats returns current scheduler statistics.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	queues := make(map[string]QueueStats, len(s.queues))
	for resource, q := range s.queues {
		queues[string(resource)] = QueueStats{
			Depth:        len(q.items),
			TimerPending: q.timerPending,
		}
	}
	return Stats{
		Queues:          queues,
		TimerFlushes:    s.timerFlushes,
		OverflowFlushes: s.overflowFlushes,
	}
}
