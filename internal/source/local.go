package source

import (
	"sync"
)

// localSubscriber represents a single subscription with its callback and
// closed state.
type localSubscriber struct {
	onData DataFunc
	closed bool
	mu     sync.Mutex
}

// deliver invokes the callback unless the subscriber has been torn down.
func (s *localSubscriber) deliver(payload []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	onData := s.onData
	s.mu.Unlock()

	onData(payload)
}

// close marks the subscriber as closed. Idempotent.
func (s *localSubscriber) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Local implements Source for in-process delivery. Payloads published via
// Publish are delivered synchronously to all subscribers of the resource.
// Used by tests and by the demo daemon in local mode.
type Local struct {
	subscribers map[string][]*localSubscriber
	mu          sync.RWMutex
}

// NewLocal creates a new in-process source.
func NewLocal() *Local {
	return &Local{
		subscribers: make(map[string][]*localSubscriber),
	}
}

// Subscribe registers a callback for a resource id.
func (l *Local) Subscribe(resourceID string, onData DataFunc) (Teardown, error) {
	sub := &localSubscriber{onData: onData}

	l.mu.Lock()
	l.subscribers[resourceID] = append(l.subscribers[resourceID], sub)
	l.mu.Unlock()

	var once sync.Once
	teardown := func() {
		once.Do(func() {
			l.unsubscribe(resourceID, sub)
		})
	}
	return teardown, nil
}

// Publish delivers a payload to every subscriber of the resource.
func (l *Local) Publish(resourceID string, payload []byte) {
	l.mu.RLock()
	// Copy the slice to avoid holding the lock during delivery
	subs := make([]*localSubscriber, len(l.subscribers[resourceID]))
	copy(subs, l.subscribers[resourceID])
	l.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(payload)
	}
}

// unsubscribe removes a subscriber and prunes empty resource entries.
func (l *Local) unsubscribe(resourceID string, sub *localSubscriber) {
	l.mu.Lock()
	subs := l.subscribers[resourceID]
	for i, s := range subs {
		if s == sub {
			l.subscribers[resourceID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(l.subscribers[resourceID]) == 0 {
		delete(l.subscribers, resourceID)
	}
	l.mu.Unlock()

	// Close outside the lock so an in-flight deliver cannot deadlock
	sub.close()
}

// SubscriberCount reports the number of open subscriptions for a resource.
func (l *Local) SubscriberCount(resourceID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.subscribers[resourceID])
}

// Close tears down all subscriptions.
func (l *Local) Close() error {
	l.mu.Lock()
	allSubs := make([]*localSubscriber, 0)
	for _, subs := range l.subscribers {
		allSubs = append(allSubs, subs...)
	}
	l.subscribers = make(map[string][]*localSubscriber)
	l.mu.Unlock()

	for _, sub := range allSubs {
		sub.close()
	}

	return nil
}
