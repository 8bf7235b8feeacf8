package lifecycle

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mesa-pos/livesync/internal/source"
)

// Scope identifies the lifetime-bound owner of a set of subscriptions,
// typically one mounted screen instance.
type Scope string

// Key identifies one logical resource subscription. Uniqueness is scoped to
// the current tenant generation.
type Key string

// SourceFactory opens a subscription against the push-data source and returns
// its teardown function. It receives the tenant generation the new handle will
// be stamped with, so data callbacks can discard themselves once that
// generation is superseded. The factory runs while the registry lock is held
// and must not call back into the registry.
type SourceFactory func(generation uint64) (source.Teardown, error)

// Handle wraps one active subscription to one resource. Handles are owned
// exclusively by the registry; callers hold them only for introspection.
type Handle struct {
	ID         string
	Scope      Scope
	Key        Key
	Generation uint64
	CreatedAt  time.Time

	teardown source.Teardown
	once     sync.Once
}

func newHandle(scope Scope, key Key, generation uint64, teardown source.Teardown) *Handle {
	return &Handle{
		ID:         uuid.NewString(),
		Scope:      scope,
		Key:        key,
		Generation: generation,
		CreatedAt:  time.Now(),
		teardown:   teardown,
	}
}

// Teardown closes the underlying subscription. It is idempotent: every call
// after the first is a no-op. External teardown is best-effort cleanup, so a
// panicking teardown is recovered and logged, never propagated.
func (h *Handle) Teardown() {
	h.once.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Str("handle_id", h.ID).
					Str("scope", string(h.Scope)).
					Str("key", string(h.Key)).
					Interface("panic", r).
					Msg("Subscription teardown panicked")
			}
		}()
		h.teardown()
	})
}
