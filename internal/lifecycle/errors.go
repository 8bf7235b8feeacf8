package lifecycle

import "errors"

// ErrScopeCollision is returned by Add when a key is already registered under a
// different scope and the registry is configured to reject collisions instead
// of transferring ownership.
var ErrScopeCollision = errors.New("key already registered under a different scope")

// ErrSourceSubscribe is returned by Add when the source factory fails to open
// the subscription. The factory's own error is wrapped alongside it.
var ErrSourceSubscribe = errors.New("failed to open source subscription")
