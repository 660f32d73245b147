// Package locking provides the keyed mutual exclusion used to serialize
// bookings of one slot. Unrelated keys never contend.
package locking

import (
	"context"
	"errors"
	"time"
)

// ErrNotAcquired is returned when the key stayed held for the whole wait.
var ErrNotAcquired = errors.New("lock not acquired within wait")

// Release gives the key back. Calling it more than once is harmless.
type Release func(ctx context.Context) error

type Locker interface {
	// Acquire blocks until key is held, wait elapses or ctx ends.
	Acquire(ctx context.Context, key string, wait time.Duration) (Release, error)
}
