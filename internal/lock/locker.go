// Package lock provides the run-lease capability the scheduler consults
// before executing a job. A single process uses the in-memory locker; a
// multi-process deployment swaps in the Redis-backed one without touching
// scheduler code.
package lock

import (
	"context"
	"time"
)

// Lease is a held lock. Release is idempotent.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out exclusive leases by key. Acquire returns ok=false when
// another holder currently owns the key; it does not block.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, bool, error)
}
