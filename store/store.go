// Package store composes the per-subsystem store interfaces into the
// single contract a backend implements. Backends live in subpackages:
// redis for production, memory for tests and development.
package store

import (
	"context"
	"time"

	"github.com/migrs/kue/event"
	"github.com/migrs/kue/job"
)

// Store is the composite persistence contract. One backend serves job
// records and indices, the event owner mapping and pub/sub transport,
// and the set-if-absent locks used by the cron scheduler.
type Store interface {
	job.Store
	event.Store

	// AcquireLock takes a named lock for at most ttl. Returns false when
	// the lock is already held.
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error)

	// ReleaseLock drops a named lock.
	ReleaseLock(ctx context.Context, name string) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources owned by the store.
	Close(ctx context.Context) error
}
