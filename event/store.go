package event

import (
	"context"

	"github.com/migrs/kue/id"
)

// Store is the persistence and transport surface the bus needs: the
// job-to-owner mapping plus a pub/sub channel per process. Subscribe
// requires a dedicated connection in store implementations; everything
// else is request/reply.
type Store interface {
	// SetOwner maps a job id to the owning process's channel.
	SetOwner(ctx context.Context, jobID id.JobID, channel string) error

	// Owner returns the channel owning a job id, or "" if unmapped.
	Owner(ctx context.Context, jobID id.JobID) (string, error)

	// RemoveOwner deletes a job id's mapping.
	RemoveOwner(ctx context.Context, jobID id.JobID) error

	// Publish sends a payload on the named channel. Delivery is
	// best-effort: no subscriber, no message.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe starts listening on the named channel. The returned stop
	// function tears the subscription down and closes the channel.
	Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error)
}
