// Package search names the hook kue uses to hand job payloads to an
// external full-text indexer. The indexer's contract is opaque to the
// core: on every job update the serialized JSON payload is indexed under
// the job id, and on remove the id's document is dropped.
package search

import (
	"context"

	"github.com/migrs/kue/id"
)

// Indexer receives job payload documents keyed by job id.
type Indexer interface {
	// Index stores (or replaces) the document for the given job id.
	Index(ctx context.Context, jobID id.JobID, doc []byte) error

	// Remove drops the document for the given job id.
	Remove(ctx context.Context, jobID id.JobID) error
}

// Noop is an Indexer that discards everything. It is the default when no
// indexer is configured.
type Noop struct{}

func (Noop) Index(context.Context, id.JobID, []byte) error { return nil }

func (Noop) Remove(context.Context, id.JobID) error { return nil }
