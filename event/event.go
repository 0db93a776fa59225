// Package event carries job lifecycle events across processes. A
// process-wide table in the shared store maps each job id to the channel
// of the process that owns it; emitting publishes a small message on the
// owner's channel, and the owning process's Bus dispatches it to local
// listeners.
package event

import (
	"github.com/migrs/kue/id"
)

// Lifecycle event names raised by the core.
const (
	Enqueue   = "enqueue"
	Start     = "start"
	Promotion = "promotion"
	Progress  = "progress"
	Complete  = "complete"
	Failed    = "failed"
	Remove    = "remove"

	// Error is raised locally on workers and queues for handler and
	// store errors; it does not travel over the bus.
	Error = "error"
)

// Message is the wire form of one event: the job it concerns, the event
// name, and any event-specific arguments.
type Message struct {
	ID    id.JobID `json:"id" msgpack:"id"`
	Event string   `json:"event" msgpack:"event"`
	Args  []any    `json:"args,omitempty" msgpack:"args,omitempty"`
}
