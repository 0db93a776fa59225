// Package job defines the job record, its state machine, and the store
// interface that persists both.
//
// # Job Record
//
// A [Job] is a unit of work with an opaque JSON payload. It progresses
// through five states:
//
//	inactive → active → complete
//	inactive → active → inactive → ...   (retry)
//	inactive → active → failed           (attempts exhausted)
//	delayed  → inactive                  (promotion)
//
// Fields of note:
//   - Priority: signed sort key, lower is served first. Named levels via
//     [PriorityCritical] ... [PriorityLow].
//   - Delay: time from creation until the job is eligible; a positive
//     delay places the job in the delayed state until promoted.
//   - Attempts / MaxAttempts: the dispatch retry budget.
//
// # Persistence
//
// The record is a field map keyed by id; every state lives in sorted-set
// indices keyed by priority (a global set, one per state, one per
// (type, state) pair). [Job.SetState] is the single transition
// primitive: it de-indexes the id, persists the new state, re-indexes
// under the current priority, and — for inactive — pushes a wakeup
// sentinel onto the type's notification list.
//
// The index shuffle is a sequence of single-key store commands, so a
// concurrent reader can briefly observe the id in no index at all.
// Exclusive placement holds eventually, which is all downstream code
// relies on.
//
// # Building a Job
//
//	j := job.New(store, "email", payload,
//		job.WithEvents(bus),
//	).SetPriority(job.PriorityHigh).SetMaxAttempts(3)
//	err := j.Save(ctx)
package job
