package job

import (
	"context"
	"time"

	"github.com/migrs/kue/id"
)

// DelayedEntry is one row of a delayed-set scan: the id plus the two
// stored attributes that decide when the job is due.
type DelayedEntry struct {
	ID        id.JobID
	Delay     time.Duration
	CreatedAt int64 // epoch ms
}

// Store defines the persistence contract for jobs. All mutations are
// single-key primitive commands; the package relies on the store's
// per-command atomicity and nothing more.
type Store interface {
	// NextID allocates the next job id from the monotonic counter.
	NextID(ctx context.Context) (id.JobID, error)

	// SaveJob writes the record's field map.
	SaveJob(ctx context.Context, jobID id.JobID, fields map[string]string) error

	// GetJob reads the record's field map. A missing record yields an
	// empty map and no error; interpreting that is the caller's job.
	GetJob(ctx context.Context, jobID id.JobID) (map[string]string, error)

	// SetJobState persists the state and updated_at fields.
	SetJobState(ctx context.Context, jobID id.JobID, s State, updatedAt int64) error

	// DeleteJob removes the record.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// Index inserts the id into the global, per-state, and
	// per-(type,state) sorted sets, scored by priority.
	Index(ctx context.Context, jobID id.JobID, typ string, s State, p Priority) error

	// Deindex removes the id from the global, per-state, and
	// per-(type,state) sorted sets.
	Deindex(ctx context.Context, jobID id.JobID, typ string, s State) error

	// PurgeFromStates evicts the id from every per-state set (and the
	// global set). Used when indices reference a missing record.
	PurgeFromStates(ctx context.Context, jobID id.JobID) error

	// Notify pushes one wakeup sentinel onto the type's notification
	// list, waking exactly one blocked Wait.
	Notify(ctx context.Context, typ string) error

	// Wait blocks until a sentinel for the type is consumed or the
	// context is done. A consumed sentinel only means an inactive job of
	// the type likely exists.
	Wait(ctx context.Context, typ string) error

	// FirstInactive returns the lowest-scored id in the type's inactive
	// set, if any.
	FirstInactive(ctx context.Context, typ string) (id.JobID, bool, error)

	// ActiveIDs lists the type's active set, for salvage.
	ActiveIDs(ctx context.Context, typ string) ([]id.JobID, error)

	// IncrAttempts atomically defaults max_attempts to 1 if absent,
	// increments attempts, and returns both counters.
	IncrAttempts(ctx context.Context, jobID id.JobID) (attempts, max int, err error)

	// DelayedBatch reads up to limit delayed entries ordered by the
	// stored delay attribute, ascending.
	DelayedBatch(ctx context.Context, limit int) ([]DelayedEntry, error)

	// RegisterType records the type name in the known-types set.
	RegisterType(ctx context.Context, typ string) error

	// Types lists the known type names.
	Types(ctx context.Context) ([]string, error)

	// StateIDs lists the ids in one state, ordered by priority.
	StateIDs(ctx context.Context, s State) ([]id.JobID, error)

	// Card returns the number of ids in one state.
	Card(ctx context.Context, s State) (int64, error)

	// AppendLog appends one line to the job's log list.
	AppendLog(ctx context.Context, jobID id.JobID, line string) error

	// Log reads the job's log list.
	Log(ctx context.Context, jobID id.JobID) ([]string, error)

	// DeleteLog removes the job's log list.
	DeleteLog(ctx context.Context, jobID id.JobID) error

	// AddWorkTime adds a completed run's duration to the cumulative
	// worker-time counter.
	AddWorkTime(ctx context.Context, d time.Duration) error

	// WorkTime reads the cumulative worker-time counter.
	WorkTime(ctx context.Context) (time.Duration, error)

	// Setting reads one named settings entry; missing entries yield "".
	Setting(ctx context.Context, name string) (string, error)
}

// Emitter publishes job lifecycle events across processes. The event
// package's Bus satisfies it.
type Emitter interface {
	// Add maps the job id to this process's subscription channel.
	Add(ctx context.Context, jobID id.JobID) error

	// Remove deletes the job's channel mapping.
	Remove(ctx context.Context, jobID id.JobID) error

	// Emit publishes an event to the job's owning process.
	Emit(ctx context.Context, jobID id.JobID, event string, args ...any) error
}
