package job

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/migrs/kue"
	"github.com/migrs/kue/event"
	"github.com/migrs/kue/id"
	"github.com/migrs/kue/search"
)

// State is the lifecycle state of a job.
type State string

const (
	// StateInactive means the job is queued, awaiting a worker.
	StateInactive State = "inactive"
	// StateActive means a worker has claimed the job and is running it.
	StateActive State = "active"
	// StateComplete means the job finished successfully.
	StateComplete State = "complete"
	// StateFailed means the job failed and its attempts are exhausted.
	StateFailed State = "failed"
	// StateDelayed means the job is not yet eligible; the promoter moves
	// it to inactive once created_at + delay has passed.
	StateDelayed State = "delayed"
)

// States lists every valid state.
var States = []State{StateInactive, StateActive, StateComplete, StateFailed, StateDelayed}

// Valid reports whether s is one of the five job states.
func (s State) Valid() bool {
	switch s {
	case StateInactive, StateActive, StateComplete, StateFailed, StateDelayed:
		return true
	}
	return false
}

// Job is the in-memory job record. Mutations that touch the store take a
// context and return an error; builder-style setters only touch memory
// and must be followed by Save or Update.
type Job struct {
	ID          id.JobID
	Type        string
	Data        any
	Priority    Priority
	State       State
	Delay       time.Duration
	Attempts    int
	MaxAttempts int
	Progress    int
	Err         string // most recent failure message; empty if never failed
	CreatedAt   int64  // epoch ms
	UpdatedAt   int64  // epoch ms
	FailedAt    int64  // epoch ms
	Duration    time.Duration

	raw     json.RawMessage
	store   Store
	events  Emitter
	indexer search.Indexer
}

// Option configures a Job at construction time.
type Option func(*Job)

// WithEvents attaches the cross-process event emitter.
func WithEvents(e Emitter) Option {
	return func(j *Job) { j.events = e }
}

// WithIndexer attaches the search indexer hook.
func WithIndexer(ix search.Indexer) Option {
	return func(j *Job) { j.indexer = ix }
}

// New constructs an unsaved job with priority normal and state inactive.
func New(store Store, typ string, data any, opts ...Option) *Job {
	j := &Job{
		Type:        typ,
		Data:        data,
		Priority:    PriorityNormal,
		State:       StateInactive,
		MaxAttempts: 1,
		store:       store,
		indexer:     search.Noop{},
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// SetPriority sets the dispatch priority.
func (j *Job) SetPriority(p Priority) *Job {
	j.Priority = p
	return j
}

// SetDelay sets the eligibility delay. A positive delay forces the job
// into the delayed state; the promoter makes it inactive once due.
func (j *Job) SetDelay(d time.Duration) *Job {
	j.Delay = d
	if d > 0 {
		j.State = StateDelayed
	}
	return j
}

// SetMaxAttempts sets the dispatch attempt budget.
func (j *Job) SetMaxAttempts(n int) *Job {
	if n > 0 {
		j.MaxAttempts = n
	}
	return j
}

// UnmarshalData decodes the persisted JSON payload into v.
func (j *Job) UnmarshalData(v any) error {
	if len(j.raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(j.raw, v); err != nil {
		return fmt.Errorf("%w: %v", kue.ErrDecode, err)
	}
	return nil
}

// Save persists the job. The first save allocates an id, registers the
// type, writes the record, places it in the indices under its initial
// state, maps the id to this process's event channel, and announces the
// job with an enqueue event. Later saves are plain updates.
func (j *Job) Save(ctx context.Context) error {
	if j.Type == "" {
		return kue.ErrEmptyType
	}
	if j.ID.Valid() {
		return j.Update(ctx)
	}

	jobID, err := j.store.NextID(ctx)
	if err != nil {
		return fmt.Errorf("kue/job: allocate id: %w", err)
	}
	j.ID = jobID
	now := time.Now().UnixMilli()
	j.CreatedAt = now
	j.UpdatedAt = now
	if j.Delay > 0 {
		j.State = StateDelayed
	}

	if err := j.store.RegisterType(ctx, j.Type); err != nil {
		return fmt.Errorf("kue/job: register type: %w", err)
	}
	if err := j.Update(ctx); err != nil {
		return err
	}
	if j.events != nil {
		if err := j.events.Add(ctx, j.ID); err != nil {
			return fmt.Errorf("kue/job: subscribe events: %w", err)
		}
		j.emit(ctx, event.Enqueue)
	}
	return nil
}

// Update serializes the payload, persists the scalar fields, reapplies
// the current state (re-indexing under the current priority), and hands
// the payload JSON to the search indexer.
func (j *Job) Update(ctx context.Context) error {
	raw, err := json.Marshal(j.Data)
	if err != nil {
		return fmt.Errorf("%w: %v", kue.ErrDecode, err)
	}
	j.raw = raw
	j.UpdatedAt = time.Now().UnixMilli()

	if err := j.store.SaveJob(ctx, j.ID, j.fields()); err != nil {
		return fmt.Errorf("kue/job: save record: %w", err)
	}
	if err := j.SetState(ctx, j.State); err != nil {
		return err
	}
	if err := j.indexer.Index(ctx, j.ID, raw); err != nil {
		return fmt.Errorf("kue/job: index payload: %w", err)
	}
	return nil
}

// SetState is the single transition primitive. It removes the id from
// the current indices, persists the new state, re-inserts the id keyed
// by the current priority, and — when the job becomes inactive — pushes
// a sentinel to wake one waiting worker.
func (j *Job) SetState(ctx context.Context, s State) error {
	if !s.Valid() {
		return fmt.Errorf("%w: %q", kue.ErrInvalidState, s)
	}
	if err := j.store.Deindex(ctx, j.ID, j.Type, j.State); err != nil {
		return fmt.Errorf("kue/job: deindex: %w", err)
	}
	j.State = s
	now := time.Now().UnixMilli()
	if err := j.store.SetJobState(ctx, j.ID, s, now); err != nil {
		return fmt.Errorf("kue/job: persist state: %w", err)
	}
	if err := j.store.Index(ctx, j.ID, j.Type, s, j.Priority); err != nil {
		return fmt.Errorf("kue/job: index: %w", err)
	}
	if s == StateInactive {
		if err := j.store.Notify(ctx, j.Type); err != nil {
			return fmt.Errorf("kue/job: notify: %w", err)
		}
	}
	j.UpdatedAt = now
	return nil
}

// Complete transitions the job to complete.
func (j *Job) Complete(ctx context.Context) error { return j.SetState(ctx, StateComplete) }

// Failed transitions the job to failed.
func (j *Job) Failed(ctx context.Context) error { return j.SetState(ctx, StateFailed) }

// Inactive transitions the job to inactive, re-queueing it.
func (j *Job) Inactive(ctx context.Context) error { return j.SetState(ctx, StateInactive) }

// Active transitions the job to active.
func (j *Job) Active(ctx context.Context) error { return j.SetState(ctx, StateActive) }

// SetProgress recomputes progress as min(100, done/total·100), persists
// it, and emits a progress event carrying the new percentage.
func (j *Job) SetProgress(ctx context.Context, done, total int) error {
	pct := 100
	if total > 0 {
		pct = done * 100 / total
		if pct > 100 {
			pct = 100
		}
	}
	j.Progress = pct
	if err := j.Update(ctx); err != nil {
		return err
	}
	j.emit(ctx, event.Progress, pct)
	return nil
}

// Log formats the message, appends it to the job's log list, and bumps
// updated_at.
func (j *Job) Log(ctx context.Context, format string, args ...any) error {
	line := fmt.Sprintf(format, args...)
	if err := j.store.AppendLog(ctx, j.ID, line); err != nil {
		return fmt.Errorf("kue/job: append log: %w", err)
	}
	now := time.Now().UnixMilli()
	j.UpdatedAt = now
	if err := j.store.SetJobState(ctx, j.ID, j.State, now); err != nil {
		return fmt.Errorf("kue/job: touch record: %w", err)
	}
	return nil
}

// RecordError stores the error text on the record, logs its first line,
// and stamps failed_at.
func (j *Job) RecordError(ctx context.Context, cause error) error {
	msg := cause.Error()
	j.Err = msg
	j.FailedAt = time.Now().UnixMilli()
	if line, _, found := strings.Cut(msg, "\n"); found {
		msg = line
	}
	if err := j.Log(ctx, "%s", msg); err != nil {
		return err
	}
	return j.Update(ctx)
}

// Attempt atomically consumes one dispatch attempt and returns how many
// remain alongside the updated counters.
func (j *Job) Attempt(ctx context.Context) (remaining, attempts, max int, err error) {
	attempts, max, err = j.store.IncrAttempts(ctx, j.ID)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("kue/job: attempt: %w", err)
	}
	j.Attempts = attempts
	j.MaxAttempts = max
	remaining = max - attempts
	if remaining < 0 {
		remaining = 0
	}
	return remaining, attempts, max, nil
}

// Remove deletes the job: indices, log, search entry, record, and event
// mapping. A remove event is emitted before the mapping is dropped.
// Cleanup failures are best-effort; only the record delete propagates.
func (j *Job) Remove(ctx context.Context) error {
	_ = j.store.Deindex(ctx, j.ID, j.Type, j.State)
	_ = j.store.DeleteLog(ctx, j.ID)
	_ = j.indexer.Remove(ctx, j.ID)
	if err := j.store.DeleteJob(ctx, j.ID); err != nil {
		return fmt.Errorf("kue/job: delete record: %w", err)
	}
	if j.events != nil {
		j.emit(ctx, event.Remove)
		_ = j.events.Remove(ctx, j.ID)
	}
	return nil
}

func (j *Job) emit(ctx context.Context, name string, args ...any) {
	if j.events == nil {
		return
	}
	// Event delivery is best-effort; a dead producer must not fail the
	// transition that triggered the event.
	_ = j.events.Emit(ctx, j.ID, name, args...)
}

// Emit publishes an arbitrary event for this job through its emitter.
func (j *Job) Emit(ctx context.Context, name string, args ...any) {
	j.emit(ctx, name, args...)
}

// ── record encoding ──

func (j *Job) fields() map[string]string {
	f := map[string]string{
		"type":         j.Type,
		"data":         string(j.raw),
		"priority":     strconv.Itoa(int(j.Priority)),
		"state":        string(j.State),
		"attempts":     strconv.Itoa(j.Attempts),
		"max_attempts": strconv.Itoa(j.MaxAttempts),
		"progress":     strconv.Itoa(j.Progress),
		"error":        j.Err,
		"created_at":   strconv.FormatInt(j.CreatedAt, 10),
		"updated_at":   strconv.FormatInt(j.UpdatedAt, 10),
	}
	if j.Delay > 0 {
		f["delay"] = strconv.FormatInt(j.Delay.Milliseconds(), 10)
	}
	if j.FailedAt > 0 {
		f["failed_at"] = strconv.FormatInt(j.FailedAt, 10)
	}
	if j.Duration > 0 {
		f["duration"] = strconv.FormatInt(j.Duration.Milliseconds(), 10)
	}
	return f
}

// Get loads a job by id. A missing record evicts the id from the state
// sets and returns ErrJobNotFound; a record without a type is purged and
// removed and returns ErrJobCorrupt.
func Get(ctx context.Context, store Store, jobID id.JobID, opts ...Option) (*Job, error) {
	fields, err := store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("kue/job: get record: %w", err)
	}
	if len(fields) == 0 {
		// The indices are the inconsistent party; evict the id.
		_ = store.PurgeFromStates(ctx, jobID)
		return nil, fmt.Errorf("%w: %s", kue.ErrJobNotFound, jobID)
	}
	if fields["type"] == "" {
		_ = store.PurgeFromStates(ctx, jobID)
		stale := New(store, fields["type"], nil, opts...)
		stale.ID = jobID
		stale.State = State(fields["state"])
		_ = stale.Remove(ctx)
		return nil, fmt.Errorf("%w: %s", kue.ErrJobCorrupt, jobID)
	}

	j := New(store, fields["type"], nil, opts...)
	j.ID = jobID
	p, _ := strconv.Atoi(fields["priority"])
	j.Priority = Priority(p)
	j.State = State(fields["state"])
	if !j.State.Valid() {
		j.State = StateInactive
	}
	j.Attempts, _ = strconv.Atoi(fields["attempts"])
	j.MaxAttempts, _ = strconv.Atoi(fields["max_attempts"])
	if j.MaxAttempts == 0 {
		j.MaxAttempts = 1
	}
	j.Progress, _ = strconv.Atoi(fields["progress"])
	j.Err = fields["error"]
	j.CreatedAt, _ = strconv.ParseInt(fields["created_at"], 10, 64)
	j.UpdatedAt, _ = strconv.ParseInt(fields["updated_at"], 10, 64)
	j.FailedAt, _ = strconv.ParseInt(fields["failed_at"], 10, 64)
	if ms, convErr := strconv.ParseInt(fields["delay"], 10, 64); convErr == nil {
		j.Delay = time.Duration(ms) * time.Millisecond
	}
	if ms, convErr := strconv.ParseInt(fields["duration"], 10, 64); convErr == nil {
		j.Duration = time.Duration(ms) * time.Millisecond
	}
	if raw := fields["data"]; raw != "" {
		j.raw = json.RawMessage(raw)
		if err := json.Unmarshal(j.raw, &j.Data); err != nil {
			return nil, fmt.Errorf("%w: %v", kue.ErrDecode, err)
		}
	}
	return j, nil
}
