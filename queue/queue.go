// Package queue is the kue facade: it wires a store, the event bus, the
// workers, the promoter, and the cron scheduler into one handle.
//
// Most processes want exactly one queue; Create returns the
// process-wide singleton. New builds independent instances for tests
// and for the rare process talking to two stores.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/migrs/kue"
	"github.com/migrs/kue/cron"
	"github.com/migrs/kue/event"
	"github.com/migrs/kue/id"
	"github.com/migrs/kue/job"
	"github.com/migrs/kue/promote"
	"github.com/migrs/kue/search"
	"github.com/migrs/kue/store"
	"github.com/migrs/kue/worker"
)

// Compile-time wiring checks.
var (
	_ job.Emitter = (*event.Bus)(nil)
	_ worker.Gate = (*Manager)(nil)
	_ cron.Locker = (store.Store)(nil)
)

// Queue aggregates the moving parts around one store.
type Queue struct {
	cfg     kue.Config
	store   store.Store
	bus     *event.Bus
	logger  *slog.Logger
	indexer search.Indexer
	manager *Manager

	rootCtx context.Context
	cancel  context.CancelFunc

	busOpts []event.Option

	mu         sync.Mutex
	salvaged   map[string]bool
	promoter   *promote.Promoter
	sched      *cron.Scheduler
	onError    []func(error)
	subscribed bool

	wg sync.WaitGroup
}

// Option configures a Queue.
type Option func(*Queue)

// WithConfig sets the queue configuration.
func WithConfig(cfg kue.Config) Option {
	return func(q *Queue) { q.cfg = cfg }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithIndexer sets the search indexer handed every saved payload.
func WithIndexer(ix search.Indexer) Option {
	return func(q *Queue) { q.indexer = ix }
}

// WithManager sets per-type rate and concurrency limits for workers
// spawned by this queue.
func WithManager(m *Manager) Option {
	return func(q *Queue) { q.manager = m }
}

// WithBusOptions passes options (codec, channel name) to the event bus.
func WithBusOptions(opts ...event.Option) Option {
	return func(q *Queue) { q.busOpts = opts }
}

var (
	singletonMu sync.Mutex
	singleton   *Queue
)

// Create returns the process-wide queue, building it on first call.
// Later calls ignore their arguments and return the same instance.
func Create(s store.Store, opts ...Option) *Queue {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton == nil {
		singleton = New(s, opts...)
	}
	return singleton
}

// New builds an independent queue over the given store.
func New(s store.Store, opts ...Option) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:      kue.DefaultConfig(),
		store:    s,
		logger:   slog.Default(),
		indexer:  search.Noop{},
		rootCtx:  ctx,
		cancel:   cancel,
		salvaged: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.bus = event.NewBus(s, append([]event.Option{event.WithLogger(q.logger)}, q.busOpts...)...)
	return q
}

// CreateJob constructs an unsaved job bound to this queue's store,
// event bus, and indexer.
func (q *Queue) CreateJob(typ string, data any) *job.Job {
	return job.New(q.store, typ, data, q.jobOpts()...)
}

// GetJob loads a job by id with this queue's wiring attached.
func (q *Queue) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return job.Get(ctx, q.store, jobID, q.jobOpts()...)
}

func (q *Queue) jobOpts() []job.Option {
	return []job.Option{job.WithEvents(q.bus), job.WithIndexer(q.indexer)}
}

// Process spawns n workers (min 1) on the given type, after a one-shot
// salvage pass for the type. Worker errors are re-raised on the queue.
func (q *Queue) Process(typ string, n int, h worker.Handler, opts ...worker.Option) {
	if n < 1 {
		n = 1
	}
	base := []worker.Option{
		worker.WithLogger(q.logger),
		worker.WithOnError(q.raise),
		worker.WithJobOptions(q.jobOpts()...),
	}
	if q.manager != nil {
		base = append(base, worker.WithGate(q.manager))
	}
	base = append(base, opts...)

	q.mu.Lock()
	needSalvage := !q.salvaged[typ]
	q.salvaged[typ] = true
	q.mu.Unlock()

	for i := 0; i < n; i++ {
		w := worker.New(q.store, typ, h, base...)
		if needSalvage {
			needSalvage = false
			if err := w.Salvage(q.rootCtx); err != nil {
				q.raise(err)
			}
		}
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			w.Run(q.rootCtx)
		}()
	}
}

// Promote starts the delayed-job promoter. A non-positive interval uses
// the configured default. Starting twice is a no-op.
func (q *Queue) Promote(interval time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.promoter != nil {
		return
	}
	if interval <= 0 {
		interval = q.cfg.PromoteInterval
	}
	q.promoter = promote.New(q.store,
		promote.WithInterval(interval),
		promote.WithLimit(q.cfg.PromoteLimit),
		promote.WithLogger(q.logger),
		promote.WithJobOptions(q.jobOpts()...),
	)
	q.promoter.Start(q.rootCtx)
}

// Cron returns the queue's recurring-job scheduler, starting it on
// first use.
func (q *Queue) Cron(opts ...cron.Option) *cron.Scheduler {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.sched == nil {
		opts = append(opts, cron.WithLogger(q.logger))
		q.sched = cron.NewScheduler(q.CreateJob, q.store, opts...)
		q.sched.Start(q.rootCtx)
	}
	return q.sched
}

// OnError registers a sink for worker and store errors.
func (q *Queue) OnError(fn func(error)) {
	q.mu.Lock()
	q.onError = append(q.onError, fn)
	q.mu.Unlock()
}

func (q *Queue) raise(err error) {
	q.mu.Lock()
	sinks := make([]func(error), len(q.onError))
	copy(sinks, q.onError)
	q.mu.Unlock()
	for _, fn := range sinks {
		fn(err)
	}
}

// OnJobEvent delivers every job event owned by this process to fn. The
// store channel subscription starts lazily on the first listener.
func (q *Queue) OnJobEvent(fn func(event.Message)) error {
	if err := q.subscribe(); err != nil {
		return err
	}
	q.bus.ListenAll(fn)
	return nil
}

// WatchJob delivers one job's events to fn.
func (q *Queue) WatchJob(jobID id.JobID, fn func(event.Message)) error {
	if err := q.subscribe(); err != nil {
		return err
	}
	q.bus.Listen(jobID, fn)
	return nil
}

func (q *Queue) subscribe() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.subscribed {
		return nil
	}
	if err := q.bus.Subscribe(q.rootCtx); err != nil {
		return err
	}
	q.subscribed = true
	return nil
}

// ── queries ──

// Types lists the known job types.
func (q *Queue) Types(ctx context.Context) ([]string, error) {
	return q.store.Types(ctx)
}

// State lists the ids in one state, ordered by priority.
func (q *Queue) State(ctx context.Context, s job.State) ([]id.JobID, error) {
	return q.store.StateIDs(ctx, s)
}

// Card returns the number of jobs in one state.
func (q *Queue) Card(ctx context.Context, s job.State) (int64, error) {
	return q.store.Card(ctx, s)
}

// InactiveCount returns the number of queued jobs.
func (q *Queue) InactiveCount(ctx context.Context) (int64, error) {
	return q.Card(ctx, job.StateInactive)
}

// ActiveCount returns the number of running jobs.
func (q *Queue) ActiveCount(ctx context.Context) (int64, error) {
	return q.Card(ctx, job.StateActive)
}

// CompleteCount returns the number of finished jobs.
func (q *Queue) CompleteCount(ctx context.Context) (int64, error) {
	return q.Card(ctx, job.StateComplete)
}

// FailedCount returns the number of terminally failed jobs.
func (q *Queue) FailedCount(ctx context.Context) (int64, error) {
	return q.Card(ctx, job.StateFailed)
}

// DelayedCount returns the number of not-yet-eligible jobs.
func (q *Queue) DelayedCount(ctx context.Context) (int64, error) {
	return q.Card(ctx, job.StateDelayed)
}

// WorkTime returns cumulative wall-clock time spent by workers.
func (q *Queue) WorkTime(ctx context.Context) (time.Duration, error) {
	return q.store.WorkTime(ctx)
}

// Setting reads a named settings entry.
func (q *Queue) Setting(ctx context.Context, name string) (string, error) {
	return q.store.Setting(ctx, name)
}

// Shutdown stops the promoter and scheduler, cancels the workers, waits
// for in-flight handlers up to the context deadline, and closes the
// event bus.
func (q *Queue) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && q.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.ShutdownTimeout)
		defer cancel()
	}

	q.mu.Lock()
	promoter := q.promoter
	sched := q.sched
	q.mu.Unlock()

	if promoter != nil {
		promoter.Stop(ctx)
	}
	if sched != nil {
		sched.Stop(ctx)
	}
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	var waitErr error
	select {
	case <-done:
	case <-ctx.Done():
		waitErr = fmt.Errorf("kue/queue: shutdown: %w", ctx.Err())
	}

	if err := q.bus.Close(ctx); err != nil && waitErr == nil {
		waitErr = err
	}

	singletonMu.Lock()
	if singleton == q {
		singleton = nil
	}
	singletonMu.Unlock()

	return waitErr
}
