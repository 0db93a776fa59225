// Package worker runs jobs of one type. A Worker is a cooperative loop:
// block on the type's notification list, select the most urgent inactive
// job, claim it, run the handler through the middleware chain, and
// settle the outcome with the retry policy. Several workers on the same
// type — in one process or many — compete for jobs through the store's
// atomic blocking pop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/migrs/kue"
	"github.com/migrs/kue/backoff"
	"github.com/migrs/kue/event"
	"github.com/migrs/kue/job"
	"github.com/migrs/kue/middleware"
)

// Handler executes one job. Returning nil settles the job complete;
// returning an error consumes an attempt.
type Handler func(ctx context.Context, j *job.Job) error

// Typed adapts a handler taking a decoded payload of type T.
func Typed[T any](fn func(ctx context.Context, j *job.Job, data T) error) Handler {
	return func(ctx context.Context, j *job.Job) error {
		var data T
		if err := j.UnmarshalData(&data); err != nil {
			return err
		}
		return fn(ctx, j, data)
	}
}

// Gate grants or denies a run slot for a type. The queue's Manager
// implements it for per-type rate and concurrency limits.
type Gate interface {
	Acquire(typ string) bool
	Release(typ string)
}

// Worker is bound to one job type and one handler.
type Worker struct {
	store   job.Store
	typ     string
	handler Handler

	mw      middleware.Middleware
	bo      backoff.Strategy
	gate    Gate
	logger  *slog.Logger
	onError func(error)
	jobOpts []job.Option
}

// Option configures a Worker.
type Option func(*Worker)

// WithMiddleware sets the middleware chain handlers run through.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(w *Worker) { w.mw = middleware.Chain(mws...) }
}

// WithBackoff makes retries re-enter the queue as delayed jobs, due
// after the strategy's delay, instead of immediately inactive.
func WithBackoff(s backoff.Strategy) Option {
	return func(w *Worker) { w.bo = s }
}

// WithGate sets the run-slot gate consulted between claim and run.
func WithGate(g Gate) Option {
	return func(w *Worker) { w.gate = g }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithOnError sets the sink for handler and store errors. The owning
// queue uses it to re-raise worker errors on itself.
func WithOnError(fn func(error)) Option {
	return func(w *Worker) { w.onError = fn }
}

// WithJobOptions sets the options applied to every job the worker loads
// (event emitter, search indexer).
func WithJobOptions(opts ...job.Option) Option {
	return func(w *Worker) { w.jobOpts = opts }
}

// New creates a Worker for the given type and handler.
func New(store job.Store, typ string, handler Handler, opts ...Option) *Worker {
	w := &Worker{
		store:   store,
		typ:     typ,
		handler: handler,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Type returns the job type this worker serves.
func (w *Worker) Type() string { return w.typ }

// Run executes the worker loop until the context is cancelled. It never
// returns on job errors; handler and store failures are reported through
// the error sink and the loop continues.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		// Acquire: block until a sentinel says an inactive job of this
		// type likely exists.
		if err := w.store.Wait(ctx, w.typ); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.report(fmt.Errorf("kue/worker: wait %s: %w", w.typ, err))
			sleepCtx(ctx, time.Second)
			continue
		}

		// Select: lowest priority score wins. Another worker may have
		// taken the job already; a sentinel is only a hint.
		jobID, ok, err := w.store.FirstInactive(ctx, w.typ)
		if err != nil {
			w.report(fmt.Errorf("kue/worker: select %s: %w", w.typ, err))
			continue
		}
		if !ok {
			continue // spurious wakeup
		}

		// Claim.
		j, err := job.Get(ctx, w.store, jobID, w.jobOpts...)
		if err != nil {
			if errors.Is(err, kue.ErrJobNotFound) || errors.Is(err, kue.ErrJobCorrupt) {
				continue // stale index entry, already cleaned up
			}
			w.report(err)
			continue
		}

		if w.gate != nil && !w.gate.Acquire(w.typ) {
			// Over the type's limit; hand the wakeup back and retry.
			if nErr := w.store.Notify(ctx, w.typ); nErr != nil {
				w.report(fmt.Errorf("kue/worker: renotify %s: %w", w.typ, nErr))
			}
			sleepCtx(ctx, 100*time.Millisecond)
			continue
		}
		w.run(ctx, j)
		if w.gate != nil {
			w.gate.Release(w.typ)
		}
	}
}

// run claims the job, invokes the handler, and settles the outcome.
func (w *Worker) run(ctx context.Context, j *job.Job) {
	if err := j.Active(ctx); err != nil {
		w.report(err)
		return
	}
	j.Emit(ctx, event.Start)

	start := time.Now()
	err := w.invoke(ctx, j)
	if err != nil {
		w.settleFailure(ctx, j, err)
		return
	}
	w.settleSuccess(ctx, j, time.Since(start))
}

func (w *Worker) invoke(ctx context.Context, j *job.Job) error {
	terminal := func(ctx context.Context) error {
		return w.handler(ctx, j)
	}
	if w.mw != nil {
		return w.mw(ctx, j, terminal)
	}
	return terminal(ctx)
}

func (w *Worker) settleSuccess(ctx context.Context, j *job.Job, elapsed time.Duration) {
	j.Duration = elapsed
	j.Progress = 100
	if err := w.store.AddWorkTime(ctx, elapsed); err != nil {
		w.report(fmt.Errorf("kue/worker: add work time: %w", err))
	}
	if err := j.Update(ctx); err != nil {
		w.report(err)
		return
	}
	if err := j.Complete(ctx); err != nil {
		w.report(err)
		return
	}
	j.Emit(ctx, event.Complete, elapsed.Milliseconds())
}

func (w *Worker) settleFailure(ctx context.Context, j *job.Job, handlerErr error) {
	// The error surfaces on the worker regardless of how settling goes.
	defer w.report(fmt.Errorf("kue/worker: %s job %s: %w", j.Type, j.ID, handlerErr))

	if err := j.RecordError(ctx, handlerErr); err != nil {
		w.report(err)
	}
	remaining, attempts, _, err := j.Attempt(ctx)
	if err != nil {
		w.report(err)
		return
	}
	if remaining > 0 {
		if err := w.requeue(ctx, j, attempts); err != nil {
			w.report(err)
		}
		return
	}
	if err := j.Failed(ctx); err != nil {
		w.report(err)
		return
	}
	j.Emit(ctx, event.Failed, handlerErr.Error())
}

// requeue puts a retryable job back in play: immediately inactive by
// default, or delayed by the backoff strategy when one is configured.
func (w *Worker) requeue(ctx context.Context, j *job.Job, attempts int) error {
	if w.bo == nil {
		return j.Inactive(ctx)
	}
	// Promotion time is created_at + delay, so fold the job's age into
	// the delay to land due-at = now + backoff.
	age := time.Duration(time.Now().UnixMilli()-j.CreatedAt) * time.Millisecond
	j.Delay = age + w.bo.Delay(attempts)
	if err := j.Update(ctx); err != nil {
		return err
	}
	return j.SetState(ctx, job.StateDelayed)
}

// Salvage re-queues jobs this type left active — abandoned by a dead
// worker process. It runs once per process lifecycle per type, at worker
// start; jobs orphaned later are picked up by the next process's
// salvage.
func (w *Worker) Salvage(ctx context.Context) error {
	ids, err := w.store.ActiveIDs(ctx, w.typ)
	if err != nil {
		return fmt.Errorf("kue/worker: salvage scan %s: %w", w.typ, err)
	}
	for _, jobID := range ids {
		j, getErr := job.Get(ctx, w.store, jobID, w.jobOpts...)
		if getErr != nil {
			continue
		}
		if sErr := j.Inactive(ctx); sErr != nil {
			w.report(sErr)
			continue
		}
		w.logger.Info("salvaged abandoned job",
			slog.String("job_type", w.typ),
			slog.String("job_id", jobID.String()),
		)
	}
	return nil
}

func (w *Worker) report(err error) {
	w.logger.Error("worker error",
		slog.String("job_type", w.typ),
		slog.String("error", err.Error()),
	)
	if w.onError != nil {
		w.onError(err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
