// Package kue provides a persistent, priority-aware job queue backed by a
// key/value + sorted-set store (Redis in production, an in-memory store for
// tests). Producers create jobs, workers on any number of hosts claim them
// by priority, and per-job lifecycle events flow back to the producer over
// the store's pub/sub channel.
//
// Kue is a library, not a service. Wire a store, grab the queue facade,
// and register handlers as ordinary Go functions:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	q := queue.Create(redisstore.New(client))
//
//	j := q.CreateJob("email", map[string]any{"to": "a@example.com"}).
//		SetPriority(job.PriorityHigh)
//	if err := j.Save(ctx); err != nil { ... }
//
//	q.Process("email", 4, func(ctx context.Context, j *job.Job) error {
//		return mailer.Send(ctx, j)
//	})
//	q.Promote(0) // delayed → inactive sweeps at the default interval
//
// # Architecture
//
// Each subsystem defines the store surface it needs (job.Store,
// event.Store); a single backend implements all of them plus locks,
// composed by store.Store. Delivery is at-least-once: a worker claims a
// job via an atomic blocking pop on the per-type notification list, runs
// the handler, and settles the job as complete or failed with retries.
// A promoter task moves due delayed jobs back into the inactive index,
// and a one-shot salvage pass at worker start re-queues jobs abandoned
// by dead processes.
package kue
