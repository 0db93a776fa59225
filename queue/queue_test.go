package queue_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/migrs/kue/cron"
	"github.com/migrs/kue/event"
	"github.com/migrs/kue/job"
	"github.com/migrs/kue/middleware"
	"github.com/migrs/kue/queue"
	"github.com/migrs/kue/store/memory"
	"github.com/migrs/kue/worker"
)

func newQueue(t *testing.T, s *memory.Store, opts ...queue.Option) *queue.Queue {
	t.Helper()
	q := queue.New(s, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := q.Shutdown(ctx); err != nil {
			t.Logf("shutdown: %v", err)
		}
	})
	return q
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for condition")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestQueue_EndToEnd(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	q := newQueue(t, s)

	j := q.CreateJob("email", map[string]any{"to": "a"}).SetPriority(job.PriorityHigh)
	if err := j.Save(ctx); err != nil {
		t.Fatalf("save error: %v", err)
	}
	if n, _ := q.InactiveCount(ctx); n != 1 {
		t.Errorf("inactive = %d, want 1", n)
	}

	q.Process("email", 2, func(_ context.Context, _ *job.Job) error {
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	waitFor(t, func() bool {
		n, _ := q.CompleteCount(ctx)
		return n == 1
	})

	wt, err := q.WorkTime(ctx)
	if err != nil {
		t.Fatalf("work time error: %v", err)
	}
	if wt <= 0 {
		t.Errorf("work time = %v, want > 0", wt)
	}
	types, err := q.Types(ctx)
	if err != nil {
		t.Fatalf("types error: %v", err)
	}
	if len(types) != 1 || types[0] != "email" {
		t.Errorf("types = %v, want [email]", types)
	}
}

func TestQueue_Singleton(t *testing.T) {
	s := memory.New()
	q1 := queue.Create(s)
	q2 := queue.Create(memory.New()) // arguments ignored on later calls
	if q1 != q2 {
		t.Error("Create should return the process-wide queue")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := q1.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
	// Shutdown releases the singleton slot for the next Create.
	q3 := queue.Create(s)
	if q3 == q1 {
		t.Error("expected a fresh queue after shutdown")
	}
	if err := q3.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestQueue_WatchJob(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	q := newQueue(t, s)

	j := q.CreateJob("email", nil)
	if err := j.Save(ctx); err != nil {
		t.Fatalf("save error: %v", err)
	}

	var mu sync.Mutex
	var events []string
	if err := q.WatchJob(j.ID, func(m event.Message) {
		mu.Lock()
		events = append(events, m.Event)
		mu.Unlock()
	}); err != nil {
		t.Fatalf("watch error: %v", err)
	}

	q.Process("email", 1, func(_ context.Context, _ *job.Job) error { return nil })

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, e := range events {
			if e == event.Complete {
				return true
			}
		}
		return false
	})

	mu.Lock()
	defer mu.Unlock()
	var sawStart bool
	for _, e := range events {
		if e == event.Start {
			sawStart = true
		}
	}
	if !sawStart {
		t.Errorf("events = %v, want a start before complete", events)
	}
}

func TestQueue_OnError(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	q := newQueue(t, s)

	var mu sync.Mutex
	var raised []error
	q.OnError(func(err error) {
		mu.Lock()
		raised = append(raised, err)
		mu.Unlock()
	})

	j := q.CreateJob("email", nil)
	if err := j.Save(ctx); err != nil {
		t.Fatalf("save error: %v", err)
	}
	q.Process("email", 1, func(_ context.Context, _ *job.Job) error {
		return errors.New("handler broke")
	})

	waitFor(t, func() bool {
		n, _ := q.FailedCount(ctx)
		return n == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if len(raised) == 0 {
		t.Error("expected the handler error re-raised on the queue")
	}
}

func TestQueue_SalvageOnProcess(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	q := newQueue(t, s)

	// Simulate a job orphaned by a previous process.
	j := q.CreateJob("email", nil)
	if err := j.Save(ctx); err != nil {
		t.Fatalf("save error: %v", err)
	}
	if err := j.Active(ctx); err != nil {
		t.Fatalf("active error: %v", err)
	}

	q.Process("email", 1, func(_ context.Context, _ *job.Job) error { return nil })

	waitFor(t, func() bool {
		n, _ := q.CompleteCount(ctx)
		return n == 1
	})
}

func TestQueue_PromoteDelayedJob(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	q := newQueue(t, s)

	j := q.CreateJob("email", nil).SetDelay(50 * time.Millisecond)
	if err := j.Save(ctx); err != nil {
		t.Fatalf("save error: %v", err)
	}
	if n, _ := q.DelayedCount(ctx); n != 1 {
		t.Fatalf("delayed = %d, want 1", n)
	}

	q.Promote(10 * time.Millisecond)
	q.Process("email", 1, func(_ context.Context, _ *job.Job) error { return nil })

	waitFor(t, func() bool {
		n, _ := q.CompleteCount(ctx)
		return n == 1
	})
}

func TestQueue_RateLimitedWorkers(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	q := newQueue(t, s, queue.WithManager(queue.NewManager(
		queue.Limits{Type: "email", MaxConcurrency: 1},
	)))

	var mu sync.Mutex
	running, peak := 0, 0
	for range 5 {
		j := q.CreateJob("email", nil)
		if err := j.Save(ctx); err != nil {
			t.Fatalf("save error: %v", err)
		}
	}
	q.Process("email", 3, func(_ context.Context, _ *job.Job) error {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return nil
	})

	waitFor(t, func() bool {
		n, _ := q.CompleteCount(ctx)
		return n == 5
	})
	mu.Lock()
	defer mu.Unlock()
	if peak > 1 {
		t.Errorf("peak concurrency = %d, want capped at 1", peak)
	}
}

func TestQueue_Setting(t *testing.T) {
	s := memory.New()
	s.SetSetting("theme", "dark")
	q := newQueue(t, s)

	got, err := q.Setting(context.Background(), "theme")
	if err != nil {
		t.Fatalf("setting error: %v", err)
	}
	if got != "dark" {
		t.Errorf("setting = %q, want dark", got)
	}
	if missing, _ := q.Setting(context.Background(), "nope"); missing != "" {
		t.Errorf("missing setting = %q, want empty", missing)
	}
}

func TestQueue_Cron(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	q := newQueue(t, s)

	sched := q.Cron(cron.WithTickInterval(10 * time.Millisecond))
	err := sched.Add(cron.Entry{
		Name:     "heartbeat",
		Schedule: "@every 50ms",
		Type:     "beat",
	})
	if err != nil {
		t.Fatalf("add entry error: %v", err)
	}

	waitFor(t, func() bool {
		n, _ := q.InactiveCount(ctx)
		return n >= 1
	})
	ids, err := q.State(ctx, job.StateInactive)
	if err != nil || len(ids) == 0 {
		t.Fatalf("state ids = (%v, %v), want enqueued beats", ids, err)
	}
	got, err := q.GetJob(ctx, ids[0])
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got.Type != "beat" {
		t.Errorf("type = %q, want beat", got.Type)
	}
}

func TestQueue_ProcessWithWorkerOptions(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	q := newQueue(t, s)

	j := q.CreateJob("email", nil)
	if err := j.Save(ctx); err != nil {
		t.Fatalf("save error: %v", err)
	}

	var chained atomic.Bool
	q.Process("email", 1,
		func(_ context.Context, _ *job.Job) error { return nil },
		worker.WithMiddleware(func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
			chained.Store(true)
			return next(ctx)
		}),
	)
	waitFor(t, func() bool {
		n, _ := q.CompleteCount(ctx)
		return n == 1
	})
	if !chained.Load() {
		t.Error("expected the pass-through middleware to run")
	}
}
