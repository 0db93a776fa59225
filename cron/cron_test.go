package cron_test

import (
	"context"
	"testing"
	"time"

	"github.com/migrs/kue/cron"
	"github.com/migrs/kue/job"
	"github.com/migrs/kue/store/memory"
)

func TestScheduler_FiresDueEntry(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	create := func(typ string, data any) *job.Job { return job.New(s, typ, data) }
	sched := cron.NewScheduler(create, s, cron.WithTickInterval(10*time.Millisecond))

	err := sched.Add(cron.Entry{
		Name:        "heartbeat",
		Schedule:    "@every 50ms",
		Type:        "beat",
		Priority:    job.PriorityHigh,
		MaxAttempts: 2,
	})
	if err != nil {
		t.Fatalf("add error: %v", err)
	}

	sched.Start(ctx)
	t.Cleanup(func() { sched.Stop(ctx) })

	deadline := time.After(2 * time.Second)
	for {
		n, cardErr := s.Card(ctx, job.StateInactive)
		if cardErr != nil {
			t.Fatalf("card error: %v", cardErr)
		}
		if n >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("fired %d times, want repeated firing", n)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}

	ids, err := s.StateIDs(ctx, job.StateInactive)
	if err != nil || len(ids) == 0 {
		t.Fatalf("state ids = (%v, %v)", ids, err)
	}
	got, err := job.Get(ctx, s, ids[0])
	if err != nil {
		t.Fatalf("get error: %v", err)
	}
	if got.Type != "beat" {
		t.Errorf("type = %q, want beat", got.Type)
	}
	if got.Priority != job.PriorityHigh {
		t.Errorf("priority = %d, want high", got.Priority)
	}
	if got.MaxAttempts != 2 {
		t.Errorf("max attempts = %d, want 2", got.MaxAttempts)
	}
}

func TestScheduler_AddValidation(t *testing.T) {
	s := memory.New()
	create := func(typ string, data any) *job.Job { return job.New(s, typ, data) }
	sched := cron.NewScheduler(create, s)

	if err := sched.Add(cron.Entry{Schedule: "@every 1s", Type: "beat"}); err == nil {
		t.Error("expected error for missing name")
	}
	if err := sched.Add(cron.Entry{Name: "x", Schedule: "not a schedule", Type: "beat"}); err == nil {
		t.Error("expected error for bad schedule")
	}
	if err := sched.Add(cron.Entry{Name: "x", Schedule: "@every 1s", Type: "beat"}); err != nil {
		t.Fatalf("add error: %v", err)
	}
	if err := sched.Add(cron.Entry{Name: "x", Schedule: "@every 1s", Type: "beat"}); err == nil {
		t.Error("expected error for duplicate name")
	}
}

func TestScheduler_LockBlocksConcurrentFire(t *testing.T) {
	// A lock seeded directly on the store models another process holding
	// the entry's firing lock; while it is held this scheduler enqueues
	// nothing, and once released the entry fires.
	s := memory.New()
	ctx := context.Background()

	held, err := s.AcquireLock(ctx, "cron:heartbeat", time.Minute)
	if err != nil || !held {
		t.Fatalf("seed lock = (%v, %v)", held, err)
	}

	create := func(typ string, data any) *job.Job { return job.New(s, typ, data) }
	sched := cron.NewScheduler(create, s, cron.WithTickInterval(10*time.Millisecond))
	if err := sched.Add(cron.Entry{Name: "heartbeat", Schedule: "@every 20ms", Type: "beat"}); err != nil {
		t.Fatalf("add error: %v", err)
	}
	sched.Start(ctx)
	t.Cleanup(func() { sched.Stop(ctx) })

	time.Sleep(100 * time.Millisecond)
	if n, _ := s.Card(ctx, job.StateInactive); n != 0 {
		t.Errorf("enqueued %d jobs while the lock was held, want 0", n)
	}

	if err := s.ReleaseLock(ctx, "cron:heartbeat"); err != nil {
		t.Fatalf("release error: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for {
		if n, _ := s.Card(ctx, job.StateInactive); n >= 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatal("entry never fired after the lock was released")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}
