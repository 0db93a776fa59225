package promote_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/migrs/kue/event"
	"github.com/migrs/kue/id"
	"github.com/migrs/kue/job"
	"github.com/migrs/kue/promote"
	"github.com/migrs/kue/store/memory"
)

func jobState(t *testing.T, s *memory.Store, jobID id.JobID) job.State {
	t.Helper()
	fields, err := s.GetJob(context.Background(), jobID)
	if err != nil {
		t.Fatalf("get job error: %v", err)
	}
	return job.State(fields["state"])
}

func TestPromoter_PromotesDueJob(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	const delay = 200 * time.Millisecond
	t0 := time.Now()
	j := job.New(s, "email", nil).SetDelay(delay)
	if err := j.Save(ctx); err != nil {
		t.Fatalf("save error: %v", err)
	}

	p := promote.New(s, promote.WithInterval(20*time.Millisecond))
	p.Start(ctx)
	t.Cleanup(func() { p.Stop(ctx) })

	deadline := time.After(2 * time.Second)
	for jobState(t, s, j.ID) != job.StateInactive {
		select {
		case <-deadline:
			t.Fatal("job never promoted")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	// Never earlier than created_at + delay.
	if elapsed := time.Since(t0); elapsed < delay {
		t.Errorf("promoted after %v, before the %v delay", elapsed, delay)
	}
}

func TestPromoter_SkipsNotDue(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	j := job.New(s, "email", nil).SetDelay(time.Hour)
	if err := j.Save(ctx); err != nil {
		t.Fatalf("save error: %v", err)
	}

	p := promote.New(s, promote.WithInterval(10*time.Millisecond))
	p.Start(ctx)
	t.Cleanup(func() { p.Stop(ctx) })

	time.Sleep(100 * time.Millisecond)
	if st := jobState(t, s, j.ID); st != job.StateDelayed {
		t.Errorf("state = %q, want still delayed", st)
	}
	if n, _ := s.Card(ctx, job.StateDelayed); n != 1 {
		t.Errorf("delayed card = %d, want the job still present", n)
	}
}

func TestPromoter_EmitsPromotionOnce(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	bus := event.NewBus(s)
	defer bus.Close(ctx) //nolint:errcheck
	if err := bus.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	var promotions atomic.Int32
	bus.ListenAll(func(m event.Message) {
		if m.Event == event.Promotion {
			promotions.Add(1)
		}
	})

	j := job.New(s, "email", nil, job.WithEvents(bus)).SetDelay(50 * time.Millisecond)
	if err := j.Save(ctx); err != nil {
		t.Fatalf("save error: %v", err)
	}

	p := promote.New(s,
		promote.WithInterval(10*time.Millisecond),
		promote.WithJobOptions(job.WithEvents(bus)),
	)
	p.Start(ctx)
	t.Cleanup(func() { p.Stop(ctx) })

	deadline := time.After(2 * time.Second)
	for jobState(t, s, j.ID) != job.StateInactive {
		select {
		case <-deadline:
			t.Fatal("job never promoted")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	// Give a few more ticks a chance to misbehave.
	time.Sleep(100 * time.Millisecond)
	if n := promotions.Load(); n != 1 {
		t.Errorf("promotion events = %d, want exactly 1", n)
	}
}

func TestPromoter_BatchLimit(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	// More due jobs than one tick inspects; successive ticks drain them.
	for range 30 {
		j := job.New(s, "email", nil).SetDelay(time.Millisecond)
		if err := j.Save(ctx); err != nil {
			t.Fatalf("save error: %v", err)
		}
	}
	time.Sleep(10 * time.Millisecond)

	p := promote.New(s, promote.WithInterval(10*time.Millisecond), promote.WithLimit(20))
	p.Start(ctx)
	t.Cleanup(func() { p.Stop(ctx) })

	deadline := time.After(2 * time.Second)
	for {
		n, err := s.Card(ctx, job.StateInactive)
		if err != nil {
			t.Fatalf("card error: %v", err)
		}
		if n == 30 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("only %d of 30 promoted", n)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}
