package event_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/migrs/kue/event"
	"github.com/migrs/kue/id"
	"github.com/migrs/kue/store/memory"
)

// recorder collects delivered messages.
type recorder struct {
	mu   sync.Mutex
	msgs []event.Message
}

func (r *recorder) record(m event.Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, m)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []event.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event.Message(nil), r.msgs...)
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

func TestBus_DeliversToListener(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	b := event.NewBus(s)
	defer b.Close(ctx) //nolint:errcheck

	if err := b.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	jobID := id.JobID(12)
	if err := b.Add(ctx, jobID); err != nil {
		t.Fatalf("add error: %v", err)
	}

	rec := &recorder{}
	b.Listen(jobID, rec.record)

	if err := b.Emit(ctx, jobID, event.Complete, int64(42)); err != nil {
		t.Fatalf("emit error: %v", err)
	}

	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })
	got := rec.snapshot()[0]
	if got.ID != jobID || got.Event != event.Complete {
		t.Errorf("message = %+v, want complete for %v", got, jobID)
	}
	if len(got.Args) != 1 {
		t.Errorf("args = %v, want one entry", got.Args)
	}
}

func TestBus_AllListenersSeeMessages(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	b := event.NewBus(s)
	defer b.Close(ctx) //nolint:errcheck

	if err := b.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	jobID := id.JobID(3)
	if err := b.Add(ctx, jobID); err != nil {
		t.Fatalf("add error: %v", err)
	}

	one, two, all := &recorder{}, &recorder{}, &recorder{}
	b.Listen(jobID, one.record)
	b.Listen(jobID, two.record)
	b.ListenAll(all.record)

	if err := b.Emit(ctx, jobID, event.Start); err != nil {
		t.Fatalf("emit error: %v", err)
	}

	waitFor(t, func() bool {
		return len(one.snapshot()) == 1 && len(two.snapshot()) == 1 && len(all.snapshot()) == 1
	})
}

func TestBus_EmitWithoutOwnerIsNoop(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	b := event.NewBus(s)
	defer b.Close(ctx) //nolint:errcheck

	if err := b.Emit(ctx, id.JobID(9), event.Start); err != nil {
		t.Fatalf("emit without owner should be silent, got %v", err)
	}
}

func TestBus_RemoveStopsDelivery(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	b := event.NewBus(s)
	defer b.Close(ctx) //nolint:errcheck

	if err := b.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	jobID := id.JobID(5)
	if err := b.Add(ctx, jobID); err != nil {
		t.Fatalf("add error: %v", err)
	}
	rec := &recorder{}
	b.Listen(jobID, rec.record)

	if err := b.Remove(ctx, jobID); err != nil {
		t.Fatalf("remove error: %v", err)
	}
	if err := b.Emit(ctx, jobID, event.Start); err != nil {
		t.Fatalf("emit error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if n := len(rec.snapshot()); n != 0 {
		t.Errorf("got %d messages after remove, want 0", n)
	}
}

func TestBus_CrossBusDelivery(t *testing.T) {
	// Producer and worker side share a store but have separate buses,
	// as two processes would.
	s := memory.New()
	ctx := context.Background()
	producer := event.NewBus(s)
	defer producer.Close(ctx) //nolint:errcheck
	workerSide := event.NewBus(s)
	defer workerSide.Close(ctx) //nolint:errcheck

	if err := producer.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	jobID := id.JobID(77)
	if err := producer.Add(ctx, jobID); err != nil {
		t.Fatalf("add error: %v", err)
	}
	rec := &recorder{}
	producer.Listen(jobID, rec.record)

	// The worker-side bus routes by the stored owner mapping.
	if err := workerSide.Emit(ctx, jobID, event.Failed, "boom"); err != nil {
		t.Fatalf("emit error: %v", err)
	}

	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })
	if got := rec.snapshot()[0].Event; got != event.Failed {
		t.Errorf("event = %q, want failed", got)
	}
}

func TestBus_CloseDeletesOwnMappings(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	b := event.NewBus(s)

	jobID := id.JobID(8)
	if err := b.Add(ctx, jobID); err != nil {
		t.Fatalf("add error: %v", err)
	}
	if err := b.Close(ctx); err != nil {
		t.Fatalf("close error: %v", err)
	}

	owner, err := s.Owner(ctx, jobID)
	if err != nil {
		t.Fatalf("owner error: %v", err)
	}
	if owner != "" {
		t.Errorf("owner = %q after close, want removed", owner)
	}
}

func TestBus_MsgpackCodec(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	b := event.NewBus(s, event.WithCodec(event.MsgpackCodec{}))
	defer b.Close(ctx) //nolint:errcheck

	if err := b.Subscribe(ctx); err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	jobID := id.JobID(21)
	if err := b.Add(ctx, jobID); err != nil {
		t.Fatalf("add error: %v", err)
	}
	rec := &recorder{}
	b.Listen(jobID, rec.record)

	if err := b.Emit(ctx, jobID, event.Progress, 50); err != nil {
		t.Fatalf("emit error: %v", err)
	}
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })
	if got := rec.snapshot()[0]; got.ID != jobID || got.Event != event.Progress {
		t.Errorf("message = %+v, want progress for %v", got, jobID)
	}
}

func TestCodecByName(t *testing.T) {
	if got := event.CodecByName("msgpack").Name(); got != event.CodecNameMsgpack {
		t.Errorf("CodecByName(msgpack) = %q", got)
	}
	if got := event.CodecByName("").Name(); got != event.CodecNameJSON {
		t.Errorf("CodecByName(\"\") = %q, want json default", got)
	}
}
