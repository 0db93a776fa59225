package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/migrs/kue/job"
	"github.com/migrs/kue/middleware"
	"github.com/migrs/kue/store/memory"
)

func testJob() *job.Job {
	return job.New(memory.New(), "email", nil)
}

func TestChain_Order(t *testing.T) {
	var trace []string
	mark := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
			trace = append(trace, name+":in")
			err := next(ctx)
			trace = append(trace, name+":out")
			return err
		}
	}

	chain := middleware.Chain(mark("outer"), mark("inner"))
	err := chain(context.Background(), testJob(), func(context.Context) error {
		trace = append(trace, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("chain error: %v", err)
	}

	want := []string{"outer:in", "inner:in", "handler", "inner:out", "outer:out"}
	if len(trace) != len(want) {
		t.Fatalf("trace = %v, want %v", trace, want)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("trace = %v, want %v", trace, want)
		}
	}
}

func TestRecover_ConvertsPanic(t *testing.T) {
	mw := middleware.Recover(slog.Default())
	err := mw(context.Background(), testJob(), func(context.Context) error {
		panic("kaboom")
	})
	if err == nil {
		t.Fatal("expected the panic converted to an error")
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	mw := middleware.Recover(slog.Default())
	want := errors.New("plain failure")
	if err := mw(context.Background(), testJob(), func(context.Context) error {
		return want
	}); !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}

func TestTimeout_CancelsSlowHandler(t *testing.T) {
	mw := middleware.Timeout(20 * time.Millisecond)
	err := mw(context.Background(), testJob(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

func TestTimeout_ZeroDisables(t *testing.T) {
	mw := middleware.Timeout(0)
	err := mw(context.Background(), testJob(), func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("unexpected deadline with zero timeout")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("err = %v", err)
	}
}

func TestTracing_Noop(t *testing.T) {
	// With no global TracerProvider this must be a pure pass-through.
	mw := middleware.Tracing()
	want := errors.New("handler error")
	if err := mw(context.Background(), testJob(), func(context.Context) error {
		return want
	}); !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}
