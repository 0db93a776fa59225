// Package cron enqueues recurring jobs from schedule expressions.
// Entries are registered in-process; a store-level lock keyed by entry
// name keeps multiple processes with the same entries from firing an
// entry concurrently. The lock is released after each fire, so a process
// whose tick lands after the release fires the same slot again.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/migrs/kue/job"
)

// CreateFunc builds an unsaved job; the queue facade provides it.
type CreateFunc func(typ string, data any) *job.Job

// Locker is the distributed lock surface the scheduler needs. Store
// backends implement it with a set-if-absent under TTL.
type Locker interface {
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name string) error
}

// Entry is one recurring job template.
type Entry struct {
	// Name identifies the entry; it also keys the firing lock.
	Name string
	// Schedule is a standard 5-field cron expression or a descriptor
	// like "@every 30s".
	Schedule string
	// Type and Data template the enqueued job.
	Type string
	Data any
	// Priority for enqueued jobs. Zero is normal.
	Priority job.Priority
	// MaxAttempts for enqueued jobs. Zero means 1.
	MaxAttempts int

	sched cronlib.Schedule
	next  time.Time
}

// parser supports standard 5-field cron and descriptors.
var parser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// Scheduler fires due entries on a tick loop.
type Scheduler struct {
	create CreateFunc
	locker Locker
	logger *slog.Logger

	tickInterval time.Duration
	lockTTL      time.Duration

	mu      sync.Mutex
	entries map[string]*Entry

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval sets how often the scheduler checks for due entries.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.tickInterval = d }
}

// WithLockTTL sets the TTL for per-entry firing locks.
func WithLockTTL(d time.Duration) Option {
	return func(s *Scheduler) { s.lockTTL = d }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates a Scheduler.
func NewScheduler(create CreateFunc, locker Locker, opts ...Option) *Scheduler {
	s := &Scheduler{
		create:       create,
		locker:       locker,
		logger:       slog.Default(),
		tickInterval: time.Second,
		lockTTL:      30 * time.Second,
		entries:      make(map[string]*Entry),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers an entry. The first fire time is computed from now.
func (s *Scheduler) Add(e Entry) error {
	if e.Name == "" || e.Type == "" {
		return fmt.Errorf("kue/cron: entry needs a name and a type")
	}
	sched, err := parser.Parse(e.Schedule)
	if err != nil {
		return fmt.Errorf("kue/cron: parse schedule %q: %w", e.Schedule, err)
	}
	e.sched = sched
	e.next = sched.Next(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[e.Name]; exists {
		return fmt.Errorf("kue/cron: duplicate entry %q", e.Name)
	}
	s.entries[e.Name] = &e
	return nil
}

// Start launches the tick loop.
func (s *Scheduler) Start(_ context.Context) {
	s.wg.Add(1)
	go s.loop()
	s.logger.Info("cron scheduler started", slog.Duration("tick_interval", s.tickInterval))
}

// Stop signals the loop to stop and waits for it to finish.
func (s *Scheduler) Stop(_ context.Context) {
	s.once.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.tick(context.Background())
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()

	s.mu.Lock()
	due := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.next.After(now) {
			due = append(due, e)
			// Advance even when another process wins the lock; the
			// entry fired this slot either way.
			e.next = e.sched.Next(now)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.fire(ctx, e)
	}
}

func (s *Scheduler) fire(ctx context.Context, e *Entry) {
	lockName := "cron:" + e.Name
	acquired, err := s.locker.AcquireLock(ctx, lockName, s.lockTTL)
	if err != nil {
		s.logger.Error("cron lock error",
			slog.String("entry", e.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	if !acquired {
		return // another process fired this slot
	}
	defer func() {
		if relErr := s.locker.ReleaseLock(ctx, lockName); relErr != nil {
			s.logger.Error("cron unlock error",
				slog.String("entry", e.Name),
				slog.String("error", relErr.Error()),
			)
		}
	}()

	j := s.create(e.Type, e.Data)
	if e.Priority != 0 {
		j.SetPriority(e.Priority)
	}
	if e.MaxAttempts > 0 {
		j.SetMaxAttempts(e.MaxAttempts)
	}
	if err := j.Save(ctx); err != nil {
		s.logger.Error("cron enqueue error",
			slog.String("entry", e.Name),
			slog.String("job_type", e.Type),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Info("cron fired",
		slog.String("entry", e.Name),
		slog.String("job_type", e.Type),
		slog.String("job_id", j.ID.String()),
	)
}
