// Package promote moves due delayed jobs back into the inactive queue.
// One promoter per process is plenty; promotion is idempotent, so
// several processes running promoters only waste a little work.
package promote

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/migrs/kue/event"
	"github.com/migrs/kue/job"
)

// DefaultInterval is the sweep period when none is configured.
const DefaultInterval = 5 * time.Second

// DefaultLimit bounds how many delayed entries one sweep inspects.
// Sorting by the stored delay attribute puts the shortest delays first,
// so over successive ticks every due job is reached without large scans.
const DefaultLimit = 20

// Promoter periodically sweeps the delayed set.
type Promoter struct {
	store    job.Store
	interval time.Duration
	limit    int
	logger   *slog.Logger
	jobOpts  []job.Option

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// Option configures a Promoter.
type Option func(*Promoter)

// WithInterval sets the sweep period.
func WithInterval(d time.Duration) Option {
	return func(p *Promoter) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithLimit sets the per-sweep entry bound.
func WithLimit(n int) Option {
	return func(p *Promoter) {
		if n > 0 {
			p.limit = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Promoter) { p.logger = l }
}

// WithJobOptions sets the options applied to promoted jobs (event
// emitter, indexer).
func WithJobOptions(opts ...job.Option) Option {
	return func(p *Promoter) { p.jobOpts = opts }
}

// New creates a Promoter.
func New(store job.Store, opts ...Option) *Promoter {
	p := &Promoter{
		store:    store,
		interval: DefaultInterval,
		limit:    DefaultLimit,
		logger:   slog.Default(),
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the sweep loop.
func (p *Promoter) Start(_ context.Context) {
	p.wg.Add(1)
	go p.loop()
	p.logger.Info("promoter started", slog.Duration("interval", p.interval))
}

// Stop signals the loop to stop and waits for it to finish.
func (p *Promoter) Stop(_ context.Context) {
	p.once.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

func (p *Promoter) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.tick(context.Background())
		}
	}
}

// tick promotes due entries from one batch. A store error or a failed
// load abandons the rest of the tick; the next tick retries.
func (p *Promoter) tick(ctx context.Context) {
	entries, err := p.store.DelayedBatch(ctx, p.limit)
	if err != nil {
		p.logger.Error("delayed scan failed", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UnixMilli()
	for _, e := range entries {
		if e.CreatedAt+e.Delay.Milliseconds() > now {
			continue // not due yet; stays delayed
		}
		j, getErr := job.Get(ctx, p.store, e.ID, p.jobOpts...)
		if getErr != nil {
			p.logger.Error("promotion load failed",
				slog.String("job_id", e.ID.String()),
				slog.String("error", getErr.Error()),
			)
			return
		}
		if sErr := j.Inactive(ctx); sErr != nil {
			p.logger.Error("promotion failed",
				slog.String("job_id", e.ID.String()),
				slog.String("error", sErr.Error()),
			)
			return
		}
		j.Emit(ctx, event.Promotion)
		p.logger.Debug("promoted job", slog.String("job_id", e.ID.String()))
	}
}
