package event

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/migrs/kue/id"
)

// Bus fans job lifecycle events out to local listeners. Each process has
// one channel, named by a fresh uuid; Add records this process as a
// job's owner so emits from any host land here.
//
// Registering a listener and subscribing the store channel are two
// explicit steps: Listen/ListenAll only touch local state, Subscribe
// opens the channel. Callers usually subscribe lazily on the first
// listener.
type Bus struct {
	store  Store
	codec  Codec
	chName string
	logger *slog.Logger

	mu         sync.Mutex
	subscribed bool
	stop       func() error
	listeners  map[id.JobID][]func(Message)
	all        []func(Message)
	owned      map[id.JobID]struct{}

	wg sync.WaitGroup
}

// Option configures a Bus.
type Option func(*Bus)

// WithCodec sets the message codec. Defaults to JSON.
func WithCodec(c Codec) Option {
	return func(b *Bus) { b.codec = c }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) { b.logger = l }
}

// WithChannel overrides the process channel name. Mostly for tests;
// production channels are per-process uuids.
func WithChannel(name string) Option {
	return func(b *Bus) { b.chName = name }
}

// NewBus creates a bus over the given store.
func NewBus(store Store, opts ...Option) *Bus {
	b := &Bus{
		store:     store,
		codec:     JSONCodec{},
		chName:    uuid.NewString(),
		logger:    slog.Default(),
		listeners: make(map[id.JobID][]func(Message)),
		owned:     make(map[id.JobID]struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Channel returns this process's channel name.
func (b *Bus) Channel() string { return b.chName }

// Add maps the job id to this process's channel.
func (b *Bus) Add(ctx context.Context, jobID id.JobID) error {
	if err := b.store.SetOwner(ctx, jobID, b.chName); err != nil {
		return fmt.Errorf("kue/event: set owner: %w", err)
	}
	b.mu.Lock()
	b.owned[jobID] = struct{}{}
	b.mu.Unlock()
	return nil
}

// Remove deletes the job's mapping and drops its local listeners.
func (b *Bus) Remove(ctx context.Context, jobID id.JobID) error {
	b.mu.Lock()
	delete(b.owned, jobID)
	delete(b.listeners, jobID)
	b.mu.Unlock()
	if err := b.store.RemoveOwner(ctx, jobID); err != nil {
		return fmt.Errorf("kue/event: remove owner: %w", err)
	}
	return nil
}

// Emit publishes an event to the process owning the job. Jobs with no
// owner mapping have no subscribers; the emit is a no-op.
func (b *Bus) Emit(ctx context.Context, jobID id.JobID, event string, args ...any) error {
	ch, err := b.store.Owner(ctx, jobID)
	if err != nil {
		return fmt.Errorf("kue/event: owner lookup: %w", err)
	}
	if ch == "" {
		return nil
	}
	payload, err := b.codec.Encode(&Message{ID: jobID, Event: event, Args: args})
	if err != nil {
		return fmt.Errorf("kue/event: encode: %w", err)
	}
	if err := b.store.Publish(ctx, ch, payload); err != nil {
		return fmt.Errorf("kue/event: publish: %w", err)
	}
	return nil
}

// Listen registers a callback for one job's events. Subscribe must also
// be called (once) for messages to arrive.
func (b *Bus) Listen(jobID id.JobID, fn func(Message)) {
	b.mu.Lock()
	b.listeners[jobID] = append(b.listeners[jobID], fn)
	b.mu.Unlock()
}

// ListenAll registers a callback for every job event delivered to this
// process.
func (b *Bus) ListenAll(fn func(Message)) {
	b.mu.Lock()
	b.all = append(b.all, fn)
	b.mu.Unlock()
}

// Subscribe starts (idempotently) listening on this process's channel
// and dispatching messages to registered listeners.
func (b *Bus) Subscribe(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribed {
		return nil
	}
	msgs, stop, err := b.store.Subscribe(ctx, b.chName)
	if err != nil {
		return fmt.Errorf("kue/event: subscribe channel: %w", err)
	}
	b.subscribed = true
	b.stop = stop

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for payload := range msgs {
			m, decErr := b.codec.Decode(payload)
			if decErr != nil {
				b.logger.Warn("event decode failed", slog.String("error", decErr.Error()))
				continue
			}
			b.dispatch(*m)
		}
	}()
	return nil
}

// dispatch delivers a message to the job's listeners and to every
// catch-all listener. All listeners on this process see the message.
func (b *Bus) dispatch(m Message) {
	b.mu.Lock()
	fns := make([]func(Message), 0, len(b.listeners[m.ID])+len(b.all))
	fns = append(fns, b.listeners[m.ID]...)
	fns = append(fns, b.all...)
	b.mu.Unlock()

	for _, fn := range fns {
		fn(m)
	}
}

// Close tears down the subscription and deletes this process's entries
// from the owner mapping so emitters stop publishing into the void.
func (b *Bus) Close(ctx context.Context) error {
	b.mu.Lock()
	stop := b.stop
	b.stop = nil
	b.subscribed = false
	owned := make([]id.JobID, 0, len(b.owned))
	for jobID := range b.owned {
		owned = append(owned, jobID)
	}
	b.owned = make(map[id.JobID]struct{})
	b.mu.Unlock()

	var firstErr error
	if stop != nil {
		if err := stop(); err != nil {
			firstErr = err
		}
	}
	b.wg.Wait()
	for _, jobID := range owned {
		if err := b.store.RemoveOwner(ctx, jobID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
