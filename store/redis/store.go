package redis

import (
	"context"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/migrs/kue/event"
	"github.com/migrs/kue/job"
	"github.com/migrs/kue/store"
)

// Compile-time interface checks.
var (
	_ job.Store   = (*Store)(nil)
	_ event.Store = (*Store)(nil)
	_ store.Store = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithPrefix sets the key prefix shared by every key.
func WithPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements store.Store backed by Redis.
type Store struct {
	client goredis.UniversalClient
	prefix string
	logger *slog.Logger
}

// New creates a Redis-backed store. The caller owns the client
// lifecycle. Blocking pops and the pub/sub subscription take dedicated
// connections from the client's pool; everything else is request/reply.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client: client,
		prefix: DefaultPrefix,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close(_ context.Context) error { return nil }
