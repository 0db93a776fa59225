package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/migrs/kue/id"
)

// SetOwner maps a job id to the owning process's channel.
func (s *Store) SetOwner(ctx context.Context, jobID id.JobID, channel string) error {
	if err := s.client.HSet(ctx, s.ownersKey(), jobID.String(), channel).Err(); err != nil {
		return fmt.Errorf("kue/redis: set owner: %w", err)
	}
	return nil
}

// Owner returns the channel owning a job id, or "" if unmapped.
func (s *Store) Owner(ctx context.Context, jobID id.JobID) (string, error) {
	ch, err := s.client.HGet(ctx, s.ownersKey(), jobID.String()).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("kue/redis: owner: %w", err)
	}
	return ch, nil
}

// RemoveOwner deletes a job id's mapping.
func (s *Store) RemoveOwner(ctx context.Context, jobID id.JobID) error {
	if err := s.client.HDel(ctx, s.ownersKey(), jobID.String()).Err(); err != nil {
		return fmt.Errorf("kue/redis: remove owner: %w", err)
	}
	return nil
}

// Publish sends a payload on the named channel. Pub/sub is fire and
// forget: no subscriber, no delivery.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := s.client.Publish(ctx, s.channelKey(channel), payload).Err(); err != nil {
		return fmt.Errorf("kue/redis: publish: %w", err)
	}
	return nil
}

// Subscribe opens a dedicated pub/sub connection on the named channel.
func (s *Store) Subscribe(ctx context.Context, channel string) (<-chan []byte, func() error, error) {
	ps := s.client.Subscribe(ctx, s.channelKey(channel))
	// Force the subscription onto the wire before returning so callers
	// never publish into a channel nobody listens on yet.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("kue/redis: subscribe: %w", err)
	}

	out := make(chan []byte, 256)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			out <- []byte(msg.Payload)
		}
	}()
	return out, ps.Close, nil
}

// AcquireLock takes a named lock for at most ttl via SET NX.
func (s *Store) AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.lockKey(name), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("kue/redis: acquire lock %s: %w", name, err)
	}
	return ok, nil
}

// ReleaseLock drops a named lock.
func (s *Store) ReleaseLock(ctx context.Context, name string) error {
	if err := s.client.Del(ctx, s.lockKey(name)).Err(); err != nil {
		return fmt.Errorf("kue/redis: release lock %s: %w", name, err)
	}
	return nil
}
