// Package redis implements store.Store on Redis. Job records are
// Hashes, every index is a Sorted Set scored by priority, the per-type
// notification list is a List consumed with BLPOP, delayed scans use
// SORT BY a record attribute, and the event transport is plain pub/sub.
//
// Usage:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	s := redisstore.New(client, redisstore.WithPrefix("q"))
//	if err := s.Ping(ctx); err != nil { ... }
package redis
