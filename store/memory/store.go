// Package memory is a fully in-memory store.Store. It mirrors the Redis
// backend's semantics — including sentinel notification and pub/sub
// fan-out — and is intended for unit tests and development.
package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/migrs/kue/event"
	"github.com/migrs/kue/id"
	"github.com/migrs/kue/job"
	"github.com/migrs/kue/store"
)

// Compile-time interface checks.
var (
	_ job.Store   = (*Store)(nil)
	_ event.Store = (*Store)(nil)
	_ store.Store = (*Store)(nil)
)

// zset maps members to scores; ordering is computed on read.
type zset map[id.JobID]float64

// notifier carries sentinel wakeups for one type.
type notifier struct {
	pending int
	signal  chan struct{}
}

// Store is an in-memory store. Safe for concurrent use.
type Store struct {
	mu         sync.Mutex
	seq        int64
	jobs       map[id.JobID]map[string]string
	logs       map[id.JobID][]string
	types      map[string]struct{}
	global     zset
	states     map[job.State]zset
	typeStates map[string]zset
	notifs     map[string]*notifier
	workTimeMs int64
	settings   map[string]string
	owners     map[id.JobID]string
	subs       map[string]map[int]chan []byte
	subSeq     int
	locks      map[string]time.Time
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:       make(map[id.JobID]map[string]string),
		logs:       make(map[id.JobID][]string),
		types:      make(map[string]struct{}),
		global:     make(zset),
		states:     make(map[job.State]zset),
		typeStates: make(map[string]zset),
		notifs:     make(map[string]*notifier),
		settings:   make(map[string]string),
		owners:     make(map[id.JobID]string),
		subs:       make(map[string]map[int]chan []byte),
		locks:      make(map[string]time.Time),
	}
}

// SetSetting stores a settings entry; test helper mirroring what an
// administrative surface would write.
func (s *Store) SetSetting(name, value string) {
	s.mu.Lock()
	s.settings[name] = value
	s.mu.Unlock()
}

func (s *Store) stateSet(st job.State) zset {
	z, ok := s.states[st]
	if !ok {
		z = make(zset)
		s.states[st] = z
	}
	return z
}

func (s *Store) typeStateSet(typ string, st job.State) zset {
	key := typ + "\x00" + string(st)
	z, ok := s.typeStates[key]
	if !ok {
		z = make(zset)
		s.typeStates[key] = z
	}
	return z
}

func (s *Store) notifier(typ string) *notifier {
	n, ok := s.notifs[typ]
	if !ok {
		n = &notifier{signal: make(chan struct{}, 1)}
		s.notifs[typ] = n
	}
	return n
}

// sortedIDs returns a zset's members ordered by (score, id).
func sortedIDs(z zset) []id.JobID {
	ids := make([]id.JobID, 0, len(z))
	for jobID := range z {
		ids = append(ids, jobID)
	}
	sort.Slice(ids, func(a, b int) bool {
		sa, sb := z[ids[a]], z[ids[b]]
		if sa != sb {
			return sa < sb
		}
		return ids[a] < ids[b]
	})
	return ids
}

// ── job.Store ──

func (s *Store) NextID(_ context.Context) (id.JobID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return id.JobID(s.seq), nil
}

func (s *Store) SaveJob(_ context.Context, jobID id.JobID, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		rec = make(map[string]string, len(fields))
		s.jobs[jobID] = rec
	}
	for k, v := range fields {
		rec[k] = v
	}
	return nil
}

func (s *Store) GetJob(_ context.Context, jobID id.JobID) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.jobs[jobID]))
	for k, v := range s.jobs[jobID] {
		out[k] = v
	}
	return out, nil
}

func (s *Store) SetJobState(_ context.Context, jobID id.JobID, st job.State, updatedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		rec = make(map[string]string, 2)
		s.jobs[jobID] = rec
	}
	rec["state"] = string(st)
	rec["updated_at"] = strconv.FormatInt(updatedAt, 10)
	return nil
}

func (s *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
	return nil
}

func (s *Store) Index(_ context.Context, jobID id.JobID, typ string, st job.State, p job.Priority) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	score := float64(p)
	s.global[jobID] = score
	s.stateSet(st)[jobID] = score
	s.typeStateSet(typ, st)[jobID] = score
	return nil
}

func (s *Store) Deindex(_ context.Context, jobID id.JobID, typ string, st job.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.global, jobID)
	delete(s.stateSet(st), jobID)
	delete(s.typeStateSet(typ, st), jobID)
	return nil
}

func (s *Store) PurgeFromStates(_ context.Context, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.global, jobID)
	for _, z := range s.states {
		delete(z, jobID)
	}
	return nil
}

func (s *Store) Notify(_ context.Context, typ string) error {
	s.mu.Lock()
	n := s.notifier(typ)
	n.pending++
	s.mu.Unlock()
	select {
	case n.signal <- struct{}{}:
	default:
	}
	return nil
}

func (s *Store) Wait(ctx context.Context, typ string) error {
	for {
		s.mu.Lock()
		n := s.notifier(typ)
		if n.pending > 0 {
			n.pending--
			left := n.pending
			s.mu.Unlock()
			if left > 0 {
				// More sentinels queued; re-arm for the next waiter.
				select {
				case n.signal <- struct{}{}:
				default:
				}
			}
			return nil
		}
		sig := n.signal
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sig:
		}
	}
}

func (s *Store) FirstInactive(_ context.Context, typ string) (id.JobID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := sortedIDs(s.typeStateSet(typ, job.StateInactive))
	if len(ids) == 0 {
		return 0, false, nil
	}
	return ids[0], true, nil
}

func (s *Store) ActiveIDs(_ context.Context, typ string) ([]id.JobID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedIDs(s.typeStateSet(typ, job.StateActive)), nil
}

func (s *Store) IncrAttempts(_ context.Context, jobID id.JobID) (attempts, max int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		rec = make(map[string]string)
		s.jobs[jobID] = rec
	}
	if rec["max_attempts"] == "" {
		rec["max_attempts"] = "1"
	}
	attempts, _ = strconv.Atoi(rec["attempts"])
	attempts++
	rec["attempts"] = strconv.Itoa(attempts)
	max, _ = strconv.Atoi(rec["max_attempts"])
	return attempts, max, nil
}

func (s *Store) DelayedBatch(_ context.Context, limit int) ([]job.DelayedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]job.DelayedEntry, 0, len(s.stateSet(job.StateDelayed)))
	for jobID := range s.stateSet(job.StateDelayed) {
		rec := s.jobs[jobID]
		delayMs, _ := strconv.ParseInt(rec["delay"], 10, 64)
		createdAt, _ := strconv.ParseInt(rec["created_at"], 10, 64)
		entries = append(entries, job.DelayedEntry{
			ID:        jobID,
			Delay:     time.Duration(delayMs) * time.Millisecond,
			CreatedAt: createdAt,
		})
	}
	sort.Slice(entries, func(a, b int) bool {
		if entries[a].Delay != entries[b].Delay {
			return entries[a].Delay < entries[b].Delay
		}
		return entries[a].ID < entries[b].ID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) RegisterType(_ context.Context, typ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.types[typ] = struct{}{}
	return nil
}

func (s *Store) Types(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]string, 0, len(s.types))
	for typ := range s.types {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types, nil
}

func (s *Store) StateIDs(_ context.Context, st job.State) ([]id.JobID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedIDs(s.stateSet(st)), nil
}

func (s *Store) Card(_ context.Context, st job.State) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.stateSet(st))), nil
}

func (s *Store) AppendLog(_ context.Context, jobID id.JobID, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[jobID] = append(s.logs[jobID], line)
	return nil
}

func (s *Store) Log(_ context.Context, jobID id.JobID) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.logs[jobID]...), nil
}

func (s *Store) DeleteLog(_ context.Context, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, jobID)
	return nil
}

func (s *Store) AddWorkTime(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workTimeMs += d.Milliseconds()
	return nil
}

func (s *Store) WorkTime(_ context.Context) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(s.workTimeMs) * time.Millisecond, nil
}

func (s *Store) Setting(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings[name], nil
}

// ── event.Store ──

func (s *Store) SetOwner(_ context.Context, jobID id.JobID, channel string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[jobID] = channel
	return nil
}

func (s *Store) Owner(_ context.Context, jobID id.JobID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owners[jobID], nil
}

func (s *Store) RemoveOwner(_ context.Context, jobID id.JobID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.owners, jobID)
	return nil
}

func (s *Store) Publish(_ context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[channel] {
		select {
		case ch <- payload:
		default: // slow subscriber; best-effort drop
		}
	}
	return nil
}

func (s *Store) Subscribe(_ context.Context, channel string) (<-chan []byte, func() error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subSeq++
	token := s.subSeq
	ch := make(chan []byte, 256)
	if s.subs[channel] == nil {
		s.subs[channel] = make(map[int]chan []byte)
	}
	s.subs[channel][token] = ch

	stop := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.subs[channel][token]; ok {
			delete(s.subs[channel], token)
			close(cur)
		}
		return nil
	}
	return ch, stop, nil
}

// ── locks ──

func (s *Store) AcquireLock(_ context.Context, name string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if until, held := s.locks[name]; held && time.Now().Before(until) {
		return false, nil
	}
	s.locks[name] = time.Now().Add(ttl)
	return true, nil
}

func (s *Store) ReleaseLock(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, name)
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error { return nil }

// Close drops every subscription.
func (s *Store) Close(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chans := range s.subs {
		for token, ch := range chans {
			close(ch)
			delete(chans, token)
		}
	}
	return nil
}
