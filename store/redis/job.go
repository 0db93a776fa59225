package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/migrs/kue/id"
	"github.com/migrs/kue/job"
)

// waitBlock bounds each BLPOP so context cancellation is honored
// promptly even on quiet queues.
const waitBlock = time.Second

// NextID allocates the next job id from the INCR counter.
func (s *Store) NextID(ctx context.Context) (id.JobID, error) {
	n, err := s.client.Incr(ctx, s.idsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("kue/redis: next id: %w", err)
	}
	return id.JobID(n), nil
}

// SaveJob writes the record's field map.
func (s *Store) SaveJob(ctx context.Context, jobID id.JobID, fields map[string]string) error {
	args := make(map[string]any, len(fields))
	for k, v := range fields {
		args[k] = v
	}
	if err := s.client.HSet(ctx, s.jobKey(jobID.String()), args).Err(); err != nil {
		return fmt.Errorf("kue/redis: save job: %w", err)
	}
	return nil
}

// GetJob reads the record's field map; a missing record yields an empty
// map.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (map[string]string, error) {
	vals, err := s.client.HGetAll(ctx, s.jobKey(jobID.String())).Result()
	if err != nil {
		return nil, fmt.Errorf("kue/redis: get job: %w", err)
	}
	return vals, nil
}

// SetJobState persists the state and updated_at fields.
func (s *Store) SetJobState(ctx context.Context, jobID id.JobID, st job.State, updatedAt int64) error {
	err := s.client.HSet(ctx, s.jobKey(jobID.String()),
		"state", string(st),
		"updated_at", strconv.FormatInt(updatedAt, 10),
	).Err()
	if err != nil {
		return fmt.Errorf("kue/redis: set state: %w", err)
	}
	return nil
}

// DeleteJob removes the record.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	if err := s.client.Del(ctx, s.jobKey(jobID.String())).Err(); err != nil {
		return fmt.Errorf("kue/redis: delete job: %w", err)
	}
	return nil
}

// Index inserts the id into the global, per-state, and per-(type,state)
// sorted sets, scored by priority. Ties sort by the zero-padded member,
// which is id order.
func (s *Store) Index(ctx context.Context, jobID id.JobID, typ string, st job.State, p job.Priority) error {
	member := goredis.Z{Score: float64(p), Member: jobID.String()}
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, s.globalKey(), member)
	pipe.ZAdd(ctx, s.stateKey(st), member)
	pipe.ZAdd(ctx, s.typeStateKey(typ, st), member)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("kue/redis: index: %w", err)
	}
	return nil
}

// Deindex removes the id from the global, per-state, and
// per-(type,state) sorted sets.
func (s *Store) Deindex(ctx context.Context, jobID id.JobID, typ string, st job.State) error {
	member := jobID.String()
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, s.globalKey(), member)
	pipe.ZRem(ctx, s.stateKey(st), member)
	pipe.ZRem(ctx, s.typeStateKey(typ, st), member)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("kue/redis: deindex: %w", err)
	}
	return nil
}

// PurgeFromStates evicts the id from the global set and every per-state
// set.
func (s *Store) PurgeFromStates(ctx context.Context, jobID id.JobID) error {
	member := jobID.String()
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, s.globalKey(), member)
	for _, st := range job.States {
		pipe.ZRem(ctx, s.stateKey(st), member)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("kue/redis: purge states: %w", err)
	}
	return nil
}

// Notify pushes one wakeup sentinel onto the type's notification list.
func (s *Store) Notify(ctx context.Context, typ string) error {
	if err := s.client.LPush(ctx, s.notifyKey(typ), "1").Err(); err != nil {
		return fmt.Errorf("kue/redis: notify %s: %w", typ, err)
	}
	return nil
}

// Wait blocks until a sentinel for the type is consumed or the context
// is done. BLPOP delivers each sentinel to exactly one waiter.
func (s *Store) Wait(ctx context.Context, typ string) error {
	key := s.notifyKey(typ)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := s.client.BLPop(ctx, waitBlock, key).Result()
		if err == nil {
			return nil
		}
		if errors.Is(err, goredis.Nil) {
			continue // timed out empty; keep waiting
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("kue/redis: wait %s: %w", typ, err)
	}
}

// FirstInactive returns the lowest-scored id in the type's inactive set.
func (s *Store) FirstInactive(ctx context.Context, typ string) (id.JobID, bool, error) {
	members, err := s.client.ZRange(ctx, s.typeStateKey(typ, job.StateInactive), 0, 0).Result()
	if err != nil {
		return 0, false, fmt.Errorf("kue/redis: first inactive %s: %w", typ, err)
	}
	if len(members) == 0 {
		return 0, false, nil
	}
	jobID, err := id.Parse(members[0])
	if err != nil {
		return 0, false, err
	}
	return jobID, true, nil
}

// ActiveIDs lists the type's active set.
func (s *Store) ActiveIDs(ctx context.Context, typ string) ([]id.JobID, error) {
	members, err := s.client.ZRange(ctx, s.typeStateKey(typ, job.StateActive), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("kue/redis: active ids %s: %w", typ, err)
	}
	return parseIDs(members)
}

// IncrAttempts atomically defaults max_attempts to 1, increments
// attempts, and returns both counters.
func (s *Store) IncrAttempts(ctx context.Context, jobID id.JobID) (attempts, max int, err error) {
	key := s.jobKey(jobID.String())
	pipe := s.client.TxPipeline()
	pipe.HSetNX(ctx, key, "max_attempts", "1")
	incr := pipe.HIncrBy(ctx, key, "attempts", 1)
	maxCmd := pipe.HGet(ctx, key, "max_attempts")
	if _, err = pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("kue/redis: incr attempts: %w", err)
	}
	attempts = int(incr.Val())
	max, _ = strconv.Atoi(maxCmd.Val()) //nolint:errcheck // written by us as an int
	return attempts, max, nil
}

// DelayedBatch reads up to limit delayed entries ordered by the stored
// delay attribute, via SORT BY on the record hashes.
func (s *Store) DelayedBatch(ctx context.Context, limit int) ([]job.DelayedEntry, error) {
	byPattern := s.prefix + ":job:*->delay"
	rows, err := s.client.Sort(ctx, s.stateKey(job.StateDelayed), &goredis.Sort{
		By:     byPattern,
		Get:    []string{"#", byPattern, s.prefix + ":job:*->created_at"},
		Offset: 0,
		Count:  int64(limit),
		Order:  "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("kue/redis: delayed batch: %w", err)
	}

	entries := make([]job.DelayedEntry, 0, len(rows)/3)
	for i := 0; i+2 < len(rows); i += 3 {
		jobID, idErr := id.Parse(rows[i])
		if idErr != nil {
			continue
		}
		delayMs, _ := strconv.ParseInt(rows[i+1], 10, 64)   //nolint:errcheck // written by us as an int
		createdAt, _ := strconv.ParseInt(rows[i+2], 10, 64) //nolint:errcheck // written by us as an int
		entries = append(entries, job.DelayedEntry{
			ID:        jobID,
			Delay:     time.Duration(delayMs) * time.Millisecond,
			CreatedAt: createdAt,
		})
	}
	return entries, nil
}

// RegisterType records the type name in the known-types set.
func (s *Store) RegisterType(ctx context.Context, typ string) error {
	if err := s.client.SAdd(ctx, s.typesKey(), typ).Err(); err != nil {
		return fmt.Errorf("kue/redis: register type: %w", err)
	}
	return nil
}

// Types lists the known type names.
func (s *Store) Types(ctx context.Context) ([]string, error) {
	types, err := s.client.SMembers(ctx, s.typesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("kue/redis: types: %w", err)
	}
	return types, nil
}

// StateIDs lists the ids in one state, ordered by priority.
func (s *Store) StateIDs(ctx context.Context, st job.State) ([]id.JobID, error) {
	members, err := s.client.ZRange(ctx, s.stateKey(st), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("kue/redis: state ids: %w", err)
	}
	return parseIDs(members)
}

// Card returns the number of ids in one state.
func (s *Store) Card(ctx context.Context, st job.State) (int64, error) {
	n, err := s.client.ZCard(ctx, s.stateKey(st)).Result()
	if err != nil {
		return 0, fmt.Errorf("kue/redis: card: %w", err)
	}
	return n, nil
}

// AppendLog appends one line to the job's log list.
func (s *Store) AppendLog(ctx context.Context, jobID id.JobID, line string) error {
	if err := s.client.RPush(ctx, s.logKey(jobID.String()), line).Err(); err != nil {
		return fmt.Errorf("kue/redis: append log: %w", err)
	}
	return nil
}

// Log reads the job's log list.
func (s *Store) Log(ctx context.Context, jobID id.JobID) ([]string, error) {
	lines, err := s.client.LRange(ctx, s.logKey(jobID.String()), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("kue/redis: log: %w", err)
	}
	return lines, nil
}

// DeleteLog removes the job's log list.
func (s *Store) DeleteLog(ctx context.Context, jobID id.JobID) error {
	if err := s.client.Del(ctx, s.logKey(jobID.String())).Err(); err != nil {
		return fmt.Errorf("kue/redis: delete log: %w", err)
	}
	return nil
}

// AddWorkTime adds a completed run's duration to the cumulative counter.
func (s *Store) AddWorkTime(ctx context.Context, d time.Duration) error {
	if err := s.client.IncrBy(ctx, s.workTimeKey(), d.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("kue/redis: add work time: %w", err)
	}
	return nil
}

// WorkTime reads the cumulative worker-time counter.
func (s *Store) WorkTime(ctx context.Context) (time.Duration, error) {
	val, err := s.client.Get(ctx, s.workTimeKey()).Result()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("kue/redis: work time: %w", err)
	}
	ms, _ := strconv.ParseInt(val, 10, 64) //nolint:errcheck // written by us as an int
	return time.Duration(ms) * time.Millisecond, nil
}

// Setting reads one named settings entry; missing entries yield "".
func (s *Store) Setting(ctx context.Context, name string) (string, error) {
	val, err := s.client.HGet(ctx, s.settingsKey(), name).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("kue/redis: setting %s: %w", name, err)
	}
	return val, nil
}

func parseIDs(members []string) ([]id.JobID, error) {
	ids := make([]id.JobID, 0, len(members))
	for _, m := range members {
		jobID, err := id.Parse(m)
		if err != nil {
			continue // foreign member; skip
		}
		ids = append(ids, jobID)
	}
	return ids, nil
}
