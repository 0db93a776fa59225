package redis

import "github.com/migrs/kue/job"

// Key layout, all under the configurable prefix (default "q"):
//
//	q:ids                    counter    id allocator
//	q:job:types              set        known type names
//	q:job:{id}               hash       record fields
//	q:job:{id}:log           list       log entries
//	q:jobs                   zset       global index by priority
//	q:jobs:{state}           zset       per-state index by priority
//	q:jobs:{type}:{state}    zset       per-(type,state) index by priority
//	q:{type}:jobs            list       notification sentinels
//	q:stats:work-time        counter    cumulative worker ms
//	q:settings               hash       free-form settings
//	q:events                 hash       job id → owner channel
//	q:events:{channel}       channel    pub/sub per process
//	q:lock:{name}            string     TTL locks

// DefaultPrefix is the key prefix used when none is configured.
const DefaultPrefix = "q"

func (s *Store) idsKey() string      { return s.prefix + ":ids" }
func (s *Store) typesKey() string    { return s.prefix + ":job:types" }
func (s *Store) globalKey() string   { return s.prefix + ":jobs" }
func (s *Store) workTimeKey() string { return s.prefix + ":stats:work-time" }
func (s *Store) settingsKey() string { return s.prefix + ":settings" }
func (s *Store) ownersKey() string   { return s.prefix + ":events" }

func (s *Store) jobKey(id string) string { return s.prefix + ":job:" + id }

func (s *Store) logKey(id string) string { return s.prefix + ":job:" + id + ":log" }

func (s *Store) stateKey(st job.State) string { return s.prefix + ":jobs:" + string(st) }

func (s *Store) typeStateKey(typ string, st job.State) string {
	return s.prefix + ":jobs:" + typ + ":" + string(st)
}

func (s *Store) notifyKey(typ string) string { return s.prefix + ":" + typ + ":jobs" }

func (s *Store) channelKey(ch string) string { return s.prefix + ":events:" + ch }

func (s *Store) lockKey(name string) string { return s.prefix + ":lock:" + name }
