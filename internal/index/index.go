// Package index is the forward name index: normalized key -> entity
// id, read through a process-local TTL tier and an optional shared
// Redis tier before the persistent index. Misses are cached too.
// Staleness up to the TTL is expected; readers compensate by
// confirming every hit against the entity's live name.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"corkboard/api/internal/normalize"
)

// ErrMalformedRecord is returned when a cached record fails the typed
// decode at the storage boundary.
var ErrMalformedRecord = errors.New("malformed cache record")

// LookupFunc reads the persistent index. scope is the project id for
// title lookups and empty for slug lookups.
type LookupFunc func(ctx context.Context, scope, key string) (string, bool, error)

type memEntry struct {
	id      string
	miss    bool
	savedAt time.Time
}

// cacheRecord is the Redis tier wire form.
type cacheRecord struct {
	ID   string `json:"id"`
	Miss bool   `json:"miss"`
}

// Store caches one keyspace ("slug" or "title"). Construct once per
// process and pass by reference; there is no ambient global state.
type Store struct {
	name    string
	ttl     time.Duration
	backend LookupFunc
	rdb     *redis.Client // nil disables the shared tier

	mu  sync.Mutex
	mem map[string]memEntry

	now func() time.Time
}

// New creates a Store for one keyspace. rdb may be nil.
func New(name string, ttl time.Duration, backend LookupFunc, rdb *redis.Client) *Store {
	return &Store{
		name:    name,
		ttl:     ttl,
		backend: backend,
		rdb:     rdb,
		mem:     make(map[string]memEntry),
		now:     time.Now,
	}
}

func (s *Store) cacheKey(scope, key string) string {
	if scope == "" {
		return "idx:" + s.name + ":" + key
	}
	return "idx:" + s.name + ":" + scope + ":" + key
}

// Get resolves name within scope. Placeholder and unindexable names
// short-circuit to not-found without touching any tier. A backend
// error is returned to the caller, which treats the step as a miss.
func (s *Store) Get(ctx context.Context, scope, name string) (string, bool, error) {
	if normalize.IsPlaceholder(name) {
		return "", false, nil
	}
	key := normalize.Key(name)
	if key == "" {
		return "", false, nil
	}
	ck := s.cacheKey(scope, key)

	if id, miss, ok := s.memGet(ck); ok {
		return id, !miss, nil
	}
	if id, miss, ok := s.redisGet(ctx, ck); ok {
		s.memSet(ck, id, miss)
		return id, !miss, nil
	}

	id, found, err := s.backend(ctx, scope, key)
	if err != nil {
		return "", false, err
	}
	s.memSet(ck, id, !found)
	s.redisSet(ctx, ck, id, !found)
	return id, found, nil
}

// Prime overwrites both cache tiers with a positive entry. Writers
// call it synchronously after the transactional index write so their
// own next read is never stale.
func (s *Store) Prime(ctx context.Context, scope, name, id string) {
	if normalize.IsPlaceholder(name) {
		return
	}
	key := normalize.Key(name)
	if key == "" {
		return
	}
	ck := s.cacheKey(scope, key)
	s.memSet(ck, id, false)
	s.redisSet(ctx, ck, id, false)
}

// Invalidate overwrites both cache tiers with a negative entry for a
// key that no longer maps to anything.
func (s *Store) Invalidate(ctx context.Context, scope, name string) {
	if normalize.IsPlaceholder(name) {
		return
	}
	key := normalize.Key(name)
	if key == "" {
		return
	}
	ck := s.cacheKey(scope, key)
	s.memSet(ck, "", true)
	s.redisSet(ctx, ck, "", true)
}

// Rename refreshes the cache tiers after a rename's transactional
// index swap: the old key becomes a cached miss, the new key a hit.
func (s *Store) Rename(ctx context.Context, scope, oldName, newName, id string) {
	s.Invalidate(ctx, scope, oldName)
	s.Prime(ctx, scope, newName, id)
}

func (s *Store) memGet(ck string) (id string, miss bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, found := s.mem[ck]
	if !found || s.now().Sub(entry.savedAt) >= s.ttl {
		return "", false, false
	}
	return entry.id, entry.miss, true
}

func (s *Store) memSet(ck, id string, miss bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mem[ck] = memEntry{id: id, miss: miss, savedAt: s.now()}
}

func (s *Store) redisGet(ctx context.Context, ck string) (id string, miss bool, ok bool) {
	if s.rdb == nil {
		return "", false, false
	}
	raw, err := s.rdb.Get(ctx, ck).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, false
	}
	if err != nil {
		log.Printf("index: %s tier read %s: %v", s.name, ck, err)
		return "", false, false
	}
	record, err := decodeRecord([]byte(raw))
	if err != nil {
		log.Printf("index: %s tier %s: %v", s.name, ck, err)
		return "", false, false
	}
	return record.ID, record.Miss, true
}

func (s *Store) redisSet(ctx context.Context, ck, id string, miss bool) {
	if s.rdb == nil {
		return
	}
	payload, err := json.Marshal(cacheRecord{ID: id, Miss: miss})
	if err != nil {
		log.Printf("index: %s tier marshal %s: %v", s.name, ck, err)
		return
	}
	if err := s.rdb.Set(ctx, ck, payload, s.ttl).Err(); err != nil {
		log.Printf("index: %s tier write %s: %v", s.name, ck, err)
	}
}

// decodeRecord is the typed decode at the cache boundary: a record
// that is neither a valid hit nor a marked miss fails fast instead of
// propagating an empty id.
func decodeRecord(raw []byte) (cacheRecord, error) {
	var record cacheRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return cacheRecord{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if !record.Miss && record.ID == "" {
		return cacheRecord{}, fmt.Errorf("%w: empty id in positive entry", ErrMalformedRecord)
	}
	return record, nil
}
