// Package store implements the namespaced TTL cache on Redis with an
// in-process LRU tier for decoded entries.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/slopecraft/terrain-cache/internal/cache"
	"github.com/slopecraft/terrain-cache/internal/cache/keys"
	"github.com/slopecraft/terrain-cache/internal/cache/redisstore"
	"github.com/slopecraft/terrain-cache/internal/core/model"
	"github.com/slopecraft/terrain-cache/internal/core/observability"
)

const entryVersion = 1

// envelope is the persisted form of a cache entry. Expiry is checked lazily
// on every read in addition to the server-side Redis TTL, so entries that
// outlive their stated lifetime (clock skew, persistence reload) still read
// as misses.
type envelope struct {
	Key       string          `json:"key"`
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"createdAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
	Data      json.RawMessage `json:"data"`
}

type Store struct {
	log    *slog.Logger
	cli    *redisstore.Client
	mem    *lru.Cache[string, envelope]
	hits   atomic.Uint64
	misses atomic.Uint64
	now    func() time.Time // for tests
}

var _ cache.Interface = (*Store)(nil)

func New(log *slog.Logger, cli *redisstore.Client, memSize int) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if memSize <= 0 {
		memSize = 256
	}
	mem, err := lru.New[string, envelope](memSize)
	if err != nil {
		return nil, fmt.Errorf("lru tier: %w", err)
	}
	return &Store{log: log, cli: cli, mem: mem, now: time.Now}, nil
}

func storageKey(ns, key string) string { return ns + ":" + key }
func indexKey(ns string) string        { return "idx:" + ns }
func sizeKey(ns string) string         { return "sz:" + ns }
func groupKey(ns, group string) string { return "grp:" + ns + ":" + group }
func groupsKey(ns string) string       { return "grps:" + ns }

func (s *Store) Put(ctx context.Context, ns, key string, v any, ttl time.Duration, opts ...cache.PutOption) error {
	var o cache.PutOptions
	for _, f := range opts {
		f(&o)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s:%s: %w", ns, key, err)
	}
	now := s.now()
	env := envelope{
		Key:       key,
		Version:   entryVersion,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		Data:      data,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope %s:%s: %w", ns, key, err)
	}

	sk := storageKey(ns, key)
	if err := s.cli.Set(ctx, sk, payload, ttl); err != nil {
		return fmt.Errorf("put %s: %w", sk, err)
	}
	if err := s.cli.SAdd(ctx, indexKey(ns), key); err != nil {
		return fmt.Errorf("index %s: %w", sk, err)
	}
	if err := s.cli.HSetInt(ctx, sizeKey(ns), key, int64(len(payload))); err != nil {
		return fmt.Errorf("size index %s: %w", sk, err)
	}
	if o.Group != "" {
		if err := s.cli.SAdd(ctx, groupKey(ns, o.Group), key); err != nil {
			return fmt.Errorf("group index %s: %w", sk, err)
		}
		if err := s.cli.SAdd(ctx, groupsKey(ns), o.Group); err != nil {
			return fmt.Errorf("group registry %s: %w", sk, err)
		}
	}

	s.mem.Add(sk, env)
	return nil
}

func (s *Store) Get(ctx context.Context, ns, key string, out any) (bool, error) {
	sk := storageKey(ns, key)

	if env, ok := s.mem.Get(sk); ok {
		if s.now().After(env.ExpiresAt) {
			s.mem.Remove(sk)
			s.expireAsync(ns, key)
			s.miss(ns)
			return false, nil
		}
		s.hit(ns)
		if out != nil {
			if err := json.Unmarshal(env.Data, out); err != nil {
				return false, fmt.Errorf("decode %s: %w", sk, err)
			}
		}
		return true, nil
	}

	env, ok, err := s.read(ctx, sk)
	if err != nil {
		return false, err
	}
	if !ok {
		s.miss(ns)
		return false, nil
	}
	if s.now().After(env.ExpiresAt) {
		// lazy expiry: the read triggers cleanup, no background sweeper
		s.expireAsync(ns, key)
		s.miss(ns)
		return false, nil
	}

	s.hit(ns)
	s.mem.Add(sk, env)
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return false, fmt.Errorf("decode %s: %w", sk, err)
		}
	}
	return true, nil
}

// Peek checks presence and freshness without touching the hit/miss counters
// or the memory tier.
func (s *Store) Peek(ctx context.Context, ns, key string) (bool, error) {
	env, ok, err := s.read(ctx, storageKey(ns, key))
	if err != nil {
		return false, err
	}
	if !ok || s.now().After(env.ExpiresAt) {
		return false, nil
	}
	return true, nil
}

func (s *Store) read(ctx context.Context, sk string) (envelope, bool, error) {
	raw, ok, err := s.cli.Get(ctx, sk)
	if err != nil {
		return envelope{}, false, fmt.Errorf("get %s: %w", sk, err)
	}
	if !ok {
		return envelope{}, false, nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, false, fmt.Errorf("decode envelope %s: %w", sk, err)
	}
	return env, true, nil
}

func (s *Store) Invalidate(ctx context.Context, ns string, ks ...string) error {
	if len(ks) == 0 {
		return nil
	}
	sks := make([]string, len(ks))
	for i, k := range ks {
		sks[i] = storageKey(ns, k)
		s.mem.Remove(sks[i])
	}
	if err := s.cli.Del(ctx, sks...); err != nil {
		return fmt.Errorf("invalidate %s (%d keys): %w", ns, len(ks), err)
	}
	if err := s.cli.SRem(ctx, indexKey(ns), ks...); err != nil {
		return fmt.Errorf("invalidate index %s: %w", ns, err)
	}
	if err := s.cli.HDel(ctx, sizeKey(ns), ks...); err != nil {
		return fmt.Errorf("invalidate size index %s: %w", ns, err)
	}
	return nil
}

// Clear removes every namespace in a single DEL so no partial-clear state is
// visible to a concurrent reader, and resets the hit/miss counters.
func (s *Store) Clear(ctx context.Context) error {
	var doomed []string
	for _, ns := range cache.Namespaces() {
		members, err := s.cli.SMembers(ctx, indexKey(ns))
		if err != nil {
			return fmt.Errorf("clear %s: %w", ns, err)
		}
		for _, k := range members {
			doomed = append(doomed, storageKey(ns, k))
		}
		groups, err := s.cli.SMembers(ctx, groupsKey(ns))
		if err != nil {
			return fmt.Errorf("clear %s groups: %w", ns, err)
		}
		for _, g := range groups {
			doomed = append(doomed, groupKey(ns, g))
		}
		doomed = append(doomed, indexKey(ns), sizeKey(ns), groupsKey(ns))
	}
	if err := s.cli.Del(ctx, doomed...); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	s.mem.Purge()
	s.hits.Store(0)
	s.misses.Store(0)
	return nil
}

// Stats prunes index entries whose values have expired out of Redis, then
// reports live counts and sizes, so expired entries stop being counted.
func (s *Store) Stats(ctx context.Context) (cache.Stats, error) {
	var st cache.Stats
	for _, ns := range cache.Namespaces() {
		members, err := s.cli.SMembers(ctx, indexKey(ns))
		if err != nil {
			return cache.Stats{}, fmt.Errorf("stats %s: %w", ns, err)
		}
		if len(members) == 0 {
			continue
		}
		sks := make([]string, len(members))
		for i, k := range members {
			sks[i] = storageKey(ns, k)
		}
		exists, err := s.cli.ExistsEach(ctx, sks)
		if err != nil {
			return cache.Stats{}, fmt.Errorf("stats %s: %w", ns, err)
		}
		var dead []string
		for i, k := range members {
			if !exists[sks[i]] {
				dead = append(dead, k)
			} else {
				st.EntryCount++
			}
		}
		if len(dead) > 0 {
			if err := s.cli.SRem(ctx, indexKey(ns), dead...); err != nil {
				return cache.Stats{}, fmt.Errorf("stats prune %s: %w", ns, err)
			}
			if err := s.cli.HDel(ctx, sizeKey(ns), dead...); err != nil {
				return cache.Stats{}, fmt.Errorf("stats prune sizes %s: %w", ns, err)
			}
		}
		vals, err := s.cli.HVals(ctx, sizeKey(ns))
		if err != nil {
			return cache.Stats{}, fmt.Errorf("stats sizes %s: %w", ns, err)
		}
		for _, v := range vals {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				st.TotalSizeEstimate += n
			}
		}
	}

	st.Hits = s.hits.Load()
	st.Misses = s.misses.Load()
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total)
	}
	return st, nil
}

// KeysForGroup returns the live members of a group. Members whose entries
// have since been invalidated or expired out of Redis are pruned from the
// group set on the way, so callers never act on dead keys.
func (s *Store) KeysForGroup(ctx context.Context, ns, group string) ([]string, error) {
	gk := groupKey(ns, group)
	members, err := s.cli.SMembers(ctx, gk)
	if err != nil {
		return nil, fmt.Errorf("group %s/%s: %w", ns, group, err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	sks := make([]string, len(members))
	for i, k := range members {
		sks[i] = storageKey(ns, k)
	}
	exists, err := s.cli.ExistsEach(ctx, sks)
	if err != nil {
		return nil, fmt.Errorf("group %s/%s: %w", ns, group, err)
	}

	live := make([]string, 0, len(members))
	var dead []string
	for i, k := range members {
		if exists[sks[i]] {
			live = append(live, k)
		} else {
			dead = append(dead, k)
		}
	}
	if len(dead) > 0 {
		if err := s.cli.SRem(ctx, gk, dead...); err != nil {
			s.log.Warn("group prune failed", "namespace", ns, "group", group, "err", err)
		}
	}
	return live, nil
}

// IsAvailableOffline is true iff both a fresh TerrainResult for the
// boundary fingerprint and a fresh run definition exist; it never derives
// readiness from partial data.
func (s *Store) IsAvailableOffline(ctx context.Context, runID, boundaryFP string, size model.GridSize) (bool, error) {
	terrainOK, err := s.Peek(ctx, cache.NamespaceTerrain, keys.Terrain(boundaryFP, size))
	if err != nil {
		return false, err
	}
	if !terrainOK {
		return false, nil
	}
	runOK, err := s.Peek(ctx, cache.NamespaceRuns, keys.Run(runID))
	if err != nil {
		return false, err
	}
	return runOK, nil
}

func (s *Store) hit(ns string) {
	s.hits.Add(1)
	observability.IncCacheHit(ns)
}

func (s *Store) miss(ns string) {
	s.misses.Add(1)
	observability.IncCacheMiss(ns)
}

// expireAsync deletes an expired entry without blocking the read path.
func (s *Store) expireAsync(ns, key string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.Invalidate(ctx, ns, key); err != nil {
			s.log.Warn("expired entry cleanup failed", "namespace", ns, "key", key, "err", err)
		}
	}()
}
