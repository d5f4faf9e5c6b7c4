package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/zenzefi/gateway/internal/core"
)

// MemoryStore is a process-local Store used when Redis is unavailable
// and in tests. TTLs and window trimming are evaluated against the
// injected clock so tests can advance time.
type MemoryStore struct {
	clock core.Clock

	mu   sync.Mutex
	kv   map[string]memEntry
	sets map[string]map[string]float64 // key -> member -> score
	ttl  map[string]time.Time          // sorted-set expiry
}

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func NewMemoryStore(clock core.Clock) *MemoryStore {
	return &MemoryStore{
		clock: clock,
		kv:    make(map[string]memEntry),
		sets:  make(map[string]map[string]float64),
		ttl:   make(map[string]time.Time),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.kv[key]
	if !ok {
		return nil, ErrMiss
	}
	if !e.expiresAt.IsZero() && !s.clock.Now().Before(e.expiresAt) {
		delete(s.kv, key)
		return nil, ErrMiss
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.clock.Now().Add(ttl)
	}
	s.kv[key] = e
	return nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.kv, k)
		delete(s.sets, k)
		delete(s.ttl, k)
	}
	return nil
}

func (s *MemoryStore) set(key string) map[string]float64 {
	if exp, ok := s.ttl[key]; ok && !s.clock.Now().Before(exp) {
		delete(s.sets, key)
		delete(s.ttl, key)
	}
	m, ok := s.sets[key]
	if !ok {
		m = make(map[string]float64)
		s.sets[key] = m
	}
	return m
}

func (s *MemoryStore) ZRemRangeByScore(_ context.Context, key string, min, max float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.set(key)
	for member, score := range m {
		if score >= min && score <= max {
			delete(m, member)
		}
	}
	return nil
}

func (s *MemoryStore) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.set(key))), nil
}

func (s *MemoryStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set(key)[member] = score
	return nil
}

func (s *MemoryStore) ZOldestScore(_ context.Context, key string) (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.set(key)
	if len(m) == 0 {
		return 0, false, nil
	}
	scores := make([]float64, 0, len(m))
	for _, score := range m {
		scores = append(scores, score)
	}
	sort.Float64s(scores)
	return scores[0], true, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttl[key] = s.clock.Now().Add(ttl)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
