package ledger

import (
	"context"
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

const shardCount = 32

type memShard struct {
	mu     sync.Mutex
	series map[string][]time.Time // ascending
}

// Memory is an in-process Ledger sharded by key hash.
type Memory struct {
	shards    [shardCount]memShard
	retention time.Duration
}

func NewMemory(retention time.Duration) *Memory {
	if retention <= 0 {
		retention = DefaultRetention
	}
	m := &Memory{retention: retention}
	for i := range m.shards {
		m.shards[i].series = make(map[string][]time.Time)
	}
	return m
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % shardCount)
}

func (m *Memory) shard(key string) *memShard { return &m.shards[shardIndex(key)] }

// lockShards takes every shard the keys hash to, in ascending index order.
func (m *Memory) lockShards(keys []string) func() {
	idx := make([]int, 0, len(keys))
	seen := make(map[int]bool, len(keys))
	for _, k := range keys {
		if i := shardIndex(k); !seen[i] {
			seen[i] = true
			idx = append(idx, i)
		}
	}
	sort.Ints(idx)
	for _, i := range idx {
		m.shards[i].mu.Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			m.shards[idx[j]].mu.Unlock()
		}
	}
}

func (m *Memory) CheckAndRecord(_ context.Context, key string, windows []Window, now time.Time) (Decision, error) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	stamps := m.prune(s.series[key], now)
	now = clampForward(stamps, now)
	dec := evaluate(stamps, windows, now)
	if dec.Allowed {
		stamps = append(stamps, now)
		dec.Count = len(stamps)
	}
	s.store(key, stamps)
	return dec, nil
}

func (m *Memory) CheckAndRecordAll(_ context.Context, keys []string, windows []Window, now time.Time) (Decision, error) {
	keys = distinct(keys)
	unlock := m.lockShards(keys)
	defer unlock()

	series := make([][]time.Time, len(keys))
	for i, key := range keys {
		stamps := m.prune(m.shard(key).series[key], now)
		if dec := evaluate(stamps, windows, clampForward(stamps, now)); !dec.Allowed {
			dec.Key = key
			return dec, nil
		}
		series[i] = stamps
	}

	dec := Decision{Allowed: true}
	for i, key := range keys {
		stamps := append(series[i], clampForward(series[i], now))
		m.shard(key).store(key, stamps)
		if i == 0 {
			dec.Count = len(stamps)
		}
	}
	return dec, nil
}

func (m *Memory) Count(_ context.Context, key string, span time.Duration, now time.Time) (int, error) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	stamps := s.series[key]
	return len(stamps) - firstAfter(stamps, now.Add(-span)), nil
}

func (m *Memory) Record(_ context.Context, key string, now time.Time) error {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	stamps := m.prune(s.series[key], now)
	s.store(key, append(stamps, clampForward(stamps, now)))
	return nil
}

func (m *Memory) Sweep(_ context.Context, now time.Time) (int, error) {
	removed := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		for key, stamps := range s.series {
			kept := m.prune(stamps, now)
			if len(kept) == 0 {
				delete(s.series, key)
				removed++
				continue
			}
			s.series[key] = kept
		}
		s.mu.Unlock()
	}
	return removed, nil
}

// Keys reports how many keys are held; used by tests and the sweeper log.
func (m *Memory) Keys() int {
	n := 0
	for i := range m.shards {
		s := &m.shards[i]
		s.mu.Lock()
		n += len(s.series)
		s.mu.Unlock()
	}
	return n
}

func (m *Memory) prune(stamps []time.Time, now time.Time) []time.Time {
	i := firstAfter(stamps, now.Add(-m.retention))
	if i == 0 {
		return stamps
	}
	return append(stamps[:0:0], stamps[i:]...)
}

func (s *memShard) store(key string, stamps []time.Time) {
	if len(stamps) == 0 {
		delete(s.series, key)
		return
	}
	s.series[key] = stamps
}

// clampForward keeps stamps non-decreasing when a caller's clock lags the last write.
func clampForward(stamps []time.Time, now time.Time) time.Time {
	if n := len(stamps); n > 0 && now.Before(stamps[n-1]) {
		return stamps[n-1]
	}
	return now
}
