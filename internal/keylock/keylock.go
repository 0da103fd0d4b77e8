package keylock

import (
	"hash/fnv"
	"sync"
)

const defaultStripes = 64

// Striped serializes work per key with a fixed pool of mutexes.
// Distinct keys may share a stripe; the same key always maps to one.
type Striped struct {
	stripes []sync.Mutex
	mask    uint32
}

// New rounds n up to a power of two. n <= 0 uses the default.
func New(n int) *Striped {
	if n <= 0 {
		n = defaultStripes
	}
	size := 1
	for size < n {
		size <<= 1
	}
	return &Striped{stripes: make([]sync.Mutex, size), mask: uint32(size - 1)}
}

// Lock acquires the stripe for key and returns its unlock func.
func (s *Striped) Lock(key string) func() {
	mu := &s.stripes[s.index(key)]
	mu.Lock()
	return mu.Unlock
}

func (s *Striped) index(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() & s.mask
}
