package keylock

import (
	"sync"
	"testing"
)

func TestNewRoundsToPowerOfTwo(t *testing.T) {
	s := New(10)
	if len(s.stripes) != 16 {
		t.Fatalf("expected 16 stripes, got %d", len(s.stripes))
	}
	if d := New(0); len(d.stripes) != defaultStripes {
		t.Fatalf("expected default stripes, got %d", len(d.stripes))
	}
}

func TestLockSerializesSameKey(t *testing.T) {
	s := New(4)
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := s.Lock("alice|bob")
			v := counter
			counter = v + 1
			unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("lost updates: counter=%d", counter)
	}
}
