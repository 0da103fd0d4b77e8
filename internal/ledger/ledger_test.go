package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var hourly = []Window{
	{Name: "player-hourly", Span: time.Hour, Limit: 10},
	{Name: "player-daily", Span: 24 * time.Hour, Limit: 50},
}

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(func() { mr.Close() })
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedis(rdb, DefaultRetention)
}

// backends runs fn against every Ledger implementation.
func backends(t *testing.T, fn func(t *testing.T, l Ledger)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory(DefaultRetention)) })
	t.Run("redis", func(t *testing.T) { fn(t, newTestRedis(t)) })
}

func TestEleventhInHourDenied(t *testing.T) {
	backends(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		for i := 0; i < 10; i++ {
			dec, err := l.CheckAndRecord(ctx, "match_create:p", hourly, t0.Add(time.Duration(i)*time.Minute))
			if err != nil || !dec.Allowed {
				t.Fatalf("call %d: allowed=%v err=%v", i+1, dec.Allowed, err)
			}
		}
		dec, err := l.CheckAndRecord(ctx, "match_create:p", hourly, t0.Add(30*time.Minute))
		if err != nil {
			t.Fatalf("CheckAndRecord: %v", err)
		}
		if dec.Allowed || dec.Window != "player-hourly" || dec.Count != 10 {
			t.Fatalf("expected hourly denial, got %+v", dec)
		}
		// oldest entry at t0 leaves the window at t0+1h
		if dec.RetryAfter != 30*time.Minute {
			t.Fatalf("unexpected retry after: %s", dec.RetryAfter)
		}
		// denied call was not recorded
		n, _ := l.Count(ctx, "match_create:p", time.Hour, t0.Add(30*time.Minute))
		if n != 10 {
			t.Fatalf("expected 10 recorded, got %d", n)
		}
	})
}

func TestWindowBoundaryIsExclusive(t *testing.T) {
	backends(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		w := []Window{{Name: "w", Span: time.Minute, Limit: 1}}
		if dec, _ := l.CheckAndRecord(ctx, "k", w, t0); !dec.Allowed {
			t.Fatalf("first call denied")
		}
		if dec, _ := l.CheckAndRecord(ctx, "k", w, t0.Add(59*time.Second)); dec.Allowed {
			t.Fatalf("second call inside window allowed")
		}
		// entry at exactly now-span is not counted
		if dec, _ := l.CheckAndRecord(ctx, "k", w, t0.Add(time.Minute)); !dec.Allowed {
			t.Fatalf("call at boundary denied")
		}
	})
}

func TestDailyWindowTripsAfterHourlyResets(t *testing.T) {
	backends(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		now := t0
		allowed := 0
		// 10 per hour for 6 hours = 60 attempts, daily cap 50
		for h := 0; h < 6; h++ {
			for i := 0; i < 10; i++ {
				dec, err := l.CheckAndRecord(ctx, "k", hourly, now)
				if err != nil {
					t.Fatalf("CheckAndRecord: %v", err)
				}
				if dec.Allowed {
					allowed++
				} else if dec.Window != "player-daily" {
					t.Fatalf("unexpected window %q at hour %d", dec.Window, h)
				}
				now = now.Add(time.Minute)
			}
			now = now.Add(time.Hour)
		}
		if allowed != 50 {
			t.Fatalf("expected 50 allowed, got %d", allowed)
		}
	})
}

func TestConcurrentCheckAndRecordNeverOvershoots(t *testing.T) {
	backends(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		var ok int32
		var wg sync.WaitGroup
		for i := 0; i < 40; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				dec, err := l.CheckAndRecord(ctx, "race", hourly, t0)
				if err == nil && dec.Allowed {
					atomic.AddInt32(&ok, 1)
				}
			}()
		}
		wg.Wait()
		if ok > 10 {
			t.Fatalf("limit overshot: %d allowed", ok)
		}
		n, _ := l.Count(ctx, "race", time.Hour, t0)
		if n != int(ok) {
			t.Fatalf("recorded %d, allowed %d", n, ok)
		}
	})
}

func TestRecordAndCount(t *testing.T) {
	backends(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			if err := l.Record(ctx, "pair:a|b", t0.Add(time.Duration(i)*20*time.Minute)); err != nil {
				t.Fatalf("Record: %v", err)
			}
		}
		n, err := l.Count(ctx, "pair:a|b", time.Hour, t0.Add(61*time.Minute))
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if n != 2 {
			t.Fatalf("expected 2 in window, got %d", n)
		}
	})
}

func TestMemorySweepDropsIdleKeys(t *testing.T) {
	m := NewMemory(DefaultRetention)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_ = m.Record(ctx, fmt.Sprintf("k%d", i), t0)
	}
	_ = m.Record(ctx, "fresh", t0.Add(20*time.Hour))
	removed, err := m.Sweep(ctx, t0.Add(25*time.Hour))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 5 || m.Keys() != 1 {
		t.Fatalf("expected 5 removed and 1 kept, got removed=%d keys=%d", removed, m.Keys())
	}
}

func TestMemoryKeepsStampsNonDecreasing(t *testing.T) {
	m := NewMemory(DefaultRetention)
	ctx := context.Background()
	_ = m.Record(ctx, "k", t0.Add(time.Minute))
	_ = m.Record(ctx, "k", t0) // late writer
	n, _ := m.Count(ctx, "k", 30*time.Second, t0.Add(time.Minute))
	if n != 2 {
		t.Fatalf("late record should be clamped forward, got %d in window", n)
	}
}

func TestCheckAndRecordAllIsAllOrNothing(t *testing.T) {
	backends(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		w := []Window{{Name: "player-hourly", Span: time.Hour, Limit: 2}}
		for i := 0; i < 2; i++ {
			if dec, _ := l.CheckAndRecord(ctx, "carol", w, t0); !dec.Allowed {
				t.Fatalf("seed %d denied", i)
			}
		}
		for i := 0; i < 3; i++ {
			dec, err := l.CheckAndRecordAll(ctx, []string{"dave", "carol"}, w, t0.Add(time.Minute))
			if err != nil {
				t.Fatalf("CheckAndRecordAll: %v", err)
			}
			if dec.Allowed || dec.Key != "carol" || dec.Window != "player-hourly" {
				t.Fatalf("unexpected decision %+v", dec)
			}
		}
		if n, _ := l.Count(ctx, "dave", time.Hour, t0.Add(time.Minute)); n != 0 {
			t.Fatalf("dave charged %d times for denied requests", n)
		}

		dec, err := l.CheckAndRecordAll(ctx, []string{"dave", "erin", "dave"}, w, t0)
		if err != nil || !dec.Allowed {
			t.Fatalf("fresh keys denied: %+v %v", dec, err)
		}
		for _, k := range []string{"dave", "erin"} {
			if n, _ := l.Count(ctx, k, time.Hour, t0); n != 1 {
				t.Fatalf("%s count = %d, want 1", k, n)
			}
		}
	})
}
