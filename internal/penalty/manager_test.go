package penalty

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/park285/elo-safeguard/internal/config"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestManager() *Manager {
	return NewManager(NewMemoryStore(), config.DefaultPolicy().Penalty, nil)
}

func TestTempBanDoublesWithinLookback(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	first, err := m.Apply(ctx, "Alice", TempBan, "abuse", t0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if first.Duration != time.Hour {
		t.Fatalf("first ban = %v, want 1h", first.Duration)
	}
	second, err := m.Apply(ctx, "alice", TempBan, "abuse", t0.Add(2*24*time.Hour))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if second.Duration != 2*first.Duration {
		t.Fatalf("second ban = %v, want %v", second.Duration, 2*first.Duration)
	}
	if !second.ExpiresAt.Equal(t0.Add(2*24*time.Hour + 2*time.Hour)) {
		t.Fatalf("unexpected expiry %v", second.ExpiresAt)
	}
}

func TestMultiplierResetsAfterLookback(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	if _, err := m.Apply(ctx, "Bob", RatingFreeze, "swing", t0); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	p, err := m.Apply(ctx, "Bob", RatingFreeze, "swing", t0.Add(8*24*time.Hour))
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if p.Duration != 24*time.Hour {
		t.Fatalf("freeze after lookback = %v, want 24h", p.Duration)
	}
}

func TestWarningHasNoExpiryButCounts(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	w, err := m.Apply(ctx, "Cara", Warning, "first finding", t0)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !w.ExpiresAt.IsZero() || w.Duration != 0 || w.Active(t0) {
		t.Fatalf("warning should carry no duration: %+v", w)
	}
	ban, _ := m.Apply(ctx, "Cara", TempBan, "abuse", t0.Add(time.Minute))
	if ban.Duration != 2*time.Hour {
		t.Fatalf("ban after warning = %v, want 2h", ban.Duration)
	}
}

func TestIsBannedAndFrozen(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	if banned, _, _ := m.IsBanned(ctx, "Dan", t0); banned {
		t.Fatalf("fresh player banned")
	}
	_, _ = m.Apply(ctx, "Dan", TempBan, "abuse", t0)
	banned, p, err := m.IsBanned(ctx, "DAN", t0.Add(30*time.Minute))
	if err != nil || !banned || p == nil || p.Type != TempBan {
		t.Fatalf("IsBanned = %v %+v %v", banned, p, err)
	}
	if frozen, _, _ := m.IsRatingFrozen(ctx, "Dan", t0); frozen {
		t.Fatalf("ban must not freeze rating")
	}
	if banned, _, _ := m.IsBanned(ctx, "Dan", t0.Add(time.Hour)); banned {
		t.Fatalf("ban still active at expiry")
	}
}

func TestUnknownTypeRejected(t *testing.T) {
	m := newTestManager()
	if _, err := m.Apply(context.Background(), "Eve", Type("perma_ban"), "", t0); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
	if _, err := ParseType("TEMP_BAN"); err != nil {
		t.Fatalf("ParseType: %v", err)
	}
	if _, err := ParseType("mute"); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("ParseType(mute) = %v", err)
	}
}

func TestConcurrentApplyEscalatesEachStep(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.Apply(ctx, "Finn", TempBan, "abuse", t0)
		}()
	}
	wg.Wait()
	history, _ := m.History(ctx, "Finn")
	seen := map[time.Duration]bool{}
	for _, p := range history {
		seen[p.Duration] = true
	}
	for _, d := range []time.Duration{time.Hour, 2 * time.Hour, 4 * time.Hour, 8 * time.Hour} {
		if !seen[d] {
			t.Fatalf("missing escalation step %v in %v", d, seen)
		}
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	_, _ = m.Apply(ctx, "Gil", Warning, "old", t0)
	_, _ = m.Apply(ctx, "Gil", TempBan, "recent", t0.Add(40*24*time.Hour))
	n, err := m.Sweep(ctx, t0.Add(30*24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("Sweep = %d, %v", n, err)
	}
	history, _ := m.History(ctx, "Gil")
	if len(history) != 1 || history[0].Reason != "recent" {
		t.Fatalf("unexpected history %+v", history)
	}
}

func TestHistoryNewestFirst(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	for i, r := range []string{"a", "b", "c"} {
		_, _ = m.Apply(ctx, "Hal", Warning, r, t0.Add(time.Duration(i)*time.Hour))
	}
	history, _ := m.History(ctx, "Hal")
	if len(history) != 3 || history[0].Reason != "c" || history[2].Reason != "a" {
		t.Fatalf("unexpected order %+v", history)
	}
}

func TestUncappedEscalationClampsDuration(t *testing.T) {
	policy := config.DefaultPolicy().Penalty
	policy.MaxMultiplierSteps = 0
	m := NewManager(NewMemoryStore(), policy, nil)
	ctx := context.Background()
	var last *Penalty
	for i := 0; i < 18; i++ {
		p, err := m.Apply(ctx, "Mallory", RatingFreeze, "repeat", t0.Add(time.Duration(i)*time.Second))
		if err != nil {
			t.Fatalf("Apply %d: %v", i+1, err)
		}
		if p.Duration <= 0 || !p.ExpiresAt.After(p.CreatedAt) {
			t.Fatalf("freeze %d: duration=%v expires=%v", i+1, p.Duration, p.ExpiresAt)
		}
		last = p
	}
	if last.Duration != MaxDuration {
		t.Fatalf("18th freeze duration = %v, want clamp %v", last.Duration, MaxDuration)
	}
	if frozen, _, _ := m.IsRatingFrozen(ctx, "Mallory", t0.Add(time.Hour)); !frozen {
		t.Fatalf("clamped freeze not active")
	}
}
