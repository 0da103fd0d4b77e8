package anomaly

import (
	"testing"
	"time"

	"github.com/park285/elo-safeguard/internal/config"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDetector() *Detector {
	return New(config.DefaultPolicy().Anomaly, 0, nil)
}

func hasKind(r Report, k Kind) bool {
	for _, f := range r.Findings {
		if f.Kind == k {
			return true
		}
	}
	return false
}

// varied returns durations far enough apart to never look uniform.
func varied(i int) int { return 60 + (i%7)*45 }

func TestRingKeepsNewest(t *testing.T) {
	r := newRing(3)
	for i := 1; i <= 5; i++ {
		r.push(Entry{Duration: i})
	}
	got := r.last(10)
	if len(got) != 3 || got[0].Duration != 3 || got[2].Duration != 5 {
		t.Fatalf("unexpected ring contents: %+v", got)
	}
	if got := r.last(2); got[0].Duration != 4 || got[1].Duration != 5 {
		t.Fatalf("last(2) = %+v", got)
	}
}

func TestLossStreak(t *testing.T) {
	d := newTestDetector()
	var rep Report
	for i := 0; i < 10; i++ {
		rep = d.Detect("Alice", Entry{Result: Loss, Duration: varied(i), Rounds: 5}, t0.Add(time.Duration(i)*time.Minute))
		if i < 9 && hasKind(rep, KindLossStreak) {
			t.Fatalf("streak flagged early at %d", i+1)
		}
	}
	if !hasKind(rep, KindLossStreak) {
		t.Fatalf("10th loss not flagged: %+v", rep)
	}
	rep = d.Detect("alice", Entry{Result: Win, Duration: 300, Rounds: 5}, t0.Add(time.Hour))
	if hasKind(rep, KindLossStreak) {
		t.Fatalf("win should break the streak")
	}
}

func TestWinRateSpike(t *testing.T) {
	d := newTestDetector()
	var rep Report
	for i := 0; i < 20; i++ {
		res := Loss
		if i >= 10 {
			res = Win
		}
		if i == 5 {
			res = Draw
		}
		rep = d.Detect("Bob", Entry{Result: res, Duration: varied(i), Rounds: 5}, t0.Add(time.Duration(i)*time.Minute))
		if i < 19 && hasKind(rep, KindWinRateSpike) {
			t.Fatalf("spike flagged with only %d entries", i+1)
		}
	}
	if !hasKind(rep, KindWinRateSpike) {
		t.Fatalf("0.0 -> 1.0 not flagged: %+v", rep)
	}
}

func TestWinRateSpikeNeedsMoreThanThreshold(t *testing.T) {
	d := newTestDetector()
	var rep Report
	for i := 0; i < 20; i++ {
		// older block 1/10 wins, newer 9/10: diff 0.8, not above
		res := Loss
		if i == 0 || (i >= 10 && i != 19) {
			res = Win
		}
		rep = d.Detect("Carl", Entry{Result: res, Duration: varied(i), Rounds: 5}, t0.Add(time.Duration(i)*time.Minute))
	}
	if hasKind(rep, KindWinRateSpike) {
		t.Fatalf("0.8 jump must not be flagged: %+v", rep)
	}
}

func TestUniformDurations(t *testing.T) {
	d := newTestDetector()
	var rep Report
	for i, dur := range []int{120, 125, 118, 122, 121} {
		rep = d.Detect("Dana", Entry{Result: Win, Duration: dur, Rounds: 5}, t0.Add(time.Duration(i)*time.Minute))
		if i < 4 && hasKind(rep, KindUniformDuration) {
			t.Fatalf("uniform flagged with %d entries", i+1)
		}
	}
	if !hasKind(rep, KindUniformDuration) {
		t.Fatalf("near-identical durations not flagged")
	}

	d2 := newTestDetector()
	for i, dur := range []int{60, 200, 90, 400, 150} {
		rep = d2.Detect("Eve", Entry{Result: Win, Duration: dur, Rounds: 5}, t0.Add(time.Duration(i)*time.Minute))
	}
	if hasKind(rep, KindUniformDuration) {
		t.Fatalf("varied durations flagged")
	}
}

func TestRatingSwing(t *testing.T) {
	d := newTestDetector()
	if rep := d.Detect("Finn", Entry{Result: Win, Duration: 100, EloChange: 50}, t0); hasKind(rep, KindRatingSwing) {
		t.Fatalf("50 is within bounds")
	}
	if rep := d.Detect("Finn", Entry{Result: Loss, Duration: 400, EloChange: -51}, t0); !hasKind(rep, KindRatingSwing) {
		t.Fatalf("-51 not flagged")
	}
}

func TestEscalationAfterFiveFindings(t *testing.T) {
	d := newTestDetector()
	var rep Report
	for i := 0; i < 5; i++ {
		rep = d.Detect("Gus", Entry{Result: Win, Duration: varied(i), EloChange: 80}, t0.Add(time.Duration(i)*time.Minute))
		if i < 4 && hasKind(rep, KindMultiplePatterns) {
			t.Fatalf("escalated after %d findings", i+1)
		}
	}
	if !hasKind(rep, KindMultiplePatterns) {
		t.Fatalf("5th finding did not escalate: %+v", rep)
	}
	if rep.LifetimeCount != 5 || rep.WindowCount != 5 {
		t.Fatalf("counts = %d/%d, want 5/5", rep.LifetimeCount, rep.WindowCount)
	}

	// a day later the window has drained but the lifetime count remains
	rep = d.Detect("Gus", Entry{Result: Win, Duration: 999, EloChange: 80}, t0.Add(25*time.Hour))
	if hasKind(rep, KindMultiplePatterns) {
		t.Fatalf("stale findings still escalate")
	}
	if rep.LifetimeCount != 6 || rep.WindowCount != 1 {
		t.Fatalf("counts = %d/%d, want 6/1", rep.LifetimeCount, rep.WindowCount)
	}
}

func TestCleanMatchIsNotSuspicious(t *testing.T) {
	d := newTestDetector()
	rep := d.Detect("Hana", Entry{Result: Win, Duration: 300, Rounds: 6, EloChange: 12}, t0)
	if rep.Suspicious() || rep.LifetimeCount != 0 {
		t.Fatalf("clean match flagged: %+v", rep)
	}
}

func TestSweepDropsIdlePlayers(t *testing.T) {
	d := newTestDetector()
	d.Detect("Ivy", Entry{Result: Win, Duration: 100, EloChange: 90}, t0)
	d.Detect("Jon", Entry{Result: Win, Duration: 100}, t0.Add(6*24*time.Hour))
	if n := d.Sweep(t0.Add(7*24*time.Hour + time.Minute)); n != 1 {
		t.Fatalf("Sweep dropped %d, want 1", n)
	}
	if d.Lifetime("Ivy") != 0 {
		t.Fatalf("idle player not forgotten")
	}
}
