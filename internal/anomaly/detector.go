// Package anomaly flags manipulation signatures in a player's recent matches.
// It never rejects anything itself; callers decide what a finding costs.
package anomaly

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/park285/elo-safeguard/internal/config"
	"go.uber.org/zap"
)

type Result string

const (
	Win  Result = "win"
	Loss Result = "loss"
	Draw Result = "draw"
)

// Entry is one finished match from a single player's point of view.
type Entry struct {
	Result    Result
	Duration  int // seconds
	Rounds    int
	EloChange int
	At        time.Time
}

type Kind string

const (
	KindLossStreak       Kind = "loss_streak"
	KindWinRateSpike     Kind = "win_rate_spike"
	KindUniformDuration  Kind = "uniform_duration"
	KindRatingSwing      Kind = "rating_swing"
	KindMultiplePatterns Kind = "multiple_patterns"
)

type Finding struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Report is the outcome of one Detect call.
type Report struct {
	Player        string
	Findings      []Finding
	LifetimeCount int // findings ever recorded for the player, escalation excluded
	WindowCount   int // findings within the trailing escalation window
}

func (r Report) Suspicious() bool { return len(r.Findings) > 0 }

const (
	shardCount      = 32
	streakLookback  = 20
	spikeBlock      = 10
	uniformWindow   = 5
	escalationSpan  = 24 * time.Hour
	DefaultIdleTime = 7 * 24 * time.Hour
)

type playerState struct {
	history  *ring
	findings []time.Time // ascending, trimmed to escalationSpan
	lifetime int
	lastSeen time.Time
}

type shard struct {
	mu      sync.Mutex
	players map[string]*playerState
}

type Detector struct {
	policy config.AnomalyPolicy
	idle   time.Duration
	shards [shardCount]shard
	logger *zap.Logger
}

func New(policy config.AnomalyPolicy, idle time.Duration, logger *zap.Logger) *Detector {
	if policy.HistoryCap < streakLookback {
		policy.HistoryCap = streakLookback
	}
	if idle <= 0 {
		idle = DefaultIdleTime
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Detector{policy: policy, idle: idle, logger: logger}
	for i := range d.shards {
		d.shards[i].players = make(map[string]*playerState)
	}
	return d
}

func playerKey(player string) string { return strings.ToLower(strings.TrimSpace(player)) }

func (d *Detector) shard(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &d.shards[h.Sum32()%shardCount]
}

// Detect appends entry to the player's history and evaluates every rule.
func (d *Detector) Detect(player string, entry Entry, now time.Time) Report {
	key := playerKey(player)
	s := d.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.players[key]
	if !ok {
		st = &playerState{history: newRing(d.policy.HistoryCap)}
		s.players[key] = st
	}
	if entry.At.IsZero() {
		entry.At = now
	}
	st.history.push(entry)
	st.lastSeen = now

	findings := d.evaluate(st.history, entry)
	st.findings = trimBefore(st.findings, now.Add(-escalationSpan))
	for range findings {
		st.findings = append(st.findings, now)
	}
	st.lifetime += len(findings)

	rep := Report{Player: player, LifetimeCount: st.lifetime, WindowCount: len(st.findings)}
	if len(findings) > 0 && len(st.findings) >= d.policy.EscalationThreshold {
		findings = append(findings, Finding{Kind: KindMultiplePatterns, Message: "multiple suspicious patterns detected"})
	}
	rep.Findings = findings

	if len(findings) > 0 {
		d.logger.Warn("suspicious_activity",
			zap.String("player", player),
			zap.Any("findings", findings),
			zap.Int("lifetime_count", rep.LifetimeCount),
			zap.Int("window_count", rep.WindowCount),
		)
	}
	return rep
}

func (d *Detector) evaluate(h *ring, current Entry) []Finding {
	var out []Finding
	if n := lossStreak(h.last(streakLookback)); n >= d.policy.ConsecutiveLossLimit {
		out = append(out, Finding{Kind: KindLossStreak, Message: fmt.Sprintf("%d consecutive losses", n)})
	}
	if h.len() >= 2*spikeBlock {
		recent := h.last(2 * spikeBlock)
		older, newer := winRate(recent[:spikeBlock]), winRate(recent[spikeBlock:])
		if newer-older > d.policy.WinRateSpike {
			out = append(out, Finding{Kind: KindWinRateSpike, Message: fmt.Sprintf("win rate jumped from %.2f to %.2f", older, newer)})
		}
	}
	if h.len() >= uniformWindow {
		if v := durationVariance(h.last(uniformWindow)); v < d.policy.DurationVarianceFloor {
			out = append(out, Finding{Kind: KindUniformDuration, Message: fmt.Sprintf("suspiciously consistent durations (variance %.1f)", v)})
		}
	}
	if abs(current.EloChange) > d.policy.MaxRatingChange {
		out = append(out, Finding{Kind: KindRatingSwing, Message: fmt.Sprintf("rating change %d exceeds %d", current.EloChange, d.policy.MaxRatingChange)})
	}
	return out
}

// lossStreak counts trailing losses, newest first.
func lossStreak(entries []Entry) int {
	n := 0
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Result != Loss {
			break
		}
		n++
	}
	return n
}

func winRate(entries []Entry) float64 {
	if len(entries) == 0 {
		return 0
	}
	wins := 0
	for _, e := range entries {
		if e.Result == Win {
			wins++
		}
	}
	return float64(wins) / float64(len(entries))
}

// durationVariance is the population variance in seconds squared.
func durationVariance(entries []Entry) float64 {
	if len(entries) == 0 {
		return 0
	}
	var sum float64
	for _, e := range entries {
		sum += float64(e.Duration)
	}
	mean := sum / float64(len(entries))
	var sq float64
	for _, e := range entries {
		d := float64(e.Duration) - mean
		sq += d * d
	}
	return sq / float64(len(entries))
}

func trimBefore(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[i:]...)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// Lifetime returns the recorded finding count for player.
func (d *Detector) Lifetime(player string) int {
	key := playerKey(player)
	s := d.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.players[key]; ok {
		return st.lifetime
	}
	return 0
}

// Sweep forgets players idle for longer than the idle retention and
// trims expired finding stamps of the rest. It returns the players dropped.
func (d *Detector) Sweep(now time.Time) int {
	cutoff := now.Add(-d.idle)
	dropped := 0
	for i := range d.shards {
		s := &d.shards[i]
		s.mu.Lock()
		for key, st := range s.players {
			st.findings = trimBefore(st.findings, now.Add(-escalationSpan))
			if st.lastSeen.Before(cutoff) {
				delete(s.players, key)
				dropped++
			}
		}
		s.mu.Unlock()
	}
	return dropped
}
