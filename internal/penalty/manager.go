package penalty

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/park285/elo-safeguard/internal/config"
	"github.com/park285/elo-safeguard/internal/keylock"
	"go.uber.org/zap"
)

var ErrUnknownType = errors.New("unknown penalty type")

type Manager struct {
	store  Store
	policy config.PenaltyPolicy
	locks  *keylock.Striped
	logger *zap.Logger
}

func NewManager(store Store, policy config.PenaltyPolicy, logger *zap.Logger) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, policy: policy, locks: keylock.New(0), logger: logger}
}

func (m *Manager) lookback() time.Duration {
	return time.Duration(m.policy.LookbackDays) * 24 * time.Hour
}

// MaxDuration bounds any single penalty; scaled durations are clamped to it.
const MaxDuration = 10 * 365 * 24 * time.Hour

// multiplier is base^n where n counts the player's penalties created in the
// trailing lookback window, capped at MaxMultiplierSteps.
func (m *Manager) multiplier(history []*Penalty, now time.Time) float64 {
	cutoff := now.Add(-m.lookback())
	n := 0
	for _, p := range history {
		if p.CreatedAt.After(cutoff) {
			n++
		}
	}
	if m.policy.MaxMultiplierSteps > 0 && n > m.policy.MaxMultiplierSteps {
		n = m.policy.MaxMultiplierSteps
	}
	return math.Pow(m.policy.MultiplierBase, float64(n))
}

func (m *Manager) baseDuration(t Type) time.Duration {
	switch t {
	case TempBan:
		return time.Duration(m.policy.BaseTempBanSec) * time.Second
	case RatingFreeze:
		return time.Duration(m.policy.BaseFreezeSec) * time.Second
	default:
		return 0
	}
}

func scale(base time.Duration, mult float64) time.Duration {
	d := float64(base) * mult
	if math.IsNaN(d) || d >= float64(MaxDuration) {
		return MaxDuration
	}
	return time.Duration(d)
}

// Apply records a new penalty, scaling its duration by the escalation multiplier.
func (m *Manager) Apply(ctx context.Context, player string, t Type, reason string, now time.Time) (*Penalty, error) {
	if strings.TrimSpace(player) == "" {
		return nil, fmt.Errorf("empty player")
	}
	switch t {
	case Warning, TempBan, RatingFreeze:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}

	unlock := m.locks.Lock(playerKey(player))
	defer unlock()

	history, err := m.store.History(ctx, player)
	if err != nil {
		return nil, fmt.Errorf("load penalty history: %w", err)
	}
	mult := m.multiplier(history, now)

	p := &Penalty{
		ID:        uuid.New(),
		Player:    player,
		Type:      t,
		Reason:    reason,
		CreatedAt: now,
	}
	if base := m.baseDuration(t); base > 0 {
		p.Duration = scale(base, mult)
		p.ExpiresAt = now.Add(p.Duration)
	}
	if err := m.store.Append(ctx, p); err != nil {
		return nil, fmt.Errorf("store penalty: %w", err)
	}
	m.logger.Info("penalty_applied",
		zap.String("player", player),
		zap.String("type", string(t)),
		zap.String("reason", reason),
		zap.Float64("multiplier", mult),
		zap.Duration("duration", p.Duration),
	)
	return p, nil
}

// IsBanned returns the newest temp ban still in force, if any.
func (m *Manager) IsBanned(ctx context.Context, player string, now time.Time) (bool, *Penalty, error) {
	return m.activeOf(ctx, player, TempBan, now)
}

// IsRatingFrozen returns the newest rating freeze still in force, if any.
func (m *Manager) IsRatingFrozen(ctx context.Context, player string, now time.Time) (bool, *Penalty, error) {
	return m.activeOf(ctx, player, RatingFreeze, now)
}

func (m *Manager) activeOf(ctx context.Context, player string, t Type, now time.Time) (bool, *Penalty, error) {
	history, err := m.store.History(ctx, player)
	if err != nil {
		return false, nil, fmt.Errorf("load penalty history: %w", err)
	}
	for _, p := range history {
		if p.Type == t && p.Active(now) {
			return true, p, nil
		}
	}
	return false, nil, nil
}

func (m *Manager) History(ctx context.Context, player string) ([]*Penalty, error) {
	return m.store.History(ctx, player)
}

// Sweep forwards the retention cutoff to the store.
func (m *Manager) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	return m.store.Sweep(ctx, cutoff)
}
