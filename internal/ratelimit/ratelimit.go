package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/park285/elo-safeguard/internal/config"
	"github.com/park285/elo-safeguard/internal/ledger"
	"github.com/park285/elo-safeguard/pkg/guarddto"
	"go.uber.org/zap"
)

type Action string

const (
	ActionMatchCreate  Action = "match_create"
	ActionAPICall      Action = "api_call"
	ActionRegistration Action = "registration"
)

// Limit names surfaced in RateLimitExceeded errors.
const (
	LimitPlayerHourly    = "player-hourly"
	LimitPlayerDaily     = "player-daily"
	LimitPlayerPerMinute = "player-per-minute"
	LimitIPDaily         = "ip-daily"
)

// Rules maps each action to its windows, evaluated in order.
type Rules map[Action][]ledger.Window

func RulesFromPolicy(p config.RateLimitPolicy) Rules {
	return Rules{
		ActionMatchCreate: {
			{Name: LimitPlayerHourly, Span: time.Hour, Limit: p.MatchCreatePerHour},
			{Name: LimitPlayerDaily, Span: 24 * time.Hour, Limit: p.MatchCreatePerDay},
		},
		ActionAPICall: {
			{Name: LimitPlayerPerMinute, Span: time.Minute, Limit: p.APICallsPerMinute},
		},
		ActionRegistration: {
			{Name: LimitIPDaily, Span: 24 * time.Hour, Limit: p.RegistrationsPerIPDay},
		},
	}
}

type Limiter struct {
	ledger ledger.Ledger
	rules  Rules
	logger *zap.Logger
}

func New(l ledger.Ledger, rules Rules, logger *zap.Logger) (*Limiter, error) {
	if l == nil {
		return nil, fmt.Errorf("ledger is required")
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("rate limit rules are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Limiter{ledger: l, rules: rules, logger: logger}, nil
}

// CheckAndRecord admits or denies one action for key (a player name or an IP).
// Denials come back as a guarddto RateLimitExceeded error naming the window.
func (l *Limiter) CheckAndRecord(ctx context.Context, key string, action Action, now time.Time) (ledger.Decision, error) {
	windows, ok := l.rules[action]
	if !ok {
		return ledger.Decision{}, guarddto.Policy(guarddto.CodeUnknownAction, fmt.Sprintf("unknown action %q", action))
	}
	dec, err := l.ledger.CheckAndRecord(ctx, LedgerKey(action, key), windows, now)
	if err != nil {
		return ledger.Decision{}, guarddto.Unavailable("rate limit", err)
	}
	if !dec.Allowed {
		l.logger.Info("rate_limit_denied",
			zap.String("action", string(action)),
			zap.String("key", normalize(key)),
			zap.String("limit", dec.Window),
			zap.Int("count", dec.Count),
			zap.Duration("retry_after", dec.RetryAfter),
		)
		return dec, guarddto.RateLimited(dec.Window, dec.RetryAfter)
	}
	return dec, nil
}

// CheckAndRecordAll admits the action for every key or for none of them. A
// denial for one key leaves the others' windows untouched.
func (l *Limiter) CheckAndRecordAll(ctx context.Context, keys []string, action Action, now time.Time) (ledger.Decision, error) {
	windows, ok := l.rules[action]
	if !ok {
		return ledger.Decision{}, guarddto.Policy(guarddto.CodeUnknownAction, fmt.Sprintf("unknown action %q", action))
	}
	lkeys := make([]string, len(keys))
	for i, k := range keys {
		lkeys[i] = LedgerKey(action, k)
	}
	dec, err := l.ledger.CheckAndRecordAll(ctx, lkeys, windows, now)
	if err != nil {
		return ledger.Decision{}, guarddto.Unavailable("rate limit", err)
	}
	if !dec.Allowed {
		l.logger.Info("rate_limit_denied",
			zap.String("action", string(action)),
			zap.String("key", strings.TrimPrefix(dec.Key, string(action)+":")),
			zap.String("limit", dec.Window),
			zap.Int("count", dec.Count),
			zap.Duration("retry_after", dec.RetryAfter),
		)
		return dec, guarddto.RateLimited(dec.Window, dec.RetryAfter)
	}
	return dec, nil
}

// Count reports how many actions of this kind key made in the named window.
func (l *Limiter) Count(ctx context.Context, key string, action Action, window string, now time.Time) (int, int, error) {
	for _, w := range l.rules[action] {
		if w.Name != window {
			continue
		}
		n, err := l.ledger.Count(ctx, LedgerKey(action, key), w.Span, now)
		if err != nil {
			return 0, w.Limit, guarddto.Unavailable("rate limit count", err)
		}
		return n, w.Limit, nil
	}
	return 0, 0, guarddto.Policy(guarddto.CodeUnknownAction, fmt.Sprintf("unknown window %q for %q", window, action))
}

// LedgerKey namespaces key by action so limits never share a series.
func LedgerKey(action Action, key string) string {
	return string(action) + ":" + normalize(key)
}

func normalize(key string) string { return strings.ToLower(strings.TrimSpace(key)) }
