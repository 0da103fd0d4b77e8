// Package safeguard is the single entry point the rating service calls
// around a match lifecycle: creation, completion, eligibility and tokens.
package safeguard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/elo-safeguard/internal/anomaly"
	"github.com/park285/elo-safeguard/internal/clock"
	"github.com/park285/elo-safeguard/internal/config"
	"github.com/park285/elo-safeguard/internal/ledger"
	"github.com/park285/elo-safeguard/internal/penalty"
	"github.com/park285/elo-safeguard/internal/ratelimit"
	"github.com/park285/elo-safeguard/internal/token"
	"github.com/park285/elo-safeguard/internal/validator"
	"github.com/park285/elo-safeguard/pkg/guarddto"
	"go.uber.org/zap"
)

const escalationNone = "none"

// Deps are the stores the Guard runs on. Nil stores fall back to in-memory ones.
type Deps struct {
	Ledger    ledger.Ledger
	Bans      validator.BanList
	Penalties penalty.Store
	Tokens    *token.Service
	Clock     clock.Clock
}

type Guard struct {
	policy    config.Policy
	clock     clock.Clock
	ledger    ledger.Ledger
	limiter   *ratelimit.Limiter
	validator *validator.Validator
	detector  *anomaly.Detector
	penalties *penalty.Manager
	tokens    *token.Service
	logger    *zap.Logger
}

func New(deps Deps, policy config.Policy, logger *zap.Logger) (*Guard, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if deps.Tokens == nil {
		return nil, fmt.Errorf("token service is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Ledger == nil {
		deps.Ledger = ledger.NewMemory(policy.LedgerRetention())
	}
	if deps.Bans == nil {
		deps.Bans = validator.NewMemoryBanList()
	}

	limiter, err := ratelimit.New(deps.Ledger, ratelimit.RulesFromPolicy(policy.RateLimits), logger.Named("ratelimit"))
	if err != nil {
		return nil, err
	}
	v, err := validator.New(policy.Match, limiter, deps.Ledger, deps.Bans, logger.Named("validator"))
	if err != nil {
		return nil, err
	}
	idle := time.Duration(policy.Retention.IdlePlayerDays) * 24 * time.Hour

	return &Guard{
		policy:    policy,
		clock:     deps.Clock,
		ledger:    deps.Ledger,
		limiter:   limiter,
		validator: v,
		detector:  anomaly.New(policy.Anomaly, idle, logger.Named("anomaly")),
		penalties: penalty.NewManager(deps.Penalties, policy.Penalty, logger.Named("penalty")),
		tokens:    deps.Tokens,
		logger:    logger,
	}, nil
}

func (g *Guard) Policy() config.Policy { return g.policy }

// ValidateMatchCreation rejects malformed, banned or over-quota match requests
// and records an accepted attempt against both players and the pair.
func (g *Guard) ValidateMatchCreation(ctx context.Context, req guarddto.CreateRequest) error {
	now := g.clock.Now()
	if err := g.validator.CheckNames(req.Player1, req.Player2); err != nil {
		return err
	}
	for _, p := range []string{req.Player1, req.Player2} {
		banned, ban, err := g.penalties.IsBanned(ctx, p, now)
		if err != nil {
			return guarddto.Unavailable("penalty lookup", err)
		}
		if banned {
			return guarddto.Policy(guarddto.CodePlayerBanned, fmt.Sprintf("%s is temporarily banned until %s", p, ban.ExpiresAt.UTC().Format(time.RFC3339)))
		}
	}
	if err := g.validator.ValidateCreation(ctx, req.Player1, req.Player2, req.IP, now); err != nil {
		return err
	}
	g.logger.Debug("match_creation_accepted",
		zap.String("player1", req.Player1),
		zap.String("player2", req.Player2),
		zap.String("session_id", req.SessionID),
	)
	return nil
}

// ValidateMatchCompletion verifies the token (when present, or always when the
// policy requires one) and the match
// summary, then feeds both players' histories to the anomaly detector.
// Findings are logged and may produce penalties; they never fail the call.
func (g *Guard) ValidateMatchCompletion(ctx context.Context, req guarddto.CompletionRequest) error {
	now := g.clock.Now()
	if req.Token == "" && g.policy.Token.RequiredOnCompletion {
		return guarddto.TokenInvalid(guarddto.CodeTokenMissing, nil)
	}
	if req.Token != "" {
		if err := g.tokens.Verify(req.Token, req.MatchID, req.Player1, req.Player2, now); err != nil {
			return guarddto.TokenInvalid(tokenCode(err), err)
		}
	}
	if err := g.validator.ValidateCompletion(req.MatchID, req.DurationSeconds, req.RoundsPlayed, req.Result); err != nil {
		return err
	}

	r1, r2 := outcomes(req.Result)
	g.inspect(ctx, req.MatchID, req.Player1, anomaly.Entry{
		Result: r1, Duration: req.DurationSeconds, Rounds: req.RoundsPlayed, EloChange: req.Player1EloChange, At: now,
	}, now)
	g.inspect(ctx, req.MatchID, req.Player2, anomaly.Entry{
		Result: r2, Duration: req.DurationSeconds, Rounds: req.RoundsPlayed, EloChange: req.Player2EloChange, At: now,
	}, now)
	return nil
}

func outcomes(result string) (anomaly.Result, anomaly.Result) {
	switch result {
	case guarddto.ResultPlayer1Wins:
		return anomaly.Win, anomaly.Loss
	case guarddto.ResultPlayer2Wins:
		return anomaly.Loss, anomaly.Win
	default:
		return anomaly.Draw, anomaly.Draw
	}
}

func (g *Guard) inspect(ctx context.Context, matchID int64, player string, e anomaly.Entry, now time.Time) {
	rep := g.detector.Detect(player, e, now)
	if !rep.Suspicious() {
		return
	}
	msgs := make([]string, 0, len(rep.Findings))
	for _, f := range rep.Findings {
		msgs = append(msgs, f.Message)
	}
	reason := strings.Join(msgs, "; ")

	t := penalty.Warning
	if rep.LifetimeCount > g.policy.Anomaly.WarnWhileFindingsAtMost {
		esc := strings.TrimSpace(g.policy.Anomaly.EscalationPenalty)
		if esc == "" || esc == escalationNone {
			g.logger.Warn("suspicious_activity_unenforced",
				zap.Int64("match_id", matchID),
				zap.String("player", player),
				zap.String("reason", reason),
			)
			return
		}
		parsed, err := penalty.ParseType(esc)
		if err != nil {
			g.logger.Error("escalation_penalty_invalid", zap.String("value", esc), zap.Error(err))
			return
		}
		t = parsed
	}
	if _, err := g.penalties.Apply(ctx, player, t, reason, now); err != nil {
		g.logger.Error("penalty_apply_failed",
			zap.Int64("match_id", matchID),
			zap.String("player", player),
			zap.String("type", string(t)),
			zap.Error(err),
		)
	}
}

func tokenCode(err error) string {
	switch {
	case errors.Is(err, token.ErrExpired):
		return guarddto.CodeTokenExpired
	case errors.Is(err, token.ErrMismatch):
		return guarddto.CodeTokenMismatch
	default:
		return guarddto.CodeTokenMalformed
	}
}

// CheckEligibility reports whether player may start a match right now.
// It reads state only; repeated calls without other activity agree.
func (g *Guard) CheckEligibility(ctx context.Context, player string) (bool, string, error) {
	now := g.clock.Now()
	banned, ban, err := g.penalties.IsBanned(ctx, player, now)
	if err != nil {
		return false, "", guarddto.Unavailable("penalty lookup", err)
	}
	if banned {
		return false, "temporarily banned until " + ban.ExpiresAt.UTC().Format(time.RFC3339), nil
	}
	n, limit, err := g.limiter.Count(ctx, player, ratelimit.ActionMatchCreate, ratelimit.LimitPlayerHourly, now)
	if err != nil {
		return false, "", err
	}
	if n >= limit {
		return false, "hourly match limit reached", nil
	}
	return true, "", nil
}

// IssueMatchToken returns a token for the match and when it stops verifying.
func (g *Guard) IssueMatchToken(matchID int64, player1, player2 string) (string, time.Time, error) {
	now := g.clock.Now()
	tok, err := g.tokens.Issue(matchID, player1, player2, now)
	if err != nil {
		return "", time.Time{}, guarddto.Unavailable("issue token", err)
	}
	return tok, now.Add(g.tokens.TTL()), nil
}

func (g *Guard) VerifyMatchToken(tok string, matchID int64, player1, player2 string) bool {
	return g.tokens.Valid(tok, matchID, player1, player2, g.clock.Now())
}

// RecordAPICall counts one API call against player's per-minute quota.
func (g *Guard) RecordAPICall(ctx context.Context, player string) error {
	_, err := g.limiter.CheckAndRecord(ctx, player, ratelimit.ActionAPICall, g.clock.Now())
	return err
}

// ValidateRegistration admits one account registration from ip.
func (g *Guard) ValidateRegistration(ctx context.Context, ip string) error {
	if strings.TrimSpace(ip) == "" {
		return guarddto.Policy(guarddto.CodeInvalidArgs, "ip is required")
	}
	now := g.clock.Now()
	if err := g.validator.CheckIP(ctx, ip, now); err != nil {
		return err
	}
	_, err := g.limiter.CheckAndRecord(ctx, ip, ratelimit.ActionRegistration, now)
	return err
}

// BanIP bans ip for d, or for the policy default when d <= 0.
func (g *Guard) BanIP(ctx context.Context, ip string, d time.Duration) (time.Time, error) {
	if strings.TrimSpace(ip) == "" {
		return time.Time{}, guarddto.Policy(guarddto.CodeInvalidArgs, "ip is required")
	}
	if d <= 0 {
		d = g.policy.IPBanDuration()
	}
	until, err := g.validator.BanIP(ctx, ip, d, g.clock.Now())
	if err != nil {
		return time.Time{}, guarddto.Unavailable("ip ban", err)
	}
	return until, nil
}

func (g *Guard) ApplyPenalty(ctx context.Context, player, penaltyType, reason string) (*penalty.Penalty, error) {
	t, err := penalty.ParseType(penaltyType)
	if err != nil {
		return nil, guarddto.Policy(guarddto.CodeInvalidArgs, err.Error())
	}
	if strings.TrimSpace(player) == "" {
		return nil, guarddto.Policy(guarddto.CodeInvalidArgs, "player is required")
	}
	p, err := g.penalties.Apply(ctx, player, t, reason, g.clock.Now())
	if err != nil {
		return nil, guarddto.Unavailable("apply penalty", err)
	}
	return p, nil
}

// ValidateRatingChange rejects a rating update for a frozen player or one
// larger than the per-match maximum.
func (g *Guard) ValidateRatingChange(ctx context.Context, player string, delta int) error {
	frozen, p, err := g.penalties.IsRatingFrozen(ctx, player, g.clock.Now())
	if err != nil {
		return guarddto.Unavailable("penalty lookup", err)
	}
	if frozen {
		return guarddto.Policy(guarddto.CodeRatingFrozen, "rating frozen until "+p.ExpiresAt.UTC().Format(time.RFC3339))
	}
	if limit := g.policy.Anomaly.MaxRatingChange; delta > limit || delta < -limit {
		return guarddto.Policy(guarddto.CodeRatingSwing, fmt.Sprintf("rating change %d exceeds %d", delta, limit))
	}
	return nil
}

func (g *Guard) PenaltyHistory(ctx context.Context, player string) ([]*penalty.Penalty, error) {
	h, err := g.penalties.History(ctx, player)
	if err != nil {
		return nil, guarddto.Unavailable("penalty history", err)
	}
	return h, nil
}
