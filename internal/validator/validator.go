package validator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/park285/elo-safeguard/internal/config"
	"github.com/park285/elo-safeguard/internal/keylock"
	"github.com/park285/elo-safeguard/internal/ledger"
	"github.com/park285/elo-safeguard/internal/ratelimit"
	"github.com/park285/elo-safeguard/pkg/guarddto"
	"go.uber.org/zap"
)

const pairWindow = time.Hour

type Validator struct {
	policy  config.MatchPolicy
	limiter *ratelimit.Limiter
	pairs   ledger.Ledger
	bans    BanList
	locks   *keylock.Striped
	logger  *zap.Logger
}

func New(policy config.MatchPolicy, limiter *ratelimit.Limiter, pairs ledger.Ledger, bans BanList, logger *zap.Logger) (*Validator, error) {
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if pairs == nil {
		return nil, fmt.Errorf("pair ledger is required")
	}
	if bans == nil {
		bans = NewMemoryBanList()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		policy:  policy,
		limiter: limiter,
		pairs:   pairs,
		bans:    bans,
		locks:   keylock.New(0),
		logger:  logger,
	}, nil
}

// CheckNames runs the stateless creation rules: name shape and self-play.
func (v *Validator) CheckNames(player1, player2 string) error {
	for _, name := range []string{player1, player2} {
		if !validName(name, v.policy.NameMinLen, v.policy.NameMaxLen) {
			return guarddto.Policy(guarddto.CodeInvalidName, "invalid name")
		}
	}
	if strings.EqualFold(strings.TrimSpace(player1), strings.TrimSpace(player2)) {
		return guarddto.Policy(guarddto.CodeSelfPlay, "self-play not allowed")
	}
	return nil
}

// ValidateCreation checks a match-creation request and, when it passes,
// records the attempt against both players and the pair.
func (v *Validator) ValidateCreation(ctx context.Context, player1, player2, ip string, now time.Time) error {
	if err := v.CheckNames(player1, player2); err != nil {
		return err
	}

	pair := PairKey(player1, player2)
	pairKey := "pair:" + pair
	// count-then-record for one pair must not interleave
	unlock := v.locks.Lock(pairKey)
	defer unlock()

	n, err := v.pairs.Count(ctx, pairKey, pairWindow, now)
	if err != nil {
		return guarddto.Unavailable("pair attempts", err)
	}
	if n >= v.policy.MaxPairMatchesPerHour {
		v.logger.Info("pair_limit_denied", zap.String("pair", pair), zap.Int("count", n))
		return guarddto.Policy(guarddto.CodePairLimit, "too many matches between same players")
	}

	if err := v.CheckIP(ctx, ip, now); err != nil {
		return err
	}

	// both players or neither
	if _, err := v.limiter.CheckAndRecordAll(ctx, []string{player1, player2}, ratelimit.ActionMatchCreate, now); err != nil {
		return err
	}

	if err := v.pairs.Record(ctx, pairKey, now); err != nil {
		return guarddto.Unavailable("pair attempts", err)
	}
	return nil
}

// ValidateCompletion checks a finished match's summary against static bounds.
// Every violated rule is listed in the message; the code is the first one hit.
func (v *Validator) ValidateCompletion(matchID int64, durationSec, rounds int, result string) error {
	p := v.policy
	var (
		code    string
		reasons []string
	)
	fail := func(c, reason string) {
		if code == "" {
			code = c
		}
		reasons = append(reasons, reason)
	}

	if durationSec < p.MinDurationSec || durationSec > p.MaxDurationSec {
		fail(guarddto.CodeBadDuration, fmt.Sprintf("duration %ds outside [%d, %d]", durationSec, p.MinDurationSec, p.MaxDurationSec))
	}
	if rounds < p.MinRounds {
		fail(guarddto.CodeBadRounds, fmt.Sprintf("rounds %d below minimum %d", rounds, p.MinRounds))
	}
	switch result {
	case guarddto.ResultPlayer1Wins, guarddto.ResultPlayer2Wins, guarddto.ResultDraw:
	default:
		fail(guarddto.CodeBadResult, fmt.Sprintf("result %q not recognized", result))
	}
	if err := v.CheckPace(durationSec, rounds); err != nil {
		fail(guarddto.CodeSuspiciousPacing, err.Error())
	}

	if code == "" {
		return nil
	}
	v.logger.Info("match_completion_rejected",
		zap.Int64("match_id", matchID),
		zap.String("code", code),
		zap.Strings("reasons", reasons),
	)
	return guarddto.Policy(code, "match rejected: "+strings.Join(reasons, "; "))
}

// CheckPace rejects average seconds-per-round outside the policy bounds
// (inclusive). Zero or negative rounds are left to the rounds rule.
func (v *Validator) CheckPace(durationSec, rounds int) error {
	if rounds <= 0 {
		return nil
	}
	pace := float64(durationSec) / float64(rounds)
	if pace < float64(v.policy.MinSecondsPerRound) || pace > float64(v.policy.MaxSecondsPerRound) {
		return guarddto.Policy(guarddto.CodeSuspiciousPacing, fmt.Sprintf("suspicious pacing: %.1fs per round", pace))
	}
	return nil
}

// CheckIP rejects a currently banned ip. An empty ip passes.
func (v *Validator) CheckIP(ctx context.Context, ip string, now time.Time) error {
	if strings.TrimSpace(ip) == "" {
		return nil
	}
	until, banned, err := v.bans.Check(ctx, ip, now)
	if err != nil {
		return guarddto.Unavailable("ip ban check", err)
	}
	if banned {
		return guarddto.Policy(guarddto.CodeIPBanned, fmt.Sprintf("ip temporarily banned until %s", until.UTC().Format(time.RFC3339)))
	}
	return nil
}

// BanIP bans ip until now+d.
func (v *Validator) BanIP(ctx context.Context, ip string, d time.Duration, now time.Time) (time.Time, error) {
	until := now.Add(d)
	if err := v.bans.Ban(ctx, ip, now, until); err != nil {
		return time.Time{}, err
	}
	v.logger.Info("ip_banned", zap.String("ip", normalizeIP(ip)), zap.Time("until", until))
	return until, nil
}

func (v *Validator) Sweep(ctx context.Context, now time.Time) (int, error) {
	return v.bans.Sweep(ctx, now)
}
