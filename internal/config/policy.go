package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Policy holds every tunable threshold of the safeguard engine.
type Policy struct {
	RateLimits RateLimitPolicy `yaml:"rate_limits"`
	Match      MatchPolicy     `yaml:"match"`
	Anomaly    AnomalyPolicy   `yaml:"anomaly"`
	Penalty    PenaltyPolicy   `yaml:"penalty"`
	Token      TokenPolicy     `yaml:"token"`
	Retention  RetentionPolicy `yaml:"retention"`
}

type RateLimitPolicy struct {
	MatchCreatePerHour    int `yaml:"match_create_per_hour"`
	MatchCreatePerDay     int `yaml:"match_create_per_day"`
	APICallsPerMinute     int `yaml:"api_calls_per_minute"`
	RegistrationsPerIPDay int `yaml:"registrations_per_ip_per_day"`
}

type MatchPolicy struct {
	MinDurationSec        int `yaml:"min_duration_seconds"`
	MaxDurationSec        int `yaml:"max_duration_seconds"`
	MinRounds             int `yaml:"min_rounds"`
	MinSecondsPerRound    int `yaml:"min_seconds_per_round"`
	MaxSecondsPerRound    int `yaml:"max_seconds_per_round"`
	MaxPairMatchesPerHour int `yaml:"max_pair_matches_per_hour"`
	NameMinLen            int `yaml:"name_min_length"`
	NameMaxLen            int `yaml:"name_max_length"`
	IPBanSeconds          int `yaml:"ip_ban_seconds"`
}

type AnomalyPolicy struct {
	MaxRatingChange         int     `yaml:"max_rating_change_per_match"`
	ConsecutiveLossLimit    int     `yaml:"consecutive_loss_threshold"`
	WinRateSpike            float64 `yaml:"win_rate_spike_threshold"`
	DurationVarianceFloor   float64 `yaml:"duration_variance_floor"`
	EscalationThreshold     int     `yaml:"suspicious_pattern_threshold"`
	WarnWhileFindingsAtMost int     `yaml:"warn_while_findings_at_most"`
	EscalationPenalty       string  `yaml:"escalation_penalty"`
	HistoryCap              int     `yaml:"history_cap"`
}

type PenaltyPolicy struct {
	BaseTempBanSec     int     `yaml:"base_temp_ban_seconds"`
	BaseFreezeSec      int     `yaml:"base_rating_freeze_seconds"`
	MultiplierBase     float64 `yaml:"escalation_multiplier_base"`
	LookbackDays       int     `yaml:"escalation_lookback_days"`
	MaxMultiplierSteps int     `yaml:"max_multiplier_steps"`
}

type TokenPolicy struct {
	TTLSec     int `yaml:"ttl_seconds"`
	MaxSkewSec int `yaml:"max_clock_skew_seconds"`

	// RequiredOnCompletion rejects completions that carry no token.
	RequiredOnCompletion bool `yaml:"required_on_completion"`
}

type RetentionPolicy struct {
	LedgerHours      int `yaml:"ledger_hours"`
	IdlePlayerDays   int `yaml:"idle_player_days"`
	PenaltyAuditDays int `yaml:"penalty_days"`
}

func DefaultPolicy() Policy {
	return Policy{
		RateLimits: RateLimitPolicy{
			MatchCreatePerHour:    10,
			MatchCreatePerDay:     50,
			APICallsPerMinute:     30,
			RegistrationsPerIPDay: 5,
		},
		Match: MatchPolicy{
			MinDurationSec:        30,
			MaxDurationSec:        3600,
			MinRounds:             3,
			MinSecondsPerRound:    10,
			MaxSecondsPerRound:    300,
			MaxPairMatchesPerHour: 5,
			NameMinLen:            2,
			NameMaxLen:            20,
			IPBanSeconds:          3600,
		},
		Anomaly: AnomalyPolicy{
			MaxRatingChange:         50,
			ConsecutiveLossLimit:    10,
			WinRateSpike:            0.8,
			DurationVarianceFloor:   100,
			EscalationThreshold:     5,
			WarnWhileFindingsAtMost: 3,
			EscalationPenalty:       "rating_freeze",
			HistoryCap:              100,
		},
		Penalty: PenaltyPolicy{
			BaseTempBanSec:     3600,
			BaseFreezeSec:      86400,
			MultiplierBase:     2,
			LookbackDays:       7,
			MaxMultiplierSteps: 10,
		},
		Token: TokenPolicy{
			TTLSec:     3600,
			MaxSkewSec: 60,
		},
		Retention: RetentionPolicy{
			LedgerHours:      24,
			IdlePlayerDays:   7,
			PenaltyAuditDays: 30,
		},
	}
}

// LoadPolicyFile overlays a YAML file on DefaultPolicy. An empty path returns the defaults.
func LoadPolicyFile(path string) (Policy, error) {
	p := DefaultPolicy()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p Policy) Validate() error {
	positive := map[string]int{
		"rate_limits.match_create_per_hour":        p.RateLimits.MatchCreatePerHour,
		"rate_limits.match_create_per_day":         p.RateLimits.MatchCreatePerDay,
		"rate_limits.api_calls_per_minute":         p.RateLimits.APICallsPerMinute,
		"rate_limits.registrations_per_ip_per_day": p.RateLimits.RegistrationsPerIPDay,
		"match.max_duration_seconds":               p.Match.MaxDurationSec,
		"match.max_seconds_per_round":              p.Match.MaxSecondsPerRound,
		"match.max_pair_matches_per_hour":          p.Match.MaxPairMatchesPerHour,
		"match.name_max_length":                    p.Match.NameMaxLen,
		"anomaly.history_cap":                      p.Anomaly.HistoryCap,
		"penalty.base_temp_ban_seconds":            p.Penalty.BaseTempBanSec,
		"penalty.base_rating_freeze_seconds":       p.Penalty.BaseFreezeSec,
		"penalty.max_multiplier_steps":             p.Penalty.MaxMultiplierSteps,
		"token.ttl_seconds":                        p.Token.TTLSec,
		"retention.ledger_hours":                   p.Retention.LedgerHours,
	}
	for name, v := range positive {
		if v <= 0 {
			return fmt.Errorf("policy %s must be greater than 0", name)
		}
	}
	if p.Match.MinRounds < 1 {
		return fmt.Errorf("policy match.min_rounds must be at least 1")
	}
	if p.Match.MinDurationSec > p.Match.MaxDurationSec {
		return fmt.Errorf("policy match duration bounds inverted: %d > %d", p.Match.MinDurationSec, p.Match.MaxDurationSec)
	}
	if p.Match.MinSecondsPerRound > p.Match.MaxSecondsPerRound {
		return fmt.Errorf("policy pace bounds inverted: %d > %d", p.Match.MinSecondsPerRound, p.Match.MaxSecondsPerRound)
	}
	if p.Match.NameMinLen > p.Match.NameMaxLen {
		return fmt.Errorf("policy name length bounds inverted: %d > %d", p.Match.NameMinLen, p.Match.NameMaxLen)
	}
	if p.Penalty.MultiplierBase < 1 {
		return fmt.Errorf("policy penalty.escalation_multiplier_base must be >= 1")
	}
	if p.Retention.LedgerHours < 24 {
		// the daily windows need a full day of history
		return fmt.Errorf("policy retention.ledger_hours must be >= 24")
	}
	switch strings.ToLower(strings.TrimSpace(p.Anomaly.EscalationPenalty)) {
	case "", "none", "warning", "temp_ban", "rating_freeze":
	default:
		return fmt.Errorf("policy anomaly.escalation_penalty %q unknown", p.Anomaly.EscalationPenalty)
	}
	return nil
}

// Durations derived from the integer policy fields.

func (p Policy) LedgerRetention() time.Duration {
	return time.Duration(p.Retention.LedgerHours) * time.Hour
}

func (p Policy) TokenTTL() time.Duration { return time.Duration(p.Token.TTLSec) * time.Second }

func (p Policy) IPBanDuration() time.Duration {
	return time.Duration(p.Match.IPBanSeconds) * time.Second
}

// Marshal renders the policy as YAML.
func (p Policy) Marshal() ([]byte, error) { return yaml.Marshal(p) }
