package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("SAFEGUARD_TOKEN_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without secret")
	}
	t.Setenv("SAFEGUARD_TOKEN_SECRET", "short")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for short secret")
	}
}

func TestLoadDefaultsAndOverrides(t *testing.T) {
	t.Setenv("SAFEGUARD_TOKEN_SECRET", "0123456789abcdef0123")
	t.Setenv("SAFEGUARD_SWEEP_INTERVAL_SEC", "not-a-number")
	t.Setenv("SAFEGUARD_ALLOWED_ORIGINS", " a.example , ,b.example")
	t.Setenv("SAFEGUARD_LISTEN_ADDR", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ListenAddr != ":8088" || cfg.SweepIntervalSec != 300 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "b.example" {
		t.Fatalf("unexpected origins: %v", cfg.AllowedOrigins)
	}
}

func TestLoadAdminSecret(t *testing.T) {
	t.Setenv("SAFEGUARD_TOKEN_SECRET", "0123456789abcdef0123")
	t.Setenv("SAFEGUARD_SQLITE_PATH", " /tmp/penalties.db ")
	t.Setenv("SAFEGUARD_ADMIN_JWT_SECRET", "tiny")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for short admin secret")
	}
	t.Setenv("SAFEGUARD_ADMIN_JWT_SECRET", "admin-secret-0123456789")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AdminJWTSecret != "admin-secret-0123456789" || cfg.SQLitePath != "/tmp/penalties.db" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestDefaultPolicyValid(t *testing.T) {
	p := DefaultPolicy()
	if err := p.Validate(); err != nil {
		t.Fatalf("default policy invalid: %v", err)
	}
	if p.RateLimits.MatchCreatePerHour != 10 || p.Token.TTLSec != 3600 || p.Penalty.MultiplierBase != 2 {
		t.Fatalf("unexpected defaults: %+v", p)
	}
}

func TestValidateRejectsUncappedEscalation(t *testing.T) {
	p := DefaultPolicy()
	p.Penalty.MaxMultiplierSteps = 0
	if err := p.Validate(); err == nil || !strings.Contains(err.Error(), "max_multiplier_steps") {
		t.Fatalf("expected max_multiplier_steps error, got %v", err)
	}
}

func TestLoadPolicyFileTokenRequired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	if err := os.WriteFile(path, []byte("token:\n  required_on_completion: true\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("LoadPolicyFile: %v", err)
	}
	if !p.Token.RequiredOnCompletion || p.Token.TTLSec != 3600 {
		t.Fatalf("token overlay not applied: %+v", p.Token)
	}
	if DefaultPolicy().Token.RequiredOnCompletion {
		t.Fatalf("default policy should accept tokenless completions")
	}
}

func TestLoadPolicyFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	body := "rate_limits:\n  match_create_per_hour: 3\npenalty:\n  base_temp_ban_seconds: 60\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	p, err := LoadPolicyFile(path)
	if err != nil {
		t.Fatalf("LoadPolicyFile: %v", err)
	}
	if p.RateLimits.MatchCreatePerHour != 3 || p.Penalty.BaseTempBanSec != 60 {
		t.Fatalf("overlay not applied: %+v", p)
	}
	// untouched fields keep defaults
	if p.RateLimits.MatchCreatePerDay != 50 || p.Match.MinRounds != 3 {
		t.Fatalf("defaults lost: %+v", p)
	}
}

func TestLoadPolicyFileRejectsInvertedBounds(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	body := "match:\n  min_duration_seconds: 500\n  max_duration_seconds: 100\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err := LoadPolicyFile(path)
	if err == nil || !strings.Contains(err.Error(), "duration bounds") {
		t.Fatalf("expected duration bounds error, got %v", err)
	}
}

func TestPolicyMarshalRoundTripsKeys(t *testing.T) {
	raw, err := DefaultPolicy().Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(raw), "match_create_per_hour: 10") {
		t.Fatalf("missing key in yaml:\n%s", raw)
	}
}
