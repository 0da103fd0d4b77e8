package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

const minTokenSecretLen = 16

type AppConfig struct {
	ListenAddr string

	TokenSecret string

	RedisURL    string
	DatabaseURL string
	SQLitePath  string

	AdminJWTSecret string

	PolicyFile       string
	SweepIntervalSec int

	AllowedOrigins []string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:       ":8088",
		SweepIntervalSec: 300,
	}

	if v := strings.TrimSpace(os.Getenv("SAFEGUARD_LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	cfg.TokenSecret = strings.TrimSpace(os.Getenv("SAFEGUARD_TOKEN_SECRET"))

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.SQLitePath = strings.TrimSpace(os.Getenv("SAFEGUARD_SQLITE_PATH"))
	cfg.PolicyFile = strings.TrimSpace(os.Getenv("SAFEGUARD_POLICY_FILE"))
	cfg.AdminJWTSecret = strings.TrimSpace(os.Getenv("SAFEGUARD_ADMIN_JWT_SECRET"))

	if v := strings.TrimSpace(os.Getenv("SAFEGUARD_SWEEP_INTERVAL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SweepIntervalSec = n
		}
	}

	if v := strings.TrimSpace(os.Getenv("SAFEGUARD_ALLOWED_ORIGINS")); v != "" {
		for _, p := range strings.Split(v, ",") {
			s := strings.TrimSpace(p)
			if s != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, s)
			}
		}
	}

	if cfg.TokenSecret == "" {
		return nil, errors.New("SAFEGUARD_TOKEN_SECRET is required")
	}
	if len(cfg.TokenSecret) < minTokenSecretLen {
		return nil, errors.New("SAFEGUARD_TOKEN_SECRET must be at least 16 bytes")
	}

	if cfg.AdminJWTSecret != "" && len(cfg.AdminJWTSecret) < minTokenSecretLen {
		return nil, errors.New("SAFEGUARD_ADMIN_JWT_SECRET must be at least 16 bytes")
	}

	return cfg, nil
}
