package guardbuilder

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/park285/elo-safeguard/internal/config"
	"github.com/park285/elo-safeguard/internal/ledger"
	"github.com/park285/elo-safeguard/internal/penalty"
	"github.com/park285/elo-safeguard/internal/safeguard"
	"github.com/park285/elo-safeguard/internal/token"
	"github.com/park285/elo-safeguard/internal/validator"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Deps struct {
	Guard  *safeguard.Guard
	Redis  *redis.Client
	DB     *sql.DB
	SQLite *penalty.SQLiteStore
}

// Close releases the shared backends. Safe on a partially built Deps.
func (d *Deps) Close() error {
	if d == nil {
		return nil
	}
	var errs []error
	if d.Redis != nil {
		errs = append(errs, d.Redis.Close())
	}
	if d.DB != nil {
		errs = append(errs, d.DB.Close())
	}
	if d.SQLite != nil {
		errs = append(errs, d.SQLite.Close())
	}
	return errors.Join(errs...)
}

// New wires the Guard. Redis and a penalty database are optional: without
// REDIS_URL the windows and IP bans live in process memory. Penalties go to
// Postgres (DATABASE_URL), else SQLite (SAFEGUARD_SQLITE_PATH), else memory.
func New(cfg *config.AppConfig, policy config.Policy, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	deps := &Deps{}
	var sgDeps safeguard.Deps

	// Ledger + IP bans (Redis optional)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = rdb.Ping(ctx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		deps.Redis = rdb
		sgDeps.Ledger = ledger.NewRedis(rdb, policy.LedgerRetention())
		sgDeps.Bans = validator.NewRedisBanList(rdb)
		logger.Info("ledger_backend", zap.String("backend", "redis"), zap.String("addr", opts.Addr))
	} else {
		sgDeps.Ledger = ledger.NewMemory(policy.LedgerRetention())
		sgDeps.Bans = validator.NewMemoryBanList()
		logger.Info("ledger_backend", zap.String("backend", "memory"))
	}

	// Penalties (Postgres, SQLite or memory)
	switch {
	case strings.TrimSpace(cfg.DatabaseURL) != "":
		db, err := penalty.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			_ = deps.Close()
			return nil, err
		}
		deps.DB = db
		store := penalty.NewPostgresStore(db)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = store.EnsureSchema(ctx)
		cancel()
		if err != nil {
			_ = deps.Close()
			return nil, err
		}
		sgDeps.Penalties = store
		logger.Info("penalty_backend", zap.String("backend", "postgres"))
	case strings.TrimSpace(cfg.SQLitePath) != "":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store, err := penalty.OpenSQLite(ctx, cfg.SQLitePath)
		cancel()
		if err != nil {
			_ = deps.Close()
			return nil, err
		}
		deps.SQLite = store
		sgDeps.Penalties = store
		logger.Info("penalty_backend", zap.String("backend", "sqlite"), zap.String("path", cfg.SQLitePath))
	default:
		sgDeps.Penalties = penalty.NewMemoryStore()
		logger.Info("penalty_backend", zap.String("backend", "memory"))
	}

	tokens, err := token.NewService(cfg.TokenSecret, policy.TokenTTL(), time.Duration(policy.Token.MaxSkewSec)*time.Second)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}
	sgDeps.Tokens = tokens

	guard, err := safeguard.New(sgDeps, policy, logger)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}
	deps.Guard = guard
	return deps, nil
}
