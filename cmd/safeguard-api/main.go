package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/park285/elo-safeguard/internal/adminauth"
	appcfg "github.com/park285/elo-safeguard/internal/config"
	"github.com/park285/elo-safeguard/internal/guardbuilder"
	"github.com/park285/elo-safeguard/internal/httpapi"
	"github.com/park285/elo-safeguard/internal/obslog"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	policy, err := appcfg.LoadPolicyFile(cfg.PolicyFile)
	if err != nil {
		logger.Fatal("policy_load_failed", zap.String("path", cfg.PolicyFile), zap.Error(err))
	}

	deps, err := guardbuilder.New(cfg, policy, obslog.Component("safeguard"))
	if err != nil {
		logger.Fatal("safeguard_init_failed", zap.Error(err))
	}
	defer func() { _ = deps.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go deps.Guard.RunSweeper(ctx, time.Duration(cfg.SweepIntervalSec)*time.Second)

	api := httpapi.New(deps.Guard, cfg.AllowedOrigins, obslog.Component("httpapi"))
	if cfg.AdminJWTSecret != "" {
		auth, err := adminauth.New(cfg.AdminJWTSecret)
		if err != nil {
			logger.Fatal("admin_auth_init_failed", zap.Error(err))
		}
		api.RequireAdmin(auth)
	} else {
		logger.Warn("admin_auth_disabled")
	}
	srv := api.NewHTTPServer()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http_listen", zap.String("addr", cfg.ListenAddr))
		errCh <- srv.ListenAndServe(cfg.ListenAddr)
	}()

	// Wait for termination signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown_signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			logger.Error("http_server_failed", zap.Error(err))
		}
	}

	cancel()
	if err := srv.ShutdownWithContext(context.Background()); err != nil {
		logger.Warn("http_shutdown_failed", zap.Error(err))
	}
}
