package safeguard

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SweepStats counts what one sweep removed.
type SweepStats struct {
	LedgerKeys int
	IPBans     int
	Players    int
	Penalties  int
}

// Sweep prunes every store once. Backend errors are logged and skipped so
// one failing store does not block the others.
func (g *Guard) Sweep(ctx context.Context) SweepStats {
	now := g.clock.Now()
	var st SweepStats
	var err error
	if st.LedgerKeys, err = g.ledger.Sweep(ctx, now); err != nil {
		g.logger.Warn("sweep_failed", zap.String("store", "ledger"), zap.Error(err))
	}
	if st.IPBans, err = g.validator.Sweep(ctx, now); err != nil {
		g.logger.Warn("sweep_failed", zap.String("store", "ip_bans"), zap.Error(err))
	}
	st.Players = g.detector.Sweep(now)
	cutoff := now.Add(-time.Duration(g.policy.Retention.PenaltyAuditDays) * 24 * time.Hour)
	if st.Penalties, err = g.penalties.Sweep(ctx, cutoff); err != nil {
		g.logger.Warn("sweep_failed", zap.String("store", "penalties"), zap.Error(err))
	}
	return st
}

// RunSweeper sweeps on every tick until ctx is done.
func (g *Guard) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := g.Sweep(ctx)
			g.logger.Info("sweep_done",
				zap.Int("ledger_keys", st.LedgerKeys),
				zap.Int("ip_bans", st.IPBans),
				zap.Int("players", st.Players),
				zap.Int("penalties", st.Penalties),
			)
		}
	}
}
