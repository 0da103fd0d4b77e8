package penalty

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/park285/elo-safeguard/internal/config"
)

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "penalties.db")
	store, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	m := NewManager(store, config.DefaultPolicy().Penalty, nil)

	w, err := m.Apply(ctx, "Alice", Warning, "first finding", t0)
	if err != nil {
		t.Fatalf("Apply warning: %v", err)
	}
	ban, err := m.Apply(ctx, "ALICE", TempBan, "abuse", t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("Apply ban: %v", err)
	}
	if ban.Duration != 2*time.Hour {
		t.Fatalf("ban after warning = %v, want 2h", ban.Duration)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// survives reopen
	store, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	history, err := store.History(ctx, "alice")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(history) != 2 || history[0].ID != ban.ID || history[1].ID != w.ID {
		t.Fatalf("unexpected history %+v", history)
	}
	if !history[0].ExpiresAt.Equal(ban.ExpiresAt) || !history[1].ExpiresAt.IsZero() {
		t.Fatalf("expiry lost: %v / %v", history[0].ExpiresAt, history[1].ExpiresAt)
	}
	m = NewManager(store, config.DefaultPolicy().Penalty, nil)
	if banned, _, _ := m.IsBanned(ctx, "Alice", t0.Add(time.Hour)); !banned {
		t.Fatalf("ban not active after reopen")
	}
}
