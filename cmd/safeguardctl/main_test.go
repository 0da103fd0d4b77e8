package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/park285/elo-safeguard/internal/adminauth"
	"github.com/park285/elo-safeguard/internal/config"
	"github.com/park285/elo-safeguard/internal/penalty"
	"github.com/park285/elo-safeguard/pkg/guarddto"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestPolicyShow(t *testing.T) {
	t.Setenv("SAFEGUARD_POLICY_FILE", "")
	out, err := run(t, "policy", "show")
	if err != nil {
		t.Fatalf("policy show: %v", err)
	}
	if !strings.Contains(out, "match_create_per_hour: 10") {
		t.Fatalf("unexpected policy output:\n%s", out)
	}
}

func TestTokenIssueThenVerify(t *testing.T) {
	t.Setenv("SAFEGUARD_TOKEN_SECRET", "ctl-test-secret-0123456")
	t.Setenv("SAFEGUARD_POLICY_FILE", "")
	out, err := run(t, "token", "issue", "42", "Alice", "Bob", "-o", "json")
	if err != nil {
		t.Fatalf("token issue: %v", err)
	}
	var issued struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal([]byte(out), &issued); err != nil || issued.Token == "" {
		t.Fatalf("decode issue output %q: %v", out, err)
	}
	if _, err := run(t, "token", "verify", issued.Token, "42", "Alice", "Bob"); err != nil {
		t.Fatalf("token verify: %v", err)
	}
	if _, err := run(t, "token", "verify", issued.Token, "43", "Alice", "Bob"); err == nil {
		t.Fatalf("mismatched match id verified")
	}
}

func TestTokenIssueNeedsSecret(t *testing.T) {
	t.Setenv("SAFEGUARD_TOKEN_SECRET", "")
	if _, err := run(t, "token", "issue", "1", "A1", "B1"); err == nil {
		t.Fatalf("issued without a secret")
	}
}

func TestAdminHeadersMintVerifiableBearer(t *testing.T) {
	const secret = "ctl-admin-secret-0123456"
	h := adminHeaders(secret)()
	auth, err := adminauth.New(secret)
	if err != nil {
		t.Fatalf("adminauth.New: %v", err)
	}
	claims, err := auth.Verify(h["Authorization"])
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "safeguardctl" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}
	if got := adminHeaders("short")(); got != nil {
		t.Fatalf("short secret produced headers %v", got)
	}
}

func TestPenaltyHistoryFromSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "penalties.db")
	store, err := penalty.OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	m := penalty.NewManager(store, config.DefaultPolicy().Penalty, nil)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if _, err := m.Apply(ctx, "Alice", penalty.TempBan, "abuse", now); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	t.Setenv("DATABASE_URL", "")
	t.Setenv("SAFEGUARD_SQLITE_PATH", path)
	out, err := run(t, "penalty", "history", "alice", "-o", "json")
	if err != nil {
		t.Fatalf("penalty history: %v", err)
	}
	var resp guarddto.PenaltyHistoryResponse
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(resp.Penalties) != 1 || resp.Penalties[0].Type != "temp_ban" || resp.Penalties[0].DurationSeconds != 3600 {
		t.Fatalf("unexpected history %+v", resp)
	}
}

func TestPenaltyHistoryNeedsStore(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SAFEGUARD_SQLITE_PATH", "")
	if _, err := run(t, "penalty", "history", "alice"); err == nil {
		t.Fatalf("history without a store succeeded")
	}
}
