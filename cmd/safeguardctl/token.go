package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/park285/elo-safeguard/internal/token"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue or verify match tokens with the local secret",
}

var tokenIssueCmd = &cobra.Command{
	Use:   "issue <match-id> <player1> <player2>",
	Short: "Issue a match token",
	Args:  cobra.ExactArgs(3),
	RunE:  runTokenIssue,
}

var tokenVerifyCmd = &cobra.Command{
	Use:   "verify <token> <match-id> <player1> <player2>",
	Short: "Verify a match token",
	Args:  cobra.ExactArgs(4),
	RunE:  runTokenVerify,
}

func init() {
	tokenCmd.AddCommand(tokenIssueCmd, tokenVerifyCmd)
	rootCmd.AddCommand(tokenCmd)
}

func tokenService() (*token.Service, error) {
	policy, err := loadPolicy()
	if err != nil {
		return nil, err
	}
	secret := strings.TrimSpace(os.Getenv("SAFEGUARD_TOKEN_SECRET"))
	if secret == "" {
		return nil, fmt.Errorf("SAFEGUARD_TOKEN_SECRET is required")
	}
	return token.NewService(secret, policy.TokenTTL(), time.Duration(policy.Token.MaxSkewSec)*time.Second)
}

func parseMatchID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("match id %q: %w", s, err)
	}
	return id, nil
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	svc, err := tokenService()
	if err != nil {
		return err
	}
	id, err := parseMatchID(args[0])
	if err != nil {
		return err
	}
	now := time.Now()
	tok, err := svc.Issue(id, args[1], args[2], now)
	if err != nil {
		return err
	}
	return printValue(cmd.OutOrStdout(), map[string]any{
		"token":      tok,
		"expires_at": now.Add(svc.TTL()).UTC(),
	})
}

func runTokenVerify(cmd *cobra.Command, args []string) error {
	svc, err := tokenService()
	if err != nil {
		return err
	}
	id, err := parseMatchID(args[1])
	if err != nil {
		return err
	}
	if err := svc.Verify(args[0], id, args[2], args[3], time.Now()); err != nil {
		_ = printValue(cmd.OutOrStdout(), map[string]any{"valid": false, "reason": err.Error()})
		return fmt.Errorf("token rejected: %w", err)
	}
	return printValue(cmd.OutOrStdout(), map[string]any{"valid": true})
}
