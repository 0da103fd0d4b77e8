package main

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/park285/elo-safeguard/internal/adminauth"
	"github.com/park285/elo-safeguard/pkg/guardclient"
	"github.com/park285/elo-safeguard/pkg/guarddto"
)

var serverURL string

var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Query a running safeguard-api",
}

var remoteHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check /healthz",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := remoteContext()
		defer cancel()
		if err := remoteClient().Health(ctx); err != nil {
			return err
		}
		return printValue(cmd.OutOrStdout(), map[string]bool{"ok": true})
	},
}

var remoteEligibilityCmd = &cobra.Command{
	Use:   "eligibility <player>",
	Short: "Ask whether a player may start a match",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := remoteContext()
		defer cancel()
		resp, err := remoteClient().Eligibility(ctx, args[0])
		if err != nil {
			return err
		}
		return printValue(cmd.OutOrStdout(), resp)
	},
}

var remotePenaltiesCmd = &cobra.Command{
	Use:   "penalties <player>",
	Short: "List a player's penalties as the server sees them",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := remoteContext()
		defer cancel()
		resp, err := remoteClient().Penalties(ctx, args[0])
		if err != nil {
			return err
		}
		return printValue(cmd.OutOrStdout(), resp)
	},
}

var remoteBanIPCmd = &cobra.Command{
	Use:   "ban-ip <ip> [seconds]",
	Short: "Temporarily ban an IP (policy default duration when omitted)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		seconds := 0
		if len(args) == 2 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return err
			}
			seconds = n
		}
		ctx, cancel := remoteContext()
		defer cancel()
		resp, err := remoteClient().BanIP(ctx, args[0], seconds)
		if err != nil {
			return err
		}
		return printValue(cmd.OutOrStdout(), resp)
	},
}

var penalizeReason string

var remotePenalizeCmd = &cobra.Command{
	Use:   "penalize <player> <warning|temp_ban|rating_freeze>",
	Short: "Apply a penalty through the admin endpoint",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := remoteContext()
		defer cancel()
		resp, err := remoteClient().ApplyPenalty(ctx, guarddto.PenaltyRequest{
			Player: args[0],
			Type:   args[1],
			Reason: penalizeReason,
		})
		if err != nil {
			return err
		}
		return printValue(cmd.OutOrStdout(), resp)
	},
}

func init() {
	remotePenalizeCmd.Flags().StringVar(&penalizeReason, "reason", "manual", "reason recorded with the penalty")
	remoteCmd.PersistentFlags().StringVar(&serverURL, "server", "", "safeguard-api base URL (default: $SAFEGUARD_SERVER or http://127.0.0.1:8088)")
	remoteCmd.AddCommand(remoteHealthCmd, remoteEligibilityCmd, remotePenaltiesCmd, remoteBanIPCmd, remotePenalizeCmd)
	rootCmd.AddCommand(remoteCmd)
}

func remoteClient() *guardclient.Client {
	base := strings.TrimSpace(serverURL)
	if base == "" {
		base = strings.TrimSpace(os.Getenv("SAFEGUARD_SERVER"))
	}
	if base == "" {
		base = "http://127.0.0.1:8088"
	}
	opts := []guardclient.Option{guardclient.WithTimeout(8 * time.Second)}
	if secret := strings.TrimSpace(os.Getenv("SAFEGUARD_ADMIN_JWT_SECRET")); secret != "" {
		opts = append(opts, guardclient.WithHeaderProvider(adminHeaders(secret)))
	}
	return guardclient.New(base, opts...)
}

// adminHeaders mints a short-lived bearer per request. A bad secret yields no
// header and the server answers 401.
func adminHeaders(secret string) guardclient.HeaderProvider {
	auth, err := adminauth.New(secret)
	return func() map[string]string {
		if err != nil {
			return nil
		}
		tok, mintErr := auth.Mint("safeguardctl", 5*time.Minute)
		if mintErr != nil {
			return nil
		}
		return map[string]string{"Authorization": "Bearer " + tok}
	}
}

func remoteContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}
