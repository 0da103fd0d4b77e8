package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/park285/elo-safeguard/internal/httpapi"
	"github.com/park285/elo-safeguard/internal/penalty"
	"github.com/park285/elo-safeguard/pkg/guarddto"
)

var penaltyCmd = &cobra.Command{
	Use:   "penalty",
	Short: "Read the penalty audit trail",
}

var penaltyHistoryCmd = &cobra.Command{
	Use:   "history <player>",
	Short: "List a player's penalties from Postgres or SQLite, newest first",
	Long: `List a player's penalties straight from the durable store.
Reads Postgres when DATABASE_URL is set, otherwise the SQLite file named by
SAFEGUARD_SQLITE_PATH. The in-memory store of a running server is only
reachable with "safeguardctl remote penalties".`,
	Args: cobra.ExactArgs(1),
	RunE: runPenaltyHistory,
}

func init() {
	penaltyCmd.AddCommand(penaltyHistoryCmd)
	rootCmd.AddCommand(penaltyCmd)
}

func runPenaltyHistory(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, closeStore, err := openPenaltyStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	history, err := store.History(ctx, args[0])
	if err != nil {
		return err
	}
	out := guarddto.PenaltyHistoryResponse{Player: args[0], Penalties: make([]guarddto.PenaltyView, 0, len(history))}
	for _, p := range history {
		out.Penalties = append(out.Penalties, httpapi.PenaltyView(p))
	}
	return printValue(cmd.OutOrStdout(), out)
}

// openPenaltyStore mirrors the server's backend choice: Postgres first, then SQLite.
func openPenaltyStore(ctx context.Context) (penalty.Store, func(), error) {
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		db, err := penalty.OpenPostgres(dsn)
		if err != nil {
			return nil, nil, err
		}
		return penalty.NewPostgresStore(db), func() { _ = db.Close() }, nil
	}
	if path := strings.TrimSpace(os.Getenv("SAFEGUARD_SQLITE_PATH")); path != "" {
		store, err := penalty.OpenSQLite(ctx, path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	}
	return nil, nil, fmt.Errorf("DATABASE_URL or SAFEGUARD_SQLITE_PATH is required")
}
