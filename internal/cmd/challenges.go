package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"

	"github.com/dativo-io/aegis/internal/config"
	"github.com/dativo-io/aegis/internal/stepup"
)

var challengesSubject string

var challengesCmd = &cobra.Command{
	Use:   "challenges",
	Short: "Inspect and resolve pending authorization challenges",
}

var challengesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending challenges",
	RunE:  challengesList,
}

var challengesApproveCmd = &cobra.Command{
	Use:   "approve [challenge-id]",
	Short: "Approve a pending challenge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveChallenge(cmd.Context(), args[0], stepup.StatusApproved)
	},
}

var challengesDenyCmd = &cobra.Command{
	Use:   "deny [challenge-id]",
	Short: "Deny a pending challenge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return resolveChallenge(cmd.Context(), args[0], stepup.StatusDenied)
	},
}

func init() {
	challengesListCmd.Flags().StringVar(&challengesSubject, "subject", "", "Filter by subject ID")

	challengesCmd.AddCommand(challengesListCmd)
	challengesCmd.AddCommand(challengesApproveCmd)
	challengesCmd.AddCommand(challengesDenyCmd)
	rootCmd.AddCommand(challengesCmd)
}

func openChallengeStore() (*stepup.Store, *sql.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.StateDBPath()+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, nil, fmt.Errorf("opening state database: %w", err)
	}
	store, err := stepup.NewStore(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, db, nil
}

func challengesList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, db, err := openChallengeStore()
	if err != nil {
		return fmt.Errorf("initializing challenge store: %w", err)
	}
	defer db.Close()

	pending, err := store.ListPending(ctx, challengesSubject)
	if err != nil {
		return fmt.Errorf("querying challenges: %w", err)
	}

	if len(pending) == 0 {
		fmt.Println("No pending challenges.")
		return nil
	}
	renderChallengeList(os.Stdout, pending)
	return nil
}

// resolveChallenge applies an operator decision from the terminal. The
// resolver identity is recorded as "operator-cli" so audit queries can
// tell console resolutions apart from in-app ones.
func resolveChallenge(ctx context.Context, id string, decision stepup.Status) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	store, db, err := openChallengeStore()
	if err != nil {
		return fmt.Errorf("initializing challenge store: %w", err)
	}
	defer db.Close()

	if decision == stepup.StatusApproved {
		err = store.Approve(ctx, id, "operator-cli")
	} else {
		err = store.Deny(ctx, id, "operator-cli")
	}
	if err != nil {
		return fmt.Errorf("resolving challenge: %w", err)
	}
	fmt.Printf("Challenge %s: %s\n", id, decision)
	return nil
}

func renderChallengeList(w io.Writer, pending []*stepup.Challenge) {
	fmt.Fprintf(w, "Pending Challenges (%d):\n\n", len(pending))
	for _, ch := range pending {
		fmt.Fprintf(w, "  %s | %s | %s | %s | expires %s\n    %q\n",
			ch.ID,
			ch.Kind,
			ch.SubjectID,
			ch.ToolName,
			ch.ExpiresAt.Format("15:04:05"),
			ch.BindingMessage,
		)
	}
}
