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

	"github.com/dativo-io/aegis/internal/audit"
	"github.com/dativo-io/aegis/internal/config"
)

var (
	auditSubject   string
	auditWorkspace string
	auditLimit     int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Query and verify the signed invocation trail",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit events, newest first",
	RunE:  auditList,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [event-id]",
	Short: "Verify the HMAC signature of an audit event",
	Args:  cobra.ExactArgs(1),
	RunE:  auditVerify,
}

func init() {
	auditListCmd.Flags().StringVar(&auditSubject, "subject", "", "Filter by subject ID")
	auditListCmd.Flags().StringVar(&auditWorkspace, "workspace", "", "Filter by workspace ID")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 20, "Maximum events to show")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	rootCmd.AddCommand(auditCmd)
}

// openStateDB opens the shared state database the way serve does and
// returns it with a ready audit store.
func openAuditStore() (*audit.Store, *sql.DB, error) {
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
	store, err := audit.NewStore(db, cfg.SigningKey)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, db, nil
}

func auditList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, db, err := openAuditStore()
	if err != nil {
		return fmt.Errorf("initializing audit store: %w", err)
	}
	defer db.Close()

	events, err := store.List(ctx, auditSubject, auditWorkspace, auditLimit)
	if err != nil {
		return fmt.Errorf("querying audit trail: %w", err)
	}

	if len(events) == 0 {
		fmt.Println("No audit events found.")
		return nil
	}
	renderAuditList(os.Stdout, events)
	return nil
}

func auditVerify(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	eventID := args[0]

	store, db, err := openAuditStore()
	if err != nil {
		return fmt.Errorf("initializing audit store: %w", err)
	}
	defer db.Close()

	valid, err := store.Verify(ctx, eventID)
	if err != nil {
		return fmt.Errorf("verifying event: %w", err)
	}
	renderVerifyResult(os.Stdout, eventID, valid)
	if !valid {
		return fmt.Errorf("signature verification failed for %s", eventID)
	}
	return nil
}

// renderAuditList writes audit event lines to w (testable).
func renderAuditList(w io.Writer, events []audit.Event) {
	fmt.Fprintf(w, "Audit Events (showing %d):\n\n", len(events))
	for i := range events {
		ev := &events[i]
		status := "✓"
		if ev.Status == audit.StatusFailure {
			status = "✗"
		}
		gate := ""
		if ev.RequiresApproval {
			gate = " [STEP-UP]"
		}
		fmt.Fprintf(w, "  %s %s | %s | %s | %s/%s | %s | risk=%s%s\n",
			status,
			ev.ID,
			ev.CreatedAt.Format("2006-01-02 15:04:05"),
			ev.Action,
			ev.SubjectID,
			ev.ToolName,
			ev.Status,
			ev.RiskLevel,
			gate,
		)
	}
}

// renderVerifyResult writes verify outcome to w (testable).
func renderVerifyResult(w io.Writer, eventID string, valid bool) {
	if valid {
		fmt.Fprintf(w, "✓ Event %s: signature VALID (HMAC-SHA256 intact)\n", eventID)
	} else {
		fmt.Fprintf(w, "✗ Event %s: signature INVALID (possible tampering)\n", eventID)
	}
}
