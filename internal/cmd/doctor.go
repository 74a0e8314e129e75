package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dativo-io/aegis/internal/doctor"
)

var (
	doctorJSON   bool
	doctorPolicy string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, policy, and state database health",
	RunE:  runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "Output report as JSON")
	doctorCmd.Flags().StringVar(&doctorPolicy, "policy", "", "Path to policy YAML to validate (default: built-in policy)")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx, span := tracer.Start(cmd.Context(), "doctor")
	defer span.End()

	report := doctor.Run(ctx, doctor.Options{PolicyPath: doctorPolicy})

	if doctorJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		renderDoctorReport(os.Stdout, report)
	}

	if report.Status == "fail" {
		return fmt.Errorf("doctor found %d failing check(s)", report.Summary.Fail)
	}
	return nil
}

func renderDoctorReport(w io.Writer, report *doctor.Report) {
	marks := map[string]string{"pass": "✓", "warn": "!", "fail": "✗"}
	for _, c := range report.Checks {
		fmt.Fprintf(w, "  %s %-12s %s", marks[c.Status], c.Name, c.Message)
		if c.Fix != "" && c.Status != "pass" {
			fmt.Fprintf(w, "\n      fix: %s", c.Fix)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "\n%d passed, %d warnings, %d failed\n",
		report.Summary.Pass, report.Summary.Warn, report.Summary.Fail)
}
