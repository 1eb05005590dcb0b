package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/warp/trip-ledger/generic"
)

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(regenerateCmd)

	scanCmd.Flags().String("today", "", "Scan as of this day (YYYY-MM-DD); default today")
	scanCmd.Flags().Int("window", -1, "Lookahead in days; default scheduler.window_days")
}

// ─── scan ───────────────────────────────────────────────────────────────────

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one installment due scan and print the report",
	Long: `Classify pending installments as due soon or overdue and fire the alerts
not sent yet. Safe to run alongside a server: each alert is claimed once.`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	today := a.installments.Today()
	if s, _ := cmd.Flags().GetString("today"); s != "" {
		if today, err = generic.ParseDate(s); err != nil {
			return err
		}
	}
	window := cfg.Scheduler.WindowDays
	if w, _ := cmd.Flags().GetInt("window"); w >= 0 {
		window = w
	}

	report, err := a.installments.Scan(ctx, today, window)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{
		"today":        report.Today,
		"window":       report.Window,
		"due_soon":     len(report.DueSoon),
		"overdue":      len(report.Overdue),
		"alerts_fired": report.AlertsFired,
		"alert_errors": report.AlertErrors,
	})
}

// ─── verify-credit ──────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify-credit CREDIT_ID...",
	Short: "Rebuild credit ledgers from their entries and compare to stored balances",
	Long: `Verify each credit's entry chain. Prints one report per credit and exits
non-zero if any ledger does not reconstruct. Nothing is corrected.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var failed []error
	for _, id := range args {
		report, err := a.credits.Verify(ctx, id)
		out := map[string]any{"credit_id": id, "consistent": err == nil}
		if err == nil || errors.Is(err, generic.ErrConsistencyViolation) {
			out["original"] = report.Original
			out["stored"] = report.Stored
			out["derived"] = report.Derived
			out["entries"] = report.Entries
		}
		if err != nil {
			out["error"] = err.Error()
			failed = append(failed, err)
		}
		if err := printJSON(cmd.OutOrStdout(), out); err != nil {
			return err
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d credits failed verification", len(failed), len(args))
	}
	return nil
}

// ─── regenerate-bill ────────────────────────────────────────────────────────

var regenerateCmd = &cobra.Command{
	Use:   "regenerate-bill BILL_ID",
	Short: "Create the successor of a paid recurring bill",
	Long:  `Idempotent: if the successor already exists it is printed unchanged.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRegenerate,
}

func runRegenerate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	next, err := a.bills.Regenerate(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), map[string]any{
		"id":               next.ID,
		"previous_bill_id": next.PreviousBillID,
		"payee":            next.Payee,
		"amount":           next.Amount,
		"due_date":         next.DueDate,
		"status":           next.Status,
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
