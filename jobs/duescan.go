/*
Package jobs runs the engine's background work on River.

PURPOSE:
  Two job kinds share the PostgreSQL pool of store/postgres:
  - installment_due_scan: periodic installment.Scheduler.Scan
  - regenerate_bill: retries a recurring bill's successor after MarkPaid
    committed the payment but failed to create the next bill

  Workers hold no state of their own; Scan and Regenerate are idempotent,
  so River's at-least-once delivery is safe.

SEE ALSO:
  - installment/scheduler.go: Scan
  - billing/regenerator.go: Regenerate, RetryQueue
  - api/scheduler.go: ticker fallback when the store is SQLite
*/
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/warp/trip-ledger/installment"
)

// DueScanArgs is the periodic due scan. Window is in days.
type DueScanArgs struct {
	Window int `json:"window"`
}

func (DueScanArgs) Kind() string { return "installment_due_scan" }

// DueScanWorker runs installment.Scheduler.Scan for the scheduler's today.
type DueScanWorker struct {
	river.WorkerDefaults[DueScanArgs]
	scheduler *installment.Scheduler
	logger    *slog.Logger
}

func NewDueScanWorker(s *installment.Scheduler, logger *slog.Logger) *DueScanWorker {
	return &DueScanWorker{scheduler: s, logger: logger}
}

// Timeout bounds one scan.
func (w *DueScanWorker) Timeout(*river.Job[DueScanArgs]) time.Duration { return 5 * time.Minute }

func (w *DueScanWorker) Work(ctx context.Context, job *river.Job[DueScanArgs]) error {
	report, err := w.scheduler.Scan(ctx, w.scheduler.Today(), job.Args.Window)
	if err != nil {
		return fmt.Errorf("due scan: %w", err)
	}
	// Failed alerts were released; the next scan retries them.
	if report.AlertErrors > 0 {
		w.logger.WarnContext(ctx, "due scan finished with alert errors",
			"alert_errors", report.AlertErrors, "alerts_fired", report.AlertsFired)
	}
	return nil
}
