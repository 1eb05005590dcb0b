package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/riverqueue/river"

	"github.com/warp/trip-ledger/billing"
	"github.com/warp/trip-ledger/generic"
)

// RegenerateBillArgs retries the successor of one paid recurring bill.
type RegenerateBillArgs struct {
	BillID string `json:"bill_id"`
}

func (RegenerateBillArgs) Kind() string { return "regenerate_bill" }

type RegenerateBillWorker struct {
	river.WorkerDefaults[RegenerateBillArgs]
	regenerator *billing.Regenerator
	logger      *slog.Logger
}

func NewRegenerateBillWorker(r *billing.Regenerator, logger *slog.Logger) *RegenerateBillWorker {
	return &RegenerateBillWorker{regenerator: r, logger: logger}
}

func (w *RegenerateBillWorker) Work(ctx context.Context, job *river.Job[RegenerateBillArgs]) error {
	successor, err := w.regenerator.Regenerate(ctx, job.Args.BillID)
	switch {
	case err == nil:
		w.logger.InfoContext(ctx, "queued regeneration done", "bill_id", job.Args.BillID, "successor_id", successor.ID)
		return nil
	case errors.Is(err, generic.ErrNotFound), errors.Is(err, generic.ErrInvalidInput):
		// No retry can fix a missing or unpaid bill.
		return river.JobCancel(fmt.Errorf("regenerate bill %s: %w", job.Args.BillID, err))
	default:
		return fmt.Errorf("regenerate bill %s: %w", job.Args.BillID, err)
	}
}
