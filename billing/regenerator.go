/*
Package billing handles payables and the regeneration of recurring ones.

PURPOSE:
  Marking a recurring bill paid creates its successor: same payee,
  category and amount, status pending, due date advanced by the frequency.
  The paid bill is never touched again.

IDEMPOTENCY:
  A successor carries PreviousBillID. Regenerate returns the existing
  successor when there is one, and the store refuses a second successor for
  the same bill, so re-running regeneration is always safe.

FAILURE MODEL:
  The paid marking and the successor are separate transactions. When the
  successor cannot be created, MarkPaid returns the paid bill together with
  a *RegenerationError; the paid marking stays. If a RetryQueue is set the
  regeneration is handed to it.

DUE DATES:
  NextDue advances by calendar months and clamps to the month end:
  2024-01-31 monthly -> 2024-02-29. Each successor is computed from its
  predecessor's due date, so a clamped day carries forward (Feb 29 -> Mar 29).

SEE ALSO:
  - generic/time.go: Date.AddMonths
  - jobs/regenerate.go: River-backed RetryQueue
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/trip-ledger/generic"
	"github.com/warp/trip-ledger/metrics"
)

// RetryQueue schedules a later regeneration attempt for a paid bill.
type RetryQueue interface {
	EnqueueRegeneration(ctx context.Context, billID string) error
}

// RegenerationError reports a paid bill whose successor could not be created.
type RegenerationError struct {
	BillID string
	Queued bool // a retry was handed to the RetryQueue
	Err    error
}

func (e *RegenerationError) Error() string {
	if e.Queued {
		return fmt.Sprintf("regenerate bill %s (retry queued): %v", e.BillID, e.Err)
	}
	return fmt.Sprintf("regenerate bill %s: %v", e.BillID, e.Err)
}

func (e *RegenerationError) Unwrap() error { return e.Err }

// =============================================================================
// REGENERATOR
// =============================================================================

type Regenerator struct {
	store  generic.TxStore
	queue  RetryQueue
	logger *slog.Logger
	retry  generic.RetryPolicy
	now    func() time.Time
}

type Option func(*Regenerator)

func WithRetryQueue(q RetryQueue) Option { return func(r *Regenerator) { r.queue = q } }

func WithLogger(l *slog.Logger) Option { return func(r *Regenerator) { r.logger = l } }

func WithRetryPolicy(p generic.RetryPolicy) Option { return func(r *Regenerator) { r.retry = p } }

func WithClock(now func() time.Time) Option { return func(r *Regenerator) { r.now = now } }

func NewRegenerator(store generic.TxStore, opts ...Option) *Regenerator {
	r := &Regenerator{
		store:  store,
		logger: slog.Default(),
		retry:  generic.DefaultRetryPolicy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetRetryQueue wires the queue after construction. The River queue needs
// the regenerator to exist first.
func (r *Regenerator) SetRetryQueue(q RetryQueue) { r.queue = q }

// NextDue advances due by one period of f.
func NextDue(due generic.Date, f generic.Frequency) (generic.Date, error) {
	months := f.Months()
	if months == 0 {
		return generic.Date{}, generic.InvalidInput("frequency", "unknown frequency %q", f)
	}
	return due.AddMonths(months), nil
}

// =============================================================================
// BILLS
// =============================================================================

type CreateBillRequest struct {
	Payee     string
	Category  string
	Amount    decimal.Decimal
	DueDate   generic.Date
	Recurring bool
	Frequency generic.Frequency
}

func (r *Regenerator) CreateBill(ctx context.Context, req CreateBillRequest) (generic.Bill, error) {
	if req.Payee == "" {
		return generic.Bill{}, generic.InvalidInput("payee", "is required")
	}
	if !req.Amount.IsPositive() {
		return generic.Bill{}, generic.InvalidAmount("amount", "must be positive, got %s", req.Amount)
	}
	if err := generic.ValidMoney("amount", req.Amount); err != nil {
		return generic.Bill{}, err
	}
	if req.DueDate.IsZero() {
		return generic.Bill{}, generic.InvalidInput("due_date", "is required")
	}
	if req.Recurring && req.Frequency.Months() == 0 {
		return generic.Bill{}, generic.InvalidInput("frequency", "recurring bills need monthly, quarterly, semiannual or annual, got %q", req.Frequency)
	}

	b := generic.Bill{
		ID:        generic.NewID(),
		Payee:     req.Payee,
		Category:  req.Category,
		Amount:    req.Amount,
		DueDate:   req.DueDate,
		Recurring: req.Recurring,
		Frequency: req.Frequency,
		Status:    generic.BillPending,
		CreatedAt: r.now().UTC(),
	}
	err := generic.Retry(ctx, r.retry, r.onRetry("bill.create"), func(ctx context.Context) error {
		return r.store.InsertBill(ctx, b)
	})
	if err != nil {
		return generic.Bill{}, fmt.Errorf("create bill: %w", err)
	}
	return b, nil
}

func (r *Regenerator) GetBill(ctx context.Context, id string) (generic.Bill, error) {
	return r.store.GetBill(ctx, id)
}

// ListBills lists bills by status; an empty status lists all.
func (r *Regenerator) ListBills(ctx context.Context, status generic.BillStatus) ([]generic.Bill, error) {
	return r.store.ListBills(ctx, status)
}

type MarkPaidResult struct {
	Paid      generic.Bill
	Successor *generic.Bill
}

// MarkPaid moves a pending bill to paid and, for recurring bills, creates
// the successor. A successor failure is returned as *RegenerationError with
// the paid bill still in the result.
func (r *Regenerator) MarkPaid(ctx context.Context, billID string, paidOn generic.Date) (MarkPaidResult, error) {
	if paidOn.IsZero() {
		paidOn = generic.DateOf(r.now().UTC())
	}

	var paid generic.Bill
	err := generic.Retry(ctx, r.retry, r.onRetry("bill.mark_paid"), func(ctx context.Context) error {
		return r.store.WithTx(ctx, func(tx generic.Store) error {
			b, err := tx.GetBill(ctx, billID)
			if err != nil {
				return err
			}
			if b.Status == generic.BillPaid {
				return fmt.Errorf("bill %s: %w", b.ID, generic.ErrAlreadyPaid)
			}
			b.Status = generic.BillPaid
			b.PaidAt = &paidOn
			if err := tx.UpdateBill(ctx, b); err != nil {
				return err
			}
			paid = b
			return nil
		})
	})
	if err != nil {
		return MarkPaidResult{}, fmt.Errorf("mark bill paid: %w", err)
	}
	r.logger.InfoContext(ctx, "bill paid", "bill_id", paid.ID, "payee", paid.Payee, "paid_on", paidOn.String())

	result := MarkPaidResult{Paid: paid}
	if !paid.Recurring {
		return result, nil
	}

	successor, err := r.Regenerate(ctx, paid.ID)
	if err != nil {
		regErr := &RegenerationError{BillID: paid.ID, Err: err}
		if r.queue != nil {
			if qerr := r.queue.EnqueueRegeneration(ctx, paid.ID); qerr != nil {
				regErr.Err = errors.Join(err, fmt.Errorf("enqueue retry: %w", qerr))
			} else {
				regErr.Queued = true
			}
		}
		r.logger.ErrorContext(ctx, "bill regeneration failed", "bill_id", paid.ID, "queued", regErr.Queued, "err", regErr.Err)
		return result, regErr
	}
	result.Successor = &successor
	return result, nil
}

// Regenerate returns the successor of a paid recurring bill, creating it if
// it does not exist yet.
func (r *Regenerator) Regenerate(ctx context.Context, billID string) (generic.Bill, error) {
	var (
		successor generic.Bill
		created   bool
	)
	err := generic.Retry(ctx, r.retry, r.onRetry("bill.regenerate"), func(ctx context.Context) error {
		return r.store.WithTx(ctx, func(tx generic.Store) error {
			prev, err := tx.GetBill(ctx, billID)
			if err != nil {
				return err
			}
			if !prev.Recurring {
				return generic.InvalidInput("bill_id", "bill %s is not recurring", prev.ID)
			}
			if prev.Status != generic.BillPaid {
				return generic.InvalidInput("bill_id", "bill %s is not paid", prev.ID)
			}

			existing, err := tx.FindSuccessor(ctx, prev.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				successor, created = *existing, false
				return nil
			}

			due, err := NextDue(prev.DueDate, prev.Frequency)
			if err != nil {
				return err
			}
			next := generic.Bill{
				ID:             generic.NewID(),
				Payee:          prev.Payee,
				Category:       prev.Category,
				Amount:         prev.Amount,
				DueDate:        due,
				Recurring:      true,
				Frequency:      prev.Frequency,
				Status:         generic.BillPending,
				PreviousBillID: prev.ID,
				CreatedAt:      r.now().UTC(),
			}
			if err := tx.InsertBill(ctx, next); err != nil {
				return fmt.Errorf("insert successor: %w", err)
			}
			successor, created = next, true
			return nil
		})
	})
	if err != nil {
		metrics.BillsRegenerated.WithLabelValues(metrics.OutcomeError).Inc()
		return generic.Bill{}, err
	}
	if created {
		metrics.BillsRegenerated.WithLabelValues("created").Inc()
		r.logger.InfoContext(ctx, "bill regenerated", "bill_id", billID, "successor_id", successor.ID, "due", successor.DueDate.String())
	} else {
		metrics.BillsRegenerated.WithLabelValues("existing").Inc()
	}
	return successor, nil
}

func (r *Regenerator) onRetry(op string) func(int, error) {
	return func(attempt int, err error) {
		metrics.StoreRetries.WithLabelValues(op).Inc()
		r.logger.Warn("retrying store operation", "op", op, "attempt", attempt, "err", err)
	}
}
