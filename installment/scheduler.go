/*
Package installment schedules a charge's owed amount into dated slices and
alerts on the ones coming due or overdue.

PURPOSE:
  A plan is an ordered list of {amount, due date} for one charge. Its total
  may not exceed what the charge owes at creation time. Replacing a plan
  deletes and inserts in one transaction.

COUPLING WITH CHARGES:
  MarkPaid only flips the installment. It does not record a Payment; the
  caller records one through charge.Service.RecordPayment so the charge
  breakdown sees the money.

ALERTS:
  Scan partitions pending installments into DueSoon (today..today+window)
  and Overdue (before today). Each alert type fires at most once per
  installment: the flag is claimed with a conditional store update before
  the Alerter runs, and released again if the Alerter fails so a later
  scan can retry.

SEE ALSO:
  - charge/service.go: Load gives the owed total
  - generic/store.go: ClaimAlert / ReleaseAlert
  - jobs/duescan.go, api/scheduler.go: periodic callers of Scan
*/
package installment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/trip-ledger/charge"
	"github.com/warp/trip-ledger/generic"
	"github.com/warp/trip-ledger/metrics"
)

// DefaultWindow is the lookahead of the due scan, in days.
const DefaultWindow = 5

// =============================================================================
// ALERTER
// =============================================================================

type Alert struct {
	Type        generic.AlertType
	Installment generic.Installment
	Today       generic.Date
	Days        int // days until due (upcoming) or days overdue
}

// Alerter delivers an alert. It is called at most once per installment and
// alert type unless it returns an error.
type Alerter interface {
	Alert(ctx context.Context, a Alert) error
}

// LogAlerter writes alerts to a logger.
type LogAlerter struct {
	Logger *slog.Logger
}

func (l LogAlerter) Alert(ctx context.Context, a Alert) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "installment alert",
		"type", a.Type,
		"installment_id", a.Installment.ID,
		"charge_id", a.Installment.ChargeID,
		"sequence", fmt.Sprintf("%d/%d", a.Installment.Sequence, a.Installment.Total),
		"amount", a.Installment.Amount.String(),
		"due", a.Installment.DueDate.String(),
		"days", a.Days)
	return nil
}

// =============================================================================
// SCHEDULER
// =============================================================================

type Scheduler struct {
	store   generic.TxStore
	alerter Alerter
	logger  *slog.Logger
	retry   generic.RetryPolicy
	now     func() time.Time
}

type Option func(*Scheduler)

func WithAlerter(a Alerter) Option { return func(s *Scheduler) { s.alerter = a } }

func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

func WithRetryPolicy(p generic.RetryPolicy) Option { return func(s *Scheduler) { s.retry = p } }

func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

func NewScheduler(store generic.TxStore, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:  store,
		logger: slog.Default(),
		retry:  generic.DefaultRetryPolicy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.alerter == nil {
		s.alerter = LogAlerter{Logger: s.logger}
	}
	return s
}

// Today is the scheduler clock's calendar day in UTC.
func (s *Scheduler) Today() generic.Date { return generic.DateOf(s.now().UTC()) }

// =============================================================================
// PLANS
// =============================================================================

type PlanItem struct {
	Amount  decimal.Decimal
	DueDate generic.Date
}

// CreatePlan replaces the charge's plan with items, numbered 1..n.
func (s *Scheduler) CreatePlan(ctx context.Context, chargeID string, items []PlanItem) ([]generic.Installment, error) {
	if len(items) == 0 {
		return nil, generic.InvalidInput("items", "plan needs at least one installment")
	}
	total := decimal.Zero
	for i, item := range items {
		if !item.Amount.IsPositive() {
			return nil, generic.InvalidAmount("amount", "installment %d must be positive, got %s", i+1, item.Amount)
		}
		if err := generic.ValidMoney("amount", item.Amount); err != nil {
			return nil, err
		}
		if item.DueDate.IsZero() {
			return nil, generic.InvalidInput("due_date", "installment %d has no due date", i+1)
		}
		if i > 0 && item.DueDate.Before(items[i-1].DueDate) {
			return nil, generic.InvalidInput("due_date", "installment %d is due before installment %d", i+1, i)
		}
		total = total.Add(item.Amount)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var plan []generic.Installment
	err := generic.Retry(ctx, s.retry, s.onRetry("installment.create_plan"), func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(tx generic.Store) error {
			_, b, err := charge.Load(ctx, tx, chargeID)
			if err != nil {
				return err
			}
			if total.GreaterThan(b.OwedTotal) {
				return &generic.ValidationError{
					Kind:    generic.ErrPlanExceedsOwed,
					Field:   "items",
					Message: fmt.Sprintf("plan total %s exceeds owed %s", total, b.OwedTotal),
				}
			}
			if err := tx.DeleteInstallments(ctx, chargeID); err != nil {
				return fmt.Errorf("delete prior plan: %w", err)
			}

			now := s.now().UTC()
			plan = make([]generic.Installment, 0, len(items))
			for i, item := range items {
				inst := generic.Installment{
					ID:         generic.NewID(),
					ChargeID:   chargeID,
					Sequence:   i + 1,
					Total:      len(items),
					Amount:     item.Amount,
					DueDate:    item.DueDate,
					Status:     generic.InstallmentPending,
					PaidAmount: decimal.Zero,
					CreatedAt:  now,
				}
				if err := tx.InsertInstallment(ctx, inst); err != nil {
					return fmt.Errorf("insert installment %d: %w", inst.Sequence, err)
				}
				plan = append(plan, inst)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create plan for charge %s: %w", chargeID, err)
	}
	s.logger.InfoContext(ctx, "installment plan created", "charge_id", chargeID, "installments", len(plan), "total", total.String())
	return plan, nil
}

func (s *Scheduler) Plan(ctx context.Context, chargeID string) ([]generic.Installment, error) {
	if _, err := s.store.GetCharge(ctx, chargeID); err != nil {
		return nil, err
	}
	return s.store.ListInstallments(ctx, chargeID)
}

// =============================================================================
// MARK PAID
// =============================================================================

type MarkPaidRequest struct {
	InstallmentID string
	Amount        decimal.Decimal
	Method        string
	PaidOn        generic.Date // defaults to today
}

func (s *Scheduler) MarkPaid(ctx context.Context, req MarkPaidRequest) (generic.Installment, error) {
	if !req.Amount.IsPositive() {
		return generic.Installment{}, generic.InvalidAmount("amount", "must be positive, got %s", req.Amount)
	}
	if err := generic.ValidMoney("amount", req.Amount); err != nil {
		return generic.Installment{}, err
	}
	paidOn := req.PaidOn
	if paidOn.IsZero() {
		paidOn = generic.DateOf(s.now().UTC())
	}

	var out generic.Installment
	err := generic.Retry(ctx, s.retry, s.onRetry("installment.mark_paid"), func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(tx generic.Store) error {
			inst, err := tx.GetInstallment(ctx, req.InstallmentID)
			if err != nil {
				return err
			}
			if inst.Status == generic.InstallmentPaid {
				return fmt.Errorf("installment %s: %w", inst.ID, generic.ErrAlreadyPaid)
			}
			inst.Status = generic.InstallmentPaid
			inst.Method = req.Method
			inst.PaidAmount = req.Amount
			inst.PaidAt = &paidOn
			if err := tx.UpdateInstallment(ctx, inst); err != nil {
				return err
			}
			out = inst
			return nil
		})
	})
	if err != nil {
		return generic.Installment{}, fmt.Errorf("mark installment paid: %w", err)
	}
	s.logger.InfoContext(ctx, "installment paid",
		"installment_id", out.ID, "charge_id", out.ChargeID, "amount", req.Amount.String(), "method", req.Method)
	return out, nil
}

// =============================================================================
// DUE SCAN
// =============================================================================

type DueReport struct {
	Today       generic.Date
	Window      int
	DueSoon     []generic.Installment
	Overdue     []generic.Installment
	AlertsFired int
	AlertErrors int
}

// Scan partitions pending installments due by today+window and fires the
// alerts not sent yet. today is passed explicitly.
func (s *Scheduler) Scan(ctx context.Context, today generic.Date, window int) (DueReport, error) {
	if window < 0 {
		return DueReport{}, generic.InvalidInput("window", "must not be negative, got %d", window)
	}
	report := DueReport{Today: today, Window: window}

	pending, err := s.store.ListPendingDueBy(ctx, today.AddDays(window))
	if err != nil {
		return report, fmt.Errorf("list pending installments: %w", err)
	}
	for _, inst := range pending {
		if inst.DueDate.Before(today) {
			report.Overdue = append(report.Overdue, inst)
		} else {
			report.DueSoon = append(report.DueSoon, inst)
		}
	}

	for _, inst := range report.Overdue {
		s.fire(ctx, &report, Alert{Type: generic.AlertOverdue, Installment: inst, Today: today, Days: generic.DaysBetween(inst.DueDate, today)})
	}
	for _, inst := range report.DueSoon {
		s.fire(ctx, &report, Alert{Type: generic.AlertUpcoming, Installment: inst, Today: today, Days: generic.DaysBetween(today, inst.DueDate)})
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	s.logger.InfoContext(ctx, "due scan complete",
		"today", today.String(), "window", window,
		"due_soon", len(report.DueSoon), "overdue", len(report.Overdue),
		"alerts_fired", report.AlertsFired, "alert_errors", report.AlertErrors)
	return report, nil
}

// fire claims the alert flag and delivers the alert. Failures are counted
// in the report rather than aborting the scan.
func (s *Scheduler) fire(ctx context.Context, report *DueReport, a Alert) {
	if ctx.Err() != nil {
		return
	}
	id := a.Installment.ID

	var claimed bool
	err := generic.Retry(ctx, s.retry, s.onRetry("installment.claim_alert"), func(ctx context.Context) error {
		var err error
		claimed, err = s.store.ClaimAlert(ctx, id, a.Type)
		return err
	})
	if err != nil {
		report.AlertErrors++
		s.logger.ErrorContext(ctx, "claim alert failed", "installment_id", id, "type", a.Type, "err", err)
		return
	}
	if !claimed {
		return
	}

	if err := s.alerter.Alert(ctx, a); err != nil {
		report.AlertErrors++
		s.logger.ErrorContext(ctx, "alert delivery failed", "installment_id", id, "type", a.Type, "err", err)
		if rerr := s.store.ReleaseAlert(ctx, id, a.Type); rerr != nil {
			s.logger.ErrorContext(ctx, "release alert failed", "installment_id", id, "type", a.Type,
				"err", errors.Join(err, rerr))
		}
		return
	}
	report.AlertsFired++
	metrics.InstallmentAlerts.WithLabelValues(string(a.Type)).Inc()
}

func (s *Scheduler) onRetry(op string) func(int, error) {
	return func(attempt int, err error) {
		metrics.StoreRetries.WithLabelValues(op).Inc()
		s.logger.Warn("retrying store operation", "op", op, "attempt", attempt, "err", err)
	}
}
