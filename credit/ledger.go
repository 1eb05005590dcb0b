/*
ledger.go - Credit Ledger Manager

PURPOSE:
  The only writer of credit balances. Every balance change is a single store
  transaction that updates the credit record and appends one ledger entry,
  so the entry chain always reconstructs the stored balance.

OPERATIONS:
  Issue              - create a credit (no entry, the chain starts at original)
  Preview            - eligibility + calculation, no mutation
  Apply              - consume credit for a trip: link + update + consumption entry
  Refund             - cash out part of the balance: refund entry, delta -amount
  ReverseApplication - undo a trip link: refund entry, delta +amount
  Adjust             - manual signed correction: adjustment entry
  History / Links / CustomerCredits - reads

WRITE CYCLE (Apply, Refund, ReverseApplication, Adjust):
  1. Re-read the credit inside the transaction.
  2. Check the chain head: the last entry must end at the stored balance.
     A mismatch is a prior partial failure and is surfaced as
     ConsistencyViolation. It is never repaired here.
  3. Validate the amount against the current balance.
  4. Write link (if any), compare-and-swap the credit on Version, append
     the entry with the next sequence number.
  A lost compare-and-swap or a transient store failure re-runs the whole
  cycle with backoff (generic.Retry). Business errors are returned at once.

STATUS:
  Status follows generic.StatusFor except for refunds that drain the
  balance, which set the terminal status refunded. A refunded credit
  accepts no further writes.

SEE ALSO:
  - calculator.go: Calculate
  - verify.go: full chain reconstruction
  - generic/store.go: UpdateCredit compare-and-swap contract
*/
package credit

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

// =============================================================================
// MANAGER
// =============================================================================

type Manager struct {
	store  generic.TxStore
	logger *slog.Logger
	retry  generic.RetryPolicy
	now    func() time.Time
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

func WithRetryPolicy(p generic.RetryPolicy) Option { return func(m *Manager) { m.retry = p } }

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func NewManager(store generic.TxStore, opts ...Option) *Manager {
	m := &Manager{
		store:  store,
		logger: slog.Default(),
		retry:  generic.DefaultRetryPolicy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// =============================================================================
// REQUESTS / RESULTS
// =============================================================================

type IssueRequest struct {
	CustomerID string
	Amount     decimal.Decimal
	UseType    generic.UseType
	ExpiresAt  *generic.Date
	Note       string
}

type ApplyRequest struct {
	CreditID string
	TripID   string
	Amount   decimal.Decimal
	Note     string
	Actor    string
}

type RefundRequest struct {
	CreditID string
	Amount   decimal.Decimal
	Reason   string
	Actor    string
}

type ReverseRequest struct {
	LinkID string
	Reason string
	Actor  string
}

type AdjustRequest struct {
	CreditID string
	Delta    decimal.Decimal
	Reason   string
	Actor    string
}

// Movement is the committed result of a balance-changing operation.
type Movement struct {
	Credit generic.Credit
	Entry  generic.CreditEntry
	Link   *generic.CreditLink
}

type PreviewResult struct {
	Permitted   bool
	Reason      string
	Calculation Calculation
}

// =============================================================================
// ISSUE / PREVIEW
// =============================================================================

func (m *Manager) Issue(ctx context.Context, req IssueRequest) (generic.Credit, error) {
	if req.CustomerID == "" {
		return generic.Credit{}, generic.InvalidInput("customer_id", "is required")
	}
	if !req.Amount.IsPositive() {
		return generic.Credit{}, generic.InvalidAmount("amount", "must be positive, got %s", req.Amount)
	}
	if err := generic.ValidMoney("amount", req.Amount); err != nil {
		return generic.Credit{}, err
	}
	useType := req.UseType
	if useType == "" {
		useType = generic.UseAny
	}
	switch useType {
	case generic.UseAny, generic.UseTrip, generic.UseAddOns:
	default:
		return generic.Credit{}, generic.InvalidInput("use_type", "unknown use type %q", useType)
	}

	now := m.now().UTC()
	c := generic.Credit{
		ID:               generic.NewID(),
		CustomerID:       req.CustomerID,
		OriginalAmount:   req.Amount,
		AvailableBalance: req.Amount,
		Status:           generic.CreditAvailable,
		UseType:          useType,
		ExpiresAt:        req.ExpiresAt,
		Note:             req.Note,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := generic.Retry(ctx, m.retry, m.onRetry("credit.issue"), func(ctx context.Context) error {
		return m.store.InsertCredit(ctx, c)
	})
	metrics.CreditOp("issue", err, false)
	if err != nil {
		return generic.Credit{}, fmt.Errorf("issue credit: %w", err)
	}
	m.logger.InfoContext(ctx, "credit issued", "credit_id", c.ID, "customer_id", c.CustomerID, "amount", c.OriginalAmount.String())
	return c, nil
}

// Preview reports whether the credit may pay chargeAmount in category and
// what the application would look like. Nothing is written.
func (m *Manager) Preview(ctx context.Context, creditID string, chargeAmount decimal.Decimal, category generic.PaymentCategory) (PreviewResult, error) {
	if chargeAmount.IsNegative() {
		return PreviewResult{}, generic.InvalidAmount("amount", "must not be negative, got %s", chargeAmount)
	}
	if err := generic.ValidMoney("amount", chargeAmount); err != nil {
		return PreviewResult{}, err
	}
	if category == "" {
		category = generic.CategoryTrip
	}
	if !category.Valid() {
		return PreviewResult{}, generic.InvalidInput("category", "unknown category %q", category)
	}

	c, err := m.store.GetCredit(ctx, creditID)
	if err != nil {
		return PreviewResult{}, err
	}

	res := PreviewResult{Calculation: Calculate(c.AvailableBalance, chargeAmount)}
	res.Reason = m.ineligible(c, category)
	res.Permitted = res.Reason == ""
	return res, nil
}

// ineligible returns why c cannot be applied to category, or "".
func (m *Manager) ineligible(c generic.Credit, category generic.PaymentCategory) string {
	switch {
	case c.Status == generic.CreditRefunded:
		return "credit has been refunded"
	case c.Status == generic.CreditFullyUsed || !c.AvailableBalance.IsPositive():
		return "credit is fully used"
	case m.expired(c):
		return fmt.Sprintf("credit expired on %s", c.ExpiresAt)
	case !c.UseType.Covers(category):
		return fmt.Sprintf("credit restricted to %s, cannot pay %s", c.UseType, category)
	}
	return ""
}

func (m *Manager) expired(c generic.Credit) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(generic.DateOf(m.now().UTC()))
}

// =============================================================================
// APPLY
// =============================================================================

// Apply consumes req.Amount of the credit for a trip.
func (m *Manager) Apply(ctx context.Context, req ApplyRequest) (Movement, error) {
	if req.TripID == "" {
		return Movement{}, generic.InvalidInput("trip_id", "is required")
	}
	if !req.Amount.IsPositive() {
		return Movement{}, generic.InvalidAmount("amount", "must be positive, got %s", req.Amount)
	}
	if err := generic.ValidMoney("amount", req.Amount); err != nil {
		return Movement{}, err
	}

	var out Movement
	err := m.write(ctx, "apply", req.CreditID, func(tx generic.Store, c generic.Credit, seq int64) error {
		if m.expired(c) {
			return generic.InvalidInput("credit_id", "credit expired on %s", c.ExpiresAt)
		}
		if req.Amount.GreaterThan(c.AvailableBalance) {
			return &generic.InsufficientBalanceError{CreditID: c.ID, Available: c.AvailableBalance, Requested: req.Amount}
		}

		now := m.now().UTC()
		link := generic.CreditLink{
			ID:            generic.NewID(),
			CreditID:      c.ID,
			TripID:        req.TripID,
			AmountApplied: req.Amount,
			Note:          req.Note,
			CreatedAt:     now,
		}
		if err := tx.InsertCreditLink(ctx, link); err != nil {
			return fmt.Errorf("insert link: %w", err)
		}

		newBalance := c.AvailableBalance.Sub(req.Amount)
		entry := generic.CreditEntry{
			Type:   generic.EntryConsumption,
			Delta:  req.Amount.Neg(),
			Note:   req.Note,
			TripID: req.TripID,
			LinkID: link.ID,
		}
		updated, written, err := m.commit(ctx, tx, c, seq, newBalance, generic.StatusFor(newBalance, c.OriginalAmount), entry, req.Actor)
		if err != nil {
			return err
		}
		out = Movement{Credit: updated, Entry: written, Link: &link}
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	m.logger.InfoContext(ctx, "credit applied",
		"credit_id", out.Credit.ID, "trip_id", req.TripID, "amount", req.Amount.String(),
		"balance", out.Credit.AvailableBalance.String(), "status", out.Credit.Status)
	return out, nil
}

// =============================================================================
// REFUND / REVERSE / ADJUST
// =============================================================================

// Refund cashes out part of the balance. A refund that drains the balance
// moves the credit to the terminal refunded status.
func (m *Manager) Refund(ctx context.Context, req RefundRequest) (Movement, error) {
	if !req.Amount.IsPositive() {
		return Movement{}, generic.InvalidAmount("amount", "must be positive, got %s", req.Amount)
	}
	if err := generic.ValidMoney("amount", req.Amount); err != nil {
		return Movement{}, err
	}

	var out Movement
	err := m.write(ctx, "refund", req.CreditID, func(tx generic.Store, c generic.Credit, seq int64) error {
		if req.Amount.GreaterThan(c.AvailableBalance) {
			return &generic.InsufficientBalanceError{CreditID: c.ID, Available: c.AvailableBalance, Requested: req.Amount}
		}
		newBalance := c.AvailableBalance.Sub(req.Amount)
		status := generic.StatusFor(newBalance, c.OriginalAmount)
		if newBalance.LessThanOrEqual(decimal.Zero) {
			status = generic.CreditRefunded
		}
		entry := generic.CreditEntry{
			Type:  generic.EntryRefund,
			Delta: req.Amount.Neg(),
			Note:  req.Reason,
		}
		updated, written, err := m.commit(ctx, tx, c, seq, newBalance, status, entry, req.Actor)
		if err != nil {
			return err
		}
		out = Movement{Credit: updated, Entry: written}
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	m.logger.InfoContext(ctx, "credit refunded",
		"credit_id", out.Credit.ID, "amount", req.Amount.String(), "status", out.Credit.Status)
	return out, nil
}

// ReverseApplication gives back the amount of a credit-trip link. The link
// is marked reversed, never deleted.
func (m *Manager) ReverseApplication(ctx context.Context, req ReverseRequest) (Movement, error) {
	link, err := m.store.GetCreditLink(ctx, req.LinkID)
	if err != nil {
		return Movement{}, err
	}
	if link.Reversed() {
		return Movement{}, generic.InvalidAmount("link_id", "link %s already reversed", link.ID)
	}

	var out Movement
	err = m.write(ctx, "reverse", link.CreditID, func(tx generic.Store, c generic.Credit, seq int64) error {
		// Re-read inside the transaction; a concurrent reversal may have won.
		current, err := tx.GetCreditLink(ctx, link.ID)
		if err != nil {
			return err
		}
		if current.Reversed() {
			return generic.InvalidAmount("link_id", "link %s already reversed", link.ID)
		}

		newBalance := c.AvailableBalance.Add(current.AmountApplied)
		if newBalance.GreaterThan(c.OriginalAmount) {
			return &generic.ConsistencyError{
				CreditID: c.ID,
				Stored:   c.AvailableBalance,
				Derived:  newBalance,
				Detail:   fmt.Sprintf("reversing link %s would exceed original amount %s", current.ID, c.OriginalAmount),
			}
		}

		now := m.now().UTC()
		if err := tx.MarkCreditLinkReversed(ctx, current.ID, now); err != nil {
			return fmt.Errorf("mark link reversed: %w", err)
		}
		current.ReversedAt = &now

		entry := generic.CreditEntry{
			Type:   generic.EntryRefund,
			Delta:  current.AmountApplied,
			Note:   req.Reason,
			TripID: current.TripID,
			LinkID: current.ID,
		}
		updated, written, err := m.commit(ctx, tx, c, seq, newBalance, generic.StatusFor(newBalance, c.OriginalAmount), entry, req.Actor)
		if err != nil {
			return err
		}
		out = Movement{Credit: updated, Entry: written, Link: &current}
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	m.logger.InfoContext(ctx, "credit application reversed",
		"credit_id", out.Credit.ID, "link_id", link.ID, "amount", link.AmountApplied.String())
	return out, nil
}

// Adjust applies a manual signed correction. The result must stay within
// [0, original].
func (m *Manager) Adjust(ctx context.Context, req AdjustRequest) (Movement, error) {
	if req.Delta.IsZero() {
		return Movement{}, generic.InvalidAmount("delta", "must not be zero")
	}
	if err := generic.ValidMoney("delta", req.Delta); err != nil {
		return Movement{}, err
	}
	if req.Reason == "" {
		return Movement{}, generic.InvalidInput("reason", "is required for adjustments")
	}

	var out Movement
	err := m.write(ctx, "adjust", req.CreditID, func(tx generic.Store, c generic.Credit, seq int64) error {
		newBalance := c.AvailableBalance.Add(req.Delta)
		if newBalance.IsNegative() {
			return &generic.InsufficientBalanceError{CreditID: c.ID, Available: c.AvailableBalance, Requested: req.Delta.Neg()}
		}
		if newBalance.GreaterThan(c.OriginalAmount) {
			return generic.InvalidAmount("delta", "balance %s would exceed original amount %s", newBalance, c.OriginalAmount)
		}
		entry := generic.CreditEntry{
			Type:  generic.EntryAdjustment,
			Delta: req.Delta,
			Note:  req.Reason,
		}
		updated, written, err := m.commit(ctx, tx, c, seq, newBalance, generic.StatusFor(newBalance, c.OriginalAmount), entry, req.Actor)
		if err != nil {
			return err
		}
		out = Movement{Credit: updated, Entry: written}
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	m.logger.InfoContext(ctx, "credit adjusted", "credit_id", out.Credit.ID, "delta", req.Delta.String())
	return out, nil
}

// =============================================================================
// READS
// =============================================================================

func (m *Manager) Credit(ctx context.Context, id string) (generic.Credit, error) {
	return m.store.GetCredit(ctx, id)
}

// History returns the credit's entries in sequence order.
func (m *Manager) History(ctx context.Context, creditID string) ([]generic.CreditEntry, error) {
	if _, err := m.store.GetCredit(ctx, creditID); err != nil {
		return nil, err
	}
	return m.store.ListCreditEntries(ctx, creditID)
}

func (m *Manager) Links(ctx context.Context, creditID string) ([]generic.CreditLink, error) {
	if _, err := m.store.GetCredit(ctx, creditID); err != nil {
		return nil, err
	}
	return m.store.ListCreditLinks(ctx, creditID)
}

func (m *Manager) CustomerCredits(ctx context.Context, customerID string) ([]generic.Credit, error) {
	return m.store.ListCreditsByCustomer(ctx, customerID)
}

// =============================================================================
// WRITE CYCLE
// =============================================================================

type writeFunc func(tx generic.Store, c generic.Credit, nextSeq int64) error

// write runs fn in a transaction against a freshly read, chain-checked
// credit, retrying the whole cycle on retryable failures.
func (m *Manager) write(ctx context.Context, op, creditID string, fn writeFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := generic.Retry(ctx, m.retry, m.onRetry("credit."+op), func(ctx context.Context) error {
		return m.store.WithTx(ctx, func(tx generic.Store) error {
			c, err := tx.GetCredit(ctx, creditID)
			if err != nil {
				return err
			}
			if c.Status == generic.CreditRefunded {
				return generic.InvalidInput("credit_id", "credit %s has been refunded", c.ID)
			}
			seq, err := chainHead(ctx, tx, c)
			if err != nil {
				return err
			}
			return fn(tx, c, seq)
		})
	})
	metrics.CreditOp(op, err, generic.IsClientError(err) || generic.IsNotFound(err))
	if err != nil {
		m.reportConsistency(ctx, op, err)
		return fmt.Errorf("%s credit %s: %w", op, creditID, err)
	}
	return nil
}

// chainHead checks that the last entry ends at the stored balance and
// returns the sequence number for the next entry.
func chainHead(ctx context.Context, tx generic.Store, c generic.Credit) (int64, error) {
	entries, err := tx.ListCreditEntries(ctx, c.ID)
	if err != nil {
		return 0, fmt.Errorf("list entries: %w", err)
	}
	head := c.OriginalAmount
	var last int64
	if n := len(entries); n > 0 {
		head = entries[n-1].BalanceAfter
		last = entries[n-1].Sequence
	}
	if !head.Equal(c.AvailableBalance) {
		return 0, &generic.ConsistencyError{
			CreditID: c.ID,
			Stored:   c.AvailableBalance,
			Derived:  head,
			Detail:   fmt.Sprintf("last entry (seq %d) does not end at stored balance", last),
		}
	}
	return last + 1, nil
}

// commit persists the new balance with a compare-and-swap and appends the
// entry. entry carries type, delta and references; commit fills the rest.
func (m *Manager) commit(ctx context.Context, tx generic.Store, c generic.Credit, seq int64, newBalance decimal.Decimal, status generic.CreditStatus, entry generic.CreditEntry, actor string) (generic.Credit, generic.CreditEntry, error) {
	now := m.now().UTC()

	updated := c
	updated.AvailableBalance = newBalance
	updated.Status = status
	updated.UpdatedAt = now
	if err := tx.UpdateCredit(ctx, updated); err != nil {
		return generic.Credit{}, generic.CreditEntry{}, fmt.Errorf("update credit: %w", err)
	}
	updated.Version++

	entry.ID = generic.NewID()
	entry.CreditID = c.ID
	entry.Sequence = seq
	entry.BalanceBefore = c.AvailableBalance
	entry.BalanceAfter = newBalance
	entry.CreatedBy = actor
	entry.CreatedAt = now
	if err := tx.AppendCreditEntry(ctx, entry); err != nil {
		return generic.Credit{}, generic.CreditEntry{}, fmt.Errorf("append entry: %w", err)
	}
	return updated, entry, nil
}

func (m *Manager) onRetry(op string) func(int, error) {
	return func(attempt int, err error) {
		metrics.StoreRetries.WithLabelValues(op).Inc()
		m.logger.Warn("retrying store operation", "op", op, "attempt", attempt, "err", err)
	}
}

func (m *Manager) reportConsistency(ctx context.Context, op string, err error) {
	var ce *generic.ConsistencyError
	if !errors.As(err, &ce) {
		return
	}
	metrics.ConsistencyViolations.Inc()
	m.logger.ErrorContext(ctx, "credit ledger inconsistent, manual reconciliation required",
		"kind", "consistency_violation", "op", op, "credit_id", ce.CreditID,
		"stored", ce.Stored.String(), "derived", ce.Derived.String(), "detail", ce.Detail)
}
