package charge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/trip-ledger/generic"
	"github.com/warp/trip-ledger/metrics"
)

// =============================================================================
// SERVICE - charge records with status cache refresh
// =============================================================================

// Service owns charges, tour selections and payment records. Every mutation
// recomputes the breakdown and stores the resulting status in the same
// transaction as the write.
type Service struct {
	store  generic.TxStore
	logger *slog.Logger
	retry  generic.RetryPolicy
	now    func() time.Time
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithRetryPolicy(p generic.RetryPolicy) Option { return func(s *Service) { s.retry = p } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store generic.TxStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: slog.Default(),
		retry:  generic.DefaultRetryPolicy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateChargeRequest struct {
	TripID        string
	CustomerID    string
	Fare          decimal.Decimal
	Discount      decimal.Decimal
	Complimentary bool
}

type PaymentRequest struct {
	ChargeID string // ignored on update
	Category generic.PaymentCategory
	Amount   decimal.Decimal
	Date     generic.Date
	Method   string
	Note     string
}

// Load reads a charge's source records from st and computes its breakdown.
// st may be a transaction view.
func Load(ctx context.Context, st generic.ChargeStore, chargeID string) (generic.Charge, Breakdown, error) {
	c, err := st.GetCharge(ctx, chargeID)
	if err != nil {
		return generic.Charge{}, Breakdown{}, err
	}
	tours, err := st.ListTourSelections(ctx, chargeID)
	if err != nil {
		return generic.Charge{}, Breakdown{}, fmt.Errorf("list tour selections: %w", err)
	}
	payments, err := st.ListPayments(ctx, chargeID)
	if err != nil {
		return generic.Charge{}, Breakdown{}, fmt.Errorf("list payments: %w", err)
	}
	b, err := Compute(c, tours, payments)
	if err != nil {
		return generic.Charge{}, Breakdown{}, err
	}
	return c, b, nil
}

// =============================================================================
// CHARGES
// =============================================================================

func (s *Service) CreateCharge(ctx context.Context, req CreateChargeRequest) (generic.Charge, Breakdown, error) {
	if req.TripID == "" || req.CustomerID == "" {
		return generic.Charge{}, Breakdown{}, generic.InvalidInput("trip_id", "trip and customer are required")
	}
	if err := generic.ValidMoney("fare", req.Fare); err != nil {
		return generic.Charge{}, Breakdown{}, err
	}
	if err := generic.ValidMoney("discount", req.Discount); err != nil {
		return generic.Charge{}, Breakdown{}, err
	}
	now := s.now().UTC()
	c := generic.Charge{
		ID:            generic.NewID(),
		TripID:        req.TripID,
		CustomerID:    req.CustomerID,
		Fare:          req.Fare,
		Discount:      req.Discount,
		Complimentary: req.Complimentary,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	// Validate before any write.
	b, err := Compute(c, nil, nil)
	if err != nil {
		return generic.Charge{}, Breakdown{}, err
	}
	c.Status = b.Status.String()

	err = generic.Retry(ctx, s.retry, s.onRetry("charge.create"), func(ctx context.Context) error {
		return s.store.InsertCharge(ctx, c)
	})
	if err != nil {
		return generic.Charge{}, Breakdown{}, fmt.Errorf("create charge: %w", err)
	}
	metrics.ChargeStatusRecomputes.WithLabelValues(c.Status).Inc()
	s.logger.InfoContext(ctx, "charge created", "charge_id", c.ID, "trip_id", c.TripID, "status", c.Status)
	return c, b, nil
}

func (s *Service) GetCharge(ctx context.Context, id string) (generic.Charge, error) {
	return s.store.GetCharge(ctx, id)
}

// Breakdown recomputes from source records; the stored status is not read.
func (s *Service) Breakdown(ctx context.Context, chargeID string) (Breakdown, error) {
	_, b, err := Load(ctx, s.store, chargeID)
	return b, err
}

func (s *Service) SetCancelled(ctx context.Context, chargeID string, cancelled bool) (Breakdown, error) {
	return s.mutate(ctx, "charge.cancel", func(tx generic.Store) (string, error) {
		c, err := tx.GetCharge(ctx, chargeID)
		if err != nil {
			return "", err
		}
		c.Cancelled = cancelled
		return c.ID, tx.UpdateCharge(ctx, c)
	})
}

// =============================================================================
// TOUR SELECTIONS
// =============================================================================

func (s *Service) TourSelections(ctx context.Context, chargeID string) ([]generic.TourSelection, error) {
	if _, err := s.store.GetCharge(ctx, chargeID); err != nil {
		return nil, err
	}
	return s.store.ListTourSelections(ctx, chargeID)
}

func (s *Service) AddTourSelection(ctx context.Context, chargeID, tourID string, price decimal.Decimal) (generic.TourSelection, Breakdown, error) {
	if tourID == "" {
		return generic.TourSelection{}, Breakdown{}, generic.InvalidInput("tour_id", "is required")
	}
	if price.IsNegative() {
		return generic.TourSelection{}, Breakdown{}, generic.InvalidAmount("charged_price", "must not be negative, got %s", price)
	}
	if err := generic.ValidMoney("charged_price", price); err != nil {
		return generic.TourSelection{}, Breakdown{}, err
	}
	sel := generic.TourSelection{ID: generic.NewID(), ChargeID: chargeID, TourID: tourID, ChargedPrice: price}
	b, err := s.mutate(ctx, "charge.add_tour", func(tx generic.Store) (string, error) {
		if _, err := tx.GetCharge(ctx, chargeID); err != nil {
			return "", err
		}
		return chargeID, tx.InsertTourSelection(ctx, sel)
	})
	if err != nil {
		return generic.TourSelection{}, Breakdown{}, err
	}
	return sel, b, nil
}

func (s *Service) RemoveTourSelection(ctx context.Context, chargeID, selectionID string) (Breakdown, error) {
	return s.mutate(ctx, "charge.remove_tour", func(tx generic.Store) (string, error) {
		tours, err := tx.ListTourSelections(ctx, chargeID)
		if err != nil {
			return "", err
		}
		for _, t := range tours {
			if t.ID == selectionID {
				return chargeID, tx.DeleteTourSelection(ctx, selectionID)
			}
		}
		return "", generic.NotFound("tour selection", selectionID)
	})
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (s *Service) Payments(ctx context.Context, chargeID string) ([]generic.Payment, error) {
	if _, err := s.store.GetCharge(ctx, chargeID); err != nil {
		return nil, err
	}
	return s.store.ListPayments(ctx, chargeID)
}

func (s *Service) RecordPayment(ctx context.Context, req PaymentRequest) (generic.Payment, Breakdown, error) {
	if err := validatePayment(req); err != nil {
		return generic.Payment{}, Breakdown{}, err
	}
	p := generic.Payment{
		ID:        generic.NewID(),
		ChargeID:  req.ChargeID,
		Category:  req.Category,
		Amount:    req.Amount,
		Date:      req.Date,
		Method:    req.Method,
		Note:      req.Note,
		CreatedAt: s.now().UTC(),
	}
	if p.Date.IsZero() {
		p.Date = generic.DateOf(p.CreatedAt)
	}
	b, err := s.mutate(ctx, "charge.record_payment", func(tx generic.Store) (string, error) {
		if _, err := tx.GetCharge(ctx, p.ChargeID); err != nil {
			return "", err
		}
		return p.ChargeID, tx.InsertPayment(ctx, p)
	})
	if err != nil {
		return generic.Payment{}, Breakdown{}, err
	}
	s.logger.InfoContext(ctx, "payment recorded",
		"charge_id", p.ChargeID, "payment_id", p.ID, "category", p.Category, "amount", p.Amount.String(), "status", b.Status.String())
	return p, b, nil
}

// UpdatePayment replaces the category, amount, date, method and note of a
// payment. The charge it belongs to cannot change.
func (s *Service) UpdatePayment(ctx context.Context, paymentID string, req PaymentRequest) (generic.Payment, Breakdown, error) {
	if err := validatePayment(req); err != nil {
		return generic.Payment{}, Breakdown{}, err
	}
	var updated generic.Payment
	b, err := s.mutate(ctx, "charge.update_payment", func(tx generic.Store) (string, error) {
		p, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return "", err
		}
		p.Category = req.Category
		p.Amount = req.Amount
		if !req.Date.IsZero() {
			p.Date = req.Date
		}
		p.Method = req.Method
		p.Note = req.Note
		updated = p
		return p.ChargeID, tx.UpdatePayment(ctx, p)
	})
	if err != nil {
		return generic.Payment{}, Breakdown{}, err
	}
	return updated, b, nil
}

func (s *Service) DeletePayment(ctx context.Context, paymentID string) (Breakdown, error) {
	return s.mutate(ctx, "charge.delete_payment", func(tx generic.Store) (string, error) {
		p, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return "", err
		}
		return p.ChargeID, tx.DeletePayment(ctx, paymentID)
	})
}

func validatePayment(req PaymentRequest) error {
	if !req.Category.Valid() {
		return generic.InvalidInput("category", "must be trip, add_ons or both, got %q", req.Category)
	}
	if !req.Amount.IsPositive() {
		return generic.InvalidAmount("amount", "must be positive, got %s", req.Amount)
	}
	return generic.ValidMoney("amount", req.Amount)
}

// =============================================================================
// STATUS REFRESH
// =============================================================================

// mutate runs write and the status refresh of the charge it touched in one
// transaction. write returns the charge id.
func (s *Service) mutate(ctx context.Context, op string, write func(tx generic.Store) (string, error)) (Breakdown, error) {
	if err := ctx.Err(); err != nil {
		return Breakdown{}, err
	}
	var b Breakdown
	err := generic.Retry(ctx, s.retry, s.onRetry(op), func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(tx generic.Store) error {
			chargeID, err := write(tx)
			if err != nil {
				return err
			}
			b, err = Refresh(ctx, tx, chargeID, s.now().UTC())
			return err
		})
	})
	if err != nil {
		return Breakdown{}, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

// Refresh recomputes a charge and writes its status back when it changed.
func Refresh(ctx context.Context, tx generic.Store, chargeID string, now time.Time) (Breakdown, error) {
	c, b, err := Load(ctx, tx, chargeID)
	if err != nil {
		return Breakdown{}, err
	}
	metrics.ChargeStatusRecomputes.WithLabelValues(b.Status.String()).Inc()
	if c.Status == b.Status.String() {
		return b, nil
	}
	c.Status = b.Status.String()
	c.UpdatedAt = now
	if err := tx.UpdateCharge(ctx, c); err != nil {
		return Breakdown{}, fmt.Errorf("store status: %w", err)
	}
	return b, nil
}

func (s *Service) onRetry(op string) func(int, error) {
	return func(attempt int, err error) {
		metrics.StoreRetries.WithLabelValues(op).Inc()
		s.logger.Warn("retrying store operation", "op", op, "attempt", attempt, "err", err)
	}
}
