package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/warp/trip-ledger/generic"
)

// =============================================================================
// CHARGES
// =============================================================================

const chargeColumns = `id, trip_id, customer_id, fare, discount, complimentary, cancelled,
	status, created_at, updated_at`

func (r *repo) GetCharge(ctx context.Context, id string) (generic.Charge, error) {
	var c generic.Charge
	err := r.q.QueryRow(ctx, "SELECT "+chargeColumns+" FROM charges WHERE id = $1", id).Scan(
		&c.ID, &c.TripID, &c.CustomerID, &c.Fare, &c.Discount, &c.Complimentary, &c.Cancelled,
		&c.Status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return generic.Charge{}, generic.NotFound("charge", id)
	}
	if err != nil {
		return generic.Charge{}, mapErr("get charge", err)
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func (r *repo) InsertCharge(ctx context.Context, c generic.Charge) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO charges (`+chargeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.TripID, c.CustomerID, c.Fare, c.Discount, c.Complimentary, c.Cancelled,
		c.Status, c.CreatedAt, c.UpdatedAt,
	)
	return mapErr("insert charge", err)
}

func (r *repo) UpdateCharge(ctx context.Context, c generic.Charge) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE charges
		SET trip_id = $1, customer_id = $2, fare = $3, discount = $4, complimentary = $5,
		    cancelled = $6, status = $7, updated_at = $8
		WHERE id = $9`,
		c.TripID, c.CustomerID, c.Fare, c.Discount, c.Complimentary,
		c.Cancelled, c.Status, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return mapErr("update charge", err)
	}
	return r.expectOne(ctx, tag, "charges", "charge", c.ID)
}

// =============================================================================
// TOUR SELECTIONS
// =============================================================================

func (r *repo) ListTourSelections(ctx context.Context, chargeID string) ([]generic.TourSelection, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, charge_id, tour_id, charged_price
		FROM tour_selections
		WHERE charge_id = $1
		ORDER BY id`, chargeID)
	if err != nil {
		return nil, mapErr("query tour selections", err)
	}
	defer rows.Close()

	var tours []generic.TourSelection
	for rows.Next() {
		var t generic.TourSelection
		if err := rows.Scan(&t.ID, &t.ChargeID, &t.TourID, &t.ChargedPrice); err != nil {
			return nil, mapErr("scan tour selection", err)
		}
		tours = append(tours, t)
	}
	return tours, mapErr("query tour selections", rows.Err())
}

func (r *repo) InsertTourSelection(ctx context.Context, t generic.TourSelection) error {
	_, err := r.q.Exec(ctx,
		"INSERT INTO tour_selections (id, charge_id, tour_id, charged_price) VALUES ($1, $2, $3, $4)",
		t.ID, t.ChargeID, t.TourID, t.ChargedPrice)
	return mapErr("insert tour selection", err)
}

func (r *repo) DeleteTourSelection(ctx context.Context, id string) error {
	tag, err := r.q.Exec(ctx, "DELETE FROM tour_selections WHERE id = $1", id)
	if err != nil {
		return mapErr("delete tour selection", err)
	}
	return deleted(tag, "tour selection", id)
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, charge_id, category, amount, paid_on, method, note, created_at`

func (r *repo) GetPayment(ctx context.Context, id string) (generic.Payment, error) {
	row := r.q.QueryRow(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = $1", id)
	p, err := scanPayment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return generic.Payment{}, generic.NotFound("payment", id)
	}
	return p, mapErr("get payment", err)
}

func (r *repo) ListPayments(ctx context.Context, chargeID string) ([]generic.Payment, error) {
	rows, err := r.q.Query(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE charge_id = $1 ORDER BY paid_on, id", chargeID)
	if err != nil {
		return nil, mapErr("query payments", err)
	}
	defer rows.Close()

	var payments []generic.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, mapErr("scan payment", err)
		}
		payments = append(payments, p)
	}
	return payments, mapErr("query payments", rows.Err())
}

func (r *repo) InsertPayment(ctx context.Context, p generic.Payment) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.ChargeID, string(p.Category), p.Amount, dateArg(p.Date), p.Method, p.Note, p.CreatedAt,
	)
	return mapErr("insert payment", err)
}

func (r *repo) UpdatePayment(ctx context.Context, p generic.Payment) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE payments
		SET category = $1, amount = $2, paid_on = $3, method = $4, note = $5
		WHERE id = $6`,
		string(p.Category), p.Amount, dateArg(p.Date), p.Method, p.Note, p.ID,
	)
	if err != nil {
		return mapErr("update payment", err)
	}
	return r.expectOne(ctx, tag, "payments", "payment", p.ID)
}

func (r *repo) DeletePayment(ctx context.Context, id string) error {
	tag, err := r.q.Exec(ctx, "DELETE FROM payments WHERE id = $1", id)
	if err != nil {
		return mapErr("delete payment", err)
	}
	return deleted(tag, "payment", id)
}

func scanPayment(row rowScanner) (generic.Payment, error) {
	var (
		p        generic.Payment
		category string
	)
	if err := row.Scan(&p.ID, &p.ChargeID, &category, &p.Amount, &p.Date.Time, &p.Method, &p.Note, &p.CreatedAt); err != nil {
		return generic.Payment{}, err
	}
	p.Category = generic.PaymentCategory(category)
	p.Date = generic.DateOf(p.Date.Time)
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}

func deleted(tag pgconn.CommandTag, kind, id string) error {
	if tag.RowsAffected() == 0 {
		return generic.NotFound(kind, id)
	}
	return nil
}
