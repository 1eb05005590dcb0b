package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/warp/trip-ledger/generic"
)

// =============================================================================
// CHARGES
// =============================================================================

const chargeColumns = `id, trip_id, customer_id, fare, discount, complimentary, cancelled,
	status, created_at, updated_at`

func (r *repo) GetCharge(ctx context.Context, id string) (generic.Charge, error) {
	var (
		c                    generic.Charge
		complimentary        int
		cancelled            int
		createdAt, updatedAt string
	)
	err := r.q.QueryRowContext(ctx, "SELECT "+chargeColumns+" FROM charges WHERE id = ?", id).Scan(
		&c.ID, &c.TripID, &c.CustomerID, &c.Fare, &c.Discount, &complimentary, &cancelled,
		&c.Status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Charge{}, generic.NotFound("charge", id)
	}
	if err != nil {
		return generic.Charge{}, mapErr("get charge", err)
	}
	c.Complimentary = complimentary != 0
	c.Cancelled = cancelled != 0
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

func (r *repo) InsertCharge(ctx context.Context, c generic.Charge) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO charges (`+chargeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TripID, c.CustomerID, c.Fare.String(), c.Discount.String(),
		boolInt(c.Complimentary), boolInt(c.Cancelled), c.Status,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	return mapErr("insert charge", err)
}

func (r *repo) UpdateCharge(ctx context.Context, c generic.Charge) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE charges
		SET trip_id = ?, customer_id = ?, fare = ?, discount = ?, complimentary = ?,
		    cancelled = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		c.TripID, c.CustomerID, c.Fare.String(), c.Discount.String(), boolInt(c.Complimentary),
		boolInt(c.Cancelled), c.Status, formatTime(c.UpdatedAt), c.ID,
	)
	if err != nil {
		return mapErr("update charge", err)
	}
	return r.expectOne(ctx, res, "charges", "charge", c.ID)
}

// =============================================================================
// TOUR SELECTIONS
// =============================================================================

func (r *repo) ListTourSelections(ctx context.Context, chargeID string) ([]generic.TourSelection, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, charge_id, tour_id, charged_price
		FROM tour_selections
		WHERE charge_id = ?
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
	_, err := r.q.ExecContext(ctx,
		"INSERT INTO tour_selections (id, charge_id, tour_id, charged_price) VALUES (?, ?, ?, ?)",
		t.ID, t.ChargeID, t.TourID, t.ChargedPrice.String())
	return mapErr("insert tour selection", err)
}

func (r *repo) DeleteTourSelection(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, "DELETE FROM tour_selections WHERE id = ?", id)
	if err != nil {
		return mapErr("delete tour selection", err)
	}
	return deleted(res, "tour selection", id)
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, charge_id, category, amount, paid_on, method, note, created_at`

func (r *repo) GetPayment(ctx context.Context, id string) (generic.Payment, error) {
	row := r.q.QueryRowContext(ctx, "SELECT "+paymentColumns+" FROM payments WHERE id = ?", id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Payment{}, generic.NotFound("payment", id)
	}
	return p, mapErr("get payment", err)
}

func (r *repo) ListPayments(ctx context.Context, chargeID string) ([]generic.Payment, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE charge_id = ? ORDER BY paid_on, id", chargeID)
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
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.ChargeID, p.Category, p.Amount.String(), p.Date.String(),
		p.Method, p.Note, formatTime(p.CreatedAt),
	)
	return mapErr("insert payment", err)
}

func (r *repo) UpdatePayment(ctx context.Context, p generic.Payment) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE payments
		SET category = ?, amount = ?, paid_on = ?, method = ?, note = ?
		WHERE id = ?`,
		p.Category, p.Amount.String(), p.Date.String(), p.Method, p.Note, p.ID,
	)
	if err != nil {
		return mapErr("update payment", err)
	}
	return r.expectOne(ctx, res, "payments", "payment", p.ID)
}

func (r *repo) DeletePayment(ctx context.Context, id string) error {
	res, err := r.q.ExecContext(ctx, "DELETE FROM payments WHERE id = ?", id)
	if err != nil {
		return mapErr("delete payment", err)
	}
	return deleted(res, "payment", id)
}

func scanPayment(row rowScanner) (generic.Payment, error) {
	var (
		p                 generic.Payment
		paidOn, createdAt string
		method, note      sql.NullString
	)
	if err := row.Scan(&p.ID, &p.ChargeID, &p.Category, &p.Amount, &paidOn, &method, &note, &createdAt); err != nil {
		return generic.Payment{}, err
	}
	p.Date = parseDate(paidOn)
	p.Method = method.String
	p.Note = note.String
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

func deleted(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr("rows affected", err)
	}
	if n == 0 {
		return generic.NotFound(kind, id)
	}
	return nil
}
