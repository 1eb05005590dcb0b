package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/warp/trip-ledger/generic"
)

// =============================================================================
// INSTALLMENTS
// =============================================================================

const installmentColumns = `id, charge_id, sequence, total, amount, due_date, status, method,
	paid_amount, paid_at, alert_upcoming, alert_overdue, created_at`

func (r *repo) GetInstallment(ctx context.Context, id string) (generic.Installment, error) {
	row := r.q.QueryRowContext(ctx, "SELECT "+installmentColumns+" FROM installments WHERE id = ?", id)
	i, err := scanInstallment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Installment{}, generic.NotFound("installment", id)
	}
	return i, mapErr("get installment", err)
}

func (r *repo) ListInstallments(ctx context.Context, chargeID string) ([]generic.Installment, error) {
	return r.queryInstallments(ctx,
		"SELECT "+installmentColumns+" FROM installments WHERE charge_id = ? ORDER BY sequence", chargeID)
}

func (r *repo) ListPendingDueBy(ctx context.Context, day generic.Date) ([]generic.Installment, error) {
	return r.queryInstallments(ctx, `
		SELECT `+installmentColumns+`
		FROM installments
		WHERE status = ? AND due_date <= ?
		ORDER BY due_date, charge_id, sequence`,
		generic.InstallmentPending, day.String())
}

func (r *repo) DeleteInstallments(ctx context.Context, chargeID string) error {
	_, err := r.q.ExecContext(ctx, "DELETE FROM installments WHERE charge_id = ?", chargeID)
	return mapErr("delete installments", err)
}

func (r *repo) InsertInstallment(ctx context.Context, i generic.Installment) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO installments (`+installmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.ChargeID, i.Sequence, i.Total, i.Amount.String(), i.DueDate.String(),
		i.Status, i.Method, i.PaidAmount.String(), nullDate(i.PaidAt),
		boolInt(i.Alerts.Upcoming), boolInt(i.Alerts.Overdue), formatTime(i.CreatedAt),
	)
	return mapErr("insert installment", err)
}

func (r *repo) UpdateInstallment(ctx context.Context, i generic.Installment) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE installments
		SET status = ?, method = ?, paid_amount = ?, paid_at = ?
		WHERE id = ?`,
		i.Status, i.Method, i.PaidAmount.String(), nullDate(i.PaidAt), i.ID,
	)
	if err != nil {
		return mapErr("update installment", err)
	}
	return r.expectOne(ctx, res, "installments", "installment", i.ID)
}

// ClaimAlert flips the flag only if it is still unset; the row count tells
// whether this caller won.
func (r *repo) ClaimAlert(ctx context.Context, id string, t generic.AlertType) (bool, error) {
	column, err := alertColumn(t)
	if err != nil {
		return false, err
	}
	res, err := r.q.ExecContext(ctx,
		"UPDATE installments SET "+column+" = 1 WHERE id = ? AND "+column+" = 0", id)
	if err != nil {
		return false, mapErr("claim alert", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, mapErr("rows affected", err)
	}
	if n == 1 {
		return true, nil
	}
	found, err := r.exists(ctx, "installments", id)
	if err != nil {
		return false, err
	}
	if !found {
		return false, generic.NotFound("installment", id)
	}
	return false, nil
}

func (r *repo) ReleaseAlert(ctx context.Context, id string, t generic.AlertType) error {
	column, err := alertColumn(t)
	if err != nil {
		return err
	}
	_, err = r.q.ExecContext(ctx, "UPDATE installments SET "+column+" = 0 WHERE id = ?", id)
	return mapErr("release alert", err)
}

func alertColumn(t generic.AlertType) (string, error) {
	switch t {
	case generic.AlertUpcoming:
		return "alert_upcoming", nil
	case generic.AlertOverdue:
		return "alert_overdue", nil
	}
	return "", generic.InvalidInput("alert_type", "unknown alert type %q", t)
}

func (r *repo) queryInstallments(ctx context.Context, query string, args ...any) ([]generic.Installment, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr("query installments", err)
	}
	defer rows.Close()

	var out []generic.Installment
	for rows.Next() {
		i, err := scanInstallment(rows)
		if err != nil {
			return nil, mapErr("scan installment", err)
		}
		out = append(out, i)
	}
	return out, mapErr("query installments", rows.Err())
}

func scanInstallment(row rowScanner) (generic.Installment, error) {
	var (
		i                  generic.Installment
		dueDate, createdAt string
		method, paidAt     sql.NullString
		upcoming, overdue  int
	)
	err := row.Scan(&i.ID, &i.ChargeID, &i.Sequence, &i.Total, &i.Amount, &dueDate, &i.Status, &method,
		&i.PaidAmount, &paidAt, &upcoming, &overdue, &createdAt)
	if err != nil {
		return generic.Installment{}, err
	}
	i.DueDate = parseDate(dueDate)
	i.Method = method.String
	i.PaidAt = datePtr(paidAt)
	i.Alerts = generic.AlertFlags{Upcoming: upcoming != 0, Overdue: overdue != 0}
	i.CreatedAt = parseTime(createdAt)
	return i, nil
}
