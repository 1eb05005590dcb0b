package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/warp/trip-ledger/generic"
)

// =============================================================================
// INSTALLMENTS
// =============================================================================

const installmentColumns = `id, charge_id, sequence, total, amount, due_date, status, method,
	paid_amount, paid_at, alert_upcoming, alert_overdue, created_at`

func (r *repo) GetInstallment(ctx context.Context, id string) (generic.Installment, error) {
	row := r.q.QueryRow(ctx, "SELECT "+installmentColumns+" FROM installments WHERE id = $1", id)
	i, err := scanInstallment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return generic.Installment{}, generic.NotFound("installment", id)
	}
	return i, mapErr("get installment", err)
}

func (r *repo) ListInstallments(ctx context.Context, chargeID string) ([]generic.Installment, error) {
	return r.queryInstallments(ctx,
		"SELECT "+installmentColumns+" FROM installments WHERE charge_id = $1 ORDER BY sequence", chargeID)
}

func (r *repo) ListPendingDueBy(ctx context.Context, day generic.Date) ([]generic.Installment, error) {
	return r.queryInstallments(ctx, `
		SELECT `+installmentColumns+`
		FROM installments
		WHERE status = $1 AND due_date <= $2
		ORDER BY due_date, charge_id, sequence`,
		string(generic.InstallmentPending), dateArg(day))
}

func (r *repo) DeleteInstallments(ctx context.Context, chargeID string) error {
	_, err := r.q.Exec(ctx, "DELETE FROM installments WHERE charge_id = $1", chargeID)
	return mapErr("delete installments", err)
}

func (r *repo) InsertInstallment(ctx context.Context, i generic.Installment) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO installments (`+installmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		i.ID, i.ChargeID, i.Sequence, i.Total, i.Amount, dateArg(i.DueDate), string(i.Status), i.Method,
		i.PaidAmount, nullDate(i.PaidAt), i.Alerts.Upcoming, i.Alerts.Overdue, i.CreatedAt,
	)
	return mapErr("insert installment", err)
}

func (r *repo) UpdateInstallment(ctx context.Context, i generic.Installment) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE installments
		SET status = $1, method = $2, paid_amount = $3, paid_at = $4
		WHERE id = $5`,
		string(i.Status), i.Method, i.PaidAmount, nullDate(i.PaidAt), i.ID,
	)
	if err != nil {
		return mapErr("update installment", err)
	}
	return r.expectOne(ctx, tag, "installments", "installment", i.ID)
}

// ClaimAlert flips the flag only if it is still unset; the row count tells
// whether this caller won.
func (r *repo) ClaimAlert(ctx context.Context, id string, t generic.AlertType) (bool, error) {
	column, err := alertColumn(t)
	if err != nil {
		return false, err
	}
	tag, err := r.q.Exec(ctx,
		"UPDATE installments SET "+column+" = true WHERE id = $1 AND NOT "+column, id)
	if err != nil {
		return false, mapErr("claim alert", err)
	}
	if tag.RowsAffected() == 1 {
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
	_, err = r.q.Exec(ctx, "UPDATE installments SET "+column+" = false WHERE id = $1", id)
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
	rows, err := r.q.Query(ctx, query, args...)
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
		i       generic.Installment
		status  string
		dueDate time.Time
		paidAt  *time.Time
	)
	err := row.Scan(&i.ID, &i.ChargeID, &i.Sequence, &i.Total, &i.Amount, &dueDate, &status, &i.Method,
		&i.PaidAmount, &paidAt, &i.Alerts.Upcoming, &i.Alerts.Overdue, &i.CreatedAt)
	if err != nil {
		return generic.Installment{}, err
	}
	i.DueDate = generic.DateOf(dueDate)
	i.Status = generic.InstallmentStatus(status)
	i.PaidAt = datePtr(paidAt)
	i.CreatedAt = i.CreatedAt.UTC()
	return i, nil
}
