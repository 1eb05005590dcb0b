package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/warp/trip-ledger/generic"
)

// =============================================================================
// BILLS
// =============================================================================

const billColumns = `id, payee, category, amount, due_date, recurring, frequency, status,
	paid_at, previous_bill_id, created_at`

func (r *repo) GetBill(ctx context.Context, id string) (generic.Bill, error) {
	row := r.q.QueryRowContext(ctx, "SELECT "+billColumns+" FROM bills WHERE id = ?", id)
	b, err := scanBill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Bill{}, generic.NotFound("bill", id)
	}
	return b, mapErr("get bill", err)
}

func (r *repo) ListBills(ctx context.Context, status generic.BillStatus) ([]generic.Bill, error) {
	query := "SELECT " + billColumns + " FROM bills"
	var args []any
	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}
	query += " ORDER BY due_date, id"

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapErr("query bills", err)
	}
	defer rows.Close()

	var bills []generic.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, mapErr("scan bill", err)
		}
		bills = append(bills, b)
	}
	return bills, mapErr("query bills", rows.Err())
}

func (r *repo) InsertBill(ctx context.Context, b generic.Bill) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO bills (`+billColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Payee, b.Category, b.Amount.String(), b.DueDate.String(), boolInt(b.Recurring),
		nullString(string(b.Frequency)), b.Status, nullDate(b.PaidAt), nullString(b.PreviousBillID),
		formatTime(b.CreatedAt),
	)
	return mapErr("insert bill", err)
}

func (r *repo) UpdateBill(ctx context.Context, b generic.Bill) error {
	res, err := r.q.ExecContext(ctx,
		"UPDATE bills SET status = ?, paid_at = ? WHERE id = ?",
		b.Status, nullDate(b.PaidAt), b.ID)
	if err != nil {
		return mapErr("update bill", err)
	}
	return r.expectOne(ctx, res, "bills", "bill", b.ID)
}

func (r *repo) FindSuccessor(ctx context.Context, previousID string) (*generic.Bill, error) {
	row := r.q.QueryRowContext(ctx, "SELECT "+billColumns+" FROM bills WHERE previous_bill_id = ?", previousID)
	b, err := scanBill(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr("find successor", err)
	}
	return &b, nil
}

func scanBill(row rowScanner) (generic.Bill, error) {
	var (
		b                   generic.Bill
		dueDate, createdAt  string
		category, frequency sql.NullString
		paidAt, previousID  sql.NullString
		recurring           int
	)
	err := row.Scan(&b.ID, &b.Payee, &category, &b.Amount, &dueDate, &recurring, &frequency, &b.Status,
		&paidAt, &previousID, &createdAt)
	if err != nil {
		return generic.Bill{}, err
	}
	b.Category = category.String
	b.DueDate = parseDate(dueDate)
	b.Recurring = recurring != 0
	b.Frequency = generic.Frequency(frequency.String)
	b.PaidAt = datePtr(paidAt)
	b.PreviousBillID = previousID.String
	b.CreatedAt = parseTime(createdAt)
	return b, nil
}
