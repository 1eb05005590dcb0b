package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/warp/trip-ledger/generic"
)

// =============================================================================
// BILLS
// =============================================================================

const billColumns = `id, payee, category, amount, due_date, recurring, frequency, status,
	paid_at, previous_bill_id, created_at`

func (r *repo) GetBill(ctx context.Context, id string) (generic.Bill, error) {
	row := r.q.QueryRow(ctx, "SELECT "+billColumns+" FROM bills WHERE id = $1", id)
	b, err := scanBill(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return generic.Bill{}, generic.NotFound("bill", id)
	}
	return b, mapErr("get bill", err)
}

func (r *repo) ListBills(ctx context.Context, status generic.BillStatus) ([]generic.Bill, error) {
	query := "SELECT " + billColumns + " FROM bills"
	var args []any
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, string(status))
	}
	query += " ORDER BY due_date, id"

	rows, err := r.q.Query(ctx, query, args...)
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
	_, err := r.q.Exec(ctx, `
		INSERT INTO bills (`+billColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, b.Payee, b.Category, b.Amount, dateArg(b.DueDate), b.Recurring,
		string(b.Frequency), string(b.Status), nullDate(b.PaidAt), nullString(b.PreviousBillID),
		b.CreatedAt,
	)
	return mapErr("insert bill", err)
}

func (r *repo) UpdateBill(ctx context.Context, b generic.Bill) error {
	tag, err := r.q.Exec(ctx,
		"UPDATE bills SET status = $1, paid_at = $2 WHERE id = $3",
		string(b.Status), nullDate(b.PaidAt), b.ID)
	if err != nil {
		return mapErr("update bill", err)
	}
	return r.expectOne(ctx, tag, "bills", "bill", b.ID)
}

func (r *repo) FindSuccessor(ctx context.Context, previousID string) (*generic.Bill, error) {
	row := r.q.QueryRow(ctx, "SELECT "+billColumns+" FROM bills WHERE previous_bill_id = $1", previousID)
	b, err := scanBill(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, mapErr("find successor", err)
	}
	return &b, nil
}

func scanBill(row rowScanner) (generic.Bill, error) {
	var (
		b                 generic.Bill
		frequency, status string
		dueDate           time.Time
		paidAt            *time.Time
		previousID        *string
	)
	err := row.Scan(&b.ID, &b.Payee, &b.Category, &b.Amount, &dueDate, &b.Recurring, &frequency, &status,
		&paidAt, &previousID, &b.CreatedAt)
	if err != nil {
		return generic.Bill{}, err
	}
	b.DueDate = generic.DateOf(dueDate)
	b.Frequency = generic.Frequency(frequency)
	b.Status = generic.BillStatus(status)
	b.PaidAt = datePtr(paidAt)
	b.PreviousBillID = derefString(previousID)
	b.CreatedAt = b.CreatedAt.UTC()
	return b, nil
}
