package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/warp/trip-ledger/generic"
)

// =============================================================================
// CREDITS
// =============================================================================

const creditColumns = `id, customer_id, original_amount, available_balance, status, use_type,
	expires_at, note, version, created_at, updated_at`

func (r *repo) GetCredit(ctx context.Context, id string) (generic.Credit, error) {
	row := r.q.QueryRowContext(ctx, "SELECT "+creditColumns+" FROM credits WHERE id = ?", id)
	c, err := scanCredit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.Credit{}, generic.NotFound("credit", id)
	}
	return c, mapErr("get credit", err)
}

func (r *repo) ListCreditsByCustomer(ctx context.Context, customerID string) ([]generic.Credit, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+creditColumns+" FROM credits WHERE customer_id = ? ORDER BY created_at, id", customerID)
	if err != nil {
		return nil, mapErr("query credits", err)
	}
	defer rows.Close()

	var credits []generic.Credit
	for rows.Next() {
		c, err := scanCredit(rows)
		if err != nil {
			return nil, mapErr("scan credit", err)
		}
		credits = append(credits, c)
	}
	return credits, mapErr("query credits", rows.Err())
}

func (r *repo) InsertCredit(ctx context.Context, c generic.Credit) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO credits (`+creditColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.CustomerID, c.OriginalAmount.String(), c.AvailableBalance.String(),
		c.Status, c.UseType, nullDate(c.ExpiresAt), c.Note, c.Version,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	return mapErr("insert credit", err)
}

// UpdateCredit is a compare-and-swap on version.
func (r *repo) UpdateCredit(ctx context.Context, c generic.Credit) error {
	res, err := r.q.ExecContext(ctx, `
		UPDATE credits
		SET available_balance = ?, status = ?, updated_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		c.AvailableBalance.String(), c.Status, formatTime(c.UpdatedAt), c.ID, c.Version,
	)
	if err != nil {
		return mapErr("update credit", err)
	}
	return r.expectOne(ctx, res, "credits", "credit", c.ID)
}

func (r *repo) AppendCreditEntry(ctx context.Context, e generic.CreditEntry) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO credit_entries
		(id, credit_id, sequence, entry_type, balance_before, delta, balance_after,
		 note, trip_id, link_id, created_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CreditID, e.Sequence, e.Type,
		e.BalanceBefore.String(), e.Delta.String(), e.BalanceAfter.String(),
		e.Note, nullString(e.TripID), nullString(e.LinkID), e.CreatedBy, formatTime(e.CreatedAt),
	)
	return mapErr("append credit entry", err)
}

func (r *repo) ListCreditEntries(ctx context.Context, creditID string) ([]generic.CreditEntry, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT id, credit_id, sequence, entry_type, balance_before, delta, balance_after,
		       note, trip_id, link_id, created_by, created_at
		FROM credit_entries
		WHERE credit_id = ?
		ORDER BY sequence ASC`, creditID)
	if err != nil {
		return nil, mapErr("query credit entries", err)
	}
	defer rows.Close()

	var entries []generic.CreditEntry
	for rows.Next() {
		var (
			e                               generic.CreditEntry
			createdAt                       string
			note, tripID, linkID, createdBy sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.CreditID, &e.Sequence, &e.Type, &e.BalanceBefore, &e.Delta, &e.BalanceAfter,
			&note, &tripID, &linkID, &createdBy, &createdAt); err != nil {
			return nil, mapErr("scan credit entry", err)
		}
		e.Note = note.String
		e.TripID = tripID.String
		e.LinkID = linkID.String
		e.CreatedBy = createdBy.String
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, mapErr("query credit entries", rows.Err())
}

// =============================================================================
// CREDIT LINKS
// =============================================================================

const linkColumns = `id, credit_id, trip_id, amount_applied, note, created_at, reversed_at`

func (r *repo) InsertCreditLink(ctx context.Context, l generic.CreditLink) error {
	_, err := r.q.ExecContext(ctx, `
		INSERT INTO credit_links (`+linkColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.CreditID, l.TripID, l.AmountApplied.String(), l.Note,
		formatTime(l.CreatedAt), nullTime(l.ReversedAt),
	)
	return mapErr("insert credit link", err)
}

func (r *repo) GetCreditLink(ctx context.Context, id string) (generic.CreditLink, error) {
	row := r.q.QueryRowContext(ctx, "SELECT "+linkColumns+" FROM credit_links WHERE id = ?", id)
	l, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return generic.CreditLink{}, generic.NotFound("credit link", id)
	}
	return l, mapErr("get credit link", err)
}

func (r *repo) ListCreditLinks(ctx context.Context, creditID string) ([]generic.CreditLink, error) {
	rows, err := r.q.QueryContext(ctx,
		"SELECT "+linkColumns+" FROM credit_links WHERE credit_id = ? ORDER BY created_at, id", creditID)
	if err != nil {
		return nil, mapErr("query credit links", err)
	}
	defer rows.Close()

	var links []generic.CreditLink
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, mapErr("scan credit link", err)
		}
		links = append(links, l)
	}
	return links, mapErr("query credit links", rows.Err())
}

func (r *repo) MarkCreditLinkReversed(ctx context.Context, id string, at time.Time) error {
	res, err := r.q.ExecContext(ctx,
		"UPDATE credit_links SET reversed_at = ? WHERE id = ? AND reversed_at IS NULL",
		formatTime(at), id)
	if err != nil {
		return mapErr("reverse credit link", err)
	}
	return r.expectOne(ctx, res, "credit_links", "credit link", id)
}

// expectOne turns a conditional update that touched no row into NotFound
// (row missing) or ErrConcurrentModification (condition lost).
func (r *repo) expectOne(ctx context.Context, res sql.Result, table, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr("rows affected", err)
	}
	if n == 1 {
		return nil
	}
	found, err := r.exists(ctx, table, id)
	if err != nil {
		return err
	}
	if !found {
		return generic.NotFound(kind, id)
	}
	return generic.ErrConcurrentModification
}

func scanCredit(row rowScanner) (generic.Credit, error) {
	var (
		c                    generic.Credit
		expiresAt, note      sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&c.ID, &c.CustomerID, &c.OriginalAmount, &c.AvailableBalance, &c.Status, &c.UseType,
		&expiresAt, &note, &c.Version, &createdAt, &updatedAt)
	if err != nil {
		return generic.Credit{}, err
	}
	c.ExpiresAt = datePtr(expiresAt)
	c.Note = note.String
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return c, nil
}

func scanLink(row rowScanner) (generic.CreditLink, error) {
	var (
		l                generic.CreditLink
		createdAt        string
		note, reversedAt sql.NullString
	)
	if err := row.Scan(&l.ID, &l.CreditID, &l.TripID, &l.AmountApplied, &note, &createdAt, &reversedAt); err != nil {
		return generic.CreditLink{}, err
	}
	l.Note = note.String
	l.CreatedAt = parseTime(createdAt)
	l.ReversedAt = timePtr(reversedAt)
	return l, nil
}
