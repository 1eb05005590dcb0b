package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/warp/trip-ledger/generic"
)

// =============================================================================
// CREDITS
// =============================================================================

const creditColumns = `id, customer_id, original_amount, available_balance, status, use_type,
	expires_at, note, version, created_at, updated_at`

func (r *repo) GetCredit(ctx context.Context, id string) (generic.Credit, error) {
	row := r.q.QueryRow(ctx, "SELECT "+creditColumns+" FROM credits WHERE id = $1", id)
	c, err := scanCredit(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return generic.Credit{}, generic.NotFound("credit", id)
	}
	return c, mapErr("get credit", err)
}

func (r *repo) ListCreditsByCustomer(ctx context.Context, customerID string) ([]generic.Credit, error) {
	rows, err := r.q.Query(ctx,
		"SELECT "+creditColumns+" FROM credits WHERE customer_id = $1 ORDER BY created_at, id", customerID)
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
	_, err := r.q.Exec(ctx, `
		INSERT INTO credits (`+creditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.CustomerID, c.OriginalAmount, c.AvailableBalance, string(c.Status), string(c.UseType),
		nullDate(c.ExpiresAt), c.Note, c.Version, c.CreatedAt, c.UpdatedAt,
	)
	return mapErr("insert credit", err)
}

// UpdateCredit is a compare-and-swap on version.
func (r *repo) UpdateCredit(ctx context.Context, c generic.Credit) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE credits
		SET available_balance = $1, status = $2, updated_at = $3, version = version + 1
		WHERE id = $4 AND version = $5`,
		c.AvailableBalance, string(c.Status), c.UpdatedAt, c.ID, c.Version,
	)
	if err != nil {
		return mapErr("update credit", err)
	}
	return r.expectOne(ctx, tag, "credits", "credit", c.ID)
}

func (r *repo) AppendCreditEntry(ctx context.Context, e generic.CreditEntry) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO credit_entries
		(id, credit_id, sequence, entry_type, balance_before, delta, balance_after,
		 note, trip_id, link_id, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.CreditID, e.Sequence, string(e.Type), e.BalanceBefore, e.Delta, e.BalanceAfter,
		e.Note, e.TripID, e.LinkID, e.CreatedBy, e.CreatedAt,
	)
	return mapErr("append credit entry", err)
}

func (r *repo) ListCreditEntries(ctx context.Context, creditID string) ([]generic.CreditEntry, error) {
	rows, err := r.q.Query(ctx, `
		SELECT id, credit_id, sequence, entry_type, balance_before, delta, balance_after,
		       note, trip_id, link_id, created_by, created_at
		FROM credit_entries
		WHERE credit_id = $1
		ORDER BY sequence ASC`, creditID)
	if err != nil {
		return nil, mapErr("query credit entries", err)
	}
	defer rows.Close()

	var entries []generic.CreditEntry
	for rows.Next() {
		var (
			e         generic.CreditEntry
			entryType string
		)
		if err := rows.Scan(&e.ID, &e.CreditID, &e.Sequence, &entryType, &e.BalanceBefore, &e.Delta,
			&e.BalanceAfter, &e.Note, &e.TripID, &e.LinkID, &e.CreatedBy, &e.CreatedAt); err != nil {
			return nil, mapErr("scan credit entry", err)
		}
		e.Type = generic.EntryType(entryType)
		entries = append(entries, e)
	}
	return entries, mapErr("query credit entries", rows.Err())
}

// =============================================================================
// CREDIT LINKS
// =============================================================================

const linkColumns = `id, credit_id, trip_id, amount_applied, note, created_at, reversed_at`

func (r *repo) InsertCreditLink(ctx context.Context, l generic.CreditLink) error {
	_, err := r.q.Exec(ctx, `
		INSERT INTO credit_links (`+linkColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		l.ID, l.CreditID, l.TripID, l.AmountApplied, l.Note, l.CreatedAt, l.ReversedAt,
	)
	return mapErr("insert credit link", err)
}

func (r *repo) GetCreditLink(ctx context.Context, id string) (generic.CreditLink, error) {
	row := r.q.QueryRow(ctx, "SELECT "+linkColumns+" FROM credit_links WHERE id = $1", id)
	l, err := scanLink(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return generic.CreditLink{}, generic.NotFound("credit link", id)
	}
	return l, mapErr("get credit link", err)
}

func (r *repo) ListCreditLinks(ctx context.Context, creditID string) ([]generic.CreditLink, error) {
	rows, err := r.q.Query(ctx,
		"SELECT "+linkColumns+" FROM credit_links WHERE credit_id = $1 ORDER BY created_at, id", creditID)
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
	tag, err := r.q.Exec(ctx,
		"UPDATE credit_links SET reversed_at = $1 WHERE id = $2 AND reversed_at IS NULL", at, id)
	if err != nil {
		return mapErr("reverse credit link", err)
	}
	return r.expectOne(ctx, tag, "credit_links", "credit link", id)
}

func scanCredit(row rowScanner) (generic.Credit, error) {
	var (
		c               generic.Credit
		status, useType string
		expiresAt       *time.Time
	)
	err := row.Scan(&c.ID, &c.CustomerID, &c.OriginalAmount, &c.AvailableBalance, &status, &useType,
		&expiresAt, &c.Note, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return generic.Credit{}, err
	}
	c.Status = generic.CreditStatus(status)
	c.UseType = generic.UseType(useType)
	c.ExpiresAt = datePtr(expiresAt)
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

func scanLink(row rowScanner) (generic.CreditLink, error) {
	var l generic.CreditLink
	if err := row.Scan(&l.ID, &l.CreditID, &l.TripID, &l.AmountApplied, &l.Note, &l.CreatedAt, &l.ReversedAt); err != nil {
		return generic.CreditLink{}, err
	}
	l.CreatedAt = l.CreatedAt.UTC()
	l.ReversedAt = utc(l.ReversedAt)
	return l, nil
}
