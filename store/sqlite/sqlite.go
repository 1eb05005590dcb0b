/*
Package sqlite provides a SQLite-backed implementation of generic.TxStore.

PURPOSE:
  Persists credits, credit ledger entries, credit-trip links, charges, tour
  selections, payments, installments and bills. The same SQL runs outside
  and inside a transaction: every method is written against a queryer, which
  is either the *sql.DB or the open *sql.Tx.

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on credit_entries
  - credit_links are only ever stamped with reversed_at
  - Corrections are new entries

KEY TABLES:
  credits:         balance, status, version (compare-and-swap)
  credit_entries:  ledger chain, UNIQUE(credit_id, sequence)
  credit_links:    credit applied to a trip
  charges, tour_selections, payments
  installments:    with per-type alert flags
  bills:           UNIQUE(previous_bill_id) keeps one successor per bill

MONEY AND DATES:
  Decimals are stored as TEXT (exact), calendar days as YYYY-MM-DD TEXT
  (sorts correctly), timestamps as RFC3339Nano TEXT.

CONCURRENCY:
  SQLite allows one writer. The pool is capped at one connection, so a
  transaction holds the database until it commits; code inside WithTx must
  only use the Store it is given. Busy/locked errors are returned as
  *generic.TransientError and unique-index conflicts as
  generic.ErrConcurrentModification, both retryable.

USAGE:
  store, err := sqlite.New("./data/tripledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - generic/store.go: Interface definitions
  - generic/store/memory.go: In-memory implementation for testing
  - store/postgres: same contract on PostgreSQL
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/trip-ledger/generic"
)

// Store implements generic.TxStore using SQLite.
type Store struct {
	*repo
	db *sql.DB
}

var _ generic.TxStore = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: a single writer, and ":memory:" stays one database.
	db.SetMaxOpenConns(1)

	store := &Store{repo: &repo{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS credits (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		original_amount TEXT NOT NULL,
		available_balance TEXT NOT NULL,
		status TEXT NOT NULL,
		use_type TEXT NOT NULL DEFAULT 'any',
		expires_at TEXT,
		note TEXT,
		version INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_credits_customer ON credits(customer_id);

	-- Append-only ledger; the sequence makes concurrent appends collide
	CREATE TABLE IF NOT EXISTS credit_entries (
		id TEXT PRIMARY KEY,
		credit_id TEXT NOT NULL REFERENCES credits(id),
		sequence INTEGER NOT NULL,
		entry_type TEXT NOT NULL,
		balance_before TEXT NOT NULL,
		delta TEXT NOT NULL,
		balance_after TEXT NOT NULL,
		note TEXT,
		trip_id TEXT,
		link_id TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL,
		UNIQUE (credit_id, sequence)
	);

	CREATE TABLE IF NOT EXISTS credit_links (
		id TEXT PRIMARY KEY,
		credit_id TEXT NOT NULL REFERENCES credits(id),
		trip_id TEXT NOT NULL,
		amount_applied TEXT NOT NULL,
		note TEXT,
		created_at TEXT NOT NULL,
		reversed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_credit_links_credit ON credit_links(credit_id);

	CREATE TABLE IF NOT EXISTS charges (
		id TEXT PRIMARY KEY,
		trip_id TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		fare TEXT NOT NULL,
		discount TEXT NOT NULL,
		complimentary INTEGER NOT NULL DEFAULT 0,
		cancelled INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tour_selections (
		id TEXT PRIMARY KEY,
		charge_id TEXT NOT NULL REFERENCES charges(id),
		tour_id TEXT NOT NULL,
		charged_price TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tour_selections_charge ON tour_selections(charge_id);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		charge_id TEXT NOT NULL REFERENCES charges(id),
		category TEXT NOT NULL,
		amount TEXT NOT NULL,
		paid_on TEXT NOT NULL,
		method TEXT,
		note TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_charge ON payments(charge_id, paid_on, id);

	CREATE TABLE IF NOT EXISTS installments (
		id TEXT PRIMARY KEY,
		charge_id TEXT NOT NULL REFERENCES charges(id),
		sequence INTEGER NOT NULL,
		total INTEGER NOT NULL,
		amount TEXT NOT NULL,
		due_date TEXT NOT NULL,
		status TEXT NOT NULL,
		method TEXT,
		paid_amount TEXT NOT NULL DEFAULT '0',
		paid_at TEXT,
		alert_upcoming INTEGER NOT NULL DEFAULT 0,
		alert_overdue INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_installments_charge ON installments(charge_id, sequence);
	CREATE INDEX IF NOT EXISTS idx_installments_due ON installments(status, due_date);

	CREATE TABLE IF NOT EXISTS bills (
		id TEXT PRIMARY KEY,
		payee TEXT NOT NULL,
		category TEXT,
		amount TEXT NOT NULL,
		due_date TEXT NOT NULL,
		recurring INTEGER NOT NULL DEFAULT 0,
		frequency TEXT,
		status TEXT NOT NULL,
		paid_at TEXT,
		previous_bill_id TEXT,
		created_at TEXT NOT NULL
	);

	-- At most one successor per paid bill
	CREATE UNIQUE INDEX IF NOT EXISTS idx_bills_previous
		ON bills(previous_bill_id) WHERE previous_bill_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_bills_status_due ON bills(status, due_date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (generic.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store generic.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr("begin transaction", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&repo{q: sqlTx}); err != nil {
		return err
	}

	return mapErr("commit", sqlTx.Commit())
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// repo implements generic.Store on a queryer.
type repo struct {
	q queryer
}

var _ generic.Store = (*repo)(nil)

type rowScanner interface {
	Scan(dest ...any) error
}

// exists reports whether a row with id exists in table. table is always a
// constant from this package.
func (r *repo) exists(ctx context.Context, table, id string) (bool, error) {
	var n int
	err := r.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table+" WHERE id = ?", id).Scan(&n)
	if err != nil {
		return false, mapErr("check "+table, err)
	}
	return n > 0, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// mapErr classifies driver errors: busy/locked are transient, unique index
// conflicts are concurrent modifications.
func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) {
		switch {
		case se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked:
			return &generic.TransientError{Op: op, Err: err}
		case se.ExtendedCode == sqlite3.ErrConstraintUnique:
			return fmt.Errorf("%s: %w", op, generic.ErrConcurrentModification)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func timePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullDate(d *generic.Date) sql.NullString {
	if d == nil || d.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: d.String(), Valid: true}
}

func parseDate(s string) generic.Date {
	d, _ := generic.ParseDate(s)
	return d
}

func datePtr(ns sql.NullString) *generic.Date {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	d := parseDate(ns.String)
	return &d
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
