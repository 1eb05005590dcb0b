/*
Package postgres provides a PostgreSQL implementation of generic.TxStore.

PURPOSE:
  The production store. Same tables and the same contract as store/sqlite,
  on a pgx connection pool. The pool is also handed to River so background
  jobs share the database (see jobs/).

TYPES:
  Money is NUMERIC(14,2), calendar days DATE, timestamps TIMESTAMPTZ.

CONCURRENCY:
  Statements run at READ COMMITTED. Correctness comes from conditional
  writes, not isolation level:
  - credits:        UPDATE ... WHERE version = $n (compare-and-swap)
  - credit_entries: UNIQUE(credit_id, sequence)
  - installments:   UPDATE ... SET alert_x = true WHERE alert_x = false
  - bills:          UNIQUE(previous_bill_id)
  Unique violations (23505) become generic.ErrConcurrentModification;
  serialization failures, deadlocks and dropped connections become
  *generic.TransientError.

USAGE:
  store, err := postgres.New(ctx, os.Getenv("DATABASE_URL"))
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - store/sqlite: development store with the same schema shape
  - jobs/: River workers running on Pool()
*/
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/trip-ledger/generic"
)

// Store implements generic.TxStore using PostgreSQL.
type Store struct {
	*repo
	pool *pgxpool.Pool
}

var _ generic.TxStore = (*Store)(nil)

// New connects, pings and migrates.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	store := &Store{repo: &repo{q: pool}, pool: pool}
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// Pool exposes the connection pool for River.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) WithTx(ctx context.Context, fn func(generic.Store) error) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&repo{q: tx})
	})
	if err == nil {
		return nil
	}
	// Domain errors come back unchanged; only driver errors are classified.
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) || pgconn.SafeToRetry(err) {
		return mapErr("commit", err)
	}
	return err
}

// Migrate creates the schema. Safe to run repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const schema = `
CREATE TABLE IF NOT EXISTS credits (
	id                TEXT PRIMARY KEY,
	customer_id       TEXT NOT NULL,
	original_amount   NUMERIC(14,2) NOT NULL,
	available_balance NUMERIC(14,2) NOT NULL,
	status            TEXT NOT NULL,
	use_type          TEXT NOT NULL DEFAULT 'any',
	expires_at        DATE,
	note              TEXT NOT NULL DEFAULT '',
	version           BIGINT NOT NULL DEFAULT 1,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	CHECK (available_balance >= 0 AND available_balance <= original_amount)
);

CREATE INDEX IF NOT EXISTS idx_credits_customer ON credits(customer_id);

CREATE TABLE IF NOT EXISTS credit_entries (
	id             TEXT PRIMARY KEY,
	credit_id      TEXT NOT NULL REFERENCES credits(id),
	sequence       BIGINT NOT NULL,
	entry_type     TEXT NOT NULL,
	balance_before NUMERIC(14,2) NOT NULL,
	delta          NUMERIC(14,2) NOT NULL,
	balance_after  NUMERIC(14,2) NOT NULL,
	note           TEXT NOT NULL DEFAULT '',
	trip_id        TEXT NOT NULL DEFAULT '',
	link_id        TEXT NOT NULL DEFAULT '',
	created_by     TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	UNIQUE (credit_id, sequence)
);

CREATE TABLE IF NOT EXISTS credit_links (
	id             TEXT PRIMARY KEY,
	credit_id      TEXT NOT NULL REFERENCES credits(id),
	trip_id        TEXT NOT NULL,
	amount_applied NUMERIC(14,2) NOT NULL,
	note           TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL,
	reversed_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_credit_links_credit ON credit_links(credit_id);

CREATE TABLE IF NOT EXISTS charges (
	id            TEXT PRIMARY KEY,
	trip_id       TEXT NOT NULL,
	customer_id   TEXT NOT NULL,
	fare          NUMERIC(14,2) NOT NULL,
	discount      NUMERIC(14,2) NOT NULL,
	complimentary BOOLEAN NOT NULL DEFAULT false,
	cancelled     BOOLEAN NOT NULL DEFAULT false,
	status        TEXT NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tour_selections (
	id            TEXT PRIMARY KEY,
	charge_id     TEXT NOT NULL REFERENCES charges(id),
	tour_id       TEXT NOT NULL,
	charged_price NUMERIC(14,2) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tour_selections_charge ON tour_selections(charge_id);

CREATE TABLE IF NOT EXISTS payments (
	id         TEXT PRIMARY KEY,
	charge_id  TEXT NOT NULL REFERENCES charges(id),
	category   TEXT NOT NULL,
	amount     NUMERIC(14,2) NOT NULL,
	paid_on    DATE NOT NULL,
	method     TEXT NOT NULL DEFAULT '',
	note       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_payments_charge ON payments(charge_id, paid_on, id);

CREATE TABLE IF NOT EXISTS installments (
	id             TEXT PRIMARY KEY,
	charge_id      TEXT NOT NULL REFERENCES charges(id),
	sequence       INTEGER NOT NULL,
	total          INTEGER NOT NULL,
	amount         NUMERIC(14,2) NOT NULL,
	due_date       DATE NOT NULL,
	status         TEXT NOT NULL,
	method         TEXT NOT NULL DEFAULT '',
	paid_amount    NUMERIC(14,2) NOT NULL DEFAULT 0,
	paid_at        DATE,
	alert_upcoming BOOLEAN NOT NULL DEFAULT false,
	alert_overdue  BOOLEAN NOT NULL DEFAULT false,
	created_at     TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_installments_charge ON installments(charge_id, sequence);
CREATE INDEX IF NOT EXISTS idx_installments_due ON installments(status, due_date);

CREATE TABLE IF NOT EXISTS bills (
	id               TEXT PRIMARY KEY,
	payee            TEXT NOT NULL,
	category         TEXT NOT NULL DEFAULT '',
	amount           NUMERIC(14,2) NOT NULL,
	due_date         DATE NOT NULL,
	recurring        BOOLEAN NOT NULL DEFAULT false,
	frequency        TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL,
	paid_at          DATE,
	previous_bill_id TEXT REFERENCES bills(id),
	created_at       TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_bills_previous ON bills(previous_bill_id)
	WHERE previous_bill_id IS NOT NULL;
`

// =============================================================================
// QUERY PLUMBING
// =============================================================================

// queryer is satisfied by *pgxpool.Pool and pgx.Tx.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type repo struct {
	q queryer
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *repo) exists(ctx context.Context, table, id string) (bool, error) {
	var found bool
	err := r.q.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM "+table+" WHERE id = $1)", id).Scan(&found)
	if err != nil {
		return false, mapErr("check "+table, err)
	}
	return found, nil
}

// expectOne turns a conditional write that touched no row into NotFound
// (row missing) or ErrConcurrentModification (condition lost).
func (r *repo) expectOne(ctx context.Context, tag pgconn.CommandTag, table, kind, id string) error {
	if tag.RowsAffected() == 1 {
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

// PostgreSQL error codes the store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeTooManyConnections   = "53300"
	codeAdminShutdown        = "57P01"
)

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w (%s)", op, generic.ErrConcurrentModification, pgErr.ConstraintName)
		case codeSerializationFailure, codeDeadlockDetected, codeTooManyConnections, codeAdminShutdown:
			return &generic.TransientError{Op: op, Err: err}
		}
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return &generic.TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// =============================================================================
// VALUE HELPERS
// =============================================================================

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func dateArg(d generic.Date) time.Time { return d.Time }

func nullDate(d *generic.Date) *time.Time {
	if d == nil {
		return nil
	}
	t := d.Time
	return &t
}

func datePtr(t *time.Time) *generic.Date {
	if t == nil {
		return nil
	}
	d := generic.DateOf(*t)
	return &d
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
