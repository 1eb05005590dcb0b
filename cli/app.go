package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/warp/trip-ledger/billing"
	"github.com/warp/trip-ledger/charge"
	"github.com/warp/trip-ledger/config"
	"github.com/warp/trip-ledger/credit"
	"github.com/warp/trip-ledger/generic"
	"github.com/warp/trip-ledger/installment"
	"github.com/warp/trip-ledger/store/postgres"
	"github.com/warp/trip-ledger/store/sqlite"
)

// app is the wired engine: one store and the four domain services on it.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	store        generic.TxStore
	credits      *credit.Manager
	charges      *charge.Service
	installments *installment.Scheduler
	bills        *billing.Regenerator

	// pool is set for the postgres driver only; River needs it.
	pool  *pgxpool.Pool
	ping  func(context.Context) error
	close func() error
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		st, err := postgres.New(ctx, cfg.Store.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		a.store, a.pool, a.ping, a.close = st, st.Pool(), st.Ping, st.Close
	case config.DriverSQLite:
		st, err := sqlite.New(cfg.Store.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store %s: %w", cfg.Store.SQLitePath, err)
		}
		a.store, a.ping, a.close = st, st.Ping, st.Close
	default:
		return nil, errors.New("unknown store driver " + cfg.Store.Driver)
	}
	logger.Info("store opened", "driver", cfg.Store.Driver)

	retry := cfg.RetryPolicy()
	a.credits = credit.NewManager(a.store, credit.WithLogger(logger), credit.WithRetryPolicy(retry))
	a.charges = charge.NewService(a.store, charge.WithLogger(logger), charge.WithRetryPolicy(retry))
	a.installments = installment.NewScheduler(a.store,
		installment.WithLogger(logger),
		installment.WithRetryPolicy(retry),
		installment.WithAlerter(installment.LogAlerter{Logger: logger.With("component", "alerts")}),
	)
	a.bills = billing.NewRegenerator(a.store, billing.WithLogger(logger), billing.WithRetryPolicy(retry))
	return a, nil
}

func (a *app) Close() {
	if err := a.close(); err != nil {
		a.logger.Warn("close store", "err", err)
	}
}
