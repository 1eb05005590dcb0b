package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/warp/trip-ledger/billing"
	"github.com/warp/trip-ledger/installment"
)

type Config struct {
	ScanInterval time.Duration
	ScanWindow   int
	MaxWorkers   int
	// ScanDisabled leaves the periodic due scan unregistered.
	ScanDisabled bool
}

// Queue owns the River client. It implements billing.RetryQueue.
type Queue struct {
	client *river.Client[pgx.Tx]
	logger *slog.Logger
}

var _ billing.RetryQueue = (*Queue)(nil)

// New migrates River's tables and builds a client with both workers and the
// periodic due scan registered. Call Start to begin working.
func New(ctx context.Context, pool *pgxpool.Pool, scheduler *installment.Scheduler, regenerator *billing.Regenerator, cfg Config, logger *slog.Logger) (*Queue, error) {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 4
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Hour
	}

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return nil, fmt.Errorf("create river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return nil, fmt.Errorf("river migrate up: %w", err)
	}

	workers := river.NewWorkers()
	river.AddWorker(workers, NewDueScanWorker(scheduler, logger))
	river.AddWorker(workers, NewRegenerateBillWorker(regenerator, logger))

	var periodic []*river.PeriodicJob
	if !cfg.ScanDisabled {
		window := cfg.ScanWindow
		periodic = append(periodic, river.NewPeriodicJob(
			river.PeriodicInterval(cfg.ScanInterval),
			func() (river.JobArgs, *river.InsertOpts) { return DueScanArgs{Window: window}, nil },
			&river.PeriodicJobOpts{RunOnStart: true},
		))
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.MaxWorkers},
		},
		Workers:      workers,
		PeriodicJobs: periodic,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return &Queue{client: client, logger: logger}, nil
}

func (q *Queue) Start(ctx context.Context) error {
	if err := q.client.Start(ctx); err != nil {
		return fmt.Errorf("start river: %w", err)
	}
	q.logger.Info("job queue started")
	return nil
}

// Stop waits for running jobs to finish or ctx to expire.
func (q *Queue) Stop(ctx context.Context) error {
	return q.client.Stop(ctx)
}

// EnqueueRegeneration inserts a regenerate_bill job. Jobs are unique per
// bill while one is still pending.
func (q *Queue) EnqueueRegeneration(ctx context.Context, billID string) error {
	_, err := q.client.Insert(ctx, RegenerateBillArgs{BillID: billID}, &river.InsertOpts{
		UniqueOpts: river.UniqueOpts{ByArgs: true},
	})
	if err != nil {
		return fmt.Errorf("enqueue regeneration of bill %s: %w", billID, err)
	}
	return nil
}
