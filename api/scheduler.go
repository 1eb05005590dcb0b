/*
scheduler.go - In-process installment due scan

PURPOSE:
  Runs installment.Scheduler.Scan on a ticker when there is no job queue
  (the SQLite deployment). With PostgreSQL the same scan is a River
  periodic job (jobs/duescan.go) and this scheduler is not started.

DESIGN:
  - One background goroutine, first scan immediately on Start
  - Scan is idempotent (alert flags are claimed), so overlapping runs from
    several processes are safe
  - Each run gets its own timeout context

CONFIGURATION:
  - Interval: how often to scan (default: 1 hour)
  - Window:   lookahead in days (default: installment.DefaultWindow)
  - Enabled:  whether Start does anything (default: true)

USAGE:
  scheduler := NewDueScanScheduler(installments, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: ScanInstallments endpoint (manual scan)
  - installment/scheduler.go: Scan
*/
package api

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/warp/trip-ledger/installment"
)

// DueScanScheduler runs the installment due scan periodically.
type DueScanScheduler struct {
	Installments *installment.Scheduler
	Interval     time.Duration
	Window       int
	Timeout      time.Duration
	Enabled      bool

	logger *slog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewDueScanScheduler creates a scheduler with default settings.
func NewDueScanScheduler(s *installment.Scheduler, logger *slog.Logger) *DueScanScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DueScanScheduler{
		Installments: s,
		Interval:     time.Hour,
		Window:       installment.DefaultWindow,
		Timeout:      5 * time.Minute,
		Enabled:      true,
		logger:       logger,
	}
}

// Start begins the scheduler. Calling Start twice is a no-op.
func (ds *DueScanScheduler) Start() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if !ds.Enabled {
		ds.logger.Info("due scan scheduler disabled, not starting")
		return
	}
	if ds.ticker != nil {
		return
	}

	ds.ticker = time.NewTicker(ds.Interval)
	ds.stop = make(chan struct{})
	ds.wg.Add(1)

	go ds.run(ds.ticker, ds.stop)

	ds.logger.Info("due scan scheduler started", "interval", ds.Interval, "window_days", ds.Window)
}

// Stop stops the scheduler and waits for a running scan to finish.
func (ds *DueScanScheduler) Stop() {
	ds.mu.Lock()
	defer ds.mu.Unlock()

	if ds.ticker != nil {
		ds.ticker.Stop()
		close(ds.stop)
		ds.wg.Wait()
		ds.ticker = nil
		ds.logger.Info("due scan scheduler stopped")
	}
}

func (ds *DueScanScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer ds.wg.Done()

	// Run immediately on start
	ds.RunNow()

	for {
		select {
		case <-ticker.C:
			ds.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow performs one scan synchronously and returns its report.
func (ds *DueScanScheduler) RunNow() (installment.DueReport, error) {
	ctx, cancel := context.WithTimeout(context.Background(), ds.Timeout)
	defer cancel()

	report, err := ds.Installments.Scan(ctx, ds.Installments.Today(), ds.Window)
	if err != nil {
		ds.logger.Error("due scan failed", "err", err)
	}
	return report, err
}

// NextRunTime returns when the next scheduled scan will occur.
func (ds *DueScanScheduler) NextRunTime() time.Time {
	return time.Now().Add(ds.Interval)
}
