package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/warp/trip-ledger/api"
	"github.com/warp/trip-ledger/jobs"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the installment due scan",
	Long: `Serve the REST API. With the postgres driver, the due scan and failed
bill regenerations run as River jobs; with sqlite, the due scan runs on an
in-process ticker and failed regenerations are only logged.

On SIGINT/SIGTERM the server stops accepting connections and waits for
in-flight requests up to server.shutdown_timeout.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// Background work
	if a.pool != nil {
		queue, err := jobs.New(ctx, a.pool, a.installments, a.bills, jobs.Config{
			ScanInterval: cfg.Scheduler.Interval,
			ScanWindow:   cfg.Scheduler.WindowDays,
			MaxWorkers:   cfg.Scheduler.Workers,
			ScanDisabled: !cfg.Scheduler.Enabled,
		}, logger)
		if err != nil {
			return err
		}
		a.bills.SetRetryQueue(queue)
		// River stops on its own when its start context ends; shutdown is ordered below instead.
		if err := queue.Start(context.WithoutCancel(ctx)); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := queue.Stop(stopCtx); err != nil {
				logger.Warn("job queue stop", "err", err)
			}
		}()
	} else {
		scheduler := api.NewDueScanScheduler(a.installments, logger)
		scheduler.Interval = cfg.Scheduler.Interval
		scheduler.Window = cfg.Scheduler.WindowDays
		scheduler.Enabled = cfg.Scheduler.Enabled
		scheduler.Start()
		defer scheduler.Stop()
	}

	handler := api.NewHandler(a.credits, a.charges, a.installments, a.bills, logger)
	handler.Health = a.ping
	router := api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.Server.AllowedOrigins, Logger: logger})

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", server.Addr, "driver", cfg.Store.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
