package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the seeder HTTP API server",
	Long: `Start the seeder HTTP server on the configured port (default :8081).

With bootstrap.run_on_start set, one bootstrap runs before the server starts
listening; with bootstrap.fail_on_error also set, a failed bootstrap aborts
startup. The server shuts down cleanly on SIGTERM or SIGINT, waiting up to
server.shutdown_timeout for a bootstrap started over HTTP before cancelling it.`,
	RunE: runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Bootstrap.RunOnStart {
		if err := bootstrapOnStart(ctx); err != nil {
			return err
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      app.router.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("store-seeder server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		drainBootstrap()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	shutErr := srv.Shutdown(shutCtx)
	// Runs started over HTTP outlive their request; they must release the lock
	// before Execute closes the clients.
	if err := app.orchestrator.Shutdown(shutCtx); err != nil {
		slog.Warn("in-flight bootstrap cancelled at shutdown", "err", err)
	}
	if shutErr != nil {
		return fmt.Errorf("graceful shutdown failed: %w", shutErr)
	}

	slog.Info("server stopped cleanly")
	return nil
}

// drainBootstrap cancels any background bootstrap and waits for it to finish.
func drainBootstrap() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = app.orchestrator.Shutdown(ctx)
}

// bootstrapOnStart runs the startup bootstrap. Its error is returned only when
// bootstrap.fail_on_error is set.
func bootstrapOnStart(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, cfg.Bootstrap.Timeout)
	defer cancel()

	result, err := app.orchestrator.RunBootstrap(runCtx)
	if err == nil {
		slog.Info("startup bootstrap finished", "status", result.Status, "reason", result.Reason)
		return nil
	}
	if cfg.Bootstrap.FailOnError {
		return fmt.Errorf("startup bootstrap failed: %w", err)
	}
	slog.Error("startup bootstrap failed, serving anyway", "err", err)
	return nil
}
