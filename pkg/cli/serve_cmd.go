package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"changeguard/internal/app"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: "Run the HTTP API and the reconciliation sweep. With QUEUE_BACKEND=memory the " +
			"simulation workers run in the same process.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			a, err := app.New(ctx, rt.deps())
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			ln, err := net.Listen("tcp", rt.cfg.ListenAddr)
			if err != nil {
				return fmt.Errorf("listen %s: %w", rt.cfg.ListenAddr, err)
			}
			return serve(ctx, ln, a, rt.logger)
		},
	}
}

// serve runs the API on ln until ctx is cancelled, then shuts the server
// down, closes the job queue and lets in-process workers drain.
func serve(ctx context.Context, ln net.Listener, a *app.App, logger *slog.Logger) error {
	handler, err := a.Router(ctx)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if err := a.Reconciler.Start(ctx); err != nil {
		return err
	}
	defer a.Reconciler.Stop()

	// Workers outlive ctx so buffered jobs can finish during shutdown.
	workerCtx, cancelWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWorkers()
	var workers errgroup.Group
	if a.InProcessWorkers() {
		workers.Go(func() error { return a.RunWorkers(workerCtx) })
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", "addr", ln.Addr().String(), "in_process_workers", a.InProcessWorkers())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("server: %w", err)
			return
		}
		serveErr <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serveErr:
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "error", err)
	}
	if err := a.Close(); err != nil {
		logger.Warn("close app", "error", err)
	}

	stopWorkers := context.AfterFunc(shutdownCtx, cancelWorkers)
	defer stopWorkers()
	if err := workers.Wait(); err != nil {
		logger.Warn("workers stopped with error", "error", err)
	}
	return runErr
}
