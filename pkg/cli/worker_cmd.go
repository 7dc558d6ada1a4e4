package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"changeguard/internal/app"
	"changeguard/internal/config"
)

func newWorkerCmd() *cobra.Command {
	var reconcile bool

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run simulation workers against the Kafka job queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.cfg.QueueBackend != config.QueueKafka {
				return fmt.Errorf("worker requires QUEUE_BACKEND=%s; with %q workers run inside serve",
					config.QueueKafka, rt.cfg.QueueBackend)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			a, err := app.New(ctx, rt.deps())
			if err != nil {
				return err
			}
			defer a.Close() //nolint:errcheck

			return runWorker(ctx, a, reconcile, rt.logger)
		},
	}

	cmd.Flags().BoolVar(&reconcile, "reconcile", false, "Also run the sweep that re-enqueues stale queued runs")
	return cmd
}

func runWorker(ctx context.Context, a *app.App, reconcile bool, logger *slog.Logger) error {
	if reconcile {
		if err := a.Reconciler.Start(ctx); err != nil {
			return err
		}
		defer a.Reconciler.Stop()
	}
	logger.Info("simulation worker started", "reconcile", reconcile)
	return a.RunWorkers(ctx)
}
