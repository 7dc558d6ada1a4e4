package simulation

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"changeguard/internal/domain"
	"changeguard/internal/metrics"
)

// DefaultStaleAfter is how long a run may sit in queued before it is
// re-enqueued.
const DefaultStaleAfter = 5 * time.Minute

const sweepBatchSize = 100

// Reconciler periodically re-enqueues runs stuck in queued, covering jobs
// whose enqueue failed after commit or whose message was lost.
type Reconciler struct {
	cron       *cron.Cron
	schedule   string
	reads      domain.Repos
	queue      domain.JobQueue
	staleAfter time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewReconciler creates a new Reconciler. schedule is a standard five-field
// cron expression.
func NewReconciler(schedule string, reads domain.Repos, queue domain.JobQueue, staleAfter time.Duration, logger *slog.Logger) *Reconciler {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Reconciler{
		cron:       cron.New(),
		schedule:   schedule,
		reads:      reads,
		queue:      queue,
		staleAfter: staleAfter,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Start registers the sweep and starts the cron scheduler.
func (r *Reconciler) Start(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	_, err := r.cron.AddFunc(r.schedule, func() {
		if _, err := r.Sweep(ctx); err != nil {
			r.logger.Warn("simulation sweep failed", "error", err)
		}
	})
	if err != nil {
		return domain.ErrValidation("invalid reconcile schedule %q: %v", r.schedule, err)
	}
	r.cron.Start()
	r.logger.Info("simulation reconciler started", "schedule", r.schedule, "stale_after", r.staleAfter)
	return nil
}

// Stop stops the scheduler and waits for a running sweep to finish.
func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("simulation reconciler stopped")
}

// Sweep re-enqueues queued runs last touched before now minus staleAfter and
// returns how many were re-enqueued.
func (r *Reconciler) Sweep(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.staleAfter)
	runs, err := r.reads.Simulations.ListByStatusBefore(ctx, domain.SimulationStatusQueued, cutoff, sweepBatchSize)
	if err != nil {
		return 0, err
	}

	requeued := 0
	for _, run := range runs {
		job := domain.SimulationJob{ChangeID: run.ChangeID, SimulationID: run.ID}
		if err := r.queue.Enqueue(ctx, job); err != nil {
			metrics.EnqueueFailures.Inc()
			r.logger.Warn("re-enqueue simulation", "simulation_id", run.ID, "error", err)
			continue
		}
		requeued++
		metrics.JobsRequeued.Inc()
	}
	if requeued > 0 {
		r.logger.Info("re-enqueued stale simulations", "count", requeued)
	}
	return requeued, nil
}
