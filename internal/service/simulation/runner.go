package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"changeguard/internal/domain"
	"changeguard/internal/metrics"
	"changeguard/internal/service/audit"
)

// DefaultLeaseTTL bounds how long a crashed worker can block a run.
const DefaultLeaseTTL = 30 * time.Second

// LeaseKey returns the lease key guarding one simulation run.
func LeaseKey(simulationID string) string {
	return "simulation:" + simulationID
}

// Runner executes simulation jobs delivered by the queue.
type Runner struct {
	tx       domain.TxRunner
	reads    domain.Repos
	traffic  domain.TrafficSource
	leaser   domain.Leaser
	leaseTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
	simulate func(*domain.Change, []domain.TrafficRecord) *domain.SimulationReport
}

// NewRunner creates a new Runner. A zero leaseTTL uses DefaultLeaseTTL.
func NewRunner(tx domain.TxRunner, reads domain.Repos, traffic domain.TrafficSource, leaser domain.Leaser, leaseTTL time.Duration, logger *slog.Logger) *Runner {
	if leaseTTL <= 0 {
		leaseTTL = DefaultLeaseTTL
	}
	return &Runner{
		tx:       tx,
		reads:    reads,
		traffic:  traffic,
		leaser:   leaser,
		leaseTTL: leaseTTL,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
		simulate: Simulate,
	}
}

// Handle runs one job under a lease keyed by simulation ID. A delivery whose
// lease is held elsewhere, or whose run already started, is acknowledged
// without doing anything. A failed simulation is persisted as failed and its
// error returned so the queue records the failure.
func (r *Runner) Handle(ctx context.Context, job domain.SimulationJob) error {
	key := LeaseKey(job.SimulationID)
	token, err := r.leaser.Acquire(ctx, key, r.leaseTTL)
	if errors.Is(err, domain.ErrLeaseHeld) {
		r.logger.Info("simulation lease held; skipping delivery", "simulation_id", job.SimulationID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("acquire lease %s: %w", key, err)
	}
	defer func() {
		if err := r.leaser.Release(context.WithoutCancel(ctx), key, token); err != nil {
			r.logger.Warn("release simulation lease", "simulation_id", job.SimulationID, "error", err)
		}
	}()

	return r.execute(ctx, job)
}

func (r *Runner) execute(ctx context.Context, job domain.SimulationJob) error {
	run, err := r.reads.Simulations.GetByID(ctx, job.SimulationID)
	if err != nil {
		return fmt.Errorf("load simulation: %w", err)
	}
	if run.ChangeID != job.ChangeID {
		return domain.ErrValidation("simulation %q belongs to change %q, not %q", run.ID, run.ChangeID, job.ChangeID)
	}
	if run.Status != domain.SimulationStatusQueued {
		r.logger.Info("simulation not queued; skipping delivery",
			"simulation_id", run.ID, "status", run.Status)
		return nil
	}

	startedAt := r.now()
	err = r.tx.InTx(ctx, func(ctx context.Context, repos domain.Repos) error {
		return repos.Simulations.MarkRunning(ctx, run.ID, startedAt)
	})
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			// Another delivery won the queued -> running transition.
			return nil
		}
		return fmt.Errorf("mark simulation running: %w", err)
	}
	r.logger.Info("simulation started", "simulation_id", run.ID, "change_id", run.ChangeID)

	report, simErr := r.buildReport(ctx, job)
	if simErr == nil {
		simErr = r.complete(ctx, run, report)
	}
	if simErr != nil {
		r.fail(ctx, run, startedAt, simErr)
		return fmt.Errorf("simulation %s failed: %w", run.ID, simErr)
	}

	metrics.SimulationsFinished.WithLabelValues(string(domain.SimulationStatusSuccess)).Inc()
	metrics.SimulationDuration.Observe(r.now().Sub(startedAt).Seconds())
	r.logger.Info("simulation completed",
		"simulation_id", run.ID,
		"base_fail_rate", report.BaseFailRate,
		"predicted_fail_rate", report.PredictedFailRate,
		"sample_size", report.SampleSize,
	)
	return nil
}

// buildReport loads inputs and runs the engine. Panics are converted to
// errors so the run can still be marked failed.
func (r *Runner) buildReport(ctx context.Context, job domain.SimulationJob) (report *domain.SimulationReport, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during simulation: %v", p)
		}
	}()

	c, err := r.reads.Changes.GetByID(ctx, job.ChangeID)
	if err != nil {
		return nil, err
	}

	traffic, err := r.loadTraffic(ctx)
	if err != nil {
		return nil, err
	}

	return r.simulate(c, traffic), nil
}

func (r *Runner) loadTraffic(ctx context.Context) ([]domain.TrafficRecord, error) {
	if r.traffic == nil {
		metrics.TrafficFallbacks.Inc()
		return BuiltinTraffic(), nil
	}
	records, err := r.traffic.Load(ctx)
	if errors.Is(err, domain.ErrTrafficUnavailable) {
		metrics.TrafficFallbacks.Inc()
		r.logger.Warn("traffic sample unavailable; using built-in sample", "error", err)
		return BuiltinTraffic(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load traffic sample: %w", err)
	}
	return records, nil
}

func (r *Runner) complete(ctx context.Context, run *domain.SimulationRun, report *domain.SimulationReport) error {
	at := r.now()
	return r.tx.InTx(ctx, func(ctx context.Context, repos domain.Repos) error {
		if err := repos.Simulations.MarkSucceeded(ctx, run.ID, report, at); err != nil {
			return err
		}
		return audit.Write(ctx, repos.Audit, at, domain.SystemActor, domain.AuditActionCompleteSimulation,
			domain.ResourceTypeSimulation, run.ID, map[string]any{
				"change_id":           run.ChangeID,
				"predicted_fail_rate": report.PredictedFailRate,
			})
	})
}

// fail persists the failed state. The failure timestamp is always strictly
// after startedAt.
func (r *Runner) fail(ctx context.Context, run *domain.SimulationRun, startedAt time.Time, cause error) {
	ctx = context.WithoutCancel(ctx)
	at := r.now()
	if !at.After(startedAt) {
		at = startedAt.Add(time.Microsecond)
	}
	message := cause.Error()

	err := r.tx.InTx(ctx, func(ctx context.Context, repos domain.Repos) error {
		if err := repos.Simulations.MarkFailed(ctx, run.ID, message, at); err != nil {
			return err
		}
		return audit.Write(ctx, repos.Audit, at, domain.SystemActor, domain.AuditActionFailSimulation,
			domain.ResourceTypeSimulation, run.ID, map[string]any{
				"change_id": run.ChangeID,
				"error":     message,
			})
	})
	if err != nil {
		r.logger.Error("persist simulation failure", "simulation_id", run.ID, "error", err)
		return
	}

	metrics.SimulationsFinished.WithLabelValues(string(domain.SimulationStatusFailed)).Inc()
	r.logger.Warn("simulation failed", "simulation_id", run.ID, "change_id", run.ChangeID, "error", message)
}
