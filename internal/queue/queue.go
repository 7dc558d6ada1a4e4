// Package queue delivers simulation jobs to workers. Two backends exist: an
// in-process channel for single-node deployments and Kafka for multi-node
// ones. Both deliver at least once.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"

	"changeguard/internal/domain"
	"changeguard/internal/metrics"
)

// Backend names used in configuration and metrics labels.
const (
	BackendMemory = "memory"
	BackendKafka  = "kafka"
)

// Handler processes one delivered job.
type Handler func(ctx context.Context, job domain.SimulationJob) error

// process runs handler and records the outcome. A panic in handler is
// recovered and counted as an error so the worker keeps going.
func process(ctx context.Context, backend string, handler Handler, job domain.SimulationJob, logger *slog.Logger) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job handler panic: %v", p)
			logger.Error("job handler panic",
				"simulation_id", job.SimulationID,
				"panic", p,
				"stack", string(debug.Stack()),
			)
		}
		result := "ok"
		if err != nil {
			result = "error"
		}
		metrics.JobsProcessed.WithLabelValues(backend, result).Inc()
	}()

	if err := handler(ctx, job); err != nil {
		logger.Warn("simulation job failed",
			"simulation_id", job.SimulationID,
			"change_id", job.ChangeID,
			"error", err,
		)
		return err
	}
	return nil
}

func encodeJob(job domain.SimulationJob) ([]byte, error) {
	if job.SimulationID == "" || job.ChangeID == "" {
		return nil, domain.ErrValidation("job requires change_id and simulation_id")
	}
	return json.Marshal(job)
}

func decodeJob(raw []byte) (domain.SimulationJob, error) {
	var job domain.SimulationJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return job, fmt.Errorf("decode job: %w", err)
	}
	if job.SimulationID == "" || job.ChangeID == "" {
		return job, domain.ErrValidation("job requires change_id and simulation_id")
	}
	return job, nil
}
