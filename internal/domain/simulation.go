package domain

import "time"

// SimulationStatus represents the lifecycle state of a simulation run.
type SimulationStatus string

// Simulation run lifecycle statuses.
const (
	SimulationStatusQueued  SimulationStatus = "queued"
	SimulationStatusRunning SimulationStatus = "running"
	SimulationStatusSuccess SimulationStatus = "success"
	SimulationStatusFailed  SimulationStatus = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s SimulationStatus) Terminal() bool {
	return s == SimulationStatusSuccess || s == SimulationStatusFailed
}

// SimulationReport is the predicted impact of a change against a traffic sample.
type SimulationReport struct {
	BaseFailRate            float64  `json:"base_fail_rate"`
	PredictedFailRate       float64  `json:"predicted_fail_rate"`
	PredictedLatencyDeltaMS int      `json:"predicted_latency_delta_ms"`
	SampleSize              int      `json:"sample_size"`
	Assumptions             []string `json:"assumptions"`
}

// SimulationRun stores durable state for one asynchronous simulation.
// The most recently created run of a change is authoritative.
type SimulationRun struct {
	ID           string
	ChangeID     string
	Status       SimulationStatus
	Report       *SimulationReport
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SimulationJob is the queue message that triggers execution of a run.
type SimulationJob struct {
	ChangeID     string `json:"change_id"`
	SimulationID string `json:"simulation_id"`
}

// SimulationStats counts runs by status.
type SimulationStats struct {
	Total   int64
	Queued  int64
	Running int64
	Success int64
	Failed  int64
}

// TrafficRecord is one historical request used as simulation input.
type TrafficRecord struct {
	Endpoint  string `json:"endpoint"`
	Status    int    `json:"status"`
	LatencyMS int    `json:"latency_ms"`
}
