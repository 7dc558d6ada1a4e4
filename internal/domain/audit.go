package domain

import "time"

// Audit actions written by the lifecycle, risk and simulation services.
const (
	AuditActionCreateChange       = "create_change"
	AuditActionApproveChange      = "approve_change"
	AuditActionAssessRisk         = "assess_risk"
	AuditActionQueueSimulation    = "queue_simulation"
	AuditActionCompleteSimulation = "complete_simulation"
	AuditActionFailSimulation     = "fail_simulation"
)

// Audit resource types.
const (
	ResourceTypeChange     = "change"
	ResourceTypeSimulation = "simulation"
)

// AuditEntry is a write-once record of a state-changing action.
type AuditEntry struct {
	ID           string
	Actor        string
	Action       string
	ResourceType string
	ResourceID   string
	Metadata     map[string]any
	CreatedAt    time.Time
}
