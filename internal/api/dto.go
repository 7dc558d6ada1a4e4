package api

import (
	"time"

	"changeguard/internal/domain"
)

// === Response bodies ===

type changeItemResponse struct {
	ID       string `json:"id"`
	Key      string `json:"key"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
}

type changeResponse struct {
	ID          string               `json:"id"`
	Title       string               `json:"title"`
	Description *string              `json:"description"`
	Environment string               `json:"environment"`
	Status      string               `json:"status"`
	CreatedBy   string               `json:"created_by"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	Items       []changeItemResponse `json:"items"`
}

type riskAssessmentResponse struct {
	ID          string             `json:"id"`
	ChangeID    string             `json:"change_id"`
	Score       int                `json:"score"`
	Level       string             `json:"level"`
	BlastRadius domain.BlastRadius `json:"blast_radius"`
	Reasoning   []string           `json:"reasoning"`
	CreatedAt   time.Time          `json:"created_at"`
}

type simulationRunResponse struct {
	ID           string                   `json:"id"`
	ChangeID     string                   `json:"change_id"`
	Status       string                   `json:"status"`
	Report       *domain.SimulationReport `json:"report"`
	ErrorMessage *string                  `json:"error_message"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
}

type simulationHistoryItem struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type auditEntryResponse struct {
	ID           string         `json:"id"`
	Actor        string         `json:"actor"`
	Action       string         `json:"action"`
	ResourceType string         `json:"resource_type"`
	ResourceID   string         `json:"resource_id"`
	Metadata     map[string]any `json:"metadata"`
	CreatedAt    time.Time      `json:"created_at"`
}

type simulationStatsResponse struct {
	Total   int64 `json:"simulations_total"`
	Queued  int64 `json:"simulations_queued"`
	Running int64 `json:"simulations_running"`
	Success int64 `json:"simulations_success"`
	Failed  int64 `json:"simulations_failed"`
}

type healthResponse struct {
	Status   string `json:"status"`
	Service  string `json:"service"`
	Env      string `json:"env"`
	Database string `json:"database"`
}

// actorRequest is the optional body of approve, assess and queue calls.
// An authenticated principal takes precedence over Actor.
type actorRequest struct {
	Actor string `json:"actor"`
}

// === Mapping helpers ===

func changeToAPI(c *domain.Change) changeResponse {
	items := make([]changeItemResponse, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, changeItemResponse{
			ID:       it.ID,
			Key:      it.Key,
			OldValue: it.OldValue,
			NewValue: it.NewValue,
		})
	}
	return changeResponse{
		ID:          c.ID,
		Title:       c.Title,
		Description: c.Description,
		Environment: string(c.Environment),
		Status:      string(c.Status),
		CreatedBy:   c.CreatedBy,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
		Items:       items,
	}
}

func riskAssessmentToAPI(a *domain.RiskAssessment) riskAssessmentResponse {
	br := a.BlastRadius
	br.AffectedComponents = nonNil(br.AffectedComponents)
	br.AffectedEndpoints = nonNil(br.AffectedEndpoints)
	br.Notes = nonNil(br.Notes)
	return riskAssessmentResponse{
		ID:          a.ID,
		ChangeID:    a.ChangeID,
		Score:       a.Score,
		Level:       string(a.Level),
		BlastRadius: br,
		Reasoning:   nonNil(a.Reasoning),
		CreatedAt:   a.CreatedAt,
	}
}

func simulationRunToAPI(run *domain.SimulationRun) simulationRunResponse {
	return simulationRunResponse{
		ID:           run.ID,
		ChangeID:     run.ChangeID,
		Status:       string(run.Status),
		Report:       run.Report,
		ErrorMessage: run.ErrorMessage,
		CreatedAt:    run.CreatedAt,
		UpdatedAt:    run.UpdatedAt,
	}
}

func auditEntryToAPI(e domain.AuditEntry) auditEntryResponse {
	md := e.Metadata
	if md == nil {
		md = map[string]any{}
	}
	return auditEntryResponse{
		ID:           e.ID,
		Actor:        e.Actor,
		Action:       e.Action,
		ResourceType: e.ResourceType,
		ResourceID:   e.ResourceID,
		Metadata:     md,
		CreatedAt:    e.CreatedAt,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
