// Package api provides the HTTP handlers for the ChangeGuard REST API.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"changeguard/internal/domain"
	"changeguard/internal/service/audit"
	"changeguard/internal/service/change"
	"changeguard/internal/service/idempotency"
	"changeguard/internal/service/risk"
	"changeguard/internal/service/simulation"
)

// IdempotencyKeyHeader activates replay protection on mutating endpoints.
const IdempotencyKeyHeader = "Idempotency-Key"

// ReplayedHeader is set to "true" on responses served from a stored record.
const ReplayedHeader = "Idempotency-Replayed"

const maxBodyBytes = 1 << 20

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds the services behind the handlers.
type Deps struct {
	Changes     *change.Manager
	Risk        *risk.Service
	Simulations *simulation.Service
	Audit       *audit.Service
	Guard       *idempotency.Guard
	Store       Pinger
	Env         string
	Logger      *slog.Logger
}

// Handler serves the /v1 API and the health probe.
type Handler struct {
	changes     *change.Manager
	risk        *risk.Service
	simulations *simulation.Service
	audit       *audit.Service
	guard       *idempotency.Guard
	store       Pinger
	env         string
	logger      *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(d Deps) *Handler {
	return &Handler{
		changes:     d.Changes,
		risk:        d.Risk,
		simulations: d.Simulations,
		audit:       d.Audit,
		guard:       d.Guard,
		store:       d.Store,
		env:         d.Env,
		logger:      d.Logger.With("component", "api"),
	}
}

// Mount registers the /v1 routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/changes", h.createChange)
	r.Get("/changes/{id}", h.getChange)
	r.Post("/changes/{id}/approve", h.approveChange)
	r.Post("/changes/{id}/risk", h.assessRisk)
	r.Get("/changes/{id}/risk", h.listRiskAssessments)
	r.Post("/changes/{id}/simulations", h.queueSimulation)
	r.Get("/changes/{id}/simulations", h.listSimulations)
	r.Get("/changes/{id}/simulations/latest", h.latestSimulation)
	r.Get("/simulations/{id}", h.getSimulation)
	r.Get("/audit/changes/{id}", h.listChangeAudit)
	r.Get("/stats/simulations", h.simulationStats)
}

// === Changes ===

func (h *Handler) createChange(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req domain.CreateChangeRequest
	if err := decodeBody(body, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	req.CreatedBy = domain.ActorFromContext(r.Context(), req.CreatedBy)

	resp, err := h.guarded(r, body, func(ctx context.Context, repos domain.Repos) (int, any, error) {
		c, err := h.changes.CreateIn(ctx, repos, req)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, changeToAPI(c), nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeGuarded(w, resp)
}

func (h *Handler) getChange(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.changes.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, changeToAPI(c))
}

func (h *Handler) approveChange(w http.ResponseWriter, r *http.Request) {
	id, body, actor, err := actorCall(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp, err := h.guarded(r, body, func(ctx context.Context, repos domain.Repos) (int, any, error) {
		c, err := h.changes.ApproveIn(ctx, repos, id, actor)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusOK, changeToAPI(c), nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeGuarded(w, resp)
}

// === Risk ===

func (h *Handler) assessRisk(w http.ResponseWriter, r *http.Request) {
	id, body, actor, err := actorCall(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	resp, err := h.guarded(r, body, func(ctx context.Context, repos domain.Repos) (int, any, error) {
		a, err := h.risk.AssessIn(ctx, repos, id, actor)
		if err != nil {
			return 0, nil, err
		}
		return http.StatusCreated, riskAssessmentToAPI(a), nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeGuarded(w, resp)
}

func (h *Handler) listRiskAssessments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.risk.List(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]riskAssessmentResponse, 0, len(list))
	for i := range list {
		out = append(out, riskAssessmentToAPI(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// === Simulations ===

func (h *Handler) queueSimulation(w http.ResponseWriter, r *http.Request) {
	id, body, actor, err := actorCall(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var run *domain.SimulationRun
	resp, err := h.guarded(r, body, func(ctx context.Context, repos domain.Repos) (int, any, error) {
		queued, err := h.changes.QueueSimulationIn(ctx, repos, id, actor)
		if err != nil {
			return 0, nil, err
		}
		run = queued
		return http.StatusAccepted, simulationRunToAPI(queued), nil
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	// The run is committed; a replay already dispatched it the first time.
	if !resp.Replayed {
		h.changes.Dispatch(r.Context(), run)
	}
	writeGuarded(w, resp)
}

func (h *Handler) listSimulations(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	runs, err := h.simulations.History(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]simulationHistoryItem, 0, len(runs))
	for _, run := range runs {
		out = append(out, simulationHistoryItem{
			ID:        run.ID,
			Status:    string(run.Status),
			CreatedAt: run.CreatedAt,
			UpdatedAt: run.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) latestSimulation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	run, err := h.simulations.Latest(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, simulationRunToAPI(run))
}

func (h *Handler) getSimulation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	run, err := h.simulations.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, simulationRunToAPI(run))
}

func (h *Handler) simulationStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.simulations.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, simulationStatsResponse{
		Total:   stats.Total,
		Queued:  stats.Queued,
		Running: stats.Running,
		Success: stats.Success,
		Failed:  stats.Failed,
	})
}

// === Audit ===

func (h *Handler) listChangeAudit(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	entries, err := h.audit.ListForChange(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]auditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntryToAPI(e))
	}
	writeJSON(w, http.StatusOK, out)
}

// === Ops ===

// Health reports liveness and whether the database answers.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Service: "changeguard", Env: h.env, Database: "ok"}
	status := http.StatusOK
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.WarnContext(r.Context(), "health check: database unreachable", "error", err)
		resp.Status = "degraded"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// === helpers ===

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, h.logger, err)
}

// guarded runs fn under the idempotency guard. Without an Idempotency-Key
// header fn still runs in its own transaction.
func (h *Handler) guarded(r *http.Request, body []byte, fn idempotency.Handler) (*idempotency.Response, error) {
	req, err := idempotency.NewRequest(r.Header.Get(IdempotencyKeyHeader), r.URL.Path, body)
	if err != nil {
		return nil, err
	}
	return h.guard.Do(r.Context(), req, fn)
}

func writeGuarded(w http.ResponseWriter, resp *idempotency.Response) {
	w.Header().Set("Content-Type", "application/json")
	if resp.Replayed {
		w.Header().Set(ReplayedHeader, strconv.FormatBool(true))
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

// actorCall reads the path id and optional {actor} body shared by the
// approve, assess and queue endpoints.
func actorCall(w http.ResponseWriter, r *http.Request) (id string, body []byte, actor string, err error) {
	if id, err = pathID(r); err != nil {
		return "", nil, "", err
	}
	if body, err = readBody(w, r); err != nil {
		return "", nil, "", err
	}
	var in actorRequest
	if len(bytes.TrimSpace(body)) > 0 {
		if err = decodeBody(body, &in); err != nil {
			return "", nil, "", err
		}
	}
	return id, body, domain.ActorFromContext(r.Context(), in.Actor), nil
}

func pathID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if err := domain.ValidateID(id); err != nil {
		return "", err
	}
	return id, nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
}

func decodeBody(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return domain.ErrValidation("invalid request body: %v", err)
	}
	return nil
}
