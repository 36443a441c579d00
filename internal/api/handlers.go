package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/coriolislabs/mcs/internal/apperr"
	"github.com/coriolislabs/mcs/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// statusFor maps an apperr.Kind to its HTTP status. Business logic never
// sees this mapping — it is applied only at this boundary.
func statusFor(err error) (int, string) {
	kind, ok := apperr.KindOf(err)
	if !ok {
		return http.StatusInternalServerError, err.Error()
	}
	switch kind {
	case apperr.Validation:
		return http.StatusBadRequest, err.Error()
	case apperr.Auth:
		return http.StatusUnauthorized, err.Error()
	case apperr.Conflict:
		return http.StatusConflict, err.Error()
	case apperr.NotFound:
		return http.StatusNotFound, err.Error()
	case apperr.StoreUnavailable:
		return http.StatusInternalServerError, err.Error()
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

type submitRequest struct {
	UserRequest string                 `json:"user_request"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	ProjectID   string                 `json:"project_id,omitempty"`
}

type submitResponse struct {
	WorkflowID string        `json:"workflow_id"`
	Name       string        `json:"name"`
	Tasks      []domain.Task `json:"tasks"`
	CreatedAt  time.Time     `json:"created_at"`
}

// handleSubmit implements POST /v1/tasks. Recognized metadata keys
// (project_name, workflow_name, fast_mode, priority, complexity) are
// advisory and stored on the workflow's Metadata verbatim; only
// workflow_name overrides the derived name.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.UserRequest == "" {
		writeError(w, http.StatusBadRequest, "user_request is required")
		return
	}
	if req.ProjectID != "" {
		if _, err := s.db.CreateProject(r.Context(), req.ProjectID, projectName(req)); err != nil {
			status, msg := statusFor(err)
			writeError(w, status, msg)
			return
		}
	}

	wf, tasks, err := s.planner.Plan(r.Context(), req.UserRequest, req.ProjectID, req.Metadata)
	if err != nil {
		status, msg := statusFor(err)
		writeError(w, status, msg)
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{
		WorkflowID: wf.WorkflowID,
		Name:       wf.Name,
		Tasks:      tasks,
		CreatedAt:  wf.CreatedAt,
	})
}

func projectName(req submitRequest) string {
	if name, ok := req.Metadata["project_name"].(string); ok && name != "" {
		return name
	}
	return req.ProjectID
}

// handlePoll implements GET /v1/tasks/ready?role=R: the atomic claim.
func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if role == "" || !s.roles[role] {
		writeError(w, http.StatusBadRequest, "role must be a configured role")
		return
	}
	workerID := r.URL.Query().Get("worker_id")

	task, err := s.sched.Dispatch(r.Context(), role, workerID)
	if err != nil {
		status, msg := statusFor(err)
		writeError(w, status, msg)
		return
	}
	if task == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

type reportResponse struct {
	Accepted       bool          `json:"accepted"`
	WorkflowStatus domain.Status `json:"workflow_status"`
}

// handleReport implements POST /v1/results.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var report domain.Report
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if report.WorkflowID == "" || report.StepID == "" || report.WorkerID == "" {
		writeError(w, http.StatusBadRequest, "workflow_id, step_id and worker_id are required")
		return
	}

	outcome, err := s.results.Handle(r.Context(), report)
	if err != nil {
		status, msg := statusFor(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, reportResponse{Accepted: outcome.Accepted, WorkflowStatus: outcome.WorkflowStatus})
}

// handleWorkflowStatus implements GET /v1/workflows/{id}/status.
func (s *Server) handleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wf, err := s.db.GetWorkflow(r.Context(), id)
	if err != nil {
		status, msg := statusFor(err)
		writeError(w, status, msg)
		return
	}
	tasks, err := s.db.ListTasksByWorkflow(r.Context(), id)
	if err != nil {
		status, msg := statusFor(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workflow_id": wf.WorkflowID,
		"name":        wf.Name,
		"status":      wf.Status,
		"tasks":       tasks,
		"artifact":    wf.Artifact,
		"rework_cycles": wf.ReworkCycles,
	})
}

// handleGetWorkflow implements GET /v1/workflows/{id}: the full read path
// (tasks, results, latest audit report, artifact) that the lighter status
// endpoint alone doesn't supply.
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	wf, err := s.db.GetWorkflow(r.Context(), id)
	if err != nil {
		status, msg := statusFor(err)
		writeError(w, status, msg)
		return
	}
	tasks, err := s.db.ListTasksByWorkflow(r.Context(), id)
	if err != nil {
		status, msg := statusFor(err)
		writeError(w, status, msg)
		return
	}
	results, err := s.db.ListResultsByWorkflow(r.Context(), id)
	if err != nil {
		status, msg := statusFor(err)
		writeError(w, status, msg)
		return
	}
	audit, err := s.db.LatestAuditReport(r.Context(), id)
	if err != nil {
		status, msg := statusFor(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"workflow_id":   wf.WorkflowID,
		"name":          wf.Name,
		"user_request":  wf.UserRequest,
		"project_id":    wf.ProjectID,
		"status":        wf.Status,
		"tasks":         tasks,
		"results":       results,
		"audit_report":  audit,
		"artifact":      wf.Artifact,
		"rework_cycles": wf.ReworkCycles,
		"created_at":    wf.CreatedAt,
		"updated_at":    wf.UpdatedAt,
	})
}

// handleListLocks implements GET /v1/locks?path=: operator introspection of
// active leases on a given path.
func (s *Server) handleListLocks(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}
	locks, err := s.db.ListLocks(r.Context(), path)
	if err != nil {
		status, msg := statusFor(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"path": path, "locks": locks})
}

// handleReleaseClaim implements POST /v1/tasks/{workflow_id}/{step_id}/release:
// an admin intervention reverting a stuck IN_PROGRESS task to READY ahead
// of its claim TTL expiry, for operators unsticking a workflow without
// waiting out the timeout.
func (s *Server) handleReleaseClaim(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflow_id")
	stepID := chi.URLParam(r, "step_id")
	if err := s.db.ReleaseClaim(r.Context(), workflowID, stepID); err != nil {
		status, msg := statusFor(err)
		writeError(w, status, msg)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "released"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
