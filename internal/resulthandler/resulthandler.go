// Package resulthandler is the entry point for worker reports. It verifies
// the claim holder, persists the Result, transitions the task, releases
// the worker's file leases, drives promotion, and — on workflow
// completion — invokes the Auditor and either finalizes the workflow (with
// a synthesized artifact) or resets tasks for rework.
package resulthandler

import (
	"context"
	"fmt"
	"strings"

	"github.com/coriolislabs/mcs/internal/apperr"
	"github.com/coriolislabs/mcs/internal/auditor"
	"github.com/coriolislabs/mcs/internal/domain"
	"github.com/coriolislabs/mcs/internal/lockmgr"
	"github.com/coriolislabs/mcs/internal/scheduler"
	"github.com/coriolislabs/mcs/internal/store"
)

// Handler wires together the Store, Lock Manager, Scheduler and Auditor to
// implement the report-ingestion sequence.
type Handler struct {
	db         store.Store
	locks      *lockmgr.Manager
	sched      *scheduler.Scheduler
	audit      *auditor.Auditor
	maxRetries int
}

// New constructs a Handler.
func New(db store.Store, locks *lockmgr.Manager, sched *scheduler.Scheduler, audit *auditor.Auditor, maxRetries int) *Handler {
	return &Handler{db: db, locks: locks, sched: sched, audit: audit, maxRetries: maxRetries}
}

// Outcome is what the API layer reports back to the worker: whether the
// report was accepted and the workflow's resulting status.
type Outcome struct {
	Accepted       bool
	WorkflowStatus domain.Status
}

// Handle ingests one worker report: persists the result, releases the
// worker's file leases, drives promotion of newly-ready tasks, and — if
// the workflow just completed — runs the post-completion sequence.
func (h *Handler) Handle(ctx context.Context, report domain.Report) (Outcome, error) {
	newStatus := domain.TaskCompleted
	if report.Status == domain.ReportFailed {
		newStatus = domain.TaskFailed
	}

	result := domain.Result{
		TaskStepID:    report.StepID,
		WorkflowID:    report.WorkflowID,
		Iterations:    report.RAHistory,
		FinalResult:   report.FinalResult,
		SourceWorker:  report.WorkerID,
		ExecutionTime: report.ExecutionTime,
	}

	wfStatus, err := h.db.RecordResult(ctx, report, result, newStatus, h.maxRetries)
	if err != nil {
		if apperr.Is(err, apperr.Conflict) {
			return Outcome{Accepted: false}, nil
		}
		return Outcome{}, err
	}

	if relErr := h.locks.ReleaseAll(ctx, report.WorkerID); relErr != nil {
		return Outcome{}, relErr
	}

	if _, promErr := h.sched.Promote(ctx, report.WorkflowID); promErr != nil {
		return Outcome{}, promErr
	}

	wfStatus, err = h.db.CasUpdateStatuses(ctx, report.WorkflowID)
	if err != nil {
		return Outcome{}, err
	}

	if wfStatus == domain.StatusCompleted {
		finalStatus, auditErr := h.completeWorkflow(ctx, report.WorkflowID)
		if auditErr != nil {
			return Outcome{}, auditErr
		}
		wfStatus = finalStatus
	}

	return Outcome{Accepted: true, WorkflowStatus: wfStatus}, nil
}

// completeWorkflow runs the post-completion sequence: audit, then either
// finalize-with-synthesis or reset for rework.
func (h *Handler) completeWorkflow(ctx context.Context, workflowID string) (domain.Status, error) {
	wf, err := h.db.GetWorkflow(ctx, workflowID)
	if err != nil {
		return "", err
	}
	tasks, err := h.db.ListTasksByWorkflow(ctx, workflowID)
	if err != nil {
		return "", err
	}
	results, err := h.db.ListResultsByWorkflow(ctx, workflowID)
	if err != nil {
		return "", err
	}

	verdict, err := h.audit.Audit(ctx, workflowID, wf.UserRequest, tasks, results)
	if err != nil {
		return "", err
	}

	if verdict.Finalize {
		artifact := Synthesize(tasks, results)
		if err := h.db.FinalizeWorkflow(ctx, workflowID, artifact); err != nil {
			return "", err
		}
		return domain.StatusCompleted, nil
	}

	if _, err := h.db.IncrementReworkCycles(ctx, workflowID); err != nil {
		return "", err
	}
	if err := h.db.ResetTasksForRework(ctx, workflowID, verdict.Directives); err != nil {
		return "", err
	}
	if _, err := h.sched.Promote(ctx, workflowID); err != nil {
		return "", err
	}
	return h.db.CasUpdateStatuses(ctx, workflowID)
}

// Synthesize concatenates each task's final result in dependency order —
// a pure function over completed tasks, not a dedicated component.
func Synthesize(tasks []domain.Task, results []domain.Result) string {
	latest := make(map[string]domain.Result, len(results))
	for _, r := range results {
		latest[r.TaskStepID] = r // later entries in the append-only log win
	}
	var b strings.Builder
	for _, stepID := range domain.TopologicalOrder(tasks) {
		r, ok := latest[stepID]
		if !ok || r.FinalResult == "" {
			continue
		}
		fmt.Fprintf(&b, "## %s\n%s\n\n", stepID, r.FinalResult)
	}
	return strings.TrimSpace(b.String())
}
