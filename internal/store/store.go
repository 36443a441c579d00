// Package store defines the transactional Store (C1): the contract every
// other component uses to read and mutate Projects, Workflows, Tasks,
// Results, AuditReports and FileLocks. Two implementations exist: memstore
// (in-process, used by unit tests and as the interface's reference shape)
// and the Postgres-backed store (the production implementation, exercising
// the serializable claim via SKIP LOCKED).
package store

import (
	"context"
	"time"

	"github.com/coriolislabs/mcs/internal/domain"
)

// Store is the persistence seam consumed by Planner, Scheduler,
// ResultHandler, Auditor and the Lock Manager.
type Store interface {
	// CreateProject creates a Project row, or returns the existing one if
	// projectID already exists (submit is idempotent per-project-id only
	// in the sense of not duplicating the project; workflows are never
	// reused).
	CreateProject(ctx context.Context, projectID, name string) (domain.Project, error)
	GetProject(ctx context.Context, projectID string) (domain.Project, error)
	UpdateProjectStatus(ctx context.Context, projectID string, status domain.Status) error

	// CreateWorkflow is atomic: rejects with apperr.Validation if the
	// dependency set references unknown step_ids or contains a cycle.
	// Tasks whose dependencies are empty are marked READY in the same
	// transaction.
	CreateWorkflow(ctx context.Context, wf domain.Workflow, tasks []domain.Task) (domain.Workflow, []domain.Task, error)
	GetWorkflow(ctx context.Context, workflowID string) (domain.Workflow, error)
	ListTasksByWorkflow(ctx context.Context, workflowID string) ([]domain.Task, error)
	GetTask(ctx context.Context, workflowID, stepID string) (domain.Task, error)

	// PromoteReady computes P = {PENDING tasks whose dependencies are all
	// COMPLETED} for workflowID and atomically sets each to READY,
	// returning the number promoted.
	PromoteReady(ctx context.Context, workflowID string) (int, error)

	// ClaimNextReady is the single serializable claim operation: selects
	// the oldest READY task matching role (tie-break: lexicographic
	// step_id), sets it IN_PROGRESS/claimed_by/claimed_at, and returns it.
	// Returns (nil, nil) when no task is available.
	ClaimNextReady(ctx context.Context, role, workerID string) (*domain.Task, error)

	// RecordResult persists the Result row, updates the task status, and
	// returns the recomputed workflow status, all within one transaction.
	RecordResult(ctx context.Context, report domain.Report, result domain.Result, newStatus domain.TaskStatus, maxRetries int) (domain.Status, error)

	// ResetTasksForRework sets the listed tasks (plus their cascaded
	// transitive dependents, per directive.Cascade) to PENDING with
	// rework_note attached, clears claimed_by, increments retry_count.
	ResetTasksForRework(ctx context.Context, workflowID string, directives []domain.ReworkDirective) error

	// CasUpdateStatuses recomputes workflow and project status from
	// current task rows.
	CasUpdateStatuses(ctx context.Context, workflowID string) (domain.Status, error)

	// FinalizeWorkflow marks the workflow COMPLETED (post-audit) and
	// stores the synthesized artifact.
	FinalizeWorkflow(ctx context.Context, workflowID, artifact string) error

	RecordAuditReport(ctx context.Context, report domain.AuditReport) error
	LatestAuditReport(ctx context.Context, workflowID string) (*domain.AuditReport, error)
	IncrementReworkCycles(ctx context.Context, workflowID string) (int, error)
	GetReworkCycles(ctx context.Context, workflowID string) (int, error)

	ListResultsByWorkflow(ctx context.Context, workflowID string) ([]domain.Result, error)

	// AcquireLock grants a lease if compatible with the active set on
	// path, else returns apperr.Conflict. Serialized per path.
	AcquireLock(ctx context.Context, lock domain.FileLock) error
	ReleaseLock(ctx context.Context, path, holderWorker string) error
	ReleaseAllLocks(ctx context.Context, holderWorker string) error
	ListLocks(ctx context.Context, path string) ([]domain.FileLock, error)
	SweepExpiredLocks(ctx context.Context, now time.Time) (int, error)

	// SweepExpiredClaims reverts IN_PROGRESS tasks whose claim has
	// exceeded ttl back to READY and releases their locks.
	SweepExpiredClaims(ctx context.Context, ttl time.Duration) (int, error)

	// ReleaseClaim reverts a single IN_PROGRESS task to READY ahead of
	// claim_ttl expiry and drops its held locks — the admin-intervention
	// path for unsticking a claim without waiting out the timeout.
	ReleaseClaim(ctx context.Context, workflowID, stepID string) error

	Ping(ctx context.Context) error
}
