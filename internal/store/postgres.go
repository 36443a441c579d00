package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coriolislabs/mcs/internal/apperr"
	"github.com/coriolislabs/mcs/internal/domain"
)

// PostgresStore is the production Store: a transactional relational store
// over a Postgres pool, whose ClaimNextReady is the single serializable
// claim primitive — `SELECT … FOR UPDATE SKIP LOCKED` inside an
// `UPDATE … RETURNING`, the pattern grounded on the workflow-run claim
// query in the retrieved xentoshi-lake handler.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-connected pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) CreateProject(ctx context.Context, projectID, name string) (domain.Project, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO projects (project_id, name, status, created_at)
		VALUES ($1, $2, 'PENDING', now())
		ON CONFLICT (project_id) DO UPDATE SET project_id = projects.project_id
		RETURNING project_id, name, status, created_at`,
		projectID, name)
	var p domain.Project
	if err := row.Scan(&p.ProjectID, &p.Name, &p.Status, &p.CreatedAt); err != nil {
		return domain.Project{}, apperr.Wrap(apperr.StoreUnavailable, "create project", err)
	}
	return p, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (domain.Project, error) {
	row := s.pool.QueryRow(ctx, `SELECT project_id, name, status, created_at FROM projects WHERE project_id = $1`, projectID)
	var p domain.Project
	if err := row.Scan(&p.ProjectID, &p.Name, &p.Status, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Project{}, apperr.New(apperr.NotFound, "project not found")
		}
		return domain.Project{}, apperr.Wrap(apperr.StoreUnavailable, "get project", err)
	}
	return p, nil
}

func (s *PostgresStore) UpdateProjectStatus(ctx context.Context, projectID string, status domain.Status) error {
	tag, err := s.pool.Exec(ctx, `UPDATE projects SET status = $2 WHERE project_id = $1`, projectID, status)
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "update project status", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.NotFound, "project not found")
	}
	return nil
}

func (s *PostgresStore) CreateWorkflow(ctx context.Context, wf domain.Workflow, tasks []domain.Task) (domain.Workflow, []domain.Task, error) {
	roles := map[string]bool{}
	for _, t := range tasks {
		roles[t.Role] = true // structural validation only; role-set membership is checked by the Planner against config.Roles
	}
	if err := domain.ValidateGraph(tasks, roles); err != nil {
		return domain.Workflow{}, nil, apperr.Wrap(apperr.Validation, "invalid task graph", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Workflow{}, nil, apperr.Wrap(apperr.StoreUnavailable, "begin tx", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	metaJSON, _ := json.Marshal(wf.Metadata)
	var projectID any
	if wf.ProjectID != "" {
		projectID = wf.ProjectID
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO workflows (workflow_id, name, user_request, project_id, status, created_at, updated_at, metadata)
		VALUES ($1, $2, $3, $4, 'PENDING', $5, $5, $6)`,
		wf.WorkflowID, wf.Name, wf.UserRequest, projectID, now, metaJSON)
	if err != nil {
		return domain.Workflow{}, nil, apperr.Wrap(apperr.StoreUnavailable, "insert workflow", err)
	}

	for i := range tasks {
		t := &tasks[i]
		t.WorkflowID = wf.WorkflowID
		t.UpdatedAt = now
		if len(t.Dependencies) == 0 {
			t.Status = domain.TaskReady
		} else {
			t.Status = domain.TaskPending
		}
		depsJSON, _ := json.Marshal(t.Dependencies)
		fileDepsJSON, _ := json.Marshal(t.FileDependencies)
		_, err = tx.Exec(ctx, `
			INSERT INTO tasks (workflow_id, step_id, description, role, dependencies, file_dependencies, status, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			t.WorkflowID, t.StepID, t.Description, t.Role, depsJSON, fileDepsJSON, t.Status, now)
		if err != nil {
			return domain.Workflow{}, nil, apperr.Wrap(apperr.StoreUnavailable, "insert task", err)
		}
	}

	wf.Status = domain.DeriveStatus(tasks)
	if _, err = tx.Exec(ctx, `UPDATE workflows SET status = $2 WHERE workflow_id = $1`, wf.WorkflowID, wf.Status); err != nil {
		return domain.Workflow{}, nil, apperr.Wrap(apperr.StoreUnavailable, "finalize workflow status", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Workflow{}, nil, apperr.Wrap(apperr.StoreUnavailable, "commit tx", err)
	}
	wf.CreatedAt = now
	wf.UpdatedAt = now
	return wf, tasks, nil
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, workflowID string) (domain.Workflow, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT workflow_id, name, user_request, COALESCE(project_id, ''), status, created_at, updated_at, metadata, rework_cycles, artifact
		FROM workflows WHERE workflow_id = $1`, workflowID)
	var wf domain.Workflow
	var metaJSON []byte
	if err := row.Scan(&wf.WorkflowID, &wf.Name, &wf.UserRequest, &wf.ProjectID, &wf.Status, &wf.CreatedAt, &wf.UpdatedAt, &metaJSON, &wf.ReworkCycles, &wf.Artifact); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Workflow{}, apperr.New(apperr.NotFound, "workflow not found")
		}
		return domain.Workflow{}, apperr.Wrap(apperr.StoreUnavailable, "get workflow", err)
	}
	_ = json.Unmarshal(metaJSON, &wf.Metadata)
	return wf, nil
}

func scanTask(row pgx.Row) (domain.Task, error) {
	var t domain.Task
	var depsJSON, fileDepsJSON []byte
	var claimedAt *time.Time
	if err := row.Scan(&t.WorkflowID, &t.StepID, &t.Description, &t.Role, &depsJSON, &fileDepsJSON,
		&t.Status, &t.ClaimedBy, &claimedAt, &t.UpdatedAt, &t.RetryCount, &t.ReworkNote); err != nil {
		return domain.Task{}, err
	}
	_ = json.Unmarshal(depsJSON, &t.Dependencies)
	_ = json.Unmarshal(fileDepsJSON, &t.FileDependencies)
	t.ClaimedAt = claimedAt
	return t, nil
}

const taskColumns = `workflow_id, step_id, description, role, dependencies, file_dependencies, status, claimed_by, claimed_at, updated_at, retry_count, rework_note`

func (s *PostgresStore) ListTasksByWorkflow(ctx context.Context, workflowID string) ([]domain.Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE workflow_id = $1 ORDER BY step_id`, workflowID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "list tasks", err)
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.StoreUnavailable, "scan task", err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, workflowID, stepID string) (domain.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE workflow_id = $1 AND step_id = $2`, workflowID, stepID)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Task{}, apperr.New(apperr.NotFound, "task not found")
		}
		return domain.Task{}, apperr.Wrap(apperr.StoreUnavailable, "get task", err)
	}
	return t, nil
}

// PromoteReady recomputes the dependency-satisfied set in Go (the graph is
// small — one workflow's worth of tasks — so a round-trip plus an
// application-level pass is simpler and just as correct as a recursive
// CTE) and applies the READY transition inside one transaction.
func (s *PostgresStore) PromoteReady(ctx context.Context, workflowID string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.StoreUnavailable, "begin tx", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE workflow_id = $1 FOR UPDATE`, workflowID)
	if err != nil {
		return 0, apperr.Wrap(apperr.StoreUnavailable, "lock tasks", err)
	}
	var all []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return 0, apperr.Wrap(apperr.StoreUnavailable, "scan task", err)
		}
		all = append(all, t)
	}
	rows.Close()

	ready := domain.ReadySet(all)
	now := time.Now().UTC()
	for _, id := range ready {
		if _, err := tx.Exec(ctx, `UPDATE tasks SET status = 'READY', updated_at = $3 WHERE workflow_id = $1 AND step_id = $2`, workflowID, id, now); err != nil {
			return 0, apperr.Wrap(apperr.StoreUnavailable, "promote task", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, apperr.Wrap(apperr.StoreUnavailable, "commit tx", err)
	}
	return len(ready), nil
}

// ClaimNextReady is the serializable claim operation. The SELECT … FOR
// UPDATE SKIP LOCKED subquery lets N concurrent callers each lock a
// distinct candidate row (or find none left) instead of blocking behind
// each other, guaranteeing exactly one of N pollers gets any given READY
// task (testable property 3 / scenario S1).
func (s *PostgresStore) ClaimNextReady(ctx context.Context, role, workerID string) (*domain.Task, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE tasks SET status = 'IN_PROGRESS', claimed_by = $2, claimed_at = now(), updated_at = now()
		WHERE (workflow_id, step_id) = (
			SELECT workflow_id, step_id FROM tasks
			WHERE status = 'READY' AND role = $1
			ORDER BY updated_at ASC, step_id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns, role, workerID)
	t, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.StoreUnavailable, "claim next ready", err)
	}
	return &t, nil
}

func (s *PostgresStore) RecordResult(ctx context.Context, report domain.Report, result domain.Result, newStatus domain.TaskStatus, maxRetries int) (domain.Status, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", apperr.Wrap(apperr.StoreUnavailable, "begin tx", err)
	}
	defer tx.Rollback(ctx)

	var claimedBy string
	var retryCount int
	row := tx.QueryRow(ctx, `SELECT claimed_by, retry_count FROM tasks WHERE workflow_id = $1 AND step_id = $2 FOR UPDATE`, report.WorkflowID, report.StepID)
	if err := row.Scan(&claimedBy, &retryCount); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", apperr.New(apperr.NotFound, "task not found")
		}
		return "", apperr.Wrap(apperr.StoreUnavailable, "lock task", err)
	}
	if claimedBy != report.WorkerID {
		return "", apperr.New(apperr.Conflict, "report from non-current claim holder")
	}

	iterJSON, _ := json.Marshal(result.Iterations)
	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		INSERT INTO results (workflow_id, step_id, iterations, final_result, source_worker, execution_time, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		report.WorkflowID, report.StepID, iterJSON, result.FinalResult, result.SourceWorker, int64(result.ExecutionTime), now)
	if err != nil {
		return "", apperr.Wrap(apperr.StoreUnavailable, "insert result", err)
	}

	switch newStatus {
	case domain.TaskCompleted:
		_, err = tx.Exec(ctx, `UPDATE tasks SET status = 'COMPLETED', updated_at = $3 WHERE workflow_id = $1 AND step_id = $2`, report.WorkflowID, report.StepID, now)
	case domain.TaskFailed:
		if retryCount < maxRetries {
			_, err = tx.Exec(ctx, `UPDATE tasks SET status = 'READY', claimed_by = '', claimed_at = NULL, retry_count = retry_count + 1, updated_at = $3 WHERE workflow_id = $1 AND step_id = $2`, report.WorkflowID, report.StepID, now)
		} else {
			_, err = tx.Exec(ctx, `UPDATE tasks SET status = 'FAILED', updated_at = $3 WHERE workflow_id = $1 AND step_id = $2`, report.WorkflowID, report.StepID, now)
		}
	default:
		_, err = tx.Exec(ctx, `UPDATE tasks SET status = $3, updated_at = $4 WHERE workflow_id = $1 AND step_id = $2`, report.WorkflowID, report.StepID, newStatus, now)
	}
	if err != nil {
		return "", apperr.Wrap(apperr.StoreUnavailable, "update task status", err)
	}

	status, err := recomputeStatusTx(ctx, tx, report.WorkflowID)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", apperr.Wrap(apperr.StoreUnavailable, "commit tx", err)
	}
	return status, nil
}

func recomputeStatusTx(ctx context.Context, tx pgx.Tx, workflowID string) (domain.Status, error) {
	rows, err := tx.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return "", apperr.Wrap(apperr.StoreUnavailable, "list tasks for status", err)
	}
	var all []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return "", apperr.Wrap(apperr.StoreUnavailable, "scan task", err)
		}
		all = append(all, t)
	}
	rows.Close()

	status := domain.DeriveStatus(all)
	if _, err := tx.Exec(ctx, `UPDATE workflows SET status = $2, updated_at = now() WHERE workflow_id = $1`, workflowID, status); err != nil {
		return "", apperr.Wrap(apperr.StoreUnavailable, "update workflow status", err)
	}
	var projectID *string
	if err := tx.QueryRow(ctx, `SELECT project_id FROM workflows WHERE workflow_id = $1`, workflowID).Scan(&projectID); err != nil {
		return "", apperr.Wrap(apperr.StoreUnavailable, "lookup project", err)
	}
	if projectID != nil && *projectID != "" {
		if _, err := tx.Exec(ctx, `UPDATE projects SET status = $2 WHERE project_id = $1`, *projectID, status); err != nil {
			return "", apperr.Wrap(apperr.StoreUnavailable, "update project status", err)
		}
	}
	return status, nil
}

func (s *PostgresStore) ResetTasksForRework(ctx context.Context, workflowID string, directives []domain.ReworkDirective) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "begin tx", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE workflow_id = $1 FOR UPDATE`, workflowID)
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "lock tasks", err)
	}
	var all []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return apperr.Wrap(apperr.StoreUnavailable, "scan task", err)
		}
		all = append(all, t)
	}
	rows.Close()

	known := make(map[string]bool, len(all))
	for _, t := range all {
		known[t.StepID] = true
	}

	reasons := make(map[string]string)
	var cascadeSeeds []string
	for _, d := range directives {
		if !known[d.StepID] {
			continue
		}
		reasons[d.StepID] = d.Reason
		if d.Cascade {
			cascadeSeeds = append(cascadeSeeds, d.StepID)
		}
	}
	resetSet := make(map[string]bool, len(reasons))
	for id := range reasons {
		resetSet[id] = true
	}
	for id := range domain.TransitiveDependents(all, cascadeSeeds) {
		resetSet[id] = true
		if reasons[id] == "" {
			reasons[id] = "cascaded from dependency reset"
		}
	}

	now := time.Now().UTC()
	for id := range resetSet {
		if _, err := tx.Exec(ctx, `
			UPDATE tasks SET status = 'PENDING', rework_note = $3, claimed_by = '', claimed_at = NULL,
				retry_count = retry_count + 1, updated_at = $4
			WHERE workflow_id = $1 AND step_id = $2`,
			workflowID, id, reasons[id], now); err != nil {
			return apperr.Wrap(apperr.StoreUnavailable, "reset task", err)
		}
	}

	if _, err := recomputeStatusTx(ctx, tx, workflowID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "commit tx", err)
	}
	return nil
}

func (s *PostgresStore) CasUpdateStatuses(ctx context.Context, workflowID string) (domain.Status, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", apperr.Wrap(apperr.StoreUnavailable, "begin tx", err)
	}
	defer tx.Rollback(ctx)
	status, err := recomputeStatusTx(ctx, tx, workflowID)
	if err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", apperr.Wrap(apperr.StoreUnavailable, "commit tx", err)
	}
	return status, nil
}

func (s *PostgresStore) FinalizeWorkflow(ctx context.Context, workflowID, artifact string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "begin tx", err)
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx, `UPDATE workflows SET status = 'COMPLETED', artifact = $2, updated_at = now() WHERE workflow_id = $1`, workflowID, artifact); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "finalize workflow", err)
	}
	var projectID *string
	if err := tx.QueryRow(ctx, `SELECT project_id FROM workflows WHERE workflow_id = $1`, workflowID).Scan(&projectID); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "lookup project", err)
	}
	if projectID != nil && *projectID != "" {
		if _, err := tx.Exec(ctx, `UPDATE projects SET status = 'COMPLETED' WHERE project_id = $1`, *projectID); err != nil {
			return apperr.Wrap(apperr.StoreUnavailable, "finalize project", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "commit tx", err)
	}
	return nil
}

func (s *PostgresStore) RecordAuditReport(ctx context.Context, report domain.AuditReport) error {
	directivesJSON, _ := json.Marshal(report.ReworkDirectives)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_reports (workflow_id, is_successful, feedback, rework_directives, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		report.WorkflowID, report.IsSuccessful, report.Feedback, directivesJSON, report.Confidence)
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "record audit report", err)
	}
	return nil
}

func (s *PostgresStore) LatestAuditReport(ctx context.Context, workflowID string) (*domain.AuditReport, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT workflow_id, is_successful, feedback, rework_directives, confidence, created_at
		FROM audit_reports WHERE workflow_id = $1 ORDER BY created_at DESC LIMIT 1`, workflowID)
	var r domain.AuditReport
	var directivesJSON []byte
	if err := row.Scan(&r.WorkflowID, &r.IsSuccessful, &r.Feedback, &directivesJSON, &r.Confidence, &r.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.StoreUnavailable, "latest audit report", err)
	}
	_ = json.Unmarshal(directivesJSON, &r.ReworkDirectives)
	return &r, nil
}

func (s *PostgresStore) IncrementReworkCycles(ctx context.Context, workflowID string) (int, error) {
	row := s.pool.QueryRow(ctx, `UPDATE workflows SET rework_cycles = rework_cycles + 1 WHERE workflow_id = $1 RETURNING rework_cycles`, workflowID)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, apperr.Wrap(apperr.StoreUnavailable, "increment rework cycles", err)
	}
	return n, nil
}

func (s *PostgresStore) GetReworkCycles(ctx context.Context, workflowID string) (int, error) {
	row := s.pool.QueryRow(ctx, `SELECT rework_cycles FROM workflows WHERE workflow_id = $1`, workflowID)
	var n int
	if err := row.Scan(&n); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperr.New(apperr.NotFound, "workflow not found")
		}
		return 0, apperr.Wrap(apperr.StoreUnavailable, "get rework cycles", err)
	}
	return n, nil
}

func (s *PostgresStore) ListResultsByWorkflow(ctx context.Context, workflowID string) ([]domain.Result, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT workflow_id, step_id, iterations, final_result, source_worker, execution_time, created_at
		FROM results WHERE workflow_id = $1 ORDER BY created_at ASC`, workflowID)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "list results", err)
	}
	defer rows.Close()
	var out []domain.Result
	for rows.Next() {
		var r domain.Result
		var iterJSON []byte
		var execNanos int64
		if err := rows.Scan(&r.WorkflowID, &r.TaskStepID, &iterJSON, &r.FinalResult, &r.SourceWorker, &execNanos, &r.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.StoreUnavailable, "scan result", err)
		}
		_ = json.Unmarshal(iterJSON, &r.Iterations)
		r.ExecutionTime = time.Duration(execNanos)
		out = append(out, r)
	}
	return out, nil
}

func (s *PostgresStore) AcquireLock(ctx context.Context, lock domain.FileLock) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "begin tx", err)
	}
	defer tx.Rollback(ctx)

	// Serialize every acquire on this path for the rest of the transaction,
	// including when no lease row exists yet for FOR UPDATE to lock.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, lock.Path); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "serialize acquire on path", err)
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `DELETE FROM file_locks WHERE path = $1 AND expires_at <= $2`, lock.Path, now); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "sweep expired on acquire", err)
	}

	rows, err := tx.Query(ctx, `SELECT mode FROM file_locks WHERE path = $1 FOR UPDATE`, lock.Path)
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "lock active leases", err)
	}
	var modes []domain.FileMode
	for rows.Next() {
		var m domain.FileMode
		if err := rows.Scan(&m); err != nil {
			rows.Close()
			return apperr.Wrap(apperr.StoreUnavailable, "scan lease mode", err)
		}
		modes = append(modes, m)
	}
	rows.Close()
	for _, held := range modes {
		if !domain.Compatible(held, lock.Mode) {
			return apperr.New(apperr.Conflict, "lock conflict on "+lock.Path)
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO file_locks (path, holder_worker, task_step_id, mode, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (path, holder_worker) DO UPDATE SET task_step_id = $3, mode = $4, acquired_at = $5, expires_at = $6`,
		lock.Path, lock.HolderWorker, lock.TaskStepID, lock.Mode, now, lock.ExpiresAt); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "insert lease", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "commit tx", err)
	}
	return nil
}

func (s *PostgresStore) ReleaseLock(ctx context.Context, path, holderWorker string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM file_locks WHERE path = $1 AND holder_worker = $2`, path, holderWorker); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "release lock", err)
	}
	return nil
}

func (s *PostgresStore) ReleaseAllLocks(ctx context.Context, holderWorker string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM file_locks WHERE holder_worker = $1`, holderWorker); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "release all locks", err)
	}
	return nil
}

func (s *PostgresStore) ListLocks(ctx context.Context, path string) ([]domain.FileLock, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT path, holder_worker, task_step_id, mode, acquired_at, expires_at
		FROM file_locks WHERE path = $1`, path)
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreUnavailable, "list locks", err)
	}
	defer rows.Close()
	var out []domain.FileLock
	for rows.Next() {
		var l domain.FileLock
		if err := rows.Scan(&l.Path, &l.HolderWorker, &l.TaskStepID, &l.Mode, &l.AcquiredAt, &l.ExpiresAt); err != nil {
			return nil, apperr.Wrap(apperr.StoreUnavailable, "scan lock", err)
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *PostgresStore) SweepExpiredLocks(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM file_locks WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, apperr.Wrap(apperr.StoreUnavailable, "sweep expired locks", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) SweepExpiredClaims(ctx context.Context, ttl time.Duration) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, apperr.Wrap(apperr.StoreUnavailable, "begin tx", err)
	}
	defer tx.Rollback(ctx)

	cutoff := time.Now().UTC().Add(-ttl)
	rows, err := tx.Query(ctx, `
		SELECT workflow_id, step_id, claimed_by FROM tasks
		WHERE status = 'IN_PROGRESS' AND claimed_at IS NOT NULL AND claimed_at <= $1
		FOR UPDATE`, cutoff)
	if err != nil {
		return 0, apperr.Wrap(apperr.StoreUnavailable, "find expired claims", err)
	}
	type key struct{ workflowID, stepID, holder string }
	var expired []key
	for rows.Next() {
		var k key
		if err := rows.Scan(&k.workflowID, &k.stepID, &k.holder); err != nil {
			rows.Close()
			return 0, apperr.Wrap(apperr.StoreUnavailable, "scan expired claim", err)
		}
		expired = append(expired, k)
	}
	rows.Close()

	now := time.Now().UTC()
	for _, k := range expired {
		if _, err := tx.Exec(ctx, `
			UPDATE tasks SET status = 'READY', claimed_by = '', claimed_at = NULL, updated_at = $3
			WHERE workflow_id = $1 AND step_id = $2`, k.workflowID, k.stepID, now); err != nil {
			return 0, apperr.Wrap(apperr.StoreUnavailable, "revert expired claim", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM file_locks WHERE task_step_id = $1 AND holder_worker = $2`, k.stepID, k.holder); err != nil {
			return 0, apperr.Wrap(apperr.StoreUnavailable, "release locks on expiry", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, apperr.Wrap(apperr.StoreUnavailable, "commit tx", err)
	}
	return len(expired), nil
}

// ReleaseClaim is the admin-intervention path: reverts a single
// IN_PROGRESS task to READY ahead of claim_ttl and drops its locks.
func (s *PostgresStore) ReleaseClaim(ctx context.Context, workflowID, stepID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "begin tx", err)
	}
	defer tx.Rollback(ctx)

	var status domain.TaskStatus
	var holder string
	row := tx.QueryRow(ctx, `SELECT status, claimed_by FROM tasks WHERE workflow_id = $1 AND step_id = $2 FOR UPDATE`, workflowID, stepID)
	if err := row.Scan(&status, &holder); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.New(apperr.NotFound, "task not found")
		}
		return apperr.Wrap(apperr.StoreUnavailable, "lock task", err)
	}
	if status != domain.TaskInProgress {
		return apperr.New(apperr.Conflict, "task is not claimed")
	}

	now := time.Now().UTC()
	if _, err := tx.Exec(ctx, `
		UPDATE tasks SET status = 'READY', claimed_by = '', claimed_at = NULL, updated_at = $3
		WHERE workflow_id = $1 AND step_id = $2`, workflowID, stepID, now); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "release claim", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM file_locks WHERE task_step_id = $1 AND holder_worker = $2`, stepID, holder); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "release locks on claim release", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.Wrap(apperr.StoreUnavailable, "commit tx", err)
	}
	return nil
}
