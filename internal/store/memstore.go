package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/coriolislabs/mcs/internal/apperr"
	"github.com/coriolislabs/mcs/internal/domain"
)

// MemStore is an in-process reference Store, generalized from the
// orchestrator's sync.RWMutex-guarded workflowStore map to the full
// Project/Workflow/Task/Result/AuditReport/FileLock entity set. It gives
// unit tests a deterministic Store without a live Postgres instance; only
// the SKIP LOCKED claim semantics it stands in for are exercised instead
// against the real Postgres implementation under the integration tag.
type MemStore struct {
	mu sync.Mutex

	projects  map[string]domain.Project
	workflows map[string]domain.Workflow
	tasks     map[string]map[string]domain.Task // workflowID -> stepID -> Task
	results   map[string][]domain.Result         // workflowID -> results
	audits    map[string][]domain.AuditReport    // workflowID -> reports
	rework    map[string]int                     // workflowID -> cycle count
	locks     map[string][]domain.FileLock       // path -> active leases
}

// NewMemStore constructs an empty in-memory Store.
func NewMemStore() *MemStore {
	return &MemStore{
		projects:  make(map[string]domain.Project),
		workflows: make(map[string]domain.Workflow),
		tasks:     make(map[string]map[string]domain.Task),
		results:   make(map[string][]domain.Result),
		audits:    make(map[string][]domain.AuditReport),
		rework:    make(map[string]int),
		locks:     make(map[string][]domain.FileLock),
	}
}

func (s *MemStore) CreateProject(ctx context.Context, projectID, name string) (domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.projects[projectID]; ok {
		return p, nil
	}
	p := domain.Project{ProjectID: projectID, Name: name, Status: domain.StatusPending, CreatedAt: time.Now().UTC()}
	s.projects[projectID] = p
	return p, nil
}

func (s *MemStore) GetProject(ctx context.Context, projectID string) (domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return domain.Project{}, apperr.New(apperr.NotFound, "project not found")
	}
	return p, nil
}

func (s *MemStore) UpdateProjectStatus(ctx context.Context, projectID string, status domain.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return apperr.New(apperr.NotFound, "project not found")
	}
	p.Status = status
	s.projects[projectID] = p
	return nil
}

func (s *MemStore) CreateWorkflow(ctx context.Context, wf domain.Workflow, tasks []domain.Task) (domain.Workflow, []domain.Task, error) {
	roles := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		roles[t.Role] = true // structural validation only; role-set membership is checked by the Planner
	}
	if err := domain.ValidateGraph(tasks, roles); err != nil {
		return domain.Workflow{}, nil, apperr.Wrap(apperr.Validation, "invalid task graph", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	wf.CreatedAt = now
	wf.UpdatedAt = now
	if wf.Status == "" {
		wf.Status = domain.StatusPending
	}

	byStep := make(map[string]domain.Task, len(tasks))
	for i := range tasks {
		tasks[i].WorkflowID = wf.WorkflowID
		tasks[i].UpdatedAt = now
		if tasks[i].Status == "" {
			tasks[i].Status = domain.TaskPending
		}
		byStep[tasks[i].StepID] = tasks[i]
	}
	for i := range tasks {
		if len(tasks[i].Dependencies) == 0 {
			tasks[i].Status = domain.TaskReady
		}
	}
	wf.Status = domain.DeriveStatus(tasks)

	s.workflows[wf.WorkflowID] = wf
	store := make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		store[t.StepID] = t
	}
	s.tasks[wf.WorkflowID] = store
	return wf, tasks, nil
}

func (s *MemStore) GetWorkflow(ctx context.Context, workflowID string) (domain.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[workflowID]
	if !ok {
		return domain.Workflow{}, apperr.New(apperr.NotFound, "workflow not found")
	}
	return wf, nil
}

func (s *MemStore) ListTasksByWorkflow(ctx context.Context, workflowID string) ([]domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tm, ok := s.tasks[workflowID]
	if !ok {
		return nil, apperr.New(apperr.NotFound, "workflow not found")
	}
	out := make([]domain.Task, 0, len(tm))
	for _, t := range tm {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepID < out[j].StepID })
	return out, nil
}

func (s *MemStore) GetTask(ctx context.Context, workflowID, stepID string) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tm, ok := s.tasks[workflowID]
	if !ok {
		return domain.Task{}, apperr.New(apperr.NotFound, "workflow not found")
	}
	t, ok := tm[stepID]
	if !ok {
		return domain.Task{}, apperr.New(apperr.NotFound, "task not found")
	}
	return t, nil
}

func (s *MemStore) PromoteReady(ctx context.Context, workflowID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tm, ok := s.tasks[workflowID]
	if !ok {
		return 0, apperr.New(apperr.NotFound, "workflow not found")
	}
	all := make([]domain.Task, 0, len(tm))
	for _, t := range tm {
		all = append(all, t)
	}
	ready := domain.ReadySet(all)
	now := time.Now().UTC()
	for _, id := range ready {
		t := tm[id]
		t.Status = domain.TaskReady
		t.UpdatedAt = now
		tm[id] = t
	}
	return len(ready), nil
}

func (s *MemStore) ClaimNextReady(ctx context.Context, role, workerID string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []domain.Task
	for _, tm := range s.tasks {
		for _, t := range tm {
			if t.Status == domain.TaskReady && t.Role == role {
				candidates = append(candidates, t)
			}
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].UpdatedAt.Equal(candidates[j].UpdatedAt) {
			return candidates[i].UpdatedAt.Before(candidates[j].UpdatedAt)
		}
		return candidates[i].StepID < candidates[j].StepID
	})
	chosen := candidates[0]
	now := time.Now().UTC()
	chosen.Status = domain.TaskInProgress
	chosen.ClaimedBy = workerID
	chosen.ClaimedAt = &now
	chosen.UpdatedAt = now
	s.tasks[chosen.WorkflowID][chosen.StepID] = chosen
	out := chosen
	return &out, nil
}

func (s *MemStore) RecordResult(ctx context.Context, report domain.Report, result domain.Result, newStatus domain.TaskStatus, maxRetries int) (domain.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tm, ok := s.tasks[report.WorkflowID]
	if !ok {
		return "", apperr.New(apperr.NotFound, "workflow not found")
	}
	t, ok := tm[report.StepID]
	if !ok {
		return "", apperr.New(apperr.NotFound, "task not found")
	}
	if t.ClaimedBy != report.WorkerID {
		return "", apperr.New(apperr.Conflict, "report from non-current claim holder")
	}

	now := time.Now().UTC()
	result.CreatedAt = now
	s.results[report.WorkflowID] = append(s.results[report.WorkflowID], result)

	switch newStatus {
	case domain.TaskCompleted:
		t.Status = domain.TaskCompleted
	case domain.TaskFailed:
		if t.RetryCount < maxRetries {
			t.RetryCount++
			t.Status = domain.TaskReady
			t.ClaimedBy = ""
			t.ClaimedAt = nil
		} else {
			t.Status = domain.TaskFailed
		}
	default:
		t.Status = newStatus
	}
	t.UpdatedAt = now
	tm[report.StepID] = t

	return s.recomputeLocked(report.WorkflowID), nil
}

func (s *MemStore) recomputeLocked(workflowID string) domain.Status {
	tm := s.tasks[workflowID]
	all := make([]domain.Task, 0, len(tm))
	for _, t := range tm {
		all = append(all, t)
	}
	status := domain.DeriveStatus(all)
	wf := s.workflows[workflowID]
	wf.Status = status
	wf.UpdatedAt = time.Now().UTC()
	s.workflows[workflowID] = wf
	if wf.ProjectID != "" {
		if p, ok := s.projects[wf.ProjectID]; ok {
			p.Status = status
			s.projects[wf.ProjectID] = p
		}
	}
	return status
}

func (s *MemStore) ResetTasksForRework(ctx context.Context, workflowID string, directives []domain.ReworkDirective) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tm, ok := s.tasks[workflowID]
	if !ok {
		return apperr.New(apperr.NotFound, "workflow not found")
	}
	all := make([]domain.Task, 0, len(tm))
	for _, t := range tm {
		all = append(all, t)
	}

	reasons := make(map[string]string)
	var cascadeSeeds []string
	for _, d := range directives {
		if _, exists := tm[d.StepID]; !exists {
			continue // unknown step_ids are discarded
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
		t := tm[id]
		t.Status = domain.TaskPending
		t.ReworkNote = reasons[id]
		t.ClaimedBy = ""
		t.ClaimedAt = nil
		t.RetryCount++
		t.UpdatedAt = now
		tm[id] = t
	}
	s.recomputeLocked(workflowID)
	return nil
}

func (s *MemStore) CasUpdateStatuses(ctx context.Context, workflowID string) (domain.Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[workflowID]; !ok {
		return "", apperr.New(apperr.NotFound, "workflow not found")
	}
	return s.recomputeLocked(workflowID), nil
}

func (s *MemStore) FinalizeWorkflow(ctx context.Context, workflowID, artifact string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[workflowID]
	if !ok {
		return apperr.New(apperr.NotFound, "workflow not found")
	}
	wf.Status = domain.StatusCompleted
	wf.Artifact = artifact
	wf.UpdatedAt = time.Now().UTC()
	s.workflows[workflowID] = wf
	if wf.ProjectID != "" {
		if p, ok := s.projects[wf.ProjectID]; ok {
			p.Status = domain.StatusCompleted
			s.projects[wf.ProjectID] = p
		}
	}
	return nil
}

func (s *MemStore) RecordAuditReport(ctx context.Context, report domain.AuditReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	report.CreatedAt = time.Now().UTC()
	s.audits[report.WorkflowID] = append(s.audits[report.WorkflowID], report)
	return nil
}

func (s *MemStore) LatestAuditReport(ctx context.Context, workflowID string) (*domain.AuditReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reports := s.audits[workflowID]
	if len(reports) == 0 {
		return nil, nil
	}
	r := reports[len(reports)-1]
	return &r, nil
}

func (s *MemStore) IncrementReworkCycles(ctx context.Context, workflowID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rework[workflowID]++
	return s.rework[workflowID], nil
}

func (s *MemStore) GetReworkCycles(ctx context.Context, workflowID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rework[workflowID], nil
}

func (s *MemStore) ListResultsByWorkflow(ctx context.Context, workflowID string) ([]domain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Result, len(s.results[workflowID]))
	copy(out, s.results[workflowID])
	return out, nil
}

func (s *MemStore) AcquireLock(ctx context.Context, lock domain.FileLock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepExpiredLocksLocked(lock.Path, time.Now().UTC())
	for _, held := range s.locks[lock.Path] {
		if !domain.Compatible(held.Mode, lock.Mode) {
			return apperr.New(apperr.Conflict, "lock conflict on "+lock.Path)
		}
	}
	s.locks[lock.Path] = append(s.locks[lock.Path], lock)
	return nil
}

func (s *MemStore) ReleaseLock(ctx context.Context, path, holderWorker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLockedByPathHolder(path, holderWorker)
	return nil
}

func (s *MemStore) releaseLockedByPathHolder(path, holder string) {
	active := s.locks[path]
	out := active[:0]
	for _, l := range active {
		if l.HolderWorker != holder {
			out = append(out, l)
		}
	}
	s.locks[path] = out
}

func (s *MemStore) ReleaseAllLocks(ctx context.Context, holderWorker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for path := range s.locks {
		s.releaseLockedByPathHolder(path, holderWorker)
	}
	return nil
}

func (s *MemStore) ListLocks(ctx context.Context, path string) ([]domain.FileLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.FileLock, len(s.locks[path]))
	copy(out, s.locks[path])
	return out, nil
}

func (s *MemStore) sweepExpiredLocksLocked(path string, now time.Time) {
	active := s.locks[path]
	out := active[:0]
	for _, l := range active {
		if l.ExpiresAt.After(now) {
			out = append(out, l)
		}
	}
	s.locks[path] = out
}

func (s *MemStore) SweepExpiredLocks(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	swept := 0
	for path, active := range s.locks {
		kept := active[:0]
		for _, l := range active {
			if l.ExpiresAt.After(now) {
				kept = append(kept, l)
			} else {
				swept++
			}
		}
		s.locks[path] = kept
	}
	return swept, nil
}

func (s *MemStore) SweepExpiredClaims(ctx context.Context, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	swept := 0
	for wfID, tm := range s.tasks {
		for id, t := range tm {
			if t.Status == domain.TaskInProgress && t.ClaimedAt != nil && now.Sub(*t.ClaimedAt) > ttl {
				holder := t.ClaimedBy
				t.Status = domain.TaskReady
				t.ClaimedBy = ""
				t.ClaimedAt = nil
				t.UpdatedAt = now
				tm[id] = t
				swept++
				for path, active := range s.locks {
					kept := active[:0]
					for _, l := range active {
						if l.TaskStepID == id && l.HolderWorker == holder {
							continue
						}
						kept = append(kept, l)
					}
					s.locks[path] = kept
				}
			}
		}
		_ = wfID
	}
	return swept, nil
}

func (s *MemStore) ReleaseClaim(ctx context.Context, workflowID, stepID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tm, ok := s.tasks[workflowID]
	if !ok {
		return apperr.New(apperr.NotFound, "workflow not found")
	}
	t, ok := tm[stepID]
	if !ok {
		return apperr.New(apperr.NotFound, "task not found")
	}
	if t.Status != domain.TaskInProgress {
		return apperr.New(apperr.Conflict, "task is not claimed")
	}
	holder := t.ClaimedBy
	now := time.Now().UTC()
	t.Status = domain.TaskReady
	t.ClaimedBy = ""
	t.ClaimedAt = nil
	t.UpdatedAt = now
	tm[stepID] = t
	for path, active := range s.locks {
		kept := active[:0]
		for _, l := range active {
			if l.TaskStepID == stepID && l.HolderWorker == holder {
				continue
			}
			kept = append(kept, l)
		}
		s.locks[path] = kept
	}
	return nil
}

func (s *MemStore) Ping(ctx context.Context) error { return nil }
