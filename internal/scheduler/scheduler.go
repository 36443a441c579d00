// Package scheduler implements workflow promotion and task dispatch: both
// are request-triggered operations invoked synchronously from request
// handlers, not a background loop. Promotion runs when a result is reported
// (and after an audit reset); dispatch runs on a worker poll and claims only
// tasks that are already READY.
package scheduler

import (
	"context"

	"github.com/coriolislabs/mcs/internal/domain"
	"github.com/coriolislabs/mcs/internal/lockmgr"
	"github.com/coriolislabs/mcs/internal/store"
)

// Scheduler promotes PENDING tasks to READY and dispatches READY tasks to
// polling workers, both as thin wrappers over the Store's atomic primitives.
type Scheduler struct {
	db    store.Store
	locks *lockmgr.Manager
}

// New constructs a Scheduler. locks is used by Dispatch to acquire a
// claimed task's declared file leases before handing it to the worker.
func New(db store.Store, locks *lockmgr.Manager) *Scheduler {
	return &Scheduler{db: db, locks: locks}
}

// Promote runs one promotion pass over workflowID: every PENDING task whose
// dependencies are all COMPLETED becomes READY. Returns the count promoted.
func (s *Scheduler) Promote(ctx context.Context, workflowID string) (int, error) {
	return s.db.PromoteReady(ctx, workflowID)
}

// Dispatch claims the oldest READY task matching role for workerID, then
// acquires every file lease the task declares before returning it — a
// worker never receives a task it can't immediately act on. If any
// declared lease conflicts with one already held, the claim is rolled back
// to READY and Dispatch reports no task available rather than surfacing a
// lock error to the poller, so the task is retried by whichever worker
// polls next. Running a promotion pass on every workflow would be wasteful
// at scale, so Dispatch relies on the caller (submit/report handlers)
// having already promoted the workflows whose state they just changed.
// Returns nil when nothing is available.
func (s *Scheduler) Dispatch(ctx context.Context, role, workerID string) (*domain.Task, error) {
	task, err := s.db.ClaimNextReady(ctx, role, workerID)
	if err != nil || task == nil {
		return task, err
	}
	if err := s.locks.AcquireAll(ctx, task.StepID, workerID, task.FileDependencies); err != nil {
		if releaseErr := s.db.ReleaseClaim(ctx, task.WorkflowID, task.StepID); releaseErr != nil {
			return nil, releaseErr
		}
		return nil, nil
	}
	return task, nil
}
