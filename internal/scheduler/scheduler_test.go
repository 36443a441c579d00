package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coriolislabs/mcs/internal/domain"
	"github.com/coriolislabs/mcs/internal/lockmgr"
	"github.com/coriolislabs/mcs/internal/store"
)

func TestScheduler_PromoteThenDispatch(t *testing.T) {
	db := store.NewMemStore()
	ctx := context.Background()

	wf := domain.Workflow{WorkflowID: "wf-1"}
	tasks := []domain.Task{
		{StepID: "a", Role: "analyst"},
		{StepID: "b", Role: "developer", Dependencies: []string{"a"}},
	}
	_, _, err := db.CreateWorkflow(ctx, wf, tasks)
	require.NoError(t, err)

	sch := New(db, lockmgr.New(db, time.Minute))

	claimed, err := sch.Dispatch(ctx, "analyst", "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, "a", claimed.StepID)

	_, err = db.RecordResult(ctx, domain.Report{WorkflowID: "wf-1", StepID: "a", WorkerID: "worker-1", Status: domain.ReportCompleted}, domain.Result{}, domain.TaskCompleted, 2)
	require.NoError(t, err)

	n, err := sch.Promote(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	claimed, err = sch.Dispatch(ctx, "developer", "worker-2")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, "b", claimed.StepID)
}

func TestScheduler_DispatchEmptyReturnsNil(t *testing.T) {
	db := store.NewMemStore()
	sch := New(db, lockmgr.New(db, time.Minute))
	claimed, err := sch.Dispatch(context.Background(), "analyst", "worker-1")
	require.NoError(t, err)
	require.Nil(t, claimed)
}

func TestScheduler_DispatchAcquiresDeclaredFileLocks(t *testing.T) {
	db := store.NewMemStore()
	ctx := context.Background()
	locks := lockmgr.New(db, time.Minute)
	sch := New(db, locks)

	wf := domain.Workflow{WorkflowID: "wf-2"}
	tasks := []domain.Task{
		{StepID: "a", Role: "analyst", FileDependencies: map[string]domain.FileMode{"src/a.go": domain.FileWrite}},
	}
	_, _, err := db.CreateWorkflow(ctx, wf, tasks)
	require.NoError(t, err)

	claimed, err := sch.Dispatch(ctx, "analyst", "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	held, err := locks.Active(ctx, "src/a.go")
	require.NoError(t, err)
	require.Len(t, held, 1)
	require.Equal(t, "worker-1", held[0].HolderWorker)
}

func TestScheduler_DispatchRollsBackClaimOnLockConflict(t *testing.T) {
	db := store.NewMemStore()
	ctx := context.Background()
	locks := lockmgr.New(db, time.Minute)
	sch := New(db, locks)

	wf := domain.Workflow{WorkflowID: "wf-3"}
	tasks := []domain.Task{
		{StepID: "a", Role: "analyst", FileDependencies: map[string]domain.FileMode{"src/a.go": domain.FileExclusive}},
	}
	_, _, err := db.CreateWorkflow(ctx, wf, tasks)
	require.NoError(t, err)

	require.NoError(t, locks.Acquire(ctx, "src/a.go", domain.FileWrite, "other-worker", "unrelated-task"))

	claimed, err := sch.Dispatch(ctx, "analyst", "worker-1")
	require.NoError(t, err)
	require.Nil(t, claimed)

	task, err := db.GetTask(ctx, "wf-3", "a")
	require.NoError(t, err)
	require.Equal(t, domain.TaskReady, task.Status)
	require.Empty(t, task.ClaimedBy)
}
