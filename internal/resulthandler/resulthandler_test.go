package resulthandler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coriolislabs/mcs/internal/auditor"
	"github.com/coriolislabs/mcs/internal/domain"
	"github.com/coriolislabs/mcs/internal/lockmgr"
	"github.com/coriolislabs/mcs/internal/llmgateway"
	"github.com/coriolislabs/mcs/internal/scheduler"
	"github.com/coriolislabs/mcs/internal/store"
)

func setup(t *testing.T, auditResponses []string) (store.Store, *Handler, domain.Workflow) {
	t.Helper()
	db := store.NewMemStore()
	locks := lockmgr.New(db, time.Minute)
	sched := scheduler.New(db, locks)
	client := &llmgateway.FakeClient{Responses: auditResponses}
	aud := auditor.New(db, llmgateway.NewGateway(client, nil), 0.6, 2, 2)
	h := New(db, locks, sched, aud, 1)

	wf := domain.Workflow{WorkflowID: "wf-1", UserRequest: "build a thing"}
	tasks := []domain.Task{
		{StepID: "a", Role: "analyst"},
		{StepID: "b", Role: "developer", Dependencies: []string{"a"}},
	}
	createdWF, _, err := db.CreateWorkflow(context.Background(), wf, tasks)
	require.NoError(t, err)
	return db, h, createdWF
}

func TestHandler_StaleClaimRejected(t *testing.T) {
	db, h, _ := setup(t, nil)
	ctx := context.Background()

	claimed, err := db.ClaimNextReady(ctx, "analyst", "worker-1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	outcome, err := h.Handle(ctx, domain.Report{WorkflowID: "wf-1", StepID: "a", WorkerID: "worker-wrong", Status: domain.ReportCompleted})
	require.NoError(t, err)
	require.False(t, outcome.Accepted)
}

func TestHandler_CompletionAuditsAndFinalizes(t *testing.T) {
	db, h, _ := setup(t, []string{`{"is_successful":true,"feedback":"fine","confidence":0.9}`})
	ctx := context.Background()

	claimedA, err := db.ClaimNextReady(ctx, "analyst", "worker-1")
	require.NoError(t, err)
	outcome, err := h.Handle(ctx, domain.Report{WorkflowID: "wf-1", StepID: claimedA.StepID, WorkerID: "worker-1", Status: domain.ReportCompleted, FinalResult: "research done"})
	require.NoError(t, err)
	require.True(t, outcome.Accepted)
	require.Equal(t, domain.StatusInProgress, outcome.WorkflowStatus)

	claimedB, err := db.ClaimNextReady(ctx, "developer", "worker-2")
	require.NoError(t, err)
	require.NotNil(t, claimedB)

	outcome, err = h.Handle(ctx, domain.Report{WorkflowID: "wf-1", StepID: claimedB.StepID, WorkerID: "worker-2", Status: domain.ReportCompleted, FinalResult: "implementation done"})
	require.NoError(t, err)
	require.True(t, outcome.Accepted)
	require.Equal(t, domain.StatusCompleted, outcome.WorkflowStatus)

	wf, err := db.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Contains(t, wf.Artifact, "research done")
	require.Contains(t, wf.Artifact, "implementation done")
}

func TestHandler_RetryExhaustionFailsWorkflow(t *testing.T) {
	db := store.NewMemStore()
	locks := lockmgr.New(db, time.Minute)
	sched := scheduler.New(db, locks)
	aud := auditor.New(db, llmgateway.NewGateway(&llmgateway.FakeClient{}, nil), 0.6, 2, 2)
	h := New(db, locks, sched, aud, 1)
	ctx := context.Background()

	wf := domain.Workflow{WorkflowID: "wf-2"}
	_, _, err := db.CreateWorkflow(ctx, wf, []domain.Task{{StepID: "a", Role: "analyst"}})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		claimed, err := db.ClaimNextReady(ctx, "analyst", "worker-1")
		require.NoError(t, err)
		require.NotNil(t, claimed)
		outcome, err := h.Handle(ctx, domain.Report{WorkflowID: "wf-2", StepID: "a", WorkerID: "worker-1", Status: domain.ReportFailed})
		require.NoError(t, err)
		require.True(t, outcome.Accepted)
	}

	wf2, err := db.GetWorkflow(ctx, "wf-2")
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, wf2.Status)
}

func TestHandler_ReleasesLocksOnReport(t *testing.T) {
	db, h, _ := setup(t, nil)
	ctx := context.Background()
	locks := lockmgr.New(db, time.Minute)

	claimed, err := db.ClaimNextReady(ctx, "analyst", "worker-1")
	require.NoError(t, err)
	require.NoError(t, locks.Acquire(ctx, "a.go", domain.FileWrite, "worker-1", claimed.StepID))

	_, err = h.Handle(ctx, domain.Report{WorkflowID: "wf-1", StepID: claimed.StepID, WorkerID: "worker-1", Status: domain.ReportCompleted})
	require.NoError(t, err)

	active, err := locks.Active(ctx, "a.go")
	require.NoError(t, err)
	require.Empty(t, active)
}
