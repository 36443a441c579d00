package auditor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coriolislabs/mcs/internal/domain"
	"github.com/coriolislabs/mcs/internal/llmgateway"
	"github.com/coriolislabs/mcs/internal/store"
)

func tasks() []domain.Task {
	return []domain.Task{
		{StepID: "a", Role: "analyst", Description: "research"},
		{StepID: "b", Role: "developer", Description: "implement", Dependencies: []string{"a"}},
	}
}

func TestAuditor_SuccessfulAboveThresholdFinalizes(t *testing.T) {
	db := store.NewMemStore()
	client := &llmgateway.FakeClient{Responses: []string{`{"is_successful":true,"feedback":"good","confidence":0.9}`}}
	a := New(db, llmgateway.NewGateway(client, nil), 0.6, 2, 3)

	v, err := a.Audit(context.Background(), "wf-1", "build a thing", tasks(), nil)
	require.NoError(t, err)
	require.True(t, v.Finalize)
}

func TestAuditor_FailureWithDirectivesReworks(t *testing.T) {
	db := store.NewMemStore()
	client := &llmgateway.FakeClient{Responses: []string{
		`{"is_successful":false,"feedback":"bad","confidence":0.9,"rework_directives":[{"step_id":"b","reason":"wrong","cascade":true}]}`,
	}}
	a := New(db, llmgateway.NewGateway(client, nil), 0.6, 2, 3)

	v, err := a.Audit(context.Background(), "wf-1", "build a thing", tasks(), nil)
	require.NoError(t, err)
	require.False(t, v.Finalize)
	require.Len(t, v.Directives, 1)
	require.Equal(t, "b", v.Directives[0].StepID)
}

func TestAuditor_UnknownStepIDsDiscardedDegradesToSuccess(t *testing.T) {
	db := store.NewMemStore()
	client := &llmgateway.FakeClient{Responses: []string{
		`{"is_successful":false,"feedback":"bad","confidence":0.9,"rework_directives":[{"step_id":"ghost","reason":"wrong"}]}`,
	}}
	a := New(db, llmgateway.NewGateway(client, nil), 0.6, 2, 3)

	v, err := a.Audit(context.Background(), "wf-1", "build a thing", tasks(), nil)
	require.NoError(t, err)
	require.True(t, v.Finalize)
}

func TestAuditor_ReworkCycleBoundForcesFinalize(t *testing.T) {
	db := store.NewMemStore()
	for i := 0; i < 2; i++ {
		_, err := db.IncrementReworkCycles(context.Background(), "wf-1")
		require.NoError(t, err)
	}
	client := &llmgateway.FakeClient{Responses: []string{
		`{"is_successful":false,"feedback":"bad","confidence":0.9,"rework_directives":[{"step_id":"b","reason":"wrong"}]}`,
	}}
	a := New(db, llmgateway.NewGateway(client, nil), 0.6, 2, 3)

	v, err := a.Audit(context.Background(), "wf-1", "build a thing", tasks(), nil)
	require.NoError(t, err)
	require.True(t, v.Finalize, "rework cycle bound reached must force finalize regardless of verdict")
}

func TestAuditor_GatewayExhaustionFinalizesOptimistically(t *testing.T) {
	db := store.NewMemStore()
	client := &llmgateway.FakeClient{Responses: []string{"not json", "still not json"}}
	a := New(db, llmgateway.NewGateway(client, nil), 0.6, 2, 2)

	v, err := a.Audit(context.Background(), "wf-1", "build a thing", tasks(), nil)
	require.NoError(t, err)
	require.True(t, v.Finalize)
	require.Equal(t, float64(0), v.Report.Confidence)
}
