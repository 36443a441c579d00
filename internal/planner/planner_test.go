package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/coriolislabs/mcs/internal/domain"
	"github.com/coriolislabs/mcs/internal/llmgateway"
	"github.com/coriolislabs/mcs/internal/store"
)

var roles = map[string]bool{"analyst": true, "developer": true}

func TestPlanner_ValidPlanPersisted(t *testing.T) {
	db := store.NewMemStore()
	client := &llmgateway.FakeClient{Responses: []string{
		`[{"step_id":"a","description":"research","role":"analyst","dependencies":[]},` +
			`{"step_id":"b","description":"implement","role":"developer","dependencies":["a"]}]`,
	}}
	gw := llmgateway.NewGateway(client, nil)
	p := New(db, gw, roles, 3)

	wf, tasks, err := p.Plan(context.Background(), "build a thing", "", nil)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	require.Equal(t, domain.TaskReady, mustFind(tasks, "a").Status)
	require.Equal(t, domain.TaskPending, mustFind(tasks, "b").Status)
	require.NotEmpty(t, wf.WorkflowID)
}

func TestPlanner_InvalidRoleFallsBack(t *testing.T) {
	db := store.NewMemStore()
	client := &llmgateway.FakeClient{Responses: []string{
		`[{"step_id":"a","description":"research","role":"unknown-role"}]`,
	}}
	gw := llmgateway.NewGateway(client, nil)
	p := New(db, gw, roles, 1)

	_, tasks, err := p.Plan(context.Background(), "build a thing", "", nil)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Contains(t, roles, tasks[0].Role)
}

func TestPlanner_GatewayExhaustionFallsBack(t *testing.T) {
	db := store.NewMemStore()
	client := &llmgateway.FakeClient{Responses: []string{"not json", "still not json"}}
	gw := llmgateway.NewGateway(client, nil)
	p := New(db, gw, roles, 2)

	wf, tasks, err := p.Plan(context.Background(), "build a thing", "proj-1", nil)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, domain.TaskReady, tasks[0].Status)
	require.Equal(t, "proj-1", wf.ProjectID)
}

func TestDeriveName_SanitizesAndLowercases(t *testing.T) {
	require.Equal(t, "build_a_rest_api", deriveName("Build a REST API"))
}

func TestPlanner_WorkflowNameOverride(t *testing.T) {
	db := store.NewMemStore()
	client := &llmgateway.FakeClient{Responses: []string{
		`[{"step_id":"a","description":"research","role":"analyst"}]`,
	}}
	gw := llmgateway.NewGateway(client, nil)
	p := New(db, gw, roles, 1)

	wf, _, err := p.Plan(context.Background(), "build a thing", "", map[string]interface{}{"workflow_name": "custom-name"})
	require.NoError(t, err)
	require.Equal(t, "custom-name", wf.Name)
}

func mustFind(tasks []domain.Task, stepID string) domain.Task {
	for _, t := range tasks {
		if t.StepID == stepID {
			return t
		}
	}
	return domain.Task{}
}
