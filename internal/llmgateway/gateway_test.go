package llmgateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGateway_RetriesOnValidationFailure(t *testing.T) {
	client := &FakeClient{Responses: []string{"not json", `[{"step_id":"a","description":"d","role":"analyst"}]`}}
	g := NewGateway(client, nil)
	raw, err := g.Generate(context.Background(), "sys", "user", 3, PlanValidator())
	require.NoError(t, err)
	require.Contains(t, raw, "step_id")
	require.Equal(t, 2, client.Calls())
}

func TestGateway_ExhaustsAndFails(t *testing.T) {
	client := &FakeClient{Responses: []string{"not json", "still not json"}}
	g := NewGateway(client, nil)
	_, err := g.Generate(context.Background(), "sys", "user", 2, PlanValidator())
	require.ErrorIs(t, err, ErrSchemaFailure)
	require.Equal(t, 2, client.Calls())
}

func TestParseAudit_ConfidenceOutOfRange(t *testing.T) {
	_, err := ParseAudit(`{"is_successful":true,"confidence":1.5}`)
	require.Error(t, err)
}
