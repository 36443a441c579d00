//go:build integration

package store

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coriolislabs/mcs/internal/domain"
)

// TestClaimNextReady_ExactlyOneWinner exercises scenario S1 against a real
// Postgres instance: a single READY task, M concurrent claimers, exactly
// one winner. Run with `go test -tags integration` and MCS_TEST_DATABASE_URL
// pointing at a disposable database.
func TestClaimNextReady_ExactlyOneWinner(t *testing.T) {
	dsn := os.Getenv("MCS_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("MCS_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, db, err := Connect(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()
	defer db.Close()
	require.NoError(t, Migrate(db))

	s := NewPostgresStore(pool)
	wf := domain.Workflow{WorkflowID: "wf-race", Name: "race", UserRequest: "race test"}
	tasks := []domain.Task{{StepID: "t1", Role: "analyst", Description: "solo ready task"}}
	_, _, err = s.CreateWorkflow(ctx, wf, tasks)
	require.NoError(t, err)

	const pollers = 16
	var wg sync.WaitGroup
	results := make([]*domain.Task, pollers)
	for i := 0; i < pollers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task, err := s.ClaimNextReady(ctx, "analyst", "worker-"+time.Now().String())
			require.NoError(t, err)
			results[i] = task
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, r := range results {
		if r != nil {
			wins++
		}
	}
	require.Equal(t, 1, wins, "exactly one poller must win the claim")
}
