package lockmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coriolislabs/mcs/internal/apperr"
	"github.com/coriolislabs/mcs/internal/domain"
	"github.com/coriolislabs/mcs/internal/store"
)

func TestManager_AcquireAll_RollsBackOnConflict(t *testing.T) {
	db := store.NewMemStore()
	mgr := New(db, time.Minute)
	ctx := context.Background()

	require.NoError(t, mgr.Acquire(ctx, "b.go", domain.FileWrite, "worker-a", "step1"))

	err := mgr.AcquireAll(ctx, "step2", "worker-b", map[string]domain.FileMode{
		"a.go": domain.FileWrite,
		"b.go": domain.FileWrite,
	})
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.Conflict))

	locks, err := mgr.Active(ctx, "a.go")
	require.NoError(t, err)
	require.Empty(t, locks, "the a.go lease granted before the conflict must be rolled back")
}

func TestManager_ReadReadCompatible(t *testing.T) {
	db := store.NewMemStore()
	mgr := New(db, time.Minute)
	ctx := context.Background()

	require.NoError(t, mgr.Acquire(ctx, "a.go", domain.FileRead, "worker-a", "step1"))
	require.NoError(t, mgr.Acquire(ctx, "a.go", domain.FileRead, "worker-b", "step2"))

	locks, err := mgr.Active(ctx, "a.go")
	require.NoError(t, err)
	require.Len(t, locks, 2)
}

func TestManager_ReleaseAll(t *testing.T) {
	db := store.NewMemStore()
	mgr := New(db, time.Minute)
	ctx := context.Background()

	require.NoError(t, mgr.Acquire(ctx, "a.go", domain.FileWrite, "worker-a", "step1"))
	require.NoError(t, mgr.Acquire(ctx, "b.go", domain.FileWrite, "worker-a", "step1"))
	require.NoError(t, mgr.ReleaseAll(ctx, "worker-a"))

	locksA, _ := mgr.Active(ctx, "a.go")
	locksB, _ := mgr.Active(ctx, "b.go")
	require.Empty(t, locksA)
	require.Empty(t, locksB)
}

func TestManager_SweepExpired(t *testing.T) {
	db := store.NewMemStore()
	mgr := New(db, -time.Minute)
	ctx := context.Background()

	require.NoError(t, mgr.Acquire(ctx, "a.go", domain.FileWrite, "worker-a", "step1"))

	n, err := mgr.SweepExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	locks, _ := mgr.Active(ctx, "a.go")
	require.Empty(t, locks)
}
