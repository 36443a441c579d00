// Package lockmgr grants and releases file-scoped access leases with a
// read/write/exclusive compatibility matrix. Acquire never blocks — a
// conflict is returned immediately and the caller retries after backoff on
// its own schedule, avoiding head-of-line blocking inside the API. Expiry
// sweeping runs on a periodic tick as well as opportunistically on every
// acquire of the same path.
package lockmgr

import (
	"context"
	"time"

	"github.com/coriolislabs/mcs/internal/domain"
	"github.com/coriolislabs/mcs/internal/store"
)

// Manager is a thin policy layer over the Store's FileLock primitives: it
// computes lease expiry and exposes acquire/release/sweep as methods.
type Manager struct {
	db  store.Store
	ttl time.Duration
}

// New constructs a Manager with the configured default lease TTL.
func New(db store.Store, ttl time.Duration) *Manager {
	return &Manager{db: db, ttl: ttl}
}

// Acquire grants a lease on path in mode to holderWorker for taskStepID, or
// returns apperr.Conflict if the active set on path is incompatible.
func (m *Manager) Acquire(ctx context.Context, path string, mode domain.FileMode, holderWorker, taskStepID string) error {
	now := time.Now().UTC()
	lock := domain.FileLock{
		Path:         path,
		HolderWorker: holderWorker,
		TaskStepID:   taskStepID,
		Mode:         mode,
		AcquiredAt:   now,
		ExpiresAt:    now.Add(m.ttl),
	}
	return m.db.AcquireLock(ctx, lock)
}

// Release drops holderWorker's lease on path, if any.
func (m *Manager) Release(ctx context.Context, path, holderWorker string) error {
	return m.db.ReleaseLock(ctx, path, holderWorker)
}

// ReleaseAll drops every lease held by holderWorker — called by the Result
// Handler on task completion so a worker never carries a lease past its task.
func (m *Manager) ReleaseAll(ctx context.Context, holderWorker string) error {
	return m.db.ReleaseAllLocks(ctx, holderWorker)
}

// Active lists the leases currently held on path, for introspection.
func (m *Manager) Active(ctx context.Context, path string) ([]domain.FileLock, error) {
	return m.db.ListLocks(ctx, path)
}

// SweepExpired removes every lease past its expires_at. Called on a
// periodic tick and, at the Store layer, on every acquire of the same path.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	return m.db.SweepExpiredLocks(ctx, time.Now().UTC())
}

// AcquireAll acquires every file dependency a task declares, releasing any
// already-granted leases and returning the first conflict encountered —
// an all-or-nothing acquisition so a task never runs holding a partial
// set of its declared leases.
func (m *Manager) AcquireAll(ctx context.Context, taskStepID, holderWorker string, deps map[string]domain.FileMode) error {
	granted := make([]string, 0, len(deps))
	for path, mode := range deps {
		if err := m.Acquire(ctx, path, mode, holderWorker, taskStepID); err != nil {
			for _, g := range granted {
				_ = m.Release(ctx, g, holderWorker)
			}
			return err
		}
		granted = append(granted, path)
	}
	return nil
}
